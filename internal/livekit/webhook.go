package livekit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/travai/travai/internal/models"
)

var (
	// ErrMissingAuthorization is returned when a secret is configured but no header was sent.
	ErrMissingAuthorization = errors.New("Missing authorization header")
	// ErrInvalidSignature is returned when the header does not match the body.
	ErrInvalidSignature = errors.New("Invalid webhook signature")
	// ErrInvalidPayload is returned when the body is not a JSON document.
	ErrInvalidPayload = errors.New("Invalid JSON payload")
)

const hmacPrefix = "sha256="

// WebhookReceiver authenticates and decodes webhook deliveries.
type WebhookReceiver struct {
	webhookSecret string
	apiKey        string
	apiSecret     string
	now           func() time.Time
}

// WebhookOption defines a configuration option for WebhookReceiver.
type WebhookOption func(*WebhookReceiver)

// WithWebhookSecret enables verification of "sha256=<hex>" HMAC signatures.
func WithWebhookSecret(secret string) WebhookOption {
	return func(r *WebhookReceiver) { r.webhookSecret = secret }
}

// WithAPICredentials enables verification of platform-signed JWT headers.
func WithAPICredentials(apiKey, apiSecret string) WebhookOption {
	return func(r *WebhookReceiver) {
		r.apiKey = apiKey
		r.apiSecret = apiSecret
	}
}

// WithWebhookClock overrides the time source, for tests.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(r *WebhookReceiver) { r.now = now }
}

// NewWebhookReceiver creates a WebhookReceiver.
func NewWebhookReceiver(opts ...WebhookOption) *WebhookReceiver {
	r := &WebhookReceiver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VerificationEnabled reports whether deliveries must carry a valid signature.
func (r *WebhookReceiver) VerificationEnabled() bool {
	return r.webhookSecret != ""
}

// Receive verifies the delivery and flattens it into a WebhookEvent.
// With no webhook secret configured, signatures are not checked.
func (r *WebhookReceiver) Receive(body []byte, authHeader string) (*models.WebhookEvent, error) {
	if r.VerificationEnabled() {
		if strings.TrimSpace(authHeader) == "" {
			return nil, ErrMissingAuthorization
		}
		if err := r.verify(body, strings.TrimSpace(authHeader)); err != nil {
			slog.Warn("WebhookReceiver.Receive: signature rejected", "error", err)
			return nil, ErrInvalidSignature
		}
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidPayload
	}
	return r.parse(body), nil
}

func (r *WebhookReceiver) verify(body []byte, header string) error {
	if sig, ok := hmacSignature(header); ok {
		return verifyHMAC(body, sig, r.webhookSecret)
	}
	return r.verifyJWT(body, strings.TrimPrefix(header, "Bearer "))
}

// hmacSignature extracts the hex digest from "sha256=<hex>" or a bare 64-char hex header.
func hmacSignature(header string) (string, bool) {
	if strings.HasPrefix(header, hmacPrefix) {
		return strings.TrimPrefix(header, hmacPrefix), true
	}
	if len(header) == sha256.Size*2 {
		if _, err := hex.DecodeString(header); err == nil {
			return header, true
		}
	}
	return "", false
}

func verifyHMAC(body []byte, received, secret string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(received))) {
		return errors.New("hmac mismatch")
	}
	return nil
}

func (r *WebhookReceiver) verifyJWT(body []byte, token string) error {
	if r.apiKey == "" || r.apiSecret == "" {
		return ErrCredentialsNotConfigured
	}
	claims, err := parseClaims(token, r.apiKey, r.apiSecret, r.now)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}
	sum := sha256.Sum256(body)
	if claims.Sha256 != base64.StdEncoding.EncodeToString(sum[:]) {
		return errors.New("body hash mismatch")
	}
	return nil
}

// SignHMAC returns the "sha256=<hex>" header value for body.
func SignHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmacPrefix + hex.EncodeToString(mac.Sum(nil))
}

func (r *WebhookReceiver) parse(body []byte) *models.WebhookEvent {
	res := gjson.ParseBytes(body)
	evt := &models.WebhookEvent{
		ID:                  res.Get("id").String(),
		Event:               models.WebhookEventType(res.Get("event").String()),
		RoomName:            res.Get("room.name").String(),
		RoomDuration:        res.Get("room.duration").Int(),
		ParticipantIdentity: res.Get("participant.identity").String(),
		ParticipantName:     res.Get("participant.name").String(),
		TrackType:           res.Get("track.type").String(),
		RecordingLocation:   res.Get("egressInfo.file.location").String(),
		Raw:                 res.Raw,
		ReceivedAt:          r.now().UTC(),
	}
	if evt.RoomName == "" {
		evt.RoomName = res.Get("egressInfo.roomName").String()
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	return evt
}
