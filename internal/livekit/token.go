// Package livekit mints access tokens for the media platform and verifies
// the webhooks it delivers.
package livekit

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/travai/travai/internal/models"
)

// DefaultTokenTTL is how long an issued access token stays valid.
const DefaultTokenTTL = 6 * time.Hour

// DefaultURL is the placeholder server URL used when none is configured.
const DefaultURL = "wss://your-project.livekit.cloud"

// ErrCredentialsNotConfigured is returned when the API key or secret is missing.
var ErrCredentialsNotConfigured = errors.New("LiveKit credentials not configured. Set LIVEKIT_API_KEY and LIVEKIT_API_SECRET environment variables.")

// ErrInvalidToken is returned by Verify for tokens that fail validation.
var ErrInvalidToken = errors.New("invalid access token")

// VideoGrant is the room permission block embedded in an access token.
type VideoGrant struct {
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	Room           string `json:"room,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
}

// AccessClaims are the JWT claims understood by the media server.
type AccessClaims struct {
	jwt.RegisteredClaims
	Name     string      `json:"name,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
	Video    *VideoGrant `json:"video,omitempty"`
	Sha256   string      `json:"sha256,omitempty"`
}

// Identity returns the participant identity carried in the token.
func (c *AccessClaims) Identity() string {
	return c.Subject
}

// Room returns the room the token grants access to, if any.
func (c *AccessClaims) Room() string {
	if c.Video == nil {
		return ""
	}
	return c.Video.Room
}

// TokenIssuerOpts holds configuration for a TokenIssuer.
type TokenIssuerOpts struct {
	APIKey    string
	APISecret string
	URL       string
	TTL       time.Duration
	Now       func() time.Time
}

// TokenIssuerOption defines a configuration option for TokenIssuer.
type TokenIssuerOption func(*TokenIssuerOpts)

// WithCredentials sets the API key and secret.
func WithCredentials(apiKey, apiSecret string) TokenIssuerOption {
	return func(o *TokenIssuerOpts) {
		o.APIKey = apiKey
		o.APISecret = apiSecret
	}
}

// WithURL sets the server URL returned alongside issued tokens.
func WithURL(url string) TokenIssuerOption {
	return func(o *TokenIssuerOpts) { o.URL = url }
}

// WithTTL overrides DefaultTokenTTL.
func WithTTL(ttl time.Duration) TokenIssuerOption {
	return func(o *TokenIssuerOpts) { o.TTL = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) TokenIssuerOption {
	return func(o *TokenIssuerOpts) { o.Now = now }
}

// TokenIssuer mints and verifies access tokens.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	url       string
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. Missing credentials are not an error
// here; Issue reports them so the server can still start.
func NewTokenIssuer(opts ...TokenIssuerOption) *TokenIssuer {
	cfg := TokenIssuerOpts{URL: DefaultURL, TTL: DefaultTokenTTL, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenIssuer{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		url:       cfg.URL,
		ttl:       cfg.TTL,
		now:       cfg.Now,
	}
}

// Configured reports whether both API key and secret are set.
func (ti *TokenIssuer) Configured() bool {
	return ti.apiKey != "" && ti.apiSecret != ""
}

// URL returns the server URL clients should connect to.
func (ti *TokenIssuer) URL() string {
	return ti.url
}

// Issue mints a room-join token for the requested participant.
func (ti *TokenIssuer) Issue(req models.TokenRequest) (*models.TokenResponse, error) {
	if !ti.Configured() {
		return nil, ErrCredentialsNotConfigured
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := ti.now()
	allow := true
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.apiKey,
			Subject:   req.ParticipantName,
			ID:        req.ParticipantName,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
		Name:     req.ParticipantName,
		Metadata: req.Metadata,
		Video: &VideoGrant{
			RoomJoin:       true,
			Room:           req.RoomName,
			CanPublish:     &allow,
			CanSubscribe:   &allow,
			CanPublishData: &allow,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(ti.apiSecret))
	if err != nil {
		slog.Error("TokenIssuer.Issue: signing failed", "error", err, "room", req.RoomName)
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	slog.Debug("TokenIssuer.Issue: token issued", "room", req.RoomName, "identity", req.ParticipantName, "expires", now.Add(ti.ttl))
	return &models.TokenResponse{Token: signed, URL: ti.url}, nil
}

// Verify parses a token signed with this issuer's secret and returns its claims.
func (ti *TokenIssuer) Verify(token string) (*AccessClaims, error) {
	if !ti.Configured() {
		return nil, ErrCredentialsNotConfigured
	}
	claims, err := parseClaims(token, ti.apiKey, ti.apiSecret, ti.now)
	if err != nil {
		slog.Debug("TokenIssuer.Verify: rejected token", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// parseClaims validates signature, issuer and time bounds of an HS256 token.
func parseClaims(token, apiKey, apiSecret string, now func() time.Time) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(apiSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(apiKey),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
