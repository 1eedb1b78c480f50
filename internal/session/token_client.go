package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/travai/travai/internal/models"
)

// DefaultTokenTimeout bounds a single token request.
const DefaultTokenTimeout = 10 * time.Second

// TokenPath is the backend route that mints access tokens.
const TokenPath = "/api/token"

// ConnectionError is what callers see when a session cannot be set up.
// Remediation is a sentence meant for the person holding the device.
type ConnectionError struct {
	Op          string
	Status      int // HTTP status, zero when the server was not reached
	Cause       error
	Remediation string
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// TokenClientOpts holds configuration for a TokenClient.
type TokenClientOpts struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

// TokenClientOption defines a configuration option for a TokenClient.
type TokenClientOption func(*TokenClientOpts)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) TokenClientOption {
	return func(o *TokenClientOpts) { o.HTTPClient = c }
}

// WithTokenTimeout overrides DefaultTokenTimeout.
func WithTokenTimeout(d time.Duration) TokenClientOption {
	return func(o *TokenClientOpts) { o.Timeout = d }
}

// TokenClient requests access tokens from the backend.
type TokenClient struct {
	baseURL string
	http    *http.Client
}

// NewTokenClient creates a TokenClient for the backend at baseURL.
func NewTokenClient(baseURL string, opts ...TokenClientOption) *TokenClient {
	cfg := TokenClientOpts{Timeout: DefaultTokenTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &TokenClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    cfg.HTTPClient,
	}
}

// BaseURL returns the backend address the client talks to.
func (c *TokenClient) BaseURL() string {
	return c.baseURL
}

// Fetch requests a token for req. All failures are *ConnectionError.
func (c *TokenClient) Fetch(ctx context.Context, req models.TokenRequest) (*models.TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, &ConnectionError{
			Op:          "fetch token",
			Cause:       err,
			Remediation: "Enter a room name and a participant name before connecting.",
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ConnectionError{Op: "fetch token", Cause: err, Remediation: "Try again."}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TokenPath, bytes.NewReader(body))
	if err != nil {
		return nil, &ConnectionError{
			Op:          "fetch token",
			Cause:       err,
			Remediation: fmt.Sprintf("Check the backend address %q.", c.baseURL),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("TokenClient.Fetch", "url", c.baseURL+TokenPath, "room", req.RoomName)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Warn("TokenClient.Fetch: backend unreachable", "url", c.baseURL, "error", err)
		return nil, &ConnectionError{
			Op:    "fetch token",
			Cause: err,
			Remediation: fmt.Sprintf("Could not reach the backend at %s. Make sure the server is running "+
				"and reachable from this device (a phone cannot reach localhost on your computer).", c.baseURL),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ConnectionError{Op: "fetch token", Status: resp.StatusCode, Cause: err, Remediation: "Try again."}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(raw)
		slog.Warn("TokenClient.Fetch: backend rejected request", "status", resp.StatusCode, "message", msg)
		return nil, &ConnectionError{
			Op:          "fetch token",
			Status:      resp.StatusCode,
			Cause:       errors.New(msg),
			Remediation: remediationFor(resp.StatusCode),
		}
	}

	var out models.TokenResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Token == "" {
		if err == nil {
			err = errors.New("response has no token")
		}
		return nil, &ConnectionError{
			Op:          "fetch token",
			Status:      resp.StatusCode,
			Cause:       err,
			Remediation: "The backend answered with an unexpected response. Check that the address points at the Travai backend.",
		}
	}
	return &out, nil
}

// serverMessage pulls the human-readable error out of a response body,
// accepting both the API envelope and a bare {"detail": ...} object.
func serverMessage(raw []byte) string {
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"message", "detail", "error"} {
			if v := gjson.GetBytes(raw, path); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "empty response"
	}
	return msg
}

func remediationFor(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "The backend does not serve " + TokenPath + ". Check the backend address."
	case status >= 400 && status < 500:
		return "Check the room name and participant name, then try again."
	default:
		return "The backend failed to create a token. Check that LIVEKIT_API_KEY and LIVEKIT_API_SECRET are set on the server."
	}
}
