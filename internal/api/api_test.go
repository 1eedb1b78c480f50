package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/travai/travai/internal/livekit"
	"github.com/travai/travai/internal/models"
	"github.com/travai/travai/internal/store"
)

const (
	testAPIKey    = "APIkey123"
	testAPISecret = "secret-that-is-long-enough-for-hs256"
	testWebhook   = "whsec_test"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	base := []Option{
		WithTokenIssuer(livekit.NewTokenIssuer(livekit.WithCredentials(testAPIKey, testAPISecret), livekit.WithURL("wss://travai.livekit.cloud"))),
	}
	s := NewServer(st, append(base, opts...)...)
	t.Cleanup(s.Close)
	return s, st
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestRootAndHealth(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d", rec.Code)
	}
	var info serviceInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Status != "ok" || info.Service != "Travai Backend" || info.Version != "1.0.0" || info.Timestamp.IsZero() {
		t.Errorf("unexpected banner %+v", info)
	}

	rec = do(t, h, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"healthy"}` {
		t.Errorf("GET /health = %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/nope", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestTokenHandler(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/token", []byte(`{"room_name":"onboarding-1","participant_name":"alice"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL != "wss://travai.livekit.cloud" {
		t.Errorf("unexpected url %q", resp.URL)
	}
	claims, err := s.issuer.Verify(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Room() != "onboarding-1" || claims.Identity() != "alice" {
		t.Errorf("unexpected claims room=%q identity=%q", claims.Room(), claims.Identity())
	}

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing room", `{"participant_name":"alice"}`, http.StatusBadRequest},
		{"missing participant", `{"room_name":"r"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/token", []byte(tt.body), nil)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if resp := decodeAPIResponse(t, rec); resp.Status != string(models.APIStatusError) || resp.Message == "" {
				t.Errorf("unexpected error body %+v", resp)
			}
		})
	}
}

func TestTokenHandlerWithoutCredentials(t *testing.T) {
	s := NewServer(store.NewInMemoryStore())
	defer s.Close()

	rec := do(t, s.Handler(), http.MethodPost, "/api/token", []byte(`{"room_name":"r","participant_name":"p"}`), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decodeAPIResponse(t, rec)
	want := "LiveKit credentials not configured. Set LIVEKIT_API_KEY and LIVEKIT_API_SECRET environment variables."
	if resp.Message != want {
		t.Errorf("message = %q, want %q", resp.Message, want)
	}
}

func TestWebhookHandlerUnverified(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/webhooks/livekit", []byte(`{"event":"room_started","room":{"name":"r1"}}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"ok","event":"room_started"}` {
		t.Errorf("unexpected ack %s", got)
	}
	events, _ := st.ListWebhookEvents("r1", 0)
	if len(events) != 1 || events[0].Event != models.EventRoomStarted {
		t.Errorf("event not stored: %+v", events)
	}

	rec = do(t, h, http.MethodPost, "/api/webhooks/livekit", []byte(`not json`), nil)
	if rec.Code != http.StatusBadRequest || decodeAPIResponse(t, rec).Message != "Invalid JSON payload" {
		t.Errorf("expected 400 Invalid JSON payload, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookHandlerVerified(t *testing.T) {
	s, _ := newTestServer(t, WithWebhookReceiver(livekit.NewWebhookReceiver(livekit.WithWebhookSecret(testWebhook))))
	h := s.Handler()
	body := []byte(`{"event":"participant_joined","room":{"name":"r2"},"participant":{"identity":"alice"}}`)

	tests := []struct {
		name    string
		header  map[string]string
		code    int
		message string
	}{
		{"missing header", nil, http.StatusUnauthorized, "Missing authorization header"},
		{"bad signature", map[string]string{"Authorization": livekit.SignHMAC(body, "wrong")}, http.StatusUnauthorized, "Invalid webhook signature"},
		{"valid", map[string]string{"Authorization": livekit.SignHMAC(body, testWebhook)}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/webhooks/livekit", body, tt.header)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if tt.message != "" {
				if got := decodeAPIResponse(t, rec).Message; got != tt.message {
					t.Errorf("message = %q, want %q", got, tt.message)
				}
			}
		})
	}
}

func TestWebhookRoomFinishedEvictsSession(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/onboarding/sessions", []byte(`{"session_id":"room-z"}`), nil); rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d", rec.Code)
	}
	if s.Registry().Len() != 1 {
		t.Fatal("expected one active session")
	}
	rec := do(t, h, http.MethodPost, "/api/webhooks/livekit", []byte(`{"event":"room_finished","room":{"name":"room-z"}}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	if s.Registry().Len() != 0 {
		t.Error("room_finished should evict the session from memory")
	}
	// Persisted state brings it back on demand.
	if rec := do(t, h, http.MethodGet, "/api/onboarding/sessions/room-z", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("expected evicted session to be restorable, got %d", rec.Code)
	}
}

func TestWebhookRedeliveryIsAcknowledged(t *testing.T) {
	sqlite, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "travai.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer sqlite.Close()
	memory := store.NewInMemoryStore()

	body := []byte(`{"id":"EV_abc","event":"room_finished","room":{"name":"room-r"}}`)
	for name, st := range map[string]store.Store{"sqlite": sqlite, "memory": memory} {
		t.Run(name, func(t *testing.T) {
			s := NewServer(st, WithTokenIssuer(livekit.NewTokenIssuer(livekit.WithCredentials(testAPIKey, testAPISecret))))
			defer s.Close()
			h := s.Handler()

			for i := 0; i < 2; i++ {
				rec := do(t, h, http.MethodPost, "/api/webhooks/livekit", body, nil)
				if rec.Code != http.StatusOK {
					t.Fatalf("delivery %d: expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
				}
			}
			events, err := st.ListWebhookEvents("room-r", 0)
			if err != nil {
				t.Fatalf("ListWebhookEvents: %v", err)
			}
			if len(events) != 1 || events[0].ID != "EV_abc" {
				t.Errorf("expected a single stored event, got %+v", events)
			}
		})
	}
}

func TestWebhookHandlerRejectsOversizedBody(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()

	padding := strings.Repeat("x", maxWebhookBytes)
	body := []byte(`{"event":"room_started","room":{"name":"big","metadata":"` + padding + `"}}`)
	rec := do(t, h, http.MethodPost, "/api/webhooks/livekit", body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if msg := decodeAPIResponse(t, rec).Message; msg != "Webhook payload is too large" {
		t.Errorf("unexpected message %q", msg)
	}
	if events, _ := st.ListWebhookEvents("big", 0); len(events) != 0 {
		t.Errorf("oversized delivery should not be stored, got %+v", events)
	}
}

func TestListWebhookEventsHandler(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	for _, body := range []string{
		`{"event":"room_started","room":{"name":"a"}}`,
		`{"event":"participant_joined","room":{"name":"a"}}`,
		`{"event":"room_started","room":{"name":"b"}}`,
	} {
		do(t, h, http.MethodPost, "/api/webhooks/livekit", []byte(body), nil)
	}

	rec := do(t, h, http.MethodGet, "/api/webhooks/events?room=a&limit=1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string                `json:"status"`
		Result []models.WebhookEvent `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result) != 1 || resp.Result[0].Event != models.EventParticipantJoined {
		t.Errorf("expected newest event for room a, got %+v", resp.Result)
	}

	if rec := do(t, h, http.MethodGet, "/api/webhooks/events?limit=zero", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/token", []byte(`{"room_name":"r","participant_name":"p"}`), nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"travai_tokens_issued_total", `route="POST /api/token"`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
