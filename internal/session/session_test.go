package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/travai/travai/internal/models"
)

func TestTokenClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != TokenPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req models.TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(models.TokenResponse{Token: "tok-" + req.ParticipantName, URL: "wss://example.livekit.cloud"})
	}))
	defer srv.Close()

	c := NewTokenClient(srv.URL + "/")
	resp, err := c.Fetch(context.Background(), models.TokenRequest{RoomName: "room", ParticipantName: "alice"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Token != "tok-alice" || resp.URL != "wss://example.livekit.cloud" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestTokenClientServerError(t *testing.T) {
	const msg = "LiveKit credentials not configured. Set LIVEKIT_API_KEY and LIVEKIT_API_SECRET environment variables."
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":"error","message":"` + msg + `"}`))
	}))
	defer srv.Close()

	_, err := NewTokenClient(srv.URL).Fetch(context.Background(), models.TokenRequest{RoomName: "room", ParticipantName: "alice"})
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConnectionError, got %T %v", err, err)
	}
	if cerr.Status != http.StatusInternalServerError || cerr.Cause.Error() != msg {
		t.Errorf("unexpected error %+v", cerr)
	}
	if !strings.Contains(cerr.Remediation, "LIVEKIT_API_KEY") {
		t.Errorf("remediation should mention credentials: %q", cerr.Remediation)
	}
}

func TestTokenClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewTokenClient(addr, WithTokenTimeout(time.Second)).Fetch(context.Background(), models.TokenRequest{RoomName: "room", ParticipantName: "alice"})
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if cerr.Status != 0 || !strings.Contains(cerr.Remediation, addr) {
		t.Errorf("unexpected error %+v", cerr)
	}
}

func TestTokenClientRejectsInvalidRequest(t *testing.T) {
	_, err := NewTokenClient("http://127.0.0.1:1").Fetch(context.Background(), models.TokenRequest{ParticipantName: "alice"})
	if !errors.Is(err, models.ErrEmptyRoomName) {
		t.Errorf("expected ErrEmptyRoomName, got %v", err)
	}
}

func TestServerMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"status":"error","message":"bad"}`, "bad"},
		{`{"detail":"Failed to generate token: boom"}`, "Failed to generate token: boom"},
		{"plain text\n", "plain text"},
		{"", "empty response"},
	}
	for _, tt := range tests {
		if got := serverMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("serverMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestDataChannelURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8000", "ws://localhost:8000/api/onboarding/ws", false},
		{"https://api.example.com/", "wss://api.example.com/api/onboarding/ws", false},
		{"ftp://x", "", true},
	}
	for _, tt := range tests {
		got, err := DataChannelURL(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("DataChannelURL(%q) = %q, %v", tt.in, got, err)
		}
	}
}

type fakeTransport struct {
	dialErr error
	in      chan models.DataMessage
	errs    chan error
	closed  chan struct{}
	once    sync.Once

	mu   sync.Mutex
	sent []models.DataMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan models.DataMessage, 8),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Dial(context.Context, string, string) error { return f.dialErr }

func (f *fakeTransport) Send(msg models.DataMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Receive() (models.DataMessage, error) {
	select {
	case m := <-f.in:
		return m, nil
	case err := <-f.errs:
		return models.DataMessage{}, err
	case <-f.closed:
		return models.DataMessage{}, errTransportClosed
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
	errs   []error
}

func (s *stateRecorder) listen(state ConnectionState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	s.errs = append(s.errs, err)
}

func (s *stateRecorder) snapshot() []ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnectionState(nil), s.states...)
}

func TestRoomLifecycle(t *testing.T) {
	ft := newFakeTransport()
	room := NewRoom(ft)
	rec := &stateRecorder{}
	room.OnStateChange(rec.listen)
	got := make(chan models.DataMessage, 1)
	room.OnData(func(m models.DataMessage) { got <- m })

	if err := room.SendText("early"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before connect, got %v", err)
	}
	if err := room.Connect(context.Background(), "ws://x", "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := room.SendText("Alice"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := room.SetMicrophoneEnabled(true); err != nil || !room.MicrophoneEnabled() {
		t.Fatalf("SetMicrophoneEnabled: %v", err)
	}

	ft.in <- models.DataMessage{Type: models.DataTypeAgent, Text: "Hi", Progress: 20}
	select {
	case m := <-got:
		if m.Text != "Hi" || m.Progress != 20 {
			t.Errorf("unexpected frame %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no data delivered")
	}

	if err := room.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	want := []ConnectionState{StateConnecting, StateConnected, StateDisconnected}
	states := rec.snapshot()
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states = %v, want %v", states, want)
		}
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.sent) != 2 || ft.sent[0].Type != models.DataTypeText || ft.sent[1].Enabled == nil || !*ft.sent[1].Enabled {
		t.Errorf("unexpected sent frames %+v", ft.sent)
	}
}

func TestRoomReadFailureMovesToError(t *testing.T) {
	ft := newFakeTransport()
	room := NewRoom(ft)
	rec := &stateRecorder{}
	room.OnStateChange(rec.listen)

	if err := room.Connect(context.Background(), "ws://x", "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.errs <- errors.New("connection reset")

	deadline := time.Now().Add(2 * time.Second)
	for room.State() != StateError && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if room.State() != StateError {
		t.Fatalf("expected error state, got %s", room.State())
	}
	rec.mu.Lock()
	last := rec.errs[len(rec.errs)-1]
	rec.mu.Unlock()
	var cerr *ConnectionError
	if !errors.As(last, &cerr) || cerr.Op != "receive" || cerr.Remediation == "" {
		t.Errorf("expected receive ConnectionError, got %v", last)
	}
	if err := room.SendText("x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected in error state, got %v", err)
	}
	room.Disconnect()
	if room.State() != StateDisconnected {
		t.Errorf("expected disconnected after Disconnect, got %s", room.State())
	}
}

func TestRoomDialFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.dialErr = errors.New("refused")
	room := NewRoom(ft)

	err := room.Connect(context.Background(), "ws://x", "tok")
	var cerr *ConnectionError
	if !errors.As(err, &cerr) || cerr.Op != "connect" {
		t.Fatalf("expected connect ConnectionError, got %v", err)
	}
	if room.State() != StateError {
		t.Errorf("expected error state, got %s", room.State())
	}
}

func TestWebsocketTransportRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DataChannelPath || r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var in models.DataMessage
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			conn.WriteJSON(models.DataMessage{Type: models.DataTypeAgent, Text: "echo: " + in.Text})
		}
	}))
	defer srv.Close()

	wsURL, err := DataChannelURL(srv.URL)
	if err != nil {
		t.Fatalf("DataChannelURL: %v", err)
	}

	bad := NewWebsocketTransport()
	if err := bad.Dial(context.Background(), wsURL, "wrong"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 dial failure, got %v", err)
	}

	tr := NewWebsocketTransport()
	room := NewRoom(tr)
	got := make(chan models.DataMessage, 1)
	room.OnData(func(m models.DataMessage) { got <- m })
	if err := room.Connect(context.Background(), wsURL, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer room.Disconnect()

	if err := room.SendText("Alice"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	select {
	case m := <-got:
		if m.Type != models.DataTypeAgent || m.Text != "echo: Alice" {
			t.Errorf("unexpected frame %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from server")
	}
}
