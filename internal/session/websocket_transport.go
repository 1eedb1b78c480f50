package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/travai/travai/internal/models"
)

const (
	// DataChannelPath is the backend route serving the onboarding data channel.
	DataChannelPath = "/api/onboarding/ws"

	defaultDialTimeout = 10 * time.Second
	closeGracePeriod   = 2 * time.Second
)

var errTransportClosed = errors.New("transport is closed")

// DataChannelURL turns a backend base URL (http or https) into the
// websocket URL of its onboarding data channel.
func DataChannelURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	u.Path += DataChannelPath
	return u.String(), nil
}

// WebsocketTransport is a Transport over a gorilla websocket connection.
// The token travels in the token query parameter.
type WebsocketTransport struct {
	dialer *websocket.Dialer

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewWebsocketTransport creates a WebsocketTransport using the default dialer.
func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{dialer: websocket.DefaultDialer}
}

// Dial opens the connection, replacing any previous one.
func (t *WebsocketTransport) Dial(ctx context.Context, rawURL, token string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse data channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := t.dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Send writes msg as a JSON text frame.
func (t *WebsocketTransport) Send(msg models.DataMessage) error {
	conn := t.current()
	if conn == nil {
		return errTransportClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Receive reads the next JSON text frame. Binary frames are skipped.
func (t *WebsocketTransport) Receive() (models.DataMessage, error) {
	conn := t.current()
	if conn == nil {
		return models.DataMessage{}, errTransportClosed
	}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return models.DataMessage{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var msg models.DataMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return models.DataMessage{}, fmt.Errorf("decode data frame: %w", err)
		}
		return msg, nil
	}
}

// Close sends a normal close frame and closes the connection.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeGracePeriod))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WebsocketTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}
