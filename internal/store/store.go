// Package store provides storage backends for Travai.
//
// It persists onboarding flow state, transcripts and received webhook
// events. Backends: in-memory (default), SQLite and PostgreSQL.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/travai/travai/internal/models"
)

// Store is the persistence contract shared by every backend.
type Store interface {
	// SaveFlowState stores or replaces the flow state for a session.
	SaveFlowState(state models.FlowState) error
	// GetFlowState returns nil, nil when no state exists.
	GetFlowState(sessionID string, flowType models.FlowType) (*models.FlowState, error)
	// DeleteFlowState removes the flow state for a session.
	DeleteFlowState(sessionID string, flowType models.FlowType) error

	// AddMessage appends a transcript message.
	AddMessage(msg models.Message) error
	// ListMessages returns a session's transcript in insertion order.
	ListMessages(sessionID string) ([]models.Message, error)
	// DeleteMessages clears a session's transcript.
	DeleteMessages(sessionID string) error

	// AddWebhookEvent records a received webhook event.
	AddWebhookEvent(evt models.WebhookEvent) error
	// ListWebhookEvents returns the newest events first, optionally filtered by room.
	// A limit <= 0 means no limit.
	ListWebhookEvents(roomName string, limit int) ([]models.WebhookEvent, error)
	// PruneWebhookEvents deletes events received before the cutoff and returns the count.
	PruneWebhookEvents(before time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Open picks a backend from the configured DSN. An empty DSN yields an in-memory store.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("store.Open: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		st, err := NewPostgresStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		st, err := NewSQLiteStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	}
}

type flowKey struct {
	sessionID string
	flowType  models.FlowType
}

// InMemoryStore is a simple in-memory store, safe for concurrent use.
type InMemoryStore struct {
	mu         sync.RWMutex
	flowStates map[flowKey]models.FlowState
	messages   map[string][]models.Message
	events     []models.WebhookEvent
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flowStates: make(map[flowKey]models.FlowState),
		messages:   make(map[string][]models.Message),
	}
}

// SaveFlowState stores a copy of the flow state.
func (s *InMemoryStore) SaveFlowState(state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[flowKey{state.SessionID, state.FlowType}] = copyFlowState(state)
	return nil
}

// GetFlowState returns a copy of the stored flow state, or nil.
func (s *InMemoryStore) GetFlowState(sessionID string, flowType models.FlowType) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.flowStates[flowKey{sessionID, flowType}]
	if !ok {
		return nil, nil
	}
	cp := copyFlowState(state)
	return &cp, nil
}

// DeleteFlowState removes the flow state for a session.
func (s *InMemoryStore) DeleteFlowState(sessionID string, flowType models.FlowType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowKey{sessionID, flowType})
	return nil
}

func (s *InMemoryStore) AddMessage(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return nil
}

func (s *InMemoryStore) ListMessages(sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

func (s *InMemoryStore) DeleteMessages(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, sessionID)
	return nil
}

func (s *InMemoryStore) AddWebhookEvent(evt models.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == evt.ID {
			return nil
		}
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *InMemoryStore) ListWebhookEvents(roomName string, limit int) ([]models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WebhookEvent
	for _, e := range s.events {
		if roomName == "" || e.RoomName == roomName {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) PruneWebhookEvents(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.ReceivedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func copyFlowState(state models.FlowState) models.FlowState {
	cp := state
	if state.StateData != nil {
		cp.StateData = make(map[models.DataKey]string, len(state.StateData))
		for k, v := range state.StateData {
			cp.StateData[k] = v
		}
	}
	return cp
}
