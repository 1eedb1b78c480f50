package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/travai/travai/internal/metrics"
	"github.com/travai/travai/internal/models"
	"github.com/travai/travai/internal/onboarding"
	"github.com/travai/travai/internal/speech"
	"github.com/travai/travai/internal/store"
)

// DefaultIdleTimeout is how long an untouched session stays in memory.
const DefaultIdleTimeout = 30 * time.Minute

// ErrSessionExists is returned by Create for an ID that is already active.
var ErrSessionExists = errors.New("session already exists")

// RegistryOpts holds configuration for a Registry.
type RegistryOpts struct {
	Store       store.Store
	Prompts     []onboarding.Prompt
	Speech      speech.Provider
	Notifier    Notifier
	Metrics     *metrics.Metrics
	Timer       Timer
	IdleTimeout time.Duration
}

// RegistryOption defines a configuration option for a Registry.
type RegistryOption func(*RegistryOpts)

// WithRegistryStore persists sessions in st. Without it sessions live only in memory.
func WithRegistryStore(st store.Store) RegistryOption {
	return func(o *RegistryOpts) { o.Store = st }
}

// WithRegistryPrompts sets the script for new sessions.
func WithRegistryPrompts(prompts []onboarding.Prompt) RegistryOption {
	return func(o *RegistryOpts) { o.Prompts = prompts }
}

// WithRegistrySpeech sets the speech provider for new sessions.
func WithRegistrySpeech(p speech.Provider) RegistryOption {
	return func(o *RegistryOpts) { o.Speech = p }
}

// WithRegistryNotifier sets the completion notifier for new sessions.
func WithRegistryNotifier(n Notifier) RegistryOption {
	return func(o *RegistryOpts) { o.Notifier = n }
}

// WithRegistryMetrics sets the collectors updated by the registry and its drivers.
func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(o *RegistryOpts) { o.Metrics = m }
}

// WithRegistryTimer overrides the timer used for idle eviction.
func WithRegistryTimer(t Timer) RegistryOption {
	return func(o *RegistryOpts) { o.Timer = t }
}

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(o *RegistryOpts) { o.IdleTimeout = d }
}

type registryEntry struct {
	driver  *Driver
	timerID string
	gen     uint64
	// holds counts open connections that keep the entry resident.
	holds int
	// evictOnRelease defers an Evict that arrived while the entry was held.
	evictOnRelease bool
}

// Registry maps session IDs to their drivers. Sessions missing from memory
// are restored from the store on lookup.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registryEntry
	cfg      RegistryOpts
	state    StateManager
}

// NewRegistry creates a Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := RegistryOpts{IdleTimeout: DefaultIdleTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Timer == nil {
		cfg.Timer = NewSimpleTimer()
	}
	if cfg.Prompts == nil {
		cfg.Prompts = onboarding.DefaultPrompts()
	}
	r := &Registry{sessions: make(map[string]*registryEntry), cfg: cfg}
	if cfg.Store != nil {
		r.state = NewStoreBasedStateManager(cfg.Store)
	}
	return r
}

func (r *Registry) newDriver(sessionID string) *Driver {
	opts := []DriverOption{
		WithPrompts(r.cfg.Prompts),
		WithSpeech(r.cfg.Speech),
		WithNotifier(r.cfg.Notifier),
		WithMetrics(r.cfg.Metrics),
	}
	if r.cfg.Store != nil {
		opts = append(opts, WithStateManager(r.state), WithTranscripts(r.cfg.Store))
	}
	return NewDriver(sessionID, opts...)
}

// Create starts a new session. An empty sessionID gets a generated one.
func (r *Registry) Create(ctx context.Context, sessionID string) (*Driver, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if d, err := r.lookup(ctx, sessionID); err != nil {
		return nil, err
	} else if d != nil {
		return nil, ErrSessionExists
	}

	d := r.newDriver(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return nil, ErrSessionExists
	}
	r.add(sessionID, d)
	slog.Info("Registry.Create: session created", "sessionID", sessionID)
	return d, nil
}

// Get returns the driver for sessionID, restoring it from the store when it
// is not in memory. It returns models.ErrUnknownSession when neither has it.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Driver, error) {
	d, err := r.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, models.ErrUnknownSession
	}
	return d, nil
}

// GetOrCreate returns the session, creating it if it does not exist.
// The second result reports whether the session is new.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) (*Driver, bool, error) {
	d, err := r.lookup(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if d != nil {
		return d, false, nil
	}

	d = r.newDriver(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		return e.driver, false, nil
	}
	r.add(sessionID, d)
	return d, true, nil
}

// Hold is GetOrCreate for long-lived connections. The session stays in
// memory, and is not idle-evicted, until release is called. Release is
// idempotent and restarts the idle timer once the last hold is dropped.
func (r *Registry) Hold(ctx context.Context, sessionID string) (*Driver, bool, func(), error) {
	for {
		d, created, err := r.GetOrCreate(ctx, sessionID)
		if err != nil {
			return nil, false, nil, err
		}
		r.mu.Lock()
		e, ok := r.sessions[sessionID]
		if !ok || e.driver != d {
			// Evicted between the lookup and the hold.
			r.mu.Unlock()
			continue
		}
		e.holds++
		holds := e.holds
		r.mu.Unlock()
		slog.Debug("Registry.Hold", "sessionID", sessionID, "holds", holds)

		var once sync.Once
		release := func() { once.Do(func() { r.release(sessionID, e) }) }
		return d, created, release, nil
	}
}

func (r *Registry) release(sessionID string, e *registryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.holds--
	if cur, ok := r.sessions[sessionID]; !ok || cur != e || e.holds > 0 {
		return
	}
	if e.evictOnRelease {
		r.remove(sessionID, e)
		slog.Info("Registry: session evicted after last connection closed", "sessionID", sessionID)
		return
	}
	r.touch(sessionID, e)
}

// lookup returns the in-memory driver or a restored one, or nil.
func (r *Registry) lookup(ctx context.Context, sessionID string) (*Driver, error) {
	if sessionID == "" {
		return nil, models.ErrEmptySessionID
	}
	r.mu.Lock()
	if e, ok := r.sessions[sessionID]; ok {
		r.touch(sessionID, e)
		r.mu.Unlock()
		return e.driver, nil
	}
	r.mu.Unlock()

	if r.state == nil {
		return nil, nil
	}
	d := r.newDriver(sessionID)
	found, err := d.restore(ctx)
	if err != nil {
		slog.Error("Registry: failed to restore session", "sessionID", sessionID, "error", err)
		return nil, err
	}
	if !found {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		return e.driver, nil
	}
	r.add(sessionID, d)
	slog.Info("Registry: session restored from store", "sessionID", sessionID)
	return d, nil
}

// Evict drops a session from memory. Persisted state is kept. A held
// session is dropped when its last hold is released instead, and Evict
// reports false.
func (r *Registry) Evict(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if e.holds > 0 {
		e.evictOnRelease = true
		slog.Debug("Registry.Evict: deferred while held", "sessionID", sessionID, "holds", e.holds)
		return false
	}
	r.remove(sessionID, e)
	slog.Debug("Registry.Evict", "sessionID", sessionID)
	return true
}

// Len returns the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close cancels every idle timer and drops all sessions from memory.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Timer.Stop()
	r.sessions = make(map[string]*registryEntry)
	r.cfg.Metrics.SetActiveSessions(0)
}

// Prompts returns the script used for new sessions.
func (r *Registry) Prompts() []onboarding.Prompt {
	out := make([]onboarding.Prompt, len(r.cfg.Prompts))
	copy(out, r.cfg.Prompts)
	return out
}

// add must be called with r.mu held.
func (r *Registry) add(sessionID string, d *Driver) {
	e := &registryEntry{driver: d}
	r.sessions[sessionID] = e
	r.touch(sessionID, e)
	r.cfg.Metrics.SetActiveSessions(len(r.sessions))
}

// remove must be called with r.mu held.
func (r *Registry) remove(sessionID string, e *registryEntry) {
	if e.timerID != "" {
		r.cfg.Timer.Cancel(e.timerID)
		e.timerID = ""
	}
	delete(r.sessions, sessionID)
	r.cfg.Metrics.SetActiveSessions(len(r.sessions))
}

// touch restarts the idle timer; it must be called with r.mu held.
// Held entries get no timer until their last hold is released.
func (r *Registry) touch(sessionID string, e *registryEntry) {
	if e.timerID != "" {
		r.cfg.Timer.Cancel(e.timerID)
		e.timerID = ""
	}
	e.gen++
	if e.holds > 0 {
		return
	}
	gen := e.gen
	id, err := r.cfg.Timer.ScheduleNamed(r.cfg.IdleTimeout, "idle eviction for "+sessionID, func() {
		r.expire(sessionID, e, gen)
	})
	if err != nil {
		slog.Error("Registry: failed to schedule idle eviction", "sessionID", sessionID, "error", err)
		return
	}
	e.timerID = id
}

// expire evicts the entry only if it has not been touched since the timer was set.
func (r *Registry) expire(sessionID string, e *registryEntry, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[sessionID]; !ok || cur != e || e.gen != gen || e.holds > 0 {
		return
	}
	e.timerID = ""
	r.remove(sessionID, e)
	slog.Info("Registry: session evicted after idle timeout", "sessionID", sessionID, "timeout", r.cfg.IdleTimeout)
}

// HandleRoomFinished evicts the session named after a finished room.
func (r *Registry) HandleRoomFinished(_ context.Context, evt models.WebhookEvent) error {
	if evt.RoomName == "" {
		return nil
	}
	if r.Evict(evt.RoomName) {
		slog.Info("Registry: session evicted on room_finished", "sessionID", evt.RoomName)
	} else {
		slog.Debug("Registry: room_finished for a session not evicted now", "sessionID", evt.RoomName)
	}
	return nil
}
