// Package api provides the HTTP server for the Travai onboarding backend.
//
// It mints LiveKit access tokens, receives platform webhooks, and exposes the
// onboarding flow over REST and a websocket data channel.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/travai/travai/internal/flow"
	"github.com/travai/travai/internal/livekit"
	"github.com/travai/travai/internal/metrics"
	"github.com/travai/travai/internal/models"
	"github.com/travai/travai/internal/onboarding"
	"github.com/travai/travai/internal/scheduler"
	"github.com/travai/travai/internal/speech"
	"github.com/travai/travai/internal/store"
)

const (
	// DefaultAddr matches the port the mobile app expects.
	DefaultAddr = ":8000"
	// ServiceName and ServiceVersion are reported by GET /.
	ServiceName    = "Travai Backend"
	ServiceVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	CORSOrigins   []string
	Issuer        *livekit.TokenIssuer
	Webhooks      *livekit.WebhookReceiver
	Prompts       []onboarding.Prompt
	Speech        speech.Provider
	Notifier      flow.Notifier
	Metrics       *metrics.Metrics
	IdleTimeout   time.Duration
	Retention     time.Duration
	PruneSchedule string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCORSOrigins sets the allowed browser origins. "*" allows any origin.
func WithCORSOrigins(origins []string) Option {
	return func(o *Opts) { o.CORSOrigins = origins }
}

// WithTokenIssuer sets the access token issuer.
func WithTokenIssuer(ti *livekit.TokenIssuer) Option {
	return func(o *Opts) { o.Issuer = ti }
}

// WithWebhookReceiver sets the webhook verifier and decoder.
func WithWebhookReceiver(wr *livekit.WebhookReceiver) Option {
	return func(o *Opts) { o.Webhooks = wr }
}

// WithPrompts sets the onboarding script.
func WithPrompts(prompts []onboarding.Prompt) Option {
	return func(o *Opts) { o.Prompts = prompts }
}

// WithSpeech sets the speech provider used by onboarding sessions.
func WithSpeech(p speech.Provider) Option {
	return func(o *Opts) { o.Speech = p }
}

// WithNotifier sets the completion notifier.
func WithNotifier(n flow.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithMetrics sets the Prometheus collectors served on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithIdleTimeout sets how long an unused session stays in memory.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// WithWebhookRetention sets how long webhook events are kept.
func WithWebhookRetention(d time.Duration) Option {
	return func(o *Opts) { o.Retention = d }
}

// WithPruneSchedule sets the cron expression of the webhook prune job.
func WithPruneSchedule(expr string) Option {
	return func(o *Opts) { o.PruneSchedule = expr }
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	cfg        Opts
	st         store.Store
	registry   *flow.Registry
	issuer     *livekit.TokenIssuer
	webhooks   *livekit.WebhookReceiver
	dispatcher *livekit.Dispatcher
	metrics    *metrics.Metrics
	started    time.Time
}

// NewServer wires a Server on top of st.
func NewServer(st store.Store, opts ...Option) *Server {
	cfg := Opts{
		Addr:          DefaultAddr,
		CORSOrigins:   []string{"*"},
		PruneSchedule: scheduler.DefaultPruneSchedule,
		Retention:     scheduler.DefaultRetention,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Issuer == nil {
		cfg.Issuer = livekit.NewTokenIssuer()
	}
	if cfg.Webhooks == nil {
		cfg.Webhooks = livekit.NewWebhookReceiver()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("")
	}
	if !cfg.Issuer.Configured() {
		slog.Warn("Server: " + livekit.ErrCredentialsNotConfigured.Error())
	}

	registry := flow.NewRegistry(
		flow.WithRegistryStore(st),
		flow.WithRegistryPrompts(cfg.Prompts),
		flow.WithRegistrySpeech(cfg.Speech),
		flow.WithRegistryNotifier(cfg.Notifier),
		flow.WithRegistryMetrics(cfg.Metrics),
		flow.WithIdleTimeout(cfg.IdleTimeout),
	)
	dispatcher := livekit.NewDispatcher()
	dispatcher.On(models.EventRoomFinished, registry.HandleRoomFinished)

	return &Server{
		cfg:        cfg,
		st:         st,
		registry:   registry,
		issuer:     cfg.Issuer,
		webhooks:   cfg.Webhooks,
		dispatcher: dispatcher,
		metrics:    cfg.Metrics,
		started:    time.Now(),
	}
}

// Registry returns the onboarding session registry.
func (s *Server) Registry() *flow.Registry {
	return s.registry
}

// Dispatcher returns the webhook dispatcher so callers can add handlers.
func (s *Server) Dispatcher() *livekit.Dispatcher {
	return s.dispatcher
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.rootHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /api/token", s.tokenHandler)
	mux.HandleFunc("POST /api/webhooks/livekit", s.webhookHandler)
	mux.HandleFunc("GET /api/webhooks/events", s.listWebhookEventsHandler)

	mux.HandleFunc("GET /api/onboarding/script", s.scriptHandler)
	mux.HandleFunc("POST /api/onboarding/sessions", s.createSessionHandler)
	mux.HandleFunc("GET /api/onboarding/sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("POST /api/onboarding/sessions/{id}/answers", s.submitAnswerHandler)
	mux.HandleFunc("POST /api/onboarding/sessions/{id}/audio", s.submitAudioHandler)
	mux.HandleFunc("POST /api/onboarding/sessions/{id}/reset", s.resetSessionHandler)
	mux.HandleFunc("GET /api/onboarding/ws", s.dataChannelHandler)

	var h http.Handler = instrument(s.metrics, mux)
	h = accessLog(h)
	h = recoverPanics(h)
	h = cors(s.cfg.CORSOrigins, h)
	h = requestID(h)
	return h
}

// Close releases the registry's timers. The store is owned by the caller.
func (s *Server) Close() {
	s.registry.Close()
}

// Run opens the store, starts the maintenance scheduler, and serves HTTP
// until ctx is cancelled.
func Run(ctx context.Context, storeOpts []store.Option, apiOpts ...Option) error {
	st, err := store.Open(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("Run: failed to close store", "error", cerr)
		}
	}()

	s := NewServer(st, apiOpts...)
	defer s.Close()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	next, err := sched.Schedule(s.cfg.PruneSchedule, scheduler.NewPruneJob(st, s.cfg.Retention))
	if err != nil {
		return fmt.Errorf("failed to schedule webhook prune job: %w", err)
	}
	slog.Info("Run: webhook prune job scheduled", "schedule", s.cfg.PruneSchedule, "retention", s.cfg.Retention, "next", next)

	return s.ListenAndServe(ctx)
}

// ListenAndServe serves on the configured address and shuts down
// gracefully when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Travai API listening", "addr", s.cfg.Addr, "livekit_url", s.issuer.URL(), "webhook_verification", s.webhooks.VerificationEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
