package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/travai/travai/internal/metrics"
	"github.com/travai/travai/internal/models"
	"github.com/travai/travai/internal/onboarding"
	"github.com/travai/travai/internal/speech"
)

// TranscriptStore persists the messages exchanged in a session.
type TranscriptStore interface {
	AddMessage(msg models.Message) error
	ListMessages(sessionID string) ([]models.Message, error)
	DeleteMessages(sessionID string) error
}

// Turn is the assistant's side of one exchange.
type Turn struct {
	Reply           string        `json:"reply"`
	Audio           *speech.Audio `json:"-"`
	Progress        float64       `json:"progress"`
	DisplayProgress int           `json:"display_progress"`
	Complete        bool          `json:"complete"`
}

// DriverOpts holds the collaborators of a Driver.
type DriverOpts struct {
	Prompts     []onboarding.Prompt
	Speech      speech.Provider
	State       StateManager
	Transcripts TranscriptStore
	Notifier    Notifier
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// DriverOption defines a configuration option for a Driver.
type DriverOption func(*DriverOpts)

// WithPrompts sets the script the session walks through.
func WithPrompts(prompts []onboarding.Prompt) DriverOption {
	return func(o *DriverOpts) { o.Prompts = prompts }
}

// WithSpeech sets the provider used for transcription and synthesis.
func WithSpeech(p speech.Provider) DriverOption {
	return func(o *DriverOpts) { o.Speech = p }
}

// WithStateManager enables persistence of the engine's progress.
func WithStateManager(sm StateManager) DriverOption {
	return func(o *DriverOpts) { o.State = sm }
}

// WithTranscripts enables persistence of the session transcript.
func WithTranscripts(ts TranscriptStore) DriverOption {
	return func(o *DriverOpts) { o.Transcripts = ts }
}

// WithNotifier sets the notifier fired once on completion.
func WithNotifier(n Notifier) DriverOption {
	return func(o *DriverOpts) { o.Notifier = n }
}

// WithMetrics sets the collectors updated by the driver.
func WithMetrics(m *metrics.Metrics) DriverOption {
	return func(o *DriverOpts) { o.Metrics = m }
}

// WithDriverClock overrides the message timestamp source.
func WithDriverClock(now func() time.Time) DriverOption {
	return func(o *DriverOpts) { o.Now = now }
}

// Driver runs one onboarding session. It is the only writer of its engine
// and serializes every call, so it is safe for concurrent use.
type Driver struct {
	mu         sync.Mutex
	sessionID  string
	engine     *onboarding.Engine
	transcript []models.Message
	notified   bool

	speech      speech.Provider
	state       StateManager
	transcripts TranscriptStore
	notifier    Notifier
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewDriver creates a fresh session. Without options it uses the default
// script and the simulated speech provider and persists nothing.
func NewDriver(sessionID string, opts ...DriverOption) *Driver {
	cfg := DriverOpts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = onboarding.DefaultPrompts()
	}
	if cfg.Speech == nil {
		cfg.Speech = speech.NewSimulatedProvider()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Driver{
		sessionID:   sessionID,
		engine:      onboarding.NewEngine(cfg.Prompts),
		speech:      cfg.Speech,
		state:       cfg.State,
		transcripts: cfg.Transcripts,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
}

// SessionID returns the session this driver serves.
func (d *Driver) SessionID() string {
	return d.sessionID
}

// Start speaks the current prompt and persists the session. On a fresh
// session that is the first question.
func (d *Driver) Start(ctx context.Context) (Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reply := d.engine.CurrentPrompt()
	d.record(reply, false)
	slog.Debug("Driver.Start", "sessionID", d.sessionID, "index", d.engine.CurrentIndex())
	return d.turn(ctx, reply), d.persist(ctx)
}

// HandleText submits one captured answer and returns the assistant's reply.
// Persistence failures are returned after the engine has advanced; the
// in-memory session stays authoritative. The completion notice is sent
// after the session lock is released.
func (d *Driver) HandleText(ctx context.Context, text string) (Turn, error) {
	turn, completed, err := d.submit(ctx, text)
	if completed != nil {
		d.notify(ctx, *completed)
	}
	return turn, err
}

// submit advances the engine. It returns the status to announce when this
// answer finished the script for the first time.
func (d *Driver) submit(ctx context.Context, text string) (Turn, *models.OnboardingStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wasComplete := d.engine.IsComplete()
	d.record(text, true)
	reply := d.engine.SubmitAnswer(text)
	d.record(reply, false)
	if !wasComplete {
		d.metrics.RecordAnswer()
	}

	justCompleted := !wasComplete && d.engine.IsComplete()
	if justCompleted {
		d.metrics.RecordCompletion()
		slog.Info("Driver.HandleText: onboarding complete", "sessionID", d.sessionID)
	}
	var completed *models.OnboardingStatus
	if justCompleted && !d.notified {
		d.notified = true
		st := d.status()
		completed = &st
	}

	turn := d.turn(ctx, reply)
	return turn, completed, d.persist(ctx)
}

// HandleAudio transcribes the clip and submits the result as an answer.
// Transcription failures are returned without touching the engine.
func (d *Driver) HandleAudio(ctx context.Context, audio io.Reader, format string) (Turn, string, error) {
	text, err := d.speech.Transcribe(ctx, audio, format)
	if err != nil {
		d.metrics.RecordTranscriptionFailure()
		slog.Warn("Driver.HandleAudio: transcription failed", "sessionID", d.sessionID, "provider", d.speech.Name(), "error", err)
		return Turn{}, "", fmt.Errorf("transcribe: %w", err)
	}
	turn, err := d.HandleText(ctx, text)
	return turn, text, err
}

// Reset restarts the session from the first question and clears its transcript.
func (d *Driver) Reset(ctx context.Context) (Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.engine.Reset()
	d.transcript = nil
	d.notified = false
	if d.transcripts != nil {
		if err := d.transcripts.DeleteMessages(d.sessionID); err != nil {
			slog.Error("Driver.Reset: failed to clear transcript", "sessionID", d.sessionID, "error", err)
		}
	}
	if d.state != nil {
		if err := d.state.ResetState(ctx, d.sessionID, models.FlowTypeOnboarding); err != nil {
			slog.Error("Driver.Reset: failed to clear state", "sessionID", d.sessionID, "error", err)
		}
	}

	reply := d.engine.CurrentPrompt()
	d.record(reply, false)
	slog.Info("Driver.Reset", "sessionID", d.sessionID)
	return d.turn(ctx, reply), d.persist(ctx)
}

// Progress returns the unrounded completion percentage.
func (d *Driver) Progress() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine.ProgressPercent()
}

// IsComplete reports whether every prompt has been answered.
func (d *Driver) IsComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine.IsComplete()
}

// Transcript returns a copy of the messages exchanged so far.
func (d *Driver) Transcript() []models.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Message, len(d.transcript))
	copy(out, d.transcript)
	return out
}

// Answers maps prompt IDs to the answers given so far.
func (d *Driver) Answers() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.answers()
}

// Status returns the externally visible state of the session.
func (d *Driver) Status() models.OnboardingStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status()
}

func (d *Driver) status() models.OnboardingStatus {
	out := make([]models.Message, len(d.transcript))
	copy(out, d.transcript)
	return models.OnboardingStatus{
		SessionID:     d.sessionID,
		CurrentIndex:  d.engine.CurrentIndex(),
		TotalSteps:    d.engine.Len(),
		CurrentPrompt: d.engine.CurrentPrompt(),
		Progress:      d.engine.ProgressPercent(),
		Complete:      d.engine.IsComplete(),
		Answers:       d.answers(),
		Transcript:    out,
	}
}

func (d *Driver) answers() map[string]string {
	out := make(map[string]string)
	for _, st := range d.engine.Steps() {
		if st.Answer != nil {
			out[st.Prompt.ID] = *st.Answer
		}
	}
	return out
}

// DisplayPercent rounds a progress value for presentation.
func DisplayPercent(p float64) int {
	return int(math.Round(p))
}

func (d *Driver) turn(ctx context.Context, reply string) Turn {
	t := Turn{
		Reply:           reply,
		Progress:        d.engine.ProgressPercent(),
		DisplayProgress: DisplayPercent(d.engine.ProgressPercent()),
		Complete:        d.engine.IsComplete(),
	}
	audio, err := d.speech.Synthesize(ctx, reply)
	if err != nil {
		// The reply is still delivered as text.
		slog.Warn("Driver: speech synthesis failed", "sessionID", d.sessionID, "provider", d.speech.Name(), "error", err)
		return t
	}
	t.Audio = audio
	return t
}

func (d *Driver) record(text string, fromUser bool) {
	msg := models.Message{SessionID: d.sessionID, Text: text, IsFromUser: fromUser, Timestamp: d.now()}
	d.transcript = append(d.transcript, msg)
	if d.transcripts == nil {
		return
	}
	if err := d.transcripts.AddMessage(msg); err != nil {
		slog.Error("Driver: failed to persist message", "sessionID", d.sessionID, "error", err)
	}
}

func (d *Driver) notify(ctx context.Context, status models.OnboardingStatus) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.NotifyComplete(ctx, status); err != nil {
		slog.Error("Driver: completion notification failed", "sessionID", d.sessionID, "error", err)
	}
}

// persist writes the engine snapshot through the state manager.
func (d *Driver) persist(ctx context.Context) error {
	if d.state == nil {
		return nil
	}
	snap := d.engine.Snapshot()
	answers, err := json.Marshal(snap.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	state := models.StateOnboardingActive
	if d.engine.IsComplete() {
		state = models.StateOnboardingComplete
	}
	data := map[models.DataKey]string{
		models.DataKeyCurrentIndex: strconv.Itoa(snap.CurrentIndex),
		models.DataKeyAnswers:      string(answers),
		models.DataKeyScriptIDs:    scriptIDs(d.engine.Prompts()),
		models.DataKeyNotified:     strconv.FormatBool(d.notified),
	}
	if err := d.state.SaveState(ctx, d.sessionID, models.FlowTypeOnboarding, state, data); err != nil {
		return fmt.Errorf("persist session %s: %w", d.sessionID, err)
	}
	return nil
}

// restore loads persisted progress and transcript. It reports whether any
// state was found. State recorded against a different script is discarded.
func (d *Driver) restore(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == nil {
		return false, nil
	}
	current, err := d.state.GetCurrentState(ctx, d.sessionID, models.FlowTypeOnboarding)
	if err != nil {
		return false, err
	}
	if current == "" {
		return false, nil
	}

	get := func(k models.DataKey) (string, error) {
		return d.state.GetStateData(ctx, d.sessionID, models.FlowTypeOnboarding, k)
	}
	ids, err := get(models.DataKeyScriptIDs)
	if err != nil {
		return false, err
	}
	if ids != scriptIDs(d.engine.Prompts()) {
		slog.Warn("Driver.restore: script changed since state was saved, starting over", "sessionID", d.sessionID)
		return false, nil
	}
	rawIndex, err := get(models.DataKeyCurrentIndex)
	if err != nil {
		return false, err
	}
	rawAnswers, err := get(models.DataKeyAnswers)
	if err != nil {
		return false, err
	}
	notified, err := get(models.DataKeyNotified)
	if err != nil {
		return false, err
	}

	var snap onboarding.Snapshot
	if snap.CurrentIndex, err = strconv.Atoi(rawIndex); err != nil {
		return false, fmt.Errorf("decode index for %s: %w", d.sessionID, err)
	}
	if err := json.Unmarshal([]byte(rawAnswers), &snap.Answers); err != nil {
		return false, fmt.Errorf("decode answers for %s: %w", d.sessionID, err)
	}
	if err := d.engine.Restore(snap); err != nil {
		return false, fmt.Errorf("restore session %s: %w", d.sessionID, err)
	}
	d.notified = notified == "true"

	if d.transcripts != nil {
		msgs, err := d.transcripts.ListMessages(d.sessionID)
		if err != nil {
			slog.Error("Driver.restore: failed to load transcript", "sessionID", d.sessionID, "error", err)
		} else {
			d.transcript = msgs
		}
	}
	slog.Debug("Driver.restore: session restored", "sessionID", d.sessionID, "index", snap.CurrentIndex)
	return true, nil
}

func scriptIDs(prompts []onboarding.Prompt) string {
	ids := make([]string, len(prompts))
	for i, p := range prompts {
		ids[i] = p.ID
	}
	return strings.Join(ids, ",")
}
