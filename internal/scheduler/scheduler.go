// Package scheduler runs Travai's periodic maintenance jobs.
//
// Jobs are scheduled with standard 5-field cron expressions.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultPruneSchedule runs the webhook prune job daily at 03:00.
	DefaultPruneSchedule = "0 3 * * *"
	// DefaultRetention is how long webhook events are kept.
	DefaultRetention = 30 * 24 * time.Hour
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Schedule adds a cron.Job and returns the time of its first run.
func (s *Scheduler) Schedule(expr string, job cron.Job) (time.Time, error) {
	id, err := s.cron.AddJob(expr, job)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s.cron.Entry(id).Next, nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// EventPruner deletes webhook events received before a cutoff.
type EventPruner interface {
	PruneWebhookEvents(before time.Time) (int64, error)
}

// PruneJob deletes webhook events older than its retention window.
type PruneJob struct {
	pruner    EventPruner
	retention time.Duration
	now       func() time.Time
}

// NewPruneJob creates a PruneJob. A non-positive retention uses DefaultRetention.
func NewPruneJob(p EventPruner, retention time.Duration) *PruneJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PruneJob{pruner: p, retention: retention, now: time.Now}
}

// Run implements cron.Job.
func (j *PruneJob) Run() {
	if _, err := j.Prune(); err != nil {
		slog.Error("PruneJob.Run: prune failed", "error", err)
	}
}

// Prune deletes expired events once and returns how many were removed.
func (j *PruneJob) Prune() (int64, error) {
	if j.pruner == nil {
		return 0, errors.New("no event store configured")
	}
	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.PruneWebhookEvents(cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune webhook events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	slog.Info("PruneJob: webhook events pruned", "deleted", n, "cutoff", cutoff, "retention", j.retention)
	return n, nil
}
