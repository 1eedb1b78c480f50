package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/travai/travai/internal/models"
	"github.com/travai/travai/internal/store"
)

func TestRegistryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()

	d, err := r.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.SessionID() == "" {
		t.Fatal("expected generated session ID")
	}
	got, err := r.Get(ctx, d.SessionID())
	if err != nil || got != d {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if _, err := r.Create(ctx, d.SessionID()); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
	if _, err := r.Get(ctx, "nope"); !errors.Is(err, models.ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
	if _, err := r.Get(ctx, ""); !errors.Is(err, models.ErrEmptySessionID) {
		t.Errorf("expected ErrEmptySessionID, got %v", err)
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()

	d1, created, err := r.GetOrCreate(ctx, "room-1")
	if err != nil || !created {
		t.Fatalf("expected new session, got created=%v err=%v", created, err)
	}
	d2, created, err := r.GetOrCreate(ctx, "room-1")
	if err != nil || created || d2 != d1 {
		t.Errorf("expected existing session, got created=%v same=%v err=%v", created, d1 == d2, err)
	}
}

func TestRegistryRestoresEvictedSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	r := NewRegistry(WithRegistryStore(st))
	defer r.Close()

	d, err := r.Create(ctx, "room-9")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	d.Start(ctx)
	d.HandleText(ctx, "Alice")

	if !r.Evict("room-9") || r.Len() != 0 {
		t.Fatal("expected session to be evicted")
	}
	back, err := r.Get(ctx, "room-9")
	if err != nil {
		t.Fatalf("Get after evict: %v", err)
	}
	if back == d {
		t.Error("expected a freshly restored driver")
	}
	if back.Progress() != 20 || back.Answers()["name"] != "Alice" {
		t.Errorf("restored session lost progress: %v %v", back.Progress(), back.Answers())
	}
}

func TestRegistryIdleEviction(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(WithIdleTimeout(20 * time.Millisecond))
	defer r.Close()

	if _, err := r.Create(ctx, "idle"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Len() != 0 {
		t.Fatal("expected idle session to be evicted")
	}
	if _, err := r.Get(ctx, "idle"); !errors.Is(err, models.ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession for evicted in-memory session, got %v", err)
	}
}

func TestRegistryHoldBlocksIdleEviction(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(WithIdleTimeout(20 * time.Millisecond))
	defer r.Close()

	d, created, release, err := r.Hold(ctx, "held")
	if err != nil || !created {
		t.Fatalf("Hold: created=%v err=%v", created, err)
	}
	time.Sleep(80 * time.Millisecond)
	if r.Len() != 1 {
		t.Fatal("held session was evicted")
	}
	if got, _ := r.Get(ctx, "held"); got != d {
		t.Error("Get should return the held driver")
	}

	release()
	release()
	deadline := time.Now().Add(2 * time.Second)
	for r.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Len() != 0 {
		t.Error("expected eviction once the hold was released")
	}
}

func TestRegistryEvictDeferredWhileHeld(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()

	_, _, first, err := r.Hold(ctx, "room-h")
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	_, created, second, err := r.Hold(ctx, "room-h")
	if err != nil || created {
		t.Fatalf("second Hold: created=%v err=%v", created, err)
	}

	if r.Evict("room-h") {
		t.Error("Evict should report false for a held session")
	}
	first()
	if r.Len() != 1 {
		t.Fatal("session dropped while still held")
	}
	second()
	if r.Len() != 0 {
		t.Error("deferred eviction should apply when the last hold is released")
	}
}

func TestRegistryHandleRoomFinished(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()

	r.Create(ctx, "room-x")
	if err := r.HandleRoomFinished(ctx, models.WebhookEvent{Event: models.EventRoomFinished, RoomName: "room-x"}); err != nil {
		t.Fatalf("HandleRoomFinished: %v", err)
	}
	if r.Len() != 0 {
		t.Error("expected session to be evicted on room_finished")
	}
	if err := r.HandleRoomFinished(ctx, models.WebhookEvent{Event: models.EventRoomFinished}); err != nil {
		t.Errorf("empty room should be ignored, got %v", err)
	}
}

func TestSimpleTimer(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	fired := make(chan struct{}, 1)
	if _, err := timer.ScheduleNamed(10*time.Millisecond, "idle eviction for room-0", func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("ScheduleNamed: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	cancelled := make(chan struct{}, 1)
	id, _ := timer.ScheduleNamed(20*time.Millisecond, "idle eviction for room-1", func() { cancelled <- struct{}{} })
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := timer.Cancel(id); err != nil {
		t.Errorf("second Cancel should be a no-op: %v", err)
	}
	select {
	case <-cancelled:
		t.Error("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestStoreBasedStateManagerSaveState(t *testing.T) {
	ctx := context.Background()
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())

	if st, err := sm.GetCurrentState(ctx, "s", models.FlowTypeOnboarding); err != nil || st != "" {
		t.Fatalf("expected no state for a new session, got %q, %v", st, err)
	}
	err := sm.SaveState(ctx, "s", models.FlowTypeOnboarding, models.StateOnboardingActive, map[models.DataKey]string{
		models.DataKeyCurrentIndex: "3",
		models.DataKeyAnswers:      `["a","b","c"]`,
	})
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	// A later save keeps keys it does not mention.
	err = sm.SaveState(ctx, "s", models.FlowTypeOnboarding, models.StateOnboardingComplete, map[models.DataKey]string{
		models.DataKeyCurrentIndex: "5",
	})
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if st, _ := sm.GetCurrentState(ctx, "s", models.FlowTypeOnboarding); st != models.StateOnboardingComplete {
		t.Errorf("state = %q, want %q", st, models.StateOnboardingComplete)
	}
	if v, _ := sm.GetStateData(ctx, "s", models.FlowTypeOnboarding, models.DataKeyCurrentIndex); v != "5" {
		t.Errorf("current index = %q, want 5", v)
	}
	if v, _ := sm.GetStateData(ctx, "s", models.FlowTypeOnboarding, models.DataKeyAnswers); v != `["a","b","c"]` {
		t.Errorf("answers lost across save: %q", v)
	}
	if err := sm.ResetState(ctx, "s", models.FlowTypeOnboarding); err != nil {
		t.Fatalf("ResetState: %v", err)
	}
	if st, _ := sm.GetCurrentState(ctx, "s", models.FlowTypeOnboarding); st != "" {
		t.Errorf("expected empty state after reset, got %q", st)
	}
}
