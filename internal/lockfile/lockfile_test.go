package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireWritesHolderInfo(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, ":8000")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	info := parseInfo(string(data))
	if info.PID != os.Getpid() || info.Addr != ":8000" || info.Started.IsZero() {
		t.Errorf("unexpected lock info %+v from %q", info, data)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, ":8000")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir, ":8001")
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should fail while the first lock is held")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	msg := err.Error()
	for _, want := range []string{"another Travai server", lockErr.LockPath, "listening on :8000"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %q", msg, want)
		}
	}

	// The failed attempt must not clobber the holder's info.
	data, _ := os.ReadFile(first.Path())
	if parseInfo(string(data)).Addr != ":8000" {
		t.Errorf("holder info overwritten: %q", data)
	}
}

func TestReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	again, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestParseInfo(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		content string
		want    Info
	}{
		{"full", "pid=42\naddr=:8000\nstarted=2026-03-01T12:00:00Z\n", Info{PID: 42, Addr: ":8000", Started: started}},
		{"pid only", "pid=12345\n", Info{PID: 12345}},
		{"unknown keys", "pid=7\nhost=box\n", Info{PID: 7}},
		{"bad pid", "pid=abc\n", Info{}},
		{"no separator", "pid12345", Info{}},
		{"empty", "", Info{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseInfo(tt.content)
			if got.PID != tt.want.PID || got.Addr != tt.want.Addr || !got.Started.Equal(tt.want.Started) {
				t.Errorf("parseInfo(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("current process should be reported alive")
	}
}
