package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/travai/travai/internal/flow"
	"github.com/travai/travai/internal/livekit"
	"github.com/travai/travai/internal/scheduler"
	"github.com/travai/travai/internal/store"
)

var configEnv = []string{
	"LIVEKIT_API_KEY", "LIVEKIT_API_SECRET", "LIVEKIT_URL", "LIVEKIT_WEBHOOK_SECRET",
	"DATABASE_URL", "TRAVAI_STATE_DIR", "API_ADDR", "OPENAI_API_KEY", "ONBOARDING_SCRIPT",
	"CORS_ALLOWED_ORIGINS", "WEBHOOK_RETENTION", "PRUNE_SCHEDULE", "SESSION_IDLE_TIMEOUT",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "ONBOARDING_NOTIFY_TO",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	if config.LiveKitURL != livekit.DefaultURL {
		t.Errorf("LiveKitURL = %q, want %q", config.LiveKitURL, livekit.DefaultURL)
	}
	if config.APIAddr != ":8000" {
		t.Errorf("APIAddr = %q, want :8000", config.APIAddr)
	}
	if config.PruneSchedule != scheduler.DefaultPruneSchedule || config.WebhookRetention != scheduler.DefaultRetention {
		t.Errorf("unexpected prune config %q / %v", config.PruneSchedule, config.WebhookRetention)
	}
	if config.IdleTimeout != flow.DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %v, want %v", config.IdleTimeout, flow.DefaultIdleTimeout)
	}
	if config.CORSOrigins != nil {
		t.Errorf("CORSOrigins = %v, want nil", config.CORSOrigins)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("TRAVAI_STATE_DIR", "/tmp/travai-state")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example, https://admin.example")
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	t.Setenv("WEBHOOK_RETENTION", "not-a-duration")

	config := loadEnvironmentConfig()

	if config.StateDir != "/tmp/travai-state" {
		t.Errorf("StateDir = %q", config.StateDir)
	}
	if len(config.CORSOrigins) != 2 || config.CORSOrigins[1] != "https://admin.example" {
		t.Errorf("CORSOrigins = %v", config.CORSOrigins)
	}
	if config.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout = %v", config.IdleTimeout)
	}
	if config.WebhookRetention != scheduler.DefaultRetention {
		t.Errorf("invalid retention should fall back to default, got %v", config.WebhookRetention)
	}
}

func TestParseCommandLineFlags(t *testing.T) {
	config := Config{StateDir: "/var/lib/travai", APIAddr: ":8000"}

	tests := []struct {
		name    string
		config  Config
		args    []string
		wantDSN string
	}{
		{"default sqlite in state dir", config, nil, filepath.Join("/var/lib/travai", DefaultDBFileName)},
		{"state dir override moves sqlite", config, []string{"-state-dir", "/data"}, filepath.Join("/data", DefaultDBFileName)},
		{"database url wins", Config{StateDir: "/var/lib/travai", DatabaseURL: "postgres://u@h/db"}, nil, "postgres://u@h/db"},
		{"explicit dsn flag", config, []string{"-db-dsn", "/tmp/x.db"}, "/tmp/x.db"},
		{"ephemeral", config, []string{"-ephemeral"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("travai", flag.ContinueOnError)
			flags, err := parseCommandLineFlags(fs, tt.args, tt.config)
			if err != nil {
				t.Fatalf("parseCommandLineFlags: %v", err)
			}
			if flags.DSN != tt.wantDSN {
				t.Errorf("DSN = %q, want %q", flags.DSN, tt.wantDSN)
			}
		})
	}
}

func TestBuildStoreOptions(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want int
	}{
		{"in-memory", "", 0},
		{"postgres", "postgres://u@h/db", 1},
		{"sqlite", "/tmp/travai.db", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := buildStoreOptions(Flags{DSN: tt.dsn})
			if len(opts) != tt.want {
				t.Fatalf("got %d options, want %d", len(opts), tt.want)
			}
			var cfg store.Opts
			for _, o := range opts {
				o(&cfg)
			}
			if cfg.DSN != tt.dsn {
				t.Errorf("DSN = %q, want %q", cfg.DSN, tt.dsn)
			}
		})
	}
}

func TestBuildNotifier(t *testing.T) {
	n, err := buildNotifier(Config{})
	if err != nil || n != nil {
		t.Errorf("unconfigured notifier should be nil, got %v, %v", n, err)
	}

	_, err = buildNotifier(Config{NotifyTo: "+15550100", TwilioAccountSID: "AC123"})
	if err == nil || !strings.Contains(err.Error(), "TWILIO_AUTH_TOKEN") {
		t.Errorf("expected incomplete Twilio config error, got %v", err)
	}

	n, err = buildNotifier(Config{NotifyTo: "+15550100", TwilioAccountSID: "AC123", TwilioAuthToken: "tok", TwilioFromNumber: "+15550199"})
	if err != nil || n == nil {
		t.Errorf("expected notifier, got %v, %v", n, err)
	}
}

func TestBuildAPIOptions(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "script.yaml")
	if err := os.WriteFile(script, []byte("prompts:\n  - id: name\n    question: What's your name?\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := buildAPIOptions(Config{}, Flags{APIAddr: ":0", ScriptPath: script}); err != nil {
		t.Errorf("valid script rejected: %v", err)
	}
	if _, err := buildAPIOptions(Config{}, Flags{APIAddr: ":0", ScriptPath: filepath.Join(dir, "missing.yaml")}); err == nil {
		t.Error("expected error for missing script")
	}
}

func TestBuildIssuerAndReceiver(t *testing.T) {
	if buildTokenIssuer(Config{LiveKitURL: livekit.DefaultURL}).Configured() {
		t.Error("issuer without credentials should be unconfigured")
	}
	if !buildTokenIssuer(Config{LiveKitAPIKey: "k", LiveKitAPISecret: "s"}).Configured() {
		t.Error("issuer with credentials should be configured")
	}
	if buildWebhookReceiver(Config{}).VerificationEnabled() {
		t.Error("verification should be off without a webhook secret")
	}
	if !buildWebhookReceiver(Config{LiveKitWebhookSecret: "whsec"}).VerificationEnabled() {
		t.Error("verification should be on with a webhook secret")
	}
}
