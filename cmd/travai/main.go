package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/travai/travai/internal/api"
	"github.com/travai/travai/internal/flow"
	"github.com/travai/travai/internal/livekit"
	"github.com/travai/travai/internal/lockfile"
	"github.com/travai/travai/internal/notify"
	"github.com/travai/travai/internal/onboarding"
	"github.com/travai/travai/internal/scheduler"
	"github.com/travai/travai/internal/speech"
	"github.com/travai/travai/internal/store"
	"github.com/travai/travai/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Travai state data
	DefaultStateDir = "/var/lib/travai"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "travai.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, flags); err != nil {
		slog.Error("Travai failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Travai exited successfully")
}

// run wires the configured modules and blocks until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	storeOpts := buildStoreOptions(flags)

	if !flags.Ephemeral && store.DetectDSNType(flags.DSN) == "sqlite3" {
		lock, err := lockfile.Acquire(filepath.Dir(flags.DSN), flags.APIAddr)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	apiOpts, err := buildAPIOptions(config, flags)
	if err != nil {
		return err
	}

	slog.Info("Bootstrapping Travai with configured modules")
	slog.Debug("Final configuration", "state_dir", flags.StateDir, "dsn_set", flags.DSN != "", "ephemeral", flags.Ephemeral, "api_addr", flags.APIAddr)
	return api.Run(ctx, storeOpts, apiOpts...)
}

// Config holds environment configuration
type Config struct {
	LiveKitAPIKey        string
	LiveKitAPISecret     string
	LiveKitURL           string
	LiveKitWebhookSecret string
	DatabaseURL          string
	StateDir             string
	APIAddr              string
	OpenAIKey            string
	ScriptPath           string
	CORSOrigins          []string
	WebhookRetention     time.Duration
	PruneSchedule        string
	IdleTimeout          time.Duration
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioFromNumber     string
	NotifyTo             string
}

// Flags holds the values that survive command-line overrides.
type Flags struct {
	StateDir   string
	DSN        string
	Ephemeral  bool
	APIAddr    string
	OpenAIKey  string
	ScriptPath string
}

// initializeLogger sets up structured logging; TRAVAI_DEBUG enables debug output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("TRAVAI_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LiveKitAPIKey:        os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret:     os.Getenv("LIVEKIT_API_SECRET"),
		LiveKitURL:           os.Getenv("LIVEKIT_URL"),
		LiveKitWebhookSecret: os.Getenv("LIVEKIT_WEBHOOK_SECRET"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		StateDir:             os.Getenv("TRAVAI_STATE_DIR"),
		APIAddr:              os.Getenv("API_ADDR"),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		ScriptPath:           os.Getenv("ONBOARDING_SCRIPT"),
		CORSOrigins:          util.ParseListEnv("CORS_ALLOWED_ORIGINS"),
		WebhookRetention:     util.ParseDurationEnv("WEBHOOK_RETENTION", scheduler.DefaultRetention),
		PruneSchedule:        os.Getenv("PRUNE_SCHEDULE"),
		IdleTimeout:          util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", flow.DefaultIdleTimeout),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:     os.Getenv("TWILIO_FROM_NUMBER"),
		NotifyTo:             os.Getenv("ONBOARDING_NOTIFY_TO"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TRAVAI_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.LiveKitURL == "" {
		config.LiveKitURL = livekit.DefaultURL
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.PruneSchedule == "" {
		config.PruneSchedule = scheduler.DefaultPruneSchedule
	}

	slog.Debug("environment variables loaded",
		"LIVEKIT_API_KEY_SET", config.LiveKitAPIKey != "",
		"LIVEKIT_API_SECRET_SET", config.LiveKitAPISecret != "",
		"LIVEKIT_URL", config.LiveKitURL,
		"LIVEKIT_WEBHOOK_SECRET_SET", config.LiveKitWebhookSecret != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TRAVAI_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"ONBOARDING_SCRIPT", config.ScriptPath,
		"CORS_ALLOWED_ORIGINS", config.CORSOrigins,
		"WEBHOOK_RETENTION", config.WebhookRetention,
		"PRUNE_SCHEDULE", config.PruneSchedule,
		"SESSION_IDLE_TIMEOUT", config.IdleTimeout,
		"TWILIO_CONFIGURED", config.TwilioAccountSID != "" && config.TwilioAuthToken != "",
		"ONBOARDING_NOTIFY_TO_SET", config.NotifyTo != "")

	return config
}

// parseCommandLineFlags parses args with environment values as defaults.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var (
		stateDir   = fs.String("state-dir", config.StateDir, "state directory for Travai data (overrides $TRAVAI_STATE_DIR)")
		dbDSN      = fs.String("db-dsn", config.DatabaseURL, "database DSN; Postgres URL or SQLite path (overrides $DATABASE_URL)")
		ephemeral  = fs.Bool("ephemeral", false, "keep all state in memory and skip the state directory")
		apiAddr    = fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
		openaiKey  = fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key for speech (overrides $OPENAI_API_KEY)")
		scriptPath = fs.String("script", config.ScriptPath, "YAML onboarding script (overrides $ONBOARDING_SCRIPT)")
	)
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	flags := Flags{
		StateDir:   *stateDir,
		DSN:        *dbDSN,
		Ephemeral:  *ephemeral,
		APIAddr:    *apiAddr,
		OpenAIKey:  *openaiKey,
		ScriptPath: *scriptPath,
	}
	// Without an explicit DSN the database lives in the (possibly overridden) state directory.
	if flags.DSN == "" && !flags.Ephemeral {
		flags.DSN = filepath.Join(flags.StateDir, DefaultDBFileName)
	}
	if flags.Ephemeral {
		flags.DSN = ""
	}

	slog.Debug("flags parsed",
		"stateDir", flags.StateDir,
		"dbDSN_set", flags.DSN != "",
		"ephemeral", flags.Ephemeral,
		"apiAddr", flags.APIAddr,
		"openaiKeySet", flags.OpenAIKey != "",
		"script", flags.ScriptPath)
	return flags, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	switch {
	case flags.DSN == "":
		slog.Debug("No database DSN provided, will use in-memory store")
	case store.DetectDSNType(flags.DSN) == "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.DSN))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", flags.DSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.DSN))
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) ([]api.Option, error) {
	apiOpts := []api.Option{
		api.WithAddr(flags.APIAddr),
		api.WithTokenIssuer(buildTokenIssuer(config)),
		api.WithWebhookReceiver(buildWebhookReceiver(config)),
		api.WithIdleTimeout(config.IdleTimeout),
		api.WithWebhookRetention(config.WebhookRetention),
		api.WithPruneSchedule(config.PruneSchedule),
	}
	if len(config.CORSOrigins) > 0 {
		apiOpts = append(apiOpts, api.WithCORSOrigins(config.CORSOrigins))
	}

	if flags.ScriptPath != "" {
		prompts, err := onboarding.LoadScript(flags.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load onboarding script: %w", err)
		}
		slog.Info("Loaded onboarding script", "path", flags.ScriptPath, "prompts", len(prompts))
		apiOpts = append(apiOpts, api.WithPrompts(prompts))
	}

	provider, err := buildSpeechProvider(flags)
	if err != nil {
		return nil, err
	}
	apiOpts = append(apiOpts, api.WithSpeech(provider))

	notifier, err := buildNotifier(config)
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		apiOpts = append(apiOpts, api.WithNotifier(notifier))
	}
	return apiOpts, nil
}

func buildTokenIssuer(config Config) *livekit.TokenIssuer {
	opts := []livekit.TokenIssuerOption{livekit.WithURL(config.LiveKitURL)}
	if config.LiveKitAPIKey != "" && config.LiveKitAPISecret != "" {
		opts = append(opts, livekit.WithCredentials(config.LiveKitAPIKey, config.LiveKitAPISecret))
	}
	return livekit.NewTokenIssuer(opts...)
}

func buildWebhookReceiver(config Config) *livekit.WebhookReceiver {
	var opts []livekit.WebhookOption
	if config.LiveKitWebhookSecret != "" {
		opts = append(opts,
			livekit.WithWebhookSecret(config.LiveKitWebhookSecret),
			livekit.WithAPICredentials(config.LiveKitAPIKey, config.LiveKitAPISecret))
	}
	return livekit.NewWebhookReceiver(opts...)
}

// buildSpeechProvider picks OpenAI speech when a key is set and the
// simulated text-as-audio provider otherwise.
func buildSpeechProvider(flags Flags) (speech.Provider, error) {
	if flags.OpenAIKey == "" {
		slog.Info("No OpenAI API key configured, using simulated speech")
		return speech.NewSimulatedProvider(), nil
	}
	p, err := speech.NewOpenAIProvider(speech.WithAPIKey(flags.OpenAIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI speech provider: %w", err)
	}
	return p, nil
}

// buildNotifier returns nil when completion SMS is not fully configured.
func buildNotifier(config Config) (flow.Notifier, error) {
	if config.NotifyTo == "" {
		return nil, nil
	}
	if config.TwilioAccountSID == "" || config.TwilioAuthToken == "" || config.TwilioFromNumber == "" {
		return nil, errors.New("ONBOARDING_NOTIFY_TO requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
	}
	sender, err := notify.NewTwilioSender(
		notify.WithAccountSID(config.TwilioAccountSID),
		notify.WithAuthToken(config.TwilioAuthToken),
		notify.WithFromNumber(config.TwilioFromNumber),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Twilio sender: %w", err)
	}
	slog.Info("Completion notifications enabled", "to", config.NotifyTo)
	return notify.NewCompletionNotifier(sender, config.NotifyTo), nil
}
