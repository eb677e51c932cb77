package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/convogate/convogate/internal/api"
	"github.com/convogate/convogate/internal/audit"
	"github.com/convogate/convogate/internal/config"
	"github.com/convogate/convogate/internal/confidence"
	"github.com/convogate/convogate/internal/decision"
	"github.com/convogate/convogate/internal/dedupe"
	"github.com/convogate/convogate/internal/fsm"
	"github.com/convogate/convogate/internal/governor"
	"github.com/convogate/convogate/internal/lockfile"
	"github.com/convogate/convogate/internal/store"
	"github.com/convogate/convogate/internal/util"
	"github.com/convogate/convogate/internal/validator"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ConvoGate state data
	DefaultStateDir = "/var/lib/convogate"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "convogate.db"
	// DefaultShutdownGrace bounds the drain of in-flight requests on shutdown
	DefaultShutdownGrace = 30 * time.Second
)

func main() {
	initializeLogger()

	cfg := loadEnvironmentConfig()
	flags := parseCommandLineFlags(cfg)

	if err := run(cfg, flags); err != nil {
		slog.Error("ConvoGate failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ConvoGate exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	APIAddr         string
	RedisAddr       string
	RedisPassword   string
	PolicyFile      string
	MaxConcurrent   int
	DecisionTimeout time.Duration
	ShutdownGrace   time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDSN      *string
	openaiKey  *string
	apiAddr    *string
	redisAddr  *string
	policyFile *string
}

// initializeLogger sets up structured logging. CONVOGATE_DEBUG=true enables
// debug-level output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CONVOGATE_DEBUG", false) {
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

	cfg := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("CONVOGATE_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		PolicyFile:      os.Getenv("CONVOGATE_POLICY_FILE"),
		MaxConcurrent:   util.ParseIntEnv("CONVOGATE_MAX_CONCURRENT", governor.DefaultMaxConcurrent),
		DecisionTimeout: util.ParseDurationEnv("CONVOGATE_DECISION_TIMEOUT", governor.DefaultDecisionTimeout),
		ShutdownGrace:   util.ParseDurationEnv("CONVOGATE_SHUTDOWN_GRACE", DefaultShutdownGrace),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
		slog.Debug("No CONVOGATE_STATE_DIR set, using default", "default_state_dir", cfg.StateDir)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"CONVOGATE_STATE_DIR", cfg.StateDir,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"API_ADDR", cfg.APIAddr,
		"REDIS_ADDR", cfg.RedisAddr,
		"CONVOGATE_POLICY_FILE", cfg.PolicyFile)

	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(cfg Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", cfg.StateDir, "state directory for ConvoGate data (overrides $CONVOGATE_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", cfg.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		openaiKey:  flag.String("openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:    flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		redisAddr:  flag.String("redis-addr", cfg.RedisAddr, "Redis address for the dedupe guard (overrides $REDIS_ADDR)"),
		policyFile: flag.String("policy-file", cfg.PolicyFile, "governance policy YAML file (overrides $CONVOGATE_POLICY_FILE)"),
	}

	flag.Parse()

	// Follow an overridden state directory when the DSN still points at the
	// default SQLite location.
	if *flags.dbDSN == filepath.Join(cfg.StateDir, DefaultDBFileName) && *flags.stateDir != cfg.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"redisAddr", *flags.redisAddr,
		"policyFile", *flags.policyFile)

	return flags
}

// run wires the modules together and serves until a termination signal.
func run(cfg Config, flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := config.Load(*flags.policyFile)
	if err != nil {
		return err
	}
	if errs := policy.Validate(); len(errs) > 0 {
		slog.Error("Policy validation failed, refusing to start", "violations", len(errs))
		return errs[0]
	}
	transitions := policy.TransitionMap()

	// Single-writer guarantee for file-based state: refuse to start when
	// another instance already owns the state directory.
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	sessions, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer sessions.Close()

	guard, err := buildDedupeGuard(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer guard.Close()

	source, err := decision.NewOpenAISource(*flags.openaiKey)
	if err != nil {
		return err
	}
	reviewer, err := decision.NewOpenAIReviewer(*flags.openaiKey)
	if err != nil {
		return err
	}

	consolidator, err := confidence.NewConsolidator(policy.Weights, policy.Overrides.ForceClose, policy.Overrides.ForceEscalate)
	if err != nil {
		return err
	}

	v := validator.New(transitions, validator.NewPIIScanner(nil), reviewer, policy.Thresholds.Low, policy.Thresholds.Accept)

	gov := governor.New(governor.Config{
		MaxConcurrent:   cfg.MaxConcurrent,
		DecisionTimeout: cfg.DecisionTimeout,
		AcceptThreshold: policy.Thresholds.Accept,
	}, fsm.NewMachine(transitions), sessions, guard, source, v, consolidator,
		audit.MultiSink{audit.NewLogSink(), audit.NewStoreSink(sessions)})

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(gov, sessions, policy, apiOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()
	slog.Info("ConvoGate started", "policy_version", policy.Version)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Termination signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown failed", "error", err)
	}
	if err := gov.Shutdown(shutdownCtx); err != nil {
		slog.Error("Pipeline drain failed", "error", err)
	}
	return nil
}

// buildStore selects the session store backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// closableGuard pairs the dedupe guard contract with resource release.
type closableGuard interface {
	dedupe.Guard
	Close() error
}

// noopCloseGuard wraps the in-memory guard with a Close for uniform teardown.
type noopCloseGuard struct {
	*dedupe.MemoryGuard
}

func (noopCloseGuard) Close() error { return nil }

// buildDedupeGuard uses Redis when an address is configured and falls back to
// the in-process guard otherwise. The fallback cannot suppress duplicates
// across replicas.
func buildDedupeGuard(ctx context.Context, cfg Config, flags Flags) (closableGuard, error) {
	if *flags.redisAddr == "" {
		slog.Warn("No Redis address configured, using in-memory dedupe guard")
		return noopCloseGuard{dedupe.NewMemoryGuard()}, nil
	}
	opts := []dedupe.Option{dedupe.WithAddr(*flags.redisAddr)}
	if cfg.RedisPassword != "" {
		opts = append(opts, dedupe.WithPassword(cfg.RedisPassword))
	}
	return dedupe.NewRedisGuard(ctx, opts...)
}
