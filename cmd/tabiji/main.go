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

	"github.com/rjooske/tabiji/internal/api"
	"github.com/rjooske/tabiji/internal/config"
	"github.com/rjooske/tabiji/internal/dispatch"
	"github.com/rjooske/tabiji/internal/flow"
	"github.com/rjooske/tabiji/internal/imagegen"
	"github.com/rjooske/tabiji/internal/lockfile"
	"github.com/rjooske/tabiji/internal/messaging"
	"github.com/rjooske/tabiji/internal/scheduler"
	"github.com/rjooske/tabiji/internal/store"
	"github.com/rjooske/tabiji/internal/translate"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take on exit.
// Generation jobs are waited for without a bound.
const shutdownTimeout = 15 * time.Second

func main() {
	initializeLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], cfg)
	applyFlags(&cfg, flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping tabiji", "api_addr", cfg.APIAddr, "state_dir", cfg.StateDir, "translator", cfg.Translator, "bot_kind", cfg.BotKind)
	if err := run(ctx, cfg); err != nil {
		slog.Error("tabiji failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("tabiji exited successfully")
}

// Flags holds command line flag values.
type Flags struct {
	apiAddr  string
	stateDir string
	dbDSN    string
}

// initializeLogger sets up structured logging with debug level.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// parseCommandLineFlags parses args with the environment values as defaults.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg config.Config) Flags {
	var f Flags
	fs.StringVar(&f.apiAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&f.stateDir, "state-dir", cfg.StateDir, "state directory for the lock file and default database (overrides $TABIJI_STATE_DIR)")
	fs.StringVar(&f.dbDSN, "db-dsn", cfg.DatabaseURL, "database DSN, PostgreSQL or SQLite path (overrides $DATABASE_URL)")
	if err := fs.Parse(args); err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	slog.Debug("flags parsed", "api_addr", f.apiAddr, "state_dir", f.stateDir, "db_dsn_set", f.dbDSN != "")
	return f
}

// applyFlags copies flag values over the configuration. An empty DSN keeps
// the SQLite default under the (possibly overridden) state directory.
func applyFlags(cfg *config.Config, f Flags) {
	cfg.APIAddr = f.apiAddr
	cfg.StateDir = f.stateDir
	cfg.DatabaseURL = f.dbDSN
}

// run wires every component and blocks until ctx is cancelled or the server
// fails. Running jobs are always drained before the store is closed.
func run(ctx context.Context, cfg config.Config) error {
	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	dsn := cfg.DSN()
	if store.DetectDSNType(dsn) == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := store.Open(dsn)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	sched, err := startMaintenance(cfg, st)
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	defer sched.Stop()

	client, err := messaging.NewLineClient(buildLineOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("create LINE client: %w", err)
	}

	translator, closeTranslator, err := buildTranslator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create translator: %w", err)
	}
	defer closeTranslator()

	replicate, err := imagegen.NewReplicateClient(buildReplicateOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("create replicate client: %w", err)
	}
	backends := imagegen.NewBackends(replicate, cfg.StableDiffusionVersion, cfg.AnythingV4Version)

	dispatcher := dispatch.New(client, flow.NewRegistry(), translator, backends, buildDispatchOptions(cfg, st)...)
	defer dispatcher.Wait()

	srv, err := api.NewServer(cfg.LineChannelSecret, dispatcher, buildAPIOptions(cfg, st)...)
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	return serveUntilDone(ctx, srv)
}

// startMaintenance schedules dedup pruning against st.
func startMaintenance(cfg config.Config, st store.DedupRepo) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler()
	retention := cfg.DedupRetention
	if retention <= 0 {
		retention = scheduler.DefaultDedupRetention
	}
	expr := cfg.DedupPruneSchedule
	if expr == "" {
		expr = scheduler.DefaultPruneSchedule
	}
	if err := sched.AddJob("prune-dedup", expr, scheduler.PruneDedupJob(st, retention, time.Now)); err != nil {
		return nil, err
	}
	sched.Start()
	return sched, nil
}

type server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serveUntilDone runs srv until it fails or ctx is cancelled, then shuts it down.
func serveUntilDone(ctx context.Context, srv server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// buildLineOptions constructs LINE client options.
func buildLineOptions(cfg config.Config) []messaging.Option {
	opts := []messaging.Option{messaging.WithChannelAccessToken(cfg.LineChannelAccessToken)}
	if cfg.LineAPIEndpoint != "" {
		opts = append(opts, messaging.WithEndpoint(cfg.LineAPIEndpoint))
	}
	return opts
}

// buildTranslator creates the configured translation backend. The returned
// func releases it.
func buildTranslator(ctx context.Context, cfg config.Config) (translate.Translator, func(), error) {
	switch cfg.TranslatorProvider() {
	case translate.ProviderOpenAI:
		opts := []translate.OpenAIOption{translate.WithAPIKey(cfg.OpenAIAPIKey)}
		if cfg.OpenAIModel != "" {
			opts = append(opts, translate.WithModel(cfg.OpenAIModel))
		}
		t, err := translate.NewOpenAITranslator(opts...)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	default:
		opts := []translate.GoogleOption{translate.WithServiceAccount(cfg.GoogleCloudClientEmail, cfg.GoogleCloudPrivateKey)}
		if cfg.GoogleCloudProjectID != "" {
			opts = append(opts, translate.WithProjectID(cfg.GoogleCloudProjectID))
		}
		t, err := translate.NewGoogleTranslator(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {
			if err := t.Close(); err != nil {
				slog.Warn("Failed to close translator", "error", err)
			}
		}, nil
	}
}

// buildReplicateOptions constructs Replicate client options.
func buildReplicateOptions(cfg config.Config) []imagegen.ReplicateOption {
	opts := []imagegen.ReplicateOption{
		imagegen.WithToken(cfg.ReplicateAPIToken),
		imagegen.WithPollInterval(cfg.ReplicatePollInterval),
	}
	if cfg.ReplicateBaseURL != "" {
		opts = append(opts, imagegen.WithBaseURL(cfg.ReplicateBaseURL))
	}
	return opts
}

// buildDispatchOptions constructs dispatcher options.
func buildDispatchOptions(cfg config.Config, st store.Store) []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithMaxPromptLength(cfg.MaxPromptLength),
		dispatch.WithEchoLength(cfg.InProgressEchoLength),
		dispatch.WithDedup(st),
		dispatch.WithHistory(st),
		dispatch.WithBotKind(cfg.Kind(), cfg.DeveloperLineUserID),
	}
}

// buildAPIOptions constructs API server options. The history endpoint is
// exposed only when an API token is configured.
func buildAPIOptions(cfg config.Config, st store.Store) []api.Option {
	opts := []api.Option{api.WithAddr(cfg.APIAddr)}
	if cfg.APIToken != "" {
		opts = append(opts, api.WithHistory(st), api.WithAPIToken(cfg.APIToken))
	}
	if cfg.TLSEnabled() {
		opts = append(opts, api.WithTLS(cfg.TLSCertFile, cfg.TLSKeyFile))
	}
	return opts
}
