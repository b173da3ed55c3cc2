package main

import (
	"context"
	"errors"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/rjooske/tabiji/internal/config"
	"github.com/rjooske/tabiji/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		LineChannelSecret:      "secret",
		LineChannelAccessToken: "token",
		ReplicateAPIToken:      "r8",
		Translator:             "openai",
		OpenAIAPIKey:           "sk-test",
		MaxPromptLength:        100,
		InProgressEchoLength:   30,
		APIAddr:                ":8080",
		StateDir:               config.DefaultStateDir,
	}
}

func TestParseCommandLineFlags_Defaults(t *testing.T) {
	cfg := testConfig()
	f := parseCommandLineFlags(flag.NewFlagSet("tabiji", flag.ContinueOnError), nil, cfg)
	applyFlags(&cfg, f)
	if cfg.APIAddr != ":8080" || cfg.StateDir != config.DefaultStateDir || cfg.DatabaseURL != "" {
		t.Errorf("defaults changed: %+v", cfg)
	}
	if cfg.DSN() != filepath.Join(config.DefaultStateDir, config.DefaultDBFileName) {
		t.Errorf("unexpected DSN %q", cfg.DSN())
	}
}

func TestParseCommandLineFlags_Overrides(t *testing.T) {
	cfg := testConfig()
	args := []string{"-api-addr", "127.0.0.1:9000", "-state-dir", "/tmp/tabiji-state"}
	f := parseCommandLineFlags(flag.NewFlagSet("tabiji", flag.ContinueOnError), args, cfg)
	applyFlags(&cfg, f)
	if cfg.APIAddr != "127.0.0.1:9000" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}
	// The default SQLite file follows the overridden state directory.
	if cfg.DSN() != filepath.Join("/tmp/tabiji-state", config.DefaultDBFileName) {
		t.Errorf("DSN = %q", cfg.DSN())
	}

	cfg = testConfig()
	f = parseCommandLineFlags(flag.NewFlagSet("tabiji", flag.ContinueOnError), []string{"-db-dsn", "postgres://db/tabiji"}, cfg)
	applyFlags(&cfg, f)
	if cfg.DSN() != "postgres://db/tabiji" {
		t.Errorf("DSN = %q", cfg.DSN())
	}
}

func TestBuildOptions(t *testing.T) {
	cfg := testConfig()
	if n := len(buildLineOptions(cfg)); n != 1 {
		t.Errorf("line options = %d, want 1", n)
	}
	cfg.LineAPIEndpoint = "http://localhost:9999"
	if n := len(buildLineOptions(cfg)); n != 2 {
		t.Errorf("line options with endpoint = %d, want 2", n)
	}
	if n := len(buildReplicateOptions(cfg)); n != 2 {
		t.Errorf("replicate options = %d, want 2", n)
	}

	st := store.NewInMemoryStore()
	if n := len(buildDispatchOptions(cfg, st)); n != 5 {
		t.Errorf("dispatch options = %d, want 5", n)
	}
	if n := len(buildAPIOptions(cfg, st)); n != 1 {
		t.Errorf("api options without token = %d, want 1", n)
	}
	cfg.APIToken = "history-token"
	if n := len(buildAPIOptions(cfg, st)); n != 3 {
		t.Errorf("api options with token = %d, want 3", n)
	}
	cfg.TLSCertFile, cfg.TLSKeyFile = "/cert.pem", "/key.pem"
	if n := len(buildAPIOptions(cfg, st)); n != 4 {
		t.Errorf("api options with TLS = %d, want 4", n)
	}
}

func TestBuildTranslator_OpenAI(t *testing.T) {
	tr, closeFn, err := buildTranslator(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("buildTranslator failed: %v", err)
	}
	defer closeFn()
	if tr == nil {
		t.Error("expected translator")
	}
}

func TestStartMaintenance(t *testing.T) {
	cfg := testConfig()
	sched, err := startMaintenance(cfg, store.NewInMemoryStore())
	if err != nil {
		t.Fatalf("startMaintenance with defaults failed: %v", err)
	}
	sched.Stop()

	cfg.DedupPruneSchedule = "every now and then"
	if _, err := startMaintenance(cfg, store.NewInMemoryStore()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

type fakeServer struct {
	startErr    error
	stop        chan struct{}
	shutdownErr error
	shutdowns   int
}

func (f *fakeServer) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	<-f.stop
	return nil
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.shutdowns++
	close(f.stop)
	return f.shutdownErr
}

func TestServeUntilDone_Signal(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := serveUntilDone(ctx, srv); err != nil {
		t.Errorf("serveUntilDone = %v", err)
	}
	if srv.shutdowns != 1 {
		t.Errorf("expected one shutdown, got %d", srv.shutdowns)
	}
}

func TestServeUntilDone_StartFails(t *testing.T) {
	srv := &fakeServer{startErr: errors.New("address in use"), stop: make(chan struct{})}
	err := serveUntilDone(context.Background(), srv)
	if err == nil || !errors.Is(err, srv.startErr) {
		t.Errorf("expected start error, got %v", err)
	}
	if srv.shutdowns != 0 {
		t.Error("a failed start must not be shut down")
	}
}

func TestServeUntilDone_ShutdownFails(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{}), shutdownErr: errors.New("boom")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := serveUntilDone(ctx, srv); err == nil {
		t.Error("expected shutdown error")
	}
}
