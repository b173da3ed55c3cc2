// Package api serves the LINE webhook and a small read-only HTTP API over
// the generation history.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rjooske/tabiji/internal/models"
	"github.com/rjooske/tabiji/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// ErrNoChannelSecret is returned by NewServer without a channel secret.
var ErrNoChannelSecret = errors.New("LINE channel secret is required")

// EventHandler handles one authenticated webhook event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event models.Event) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	CertFile string
	KeyFile  string
	History  store.HistoryRepo
	Token    string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTLS serves HTTPS with the given files, reloading them when they change.
func WithTLS(certFile, keyFile string) Option {
	return func(o *Opts) {
		o.CertFile = certFile
		o.KeyFile = keyFile
	}
}

// WithHistory exposes repo under /users/{userID}/generations. The endpoint is
// only mounted together with WithAPIToken.
func WithHistory(repo store.HistoryRepo) Option {
	return func(o *Opts) { o.History = repo }
}

// WithAPIToken sets the bearer token required by the history endpoint.
func WithAPIToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// Server is the HTTP front of the bot.
type Server struct {
	channelSecret string
	events        EventHandler
	history       store.HistoryRepo
	token         string
	addr          string
	certs         *CertReloader
	httpServer    *http.Server
}

// NewServer builds the router and, when TLS is configured, loads the
// certificate. Nothing listens until Start.
func NewServer(channelSecret string, events EventHandler, opts ...Option) (*Server, error) {
	if channelSecret == "" {
		return nil, ErrNoChannelSecret
	}
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Server config loaded", "addr", cfg.Addr, "tls", cfg.CertFile != "",
		"history_set", cfg.History != nil, "token_set", cfg.Token != "")
	if cfg.History != nil && cfg.Token == "" {
		slog.Warn("NewServer: history endpoint disabled, no API token configured")
	}

	s := &Server{
		channelSecret: channelSecret,
		events:        events,
		history:       cfg.History,
		token:         cfg.Token,
		addr:          cfg.Addr,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.CertFile != "" {
		certs, err := NewCertReloader(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		s.certs = certs
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: certs.GetCertificate,
		}
	}
	return s, nil
}

// Routes returns the router with all endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Post("/webhook", s.webhookHandler)
	if s.history != nil && s.token != "" {
		r.Group(func(r chi.Router) {
			r.Use(requireBearer(s.token))
			r.Get("/users/{userID}/generations", s.generationsHandler)
		})
	}
	return r
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if s.certs != nil {
		if err := s.certs.Watch(); err != nil {
			slog.Warn("Server.Serve: certificate reload disabled", "error", err)
		}
		slog.Info("Server.Serve: serving HTTPS", "addr", ln.Addr().String())
		err := s.httpServer.ServeTLS(ln, "", "")
		return ignoreClosed(err)
	}
	slog.Info("Server.Serve: serving HTTP", "addr", ln.Addr().String())
	return ignoreClosed(s.httpServer.Serve(ln))
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: shutting down")
	err := s.httpServer.Shutdown(ctx)
	if s.certs != nil {
		if cErr := s.certs.Close(); cErr != nil {
			slog.Warn("Server.Shutdown: closing certificate watcher failed", "error", cErr)
		}
	}
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
