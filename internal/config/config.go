// Package config loads tabiji's settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/rjooske/tabiji/internal/flow"
	"github.com/rjooske/tabiji/internal/translate"
)

const (
	// DefaultStateDir holds the lock file and the default SQLite database.
	DefaultStateDir = "/var/lib/tabiji"
	// DefaultDBFileName is the SQLite database used when DATABASE_URL is unset.
	DefaultDBFileName = "tabiji.db"
)

var (
	// ErrMissingCredentials is returned when the selected translator has no credentials.
	ErrMissingCredentials = errors.New("missing translator credentials")
	// ErrInvalidTLS is returned when only one of the TLS files is set.
	ErrInvalidTLS = errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	// ErrInvalidLimit is returned for non-positive limits and retention.
	ErrInvalidLimit = errors.New("limits and retention must be positive")
	// ErrMissingDeveloper is returned for a development bot without DEVELOPER_LINE_USER_ID.
	ErrMissingDeveloper = errors.New("development bot needs DEVELOPER_LINE_USER_ID")
)

// Config holds every environment-driven setting.
type Config struct {
	LineChannelSecret      string `env:"LINE_CHANNEL_SECRET,required,notEmpty"`
	LineChannelAccessToken string `env:"LINE_CHANNEL_ACCESS_TOKEN,required,notEmpty"`
	LineAPIEndpoint        string `env:"LINE_API_ENDPOINT"`

	BotKind             string `env:"BOT_KIND" envDefault:"production"`
	DeveloperLineUserID string `env:"DEVELOPER_LINE_USER_ID"`

	ReplicateAPIToken      string        `env:"REPLICATE_API_TOKEN,required,notEmpty"`
	ReplicateBaseURL       string        `env:"REPLICATE_BASE_URL"`
	ReplicatePollInterval  time.Duration `env:"REPLICATE_POLL_INTERVAL" envDefault:"1s"`
	StableDiffusionVersion string        `env:"STABLE_DIFFUSION_VERSION"`
	AnythingV4Version      string        `env:"ANYTHING_V4_VERSION"`

	Translator             string `env:"TRANSLATOR" envDefault:"google"`
	GoogleCloudClientEmail string `env:"GOOGLE_CLOUD_CLIENT_EMAIL"`
	GoogleCloudPrivateKey  string `env:"GOOGLE_CLOUD_PRIVATE_KEY"`
	GoogleCloudProjectID   string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	OpenAIAPIKey           string `env:"OPENAI_API_KEY"`
	OpenAIModel            string `env:"OPENAI_MODEL"`

	MaxPromptLength      int `env:"MAX_PROMPT_LENGTH" envDefault:"100"`
	InProgressEchoLength int `env:"IN_PROGRESS_ECHO_LENGTH" envDefault:"30"`

	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`
	APIToken    string `env:"API_TOKEN"`

	StateDir    string `env:"TABIJI_STATE_DIR" envDefault:"/var/lib/tabiji"`
	DatabaseURL string `env:"DATABASE_URL"`

	DedupRetention     time.Duration `env:"DEDUP_RETENTION" envDefault:"72h"`
	DedupPruneSchedule string        `env:"DEDUP_PRUNE_SCHEDULE" envDefault:"@hourly"`
}

// Load reads .env if present, then parses the process environment. Variables
// already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("config.Load: .env file loaded")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return finish(cfg)
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.LogValues()
	return cfg, nil
}

// Validate checks the settings that depend on each other.
func (c Config) Validate() error {
	provider, err := translate.ParseProvider(c.Translator)
	if err != nil {
		return err
	}
	switch provider {
	case translate.ProviderGoogle:
		if c.GoogleCloudClientEmail == "" || c.GoogleCloudPrivateKey == "" {
			return fmt.Errorf("%w: google needs GOOGLE_CLOUD_CLIENT_EMAIL and GOOGLE_CLOUD_PRIVATE_KEY", ErrMissingCredentials)
		}
	case translate.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: openai needs OPENAI_API_KEY", ErrMissingCredentials)
		}
	}
	kind, err := flow.ParseBotKind(c.BotKind)
	if err != nil {
		return err
	}
	if kind == flow.BotDevelopment && c.DeveloperLineUserID == "" {
		return ErrMissingDeveloper
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return ErrInvalidTLS
	}
	if c.MaxPromptLength <= 0 || c.InProgressEchoLength <= 0 || c.DedupRetention <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// TranslatorProvider returns the validated translation provider.
func (c Config) TranslatorProvider() translate.Provider {
	p, _ := translate.ParseProvider(c.Translator)
	return p
}

// Kind returns the validated bot kind.
func (c Config) Kind() flow.BotKind {
	k, _ := flow.ParseBotKind(c.BotKind)
	return k
}

// DSN returns DATABASE_URL, or a SQLite file in the state directory.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// TLSEnabled reports whether the API should serve HTTPS.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// LogValues logs the configuration with secrets reduced to *_set flags.
func (c Config) LogValues() {
	slog.Debug("config loaded",
		"LINE_CHANNEL_SECRET_set", c.LineChannelSecret != "",
		"LINE_CHANNEL_ACCESS_TOKEN_set", c.LineChannelAccessToken != "",
		"LINE_API_ENDPOINT", c.LineAPIEndpoint,
		"BOT_KIND", c.BotKind,
		"DEVELOPER_LINE_USER_ID_set", c.DeveloperLineUserID != "",
		"REPLICATE_API_TOKEN_set", c.ReplicateAPIToken != "",
		"REPLICATE_POLL_INTERVAL", c.ReplicatePollInterval,
		"TRANSLATOR", c.Translator,
		"GOOGLE_CLOUD_PRIVATE_KEY_set", c.GoogleCloudPrivateKey != "",
		"OPENAI_API_KEY_set", c.OpenAIAPIKey != "",
		"OPENAI_MODEL", c.OpenAIModel,
		"MAX_PROMPT_LENGTH", c.MaxPromptLength,
		"IN_PROGRESS_ECHO_LENGTH", c.InProgressEchoLength,
		"API_ADDR", c.APIAddr,
		"TLS_enabled", c.TLSEnabled(),
		"API_TOKEN_set", c.APIToken != "",
		"TABIJI_STATE_DIR", c.StateDir,
		"DATABASE_URL_set", c.DatabaseURL != "",
		"DEDUP_RETENTION", c.DedupRetention,
		"DEDUP_PRUNE_SCHEDULE", c.DedupPruneSchedule)
}
