package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

// Config is the worker's flat configuration surface: store endpoint and
// credential, migration path, embeddings endpoint, model and credential,
// crawl User-Agent, the two scheduling knobs, NSQ addresses, and the
// startup database-ping retry settings.
type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"weaver"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"weaver"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	EmbeddingsURL   string `envconfig:"EMBEDDINGS_URL"`
	EmbeddingsModel string `envconfig:"EMBEDDINGS_MODEL" default:"text-embedding-3-small"`
	EmbeddingsKey   string `envconfig:"EMBEDDINGS_API_KEY"`

	UserAgent string `envconfig:"CRAWL_USER_AGENT" default:"weaver-crawler/1.0 (+https://corpusgraph.example/bot)"`

	MaxConcurrentJobs int `envconfig:"MAX_CONCURRENT_JOBS" default:"3"`
	FallbackPollMS    int `envconfig:"FALLBACK_POLL_MS" default:"60000"`

	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`

	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors: env vars might already be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.EmbeddingsURL == "" {
		return fmt.Errorf("%w: EMBEDDINGS_URL", ErrMissingRequired)
	}
	if c.EmbeddingsKey == "" {
		return fmt.Errorf("%w: EMBEDDINGS_API_KEY", ErrMissingRequired)
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 3
	}
	if c.FallbackPollMS <= 0 {
		c.FallbackPollMS = 60000
	}
	return nil
}
