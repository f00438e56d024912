package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	QueueMemory = "memory"
	QueueNATS   = "nats"
)

type Config struct {
	AppName      string `env:"ORCID_APP_NAME" envDefault:"orcid-service"`
	AppEnv       string `env:"ORCID_APP_ENV" envDefault:"local"`
	HTTPHost     string `env:"ORCID_HTTP_HOST" envDefault:"0.0.0.0"`
	HTTPPort     string `env:"ORCID_HTTP_PORT" envDefault:"8082"`
	HTTPBasePath string `env:"ORCID_HTTP_BASE_PATH" envDefault:"/api/v1"`
	PublicURL    string `env:"ORCID_PUBLIC_URL" envDefault:"http://localhost:8082"`

	DBHost     string `env:"ORCID_DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"ORCID_DB_PORT" envDefault:"5432"`
	DBUser     string `env:"ORCID_DB_USER" envDefault:"app"`
	DBPassword string `env:"ORCID_DB_PASSWORD" envDefault:"app_password"`
	DBName     string `env:"ORCID_DB_NAME" envDefault:"journal"`
	DBSSLMode  string `env:"ORCID_DB_SSLMODE" envDefault:"disable"`

	SessionSecret string        `env:"ORCID_SESSION_SECRET"`
	StateSecret   string        `env:"ORCID_STATE_SECRET"`
	StateTTL      time.Duration `env:"ORCID_STATE_TTL" envDefault:"30m"`

	APIVersion  string        `env:"ORCID_API_VERSION" envDefault:"v3.0"`
	HTTPTimeout time.Duration `env:"ORCID_HTTP_TIMEOUT" envDefault:"10s"`
	RateLimit   float64       `env:"ORCID_RATE_LIMIT" envDefault:"8"`
	RateBurst   int           `env:"ORCID_RATE_BURST" envDefault:"4"`

	DepositQueue           string        `env:"ORCID_DEPOSIT_QUEUE" envDefault:"memory"`
	DepositWorkers         int           `env:"ORCID_DEPOSIT_WORKERS" envDefault:"4"`
	DepositBuffer          int           `env:"ORCID_DEPOSIT_BUFFER" envDefault:"256"`
	DepositRetryInitial    time.Duration `env:"ORCID_DEPOSIT_RETRY_INITIAL" envDefault:"500ms"`
	DepositRetryMaxElapsed time.Duration `env:"ORCID_DEPOSIT_RETRY_MAX_ELAPSED" envDefault:"2m"`

	NATSURL              string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSDepositSubject   string `env:"NATS_SUBJECT_DEPOSIT" envDefault:"orcid.deposit"`
	NATSPublishedSubject string `env:"NATS_SUBJECT_PUBLICATION_PUBLISHED" envDefault:"publication.published"`
	NATSReviewSubject    string `env:"NATS_SUBJECT_REVIEW_COMPLETED" envDefault:"review.completed"`
	NATSMailSubject      string `env:"NATS_SUBJECT_AUTHOR_VERIFICATION" envDefault:"mail.orcid.author_verification"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// CallbackURL is the redirect URI registered with ORCID for every journal.
func (c *Config) CallbackURL() string {
	return c.PublicURL + c.HTTPBasePath + "/orcid/callback"
}
