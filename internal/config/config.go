// Package config loads the gorelay runtime configuration from the
// environment, optionally seeded by a .env file.
package config

import (
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/Tyrowin/gorelay/internal/store"
)

// Config holds every setting of the relay process.
type Config struct {
	Port                    string        `env:"SERVER_PORT,default=:8080" validate:"required"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize          int64         `env:"MAX_MESSAGE_SIZE,default=4096" validate:"gt=0"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=5" validate:"gt=0"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s" validate:"gt=0"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE,default=256" validate:"gt=0"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
	LogLevel                string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`

	// StoreDriver is one of store.Drivers and defaults to store.DriverMemory.
	StoreDriver string `env:"STORE_DRIVER"`
	DatabaseURL string `env:"DATABASE_URL"`
	BadgerPath  string `env:"BADGER_PATH"`

	NodeID        string        `env:"NODE_ID" validate:"excludes=:"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0" validate:"gte=0"`
	PresenceTTL   time.Duration `env:"PRESENCE_TTL,default=2m" validate:"gt=0"`

	NatsURL     string `env:"NATS_URL"`
	NatsSubject string `env:"NATS_SUBJECT,default=relay.messages.stored" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateStore, Config{})
	return v
}

// validateStore checks the driver name against store.Drivers and requires
// the setting each persistent driver opens.
func validateStore(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)

	switch c.StoreDriver {
	case store.DriverPostgres:
		if c.DatabaseURL == "" {
			sl.ReportError(c.DatabaseURL, "DatabaseURL", "DatabaseURL", "required_if", "StoreDriver "+store.DriverPostgres)
		}
	case store.DriverBadger:
		if c.BadgerPath == "" {
			sl.ReportError(c.BadgerPath, "BadgerPath", "BadgerPath", "required_if", "StoreDriver "+store.DriverBadger)
		}
	}
	if !lo.Contains(store.Drivers, c.StoreDriver) {
		sl.ReportError(c.StoreDriver, "StoreDriver", "StoreDriver", "oneof", strings.Join(store.Drivers, " "))
	}
}

// Load reads an optional .env file, then the process environment, fills in
// derived defaults and validates the result.
func Load() (Config, error) {
	// A missing .env file is the normal case outside development.
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "read environment")
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = store.DriverMemory
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// Origins splits AllowedOrigins on commas, dropping blanks.
func (c Config) Origins() []string {
	parts := lo.Map(strings.Split(c.AllowedOrigins, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(parts)
}
