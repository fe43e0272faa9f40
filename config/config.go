// Package config builds the process configuration once at startup from
// defaults, an optional YAML file and command-line flags.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"propertyhub/errutil"
)

// Config is the full process configuration.
type Config struct {
	DatabaseURL string  `koanf:"database_url"`
	Log         Log     `koanf:"log"`
	Auth        Auth    `koanf:"auth"`
	Email       Email   `koanf:"email"`
	Sweep       Sweep   `koanf:"sweep"`
	Metrics     Metrics `koanf:"metrics"`
}

type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type Auth struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// Email configures outbound notification mail. When Enabled is false
// notices are only logged.
type Email struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	From            string        `koanf:"from"`
	Timeout         time.Duration `koanf:"timeout"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

type Sweep struct {
	Interval             time.Duration `koanf:"interval"`
	OfferMaxAge          time.Duration `koanf:"offer_max_age"`
	InquiryRetention     time.Duration `koanf:"inquiry_retention"`
	AutoExpireAgreements bool          `koanf:"auto_expire_agreements"`
}

type Metrics struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: Log{Format: "json", Level: "info"},
		Auth: Auth{
			TokenTTL: 24 * time.Hour,
		},
		Email: Email{
			Port:            587,
			From:            "no-reply@propertyhub.local",
			Timeout:         10 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Sweep: Sweep{
			Interval:         time.Hour,
			OfferMaxAge:      7 * 24 * time.Hour,
			InquiryRetention: 30 * 24 * time.Hour,
		},
		Metrics: Metrics{Addr: "127.0.0.1:9100"},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"database-url":           "database_url",
	"log-format":             "log.format",
	"log-level":              "log.level",
	"metrics-addr":           "metrics.addr",
	"sweep-interval":         "sweep.interval",
	"auto-expire-agreements": "sweep.auto_expire_agreements",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("database-url", "", "Postgres connection string (default $DATABASE_URL)")
	fs.String("log-format", d.Log.Format, "log format: json or text")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics listen address")
	fs.Duration("sweep-interval", d.Sweep.Interval, "interval between sweep passes")
	fs.Bool("auto-expire-agreements", d.Sweep.AutoExpireAgreements, "let the sweep expire agreements past their end date")
}

// Load reads path (optional) and the changed flags in fs (optional) over
// Default, then validates the result.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	invalid := func(field string, value any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).With("value", value).Wrap(errutil.ErrValidation)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", c.Log.Format)
	}
	if c.Auth.TokenTTL <= 0 {
		return invalid("auth.token_ttl", c.Auth.TokenTTL)
	}
	if c.Sweep.Interval <= 0 {
		return invalid("sweep.interval", c.Sweep.Interval)
	}
	if c.Sweep.OfferMaxAge <= 0 {
		return invalid("sweep.offer_max_age", c.Sweep.OfferMaxAge)
	}
	if c.Sweep.InquiryRetention <= 0 {
		return invalid("sweep.inquiry_retention", c.Sweep.InquiryRetention)
	}
	if c.Email.Enabled {
		if c.Email.Host == "" {
			return invalid("email.host", c.Email.Host)
		}
		if c.Email.From == "" {
			return invalid("email.from", c.Email.From)
		}
		if c.Email.Port <= 0 {
			return invalid("email.port", c.Email.Port)
		}
		if c.Email.Timeout <= 0 {
			return invalid("email.timeout", c.Email.Timeout)
		}
	}
	return nil
}
