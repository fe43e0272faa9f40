package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyhub/errutil"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "propertyhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env@localhost/propertyhub")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env@localhost/propertyhub", cfg.DatabaseURL)
	assert.Equal(t, 7*24*time.Hour, cfg.Sweep.OfferMaxAge)
	assert.Equal(t, 30*24*time.Hour, cfg.Sweep.InquiryRetention)
	assert.False(t, cfg.Sweep.AutoExpireAgreements)
	assert.False(t, cfg.Email.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
database_url: postgres://file@db/propertyhub
log:
  level: debug
sweep:
  interval: 5m
  offer_max_age: 48h
  auto_expire_agreements: true
email:
  enabled: true
  host: smtp.propertyhub.demo
  port: 2525
  from: listings@propertyhub.demo
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file@db/propertyhub", cfg.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "unset keys keep defaults")
	assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 48*time.Hour, cfg.Sweep.OfferMaxAge)
	assert.True(t, cfg.Sweep.AutoExpireAgreements)
	assert.Equal(t, 2525, cfg.Email.Port)
	assert.Equal(t, 10*time.Second, cfg.Email.Timeout)
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	path := writeFile(t, "log:\n  level: warn\nmetrics:\n  addr: 0.0.0.0:9000\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=error", "--sweep-interval=90s"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Sweep.Interval)
	assert.Equal(t, "0.0.0.0:9000", cfg.Metrics.Addr, "unchanged flag must not clobber the file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero interval", func(c *Config) { c.Sweep.Interval = 0 }, "sweep.interval"},
		{"negative offer age", func(c *Config) { c.Sweep.OfferMaxAge = -time.Hour }, "sweep.offer_max_age"},
		{"email without host", func(c *Config) { c.Email.Enabled = true }, "email.host"},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "auth.token_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errutil.ErrValidation)
			errutil.AssertErrorContext(t, err, "field", tt.field)
		})
	}

	require.NoError(t, Default().Validate())
}
