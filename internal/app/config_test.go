package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "gatekeeper_session", cfg.SessionCookie)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, "s3cret", cfg.CSRFKey())
	assert.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{SessionSecret: "x", StoreDriver: StoreDriverPostgres, PGDSN: "postgres://localhost/db"}
	}
	cases := map[string]func(*Config){
		"missing secret":  func(c *Config) { c.SessionSecret = "" },
		"unknown driver":  func(c *Config) { c.StoreDriver = "sqlite" },
		"missing dsn":     func(c *Config) { c.PGDSN = "" },
		"negative limits": func(c *Config) { c.RateLimitPerMinute = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg.CSRFSecret = "csrf"
	assert.Equal(t, "csrf", cfg.CSRFKey())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel(" Warning ").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
}
