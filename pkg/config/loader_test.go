package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafitos77/vipgate/pkg/config"
)

type serverConfig struct {
	Addr    string `env:"TEST_SERVER_ADDR" envDefault:":8080"`
	Debug   bool   `env:"TEST_SERVER_DEBUG" envDefault:"false"`
	Workers int    `env:"TEST_SERVER_WORKERS" envDefault:"4"`
}

type routingConfig struct {
	Domestic string   `env:"TEST_ROUTING_DOMESTIC" envDefault:"asaas"`
	Disabled []string `env:"TEST_ROUTING_DISABLED" envSeparator:","`
}

type requiredConfig struct {
	Token string `env:"TEST_REQUIRED_TOKEN,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		var cfg serverConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, 4, cfg.Workers)
		assert.False(t, cfg.Debug)
	})

	t.Run("environment overrides and separators", func(t *testing.T) {
		t.Setenv("TEST_ROUTING_DOMESTIC", "pushinpay")
		t.Setenv("TEST_ROUTING_DISABLED", "weekly,monthly")

		var cfg routingConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "pushinpay", cfg.Domestic)
		assert.Equal(t, []string{"weekly", "monthly"}, cfg.Disabled)
	})

	t.Run("cached per type", func(t *testing.T) {
		var first serverConfig
		require.NoError(t, config.Load(&first))

		// Changing the environment after the first load must not change the
		// cached result.
		t.Setenv("TEST_SERVER_WORKERS", "99")
		var second serverConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, first, second)
	})

	t.Run("missing required value", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		err := config.Load[serverConfig](nil)
		assert.ErrorIs(t, err, config.ErrNilPointer)
	})
}
