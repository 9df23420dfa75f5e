// File: internal/config/config_test.go
package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "mgrant-e2e", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Network.NavigationTimeout)
	assert.Equal(t, "http://localhost:3000", cfg.App.BaseURL)
	assert.Equal(t, "/login", cfg.App.LoginPath)
	assert.Equal(t, "testplan.yaml", cfg.Suite.Manifest)
	assert.Equal(t, "full", cfg.Suite.Profile)
	assert.Equal(t, 12*time.Hour, cfg.Auth.MaxAge)
	assert.False(t, cfg.Store.Enabled)
	assert.False(t, cfg.Triage.Enabled)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("valid defaults", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing base url", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.App.BaseURL = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "app.base_url")
	})

	t.Run("non-positive timeouts", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Network.NavigationTimeout = 0
		require.ErrorContains(t, cfg.Validate(), "navigation_timeout")

		cfg = NewDefaultConfig()
		cfg.Suite.DefaultModuleTimeout = -time.Second
		require.ErrorContains(t, cfg.Validate(), "default_module_timeout")
	})

	t.Run("store enabled without url", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Store.Enabled = true
		require.ErrorContains(t, cfg.Validate(), "MGRANT_E2E_STORE_URL")
	})

	t.Run("github notify requires repo and token", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Notify.GitHub.Enabled = true
		require.ErrorContains(t, cfg.Validate(), "repo_owner")

		cfg.Notify.GitHub.RepoOwner = "mgrantlabs"
		cfg.Notify.GitHub.RepoName = "mgrant"
		require.ErrorContains(t, cfg.Validate(), "MGRANT_E2E_GH_TOKEN")

		cfg.Notify.GitHub.Token = "ghp_dummy"
		assert.NoError(t, cfg.Validate())
	})
}

func TestNewFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")

	yml := `
app:
  base_url: https://staging.mgrant.io
  login_path: /signin
browser:
  headless: false
  slow_mo: 250ms
network:
  navigation_timeout: 20s
suite:
  profile: smoke
`
	require.NoError(t, v.ReadConfig(strings.NewReader(yml)))

	cfg, err := NewFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.mgrant.io", cfg.App.BaseURL)
	assert.Equal(t, "/signin", cfg.App.LoginPath)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 250*time.Millisecond, cfg.Browser.SlowMo)
	assert.Equal(t, 20*time.Second, cfg.Network.NavigationTimeout)
	assert.Equal(t, "smoke", cfg.Suite.Profile)
	// Untouched sections keep their defaults.
	assert.Equal(t, "/dashboard", cfg.App.ProtectedPath)
	assert.Equal(t, 15*time.Second, cfg.Network.ActionTimeout)
}

func TestNewFromViperEnvCredentials(t *testing.T) {
	t.Setenv("MGRANT_E2E_APP_USERNAME", "qa@mgrant.io")
	t.Setenv("MGRANT_E2E_APP_PASSWORD", "hunter2")

	v := viper.New()
	SetDefaults(v)

	cfg, err := NewFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "qa@mgrant.io", cfg.App.Username)
	assert.Equal(t, "hunter2", cfg.App.Password)
}
