package config_test

import (
	"testing"
	"time"

	"github.com/khanh1998/test-pilot/internal/assert"
	"github.com/khanh1998/test-pilot/internal/assert/helpers"
	"github.com/khanh1998/test-pilot/internal/config"
	"github.com/khanh1998/test-pilot/pkg/api"
)

func TestConfigValidation(t *testing.T) {
	as := assert.New(t)

	t.Run("valid_default_config", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		as.ConfigValid(cfg)
	})

	t.Run("valid_test_config", func(t *testing.T) {
		cfg := helpers.NewTestConfig()
		as.ConfigValid(cfg)
	})

	tests := []struct {
		name          string
		configMod     func(*config.Config)
		errorContains string
	}{
		{
			name: "invalid_api_port_zero",
			configMod: func(c *config.Config) {
				c.APIPort = 0
			},
			errorContains: "invalid API port",
		},
		{
			name: "invalid_api_port_negative",
			configMod: func(c *config.Config) {
				c.APIPort = -1
			},
			errorContains: "invalid API port",
		},
		{
			name: "invalid_api_port_too_high",
			configMod: func(c *config.Config) {
				c.APIPort = 70000
			},
			errorContains: "invalid API port",
		},
		{
			name: "zero_request_timeout",
			configMod: func(c *config.Config) {
				c.RequestTimeout = 0
			},
			errorContains: "request timeout must be positive",
		},
		{
			name: "zero_init_backoff",
			configMod: func(c *config.Config) {
				c.Work.InitBackoff = 0
			},
			errorContains: "retry initial backoff must be positive",
		},
		{
			name: "max_backoff_below_initial",
			configMod: func(c *config.Config) {
				c.Work.InitBackoff = 5000
				c.Work.MaxBackoff = 1000
			},
			errorContains: "retry max backoff must be >=",
		},
		{
			name: "unknown_backoff_type",
			configMod: func(c *config.Config) {
				c.Work.BackoffType = "quadratic"
			},
			errorContains: "invalid retry backoff type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := helpers.NewTestConfig()
			tt.configMod(cfg)
			as.ConfigInvalid(cfg, tt.errorContains)
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	as := assert.New(t)

	cfg := config.NewDefaultConfig()

	as.Equal(config.DefaultAPIPort, cfg.APIPort)
	as.Equal(config.DefaultAPIHost, cfg.APIHost)
	as.Equal(config.DefaultRequestTimeout, cfg.RequestTimeout)
	as.Equal(config.DefaultShutdownTimeout, cfg.ShutdownTimeout)
	as.Equal("info", cfg.LogLevel)
	as.False(cfg.PreserveCookies)
	as.Equal(config.DefaultRetryMaxRetries, cfg.Work.MaxRetries)
	as.Equal(api.BackoffTypeExponential, cfg.Work.BackoffType)
}

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		check   func(as *assert.Wrapper, c *config.Config)
		envVars map[string]string
		name    string
		wantErr string
	}{
		{
			name: "load_all_fields",
			envVars: map[string]string{
				"API_HOST":              "127.0.0.1",
				"API_PORT":              "9090",
				"LOG_LEVEL":             "debug",
				"REQUEST_TIMEOUT":       "5000",
				"PRESERVE_COOKIES":      "true",
				"RETRY_MAX_RETRIES":     "7",
				"RETRY_INITIAL_BACKOFF": "250",
				"RETRY_MAX_BACKOFF":     "4000",
				"RETRY_BACKOFF_TYPE":    "linear",
			},
			check: func(as *assert.Wrapper, c *config.Config) {
				as.Equal("127.0.0.1", c.APIHost)
				as.Equal(9090, c.APIPort)
				as.Equal("debug", c.LogLevel)
				as.Equal(5*time.Second, c.RequestTimeout)
				as.True(c.PreserveCookies)
				as.Equal(7, c.Work.MaxRetries)
				as.Equal(int64(250), c.Work.InitBackoff)
				as.Equal(int64(4000), c.Work.MaxBackoff)
				as.Equal(api.BackoffTypeLinear, c.Work.BackoffType)
			},
		},
		{
			name:    "no_env_vars",
			envVars: map[string]string{},
			check: func(as *assert.Wrapper, c *config.Config) {
				as.Equal(config.DefaultAPIPort, c.APIPort)
				as.Equal(config.DefaultRequestTimeout, c.RequestTimeout)
			},
		},
		{
			name: "invalid_port",
			envVars: map[string]string{
				"API_PORT": "not_a_number",
			},
			wantErr: "invalid API_PORT",
		},
		{
			name: "port_out_of_range",
			envVars: map[string]string{
				"API_PORT": "99999",
			},
			wantErr: "out of range",
		},
		{
			name: "invalid_preserve_cookies",
			envVars: map[string]string{
				"PRESERVE_COOKIES": "sometimes",
			},
			wantErr: "invalid PRESERVE_COOKIES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			as := assert.New(t)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg := config.NewDefaultConfig()
			err := cfg.LoadFromEnv()

			if tt.wantErr != "" {
				as.Error(err)
				as.Contains(err.Error(), tt.wantErr)
				return
			}
			as.NoError(err)
			if tt.check != nil {
				tt.check(as, cfg)
			}
		})
	}
}

func TestWithWorkDefaults(t *testing.T) {
	as := assert.New(t)

	cfg := &config.Config{
		APIHost:        config.DefaultAPIHost,
		APIPort:        config.DefaultAPIPort,
		RequestTimeout: config.DefaultRequestTimeout,
	}
	filled := cfg.WithWorkDefaults()

	as.Equal(config.DefaultRetryMaxRetries, filled.Work.MaxRetries)
	as.Equal(int64(config.DefaultRetryInitBackoff), filled.Work.InitBackoff)
	as.Equal(int64(config.DefaultMaxRetryBackoff), filled.Work.MaxBackoff)
	as.Equal(api.BackoffTypeExponential, filled.Work.BackoffType)

	// original untouched
	as.Zero(cfg.Work.MaxRetries)
}
