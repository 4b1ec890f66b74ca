package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

var configKeys = []string{
	"APP_ENV", "APP_HTTP_ADDR", "METRICS_ADDR", "STORE_TYPE", "DB_DSN", "DB_MIGRATE",
	"ADMIN_API_KEY", "ADMIN_EMAIL", "ADMIN_PASSWORD", "LOG_LEVEL", "LOG_FORMAT", "RATE_LIMIT_PER_IP", "RATE_LIMIT_AI_PER_KEY",
	"CORS_ALLOWED_ORIGINS", "EVAL_PARALLELISM", "EVAL_PARALLEL_MIN_RECORDS",
	"AI_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "AI_BASE_URL", "OPENAI_BASE_URL",
	"AI_MODEL", "OPENAI_MODEL", "AI_TIMEOUT", "AI_MAX_RETRIES",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
}

// clearEnv unsets every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "dev" {
		t.Errorf("Expected AppEnv='dev', got '%s'", cfg.AppEnv)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr=':8080', got '%s'", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("Expected MetricsAddr=':9090', got '%s'", cfg.MetricsAddr)
	}
	if cfg.StoreType != StoreMemory {
		t.Errorf("Expected StoreType='memory', got '%s'", cfg.StoreType)
	}
	if !cfg.DBMigrate {
		t.Errorf("Expected DBMigrate=true")
	}
	if cfg.AdminAPIKey != "" {
		t.Errorf("Expected empty AdminAPIKey, got '%s'", cfg.AdminAPIKey)
	}
	if cfg.RateLimitPerIP != 100 || cfg.RateLimitAIPerKey != 20 {
		t.Errorf("Expected rate limits 100/20, got %d/%d", cfg.RateLimitPerIP, cfg.RateLimitAIPerKey)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("Unexpected CORSOrigins %v", cfg.CORSOrigins)
	}
	if cfg.EvalParallelism != 4 || cfg.EvalParallelMinRecord != 512 {
		t.Errorf("Expected eval parallelism 4/512, got %d/%d", cfg.EvalParallelism, cfg.EvalParallelMinRecord)
	}
	if cfg.AI.Model != "gemini-2.5-flash" {
		t.Errorf("Expected AI.Model='gemini-2.5-flash', got '%s'", cfg.AI.Model)
	}
	if cfg.AI.BaseURL != "https://generativelanguage.googleapis.com/v1beta/openai/" {
		t.Errorf("Unexpected AI.BaseURL '%s'", cfg.AI.BaseURL)
	}
	if cfg.AI.Timeout != 60*time.Second {
		t.Errorf("Expected AI.Timeout=60s, got %s", cfg.AI.Timeout)
	}
	if cfg.AI.Enabled() {
		t.Errorf("Expected AI disabled without a key")
	}
	if cfg.ServiceName != "eca2" {
		t.Errorf("Expected ServiceName='eca2', got '%s'", cfg.ServiceName)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "staging")
	t.Setenv("APP_HTTP_ADDR", ":9999")
	t.Setenv("STORE_TYPE", "POSTGRES")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("RATE_LIMIT_PER_IP", "200")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.example.com , ,https://admin.example.com")
	t.Setenv("EVAL_PARALLELISM", "16")
	t.Setenv("AI_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "staging" {
		t.Errorf("Expected AppEnv='staging', got '%s'", cfg.AppEnv)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("Expected HTTPAddr=':9999', got '%s'", cfg.HTTPAddr)
	}
	if cfg.StoreType != StorePostgres {
		t.Errorf("Expected StoreType='postgres', got '%s'", cfg.StoreType)
	}
	if cfg.DBMigrate {
		t.Errorf("Expected DBMigrate=false")
	}
	if cfg.RateLimitPerIP != 200 {
		t.Errorf("Expected RateLimitPerIP=200, got %d", cfg.RateLimitPerIP)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://admin.example.com" {
		t.Errorf("Unexpected CORSOrigins %v", cfg.CORSOrigins)
	}
	if cfg.EvalParallelism != 16 {
		t.Errorf("Expected EvalParallelism=16, got %d", cfg.EvalParallelism)
	}
	if cfg.AI.Timeout != 5*time.Second {
		t.Errorf("Expected AI.Timeout=5s, got %s", cfg.AI.Timeout)
	}
}

func TestLoad_AIKeyFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantKey string
		wantURL string
	}{
		{
			name:    "primary key wins",
			env:     map[string]string{"AI_API_KEY": "primary", "OPENAI_API_KEY": "openai"},
			wantKey: "primary",
			wantURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
		},
		{
			name:    "openai fallback",
			env:     map[string]string{"OPENAI_API_KEY": "openai", "OPENAI_BASE_URL": "https://api.openai.com/v1/"},
			wantKey: "openai",
			wantURL: "https://api.openai.com/v1/",
		},
		{
			name:    "gemini fallback",
			env:     map[string]string{"GEMINI_API_KEY": "gemini"},
			wantKey: "gemini",
			wantURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.AI.APIKey != tt.wantKey {
				t.Errorf("AI.APIKey = '%s', want '%s'", cfg.AI.APIKey, tt.wantKey)
			}
			if cfg.AI.BaseURL != tt.wantURL {
				t.Errorf("AI.BaseURL = '%s', want '%s'", cfg.AI.BaseURL, tt.wantURL)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		AppEnv:          "dev",
		HTTPAddr:        ":8080",
		MetricsAddr:     ":9090",
		StoreType:       StoreMemory,
		RateLimitPerIP:  100,
		EvalParallelism: 4,
		AI:              AIConfig{Timeout: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{name: "valid dev config", mutate: func(*Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.StoreType = "redis" }, wantField: "STORE_TYPE"},
		{name: "postgres without DSN", mutate: func(c *Config) { c.StoreType = StorePostgres }, wantField: "DB_DSN"},
		{name: "empty HTTP addr", mutate: func(c *Config) { c.HTTPAddr = "" }, wantField: "APP_HTTP_ADDR"},
		{name: "empty metrics addr", mutate: func(c *Config) { c.MetricsAddr = "" }, wantField: "METRICS_ADDR"},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimitPerIP = 0 }, wantField: "RATE_LIMIT_PER_IP"},
		{name: "zero parallelism", mutate: func(c *Config) { c.EvalParallelism = 0 }, wantField: "EVAL_PARALLELISM"},
		{name: "zero AI timeout", mutate: func(c *Config) { c.AI.Timeout = 0 }, wantField: "AI_TIMEOUT"},
		{name: "admin email without password", mutate: func(c *Config) { c.AdminEmail = "ops@example.com" }, wantField: "ADMIN_PASSWORD"},
		{
			name:      "production short admin key",
			mutate:    func(c *Config) { c.AppEnv = "prod"; c.AdminAPIKey = "short" },
			wantField: "ADMIN_API_KEY",
		},
		{
			name: "production memory store",
			mutate: func(c *Config) {
				c.AppEnv = "production"
				c.AdminAPIKey = "0123456789abcdef"
			},
			wantField: "STORE_TYPE",
		},
		{
			name: "production postgres",
			mutate: func(c *Config) {
				c.AppEnv = "prod"
				c.AdminAPIKey = "0123456789abcdef"
				c.StoreType = StorePostgres
				c.DatabaseDSN = "postgres://localhost/eca2"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}

			var vErr ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			}
			if vErr.Field != tt.wantField {
				t.Fatalf("ValidationError.Field = %s, want %s", vErr.Field, tt.wantField)
			}
		})
	}
}
