// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8000, cfg.Server.HTTPPort)
	assert.Equal(t, "fallback", cfg.Summary.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]

transfer:
  summary_timeout: 3s
  stall_timeout: 2m

relay:
  history_size: 10

livekit:
  url: "wss://lk.example.com"
  api_key: "key"
  api_secret: "secret"

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)

	assert.Equal(t, 3*time.Second, cfg.Transfer.SummaryTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Transfer.StallTimeout)
	// 未覆盖的字段保留默认值
	assert.Equal(t, time.Hour, cfg.Transfer.Retention)
	assert.Equal(t, 10, cfg.Relay.HistorySize)

	assert.True(t, cfg.LiveKit.Enabled())
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig().HTTPPort, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("WARMTRANSFER_SERVER_HTTP_PORT", "7777")
	t.Setenv("WARMTRANSFER_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WARMTRANSFER_TRANSFER_CREDENTIAL_TIMEOUT", "750ms")
	t.Setenv("WARMTRANSFER_SUMMARY_TEMPERATURE", "0.9")
	t.Setenv("WARMTRANSFER_SERVER_ALLOW_QUERY_API_KEY", "true")
	t.Setenv("WARMTRANSFER_TWILIO_ACCOUNT_SID", "AC123")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Transfer.CredentialTimeout)
	assert.Equal(t, 0.9, cfg.Summary.Temperature)
	assert.True(t, cfg.Server.AllowQueryAPIKey)
	assert.Equal(t, "AC123", cfg.Twilio.AccountSID)
	assert.False(t, cfg.Twilio.Enabled())
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
summary:
  model: "yaml-model"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))
	t.Setenv("WARMTRANSFER_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "yaml-model", cfg.Summary.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("WARMTRANSFER_TRANSFER_STALL_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		WithValidator(func(c *Config) error {
			if c.Summary.Provider == "fallback" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"negative stall", func(c *Config) { c.Transfer.StallTimeout = -time.Second }, "stall_timeout"},
		{"zero summary timeout", func(c *Config) { c.Transfer.SummaryTimeout = 0 }, "summary_timeout"},
		{"openai without key", func(c *Config) { c.Summary.Provider = "openai" }, "summary.api_key"},
		{"unknown provider", func(c *Config) { c.Summary.Provider = "magic" }, "unknown summary provider"},
		{"livekit partial", func(c *Config) { c.LiveKit.URL = "wss://x" }, "livekit.api_key"},
		{"empty history", func(c *Config) { c.Relay.HistorySize = 0 }, "history_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateAggregates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = -1
	cfg.Relay.SubscriberBuffer = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "subscriber_buffer")
}

func TestMustLoad_Panics(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(":::"), 0o644))
	assert.Panics(t, func() { MustLoad(configPath) })
}
