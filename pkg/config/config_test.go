package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"djlive/pkg/config"

	"github.com/stretchr/testify/assert"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := config.Load("non-existent-config.yaml")
	assert.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, ":8081", cfg.Signal.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10*time.Second, cfg.Broadcast.OfferWaitTimeout)
	assert.Equal(t, 100, cfg.Broadcast.ChatBacklogSize)
	assert.NotEmpty(t, cfg.WebRTC.ICEServers)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s
  write_timeout: 15s
  shutdown_timeout: 20s

signal:
  address: ":9001"
  ping_interval: 5s
  pong_timeout: 10s

broadcast:
  offer_wait_timeout: 4s
  retry_delay: 1s
  restart_delay: 200ms
  chat_backlog_size: 50

logging:
  level: "debug"
  format: "json"
`)

	t.Setenv("DJLIVE_SIGNAL_ADDRESS", ":7777")
	t.Setenv("DJLIVE_JWT_SECRET", "env-secret")

	cfg, err := config.Load(path)
	assert.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, ":7777", cfg.Signal.Address)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 4*time.Second, cfg.Broadcast.OfferWaitTimeout)
	assert.Equal(t, 50, cfg.Broadcast.ChatBacklogSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Broadcast.OfferWaitTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Auth.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.WebRTC.PortRange.Min = 5000
	cfg.WebRTC.PortRange.Max = 4000
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = ""
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	assert.NoError(t, config.DefaultConfig().Validate())
}
