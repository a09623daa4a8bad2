package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint16(30), cfg.KeepAliveMax)
	assert.Equal(t, uint16(32), cfg.ReceiveMaximum)
	assert.Equal(t, uint16(32), cfg.TopicAliasMax)
	assert.Equal(t, 10*time.Second, cfg.SysTopicInterval)
	assert.Equal(t, "memory", cfg.Storage.Type)
	require.Len(t, cfg.Listeners, 1)
	assert.Equal(t, "tcp", cfg.Listeners[0].Protocol)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().KeepAliveMax, cfg.KeepAliveMax)
}

func TestLoadFile(t *testing.T) {
	content := `
listeners:
  - protocol: tcp
    addr: ":11883"
  - protocol: ws
    addr: ":18083"
    path: /mqtt
keepalive_max: 45
receive_maximum: 16
session_expiry_max: 600
sys_topic_interval: 2s
subscriptions:
  - "#"
rewrites:
  - pattern: "a/(.*)"
    write: "k/$1"
plugins:
  - type: basic
    users:
      alice: pw
log:
  level: debug
  format: json
storage:
  type: memory
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Listeners, 2)
	assert.Equal(t, ":11883", cfg.Listeners[0].Addr)
	assert.Equal(t, "ws", cfg.Listeners[1].Protocol)
	assert.Equal(t, uint16(45), cfg.KeepAliveMax)
	assert.Equal(t, uint16(16), cfg.ReceiveMaximum)
	assert.Equal(t, uint32(600), cfg.SessionExpiryMax)
	assert.Equal(t, 2*time.Second, cfg.SysTopicInterval)
	assert.Equal(t, []string{"#"}, cfg.Subscriptions)
	require.Len(t, cfg.Rewrites, 1)
	assert.Equal(t, "a/(.*)", cfg.Rewrites[0].Pattern)
	assert.Equal(t, "k/$1", cfg.Rewrites[0].Write)
	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "basic", cfg.Plugins[0].Type)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listeners", func(c *Config) { c.Listeners = nil }},
		{"bad protocol", func(c *Config) { c.Listeners[0].Protocol = "udp" }},
		{"tls without cert", func(c *Config) { c.Listeners[0].Protocol = "tls" }},
		{"empty addr", func(c *Config) { c.Listeners[0].Addr = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad storage", func(c *Config) { c.Storage.Type = "postgres" }},
		{"badger without dir", func(c *Config) { c.Storage.Type = "badger" }},
		{"webhook without url", func(c *Config) { c.Webhook.Enabled = true }},
		{"rewrite without write", func(c *Config) { c.Rewrites = []RewriteConfig{{Pattern: "a"}} }},
		{"negative rate limit", func(c *Config) { c.MessageRateLimit = -1 }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
