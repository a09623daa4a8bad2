// Package config loads and validates the broker's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftmq/driftmq/auth"
)

// Config holds all configuration for the broker.
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners"`

	KeepAliveMax     uint16        `yaml:"keepalive_max"`
	SessionExpiryMax uint32        `yaml:"session_expiry_max"`
	ReceiveMaximum   uint16        `yaml:"receive_maximum"`
	TopicAliasMax    uint16        `yaml:"topic_alias_max"`
	MaxPacketSize    uint32        `yaml:"max_packet_size"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	MaxOfflineQueue  int           `yaml:"max_offline_queue"`
	SysTopicInterval time.Duration `yaml:"sys_topic_interval"`
	MessageRateLimit float64       `yaml:"message_rate_limit"` // msgs/sec per client, 0 = unlimited
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`

	// Subscriptions are broker-side always-on topic filters consumed by the
	// internal sink session.
	Subscriptions []string `yaml:"subscriptions"`

	Rewrites []RewriteConfig     `yaml:"rewrites"`
	Plugins  []auth.PluginConfig `yaml:"plugins"`

	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Webhook WebhookConfig `yaml:"webhook"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ListenerConfig describes one transport acceptor.
type ListenerConfig struct {
	Protocol string     `yaml:"protocol"` // tcp, tls, ws or wss
	Addr     string     `yaml:"addr"`
	Path     string     `yaml:"path"` // ws/wss only, defaults to /mqtt
	TLS      *TLSConfig `yaml:"tls"`
}

// TLSConfig holds the certificate material for tls and wss listeners.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	CA   string `yaml:"ca"` // optional client CA for mutual TLS
}

// RewriteConfig is one ordered topic rewrite rule.
type RewriteConfig struct {
	Pattern string `yaml:"pattern"`
	Write   string `yaml:"write"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger or bolt
	Dir  string `yaml:"dir"`  // badger directory or bolt file path
}

// WebhookConfig holds event notifier configuration.
type WebhookConfig struct {
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queue_size"`
}

// MetricsConfig holds OpenTelemetry metrics configuration.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName string `yaml:"service_name"`
}

// Default returns a configuration with the documented defaults.
func Default() *Config {
	return &Config{
		Listeners: []ListenerConfig{
			{Protocol: "tcp", Addr: ":1883"},
		},
		KeepAliveMax:     30,
		SessionExpiryMax: 0xFFFFFFFF,
		ReceiveMaximum:   32,
		TopicAliasMax:    32,
		MaxPacketSize:    1024 * 1024,
		ConnectTimeout:   5 * time.Second,
		MaxOfflineQueue:  1000,
		SysTopicInterval: 10 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Webhook: WebhookConfig{
			Timeout:   5 * time.Second,
			QueueSize: 1000,
		},
		Metrics: MetricsConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "driftmq",
		},
	}
}

// Load loads configuration from a YAML file. An empty filename returns the
// defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}
	for i, l := range c.Listeners {
		switch l.Protocol {
		case "tcp", "ws":
		case "tls", "wss":
			if l.TLS == nil || l.TLS.Cert == "" || l.TLS.Key == "" {
				return fmt.Errorf("listeners[%d]: %s requires tls cert and key", i, l.Protocol)
			}
		default:
			return fmt.Errorf("listeners[%d]: protocol must be one of: tcp, tls, ws, wss", i)
		}
		if l.Addr == "" {
			return fmt.Errorf("listeners[%d]: addr cannot be empty", i)
		}
	}

	if c.MaxOfflineQueue < 1 {
		return fmt.Errorf("max_offline_queue must be at least 1")
	}
	if c.SysTopicInterval < time.Second {
		return fmt.Errorf("sys_topic_interval must be at least 1 second")
	}
	if c.MessageRateLimit < 0 {
		return fmt.Errorf("message_rate_limit cannot be negative")
	}

	for i, r := range c.Rewrites {
		if r.Pattern == "" || r.Write == "" {
			return fmt.Errorf("rewrites[%d]: pattern and write are required", i)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	switch c.Storage.Type {
	case "memory":
	case "badger", "bolt":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir required when type is %s", c.Storage.Type)
		}
	default:
		return fmt.Errorf("storage.type must be one of: memory, badger, bolt")
	}

	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url required when webhook is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		return fmt.Errorf("metrics.endpoint required when metrics are enabled")
	}

	return nil
}
