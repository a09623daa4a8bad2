// Command driftmqd runs the DriftMQ broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftmq/driftmq/auth"
	"github.com/driftmq/driftmq/broker"
	"github.com/driftmq/driftmq/broker/events"
	"github.com/driftmq/driftmq/broker/webhook"
	"github.com/driftmq/driftmq/config"
	"github.com/driftmq/driftmq/server/otel"
	"github.com/driftmq/driftmq/server/tcp"
	"github.com/driftmq/driftmq/server/websocket"
	"github.com/driftmq/driftmq/storage"
	badgerstore "github.com/driftmq/driftmq/storage/badger"
	boltstore "github.com/driftmq/driftmq/storage/bolt"
	"github.com/driftmq/driftmq/storage/memory"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("broker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	store, err := buildStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	plugins, err := auth.Build(cfg.Plugins)
	if err != nil {
		return err
	}

	var notifier events.Notifier
	if cfg.Webhook.Enabled {
		notifier = webhook.New(webhook.Config{
			URL:       cfg.Webhook.URL,
			Timeout:   cfg.Webhook.Timeout,
			QueueSize: cfg.Webhook.QueueSize,
			Logger:    logger,
		})
		defer notifier.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *otel.Metrics
	if cfg.Metrics.Enabled {
		provider, err := otel.Setup(ctx, otel.Config{
			Endpoint:    cfg.Metrics.Endpoint,
			ServiceName: cfg.Metrics.ServiceName,
		})
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())

		if metrics, err = otel.NewMetrics(); err != nil {
			return err
		}
	}

	b := broker.New(store, cfg, logger, nil, notifier, metrics)
	defer b.Close()
	if len(plugins) > 0 {
		b.SetAuthEngine(auth.NewEngine(plugins))
	}

	errCh := make(chan error, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		l := l
		go func() {
			errCh <- runListener(ctx, cfg, l, b, logger)
		}()
	}

	logger.Info("broker started", slog.Int("listeners", len(cfg.Listeners)))

	select {
	case err := <-errCh:
		stop()
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	}
}

func runListener(ctx context.Context, cfg *config.Config, l config.ListenerConfig, b *broker.Broker, logger *slog.Logger) error {
	switch l.Protocol {
	case "tcp", "tls":
		srvCfg := tcp.Config{
			Address:         l.Addr,
			Logger:          logger,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}
		if l.Protocol == "tls" {
			srvCfg.TLSCert = l.TLS.Cert
			srvCfg.TLSKey = l.TLS.Key
			srvCfg.TLSClientCA = l.TLS.CA
		}
		return tcp.New(srvCfg, b).Listen(ctx)

	case "ws", "wss":
		srvCfg := websocket.Config{
			Address:         l.Addr,
			Path:            l.Path,
			Logger:          logger,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}
		if l.Protocol == "wss" {
			srvCfg.TLSCert = l.TLS.Cert
			srvCfg.TLSKey = l.TLS.Key
		}
		return websocket.New(srvCfg, b).Listen(ctx)

	default:
		return fmt.Errorf("unsupported listener protocol %q", l.Protocol)
	}
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func buildStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "badger":
		return badgerstore.New(badgerstore.Config{Dir: cfg.Dir})
	case "bolt":
		return boltstore.New(boltstore.Config{Path: cfg.Dir})
	default:
		return memory.New(), nil
	}
}
