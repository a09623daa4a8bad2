// Package webhook delivers broker events to an HTTP endpoint. Deliveries go
// through a bounded queue and a circuit breaker so a failing endpoint never
// backpressures the broker hot path.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/driftmq/driftmq/broker/events"
)

var _ events.Notifier = (*Notifier)(nil)

// Config holds webhook notifier settings.
type Config struct {
	URL       string
	Timeout   time.Duration
	QueueSize int
	Logger    *slog.Logger
}

// Notifier posts events as JSON to a single HTTP endpoint.
type Notifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	queue     chan envelope
	closeOnce sync.Once
	done      chan struct{}
}

type envelope struct {
	Type  string `json:"type"`
	Event any    `json:"event"`
}

// New creates a webhook notifier and starts its delivery worker.
func New(cfg Config) *Notifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	n := &Notifier{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "webhook",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 60 * time.Second,
		}),
		logger: cfg.Logger,
		queue:  make(chan envelope, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	go n.run()
	return n
}

// Notify enqueues an event for delivery. Events are dropped when the queue
// is full.
func (n *Notifier) Notify(_ context.Context, event any) {
	env := envelope{Type: fmt.Sprintf("%T", event), Event: event}
	select {
	case n.queue <- env:
	default:
		n.logger.Warn("webhook queue full, dropping event", slog.String("type", env.Type))
	}
}

// Close drains the queue and stops the worker.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		close(n.queue)
		<-n.done
	})
	return nil
}

func (n *Notifier) run() {
	defer close(n.done)

	for env := range n.queue {
		if err := n.deliver(env); err != nil {
			n.logger.Warn("webhook delivery failed",
				slog.String("type", env.Type),
				slog.String("error", err.Error()))
		}
	}
}

func (n *Notifier) deliver(env envelope) error {
	_, err := n.breaker.Execute(func() (any, error) {
		body, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal event: %w", err)
		}

		resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
