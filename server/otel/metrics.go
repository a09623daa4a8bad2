package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments recorded on the broker hot
// path. A nil *Metrics disables recording.
type Metrics struct {
	meter metric.Meter

	connectionsTotal   metric.Int64Counter
	connectionsCurrent metric.Int64UpDownCounter
	messagesReceived   metric.Int64Counter
	messagesSent       metric.Int64Counter
	bytesReceived      metric.Int64Counter
	bytesSent          metric.Int64Counter
	messageSize        metric.Int64Histogram
}

// NewMetrics creates a Metrics instance with all instruments initialized
// against the global meter provider.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{meter: otel.Meter("driftmq")}

	var err error
	if m.connectionsTotal, err = m.meter.Int64Counter(
		"mqtt.connections.total",
		metric.WithDescription("Total number of MQTT connections"),
	); err != nil {
		return nil, fmt.Errorf("create connections counter: %w", err)
	}
	if m.connectionsCurrent, err = m.meter.Int64UpDownCounter(
		"mqtt.connections.current",
		metric.WithDescription("Currently connected MQTT clients"),
	); err != nil {
		return nil, fmt.Errorf("create current connections gauge: %w", err)
	}
	if m.messagesReceived, err = m.meter.Int64Counter(
		"mqtt.messages.received.total",
		metric.WithDescription("Total messages received from clients"),
	); err != nil {
		return nil, fmt.Errorf("create messages received counter: %w", err)
	}
	if m.messagesSent, err = m.meter.Int64Counter(
		"mqtt.messages.sent.total",
		metric.WithDescription("Total messages sent to clients"),
	); err != nil {
		return nil, fmt.Errorf("create messages sent counter: %w", err)
	}
	if m.bytesReceived, err = m.meter.Int64Counter(
		"mqtt.bytes.received.total",
		metric.WithDescription("Total payload bytes received"),
	); err != nil {
		return nil, fmt.Errorf("create bytes received counter: %w", err)
	}
	if m.bytesSent, err = m.meter.Int64Counter(
		"mqtt.bytes.sent.total",
		metric.WithDescription("Total payload bytes sent"),
	); err != nil {
		return nil, fmt.Errorf("create bytes sent counter: %w", err)
	}
	if m.messageSize, err = m.meter.Int64Histogram(
		"mqtt.message.size",
		metric.WithDescription("Published message payload size"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("create message size histogram: %w", err)
	}

	return m, nil
}

// RecordConnection records a new client connection.
func (m *Metrics) RecordConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, 1)
}

// RecordDisconnection records a client going away.
func (m *Metrics) RecordDisconnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsCurrent.Add(ctx, -1)
}

// RecordMessageReceived records an inbound PUBLISH.
func (m *Metrics) RecordMessageReceived(ctx context.Context, qos byte, size int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("qos", int(qos)))
	m.messagesReceived.Add(ctx, 1, attrs)
	m.bytesReceived.Add(ctx, size, attrs)
	m.messageSize.Record(ctx, size, attrs)
}

// RecordMessageSent records an outbound PUBLISH.
func (m *Metrics) RecordMessageSent(ctx context.Context, qos byte, size int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("qos", int(qos)))
	m.messagesSent.Add(ctx, 1, attrs)
	m.bytesSent.Add(ctx, size, attrs)
}
