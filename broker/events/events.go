// Package events defines the broker lifecycle events surfaced to notifier
// sinks.
package events

import "context"

// Notifier receives broker events. Implementations must not block the
// caller; slow sinks buffer or drop.
type Notifier interface {
	Notify(ctx context.Context, event any)
	Close() error
}

// ClientConnected is emitted after a successful CONNECT handshake.
type ClientConnected struct {
	ClientID   string `json:"client_id"`
	Username   string `json:"username,omitempty"`
	RemoteAddr string `json:"remote_addr"`
	Protocol   byte   `json:"protocol"`
	CleanStart bool   `json:"clean_start"`
}

// ClientDisconnected is emitted when a session loses its connection.
type ClientDisconnected struct {
	ClientID string `json:"client_id"`
	Graceful bool   `json:"graceful"`
}

// SessionTakenOver is emitted when a new CONNECT displaces a live
// connection with the same client id.
type SessionTakenOver struct {
	ClientID string `json:"client_id"`
}

// MessagePublished is emitted for every accepted PUBLISH.
type MessagePublished struct {
	ClientID    string `json:"client_id"`
	Topic       string `json:"topic"`
	QoS         byte   `json:"qos"`
	Retained    bool   `json:"retained"`
	PayloadSize int    `json:"payload_size"`
}
