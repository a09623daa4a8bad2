package broker

import "errors"

var (
	// ErrInvalidPacketType indicates a packet of an unexpected type reached a
	// handler.
	ErrInvalidPacketType = errors.New("invalid packet type")

	// ErrSessionNotFound indicates no session exists for a client id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrClientIDRequired indicates a CONNECT with an empty client id that
	// cannot be assigned one.
	ErrClientIDRequired = errors.New("client id required")

	// ErrNotAuthorized indicates the plugin bus denied the operation.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrProtocolViolation indicates the client sent a packet that is illegal
	// in the current state.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrConnectTimeout indicates no CONNECT arrived within the configured
	// window after transport accept.
	ErrConnectTimeout = errors.New("timed out waiting for CONNECT")
)

// Session-loop errors that carry a specific DISCONNECT reason.
var (
	errTopicAliasInvalid  = errors.New("topic alias invalid")
	errTopicNameInvalid   = errors.New("topic name invalid")
	errReceiveMaxExceeded = errors.New("receive maximum exceeded")
	errQuotaExceeded      = errors.New("quota exceeded")
	errRateTooHigh        = errors.New("message rate too high")
)
