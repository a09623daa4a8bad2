// Package transport adapts byte-oriented duplex streams into the
// packet-oriented connections the session layer consumes. One adapter serves
// every transport; listeners hand it a net.Conn.
package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/driftmq/driftmq/packets"
	v3 "github.com/driftmq/driftmq/packets/v3"
	v5 "github.com/driftmq/driftmq/packets/v5"
)

var (
	// ErrUnsupportedProtocolVersion indicates the CONNECT prefix did not
	// carry a known protocol level.
	ErrUnsupportedProtocolVersion = errors.New("unsupported MQTT protocol version")

	// ErrPacketTooLarge indicates an inbound packet exceeds the negotiated
	// maximum packet size.
	ErrPacketTooLarge = errors.New("packet exceeds maximum packet size")
)

// Conn wraps a net.Conn and provides MQTT packet-level I/O. The protocol
// version is sniffed from the CONNECT packet on the first read; subsequent
// packets on the connection use that level.
type Conn struct {
	conn    net.Conn
	reader  io.Reader
	version int // 0 = unknown, 3/4 = v3.1/v3.1.1, 5 = v5

	writeMu sync.Mutex

	maxPacketSize uint32 // inbound bound, 0 = unlimited
}

// NewConn creates a packet connection over the given stream.
func NewConn(conn net.Conn, maxPacketSize uint32) *Conn {
	return &Conn{
		conn:          conn,
		reader:        conn,
		maxPacketSize: maxPacketSize,
	}
}

// Version returns the sniffed protocol level, 0 before the first packet.
func (c *Conn) Version() int { return c.version }

// ReadPacket reads the next MQTT packet from the connection.
func (c *Conn) ReadPacket() (packets.ControlPacket, error) {
	if c.version == 0 {
		ver, restored, err := packets.DetectProtocolVersion(c.reader)
		if err != nil {
			return nil, err
		}
		c.version = ver
		c.reader = restored
	}

	var fh packets.FixedHeader
	b := make([]byte, 1)
	if _, err := io.ReadFull(c.reader, b); err != nil {
		return nil, err
	}
	if err := fh.Decode(b[0], c.reader); err != nil {
		return nil, err
	}

	if c.maxPacketSize > 0 && uint32(fh.RemainingLength) > c.maxPacketSize {
		return nil, ErrPacketTooLarge
	}

	var cp packets.ControlPacket
	var err error
	switch c.version {
	case 5:
		cp, err = v5.NewControlPacketWithHeader(fh)
	case 3, 4:
		cp, err = v3.NewControlPacketWithHeader(fh)
	default:
		return nil, ErrUnsupportedProtocolVersion
	}
	if err != nil {
		return nil, err
	}

	body := make([]byte, fh.RemainingLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, err
	}
	if err := cp.Unpack(bytes.NewReader(body)); err != nil {
		return nil, err
	}
	return cp, nil
}

// WritePacket writes a packet to the connection. Writes are serialized so
// concurrent deliveries never interleave frames.
func (c *Conn) WritePacket(pkt packets.ControlPacket) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.conn.Write(pkt.Encode())
	return err
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetReadDeadline bounds the next read, enforcing keepalive and connect
// timeouts.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
