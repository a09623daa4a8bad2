// Package v5 implements MQTT 5.0 control packets and their properties.
package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets"
)

// Re-export shared types from the parent package for convenience.
type (
	FixedHeader   = packets.FixedHeader
	Details       = packets.Details
	ControlPacket = packets.ControlPacket
	User          = packets.User
)

// Re-export packet type constants.
const (
	ConnectType     = packets.ConnectType
	ConnAckType     = packets.ConnAckType
	PublishType     = packets.PublishType
	PubAckType      = packets.PubAckType
	PubRecType      = packets.PubRecType
	PubRelType      = packets.PubRelType
	PubCompType     = packets.PubCompType
	SubscribeType   = packets.SubscribeType
	SubAckType      = packets.SubAckType
	UnsubscribeType = packets.UnsubscribeType
	UnsubAckType    = packets.UnsubAckType
	PingReqType     = packets.PingReqType
	PingRespType    = packets.PingRespType
	DisconnectType  = packets.DisconnectType
	AuthType        = packets.AuthType
)

// NewControlPacket creates a new v5 packet of the specified type.
func NewControlPacket(packetType byte) ControlPacket {
	switch packetType {
	case ConnectType:
		return &Connect{FixedHeader: FixedHeader{PacketType: ConnectType}}
	case ConnAckType:
		return &ConnAck{FixedHeader: FixedHeader{PacketType: ConnAckType}}
	case PublishType:
		return &Publish{FixedHeader: FixedHeader{PacketType: PublishType}}
	case PubAckType:
		return &PubAck{FixedHeader: FixedHeader{PacketType: PubAckType}}
	case PubRecType:
		return &PubRec{FixedHeader: FixedHeader{PacketType: PubRecType}}
	case PubRelType:
		return &PubRel{FixedHeader: FixedHeader{PacketType: PubRelType, QoS: 1}}
	case PubCompType:
		return &PubComp{FixedHeader: FixedHeader{PacketType: PubCompType}}
	case SubscribeType:
		return &Subscribe{FixedHeader: FixedHeader{PacketType: SubscribeType, QoS: 1}}
	case SubAckType:
		return &SubAck{FixedHeader: FixedHeader{PacketType: SubAckType}}
	case UnsubscribeType:
		return &Unsubscribe{FixedHeader: FixedHeader{PacketType: UnsubscribeType, QoS: 1}}
	case UnsubAckType:
		return &UnsubAck{FixedHeader: FixedHeader{PacketType: UnsubAckType}}
	case PingReqType:
		return &PingReq{FixedHeader: FixedHeader{PacketType: PingReqType}}
	case PingRespType:
		return &PingResp{FixedHeader: FixedHeader{PacketType: PingRespType}}
	case DisconnectType:
		return &Disconnect{FixedHeader: FixedHeader{PacketType: DisconnectType}}
	case AuthType:
		return &Auth{FixedHeader: FixedHeader{PacketType: AuthType}}
	}
	return nil
}

// NewControlPacketWithHeader creates a new v5 packet with the given fixed header.
func NewControlPacketWithHeader(fh FixedHeader) (ControlPacket, error) {
	pkt := NewControlPacket(fh.PacketType)
	if pkt == nil {
		return nil, fmt.Errorf("unsupported packet type 0x%x", fh.PacketType)
	}
	setHeader(pkt, fh)
	return pkt, nil
}

func setHeader(pkt ControlPacket, fh FixedHeader) {
	switch p := pkt.(type) {
	case *Connect:
		p.FixedHeader = fh
	case *ConnAck:
		p.FixedHeader = fh
	case *Publish:
		p.FixedHeader = fh
	case *PubAck:
		p.FixedHeader = fh
	case *PubRec:
		p.FixedHeader = fh
	case *PubRel:
		p.FixedHeader = fh
	case *PubComp:
		p.FixedHeader = fh
	case *Subscribe:
		p.FixedHeader = fh
	case *SubAck:
		p.FixedHeader = fh
	case *Unsubscribe:
		p.FixedHeader = fh
	case *UnsubAck:
		p.FixedHeader = fh
	case *PingReq:
		p.FixedHeader = fh
	case *PingResp:
		p.FixedHeader = fh
	case *Disconnect:
		p.FixedHeader = fh
	case *Auth:
		p.FixedHeader = fh
	}
}

// ReadPacket reads a complete v5 packet from the reader.
func ReadPacket(r io.Reader) (ControlPacket, error) {
	var fh FixedHeader
	b := make([]byte, 1)

	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	if err := fh.Decode(b[0], r); err != nil {
		return nil, err
	}

	cp, err := NewControlPacketWithHeader(fh)
	if err != nil {
		return nil, err
	}

	body := make([]byte, fh.RemainingLength)
	n, err := io.ReadFull(r, body)
	if err != nil {
		return nil, err
	}
	if n != fh.RemainingLength {
		return nil, packets.ErrShortRemaining
	}

	if err := cp.Unpack(bytes.NewReader(body)); err != nil {
		return nil, err
	}
	return cp, nil
}
