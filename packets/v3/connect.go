package v3

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets"
	"github.com/driftmq/driftmq/packets/codec"
)

// Connect is an internal representation of the fields of the CONNECT packet.
type Connect struct {
	FixedHeader
	ProtocolName    string
	ProtocolVersion byte
	CleanSession    bool
	WillFlag        bool
	WillQoS         byte
	WillRetain      bool
	UsernameFlag    bool
	PasswordFlag    bool
	ReservedBit     byte
	KeepAlive       uint16

	ClientID    string
	WillTopic   string
	WillPayload []byte
	Username    string
	Password    []byte
}

func (pkt *Connect) Type() byte {
	return ConnectType
}

func (pkt *Connect) String() string {
	return fmt.Sprintf("%s client_id: %s clean_session: %t keepalive: %d",
		pkt.FixedHeader, pkt.ClientID, pkt.CleanSession, pkt.KeepAlive)
}

func (pkt *Connect) Encode() []byte {
	var body bytes.Buffer
	body.Write(codec.EncodeString(pkt.ProtocolName))
	body.WriteByte(pkt.ProtocolVersion)
	body.WriteByte(codec.EncodeBool(pkt.CleanSession)<<1 |
		codec.EncodeBool(pkt.WillFlag)<<2 |
		pkt.WillQoS<<3 |
		codec.EncodeBool(pkt.WillRetain)<<5 |
		codec.EncodeBool(pkt.PasswordFlag)<<6 |
		codec.EncodeBool(pkt.UsernameFlag)<<7)
	body.Write(codec.EncodeUint16(pkt.KeepAlive))
	body.Write(codec.EncodeString(pkt.ClientID))
	if pkt.WillFlag {
		body.Write(codec.EncodeString(pkt.WillTopic))
		body.Write(codec.EncodeBytes(pkt.WillPayload))
	}
	if pkt.UsernameFlag {
		body.Write(codec.EncodeString(pkt.Username))
	}
	if pkt.PasswordFlag {
		body.Write(codec.EncodeBytes(pkt.Password))
	}

	pkt.FixedHeader.RemainingLength = body.Len()
	return append(pkt.FixedHeader.Encode(), body.Bytes()...)
}

func (pkt *Connect) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *Connect) Unpack(r io.Reader) error {
	var err error
	if pkt.ProtocolName, err = codec.DecodeString(r); err != nil {
		return err
	}
	if pkt.ProtocolVersion, err = codec.DecodeByte(r); err != nil {
		return err
	}
	options, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	pkt.ReservedBit = 1 & options
	pkt.CleanSession = 1&(options>>1) > 0
	pkt.WillFlag = 1&(options>>2) > 0
	pkt.WillQoS = 3 & (options >> 3)
	pkt.WillRetain = 1&(options>>5) > 0
	pkt.PasswordFlag = 1&(options>>6) > 0
	pkt.UsernameFlag = 1&(options>>7) > 0
	if pkt.KeepAlive, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	if pkt.ClientID, err = codec.DecodeString(r); err != nil {
		return err
	}
	if pkt.WillFlag {
		if pkt.WillTopic, err = codec.DecodeString(r); err != nil {
			return err
		}
		if pkt.WillPayload, err = codec.DecodeBytes(r); err != nil {
			return err
		}
	}
	if pkt.UsernameFlag {
		if pkt.Username, err = codec.DecodeString(r); err != nil {
			return err
		}
	}
	if pkt.PasswordFlag {
		if pkt.Password, err = codec.DecodeBytes(r); err != nil {
			return err
		}
	}

	return nil
}

// Validate performs structural validation of the CONNECT packet, returning a
// v5-style reason code.
func (pkt *Connect) Validate() byte {
	if pkt.PasswordFlag && !pkt.UsernameFlag {
		return packets.ReasonBadUsernameOrPassword
	}
	if pkt.ReservedBit != 0 {
		return packets.ReasonMalformedPacket
	}
	if (pkt.ProtocolName == "MQIsdp" && pkt.ProtocolVersion != 3) ||
		(pkt.ProtocolName == "MQTT" && pkt.ProtocolVersion != 4) {
		return packets.ReasonUnsupportedProtocolVer
	}
	if pkt.ProtocolName != "MQIsdp" && pkt.ProtocolName != "MQTT" {
		return packets.ReasonProtocolError
	}
	if len(pkt.ClientID) > 65535 || len(pkt.Username) > 65535 || len(pkt.Password) > 65535 {
		return packets.ReasonProtocolError
	}
	if len(pkt.ClientID) == 0 && !pkt.CleanSession {
		return packets.ReasonClientIdentifierNotValid
	}
	return packets.ReasonSuccess
}

func (pkt *Connect) Details() Details {
	return Details{Type: ConnectType}
}
