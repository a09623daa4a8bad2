package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets"
	"github.com/driftmq/driftmq/packets/codec"
)

// DisconnectProperties holds the properties of the DISCONNECT variable header.
type DisconnectProperties struct {
	// SessionExpiryInterval overrides the session expiry from CONNECT.
	SessionExpiryInterval *uint32
	// ReasonString is a human-readable reason for diagnostic purposes.
	ReasonString string
	// ServerReference points the client at another server.
	ServerReference string
	// User is a slice of user provided properties.
	User []User
}

func (p *DisconnectProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch prop {
		case SessionExpiryIntervalProp:
			se, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.SessionExpiryInterval = &se
		case ReasonStringProp:
			if p.ReasonString, err = codec.DecodeString(r); err != nil {
				return err
			}
		case ServerReferenceProp:
			if p.ServerReference, err = codec.DecodeString(r); err != nil {
				return err
			}
		case UserProp:
			k, err := codec.DecodeString(r)
			if err != nil {
				return err
			}
			v, err := codec.DecodeString(r)
			if err != nil {
				return err
			}
			p.User = append(p.User, User{Key: k, Value: v})
		default:
			return fmt.Errorf("invalid property type %d for disconnect packet", prop)
		}
	}
}

func (p *DisconnectProperties) Encode() []byte {
	var ret []byte
	if p.SessionExpiryInterval != nil {
		ret = append(ret, SessionExpiryIntervalProp)
		ret = append(ret, codec.EncodeUint32(*p.SessionExpiryInterval)...)
	}
	if p.ReasonString != "" {
		ret = append(ret, ReasonStringProp)
		ret = append(ret, codec.EncodeString(p.ReasonString)...)
	}
	if p.ServerReference != "" {
		ret = append(ret, ServerReferenceProp)
		ret = append(ret, codec.EncodeString(p.ServerReference)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// Disconnect is an internal representation of the fields of the DISCONNECT packet.
type Disconnect struct {
	FixedHeader
	ReasonCode byte
	Properties *DisconnectProperties
}

func (pkt *Disconnect) Type() byte {
	return DisconnectType
}

func (pkt *Disconnect) String() string {
	return fmt.Sprintf("%s reason_code: %d", pkt.FixedHeader, pkt.ReasonCode)
}

func (pkt *Disconnect) Encode() []byte {
	var body bytes.Buffer

	var encodedProps []byte
	if pkt.Properties != nil {
		encodedProps = pkt.Properties.Encode()
	}
	if pkt.ReasonCode != packets.ReasonNormalDisconnection || len(encodedProps) > 0 {
		body.WriteByte(pkt.ReasonCode)
		body.Write(encodePropertyBlock(encodedProps))
	}

	pkt.FixedHeader.RemainingLength = body.Len()
	return append(pkt.FixedHeader.Encode(), body.Bytes()...)
}

func (pkt *Disconnect) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *Disconnect) Unpack(r io.Reader) error {
	if pkt.FixedHeader.RemainingLength == 0 {
		pkt.ReasonCode = packets.ReasonNormalDisconnection
		return nil
	}

	var err error
	if pkt.ReasonCode, err = codec.DecodeByte(r); err != nil {
		return err
	}
	if pkt.FixedHeader.RemainingLength > 1 {
		props, err := readPropertyBlock(r)
		if err != nil {
			return err
		}
		p := DisconnectProperties{}
		if err := p.Unpack(props); err != nil {
			return err
		}
		pkt.Properties = &p
	}
	return nil
}

func (pkt *Disconnect) Details() Details {
	return Details{Type: DisconnectType}
}
