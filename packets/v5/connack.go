package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets/codec"
)

// ConnAckProperties holds the properties of the CONNACK variable header.
type ConnAckProperties struct {
	SessionExpiryInterval *uint32
	ReceiveMaximum        *uint16
	MaximumQoS            *byte
	RetainAvailable       *byte
	MaximumPacketSize     *uint32
	AssignedClientID      string
	TopicAliasMaximum     *uint16
	ReasonString          string
	WildcardSubAvailable  *byte
	SubIDAvailable        *byte
	SharedSubAvailable    *byte
	ServerKeepAlive       *uint16
	ResponseInfo          string
	ServerReference       string
	AuthMethod            string
	AuthData              []byte
	User                  []User
}

func (p *ConnAckProperties) Unpack(r io.Reader) error {
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
		case ReceiveMaximumProp:
			rm, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.ReceiveMaximum = &rm
		case MaximumQoSProp:
			mq, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.MaximumQoS = &mq
		case RetainAvailableProp:
			ra, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.RetainAvailable = &ra
		case MaximumPacketSizeProp:
			mp, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.MaximumPacketSize = &mp
		case AssignedClientIDProp:
			if p.AssignedClientID, err = codec.DecodeString(r); err != nil {
				return err
			}
		case TopicAliasMaximumProp:
			ta, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.TopicAliasMaximum = &ta
		case ReasonStringProp:
			if p.ReasonString, err = codec.DecodeString(r); err != nil {
				return err
			}
		case WildcardSubAvailableProp:
			ws, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.WildcardSubAvailable = &ws
		case SubIDAvailableProp:
			si, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.SubIDAvailable = &si
		case SharedSubAvailableProp:
			ss, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.SharedSubAvailable = &ss
		case ServerKeepAliveProp:
			ka, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.ServerKeepAlive = &ka
		case ResponseInfoProp:
			if p.ResponseInfo, err = codec.DecodeString(r); err != nil {
				return err
			}
		case ServerReferenceProp:
			if p.ServerReference, err = codec.DecodeString(r); err != nil {
				return err
			}
		case AuthMethodProp:
			if p.AuthMethod, err = codec.DecodeString(r); err != nil {
				return err
			}
		case AuthDataProp:
			if p.AuthData, err = codec.DecodeBytes(r); err != nil {
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
			return fmt.Errorf("invalid property type %d for connack packet", prop)
		}
	}
}

func (p *ConnAckProperties) Encode() []byte {
	var ret []byte
	if p.SessionExpiryInterval != nil {
		ret = append(ret, SessionExpiryIntervalProp)
		ret = append(ret, codec.EncodeUint32(*p.SessionExpiryInterval)...)
	}
	if p.ReceiveMaximum != nil {
		ret = append(ret, ReceiveMaximumProp)
		ret = append(ret, codec.EncodeUint16(*p.ReceiveMaximum)...)
	}
	if p.MaximumQoS != nil {
		ret = append(ret, MaximumQoSProp, *p.MaximumQoS)
	}
	if p.RetainAvailable != nil {
		ret = append(ret, RetainAvailableProp, *p.RetainAvailable)
	}
	if p.MaximumPacketSize != nil {
		ret = append(ret, MaximumPacketSizeProp)
		ret = append(ret, codec.EncodeUint32(*p.MaximumPacketSize)...)
	}
	if p.AssignedClientID != "" {
		ret = append(ret, AssignedClientIDProp)
		ret = append(ret, codec.EncodeString(p.AssignedClientID)...)
	}
	if p.TopicAliasMaximum != nil {
		ret = append(ret, TopicAliasMaximumProp)
		ret = append(ret, codec.EncodeUint16(*p.TopicAliasMaximum)...)
	}
	if p.ReasonString != "" {
		ret = append(ret, ReasonStringProp)
		ret = append(ret, codec.EncodeString(p.ReasonString)...)
	}
	if p.WildcardSubAvailable != nil {
		ret = append(ret, WildcardSubAvailableProp, *p.WildcardSubAvailable)
	}
	if p.SubIDAvailable != nil {
		ret = append(ret, SubIDAvailableProp, *p.SubIDAvailable)
	}
	if p.SharedSubAvailable != nil {
		ret = append(ret, SharedSubAvailableProp, *p.SharedSubAvailable)
	}
	if p.ServerKeepAlive != nil {
		ret = append(ret, ServerKeepAliveProp)
		ret = append(ret, codec.EncodeUint16(*p.ServerKeepAlive)...)
	}
	if p.ResponseInfo != "" {
		ret = append(ret, ResponseInfoProp)
		ret = append(ret, codec.EncodeString(p.ResponseInfo)...)
	}
	if p.ServerReference != "" {
		ret = append(ret, ServerReferenceProp)
		ret = append(ret, codec.EncodeString(p.ServerReference)...)
	}
	if p.AuthMethod != "" {
		ret = append(ret, AuthMethodProp)
		ret = append(ret, codec.EncodeString(p.AuthMethod)...)
	}
	if len(p.AuthData) > 0 {
		ret = append(ret, AuthDataProp)
		ret = append(ret, codec.EncodeBytes(p.AuthData)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// ConnAck is an internal representation of the fields of the CONNACK packet.
type ConnAck struct {
	FixedHeader
	SessionPresent bool
	ReasonCode     byte
	Properties     *ConnAckProperties
}

func (pkt *ConnAck) Type() byte {
	return ConnAckType
}

func (pkt *ConnAck) String() string {
	return fmt.Sprintf("%s session_present: %t reason_code: %d", pkt.FixedHeader, pkt.SessionPresent, pkt.ReasonCode)
}

func (pkt *ConnAck) Encode() []byte {
	var body bytes.Buffer
	body.WriteByte(codec.EncodeBool(pkt.SessionPresent))
	body.WriteByte(pkt.ReasonCode)
	if pkt.Properties != nil {
		body.Write(encodePropertyBlock(pkt.Properties.Encode()))
	} else {
		body.WriteByte(0)
	}
	pkt.FixedHeader.RemainingLength = body.Len()
	return append(pkt.FixedHeader.Encode(), body.Bytes()...)
}

func (pkt *ConnAck) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *ConnAck) Unpack(r io.Reader) error {
	flags, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	pkt.SessionPresent = flags&0x01 > 0
	if pkt.ReasonCode, err = codec.DecodeByte(r); err != nil {
		return err
	}

	props, err := readPropertyBlock(r)
	if err != nil {
		return err
	}
	p := ConnAckProperties{}
	if err := p.Unpack(props); err != nil {
		return err
	}
	pkt.Properties = &p
	return nil
}

func (pkt *ConnAck) Details() Details {
	return Details{Type: ConnAckType}
}
