package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets"
	"github.com/driftmq/driftmq/packets/codec"
)

// ConnectProperties holds the properties of the CONNECT variable header.
type ConnectProperties struct {
	// SessionExpiryInterval is the session expiry in seconds; 0 means the
	// session ends on disconnect, 0xFFFFFFFF means it never expires.
	SessionExpiryInterval *uint32
	// ReceiveMaximum bounds concurrent unacknowledged QoS>0 messages the
	// client is willing to process.
	ReceiveMaximum *uint16
	// MaximumPacketSize is the largest packet the client accepts.
	MaximumPacketSize *uint32
	// TopicAliasMaximum is the highest topic alias the client accepts.
	TopicAliasMaximum *uint16
	// RequestResponseInfo asks the server for response information.
	RequestResponseInfo *byte
	// RequestProblemInfo controls whether reason strings may be returned.
	RequestProblemInfo *byte
	// AuthMethod names the extended authentication method.
	AuthMethod string
	// AuthData carries extended authentication data.
	AuthData []byte
	// User is a slice of user provided properties.
	User []User
}

func (p *ConnectProperties) Unpack(r io.Reader) error {
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
		case MaximumPacketSizeProp:
			mp, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.MaximumPacketSize = &mp
		case TopicAliasMaximumProp:
			ta, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.TopicAliasMaximum = &ta
		case RequestResponseInfoProp:
			ri, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.RequestResponseInfo = &ri
		case RequestProblemInfoProp:
			pi, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.RequestProblemInfo = &pi
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
			return fmt.Errorf("invalid property type %d for connect packet", prop)
		}
	}
}

func (p *ConnectProperties) Encode() []byte {
	var ret []byte
	if p.SessionExpiryInterval != nil {
		ret = append(ret, SessionExpiryIntervalProp)
		ret = append(ret, codec.EncodeUint32(*p.SessionExpiryInterval)...)
	}
	if p.ReceiveMaximum != nil {
		ret = append(ret, ReceiveMaximumProp)
		ret = append(ret, codec.EncodeUint16(*p.ReceiveMaximum)...)
	}
	if p.MaximumPacketSize != nil {
		ret = append(ret, MaximumPacketSizeProp)
		ret = append(ret, codec.EncodeUint32(*p.MaximumPacketSize)...)
	}
	if p.TopicAliasMaximum != nil {
		ret = append(ret, TopicAliasMaximumProp)
		ret = append(ret, codec.EncodeUint16(*p.TopicAliasMaximum)...)
	}
	if p.RequestResponseInfo != nil {
		ret = append(ret, RequestResponseInfoProp, *p.RequestResponseInfo)
	}
	if p.RequestProblemInfo != nil {
		ret = append(ret, RequestProblemInfoProp, *p.RequestProblemInfo)
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

// WillProperties holds the properties of the will message in CONNECT.
type WillProperties struct {
	// WillDelayInterval delays publication of the will in seconds.
	WillDelayInterval *uint32
	// PayloadFormat indicates the format of the will payload.
	PayloadFormat *byte
	// MessageExpiry is the lifetime of the will message in seconds.
	MessageExpiry *uint32
	// ContentType describes the content of the will message.
	ContentType string
	// ResponseTopic names the topic for responses to the will.
	ResponseTopic string
	// CorrelationData associates responses with the will.
	CorrelationData []byte
	// User is a slice of user provided properties.
	User []User
}

func (p *WillProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch prop {
		case WillDelayIntervalProp:
			wd, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.WillDelayInterval = &wd
		case PayloadFormatProp:
			pf, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.PayloadFormat = &pf
		case MessageExpiryProp:
			me, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.MessageExpiry = &me
		case ContentTypeProp:
			if p.ContentType, err = codec.DecodeString(r); err != nil {
				return err
			}
		case ResponseTopicProp:
			if p.ResponseTopic, err = codec.DecodeString(r); err != nil {
				return err
			}
		case CorrelationDataProp:
			if p.CorrelationData, err = codec.DecodeBytes(r); err != nil {
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
			return fmt.Errorf("invalid property type %d for will properties", prop)
		}
	}
}

func (p *WillProperties) Encode() []byte {
	var ret []byte
	if p.WillDelayInterval != nil {
		ret = append(ret, WillDelayIntervalProp)
		ret = append(ret, codec.EncodeUint32(*p.WillDelayInterval)...)
	}
	if p.PayloadFormat != nil {
		ret = append(ret, PayloadFormatProp, *p.PayloadFormat)
	}
	if p.MessageExpiry != nil {
		ret = append(ret, MessageExpiryProp)
		ret = append(ret, codec.EncodeUint32(*p.MessageExpiry)...)
	}
	if p.ContentType != "" {
		ret = append(ret, ContentTypeProp)
		ret = append(ret, codec.EncodeString(p.ContentType)...)
	}
	if p.ResponseTopic != "" {
		ret = append(ret, ResponseTopicProp)
		ret = append(ret, codec.EncodeString(p.ResponseTopic)...)
	}
	if len(p.CorrelationData) > 0 {
		ret = append(ret, CorrelationDataProp)
		ret = append(ret, codec.EncodeBytes(p.CorrelationData)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// Connect is an internal representation of the fields of the CONNECT packet.
type Connect struct {
	FixedHeader
	ProtocolName    string
	ProtocolVersion byte
	CleanStart      bool
	WillFlag        bool
	WillQoS         byte
	WillRetain      bool
	UsernameFlag    bool
	PasswordFlag    bool
	ReservedBit     byte
	KeepAlive       uint16

	Properties *ConnectProperties

	ClientID       string
	WillProperties *WillProperties
	WillTopic      string
	WillPayload    []byte
	Username       string
	Password       []byte
}

func (pkt *Connect) Type() byte {
	return ConnectType
}

func (pkt *Connect) String() string {
	return fmt.Sprintf("%s client_id: %s clean_start: %t keepalive: %d",
		pkt.FixedHeader, pkt.ClientID, pkt.CleanStart, pkt.KeepAlive)
}

func (pkt *Connect) Encode() []byte {
	var body bytes.Buffer
	body.Write(codec.EncodeString(pkt.ProtocolName))
	body.WriteByte(pkt.ProtocolVersion)
	body.WriteByte(codec.EncodeBool(pkt.CleanStart)<<1 |
		codec.EncodeBool(pkt.WillFlag)<<2 |
		pkt.WillQoS<<3 |
		codec.EncodeBool(pkt.WillRetain)<<5 |
		codec.EncodeBool(pkt.PasswordFlag)<<6 |
		codec.EncodeBool(pkt.UsernameFlag)<<7)
	body.Write(codec.EncodeUint16(pkt.KeepAlive))

	if pkt.Properties != nil {
		body.Write(encodePropertyBlock(pkt.Properties.Encode()))
	} else {
		body.WriteByte(0)
	}

	body.Write(codec.EncodeString(pkt.ClientID))
	if pkt.WillFlag {
		if pkt.WillProperties != nil {
			body.Write(encodePropertyBlock(pkt.WillProperties.Encode()))
		} else {
			body.WriteByte(0)
		}
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
	pkt.CleanStart = 1&(options>>1) > 0
	pkt.WillFlag = 1&(options>>2) > 0
	pkt.WillQoS = 3 & (options >> 3)
	pkt.WillRetain = 1&(options>>5) > 0
	pkt.PasswordFlag = 1&(options>>6) > 0
	pkt.UsernameFlag = 1&(options>>7) > 0
	if pkt.KeepAlive, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	props, err := readPropertyBlock(r)
	if err != nil {
		return err
	}
	p := ConnectProperties{}
	if err := p.Unpack(props); err != nil {
		return err
	}
	pkt.Properties = &p

	if pkt.ClientID, err = codec.DecodeString(r); err != nil {
		return err
	}
	if pkt.WillFlag {
		willProps, err := readPropertyBlock(r)
		if err != nil {
			return err
		}
		wp := WillProperties{}
		if err := wp.Unpack(willProps); err != nil {
			return err
		}
		pkt.WillProperties = &wp
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
// reason code.
func (pkt *Connect) Validate() byte {
	if pkt.PasswordFlag && !pkt.UsernameFlag {
		return packets.ReasonBadUsernameOrPassword
	}
	if pkt.ReservedBit != 0 {
		return packets.ReasonMalformedPacket
	}
	if pkt.ProtocolName != "MQTT" || pkt.ProtocolVersion != 5 {
		return packets.ReasonUnsupportedProtocolVer
	}
	if pkt.WillFlag && pkt.WillQoS > 2 {
		return packets.ReasonMalformedPacket
	}
	return packets.ReasonSuccess
}

func (pkt *Connect) Details() Details {
	return Details{Type: ConnectType}
}
