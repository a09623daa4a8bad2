package v5

import (
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets/codec"
)

// PublishProperties holds the properties of the PUBLISH variable header.
type PublishProperties struct {
	// PayloadFormat indicates the format of the payload:
	// 0 is unspecified bytes, 1 is UTF-8 encoded character data.
	PayloadFormat *byte
	// MessageExpiry is the lifetime of the message in seconds.
	MessageExpiry *uint32
	// TopicAlias is an integer substitute for the topic name.
	TopicAlias *uint16
	// ResponseTopic names the topic to which responses should be sent.
	ResponseTopic string
	// CorrelationData associates responses with the original request.
	CorrelationData []byte
	// User is a slice of user provided properties.
	User []User
	// SubscriptionIDs are the identifiers of all matching subscriptions,
	// echoed to the subscriber on delivery.
	SubscriptionIDs []uint32
	// ContentType describes the content of the message.
	ContentType string
}

func (p *PublishProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch prop {
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
		case TopicAliasProp:
			ta, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.TopicAlias = &ta
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
		case SubscriptionIdentifierProp:
			si, err := codec.DecodeVBI(r)
			if err != nil {
				return err
			}
			p.SubscriptionIDs = append(p.SubscriptionIDs, uint32(si))
		case ContentTypeProp:
			if p.ContentType, err = codec.DecodeString(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid property type %d for publish packet", prop)
		}
	}
}

func (p *PublishProperties) Encode() []byte {
	var ret []byte
	if p.PayloadFormat != nil {
		ret = append(ret, PayloadFormatProp, *p.PayloadFormat)
	}
	if p.MessageExpiry != nil {
		ret = append(ret, MessageExpiryProp)
		ret = append(ret, codec.EncodeUint32(*p.MessageExpiry)...)
	}
	if p.TopicAlias != nil {
		ret = append(ret, TopicAliasProp)
		ret = append(ret, codec.EncodeUint16(*p.TopicAlias)...)
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
	for _, id := range p.SubscriptionIDs {
		ret = append(ret, SubscriptionIdentifierProp)
		ret = append(ret, codec.EncodeVBI(int(id))...)
	}
	if p.ContentType != "" {
		ret = append(ret, ContentTypeProp)
		ret = append(ret, codec.EncodeString(p.ContentType)...)
	}
	return ret
}

// Publish is an internal representation of the fields of the PUBLISH packet.
type Publish struct {
	FixedHeader
	TopicName  string
	ID         uint16
	Properties *PublishProperties
	Payload    []byte
}

func (pkt *Publish) Type() byte {
	return PublishType
}

func (pkt *Publish) String() string {
	return fmt.Sprintf("%s topic_name: %s packet_id: %d payload: %s", pkt.FixedHeader, pkt.TopicName, pkt.ID, pkt.Payload)
}

func (pkt *Publish) Encode() []byte {
	ret := codec.EncodeString(pkt.TopicName)
	if pkt.QoS > 0 {
		ret = append(ret, codec.EncodeUint16(pkt.ID)...)
	}
	if pkt.Properties != nil {
		ret = append(ret, encodePropertyBlock(pkt.Properties.Encode())...)
	} else {
		ret = append(ret, 0)
	}
	pkt.FixedHeader.RemainingLength = len(ret) + len(pkt.Payload)
	ret = append(ret, pkt.Payload...)
	return append(pkt.FixedHeader.Encode(), ret...)
}

func (pkt *Publish) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *Publish) Unpack(r io.Reader) error {
	var err error
	if pkt.TopicName, err = codec.DecodeString(r); err != nil {
		return err
	}
	if pkt.QoS > 0 {
		if pkt.ID, err = codec.DecodeUint16(r); err != nil {
			return err
		}
	}

	props, err := readPropertyBlock(r)
	if err != nil {
		return err
	}
	p := PublishProperties{}
	if err := p.Unpack(props); err != nil {
		return err
	}
	pkt.Properties = &p

	pkt.Payload, err = io.ReadAll(r)
	return err
}

// Copy creates a new Publish with the same topic, payload and properties but
// an empty fixed header, for redelivery with different QoS or flags.
func (pkt *Publish) Copy() *Publish {
	cp := NewControlPacket(PublishType).(*Publish)
	cp.TopicName = pkt.TopicName
	cp.Payload = pkt.Payload
	if pkt.Properties != nil {
		props := *pkt.Properties
		cp.Properties = &props
	}
	return cp
}

func (pkt *Publish) Details() Details {
	return Details{Type: PublishType, ID: pkt.ID, QoS: pkt.QoS}
}
