package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets/codec"
)

// SubscribeProperties holds the properties of the SUBSCRIBE variable header.
type SubscribeProperties struct {
	// SubscriptionID tags every delivery that matches one of the filters in
	// this packet.
	SubscriptionID *uint32
	// User is a slice of user provided properties.
	User []User
}

func (p *SubscribeProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch prop {
		case SubscriptionIdentifierProp:
			si, err := codec.DecodeVBI(r)
			if err != nil {
				return err
			}
			id := uint32(si)
			p.SubscriptionID = &id
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
			return fmt.Errorf("invalid property type %d for subscribe packet", prop)
		}
	}
}

func (p *SubscribeProperties) Encode() []byte {
	var ret []byte
	if p.SubscriptionID != nil {
		ret = append(ret, SubscriptionIdentifierProp)
		ret = append(ret, codec.EncodeVBI(int(*p.SubscriptionID))...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// SubOption is a single topic filter with its subscription options byte
// broken out.
type SubOption struct {
	Topic             string
	MaxQoS            byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}

// Subscribe is an internal representation of the fields of the SUBSCRIBE packet.
type Subscribe struct {
	FixedHeader
	ID         uint16
	Properties *SubscribeProperties
	Opts       []SubOption
}

func (pkt *Subscribe) Type() byte {
	return SubscribeType
}

func (pkt *Subscribe) String() string {
	return fmt.Sprintf("%s packet_id: %d topics: %d", pkt.FixedHeader, pkt.ID, len(pkt.Opts))
}

func (pkt *Subscribe) Encode() []byte {
	var body bytes.Buffer
	body.Write(codec.EncodeUint16(pkt.ID))
	if pkt.Properties != nil {
		body.Write(encodePropertyBlock(pkt.Properties.Encode()))
	} else {
		body.WriteByte(0)
	}
	for _, opt := range pkt.Opts {
		body.Write(codec.EncodeString(opt.Topic))
		body.WriteByte(opt.MaxQoS |
			codec.EncodeBool(opt.NoLocal)<<2 |
			codec.EncodeBool(opt.RetainAsPublished)<<3 |
			opt.RetainHandling<<4)
	}
	pkt.FixedHeader.RemainingLength = body.Len()
	return append(pkt.FixedHeader.Encode(), body.Bytes()...)
}

func (pkt *Subscribe) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *Subscribe) Unpack(r io.Reader) error {
	var err error
	if pkt.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	props, err := readPropertyBlock(r)
	if err != nil {
		return err
	}
	p := SubscribeProperties{}
	if err := p.Unpack(props); err != nil {
		return err
	}
	pkt.Properties = &p

	for {
		topic, err := codec.DecodeString(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		options, err := codec.DecodeByte(r)
		if err != nil {
			return err
		}
		pkt.Opts = append(pkt.Opts, SubOption{
			Topic:             topic,
			MaxQoS:            options & 0x03,
			NoLocal:           options&0x04 > 0,
			RetainAsPublished: options&0x08 > 0,
			RetainHandling:    (options >> 4) & 0x03,
		})
	}

	return nil
}

func (pkt *Subscribe) Details() Details {
	return Details{Type: SubscribeType, ID: pkt.ID, QoS: 1}
}

// SubAck is an internal representation of the fields of the SUBACK packet.
type SubAck struct {
	FixedHeader
	ID          uint16
	Properties  *BasicProperties
	ReasonCodes []byte
}

func (pkt *SubAck) Type() byte {
	return SubAckType
}

func (pkt *SubAck) String() string {
	return fmt.Sprintf("%s packet_id: %d reason_codes: %v", pkt.FixedHeader, pkt.ID, pkt.ReasonCodes)
}

func (pkt *SubAck) Encode() []byte {
	var body bytes.Buffer
	body.Write(codec.EncodeUint16(pkt.ID))
	if pkt.Properties != nil {
		body.Write(encodePropertyBlock(pkt.Properties.Encode()))
	} else {
		body.WriteByte(0)
	}
	body.Write(pkt.ReasonCodes)
	pkt.FixedHeader.RemainingLength = body.Len()
	return append(pkt.FixedHeader.Encode(), body.Bytes()...)
}

func (pkt *SubAck) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *SubAck) Unpack(r io.Reader) error {
	var err error
	if pkt.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	props, err := readPropertyBlock(r)
	if err != nil {
		return err
	}
	p := BasicProperties{}
	if err := p.Unpack(props); err != nil {
		return err
	}
	pkt.Properties = &p
	pkt.ReasonCodes, err = io.ReadAll(r)
	return err
}

func (pkt *SubAck) Details() Details {
	return Details{Type: SubAckType, ID: pkt.ID}
}
