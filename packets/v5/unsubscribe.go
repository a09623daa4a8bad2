package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets/codec"
)

// Unsubscribe is an internal representation of the fields of the UNSUBSCRIBE packet.
type Unsubscribe struct {
	FixedHeader
	ID         uint16
	Properties *BasicProperties
	Topics     []string
}

func (pkt *Unsubscribe) Type() byte {
	return UnsubscribeType
}

func (pkt *Unsubscribe) String() string {
	return fmt.Sprintf("%s packet_id: %d topics: %v", pkt.FixedHeader, pkt.ID, pkt.Topics)
}

func (pkt *Unsubscribe) Encode() []byte {
	var body bytes.Buffer
	body.Write(codec.EncodeUint16(pkt.ID))
	if pkt.Properties != nil {
		body.Write(encodePropertyBlock(pkt.Properties.Encode()))
	} else {
		body.WriteByte(0)
	}
	for _, topic := range pkt.Topics {
		body.Write(codec.EncodeString(topic))
	}
	pkt.FixedHeader.RemainingLength = body.Len()
	return append(pkt.FixedHeader.Encode(), body.Bytes()...)
}

func (pkt *Unsubscribe) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *Unsubscribe) Unpack(r io.Reader) error {
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

	for {
		topic, err := codec.DecodeString(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		pkt.Topics = append(pkt.Topics, topic)
	}

	return nil
}

func (pkt *Unsubscribe) Details() Details {
	return Details{Type: UnsubscribeType, ID: pkt.ID, QoS: 1}
}

// UnsubAck is an internal representation of the fields of the UNSUBACK packet.
type UnsubAck struct {
	FixedHeader
	ID          uint16
	Properties  *BasicProperties
	ReasonCodes []byte
}

func (pkt *UnsubAck) Type() byte {
	return UnsubAckType
}

func (pkt *UnsubAck) String() string {
	return fmt.Sprintf("%s packet_id: %d reason_codes: %v", pkt.FixedHeader, pkt.ID, pkt.ReasonCodes)
}

func (pkt *UnsubAck) Encode() []byte {
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

func (pkt *UnsubAck) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *UnsubAck) Unpack(r io.Reader) error {
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

func (pkt *UnsubAck) Details() Details {
	return Details{Type: UnsubAckType, ID: pkt.ID}
}
