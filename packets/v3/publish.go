package v3

import (
	"errors"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets/codec"
)

// ErrPublishInvalidLength indicates the remaining length is too short for the
// topic and packet identifier fields.
var ErrPublishInvalidLength = errors.New("error unpacking publish, payload length < 0")

// Publish is an internal representation of the fields of the PUBLISH packet.
type Publish struct {
	FixedHeader
	TopicName string
	ID        uint16
	Payload   []byte
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
	pkt.FixedHeader.RemainingLength = len(ret) + len(pkt.Payload)
	ret = append(ret, pkt.Payload...)
	return append(pkt.FixedHeader.Encode(), ret...)
}

func (pkt *Publish) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *Publish) Unpack(r io.Reader) error {
	payloadLength := pkt.FixedHeader.RemainingLength
	var err error
	if pkt.TopicName, err = codec.DecodeString(r); err != nil {
		return err
	}
	payloadLength -= len(pkt.TopicName) + 2

	if pkt.QoS > 0 {
		if pkt.ID, err = codec.DecodeUint16(r); err != nil {
			return err
		}
		payloadLength -= 2
	}
	if payloadLength < 0 {
		return ErrPublishInvalidLength
	}

	pkt.Payload = make([]byte, payloadLength)
	_, err = io.ReadFull(r, pkt.Payload)
	return err
}

// Copy creates a new Publish with the same topic and payload but an empty
// fixed header, for redelivery with different QoS or flags.
func (pkt *Publish) Copy() *Publish {
	cp := NewControlPacket(PublishType).(*Publish)
	cp.TopicName = pkt.TopicName
	cp.Payload = pkt.Payload
	return cp
}

func (pkt *Publish) Details() Details {
	return Details{Type: PublishType, ID: pkt.ID, QoS: pkt.QoS}
}
