package v3

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets/codec"
)

// Subscribe is an internal representation of the fields of the SUBSCRIBE packet.
type Subscribe struct {
	FixedHeader
	ID      uint16
	Topics  []string
	QoSList []byte
}

func (pkt *Subscribe) Type() byte {
	return SubscribeType
}

func (pkt *Subscribe) String() string {
	return fmt.Sprintf("%s packet_id: %d topics: %v", pkt.FixedHeader, pkt.ID, pkt.Topics)
}

func (pkt *Subscribe) Encode() []byte {
	var body bytes.Buffer
	body.Write(codec.EncodeUint16(pkt.ID))
	for i, topic := range pkt.Topics {
		body.Write(codec.EncodeString(topic))
		body.WriteByte(pkt.QoSList[i])
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

	payloadLength := pkt.FixedHeader.RemainingLength - 2
	for payloadLength > 0 {
		topic, err := codec.DecodeString(r)
		if err != nil {
			return err
		}
		pkt.Topics = append(pkt.Topics, topic)
		qos, err := codec.DecodeByte(r)
		if err != nil {
			return err
		}
		pkt.QoSList = append(pkt.QoSList, qos)
		payloadLength -= 2 + len(topic) + 1
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
	ReturnCodes []byte
}

func (pkt *SubAck) Type() byte {
	return SubAckType
}

func (pkt *SubAck) String() string {
	return fmt.Sprintf("%s packet_id: %d return_codes: %v", pkt.FixedHeader, pkt.ID, pkt.ReturnCodes)
}

func (pkt *SubAck) Encode() []byte {
	ret := codec.EncodeUint16(pkt.ID)
	ret = append(ret, pkt.ReturnCodes...)
	pkt.FixedHeader.RemainingLength = len(ret)
	return append(pkt.FixedHeader.Encode(), ret...)
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
	pkt.ReturnCodes, err = io.ReadAll(r)
	return err
}

func (pkt *SubAck) Details() Details {
	return Details{Type: SubAckType, ID: pkt.ID}
}
