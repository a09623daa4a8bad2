package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets"
	"github.com/driftmq/driftmq/packets/codec"
)

// encodeAck serializes the shared ack wire shape: packet id, optional reason
// code and optional property block. A success reason with no properties is
// encoded in the two-byte short form.
func encodeAck(fh *FixedHeader, id uint16, reason *byte, props *BasicProperties) []byte {
	var body bytes.Buffer
	body.Write(codec.EncodeUint16(id))

	var encodedProps []byte
	if props != nil {
		encodedProps = props.Encode()
	}

	rc := packets.ReasonSuccess
	if reason != nil {
		rc = *reason
	}
	if rc != packets.ReasonSuccess || len(encodedProps) > 0 {
		body.WriteByte(rc)
		body.Write(encodePropertyBlock(encodedProps))
	}

	fh.RemainingLength = body.Len()
	return append(fh.Encode(), body.Bytes()...)
}

// unpackAck parses the shared ack wire shape.
func unpackAck(fh FixedHeader, r io.Reader) (id uint16, reason *byte, props *BasicProperties, err error) {
	if id, err = codec.DecodeUint16(r); err != nil {
		return 0, nil, nil, err
	}
	if fh.RemainingLength == 2 {
		return id, nil, nil, nil
	}

	rc, err := codec.DecodeByte(r)
	if err != nil {
		return 0, nil, nil, err
	}
	reason = &rc

	if fh.RemainingLength > 3 {
		block, err := readPropertyBlock(r)
		if err != nil {
			return 0, nil, nil, err
		}
		p := BasicProperties{}
		if err := p.Unpack(block); err != nil {
			return 0, nil, nil, err
		}
		props = &p
	}
	return id, reason, props, nil
}

// PubAck is the acknowledgment for a QoS 1 PUBLISH.
type PubAck struct {
	FixedHeader
	ID         uint16
	ReasonCode *byte
	Properties *BasicProperties
}

func (pkt *PubAck) Type() byte { return PubAckType }

func (pkt *PubAck) String() string {
	return fmt.Sprintf("%s packet_id: %d", pkt.FixedHeader, pkt.ID)
}

func (pkt *PubAck) Encode() []byte {
	return encodeAck(&pkt.FixedHeader, pkt.ID, pkt.ReasonCode, pkt.Properties)
}

func (pkt *PubAck) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PubAck) Unpack(r io.Reader) error {
	var err error
	pkt.ID, pkt.ReasonCode, pkt.Properties, err = unpackAck(pkt.FixedHeader, r)
	return err
}

func (pkt *PubAck) Details() Details {
	return Details{Type: PubAckType, ID: pkt.ID, QoS: pkt.QoS}
}

// PubRec is the first response in the QoS 2 flow.
type PubRec struct {
	FixedHeader
	ID         uint16
	ReasonCode *byte
	Properties *BasicProperties
}

func (pkt *PubRec) Type() byte { return PubRecType }

func (pkt *PubRec) String() string {
	return fmt.Sprintf("%s packet_id: %d", pkt.FixedHeader, pkt.ID)
}

func (pkt *PubRec) Encode() []byte {
	return encodeAck(&pkt.FixedHeader, pkt.ID, pkt.ReasonCode, pkt.Properties)
}

func (pkt *PubRec) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PubRec) Unpack(r io.Reader) error {
	var err error
	pkt.ID, pkt.ReasonCode, pkt.Properties, err = unpackAck(pkt.FixedHeader, r)
	return err
}

func (pkt *PubRec) Details() Details {
	return Details{Type: PubRecType, ID: pkt.ID, QoS: pkt.QoS}
}

// PubRel is the release packet in the QoS 2 flow. Its fixed header carries
// QoS 1 per the specification.
type PubRel struct {
	FixedHeader
	ID         uint16
	ReasonCode *byte
	Properties *BasicProperties
}

func (pkt *PubRel) Type() byte { return PubRelType }

func (pkt *PubRel) String() string {
	return fmt.Sprintf("%s packet_id: %d", pkt.FixedHeader, pkt.ID)
}

func (pkt *PubRel) Encode() []byte {
	return encodeAck(&pkt.FixedHeader, pkt.ID, pkt.ReasonCode, pkt.Properties)
}

func (pkt *PubRel) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PubRel) Unpack(r io.Reader) error {
	var err error
	pkt.ID, pkt.ReasonCode, pkt.Properties, err = unpackAck(pkt.FixedHeader, r)
	return err
}

func (pkt *PubRel) Details() Details {
	return Details{Type: PubRelType, ID: pkt.ID, QoS: pkt.QoS}
}

// PubComp completes the QoS 2 flow.
type PubComp struct {
	FixedHeader
	ID         uint16
	ReasonCode *byte
	Properties *BasicProperties
}

func (pkt *PubComp) Type() byte { return PubCompType }

func (pkt *PubComp) String() string {
	return fmt.Sprintf("%s packet_id: %d", pkt.FixedHeader, pkt.ID)
}

func (pkt *PubComp) Encode() []byte {
	return encodeAck(&pkt.FixedHeader, pkt.ID, pkt.ReasonCode, pkt.Properties)
}

func (pkt *PubComp) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PubComp) Unpack(r io.Reader) error {
	var err error
	pkt.ID, pkt.ReasonCode, pkt.Properties, err = unpackAck(pkt.FixedHeader, r)
	return err
}

func (pkt *PubComp) Details() Details {
	return Details{Type: PubCompType, ID: pkt.ID, QoS: pkt.QoS}
}
