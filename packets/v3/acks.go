package v3

import (
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets/codec"
)

// PubAck is the acknowledgment for a QoS 1 PUBLISH.
type PubAck struct {
	FixedHeader
	ID uint16
}

func (pkt *PubAck) Type() byte     { return PubAckType }
func (pkt *PubAck) String() string { return fmt.Sprintf("%s packet_id: %d", pkt.FixedHeader, pkt.ID) }

func (pkt *PubAck) Encode() []byte {
	pkt.FixedHeader.RemainingLength = 2
	return append(pkt.FixedHeader.Encode(), codec.EncodeUint16(pkt.ID)...)
}

func (pkt *PubAck) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PubAck) Unpack(r io.Reader) error {
	var err error
	pkt.ID, err = codec.DecodeUint16(r)
	return err
}

func (pkt *PubAck) Details() Details {
	return Details{Type: PubAckType, ID: pkt.ID, QoS: pkt.QoS}
}

// PubRec is the first response in the QoS 2 flow.
type PubRec struct {
	FixedHeader
	ID uint16
}

func (pkt *PubRec) Type() byte     { return PubRecType }
func (pkt *PubRec) String() string { return fmt.Sprintf("%s packet_id: %d", pkt.FixedHeader, pkt.ID) }

func (pkt *PubRec) Encode() []byte {
	pkt.FixedHeader.RemainingLength = 2
	return append(pkt.FixedHeader.Encode(), codec.EncodeUint16(pkt.ID)...)
}

func (pkt *PubRec) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PubRec) Unpack(r io.Reader) error {
	var err error
	pkt.ID, err = codec.DecodeUint16(r)
	return err
}

func (pkt *PubRec) Details() Details {
	return Details{Type: PubRecType, ID: pkt.ID, QoS: pkt.QoS}
}

// PubRel is the release packet in the QoS 2 flow. Its fixed header carries
// QoS 1 per the specification.
type PubRel struct {
	FixedHeader
	ID uint16
}

func (pkt *PubRel) Type() byte     { return PubRelType }
func (pkt *PubRel) String() string { return fmt.Sprintf("%s packet_id: %d", pkt.FixedHeader, pkt.ID) }

func (pkt *PubRel) Encode() []byte {
	pkt.FixedHeader.RemainingLength = 2
	return append(pkt.FixedHeader.Encode(), codec.EncodeUint16(pkt.ID)...)
}

func (pkt *PubRel) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PubRel) Unpack(r io.Reader) error {
	var err error
	pkt.ID, err = codec.DecodeUint16(r)
	return err
}

func (pkt *PubRel) Details() Details {
	return Details{Type: PubRelType, ID: pkt.ID, QoS: pkt.QoS}
}

// PubComp completes the QoS 2 flow.
type PubComp struct {
	FixedHeader
	ID uint16
}

func (pkt *PubComp) Type() byte     { return PubCompType }
func (pkt *PubComp) String() string { return fmt.Sprintf("%s packet_id: %d", pkt.FixedHeader, pkt.ID) }

func (pkt *PubComp) Encode() []byte {
	pkt.FixedHeader.RemainingLength = 2
	return append(pkt.FixedHeader.Encode(), codec.EncodeUint16(pkt.ID)...)
}

func (pkt *PubComp) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PubComp) Unpack(r io.Reader) error {
	var err error
	pkt.ID, err = codec.DecodeUint16(r)
	return err
}

func (pkt *PubComp) Details() Details {
	return Details{Type: PubCompType, ID: pkt.ID, QoS: pkt.QoS}
}
