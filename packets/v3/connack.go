package v3

import (
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets/codec"
)

// ConnAck is an internal representation of the fields of the CONNACK packet.
type ConnAck struct {
	FixedHeader
	SessionPresent bool
	ReturnCode     byte
}

func (pkt *ConnAck) Type() byte {
	return ConnAckType
}

func (pkt *ConnAck) String() string {
	return fmt.Sprintf("%s session_present: %t return_code: %d", pkt.FixedHeader, pkt.SessionPresent, pkt.ReturnCode)
}

func (pkt *ConnAck) Encode() []byte {
	pkt.FixedHeader.RemainingLength = 2
	ret := pkt.FixedHeader.Encode()
	ret = append(ret, codec.EncodeBool(pkt.SessionPresent), pkt.ReturnCode)
	return ret
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
	pkt.ReturnCode, err = codec.DecodeByte(r)
	return err
}

func (pkt *ConnAck) Details() Details {
	return Details{Type: ConnAckType}
}
