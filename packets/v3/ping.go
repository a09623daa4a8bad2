package v3

import "io"

// PingReq is the keepalive probe sent by the client.
type PingReq struct {
	FixedHeader
}

func (pkt *PingReq) Type() byte     { return PingReqType }
func (pkt *PingReq) String() string { return pkt.FixedHeader.String() }

func (pkt *PingReq) Encode() []byte {
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Encode()
}

func (pkt *PingReq) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PingReq) Unpack(io.Reader) error { return nil }

func (pkt *PingReq) Details() Details { return Details{Type: PingReqType} }

// PingResp is the keepalive response sent by the server.
type PingResp struct {
	FixedHeader
}

func (pkt *PingResp) Type() byte     { return PingRespType }
func (pkt *PingResp) String() string { return pkt.FixedHeader.String() }

func (pkt *PingResp) Encode() []byte {
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Encode()
}

func (pkt *PingResp) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *PingResp) Unpack(io.Reader) error { return nil }

func (pkt *PingResp) Details() Details { return Details{Type: PingRespType} }

// Disconnect signals the client is closing the connection cleanly.
type Disconnect struct {
	FixedHeader
}

func (pkt *Disconnect) Type() byte     { return DisconnectType }
func (pkt *Disconnect) String() string { return pkt.FixedHeader.String() }

func (pkt *Disconnect) Encode() []byte {
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Encode()
}

func (pkt *Disconnect) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *Disconnect) Unpack(io.Reader) error { return nil }

func (pkt *Disconnect) Details() Details { return Details{Type: DisconnectType} }
