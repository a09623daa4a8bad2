package v5

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
