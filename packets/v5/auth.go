package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/driftmq/driftmq/packets"
	"github.com/driftmq/driftmq/packets/codec"
)

// AuthProperties holds the properties of the AUTH variable header.
type AuthProperties struct {
	AuthMethod   string
	AuthData     []byte
	ReasonString string
	User         []User
}

func (p *AuthProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch prop {
		case AuthMethodProp:
			if p.AuthMethod, err = codec.DecodeString(r); err != nil {
				return err
			}
		case AuthDataProp:
			if p.AuthData, err = codec.DecodeBytes(r); err != nil {
				return err
			}
		case ReasonStringProp:
			if p.ReasonString, err = codec.DecodeString(r); err != nil {
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
		default:
			return fmt.Errorf("invalid property type %d for auth packet", prop)
		}
	}
}

func (p *AuthProperties) Encode() []byte {
	var ret []byte
	if p.AuthMethod != "" {
		ret = append(ret, AuthMethodProp)
		ret = append(ret, codec.EncodeString(p.AuthMethod)...)
	}
	if len(p.AuthData) > 0 {
		ret = append(ret, AuthDataProp)
		ret = append(ret, codec.EncodeBytes(p.AuthData)...)
	}
	if p.ReasonString != "" {
		ret = append(ret, ReasonStringProp)
		ret = append(ret, codec.EncodeString(p.ReasonString)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// Auth carries extended authentication exchanges (MQTT 5.0 only).
type Auth struct {
	FixedHeader
	ReasonCode byte
	Properties *AuthProperties
}

func (pkt *Auth) Type() byte {
	return AuthType
}

func (pkt *Auth) String() string {
	return fmt.Sprintf("%s reason_code: %d", pkt.FixedHeader, pkt.ReasonCode)
}

func (pkt *Auth) Encode() []byte {
	var body bytes.Buffer

	var encodedProps []byte
	if pkt.Properties != nil {
		encodedProps = pkt.Properties.Encode()
	}
	if pkt.ReasonCode != packets.ReasonSuccess || len(encodedProps) > 0 {
		body.WriteByte(pkt.ReasonCode)
		body.Write(encodePropertyBlock(encodedProps))
	}

	pkt.FixedHeader.RemainingLength = body.Len()
	return append(pkt.FixedHeader.Encode(), body.Bytes()...)
}

func (pkt *Auth) Pack(w io.Writer) error {
	_, err := w.Write(pkt.Encode())
	return err
}

func (pkt *Auth) Unpack(r io.Reader) error {
	if pkt.FixedHeader.RemainingLength == 0 {
		pkt.ReasonCode = packets.ReasonSuccess
		return nil
	}

	var err error
	if pkt.ReasonCode, err = codec.DecodeByte(r); err != nil {
		return err
	}
	if pkt.FixedHeader.RemainingLength > 1 {
		props, err := readPropertyBlock(r)
		if err != nil {
			return err
		}
		p := AuthProperties{}
		if err := p.Unpack(props); err != nil {
			return err
		}
		pkt.Properties = &p
	}
	return nil
}

func (pkt *Auth) Details() Details {
	return Details{Type: AuthType}
}
