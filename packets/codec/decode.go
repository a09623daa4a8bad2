package codec

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	// ErrMaxLengthExceeded is returned when a variable byte integer uses
	// more than four bytes.
	ErrMaxLengthExceeded = errors.New("variable byte integer exceeds maximum length")

	// ErrBufferTooShort is returned when a buffer ends before a complete
	// field could be decoded.
	ErrBufferTooShort = errors.New("buffer too short")
)

func DecodeByte(r io.Reader) (byte, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, err
	}
	return b[0], nil
}

func DecodeUint16(r io.Reader) (uint16, error) {
	num := make([]byte, 2)
	if _, err := io.ReadFull(r, num); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(num), nil
}

func DecodeUint32(r io.Reader) (uint32, error) {
	num := make([]byte, 4)
	if _, err := io.ReadFull(r, num); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(num), nil
}

func DecodeBytes(r io.Reader) ([]byte, error) {
	fieldLength, err := DecodeUint16(r)
	if err != nil {
		return nil, err
	}

	field := make([]byte, fieldLength)
	if _, err := io.ReadFull(r, field); err != nil {
		return nil, err
	}

	return field, nil
}

func DecodeString(r io.Reader) (string, error) {
	buf, err := DecodeBytes(r)
	return string(buf), err
}

// DecodeVBI decodes a Variable Byte Integer as used for remaining length
// and property lengths.
func DecodeVBI(r io.Reader) (int, error) {
	var vbi uint32
	var multiplier uint32
	b := make([]byte, 1)

	for {
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, err
		}
		digit := b[0]
		vbi |= uint32(digit&0x7F) << multiplier
		if (digit & 0x80) == 0 {
			return int(vbi), nil
		}
		multiplier += 7
		if multiplier > 21 {
			return 0, ErrMaxLengthExceeded
		}
	}
}
