package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVBIRoundTrip(t *testing.T) {
	cases := []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 268435455}

	for _, n := range cases {
		encoded := EncodeVBI(n)
		decoded, err := DecodeVBI(bytes.NewReader(encoded))
		require.NoError(t, err, "value %d", n)
		assert.Equal(t, n, decoded)
	}
}

func TestVBIEncodedLength(t *testing.T) {
	assert.Len(t, EncodeVBI(0), 1)
	assert.Len(t, EncodeVBI(127), 1)
	assert.Len(t, EncodeVBI(128), 2)
	assert.Len(t, EncodeVBI(16383), 2)
	assert.Len(t, EncodeVBI(16384), 3)
	assert.Len(t, EncodeVBI(2097152), 4)
}

func TestVBIRejectsOverlong(t *testing.T) {
	_, err := DecodeVBI(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01}))
	assert.ErrorIs(t, err, ErrMaxLengthExceeded)
}

func TestStringRoundTrip(t *testing.T) {
	cases := []string{"", "a", "sensors/temperature", "ünïcödé"}

	for _, s := range cases {
		encoded := EncodeString(s)
		decoded, err := DecodeString(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, s, decoded)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xFF, 0x7F}
	decoded, err := DecodeBytes(bytes.NewReader(EncodeBytes(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestUintRoundTrip(t *testing.T) {
	u16, err := DecodeUint16(bytes.NewReader(EncodeUint16(0xBEEF)))
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), u16)

	u32, err := DecodeUint32(bytes.NewReader(EncodeUint32(0xDEADBEEF)))
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := DecodeUint16(bytes.NewReader([]byte{0x01}))
	assert.Error(t, err)

	_, err = DecodeBytes(bytes.NewReader([]byte{0x00, 0x05, 0x01}))
	assert.Error(t, err)
}
