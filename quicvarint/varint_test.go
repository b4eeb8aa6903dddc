package quicvarint

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimits(t *testing.T) {
	require.Equal(t, 0, Min)
	require.Equal(t, uint64(1<<62-1), Max)
}

func TestRead(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected uint64
	}{
		{"1 byte", []byte{0b00011001}, 25},
		{"2 byte", []byte{0b01111011, 0xbd}, 15293},
		{"4 byte", []byte{0b10011101, 0x7f, 0x3e, 0x7d}, 494878333},
		{"8 byte", []byte{0b11000010, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}, 151288809941952652},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.input)
			v, err := Read(r)
			require.NoError(t, err)
			require.Equal(t, tt.expected, v)
			require.Zero(t, r.Len())
		})
	}
}

func TestParse(t *testing.T) {
	value, l, err := Parse([]byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c})
	require.NoError(t, err)
	require.Equal(t, uint64(151288809941952652), value)
	require.Equal(t, 8, l)
}

func TestParseErrors(t *testing.T) {
	_, _, err := Parse(nil)
	require.ErrorIs(t, err, io.EOF)
	_, _, err = Parse([]byte{0b01000001})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEncodeExampleVectors(t *testing.T) {
	// literal scenario from the design: encode 0x3FFF -> 2-byte form.
	require.Equal(t, []byte{0x7F, 0xFF}, Append(nil, 0x3FFF))
	// literal scenario: encode 151288809941952652 -> 8-byte form.
	require.Equal(t, []byte{0xC2, 0x19, 0x7C, 0x5E, 0xFF, 0x14, 0xE8, 0x8C}, Append(nil, 151288809941952652))
}

func TestAppendChoosesSmallestClass(t *testing.T) {
	require.Len(t, Append(nil, maxVarInt1), 1)
	require.Len(t, Append(nil, maxVarInt1+1), 2)
	require.Len(t, Append(nil, maxVarInt2), 2)
	require.Len(t, Append(nil, maxVarInt2+1), 4)
	require.Len(t, Append(nil, maxVarInt4), 4)
	require.Len(t, Append(nil, maxVarInt4+1), 8)
}

func TestAppendPanicsOnOverflow(t *testing.T) {
	require.Panics(t, func() { Append(nil, maxVarInt8+1) })
}

func TestAppendWithLen(t *testing.T) {
	b := AppendWithLen(nil, 37, 4)
	require.Equal(t, []byte{0b10000000, 0, 0, 0x25}, b)
	v, n, err := Parse(b)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, uint64(37), v)
}

func TestAppendWithLenFailures(t *testing.T) {
	require.Panics(t, func() { AppendWithLen(nil, 25, 3) })
	require.Panics(t, func() { AppendWithLen(nil, maxVarInt1+1, 1) })
}

func TestLen(t *testing.T) {
	require.Equal(t, 1, Len(0))
	require.Equal(t, 1, Len(maxVarInt1))
	require.Equal(t, 2, Len(maxVarInt1+1))
	require.Equal(t, 8, Len(maxVarInt8))
	require.Panics(t, func() { Len(maxVarInt8 + 1) })
}

// TestRoundTrip is the quantified invariant from the design: for every
// n in [0, 2^62-1] (sampled), decode(encode(n)) == n, and the encoded
// length is the smallest class that fits n.
func TestRoundTrip(t *testing.T) {
	for i := 0; i < 10000; i++ {
		n := rand.Uint64N(Max + 1)
		enc := Append(nil, n)
		require.Equal(t, Len(n), len(enc))
		v, l, err := Parse(enc)
		require.NoError(t, err)
		require.Equal(t, n, v)
		require.Equal(t, len(enc), l)
	}
	// boundary values
	for _, n := range []uint64{0, maxVarInt1, maxVarInt1 + 1, maxVarInt2, maxVarInt2 + 1, maxVarInt4, maxVarInt4 + 1, maxVarInt8} {
		enc := Append(nil, n)
		v, l, err := Parse(enc)
		require.NoError(t, err)
		require.Equal(t, n, v)
		require.Equal(t, len(enc), l)
	}
}
