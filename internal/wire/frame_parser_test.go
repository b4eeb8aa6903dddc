package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitekyo/quicker/internal/protocol"
)

// TestFrameRoundTrip is the quantified property: for every frame kind,
// decode(encode(frame)) == frame byte-for-byte, modulo PADDING coalescing.
func TestFrameRoundTrip(t *testing.T) {
	frames := []Frame{
		&PingFrame{},
		&PongFrame{},
		&BlockedFrame{Offset: 100},
		&StreamBlockedFrame{StreamID: 4, Offset: 10},
		&StreamIDBlockedFrame{StreamID: 400},
		&MaxDataFrame{MaximumData: 1 << 20},
		&MaxStreamDataFrame{StreamID: 4, MaximumData: 1 << 16},
		&MaxStreamIDFrame{MaxStreamID: 404},
		&PathChallengeFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&PathResponseFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&StopSendingFrame{StreamID: 4, ErrorCode: 7},
		&RstStreamFrame{StreamID: 4, ErrorCode: 12, FinalOffset: 500},
		&NewConnectionIDFrame{SequenceNumber: 1, ConnectionID: []byte{1, 2, 3, 4}, StatelessResetToken: [16]byte{1}},
		&CryptoFrame{Offset: 0, Data: []byte("client hello")},
		&ConnectionCloseFrame{ErrorCode: 0x3, ReasonPhrase: "flow control violated"},
		&ConnectionCloseFrame{IsApplicationError: true, ErrorCode: 0x1, ReasonPhrase: ""},
		&StreamFrame{StreamID: 4, Offset: 0, Data: []byte("hello"), DataLenPresent: true},
		&StreamFrame{StreamID: 4, Offset: 5, Data: []byte("world"), Fin: true, DataLenPresent: true},
	}
	for _, f := range frames {
		var buf bytes.Buffer
		require.NoError(t, f.Write(&buf))
		require.EqualValues(t, f.Length(), buf.Len())

		decoded, err := ParseFrames(buf.Bytes())
		require.NoError(t, err)
		require.Len(t, decoded, 1)
		require.Equal(t, f, decoded[0])
	}
}

func TestPaddingCoalesces(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, byte(PingFrameType), 0x00}
	frames, err := ParseFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.Equal(t, &PaddingFrame{Count: 3}, frames[0])
	require.Equal(t, &PingFrame{}, frames[1])
	require.Equal(t, &PaddingFrame{Count: 1}, frames[2])
}

func TestUnknownFrameTypeIsFrameEncodingError(t *testing.T) {
	_, err := ParseFrames([]byte{0xff})
	require.Error(t, err)
}

func TestStreamFrameImplicitLength(t *testing.T) {
	// LEN bit absent: STREAM frame's data extends to the end of the packet.
	f := &StreamFrame{StreamID: 4, Data: []byte("hello"), DataLenPresent: false}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	decoded, err := ParseFrames(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	got := decoded[0].(*StreamFrame)
	require.Equal(t, protocol.ByteCount(0), got.Offset)
	require.Equal(t, []byte("hello"), got.Data)
}

func TestOrderingPreserved(t *testing.T) {
	var buf bytes.Buffer
	(&PingFrame{}).Write(&buf)
	(&MaxDataFrame{MaximumData: 1}).Write(&buf)
	(&StreamFrame{StreamID: 0, Data: []byte("x"), DataLenPresent: true}).Write(&buf)
	frames, err := ParseFrames(buf.Bytes())
	require.NoError(t, err)
	require.IsType(t, &PingFrame{}, frames[0])
	require.IsType(t, &MaxDataFrame{}, frames[1])
	require.IsType(t, &StreamFrame{}, frames[2])
}
