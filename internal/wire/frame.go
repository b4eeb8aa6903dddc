package wire

import (
	"bytes"

	"github.com/whitekyo/quicker/internal/protocol"
)

// Frame is implemented by every QUIC frame. Write appends the frame's wire
// encoding to b; Length returns the number of bytes Write would append.
type Frame interface {
	Write(b *bytes.Buffer) error
	Length() protocol.ByteCount
}

// PaddingFrame is PADDING; Count consecutive 0x00 bytes coalesce into one
// logical frame, with Count tracking how many were observed/should be
// emitted for accounting purposes.
type PaddingFrame struct {
	Count int
}

func (f *PaddingFrame) Write(b *bytes.Buffer) error {
	for i := 0; i < f.Count; i++ {
		b.WriteByte(0x00)
	}
	return nil
}
func (f *PaddingFrame) Length() protocol.ByteCount { return protocol.ByteCount(f.Count) }

// PingFrame is PING: ack-eliciting, no payload.
type PingFrame struct{}

func (f *PingFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(PingFrameType))
	return nil
}
func (f *PingFrame) Length() protocol.ByteCount { return 1 }

// PongFrame is PONG: the response to a PING where applicable.
type PongFrame struct{}

func (f *PongFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(PongFrameType))
	return nil
}
func (f *PongFrame) Length() protocol.ByteCount { return 1 }

// BlockedFrame (informational, connection-level).
type BlockedFrame struct {
	Offset protocol.ByteCount
}

func (f *BlockedFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(BlockedFrameType))
	writeVarInt(b, uint64(f.Offset))
	return nil
}
func (f *BlockedFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.Offset))
}

// StreamBlockedFrame (informational, per-stream).
type StreamBlockedFrame struct {
	StreamID protocol.StreamID
	Offset   protocol.ByteCount
}

func (f *StreamBlockedFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(StreamBlockedFrameType))
	writeVarInt(b, uint64(f.StreamID))
	writeVarInt(b, uint64(f.Offset))
	return nil
}
func (f *StreamBlockedFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.StreamID)) + varIntLen(uint64(f.Offset))
}

// StreamIDBlockedFrame (informational; may trigger a MAX_STREAM_ID).
type StreamIDBlockedFrame struct {
	StreamID protocol.StreamID
}

func (f *StreamIDBlockedFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(StreamIDBlockedFrameType))
	writeVarInt(b, uint64(f.StreamID))
	return nil
}
func (f *StreamIDBlockedFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.StreamID))
}

// MaxDataFrame raises the connection-level flow-control limit.
type MaxDataFrame struct {
	MaximumData protocol.ByteCount
}

func (f *MaxDataFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(MaxDataFrameType))
	writeVarInt(b, uint64(f.MaximumData))
	return nil
}
func (f *MaxDataFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.MaximumData))
}

// MaxStreamDataFrame raises a stream's flow-control limit.
type MaxStreamDataFrame struct {
	StreamID    protocol.StreamID
	MaximumData protocol.ByteCount
}

func (f *MaxStreamDataFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(MaxStreamDataFrameType))
	writeVarInt(b, uint64(f.StreamID))
	writeVarInt(b, uint64(f.MaximumData))
	return nil
}
func (f *MaxStreamDataFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.StreamID)) + varIntLen(uint64(f.MaximumData))
}

// MaxStreamIDFrame raises the peer's allowance of streams it may open.
type MaxStreamIDFrame struct {
	MaxStreamID protocol.StreamID
}

func (f *MaxStreamIDFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(MaxStreamIDFrameType))
	writeVarInt(b, uint64(f.MaxStreamID))
	return nil
}
func (f *MaxStreamIDFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.MaxStreamID))
}

// PathChallengeFrame carries an 8-byte opaque payload; the peer must echo
// it in a PathResponseFrame.
type PathChallengeFrame struct {
	Data [8]byte
}

func (f *PathChallengeFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(PathChallengeFrameType))
	b.Write(f.Data[:])
	return nil
}
func (f *PathChallengeFrame) Length() protocol.ByteCount { return 9 }

// PathResponseFrame echoes a PathChallengeFrame's payload.
type PathResponseFrame struct {
	Data [8]byte
}

func (f *PathResponseFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(PathResponseFrameType))
	b.Write(f.Data[:])
	return nil
}
func (f *PathResponseFrame) Length() protocol.ByteCount { return 9 }

// StopSendingFrame asks the peer to stop sending on a stream.
type StopSendingFrame struct {
	StreamID  protocol.StreamID
	ErrorCode uint16
}

func (f *StopSendingFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(StopSendingFrameType))
	writeVarInt(b, uint64(f.StreamID))
	writeUint16(b, f.ErrorCode)
	return nil
}
func (f *StopSendingFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.StreamID)) + 2
}

// RstStreamFrame abruptly terminates a stream's send side.
type RstStreamFrame struct {
	StreamID   protocol.StreamID
	ErrorCode  uint16
	FinalOffset protocol.ByteCount
}

func (f *RstStreamFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(RstStreamFrameType))
	writeVarInt(b, uint64(f.StreamID))
	writeUint16(b, f.ErrorCode)
	writeVarInt(b, uint64(f.FinalOffset))
	return nil
}
func (f *RstStreamFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.StreamID)) + 2 + varIntLen(uint64(f.FinalOffset))
}

// NewConnectionIDFrame supplies an additional connection ID, keyed by
// sequence number, plus the stateless reset token associated with it.
type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	ConnectionID        protocol.ConnectionID
	StatelessResetToken [16]byte
}

func (f *NewConnectionIDFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(NewConnectionIDFrameType))
	writeVarInt(b, f.SequenceNumber)
	b.WriteByte(byte(len(f.ConnectionID)))
	b.Write(f.ConnectionID)
	b.Write(f.StatelessResetToken[:])
	return nil
}
func (f *NewConnectionIDFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(f.SequenceNumber) + 1 + protocol.ByteCount(len(f.ConnectionID)) + 16
}

// CryptoFrame carries TLS handshake bytes at a given offset into the
// per-encryption-level CRYPTO stream.
type CryptoFrame struct {
	Offset protocol.ByteCount
	Data   []byte
}

func (f *CryptoFrame) Write(b *bytes.Buffer) error {
	b.WriteByte(byte(CryptoFrameType))
	writeVarInt(b, uint64(f.Offset))
	writeVarInt(b, uint64(len(f.Data)))
	b.Write(f.Data)
	return nil
}
func (f *CryptoFrame) Length() protocol.ByteCount {
	return 1 + varIntLen(uint64(f.Offset)) + varIntLen(uint64(len(f.Data))) + protocol.ByteCount(len(f.Data))
}

// MaxDataLen returns how many data bytes would fit in a CRYPTO frame at
// this Offset whose total wire length is at most maxLen.
func (f *CryptoFrame) MaxDataLen(maxLen protocol.ByteCount) protocol.ByteCount {
	headerLen := protocol.ByteCount(1) + varIntLen(uint64(f.Offset))
	for _, l := range []protocol.ByteCount{1, 2, 4, 8} {
		if headerLen+l >= maxLen {
			continue
		}
		if varIntLen(uint64(maxLen-headerLen-l)) == l {
			return maxLen - headerLen - l
		}
	}
	if maxLen < headerLen+1 {
		return 0
	}
	return maxLen - headerLen - 1
}

// ConnectionCloseFrame is CONNECTION_CLOSE / APPLICATION_CLOSE.
type ConnectionCloseFrame struct {
	IsApplicationError bool
	ErrorCode          uint16
	ReasonPhrase       string
}

func (f *ConnectionCloseFrame) Write(b *bytes.Buffer) error {
	if f.IsApplicationError {
		b.WriteByte(byte(ApplicationCloseFrameType))
	} else {
		b.WriteByte(byte(ConnectionCloseFrameType))
	}
	writeUint16(b, f.ErrorCode)
	writeVarInt(b, uint64(len(f.ReasonPhrase)))
	b.WriteString(f.ReasonPhrase)
	return nil
}
func (f *ConnectionCloseFrame) Length() protocol.ByteCount {
	return 1 + 2 + varIntLen(uint64(len(f.ReasonPhrase))) + protocol.ByteCount(len(f.ReasonPhrase))
}

// StreamFrame carries application data for one stream.
type StreamFrame struct {
	StreamID protocol.StreamID
	Offset   protocol.ByteCount
	Data     []byte
	Fin      bool
	// DataLenPresent controls whether the LEN bit is set. When false, the
	// frame is assumed to extend to the end of the packet (only valid as
	// the last frame in a packet).
	DataLenPresent bool
}

func (f *StreamFrame) Write(b *bytes.Buffer) error {
	typeByte := byte(StreamFrameTypeBase)
	if f.Fin {
		typeByte |= streamFlagFIN
	}
	if f.DataLenPresent {
		typeByte |= streamFlagLEN
	}
	if f.Offset != 0 {
		typeByte |= streamFlagOFF
	}
	b.WriteByte(typeByte)
	writeVarInt(b, uint64(f.StreamID))
	if f.Offset != 0 {
		writeVarInt(b, uint64(f.Offset))
	}
	if f.DataLenPresent {
		writeVarInt(b, uint64(len(f.Data)))
	}
	b.Write(f.Data)
	return nil
}
func (f *StreamFrame) Length() protocol.ByteCount {
	length := protocol.ByteCount(1) + varIntLen(uint64(f.StreamID)) + protocol.ByteCount(len(f.Data))
	if f.Offset != 0 {
		length += varIntLen(uint64(f.Offset))
	}
	if f.DataLenPresent {
		length += varIntLen(uint64(len(f.Data)))
	}
	return length
}

// MaxDataLen returns the number of data bytes that would fit in a
// STREAM frame of at most maxLen bytes total, given the frame's current
// StreamID/Offset/flags but before Data is attached. Used by the framer
// when a STREAM frame without an explicit length is the last frame in a
// packet.
func (f *StreamFrame) MaxDataLen(maxLen protocol.ByteCount) protocol.ByteCount {
	headerLen := protocol.ByteCount(1) + varIntLen(uint64(f.StreamID))
	if f.Offset != 0 {
		headerLen += varIntLen(uint64(f.Offset))
	}
	if f.DataLenPresent {
		// LEN varint itself takes at least 1 byte; iterate to a fixpoint
		// over the small range of varint length classes.
		for _, l := range []protocol.ByteCount{1, 2, 4, 8} {
			if headerLen+l >= maxLen {
				continue
			}
			if varIntLen(uint64(maxLen-headerLen-l)) == l {
				return maxLen - headerLen - l
			}
		}
	}
	if maxLen < headerLen {
		return 0
	}
	return maxLen - headerLen
}
