package wire

import (
	"bytes"
	"io"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

// ParseFrames decodes every frame in data, in wire order. PADDING bytes
// coalesce into a single PaddingFrame whose Count reflects how many were
// seen, matching the design's accounting rule.
func ParseFrames(data []byte) ([]Frame, error) {
	r := bytes.NewReader(data)
	var frames []Frame
	for r.Len() > 0 {
		f, err := parseNextFrame(r)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func parseNextFrame(r *bytes.Reader) (Frame, error) {
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "unexpected end of packet")
	}

	if typeByte == byte(PaddingFrameType) {
		count := 1
		for r.Len() > 0 {
			b, _ := r.ReadByte()
			if b != byte(PaddingFrameType) {
				r.UnreadByte()
				break
			}
			count++
		}
		return &PaddingFrame{Count: count}, nil
	}

	if IsStreamFrameType(typeByte) {
		return parseStreamFrame(r, typeByte)
	}

	switch FrameType(typeByte) {
	case PingFrameType:
		return &PingFrame{}, nil
	case PongFrameType:
		return &PongFrame{}, nil
	case AckFrameType:
		return parseAckFrame(r, false)
	case AckECNFrameType:
		return parseAckFrame(r, true)
	case CryptoFrameType:
		return parseCryptoFrame(r)
	case RstStreamFrameType:
		return parseRstStreamFrame(r)
	case StopSendingFrameType:
		return parseStopSendingFrame(r)
	case MaxDataFrameType:
		return parseMaxDataFrame(r)
	case MaxStreamDataFrameType:
		return parseMaxStreamDataFrame(r)
	case MaxStreamIDFrameType:
		return parseMaxStreamIDFrame(r)
	case BlockedFrameType:
		return parseBlockedFrame(r)
	case StreamBlockedFrameType:
		return parseStreamBlockedFrame(r)
	case StreamIDBlockedFrameType:
		return parseStreamIDBlockedFrame(r)
	case NewConnectionIDFrameType:
		return parseNewConnectionIDFrame(r)
	case PathChallengeFrameType:
		return parsePathChallengeFrame(r)
	case PathResponseFrameType:
		return parsePathResponseFrame(r)
	case ConnectionCloseFrameType:
		return parseConnectionCloseFrame(r, false)
	case ApplicationCloseFrameType:
		return parseConnectionCloseFrame(r, true)
	default:
		return nil, qerr.NewError(qerr.FrameEncodingError, "unknown frame type")
	}
}

func parseStreamFrame(r *bytes.Reader, typeByte byte) (*StreamFrame, error) {
	f := &StreamFrame{
		Fin:            typeByte&streamFlagFIN != 0,
		DataLenPresent: typeByte&streamFlagLEN != 0,
	}
	hasOffset := typeByte&streamFlagOFF != 0

	sid, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "STREAM: stream ID")
	}
	f.StreamID = protocol.StreamID(sid)

	if hasOffset {
		off, err := readVarInt(r)
		if err != nil {
			return nil, qerr.NewError(qerr.FrameEncodingError, "STREAM: offset")
		}
		f.Offset = protocol.ByteCount(off)
	}

	var dataLen uint64
	if f.DataLenPresent {
		dataLen, err = readVarInt(r)
		if err != nil {
			return nil, qerr.NewError(qerr.FrameEncodingError, "STREAM: length")
		}
		if int(dataLen) > r.Len() {
			return nil, io.ErrUnexpectedEOF
		}
	} else {
		dataLen = uint64(r.Len())
	}
	f.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, f.Data); err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "STREAM: data")
	}
	return f, nil
}

func parseCryptoFrame(r *bytes.Reader) (*CryptoFrame, error) {
	off, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "CRYPTO: offset")
	}
	length, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "CRYPTO: length")
	}
	if int(length) > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "CRYPTO: data")
	}
	return &CryptoFrame{Offset: protocol.ByteCount(off), Data: data}, nil
}

func parseRstStreamFrame(r *bytes.Reader) (*RstStreamFrame, error) {
	sid, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "RST_STREAM: stream ID")
	}
	ec, err := readUint16(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "RST_STREAM: error code")
	}
	fo, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "RST_STREAM: final offset")
	}
	return &RstStreamFrame{StreamID: protocol.StreamID(sid), ErrorCode: ec, FinalOffset: protocol.ByteCount(fo)}, nil
}

func parseStopSendingFrame(r *bytes.Reader) (*StopSendingFrame, error) {
	sid, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "STOP_SENDING: stream ID")
	}
	ec, err := readUint16(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "STOP_SENDING: error code")
	}
	return &StopSendingFrame{StreamID: protocol.StreamID(sid), ErrorCode: ec}, nil
}

func parseMaxDataFrame(r *bytes.Reader) (*MaxDataFrame, error) {
	v, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "MAX_DATA")
	}
	return &MaxDataFrame{MaximumData: protocol.ByteCount(v)}, nil
}

func parseMaxStreamDataFrame(r *bytes.Reader) (*MaxStreamDataFrame, error) {
	sid, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "MAX_STREAM_DATA: stream ID")
	}
	v, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "MAX_STREAM_DATA: max data")
	}
	return &MaxStreamDataFrame{StreamID: protocol.StreamID(sid), MaximumData: protocol.ByteCount(v)}, nil
}

func parseMaxStreamIDFrame(r *bytes.Reader) (*MaxStreamIDFrame, error) {
	v, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "MAX_STREAM_ID")
	}
	return &MaxStreamIDFrame{MaxStreamID: protocol.StreamID(v)}, nil
}

func parseBlockedFrame(r *bytes.Reader) (*BlockedFrame, error) {
	v, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "BLOCKED")
	}
	return &BlockedFrame{Offset: protocol.ByteCount(v)}, nil
}

func parseStreamBlockedFrame(r *bytes.Reader) (*StreamBlockedFrame, error) {
	sid, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "STREAM_BLOCKED: stream ID")
	}
	off, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "STREAM_BLOCKED: offset")
	}
	return &StreamBlockedFrame{StreamID: protocol.StreamID(sid), Offset: protocol.ByteCount(off)}, nil
}

func parseStreamIDBlockedFrame(r *bytes.Reader) (*StreamIDBlockedFrame, error) {
	sid, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "STREAM_ID_BLOCKED")
	}
	return &StreamIDBlockedFrame{StreamID: protocol.StreamID(sid)}, nil
}

func parseNewConnectionIDFrame(r *bytes.Reader) (*NewConnectionIDFrame, error) {
	seq, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "NEW_CONNECTION_ID: sequence number")
	}
	cidLen, err := r.ReadByte()
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "NEW_CONNECTION_ID: CID length")
	}
	cid := make([]byte, cidLen)
	if _, err := io.ReadFull(r, cid); err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "NEW_CONNECTION_ID: CID")
	}
	var token [16]byte
	if _, err := io.ReadFull(r, token[:]); err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "NEW_CONNECTION_ID: reset token")
	}
	return &NewConnectionIDFrame{SequenceNumber: seq, ConnectionID: protocol.ConnectionID(cid), StatelessResetToken: token}, nil
}

func parsePathChallengeFrame(r *bytes.Reader) (*PathChallengeFrame, error) {
	f := &PathChallengeFrame{}
	if _, err := io.ReadFull(r, f.Data[:]); err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "PATH_CHALLENGE")
	}
	return f, nil
}

func parsePathResponseFrame(r *bytes.Reader) (*PathResponseFrame, error) {
	f := &PathResponseFrame{}
	if _, err := io.ReadFull(r, f.Data[:]); err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "PATH_RESPONSE")
	}
	return f, nil
}

// parseConnectionCloseFrame reads the body of a CONNECTION_CLOSE or
// APPLICATION_CLOSE frame (the type byte has already been consumed).
// Per the design's resolution of the reason-phrase bug: after the VLIE
// length is decoded, the next `length` bytes starting right after the
// VLIE's own end offset are the reason phrase (not length-1, not
// re-using the VLIE's end as both length and start).
func parseConnectionCloseFrame(r *bytes.Reader, isApplicationError bool) (*ConnectionCloseFrame, error) {
	ec, err := readUint16(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "CONNECTION_CLOSE: error code")
	}
	reasonLen, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "CONNECTION_CLOSE: reason length")
	}
	if int(reasonLen) > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	reason := make([]byte, reasonLen)
	if _, err := io.ReadFull(r, reason); err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "CONNECTION_CLOSE: reason")
	}
	return &ConnectionCloseFrame{IsApplicationError: isApplicationError, ErrorCode: ec, ReasonPhrase: string(reason)}, nil
}
