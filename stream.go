package quic

import (
	"fmt"
	"io"
	"sync"

	"github.com/whitekyo/quicker/internal/flowcontrol"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
	"github.com/whitekyo/quicker/internal/utils"
	"github.com/whitekyo/quicker/internal/wire"
)

// streamSendState and streamRecvState track each half of a stream's
// state machine independently: Ready -> DataSent once the FIN is sent
// (or -> ResetSent) on the send side; Recv -> ResetRecvd on the receive
// side. streamRecvDataRecvd is declared but no code path enters it.
type streamSendState uint8

const (
	streamSendReady streamSendState = iota
	streamSendDataSent
	streamSendResetSent
)

type streamRecvState uint8

const (
	streamRecvRecv streamRecvState = iota
	streamRecvDataRecvd
	streamRecvResetRecvd
)

// Stream is a single QUIC stream: a reliable, ordered byte stream
// multiplexed over one connection.
type Stream struct {
	id          protocol.StreamID
	perspective protocol.Perspective

	mu     sync.Mutex
	cond   *sync.Cond
	sender streamFrameSender

	// send side
	sendState   streamSendState
	sendBuf     []byte
	sendOffset  protocol.ByteCount
	finSet      bool
	finSent     bool
	sendFC      *flowcontrol.StreamFlowController
	cancelWrite error

	// receive side
	recvState  streamRecvState
	recv       utils.ByteStreamReassembler
	finalSize  protocol.ByteCount
	hasFin     bool
	recvFC     *flowcontrol.StreamFlowController
	cancelRead error
	closed     bool
	recvLeftover []byte
}

// streamFrameSender is the subset of the connection a stream needs: the
// ability to hand off a frame for the framer to send on the next packet,
// and to mark the stream as having data for the framer.
type streamFrameSender interface {
	queueControlFrame(wire.Frame)
	onHasStreamData(protocol.StreamID)
}

func newStream(id protocol.StreamID, perspective protocol.Perspective, sender streamFrameSender, sendFC, recvFC *flowcontrol.StreamFlowController) *Stream {
	s := &Stream{
		id:          id,
		perspective: perspective,
		sender:      sender,
		sendFC:      sendFC,
		recvFC:      recvFC,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// StreamID returns the stream's identifier.
func (s *Stream) StreamID() protocol.StreamID { return s.id }

// Write appends p to the stream's send buffer and marks the stream active
// in the connection's framer. It does not wake the connection's run loop:
// the data is framed the next time the loop sends, after an inbound
// packet or a timer. It blocks only
// long enough to copy p; flow control is applied when the framer later
// pulls data out of the buffer via popStreamFrame.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelWrite != nil {
		return 0, s.cancelWrite
	}
	if s.sendState != streamSendReady || s.finSet {
		return 0, fmt.Errorf("quic: write on closed stream %d", s.id)
	}
	s.sendBuf = append(s.sendBuf, p...)
	s.sender.onHasStreamData(s.id)
	return len(p), nil
}

// Close sends a FIN on the stream's next outgoing frame; no further
// writes are permitted afterwards.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendState != streamSendReady {
		return nil
	}
	s.finSet = true
	s.sender.onHasStreamData(s.id)
	return nil
}

// CancelWrite aborts the send side of the stream with a RST_STREAM
// carrying errorCode.
func (s *Stream) CancelWrite(errorCode uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendState != streamSendReady {
		return nil
	}
	s.abortSendLocked(errorCode, fmt.Sprintf("quic: stream %d was reset locally", s.id))
	return nil
}

// CancelRead aborts the receive side of the stream locally by asking the
// peer, via STOP_SENDING, to abort its corresponding send side.
func (s *Stream) CancelRead(errorCode uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRead != nil {
		return nil
	}
	s.cancelRead = fmt.Errorf("quic: stream %d read side was canceled locally", s.id)
	s.sender.queueControlFrame(&wire.StopSendingFrame{StreamID: s.id, ErrorCode: errorCode})
	s.cond.Broadcast()
	return nil
}

// abortSendLocked tears down the send side with a RST_STREAM, used by
// both a local CancelWrite and a peer's STOP_SENDING request.
func (s *Stream) abortSendLocked(errorCode uint16, reason string) {
	s.sendState = streamSendResetSent
	s.cancelWrite = fmt.Errorf("%s", reason)
	s.sender.queueControlFrame(&wire.RstStreamFrame{
		StreamID:    s.id,
		ErrorCode:   errorCode,
		FinalOffset: s.sendOffset + protocol.ByteCount(len(s.sendBuf)),
	})
	s.sendBuf = nil
}

// reportBytesRead tells the stream- and connection-level flow
// controllers that n more bytes were delivered to the application,
// queueing MAX_STREAM_DATA/MAX_DATA frames as the advertised windows
// are raised.
func (s *Stream) reportBytesRead(n protocol.ByteCount) {
	streamUpdate, connUpdate := s.recvFC.AddBytesRead(n)
	if streamUpdate > 0 {
		s.sender.queueControlFrame(&wire.MaxStreamDataFrame{StreamID: s.id, MaximumData: streamUpdate})
	}
	if connUpdate > 0 {
		s.sender.queueControlFrame(&wire.MaxDataFrame{MaximumData: connUpdate})
	}
}

// hasDataForWriting reports whether the framer should pull data from
// this stream for the next outgoing packet.
func (s *Stream) hasDataForWriting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sendBuf) > 0 || (s.finSet && !s.finSent)
}

// popStreamFrame dequeues up to maxLen bytes of pending send data as a
// STREAM frame, subject to flow control; returns nil if nothing fits.
func (s *Stream) popStreamFrame(maxLen protocol.ByteCount) (*wire.StreamFrame, bool /* hasMore */) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendState != streamSendReady && s.sendState != streamSendDataSent {
		return nil, false
	}

	available := s.sendFC.SendWindowSize()
	n := protocol.ByteCount(len(s.sendBuf))
	if n > available {
		n = available
	}

	f := &wire.StreamFrame{StreamID: s.id, Offset: s.sendOffset, DataLenPresent: true}
	dataLen := f.MaxDataLen(maxLen)
	if dataLen < n {
		n = dataLen
	}
	if n < 0 {
		n = 0
	}
	f.Data = append([]byte{}, s.sendBuf[:n]...)

	willFin := s.finSet && n == protocol.ByteCount(len(s.sendBuf))
	if n == 0 && !willFin {
		return nil, false
	}
	f.Fin = willFin

	if err := s.sendFC.AddBytesSent(n); err != nil {
		return nil, false
	}
	s.sendBuf = s.sendBuf[n:]
	s.sendOffset += n
	if willFin {
		s.finSent = true
		s.sendState = streamSendDataSent
	}
	return f, len(s.sendBuf) > 0
}

// handleStreamFrame processes an incoming STREAM frame, enforcing flow
// control and the FIN/final-size invariant.
func (s *Stream) handleStreamFrame(f *wire.StreamFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recvState == streamRecvResetRecvd {
		return nil
	}
	highest := f.Offset + protocol.ByteCount(len(f.Data))
	added := protocol.ByteCount(0)
	if highest > s.recv.HighestOffset() {
		added = highest - s.recv.HighestOffset()
	}
	if err := s.recvFC.UpdateHighestReceived(highest, added); err != nil {
		return err
	}
	if f.Fin {
		if s.hasFin && s.finalSize != highest {
			return qerr.NewError(qerr.FinalOffsetError, "inconsistent final size")
		}
		s.hasFin = true
		s.finalSize = highest
	} else if s.hasFin && highest > s.finalSize {
		return qerr.NewError(qerr.FinalOffsetError, "data received beyond final size")
	}

	s.recv.Push(f.Data, f.Offset)
	s.cond.Broadcast()
	return nil
}

// handleStopSendingFrame processes an incoming STOP_SENDING: the peer no
// longer wants our data on this stream, so the send side is aborted the
// same way a local CancelWrite would, echoing its error code back in a
// RST_STREAM.
func (s *Stream) handleStopSendingFrame(f *wire.StopSendingFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendState != streamSendReady {
		return nil
	}
	s.abortSendLocked(f.ErrorCode, fmt.Sprintf("quic: stream %d send side stopped by peer, error code %d", s.id, f.ErrorCode))
	return nil
}

// handleRstStreamFrame processes an incoming RST_STREAM.
func (s *Stream) handleRstStreamFrame(f *wire.RstStreamFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasFin && s.finalSize != f.FinalOffset {
		return qerr.NewError(qerr.FinalOffsetError, "RST_STREAM final size mismatch")
	}
	s.recvState = streamRecvResetRecvd
	s.cancelRead = fmt.Errorf("quic: stream %d was reset by peer, error code %d", s.id, f.ErrorCode)
	s.cond.Broadcast()
	return nil
}

// Read blocks until at least one byte is available, the stream is
// closed by the peer (io.EOF), or it was reset (an error).
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.cancelRead != nil {
			return 0, s.cancelRead
		}
		if len(s.recvLeftover) == 0 {
			s.recvLeftover = s.recv.Pop()
		}
		if len(s.recvLeftover) > 0 {
			n := copy(p, s.recvLeftover)
			s.recvLeftover = s.recvLeftover[n:]
			s.reportBytesRead(protocol.ByteCount(n))
			return n, nil
		}
		if s.hasFin && s.recv.ReadOffset() >= s.finalSize {
			return 0, io.EOF
		}
		s.cond.Wait()
	}
}
