// Package flowcontrol implements the per-connection and per-stream flow
// control ledgers described in the design's data model: the invariant
// data_sent <= max_data_remote, violated by the peer, is a
// FLOW_CONTROL_ERROR.
package flowcontrol

import (
	"sync"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

// Ledger is the quartet (max_data_local, max_data_remote, data_sent,
// data_received) shared by the connection-level and stream-level flow
// controllers. It's touched both from the connection's single-threaded
// run loop (on receipt of STREAM/MAX_DATA frames) and from whichever
// goroutine is calling Stream.Read, so every access goes through mu.
type Ledger struct {
	mu sync.Mutex

	maxDataLocal  protocol.ByteCount // how much we allow the peer to send us
	maxDataRemote protocol.ByteCount // how much the peer allows us to send
	dataSent      protocol.ByteCount
	dataReceived  protocol.ByteCount

	bytesRead  protocol.ByteCount // consumed by the application via Read
	windowSize protocol.ByteCount // fixed increment applied when raising maxDataLocal
}

func NewLedger(initialMaxLocal protocol.ByteCount) *Ledger {
	return &Ledger{maxDataLocal: initialMaxLocal, windowSize: initialMaxLocal}
}

// AddBytesSent records locally-sent bytes, enforcing
// data_sent <= max_data_remote.
func (l *Ledger) AddBytesSent(n protocol.ByteCount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dataSent+n > l.maxDataRemote {
		return qerr.NewError(qerr.FlowControlError, "send would exceed peer's flow-control limit")
	}
	l.dataSent += n
	return nil
}

// SendWindowSize is how many more bytes may be sent before blocking.
func (l *Ledger) SendWindowSize() protocol.ByteCount {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dataSent >= l.maxDataRemote {
		return 0
	}
	return l.maxDataRemote - l.dataSent
}

// UpdateSendWindow raises max_data_remote; lower values from the peer are
// ignored, per the monotone-raise-only policy.
func (l *Ledger) UpdateSendWindow(offset protocol.ByteCount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset > l.maxDataRemote {
		l.maxDataRemote = offset
	}
}

// AddBytesReceived records bytes the peer has sent us, enforcing
// highestReceived <= max_data_local: returns a FLOW_CONTROL_ERROR if the
// peer exceeded what we advertised.
func (l *Ledger) AddBytesReceived(highestReceived protocol.ByteCount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if highestReceived > l.maxDataLocal {
		return qerr.NewError(qerr.FlowControlError, "received data beyond advertised max_data")
	}
	if highestReceived > l.dataReceived {
		l.dataReceived = highestReceived
	}
	return nil
}

// MaxDataLocal is our currently-advertised receive limit.
func (l *Ledger) MaxDataLocal() protocol.ByteCount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxDataLocal
}

// MaxDataRemote is the peer's currently-advertised send limit to us.
func (l *Ledger) MaxDataRemote() protocol.ByteCount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxDataRemote
}

// DataReceived is the highest contiguous-or-not offset observed so far.
func (l *Ledger) DataReceived() protocol.ByteCount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dataReceived
}

// DataSent is the number of bytes sent so far.
func (l *Ledger) DataSent() protocol.ByteCount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dataSent
}

// RaiseMaxDataLocal advances our locally-advertised receive window to
// newMax; a smaller newMax leaves it unchanged. It returns nothing; the
// value to send in a MAX_DATA / MAX_STREAM_DATA frame comes from
// MaybeQueueWindowUpdate.
func (l *Ledger) RaiseMaxDataLocal(newMax protocol.ByteCount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if newMax > l.maxDataLocal {
		l.maxDataLocal = newMax
	}
}

// IsBlocked reports whether the send window is currently exhausted.
func (l *Ledger) IsBlocked() bool { return l.SendWindowSize() == 0 }

// AddBytesRead records that n more bytes have been consumed by the
// application (freeing up room in the receive window).
func (l *Ledger) AddBytesRead(n protocol.ByteCount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bytesRead += n
}

// MaybeQueueWindowUpdate reports the new max_data_local value to
// advertise, once the advertised window has been more than half
// consumed by reads, mirroring the teacher's own auto-tuning threshold.
// Returns 0 if no update is due yet.
func (l *Ledger) MaybeQueueWindowUpdate() protocol.ByteCount {
	l.mu.Lock()
	if l.maxDataLocal-l.bytesRead >= l.windowSize/2 {
		l.mu.Unlock()
		return 0
	}
	newMax := l.bytesRead + l.windowSize
	l.mu.Unlock()
	l.RaiseMaxDataLocal(newMax)
	return newMax
}

// ConnectionFlowController is the connection-wide ledger.
type ConnectionFlowController struct {
	*Ledger
}

func NewConnectionFlowController(initialMaxLocal protocol.ByteCount) *ConnectionFlowController {
	return &ConnectionFlowController{Ledger: NewLedger(initialMaxLocal)}
}

// StreamFlowController is a per-stream ledger. It additionally exposes
// the connection-level ledger so that a stream's incoming bytes can be
// charged against the connection total atomically with the per-stream
// limit, matching the design's nested invariant (violating either is a
// FLOW_CONTROL_ERROR).
type StreamFlowController struct {
	*Ledger
	conn *ConnectionFlowController
}

func NewStreamFlowController(initialMaxLocal protocol.ByteCount, conn *ConnectionFlowController) *StreamFlowController {
	return &StreamFlowController{Ledger: NewLedger(initialMaxLocal), conn: conn}
}

// UpdateHighestReceived enforces both the stream-level and
// connection-level limits for a STREAM frame whose payload extends up to
// highestReceived; addedBytes is how many bytes are newly accounted
// towards the connection total (only the previously-unseen portion).
func (s *StreamFlowController) UpdateHighestReceived(highestReceived, addedBytes protocol.ByteCount) error {
	if err := s.AddBytesReceived(highestReceived); err != nil {
		return err
	}
	if addedBytes > 0 {
		if err := s.conn.AddBytesReceived(s.conn.DataReceived() + addedBytes); err != nil {
			return err
		}
	}
	return nil
}

// AddBytesSent charges both the stream-level and connection-level send
// ledgers.
func (s *StreamFlowController) AddBytesSent(n protocol.ByteCount) error {
	if err := s.Ledger.AddBytesSent(n); err != nil {
		return err
	}
	return s.conn.AddBytesSent(n)
}

// AddBytesRead records n bytes consumed by the application against both
// the stream-level and connection-level windows, returning whichever
// MAX_STREAM_DATA/MAX_DATA value is now due to be sent (0 if neither is
// due yet).
func (s *StreamFlowController) AddBytesRead(n protocol.ByteCount) (streamUpdate, connUpdate protocol.ByteCount) {
	s.Ledger.AddBytesRead(n)
	streamUpdate = s.Ledger.MaybeQueueWindowUpdate()
	s.conn.AddBytesRead(n)
	connUpdate = s.conn.MaybeQueueWindowUpdate()
	return
}
