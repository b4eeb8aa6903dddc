package quic

import (
	"fmt"
	"sync"

	"github.com/whitekyo/quicker/internal/flowcontrol"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

// streamsMap owns every stream the connection knows about, and hands out
// the next local stream ID for each of the two (bidi/uni) stream
// namespaces.
type streamsMap struct {
	mu          sync.Mutex
	perspective protocol.Perspective

	streams map[protocol.StreamID]*Stream

	nextOutgoingBidi protocol.StreamID
	nextOutgoingUni  protocol.StreamID

	maxIncomingStreams    int64
	maxIncomingUniStreams int64
	numIncomingBidi       int64
	numIncomingUni        int64

	// peerMaxOutgoingBidi/UniStreams are how many streams of each kind we
	// are currently allowed to open, per the peer's MAX_STREAM_ID frames
	// (seeded from our own config, mirroring the peer's presumed default,
	// since this module doesn't yet exchange transport parameters over a
	// real TLS handshake). numOutgoingBidi/Uni count how many we've
	// opened so far.
	peerMaxOutgoingBidiStreams int64
	peerMaxOutgoingUniStreams  int64
	numOutgoingBidi            int64
	numOutgoingUni             int64

	acceptQueue chan *Stream

	sender  streamFrameSender
	connFC  *flowcontrol.ConnectionFlowController
	config  *Config
}

func newStreamsMap(perspective protocol.Perspective, sender streamFrameSender, connFC *flowcontrol.ConnectionFlowController, config *Config) *streamsMap {
	m := &streamsMap{
		perspective:                perspective,
		streams:                    make(map[protocol.StreamID]*Stream),
		maxIncomingStreams:         config.MaxIncomingStreams,
		maxIncomingUniStreams:      config.MaxIncomingUniStreams,
		peerMaxOutgoingBidiStreams: config.MaxIncomingStreams,
		peerMaxOutgoingUniStreams:  config.MaxIncomingUniStreams,
		acceptQueue:                make(chan *Stream, 16),
		sender:                     sender,
		connFC:                     connFC,
		config:                     config,
	}
	// bit0 selects initiator, bit1 selects direction: bidi streams start
	// at id 0/1, uni streams at id 2/3.
	if perspective == protocol.PerspectiveClient {
		m.nextOutgoingBidi = 0
		m.nextOutgoingUni = 2
	} else {
		m.nextOutgoingBidi = 1
		m.nextOutgoingUni = 3
	}
	return m
}

func (m *streamsMap) newStreamFlowControllers() (send, recv *flowcontrol.StreamFlowController) {
	send = flowcontrol.NewStreamFlowController(0, m.connFC)
	send.UpdateSendWindow(m.config.InitialMaxStreamDataBidiRemote)
	recv = flowcontrol.NewStreamFlowController(m.config.InitialMaxStreamDataBidiLocal, m.connFC)
	return send, recv
}

// OpenStream opens the next local bidirectional stream, failing with a
// STREAM_ID_ERROR if doing so would exceed the peer's advertised
// MAX_STREAM_ID allowance.
func (m *streamsMap) OpenStream() (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numOutgoingBidi >= m.peerMaxOutgoingBidiStreams {
		return nil, qerr.NewError(qerr.StreamIDError, "peer's MAX_STREAM_ID does not allow opening another bidirectional stream")
	}
	id := m.nextOutgoingBidi
	m.nextOutgoingBidi += 4
	m.numOutgoingBidi++
	sendFC, recvFC := m.newStreamFlowControllers()
	s := newStream(id, m.perspective, m.sender, sendFC, recvFC)
	m.streams[id] = s
	return s, nil
}

// OpenUniStream opens the next local unidirectional (send-only) stream,
// failing with a STREAM_ID_ERROR if doing so would exceed the peer's
// advertised MAX_STREAM_ID allowance.
func (m *streamsMap) OpenUniStream() (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numOutgoingUni >= m.peerMaxOutgoingUniStreams {
		return nil, qerr.NewError(qerr.StreamIDError, "peer's MAX_STREAM_ID does not allow opening another unidirectional stream")
	}
	id := m.nextOutgoingUni
	m.nextOutgoingUni += 4
	m.numOutgoingUni++
	sendFC, recvFC := m.newStreamFlowControllers()
	s := newStream(id, m.perspective, m.sender, sendFC, recvFC)
	m.streams[id] = s
	return s, nil
}

// updatePeerMaxStreamID raises the outgoing stream allowance named by a
// received MAX_STREAM_ID frame; id's low two bits select which of the
// two (bidi/uni) counts it applies to, and lower values than what's
// already on file are ignored, same as a flow-control window update.
func (m *streamsMap) updatePeerMaxStreamID(id protocol.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := int64(id)/4 + 1
	if id.IsBidirectional() {
		if count > m.peerMaxOutgoingBidiStreams {
			m.peerMaxOutgoingBidiStreams = count
		}
	} else if count > m.peerMaxOutgoingUniStreams {
		m.peerMaxOutgoingUniStreams = count
	}
}

// AcceptStream blocks until a peer-initiated stream has arrived.
func (m *streamsMap) AcceptStream() (*Stream, error) {
	s, ok := <-m.acceptQueue
	if !ok {
		return nil, fmt.Errorf("quic: connection closed")
	}
	return s, nil
}

// getOrOpenPeerStream returns the stream for id, creating it (and
// enqueueing it for AcceptStream) on first reference if it was opened by
// the peer, enforcing the MAX_STREAMS-equivalent concurrency limits.
func (m *streamsMap) getOrOpenPeerStream(id protocol.StreamID) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.streams[id]; ok {
		return s, nil
	}
	if id.InitiatedBy() == m.perspective {
		return nil, qerr.NewError(qerr.StreamStateError, "reference to an unopened local stream")
	}

	if id.IsBidirectional() {
		m.numIncomingBidi++
		if m.numIncomingBidi > m.maxIncomingStreams {
			return nil, qerr.NewError(qerr.StreamIDError, "too many concurrent incoming streams")
		}
	} else {
		m.numIncomingUni++
		if m.numIncomingUni > m.maxIncomingUniStreams {
			return nil, qerr.NewError(qerr.StreamIDError, "too many concurrent incoming unidirectional streams")
		}
	}

	sendFC, recvFC := m.newStreamFlowControllers()
	s := newStream(id, m.perspective, m.sender, sendFC, recvFC)
	m.streams[id] = s
	select {
	case m.acceptQueue <- s:
	default:
	}
	return s, nil
}

func (m *streamsMap) getStream(id protocol.StreamID) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[id]
}

func (m *streamsMap) allStreams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}

func (m *streamsMap) closeWithError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.streams {
		s.mu.Lock()
		if s.cancelRead == nil {
			s.cancelRead = err
		}
		if s.cancelWrite == nil {
			s.cancelWrite = err
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
	close(m.acceptQueue)
}
