package quic

import (
	"bytes"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

// connIDEntry is one (sequence number -> connection ID, stateless reset
// token) mapping handed out via NEW_CONNECTION_ID.
type connIDEntry struct {
	seq   uint64
	cid   protocol.ConnectionID
	token [16]byte
}

// connIDManager tracks the peer's advertised connection IDs. A
// NEW_CONNECTION_ID below the lowest sequence number still retained
// retires nothing new and is ignored, since draft-12's frame set has no
// RETIRE_CONNECTION_ID to drive explicit retirement.
type connIDManager struct {
	mu      sync.Mutex
	entries []connIDEntry
}

func newConnIDManager() *connIDManager {
	return &connIDManager{}
}

// Add records a newly advertised connection ID, keeping entries sorted by
// sequence number so the lowest-retained one is always entries[0]. A
// sequence number below the lowest currently retained is ignored. A
// sequence number that's already on file must carry the exact same
// connection ID and reset token; a mismatch is a protocol violation.
func (m *connIDManager) Add(seq uint64, cid protocol.ConnectionID, token [16]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) > 0 && seq < m.entries[0].seq {
		return nil
	}
	idx, found := slices.BinarySearchFunc(m.entries, seq, func(e connIDEntry, seq uint64) int {
		return int(e.seq) - int(seq)
	})
	if found {
		existing := m.entries[idx]
		if !bytes.Equal(existing.cid, cid) || existing.token != token {
			return qerr.NewError(qerr.ProtocolViolation, "NEW_CONNECTION_ID: duplicate sequence number with mismatched connection ID")
		}
		return nil
	}
	m.entries = slices.Insert(m.entries, idx, connIDEntry{seq: seq, cid: cid, token: token})
	return nil
}

// Current returns the lowest-sequence-numbered connection ID still
// retained, or false if none has been advertised yet.
func (m *connIDManager) Current() (protocol.ConnectionID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil, false
	}
	return m.entries[0].cid, true
}

// Retire drops every entry with a sequence number at or below seq.
func (m *connIDManager) Retire(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, found := slices.BinarySearchFunc(m.entries, seq, func(e connIDEntry, seq uint64) int {
		return int(e.seq) - int(seq)
	})
	if found {
		idx++
	}
	m.entries = m.entries[idx:]
}
