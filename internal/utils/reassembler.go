package utils

import (
	"sort"

	"github.com/whitekyo/quicker/internal/protocol"
)

// ByteStreamReassembler reorders byte chunks arriving at arbitrary offsets
// (as STREAM and CRYPTO frames do) into a contiguous, in-order byte
// stream. It is intentionally simple: pending chunks are kept sorted by
// offset, and contiguous prefix chunks are popped as they become
// deliverable.
type ByteStreamReassembler struct {
	readOffset protocol.ByteCount
	pending    []chunk
}

type chunk struct {
	offset protocol.ByteCount
	data   []byte
}

// Push inserts a chunk of data at offset. Pure reassembly-buffer
// bookkeeping; callers are responsible for flow-control accounting
// before calling Push.
func (r *ByteStreamReassembler) Push(data []byte, offset protocol.ByteCount) {
	if len(data) == 0 {
		return
	}
	end := offset + protocol.ByteCount(len(data))
	if end <= r.readOffset {
		return // entirely duplicate
	}
	if offset < r.readOffset {
		data = data[r.readOffset-offset:]
		offset = r.readOffset
	}
	r.pending = append(r.pending, chunk{offset: offset, data: data})
	sort.Slice(r.pending, func(i, j int) bool { return r.pending[i].offset < r.pending[j].offset })
}

// Pop returns the next contiguous run of bytes starting at the current
// read offset, or nil if the next byte hasn't arrived yet.
func (r *ByteStreamReassembler) Pop() []byte {
	var out []byte
	for len(r.pending) > 0 {
		c := r.pending[0]
		if c.offset > r.readOffset {
			break
		}
		if c.offset+protocol.ByteCount(len(c.data)) <= r.readOffset {
			r.pending = r.pending[1:]
			continue
		}
		skip := r.readOffset - c.offset
		out = append(out, c.data[skip:]...)
		r.readOffset += protocol.ByteCount(len(c.data)) - skip
		r.pending = r.pending[1:]
	}
	return out
}

// ReadOffset is the offset of the next byte that would be delivered.
func (r *ByteStreamReassembler) ReadOffset() protocol.ByteCount { return r.readOffset }

// HighestOffset is the highest offset byte seen so far across all pushed
// chunks (delivered or still pending), used for flow-control accounting
// of "highest received".
func (r *ByteStreamReassembler) HighestOffset() protocol.ByteCount {
	highest := r.readOffset
	for _, c := range r.pending {
		if end := c.offset + protocol.ByteCount(len(c.data)); end > highest {
			highest = end
		}
	}
	return highest
}
