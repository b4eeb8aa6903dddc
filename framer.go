package quic

import (
	"sync"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/wire"
)

// framer assembles the frames for the next outgoing packet: control
// frames (ACK, MAX_DATA, ...) queued by the connection and streams, plus
// STREAM frames pulled from streams that have pending data.
type framer struct {
	mu sync.Mutex

	controlFrames []wire.Frame
	activeStreams map[protocol.StreamID]struct{}
	streamOrder   []protocol.StreamID

	streamGetter func(protocol.StreamID) *Stream
}

func newFramer(streamGetter func(protocol.StreamID) *Stream) *framer {
	return &framer{
		activeStreams: make(map[protocol.StreamID]struct{}),
		streamGetter:  streamGetter,
	}
}

func (f *framer) QueueControlFrame(frame wire.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlFrames = append(f.controlFrames, frame)
}

// AddActiveStream marks id as having data to send; the framer will pull
// from it on the next AppendStreamFrames call.
func (f *framer) AddActiveStream(id protocol.StreamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.activeStreams[id]; ok {
		return
	}
	f.activeStreams[id] = struct{}{}
	f.streamOrder = append(f.streamOrder, id)
}

// AppendControlFrames appends as many queued control frames as fit
// within maxLen, returning the frames used and the bytes they consumed.
func (f *framer) AppendControlFrames(maxLen protocol.ByteCount) ([]wire.Frame, protocol.ByteCount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var frames []wire.Frame
	var length protocol.ByteCount
	for len(f.controlFrames) > 0 {
		next := f.controlFrames[0]
		l := next.Length()
		if length+l > maxLen {
			break
		}
		frames = append(frames, next)
		length += l
		f.controlFrames = f.controlFrames[1:]
	}
	return frames, length
}

// AppendStreamFrames appends STREAM frames from active streams, round
// robin, until maxLen is exhausted or no active stream has more data.
func (f *framer) AppendStreamFrames(maxLen protocol.ByteCount) ([]wire.Frame, protocol.ByteCount) {
	f.mu.Lock()
	order := append([]protocol.StreamID{}, f.streamOrder...)
	f.mu.Unlock()

	var frames []wire.Frame
	var length protocol.ByteCount
	var remaining []protocol.StreamID

	for _, id := range order {
		s := f.streamGetter(id)
		if s == nil || !s.hasDataForWriting() {
			continue
		}
		if length >= maxLen {
			remaining = append(remaining, id)
			continue
		}
		sf, hasMore := s.popStreamFrame(maxLen - length)
		if sf != nil {
			frames = append(frames, sf)
			length += sf.Length()
		}
		if hasMore || (s.hasDataForWriting()) {
			remaining = append(remaining, id)
		}
	}

	f.mu.Lock()
	f.streamOrder = remaining
	f.activeStreams = make(map[protocol.StreamID]struct{})
	for _, id := range remaining {
		f.activeStreams[id] = struct{}{}
	}
	f.mu.Unlock()

	return frames, length
}

func (f *framer) HasData() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.controlFrames) > 0 || len(f.streamOrder) > 0
}
