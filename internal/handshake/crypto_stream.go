package handshake

import (
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/utils"
	"github.com/whitekyo/quicker/internal/wire"
)

// CryptoStream is the ordered byte stream carrying one encryption level's
// handshake payload, addressed by a 62-bit offset. Part of the per-level
// crypto context bundle described in the design's data model.
type CryptoStream struct {
	recv utils.ByteStreamReassembler

	sendBuf    []byte
	sendOffset protocol.ByteCount
}

// HandleCryptoFrame delivers a received CRYPTO frame's bytes.
func (s *CryptoStream) HandleCryptoFrame(f *wire.CryptoFrame) {
	s.recv.Push(f.Data, f.Offset)
}

// GetData returns newly-contiguous bytes available at the front of the
// stream, feeding the handshake oracle once the front is contiguous.
func (s *CryptoStream) GetData() []byte {
	return s.recv.Pop()
}

// Write queues bytes to be sent out in CRYPTO frames.
func (s *CryptoStream) Write(p []byte) (int, error) {
	s.sendBuf = append(s.sendBuf, p...)
	return len(p), nil
}

// HasData reports whether there are queued bytes awaiting a CRYPTO frame.
func (s *CryptoStream) HasData() bool { return len(s.sendBuf) > 0 }

// PopCryptoFrame pops up to maxLen bytes (accounting for the frame's own
// header) into a CryptoFrame ready for packetization.
func (s *CryptoStream) PopCryptoFrame(maxLen protocol.ByteCount) *wire.CryptoFrame {
	f := &wire.CryptoFrame{Offset: s.sendOffset}
	n := f.MaxDataLen(maxLen)
	if n > protocol.ByteCount(len(s.sendBuf)) {
		n = protocol.ByteCount(len(s.sendBuf))
	}
	f.Data = s.sendBuf[:n]
	s.sendBuf = s.sendBuf[n:]
	s.sendOffset += n
	return f
}
