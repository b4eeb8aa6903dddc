package wire

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

// AckRange is an inclusive range of acknowledged packet numbers.
type AckRange struct {
	Smallest protocol.PacketNumber
	Largest  protocol.PacketNumber
}

// Len is the number of packet numbers covered by the range.
func (r AckRange) Len() protocol.PacketNumber { return r.Largest - r.Smallest + 1 }

// AckFrame is ACK / ACK_ECN. Ranges is ordered from largest to smallest,
// as built by the packet-number space's pending-ack accounting.
type AckFrame struct {
	IsECN   bool
	Largest protocol.PacketNumber
	Delay   time.Duration
	Ranges  []AckRange

	// ECN counts, only meaningful when IsECN is set. The design tolerates
	// these being absent when the packet ends exactly at that point; we
	// represent "absent" with HasECNCounts=false.
	HasECNCounts bool
	ECT0, ECT1, CE uint64
}

const ackDelayExponent = 3 // matches the draft-12 default AckDelayExponent of 3

func encodeAckDelay(d time.Duration) uint64 {
	if d < 0 {
		d = 0
	}
	return uint64(d.Microseconds()) >> ackDelayExponent
}

func decodeAckDelay(v uint64) time.Duration {
	return time.Duration(v<<ackDelayExponent) * time.Microsecond
}

func (f *AckFrame) Write(b *bytes.Buffer) error {
	if len(f.Ranges) == 0 {
		return fmt.Errorf("cannot write an ACK frame without ranges")
	}
	if f.IsECN {
		b.WriteByte(byte(AckECNFrameType))
	} else {
		b.WriteByte(byte(AckFrameType))
	}
	writeVarInt(b, uint64(f.Largest))
	writeVarInt(b, encodeAckDelay(f.Delay))
	writeVarInt(b, uint64(len(f.Ranges)-1))
	writeVarInt(b, uint64(f.Ranges[0].Len()-1))
	prevSmallest := f.Ranges[0].Smallest
	for _, r := range f.Ranges[1:] {
		gap := prevSmallest - r.Largest - 2
		writeVarInt(b, uint64(gap))
		writeVarInt(b, uint64(r.Len()-1))
		prevSmallest = r.Smallest
	}
	if f.IsECN && f.HasECNCounts {
		writeVarInt(b, f.ECT0)
		writeVarInt(b, f.ECT1)
		writeVarInt(b, f.CE)
	}
	return nil
}

func (f *AckFrame) Length() protocol.ByteCount {
	length := protocol.ByteCount(1) + varIntLen(uint64(f.Largest)) + varIntLen(encodeAckDelay(f.Delay))
	length += varIntLen(uint64(len(f.Ranges) - 1))
	length += varIntLen(uint64(f.Ranges[0].Len() - 1))
	prevSmallest := f.Ranges[0].Smallest
	for _, r := range f.Ranges[1:] {
		gap := prevSmallest - r.Largest - 2
		length += varIntLen(uint64(gap)) + varIntLen(uint64(r.Len()-1))
		prevSmallest = r.Smallest
	}
	if f.IsECN && f.HasECNCounts {
		length += varIntLen(f.ECT0) + varIntLen(f.ECT1) + varIntLen(f.CE)
	}
	return length
}

// parseAckFrame parses the body of an ACK or ACK_ECN frame (the type byte
// has already been consumed from r).
func parseAckFrame(r *bytes.Reader, isECN bool) (*AckFrame, error) {
	f := &AckFrame{IsECN: isECN}

	largest, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "ACK: largest")
	}
	f.Largest = protocol.PacketNumber(largest)

	delay, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "ACK: delay")
	}
	f.Delay = decodeAckDelay(delay)

	numRanges, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "ACK: block count")
	}
	firstBlock, err := readVarInt(r)
	if err != nil {
		return nil, qerr.NewError(qerr.FrameEncodingError, "ACK: first block")
	}
	smallest := f.Largest - protocol.PacketNumber(firstBlock)
	f.Ranges = append(f.Ranges, AckRange{Smallest: smallest, Largest: f.Largest})

	for i := uint64(0); i < numRanges; i++ {
		gap, err := readVarInt(r)
		if err != nil {
			return nil, qerr.NewError(qerr.FrameEncodingError, "ACK: gap")
		}
		block, err := readVarInt(r)
		if err != nil {
			return nil, qerr.NewError(qerr.FrameEncodingError, "ACK: ack block")
		}
		largest := smallest - protocol.PacketNumber(gap) - 2
		smallest = largest - protocol.PacketNumber(block)
		f.Ranges = append(f.Ranges, AckRange{Smallest: smallest, Largest: largest})
	}

	if isECN && r.Len() > 0 {
		// r is the whole-packet reader, shared with every frame still to
		// come, so r.Len()>0 alone doesn't mean these bytes are ours: a
		// following frame could own them instead. ECN counts are only
		// legitimately present here if consuming exactly three varints
		// leaves the packet with nothing left over; otherwise rewind and
		// leave the remaining bytes for the next frame.
		pos, _ := r.Seek(0, io.SeekCurrent)
		ect0, err1 := readVarInt(r)
		ect1, err2 := readVarInt(r)
		ce, err3 := readVarInt(r)
		if err1 == nil && err2 == nil && err3 == nil && r.Len() == 0 {
			f.ECT0, f.ECT1, f.CE = ect0, ect1, ce
			f.HasECNCounts = true
		} else {
			if _, err := r.Seek(pos, io.SeekStart); err != nil {
				return nil, qerr.NewError(qerr.FrameEncodingError, "ACK_ECN: rewind")
			}
		}
	}
	return f, nil
}

// AckedPacketNumbers expands Ranges into the explicit set of acknowledged
// packet numbers, largest first.
func (f *AckFrame) AckedPacketNumbers() []protocol.PacketNumber {
	var pns []protocol.PacketNumber
	for _, r := range f.Ranges {
		for pn := r.Largest; pn >= r.Smallest; pn-- {
			pns = append(pns, pn)
		}
	}
	return pns
}

// HasMissingRanges reports whether there's more than one ACK range, i.e.
// the peer observed a gap.
func (f *AckFrame) HasMissingRanges() bool { return len(f.Ranges) > 1 }

// LowestAcked returns the smallest acknowledged packet number.
func (f *AckFrame) LowestAcked() protocol.PacketNumber {
	return f.Ranges[len(f.Ranges)-1].Smallest
}
