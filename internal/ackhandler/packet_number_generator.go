package ackhandler

import (
	"crypto/rand"
	mrand "math/rand/v2"

	"github.com/whitekyo/quicker/internal/protocol"
)

// skipPacketAveragePeriod is how often, on average, the packet number
// generator skips a packet number, as a defense against optimistic ACKs.
const skipPacketAveragePeriod = 500

// packetNumberGenerator hands out the next packet number to use, randomly
// skipping one every averagePeriod packets on average; it never skips two
// consecutive numbers.
type packetNumberGenerator struct {
	rand          *mrand.Rand
	averagePeriod protocol.PacketNumber

	next       protocol.PacketNumber
	nextToSkip protocol.PacketNumber
}

func newPacketNumberGenerator(initial protocol.PacketNumber) *packetNumberGenerator {
	var seed [32]byte
	rand.Read(seed[:])
	g := &packetNumberGenerator{
		rand:          mrand.New(mrand.NewChaCha8(seed)),
		next:          initial,
		averagePeriod: skipPacketAveragePeriod,
	}
	g.generateNewSkip()
	return g
}

func (p *packetNumberGenerator) Peek() protocol.PacketNumber {
	return p.next
}

func (p *packetNumberGenerator) Pop() protocol.PacketNumber {
	next := p.next
	p.next++
	if p.next == p.nextToSkip {
		p.next++
		p.generateNewSkip()
	}
	return next
}

func (p *packetNumberGenerator) generateNewSkip() {
	p.nextToSkip = p.next + 2 + protocol.PacketNumber(p.rand.Int64N(int64(2*p.averagePeriod)))
}
