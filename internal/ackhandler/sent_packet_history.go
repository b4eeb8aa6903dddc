package ackhandler

import (
	"sort"

	"github.com/whitekyo/quicker/internal/protocol"
)

// sentPacketHistory tracks packets sent in one packet-number space that
// have not yet been acknowledged or declared lost.
type sentPacketHistory struct {
	packets        map[protocol.PacketNumber]*Packet
	numOutstanding int
}

func newSentPacketHistory() *sentPacketHistory {
	return &sentPacketHistory{packets: make(map[protocol.PacketNumber]*Packet)}
}

func (h *sentPacketHistory) SentPacket(p *Packet) {
	h.packets[p.PacketNumber] = p
	if p.outstanding() {
		h.numOutstanding++
	}
}

// Iterate walks packets in ascending packet-number order, stopping early
// if cb returns false.
func (h *sentPacketHistory) Iterate(cb func(*Packet) (cont bool, err error)) error {
	pns := make([]protocol.PacketNumber, 0, len(h.packets))
	for pn := range h.packets {
		pns = append(pns, pn)
	}
	sort.Slice(pns, func(i, j int) bool { return pns[i] < pns[j] })
	for _, pn := range pns {
		cont, err := cb(h.packets[pn])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (h *sentPacketHistory) Remove(pn protocol.PacketNumber) {
	p, ok := h.packets[pn]
	if !ok {
		return
	}
	if p.outstanding() {
		h.numOutstanding--
	}
	delete(h.packets, pn)
}

func (h *sentPacketHistory) DeclareLost(pn protocol.PacketNumber) {
	p, ok := h.packets[pn]
	if !ok || !p.outstanding() {
		return
	}
	p.declaredLost = true
	h.numOutstanding--
}

func (h *sentPacketHistory) HasOutstandingPackets() bool {
	return h.numOutstanding > 0
}

func (h *sentPacketHistory) Len() int { return len(h.packets) }
