// Package ackhandler implements the sender-side loss detection state
// machine: tracking outstanding packets per encryption level, processing
// ACK frames, running the packet- and time-threshold loss detection
// algorithms, and driving the probe timeout (PTO).
package ackhandler

import (
	"fmt"
	"time"

	"github.com/whitekyo/quicker/internal/congestion"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
	"github.com/whitekyo/quicker/internal/utils"
	"github.com/whitekyo/quicker/internal/wire"
)

const (
	// timeThreshold is the RTT multiplier for the time-based loss
	// detection algorithm.
	timeThreshold = 9.0 / 8
	// packetThreshold is the reordering window, in packets, before a
	// packet is deemed lost regardless of elapsed time.
	packetThreshold = 3
	// amplificationFactor bounds how much more an unvalidated server may
	// send than it has received.
	amplificationFactor = 3
)

// LossEvent describes a packet detected lost, including the frames it
// carried so the connection can requeue them for retransmission.
type LossEvent struct {
	PacketNumber protocol.PacketNumber
	Frames       []wire.Frame
	Length       protocol.ByteCount
}

type packetNumberSpace struct {
	history *sentPacketHistory
	pns     *packetNumberGenerator

	lossTime                   time.Time
	lastAckElicitingPacketTime time.Time

	largestAcked protocol.PacketNumber
	largestSent  protocol.PacketNumber

	// endOfRecovery is the largest packet number sent as of the last
	// congestion-window cutback in this space. A newly lost packet only
	// triggers another cutback once its packet number exceeds this, so a
	// single burst loss during one recovery episode doesn't re-halve the
	// window for every packet in it.
	endOfRecovery protocol.PacketNumber
}

func newPacketNumberSpace(initialPN protocol.PacketNumber) *packetNumberSpace {
	return &packetNumberSpace{
		history:       newSentPacketHistory(),
		pns:           newPacketNumberGenerator(initialPN),
		largestSent:   protocol.InvalidPacketNumber,
		largestAcked:  protocol.InvalidPacketNumber,
		endOfRecovery: protocol.InvalidPacketNumber,
	}
}

// SentPacketHandler tracks every outstanding packet across the Initial,
// Handshake and 1-RTT packet-number spaces, and drives loss detection and
// congestion control as ACKs and timeouts arrive.
type SentPacketHandler struct {
	initialPackets   *packetNumberSpace
	handshakePackets *packetNumberSpace
	appDataPackets   *packetNumberSpace

	peerAddressValidated bool
	bytesReceived        protocol.ByteCount
	bytesSent            protocol.ByteCount

	handshakeConfirmed bool

	bytesInFlight protocol.ByteCount

	congestion congestion.SendAlgorithm
	rttStats   *utils.RTTStats

	ptoCount uint32

	alarm time.Time

	perspective protocol.Perspective
	logger      utils.Logger
}

func New(perspective protocol.Perspective, rttStats *utils.RTTStats, logger utils.Logger) *SentPacketHandler {
	if logger == nil {
		logger = utils.NopLogger
	}
	return &SentPacketHandler{
		peerAddressValidated: perspective == protocol.PerspectiveClient,
		initialPackets:       newPacketNumberSpace(0),
		handshakePackets:     newPacketNumberSpace(0),
		appDataPackets:       newPacketNumberSpace(0),
		rttStats:             rttStats,
		congestion:           congestion.NewRenoSender(rttStats, protocol.InitialCongestionWindow, protocol.DefaultMaxCongestionWindow),
		perspective:          perspective,
		logger:               logger,
	}
}

func (h *SentPacketHandler) getPacketNumberSpace(encLevel protocol.EncryptionLevel) *packetNumberSpace {
	switch encLevel {
	case protocol.EncryptionInitial:
		return h.initialPackets
	case protocol.EncryptionHandshake:
		return h.handshakePackets
	default:
		return h.appDataPackets
	}
}

// PeekPacketNumber returns the next packet number that will be used for
// encLevel, without consuming it.
func (h *SentPacketHandler) PeekPacketNumber(encLevel protocol.EncryptionLevel) protocol.PacketNumber {
	return h.getPacketNumberSpace(encLevel).pns.Peek()
}

// PopPacketNumber consumes and returns the next packet number for
// encLevel.
func (h *SentPacketHandler) PopPacketNumber(encLevel protocol.EncryptionLevel) protocol.PacketNumber {
	return h.getPacketNumberSpace(encLevel).pns.Pop()
}

// SentPacket records that a packet was just sent, updating bytes in
// flight and the congestion controller.
func (h *SentPacketHandler) SentPacket(p *Packet) {
	pnSpace := h.getPacketNumberSpace(p.EncryptionLevel)
	p.IsAckEliciting = wire.HasAckElicitingFrames(p.Frames)
	p.IncludedInBytesInFlight = p.IsAckEliciting || wire.HasInFlightEligibleFrames(p.Frames)

	if p.PacketNumber > pnSpace.largestSent {
		pnSpace.largestSent = p.PacketNumber
	}
	if p.IsAckEliciting {
		pnSpace.lastAckElicitingPacketTime = p.SendTime
	}
	pnSpace.history.SentPacket(p)

	h.bytesSent += p.Length
	if p.IncludedInBytesInFlight {
		h.bytesInFlight += p.Length
		h.congestion.OnPacketSent(p.SendTime, h.bytesInFlight, p.Length, p.IsAckEliciting)
	}
}

// ReceivedBytes records datagram bytes received from the peer, used for
// the anti-amplification limit before address validation completes.
func (h *SentPacketHandler) ReceivedBytes(n protocol.ByteCount) {
	h.bytesReceived += n
}

// ReceivedPacket marks the peer's address as validated: receiving any
// packet protected with a key we handed the peer is proof they own the
// address they claim.
func (h *SentPacketHandler) ReceivedPacket() {
	h.peerAddressValidated = true
}

// AmplificationWindow is how many more bytes may be sent before the
// anti-amplification limit blocks further sending, or -1 if unbounded.
func (h *SentPacketHandler) AmplificationWindow() protocol.ByteCount {
	if h.peerAddressValidated {
		return -1
	}
	w := amplificationFactor*h.bytesReceived - h.bytesSent
	if w < 0 {
		return 0
	}
	return w
}

// ReceivedAck processes an ACK frame received at encLevel, detecting and
// removing newly-acked packets, feeding the congestion controller, and
// running loss detection for packets that were skipped over by the ACK.
func (h *SentPacketHandler) ReceivedAck(ack *wire.AckFrame, encLevel protocol.EncryptionLevel, rcvTime time.Time) ([]LossEvent, error) {
	pnSpace := h.getPacketNumberSpace(encLevel)
	if ack.Largest > pnSpace.largestSent {
		return nil, qerr.NewError(qerr.ProtocolViolation, "received ACK for an unsent packet")
	}
	if ack.Largest > pnSpace.largestAcked {
		pnSpace.largestAcked = ack.Largest
	}

	acked := ack.AckedPacketNumbers()
	var ackedBytes protocol.ByteCount
	priorInFlight := h.bytesInFlight
	rttUpdated := false

	for _, pn := range acked {
		p, ok := pnSpace.history.packets[pn]
		if !ok {
			continue
		}
		if pn == ack.Largest && p.IsAckEliciting {
			h.rttStats.UpdateRTT(rcvTime.Sub(p.SendTime), ack.Delay)
			rttUpdated = true
		}
		if p.IncludedInBytesInFlight {
			ackedBytes += p.Length
			h.bytesInFlight -= p.Length
		}
		pnSpace.history.Remove(pn)
		h.ptoCount = 0
	}
	if ackedBytes > 0 {
		h.congestion.OnPacketAcked(ackedBytes, priorInFlight, rcvTime)
	}
	if rttUpdated {
		h.congestion.MaybeExitSlowStart()
	}

	lost, err := h.detectAndRemoveLostPackets(rcvTime, encLevel)
	if err != nil {
		return nil, err
	}
	return lost, nil
}

// detectAndRemoveLostPackets runs the time- and packet-threshold loss
// detection algorithms over outstanding packets in one space.
func (h *SentPacketHandler) detectAndRemoveLostPackets(now time.Time, encLevel protocol.EncryptionLevel) ([]LossEvent, error) {
	pnSpace := h.getPacketNumberSpace(encLevel)
	pnSpace.lossTime = time.Time{}

	maxRTT := maxDuration(h.rttStats.LatestRTT(), h.rttStats.SmoothedRTT())
	lossDelay := time.Duration(timeThreshold * float64(maxRTT))
	if lossDelay < protocol.TimerGranularity {
		lossDelay = protocol.TimerGranularity
	}
	lostSendTime := now.Add(-lossDelay)

	var lost []LossEvent
	var lostBytes protocol.ByteCount
	priorInFlight := h.bytesInFlight

	err := pnSpace.history.Iterate(func(p *Packet) (bool, error) {
		if p.PacketNumber > pnSpace.largestAcked {
			return false, nil
		}
		if p.declaredLost {
			return true, nil
		}
		switch {
		case p.SendTime.Before(lostSendTime):
			lost = append(lost, LossEvent{PacketNumber: p.PacketNumber, Frames: p.Frames, Length: p.Length})
		case pnSpace.largestAcked >= p.PacketNumber+packetThreshold:
			lost = append(lost, LossEvent{PacketNumber: p.PacketNumber, Frames: p.Frames, Length: p.Length})
		case pnSpace.lossTime.IsZero():
			pnSpace.lossTime = p.SendTime.Add(lossDelay)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	for _, l := range lost {
		p := pnSpace.history.packets[l.PacketNumber]
		if p != nil && p.IncludedInBytesInFlight {
			h.bytesInFlight -= p.Length
			lostBytes += p.Length
		}
		pnSpace.history.DeclareLost(l.PacketNumber)
	}
	if lostBytes > 0 {
		// lost is built by Iterate, which walks in ascending packet-number
		// order, so the last entry is the largest lost PN in this batch.
		largestLost := lost[len(lost)-1].PacketNumber
		if largestLost > pnSpace.endOfRecovery {
			h.congestion.OnCongestionEvent(priorInFlight, lostBytes)
			pnSpace.endOfRecovery = pnSpace.largestSent
		}
	}
	return lost, nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// GetLossDetectionTimeout returns when the loss-detection/PTO alarm
// should next fire, the zero Time if no timer is currently armed.
func (h *SentPacketHandler) GetLossDetectionTimeout() time.Time {
	if t, _ := h.earliestLossTime(); !t.IsZero() {
		return t
	}
	if !h.hasOutstandingPackets() {
		return time.Time{}
	}
	return h.ptoTime()
}

func (h *SentPacketHandler) earliestLossTime() (time.Time, protocol.EncryptionLevel) {
	var best time.Time
	var level protocol.EncryptionLevel
	for _, space := range []struct {
		t time.Time
		l protocol.EncryptionLevel
	}{
		{h.initialPackets.lossTime, protocol.EncryptionInitial},
		{h.handshakePackets.lossTime, protocol.EncryptionHandshake},
		{h.appDataPackets.lossTime, protocol.Encryption1RTT},
	} {
		if space.t.IsZero() {
			continue
		}
		if best.IsZero() || space.t.Before(best) {
			best = space.t
			level = space.l
		}
	}
	return best, level
}

func (h *SentPacketHandler) hasOutstandingPackets() bool {
	return h.initialPackets.history.HasOutstandingPackets() ||
		h.handshakePackets.history.HasOutstandingPackets() ||
		h.appDataPackets.history.HasOutstandingPackets()
}

func (h *SentPacketHandler) ptoTime() time.Time {
	var deadline time.Time
	pto := h.rttStats.PTO(h.handshakeConfirmed) * (1 << h.ptoCount)
	for _, space := range []*packetNumberSpace{h.initialPackets, h.handshakePackets, h.appDataPackets} {
		if space.lastAckElicitingPacketTime.IsZero() {
			continue
		}
		t := space.lastAckElicitingPacketTime.Add(pto)
		if deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}
	return deadline
}

// OnLossDetectionTimeout is called when GetLossDetectionTimeout's
// deadline elapses: it either runs loss detection (if a loss timer was
// pending) or counts a PTO. On a genuine PTO, probeCount (always 2 per
// spec) ack-eliciting probes must be sent by the caller in probeLevel,
// the space with the earliest outstanding ack-eliciting packet.
func (h *SentPacketHandler) OnLossDetectionTimeout(now time.Time) (lost []LossEvent, probeLevel protocol.EncryptionLevel, probeCount int, err error) {
	if lossTime, level := h.earliestLossTime(); !lossTime.IsZero() {
		lost, err = h.detectAndRemoveLostPackets(now, level)
		return lost, 0, 0, err
	}
	h.ptoCount++
	return nil, h.earliestUnackedAckElicitingSpace(), 2, nil
}

// earliestUnackedAckElicitingSpace returns the encryption level of the
// space whose oldest outstanding ack-eliciting packet was sent longest
// ago, the space a PTO probe is owed to.
func (h *SentPacketHandler) earliestUnackedAckElicitingSpace() protocol.EncryptionLevel {
	level := protocol.Encryption1RTT
	var best time.Time
	for _, space := range []struct {
		s *packetNumberSpace
		l protocol.EncryptionLevel
	}{
		{h.initialPackets, protocol.EncryptionInitial},
		{h.handshakePackets, protocol.EncryptionHandshake},
		{h.appDataPackets, protocol.Encryption1RTT},
	} {
		var oldest time.Time
		space.s.history.Iterate(func(p *Packet) (bool, error) {
			if p.declaredLost || !p.IsAckEliciting {
				return true, nil
			}
			oldest = p.SendTime
			return false, nil
		})
		if oldest.IsZero() {
			continue
		}
		if best.IsZero() || oldest.Before(best) {
			best = oldest
			level = space.l
		}
	}
	return level
}

// SetHandshakeConfirmed records that the handshake has been confirmed,
// after which the PTO calculation includes the peer's max_ack_delay.
func (h *SentPacketHandler) SetHandshakeConfirmed() {
	h.handshakeConfirmed = true
}

// BytesInFlight reports the number of bytes currently outstanding.
func (h *SentPacketHandler) BytesInFlight() protocol.ByteCount { return h.bytesInFlight }

// CongestionWindow exposes the congestion controller's current window.
func (h *SentPacketHandler) CongestionWindow() protocol.ByteCount {
	return h.congestion.GetCongestionWindow()
}

// CanSend reports whether the congestion window and the anti-
// amplification limit both currently allow sending another packet.
func (h *SentPacketHandler) CanSend() bool {
	if w := h.AmplificationWindow(); w == 0 {
		return false
	}
	return h.congestion.CanSend(h.bytesInFlight)
}

func (h *SentPacketHandler) String() string {
	return fmt.Sprintf("bytesInFlight=%d cwnd=%d ptoCount=%d", h.bytesInFlight, h.congestion.GetCongestionWindow(), h.ptoCount)
}
