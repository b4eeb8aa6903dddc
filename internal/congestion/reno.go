// Package congestion implements the NewReno congestion controller and
// pacer used by the sender side of loss recovery.
package congestion

import (
	"time"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/utils"
)

// SendAlgorithm is the interface the sent-packet handler drives; a
// connection is constructed against this interface rather than a
// concrete sender so that alternate controllers could be substituted.
type SendAlgorithm interface {
	OnPacketSent(sentTime time.Time, bytesInFlight, packetSize protocol.ByteCount, isRetransmittable bool)
	OnPacketAcked(ackedBytes, priorInFlight protocol.ByteCount, eventTime time.Time)
	OnCongestionEvent(priorInFlight protocol.ByteCount, lostBytes protocol.ByteCount)
	CanSend(bytesInFlight protocol.ByteCount) bool
	GetCongestionWindow() protocol.ByteCount
	InSlowStart() bool
	InRecovery() bool
	MaybeExitSlowStart()
}

// RenoSender is a byte-counting NewReno sender: additive increase of one
// MSS per round-trip in congestion avoidance, multiplicative decrease by
// half on loss, with TCP-style slow start below the ssthresh.
type RenoSender struct {
	rttStats *utils.RTTStats

	maxDatagramSize protocol.ByteCount

	congestionWindow   protocol.ByteCount
	slowStartThreshold protocol.ByteCount
	minCongestionWindow protocol.ByteCount
	maxCongestionWindow protocol.ByteCount

	bytesAckedSinceLastCwndIncrease protocol.ByteCount

	lastCutbackTime time.Time
}

func NewRenoSender(rttStats *utils.RTTStats, initialWindow, maxWindow protocol.ByteCount) *RenoSender {
	return &RenoSender{
		rttStats:             rttStats,
		maxDatagramSize:      protocol.DefaultMaxDatagramSize,
		congestionWindow:     initialWindow,
		slowStartThreshold:   maxWindow,
		minCongestionWindow:  protocol.MinCongestionWindow,
		maxCongestionWindow:  maxWindow,
	}
}

func (r *RenoSender) InSlowStart() bool {
	return r.congestionWindow < r.slowStartThreshold
}

func (r *RenoSender) InRecovery() bool {
	return !r.lastCutbackTime.IsZero() && time.Since(r.lastCutbackTime) < r.rttStats.SmoothedRTT()
}

func (r *RenoSender) GetCongestionWindow() protocol.ByteCount {
	return r.congestionWindow
}

// CanSend reports whether another packet may be sent without exceeding
// the congestion window.
func (r *RenoSender) CanSend(bytesInFlight protocol.ByteCount) bool {
	return bytesInFlight < r.congestionWindow
}

func (r *RenoSender) OnPacketSent(sentTime time.Time, bytesInFlight, packetSize protocol.ByteCount, isRetransmittable bool) {
	// the sent-packet handler is the source of truth for bytes_in_flight;
	// the sender only reacts to the outcome of each packet.
}

func (r *RenoSender) MaybeExitSlowStart() {
	if r.InSlowStart() {
		r.slowStartThreshold = r.congestionWindow
	}
}

// OnPacketAcked grows the window: exponentially during slow start, by
// one MSS per window's worth of acked bytes during congestion avoidance.
// It leaves the window unchanged when the sender was not cwnd-limited at
// priorInFlight or the window is already at its maximum.
func (r *RenoSender) OnPacketAcked(ackedBytes, priorInFlight protocol.ByteCount, eventTime time.Time) {
	if !r.isCwndLimited(priorInFlight) {
		return
	}
	if r.congestionWindow >= r.maxCongestionWindow {
		return
	}
	if r.InSlowStart() {
		r.congestionWindow += ackedBytes
		return
	}
	r.bytesAckedSinceLastCwndIncrease += ackedBytes
	if r.bytesAckedSinceLastCwndIncrease >= r.congestionWindow {
		r.bytesAckedSinceLastCwndIncrease -= r.congestionWindow
		r.congestionWindow += r.maxDatagramSize
	}
	if r.congestionWindow > r.maxCongestionWindow {
		r.congestionWindow = r.maxCongestionWindow
	}
}

// OnCongestionEvent halves the window on loss, per NewReno's
// multiplicative decrease, and records the cutback so InRecovery holds
// for roughly one RTT.
func (r *RenoSender) OnCongestionEvent(priorInFlight protocol.ByteCount, lostBytes protocol.ByteCount) {
	r.congestionWindow /= 2
	if r.congestionWindow < r.minCongestionWindow {
		r.congestionWindow = r.minCongestionWindow
	}
	r.slowStartThreshold = r.congestionWindow
	r.bytesAckedSinceLastCwndIncrease = 0
	r.lastCutbackTime = time.Now()
}

func (r *RenoSender) isCwndLimited(bytesInFlight protocol.ByteCount) bool {
	congestionWindow := r.GetCongestionWindow()
	if bytesInFlight >= congestionWindow {
		return true
	}
	availableBytes := congestionWindow - bytesInFlight
	slowStartLimited := r.InSlowStart() && bytesInFlight > congestionWindow/2
	return slowStartLimited || availableBytes <= 3*r.maxDatagramSize
}
