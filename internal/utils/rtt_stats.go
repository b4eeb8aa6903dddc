package utils

import "time"

const (
	initialRTTAlpha = 1.0 / 8
	initialRTTBeta  = 1.0 / 4
	rttAlpha        = 1.0 / 8
	rttBeta         = 1.0 / 4
)

// RTTStats tracks smoothed RTT and RTT variance using the RFC 6298-style
// EWMA (α=1/8, β=1/4), as specified for loss detection's RTT sampling.
type RTTStats struct {
	minRTT        time.Duration
	latestRTT     time.Duration
	smoothedRTT   time.Duration
	meanDeviation time.Duration

	maxAckDelay time.Duration
}

// UpdateRTT updates the RTT sample using sendDelta (now - send_time) and
// the peer-reported ackDelay, following the design's
// `sample = now - send_time - ack_delay` rule.
func (r *RTTStats) UpdateRTT(sendDelta, ackDelay time.Duration) {
	if sendDelta <= 0 {
		return
	}
	if r.minRTT == 0 || sendDelta < r.minRTT {
		r.minRTT = sendDelta
	}
	sample := sendDelta
	if ackDelay > 0 && sample > r.minRTT+ackDelay {
		sample -= ackDelay
	}
	r.latestRTT = sample

	if r.smoothedRTT == 0 {
		r.smoothedRTT = sample
		r.meanDeviation = sample / 2
		return
	}
	r.meanDeviation = time.Duration((1-rttBeta)*float64(r.meanDeviation) + rttBeta*float64(absDuration(r.smoothedRTT-sample)))
	r.smoothedRTT = time.Duration((1-rttAlpha)*float64(r.smoothedRTT) + rttAlpha*float64(sample))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// SetInitialRTT seeds the smoothed RTT before any samples are available
// (e.g. from a previous connection's cached value).
func (r *RTTStats) SetInitialRTT(rtt time.Duration) {
	r.smoothedRTT = rtt
	r.latestRTT = rtt
}

func (r *RTTStats) SetMaxAckDelay(d time.Duration) { r.maxAckDelay = d }
func (r *RTTStats) MaxAckDelay() time.Duration     { return r.maxAckDelay }
func (r *RTTStats) MinRTT() time.Duration          { return r.minRTT }
func (r *RTTStats) LatestRTT() time.Duration       { return r.latestRTT }
func (r *RTTStats) SmoothedRTT() time.Duration     { return r.smoothedRTT }
func (r *RTTStats) MeanDeviation() time.Duration   { return r.meanDeviation }

// PTO computes the probe timeout: srtt + 4*rttvar + max_ack_delay.
func (r *RTTStats) PTO(includeMaxAckDelay bool) time.Duration {
	if r.smoothedRTT == 0 {
		return 2 * time.Second
	}
	pto := r.smoothedRTT + 4*r.meanDeviation
	if includeMaxAckDelay {
		pto += r.maxAckDelay
	}
	return pto
}
