package congestion

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/whitekyo/quicker/internal/protocol"
)

// Pacer spaces packet sends out across a round-trip instead of bursting
// the whole congestion window at once, using a token-bucket limiter keyed
// to the sender's estimated bandwidth.
type Pacer struct {
	limiter         *rate.Limiter
	maxDatagramSize protocol.ByteCount
	getBandwidth    func() protocol.ByteCount // bytes/s
}

// NewPacer builds a pacer with a fixed burst of 10 datagrams
// (maxBurstBytes) and a rate starting at the current bandwidth estimate,
// at least 1 byte/s.
func NewPacer(getBandwidth func() protocol.ByteCount, maxDatagramSize protocol.ByteCount) *Pacer {
	p := &Pacer{getBandwidth: getBandwidth, maxDatagramSize: maxDatagramSize}
	initial := getBandwidth()
	if initial <= 0 {
		initial = protocol.ByteCount(1)
	}
	p.limiter = rate.NewLimiter(rate.Limit(initial), int(maxBurstBytes(maxDatagramSize)))
	return p
}

func maxBurstBytes(maxDatagramSize protocol.ByteCount) protocol.ByteCount {
	burst := 10 * maxDatagramSize
	if burst < 3*maxDatagramSize {
		burst = 3 * maxDatagramSize
	}
	return burst
}

// refreshRate re-tunes the limiter's rate to the latest bandwidth
// estimate; cheap enough to call before every send decision.
func (p *Pacer) refreshRate() {
	bw := p.getBandwidth()
	if bw <= 0 {
		bw = 1
	}
	p.limiter.SetLimit(rate.Limit(bw))
}

// TimeUntilSend reports how long to wait before the next packet of size
// n may be sent without violating the pacing rate; zero means "now". It
// consumes no budget; SentPacket does.
func (p *Pacer) TimeUntilSend(now time.Time, n protocol.ByteCount) time.Duration {
	p.refreshRate()
	r := p.limiter.ReserveN(now, int(n))
	if !r.OK() {
		return 0
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay <= 0 {
		return 0
	}
	return delay
}

// SentPacket consumes budget for a packet actually sent at sendTime.
func (p *Pacer) SentPacket(sendTime time.Time, n protocol.ByteCount) {
	p.refreshRate()
	p.limiter.ReserveN(sendTime, int(n))
}
