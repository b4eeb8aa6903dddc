package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/utils"
)

func newTestRenoSender() *RenoSender {
	rtt := &utils.RTTStats{}
	rtt.SetInitialRTT(50 * time.Millisecond)
	return NewRenoSender(rtt, protocol.InitialCongestionWindow, protocol.DefaultMaxCongestionWindow)
}

func TestSlowStartGrowsExponentially(t *testing.T) {
	r := newTestRenoSender()
	initial := r.GetCongestionWindow()
	require.True(t, r.InSlowStart())

	r.OnPacketAcked(protocol.DefaultMaxDatagramSize, initial, time.Now())
	require.Equal(t, initial+protocol.DefaultMaxDatagramSize, r.GetCongestionWindow())
}

func TestCongestionEventHalvesWindow(t *testing.T) {
	r := newTestRenoSender()
	before := r.GetCongestionWindow()
	r.OnCongestionEvent(before, protocol.DefaultMaxDatagramSize)
	require.Equal(t, before/2, r.GetCongestionWindow())
	require.False(t, r.InSlowStart())
}

func TestWindowNeverBelowMinimum(t *testing.T) {
	r := newTestRenoSender()
	for i := 0; i < 20; i++ {
		r.OnCongestionEvent(r.GetCongestionWindow(), protocol.DefaultMaxDatagramSize)
	}
	require.GreaterOrEqual(t, r.GetCongestionWindow(), protocol.MinCongestionWindow)
}

func TestCanSend(t *testing.T) {
	r := newTestRenoSender()
	require.True(t, r.CanSend(0))
	require.False(t, r.CanSend(r.GetCongestionWindow()))
}

func TestMaybeExitSlowStart(t *testing.T) {
	r := newTestRenoSender()
	r.MaybeExitSlowStart()
	require.False(t, r.InSlowStart())
}
