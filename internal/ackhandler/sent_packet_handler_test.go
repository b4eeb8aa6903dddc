package ackhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/utils"
	"github.com/whitekyo/quicker/internal/wire"
)

func newTestHandler() *SentPacketHandler {
	rtt := &utils.RTTStats{}
	rtt.SetInitialRTT(20 * time.Millisecond)
	return New(protocol.PerspectiveClient, rtt, nil)
}

func TestSentPacketThenAckedRemovesFromFlight(t *testing.T) {
	h := newTestHandler()
	now := time.Now()
	p := &Packet{
		PacketNumber:    0,
		EncryptionLevel: protocol.Encryption1RTT,
		Length:          100,
		SendTime:        now,
		Frames:          []wire.Frame{&wire.PingFrame{}},
	}
	h.SentPacket(p)
	require.Equal(t, protocol.ByteCount(100), h.BytesInFlight())

	ack := &wire.AckFrame{Largest: 0, Ranges: []wire.AckRange{{Smallest: 0, Largest: 0}}}
	_, err := h.ReceivedAck(ack, protocol.Encryption1RTT, now.Add(5*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, protocol.ByteCount(0), h.BytesInFlight())
}

func TestPacketThresholdLossDetection(t *testing.T) {
	h := newTestHandler()
	now := time.Now()
	for i := protocol.PacketNumber(0); i <= 3; i++ {
		h.SentPacket(&Packet{
			PacketNumber:    i,
			EncryptionLevel: protocol.Encryption1RTT,
			Length:          100,
			SendTime:        now,
			Frames:          []wire.Frame{&wire.PingFrame{}},
		})
	}
	// ack packet 3 only; 0 is at least packetThreshold behind -> lost
	ack := &wire.AckFrame{Largest: 3, Ranges: []wire.AckRange{{Smallest: 3, Largest: 3}}}
	lost, err := h.ReceivedAck(ack, protocol.Encryption1RTT, now)
	require.NoError(t, err)
	require.Len(t, lost, 1)
	require.Equal(t, protocol.PacketNumber(0), lost[0].PacketNumber)
}

func TestReceivedAckForUnsentPacketIsProtocolViolation(t *testing.T) {
	h := newTestHandler()
	ack := &wire.AckFrame{Largest: 5, Ranges: []wire.AckRange{{Smallest: 5, Largest: 5}}}
	_, err := h.ReceivedAck(ack, protocol.Encryption1RTT, time.Now())
	require.Error(t, err)
}

func TestAmplificationWindowBeforeValidation(t *testing.T) {
	h := New(protocol.PerspectiveServer, &utils.RTTStats{}, nil)
	h.ReceivedBytes(100)
	require.Equal(t, protocol.ByteCount(300), h.AmplificationWindow())
	h.bytesSent = 300
	require.Equal(t, protocol.ByteCount(0), h.AmplificationWindow())
}

func TestAmplificationWindowUnboundedAfterValidation(t *testing.T) {
	h := New(protocol.PerspectiveClient, &utils.RTTStats{}, nil)
	require.Equal(t, protocol.ByteCount(-1), h.AmplificationWindow())
}

func TestCongestionCutbackOnlyOncePerRecoveryEpisode(t *testing.T) {
	h := newTestHandler()
	now := time.Now()
	for i := protocol.PacketNumber(0); i <= 6; i++ {
		h.SentPacket(&Packet{
			PacketNumber:    i,
			EncryptionLevel: protocol.Encryption1RTT,
			Length:          1000,
			SendTime:        now,
			Frames:          []wire.Frame{&wire.PingFrame{}},
		})
	}
	initialWindow := h.CongestionWindow()

	ack := &wire.AckFrame{Largest: 6, Ranges: []wire.AckRange{{Smallest: 6, Largest: 6}}}
	lost, err := h.ReceivedAck(ack, protocol.Encryption1RTT, now)
	require.NoError(t, err)
	require.Len(t, lost, 4) // packet-threshold catches PNs 0-3

	// the ack of PN 6 (1000 bytes, 7000 in flight) grows the slow-start
	// window before the loss of PNs 0-3 halves it.
	afterFirstCutback := h.CongestionWindow()
	require.Equal(t, (initialWindow+1000)/2, afterFirstCutback)

	// PNs 4 and 5 weren't caught by the packet threshold on the first
	// pass; once enough time elapses they're declared lost too, but
	// they're still within the recovery episode the first cutback opened
	// (they were sent before it), so the window must not halve again.
	lost, err = h.ReceivedAck(ack, protocol.Encryption1RTT, now.Add(30*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, lost, 2) // PNs 4, 5
	require.Equal(t, afterFirstCutback, h.CongestionWindow())
}

func TestOnLossDetectionTimeoutSendsTwoProbesOnGenuinePTO(t *testing.T) {
	h := newTestHandler()
	now := time.Now()
	h.SentPacket(&Packet{
		PacketNumber:    0,
		EncryptionLevel: protocol.Encryption1RTT,
		Length:          100,
		SendTime:        now,
		Frames:          []wire.Frame{&wire.PingFrame{}},
	})

	lost, level, count, err := h.OnLossDetectionTimeout(now.Add(time.Second))
	require.NoError(t, err)
	require.Nil(t, lost)
	require.Equal(t, protocol.Encryption1RTT, level)
	require.Equal(t, 2, count)
	require.EqualValues(t, 1, h.ptoCount)
}

func TestPacketNumberGeneratorNeverSkipsConsecutive(t *testing.T) {
	g := newPacketNumberGenerator(0)
	var last protocol.PacketNumber = -1
	skips := 0
	for i := 0; i < 5000; i++ {
		pn := g.Pop()
		if last != -1 && pn != last+1 {
			skips++
			require.Equal(t, last+2, pn, "must never skip two consecutive numbers")
		}
		last = pn
	}
	require.Greater(t, skips, 0)
}
