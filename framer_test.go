package quic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitekyo/quicker/internal/flowcontrol"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/wire"
)

func TestFramerAppendControlFramesBoundedByMaxLen(t *testing.T) {
	f := newFramer(func(protocol.StreamID) *Stream { return nil })
	f.QueueControlFrame(&wire.PingFrame{})     // 1 byte
	f.QueueControlFrame(&wire.MaxDataFrame{MaximumData: 100}) // several bytes

	frames, length := f.AppendControlFrames(1)
	require.Len(t, frames, 1)
	require.Equal(t, protocol.ByteCount(1), length)

	frames, _ = f.AppendControlFrames(1024)
	require.Len(t, frames, 1) // the MaxDataFrame the first call couldn't fit
}

func TestFramerAppendStreamFramesRoundRobin(t *testing.T) {
	streams := make(map[protocol.StreamID]*Stream)
	f := newFramer(func(id protocol.StreamID) *Stream { return streams[id] })

	sender := &fakeStreamSender{}
	connFC := flowcontrol.NewConnectionFlowController(1 << 20)
	connFC.UpdateSendWindow(1 << 20)
	for _, id := range []protocol.StreamID{0, 4} {
		sendFC := flowcontrol.NewStreamFlowController(0, connFC)
		sendFC.UpdateSendWindow(1 << 20)
		recvFC := flowcontrol.NewStreamFlowController(1<<20, connFC)
		s := newStream(id, protocol.PerspectiveClient, sender, sendFC, recvFC)
		s.Write([]byte("hello"))
		streams[id] = s
	}
	f.AddActiveStream(0)
	f.AddActiveStream(4)

	frames, _ := f.AppendStreamFrames(1024)
	require.Len(t, frames, 2)
	require.False(t, f.HasData())
}

func TestFramerHasDataReflectsQueuedWork(t *testing.T) {
	f := newFramer(func(protocol.StreamID) *Stream { return nil })
	require.False(t, f.HasData())
	f.QueueControlFrame(&wire.PingFrame{})
	require.True(t, f.HasData())
}
