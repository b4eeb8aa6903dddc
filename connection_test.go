package quic

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whitekyo/quicker/internal/handshake"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/wire"
)

// loopbackAddr satisfies net.Addr for the in-memory pipe below.
type loopbackAddr string

func (a loopbackAddr) Network() string { return "memory" }
func (a loopbackAddr) String() string  { return string(a) }

// pipeSender hands every write straight to the peer's handlePacket,
// skipping a real socket so the connection pair can be driven in-process.
type pipeSender struct {
	peer *Connection
}

func (p *pipeSender) WriteTo(b []byte, addr net.Addr) (int, error) {
	data := append([]byte{}, b...)
	p.peer.handlePacket(&receivedPacket{data: data, rcvTime: time.Now(), remoteAddr: loopbackAddr("client")})
	return len(b), nil
}

func newConnectionPair(t *testing.T) (client, server *Connection) {
	t.Helper()
	secret := []byte("connection-pair-test-secret")
	clientCS := handshake.NewInsecureCryptoSetup(protocol.PerspectiveClient, secret)
	serverCS := handshake.NewInsecureCryptoSetup(protocol.PerspectiveServer, secret)

	clientSrc := protocol.ConnectionID{1, 1, 1, 1}
	serverSrc := protocol.ConnectionID{2, 2, 2, 2}

	client = newConnection(protocol.PerspectiveClient, protocol.Version1, clientSrc, serverSrc, nil, loopbackAddr("server"), clientCS, nil)
	server = newConnection(protocol.PerspectiveServer, protocol.Version1, serverSrc, clientSrc, nil, loopbackAddr("client"), serverCS, nil)
	client.conn = &pipeSender{peer: server}
	server.conn = &pipeSender{peer: client}

	go client.run()
	go server.run()
	t.Cleanup(func() {
		client.CloseWithError(0, false, "")
		server.CloseWithError(0, false, "")
	})
	return client, server
}

func waitHandshake(t *testing.T, conns ...*Connection) {
	t.Helper()
	for _, c := range conns {
		select {
		case <-c.handshakeDone:
		case <-time.After(2 * time.Second):
			t.Fatal("handshake did not complete")
		}
	}
}

func TestConnectionHandshakeCompletes(t *testing.T) {
	client, server := newConnectionPair(t)
	waitHandshake(t, client, server)
	require.True(t, client.stateIs(stateEstablished))
	require.True(t, server.stateIs(stateEstablished))
}

func TestConnectionStreamDataRoundTrip(t *testing.T) {
	client, server := newConnectionPair(t)
	waitHandshake(t, client, server)

	stream, err := client.OpenStream()
	require.NoError(t, err)
	_, err = stream.Write([]byte("hello server"))
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	peerStream, err := server.AcceptStream()
	require.NoError(t, err)

	buf := make([]byte, 64)
	var got []byte
	for {
		n, err := peerStream.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	require.Equal(t, "hello server", string(got))
}

func TestHandleVersionNegotiationPacketIgnoresSupportedVersion(t *testing.T) {
	c := &Connection{
		perspective:       protocol.PerspectiveClient,
		version:           protocol.Version1,
		state:             stateHandshaking,
		largestReceivedPN: map[protocol.EncryptionLevel]protocol.PacketNumber{protocol.EncryptionInitial: 5},
	}
	vn := &wire.VersionNegotiationPacket{
		DestConnectionID:  protocol.ConnectionID{1},
		SrcConnectionID:   protocol.ConnectionID{2},
		SupportedVersions: []protocol.Version{protocol.Version1},
	}
	buf := &bytes.Buffer{}
	require.NoError(t, vn.Write(buf))

	require.NoError(t, c.handleVersionNegotiationPacket(buf.Bytes()))
	require.Equal(t, protocol.PacketNumber(5), c.getLargestReceived(protocol.EncryptionInitial))
}

func TestHandleVersionNegotiationPacketAbortsOnUnsupportedVersion(t *testing.T) {
	c := &Connection{
		perspective:       protocol.PerspectiveClient,
		version:           protocol.Version1,
		state:             stateHandshaking,
		largestReceivedPN: map[protocol.EncryptionLevel]protocol.PacketNumber{protocol.EncryptionInitial: 5},
	}
	vn := &wire.VersionNegotiationPacket{
		DestConnectionID:  protocol.ConnectionID{1},
		SrcConnectionID:   protocol.ConnectionID{2},
		SupportedVersions: []protocol.Version{0xdeadbeef},
	}
	buf := &bytes.Buffer{}
	require.NoError(t, vn.Write(buf))

	err := c.handleVersionNegotiationPacket(buf.Bytes())
	require.Error(t, err)
	require.Equal(t, protocol.InvalidPacketNumber, c.getLargestReceived(protocol.EncryptionInitial))
}

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	cs := handshake.NewInsecureCryptoSetup(protocol.PerspectiveClient, []byte("handle-frame-test-secret"))
	return newConnection(protocol.PerspectiveClient, protocol.Version1, protocol.ConnectionID{1}, protocol.ConnectionID{2}, nil, loopbackAddr("server"), cs, nil)
}

func TestHandleFramePathChallengeQueuesPathResponse(t *testing.T) {
	c := newTestConnection(t)
	challenge := &wire.PathChallengeFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	require.NoError(t, c.handleFrame(challenge, protocol.Encryption1RTT, time.Now()))

	frames, _ := c.framer.AppendControlFrames(1024)
	require.Len(t, frames, 1)
	resp, ok := frames[0].(*wire.PathResponseFrame)
	require.True(t, ok)
	require.Equal(t, challenge.Data, resp.Data)
}

func TestHandleFramePingQueuesPong(t *testing.T) {
	c := newTestConnection(t)
	require.NoError(t, c.handleFrame(&wire.PingFrame{}, protocol.Encryption1RTT, time.Now()))

	frames, _ := c.framer.AppendControlFrames(1024)
	require.Len(t, frames, 1)
	_, ok := frames[0].(*wire.PongFrame)
	require.True(t, ok)
}

func TestHandleFrameMaxStreamIDRaisesPeerLimit(t *testing.T) {
	c := newTestConnection(t)
	c.streamsMap.peerMaxOutgoingBidiStreams = 2
	require.NoError(t, c.handleFrame(&wire.MaxStreamIDFrame{MaxStreamID: 8}, protocol.Encryption1RTT, time.Now()))
	require.EqualValues(t, 3, c.streamsMap.peerMaxOutgoingBidiStreams)
}

func TestHandleFrameStopSendingAbortsStream(t *testing.T) {
	c := newTestConnection(t)
	stream, err := c.streamsMap.getOrOpenPeerStream(1)
	require.NoError(t, err)
	stream.Write([]byte("partial"))

	require.NoError(t, c.handleFrame(&wire.StopSendingFrame{StreamID: 1, ErrorCode: 6}, protocol.Encryption1RTT, time.Now()))

	frames, _ := c.framer.AppendControlFrames(1024)
	require.Len(t, frames, 1)
	rst, ok := frames[0].(*wire.RstStreamFrame)
	require.True(t, ok)
	require.EqualValues(t, 6, rst.ErrorCode)
}

func TestSendPacketsGatedByCanSend(t *testing.T) {
	cs := handshake.NewInsecureCryptoSetup(protocol.PerspectiveServer, []byte("cansend-test-secret"))
	c := newConnection(protocol.PerspectiveServer, protocol.Version1, protocol.ConnectionID{1}, protocol.ConnectionID{2}, nil, loopbackAddr("client"), cs, nil)
	c.queueControlFrame(&wire.PingFrame{})
	require.True(t, c.framer.HasData())
	// A server that hasn't received any bytes yet is amplification-limited,
	// so CanSend must be false and sendPackets must not attempt to pack or
	// write anything (which would nil-deref c.conn).
	require.False(t, c.sentPacketHandler.CanSend())

	require.NoError(t, c.sendPackets())
	require.EqualValues(t, 0, c.sentPacketHandler.BytesInFlight())
}

func TestConnectionGetLargestReceivedTracksPerLevel(t *testing.T) {
	c := &Connection{largestReceivedPN: make(map[protocol.EncryptionLevel]protocol.PacketNumber)}
	require.Equal(t, protocol.InvalidPacketNumber, c.getLargestReceived(protocol.EncryptionInitial))

	c.updateLargestReceived(protocol.EncryptionInitial, 5)
	require.Equal(t, protocol.PacketNumber(5), c.getLargestReceived(protocol.EncryptionInitial))

	c.updateLargestReceived(protocol.EncryptionInitial, 3) // lower than what's seen; ignored
	require.Equal(t, protocol.PacketNumber(5), c.getLargestReceived(protocol.EncryptionInitial))
}
