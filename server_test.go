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

func newTestListener(t *testing.T) *Listener {
	t.Helper()
	ln, err := ListenUDP("127.0.0.1:0", func() handshake.CryptoSetup {
		return handshake.NewInsecureCryptoSetup(protocol.PerspectiveServer, []byte("vn-test-secret"))
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

// TestListenerSendsVersionNegotiationOnUnsupportedVersion is the literal
// scenario from spec.md's testable properties: an Initial carrying an
// unsupported version gets a Version Negotiation packet back, and no
// connection is created, so the retried Initial at PN 0 finds an empty
// PN space.
func TestListenerSendsVersionNegotiationOnUnsupportedVersion(t *testing.T) {
	ln := newTestListener(t)
	clientConn, err := net.DialUDP("udp", nil, ln.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	dcid := protocol.ConnectionID{9, 9, 9, 9}
	scid := protocol.ConnectionID{1, 2, 3, 4}
	hdr := &wire.Header{
		Type:             wire.PacketTypeInitial,
		Version:          protocol.Version(0xdeadbeef), // not protocol.Version1
		DestConnectionID: dcid,
		SrcConnectionID:  scid,
		PacketNumberLen:  protocol.PacketNumberLen1,
	}
	buf := &bytes.Buffer{}
	require.NoError(t, hdr.Write(buf))
	_, err = clientConn.Write(buf.Bytes())
	require.NoError(t, err)

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply := make([]byte, 1500)
	n, err := clientConn.Read(reply)
	require.NoError(t, err)

	require.True(t, wire.IsVersionNegotiationPacket(reply[:n]))
	vn, err := wire.ParseVersionNegotiationPacket(reply[:n])
	require.NoError(t, err)
	require.Contains(t, vn.SupportedVersions, protocol.Version1)
	require.Equal(t, scid, vn.DestConnectionID)
	require.Equal(t, dcid, vn.SrcConnectionID)

	select {
	case <-ln.acceptQueue:
		t.Fatal("listener should not accept a connection for an unsupported version")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestListenerIgnoresNonInitialLongHeaderForUnknownCID checks that a
// long-header packet whose type isn't Initial, for a CID the listener
// has never seen, is dropped rather than spawning a new connection.
func TestListenerIgnoresNonInitialLongHeaderForUnknownCID(t *testing.T) {
	ln := newTestListener(t)
	clientConn, err := net.DialUDP("udp", nil, ln.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	hdr := &wire.Header{
		Type:             wire.PacketTypeHandshake,
		Version:          protocol.Version1,
		DestConnectionID: protocol.ConnectionID{7, 7, 7, 7},
		SrcConnectionID:  protocol.ConnectionID{8, 8, 8, 8},
		PacketNumberLen:  protocol.PacketNumberLen1,
	}
	buf := &bytes.Buffer{}
	require.NoError(t, hdr.Write(buf))
	_, err = clientConn.Write(buf.Bytes())
	require.NoError(t, err)

	select {
	case <-ln.acceptQueue:
		t.Fatal("listener should not create a connection from a non-Initial long header for an unknown CID")
	case <-time.After(200 * time.Millisecond):
	}
}
