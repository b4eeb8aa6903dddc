package quic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitekyo/quicker/internal/flowcontrol"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

func newTestStreamsMap(t *testing.T, perspective protocol.Perspective) (*streamsMap, *fakeStreamSender) {
	sender := &fakeStreamSender{}
	connFC := flowcontrol.NewConnectionFlowController(1 << 20)
	config := populateConfig(&Config{MaxIncomingStreams: 2, MaxIncomingUniStreams: 2})
	return newStreamsMap(perspective, sender, connFC, config), sender
}

func TestClientBidiStreamIDsStartAtZero(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveClient)
	s1, err := m.OpenStream()
	require.NoError(t, err)
	require.EqualValues(t, 0, s1.StreamID())
	s2, err := m.OpenStream()
	require.NoError(t, err)
	require.EqualValues(t, 4, s2.StreamID())
}

func TestServerBidiStreamIDsStartAtOne(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveServer)
	s, err := m.OpenStream()
	require.NoError(t, err)
	require.EqualValues(t, 1, s.StreamID())
}

func TestUniStreamNamespaceIsSeparateFromBidi(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveClient)
	bidi, _ := m.OpenStream()
	uni, _ := m.OpenUniStream()
	require.EqualValues(t, 0, bidi.StreamID())
	require.EqualValues(t, 2, uni.StreamID())
}

func TestGetOrOpenPeerStreamEnqueuesForAccept(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveServer)
	s, err := m.getOrOpenPeerStream(0) // client-initiated bidi stream
	require.NoError(t, err)
	require.NotNil(t, s)

	accepted, err := m.AcceptStream()
	require.NoError(t, err)
	require.Equal(t, s, accepted)
}

func TestGetOrOpenPeerStreamRejectsUnopenedLocalStream(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveServer)
	_, err := m.getOrOpenPeerStream(1) // server-initiated, never opened locally
	require.Error(t, err)
	var te *qerr.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, qerr.StreamStateError, te.ErrorCode)
}

func TestGetOrOpenPeerStreamEnforcesConcurrencyLimit(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveServer)
	_, err := m.getOrOpenPeerStream(0)
	require.NoError(t, err)
	_, err = m.getOrOpenPeerStream(4)
	require.NoError(t, err)
	_, err = m.getOrOpenPeerStream(8) // third concurrent incoming bidi stream, over the limit of 2
	require.Error(t, err)
	var te *qerr.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, qerr.StreamIDError, te.ErrorCode)
}

func TestOpenStreamRejectsBeyondPeerMaxStreamID(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveClient)
	_, err := m.OpenStream()
	require.NoError(t, err)
	_, err = m.OpenStream()
	require.NoError(t, err)
	_, err = m.OpenStream() // third, beyond the peer's advertised limit of 2
	require.Error(t, err)
	var te *qerr.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, qerr.StreamIDError, te.ErrorCode)
}

func TestOpenUniStreamRejectsBeyondPeerMaxStreamID(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveClient)
	_, err := m.OpenUniStream()
	require.NoError(t, err)
	_, err = m.OpenUniStream()
	require.NoError(t, err)
	_, err = m.OpenUniStream()
	require.Error(t, err)
	var te *qerr.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, qerr.StreamIDError, te.ErrorCode)
}

func TestUpdatePeerMaxStreamIDRaisesLimit(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveClient)
	_, err := m.OpenStream()
	require.NoError(t, err)
	_, err = m.OpenStream()
	require.NoError(t, err)
	_, err = m.OpenStream()
	require.Error(t, err) // still at the limit of 2

	m.updatePeerMaxStreamID(8) // client bidi stream ID 8 is the 3rd of its namespace
	s, err := m.OpenStream()
	require.NoError(t, err)
	require.EqualValues(t, 8, s.StreamID())
}

func TestUpdatePeerMaxStreamIDIgnoresLowerValue(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveClient)
	m.updatePeerMaxStreamID(8) // raise bidi limit to 3
	m.updatePeerMaxStreamID(4) // lower value, should be ignored
	require.EqualValues(t, 3, m.peerMaxOutgoingBidiStreams)
}

func TestCloseWithErrorUnblocksStreams(t *testing.T) {
	m, _ := newTestStreamsMap(t, protocol.PerspectiveClient)
	s, err := m.OpenStream()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 8)
		_, err := s.Read(buf)
		require.Error(t, err)
		close(done)
	}()

	m.closeWithError(qerr.NewError(qerr.InternalError, "test shutdown"))
	<-done

	_, err = m.AcceptStream()
	require.Error(t, err)
}
