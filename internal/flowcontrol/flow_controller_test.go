package flowcontrol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

func TestConnectionSendWindow(t *testing.T) {
	c := NewConnectionFlowController(1000)
	c.UpdateSendWindow(100)
	require.Equal(t, protocol.ByteCount(100), c.SendWindowSize())

	require.NoError(t, c.AddBytesSent(60))
	require.Equal(t, protocol.ByteCount(40), c.SendWindowSize())

	err := c.AddBytesSent(41)
	require.Error(t, err)
	var te *qerr.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, qerr.FlowControlError, te.ErrorCode)
}

func TestSendWindowIgnoresLowerUpdate(t *testing.T) {
	c := NewConnectionFlowController(0)
	c.UpdateSendWindow(500)
	c.UpdateSendWindow(100) // must not regress
	require.Equal(t, protocol.ByteCount(500), c.MaxDataRemote())
}

// Receiving 11 bytes against a stream-level limit of 10 is a
// FLOW_CONTROL_ERROR.
func TestStreamReceiveLimitViolation(t *testing.T) {
	conn := NewConnectionFlowController(1000)
	s := NewStreamFlowController(10, conn)

	err := s.UpdateHighestReceived(11, 11)
	require.Error(t, err)
	var te *qerr.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, qerr.FlowControlError, te.ErrorCode)
}

func TestStreamReceiveWithinLimitChargesConnection(t *testing.T) {
	conn := NewConnectionFlowController(100)
	s := NewStreamFlowController(10, conn)

	require.NoError(t, s.UpdateHighestReceived(10, 10))
	require.Equal(t, protocol.ByteCount(10), conn.DataReceived())
}

func TestStreamReceiveViolatesConnectionLimitEvenIfStreamOK(t *testing.T) {
	conn := NewConnectionFlowController(5)
	s := NewStreamFlowController(1000, conn)

	err := s.UpdateHighestReceived(10, 10)
	require.Error(t, err)
}

func TestStreamSendChargesConnection(t *testing.T) {
	conn := NewConnectionFlowController(0)
	conn.UpdateSendWindow(100)
	s := NewStreamFlowController(0, conn)
	s.UpdateSendWindow(50)

	require.NoError(t, s.AddBytesSent(50))
	require.Equal(t, protocol.ByteCount(50), conn.DataSent())

	err := s.AddBytesSent(1)
	require.Error(t, err)
}

func TestRaiseMaxDataLocalMonotone(t *testing.T) {
	l := NewLedger(10)
	l.RaiseMaxDataLocal(5)
	require.Equal(t, protocol.ByteCount(10), l.MaxDataLocal())
	l.RaiseMaxDataLocal(20)
	require.Equal(t, protocol.ByteCount(20), l.MaxDataLocal())
}

func TestIsBlocked(t *testing.T) {
	c := NewConnectionFlowController(0)
	c.UpdateSendWindow(10)
	require.False(t, c.IsBlocked())
	require.NoError(t, c.AddBytesSent(10))
	require.True(t, c.IsBlocked())
}
