package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitekyo/quicker/internal/protocol"
)

func TestTransportParametersRoundTrip(t *testing.T) {
	var token [16]byte
	copy(token[:], []byte("0123456789abcdef"))
	p := &TransportParameters{
		InitialMaxStreamDataBidiLocal:  100,
		InitialMaxStreamDataBidiRemote: 200,
		InitialMaxStreamDataUni:         300,
		InitialMaxData:                  1000,
		InitialMaxBidiStreams:            10,
		InitialMaxUniStreams:             5,
		IdleTimeout:                      30,
		AckDelayExponent:                 3,
		MaxAckDelay:                      25,
		StatelessResetToken:              &token,
		DisableMigration:                 true,
		OriginalConnectionID:            protocol.ConnectionID{1, 2, 3, 4},
	}
	data := p.Marshal()
	got, err := ParseTransportParameters(data)
	require.NoError(t, err)
	require.Equal(t, p.InitialMaxStreamDataBidiLocal, got.InitialMaxStreamDataBidiLocal)
	require.Equal(t, p.InitialMaxData, got.InitialMaxData)
	require.Equal(t, p.InitialMaxBidiStreams, got.InitialMaxBidiStreams)
	require.Equal(t, p.IdleTimeout, got.IdleTimeout)
	require.Equal(t, p.AckDelayExponent, got.AckDelayExponent)
	require.Equal(t, p.MaxAckDelay, got.MaxAckDelay)
	require.True(t, got.DisableMigration)
	require.Equal(t, token, *got.StatelessResetToken)
	require.True(t, p.OriginalConnectionID.Equal(got.OriginalConnectionID))
}

func TestTransportParametersDuplicateTagIsError(t *testing.T) {
	var buf []byte
	buf = append(buf, beUint16Bytes(uint16(InitialMaxData))...)
	buf = append(buf, beUint16Bytes(4)...)
	buf = append(buf, beUint32Bytes(10)...)
	buf = append(buf, beUint16Bytes(uint16(InitialMaxData))...)
	buf = append(buf, beUint16Bytes(4)...)
	buf = append(buf, beUint32Bytes(20)...)

	_, err := ParseTransportParameters(buf)
	require.Error(t, err)
}

func TestTransportParametersUnknownTagIgnored(t *testing.T) {
	var buf []byte
	buf = append(buf, beUint16Bytes(0xbeef)...)
	buf = append(buf, beUint16Bytes(2)...)
	buf = append(buf, []byte{0x1, 0x2}...)
	buf = append(buf, beUint16Bytes(uint16(InitialMaxData))...)
	buf = append(buf, beUint16Bytes(4)...)
	buf = append(buf, beUint32Bytes(10)...)

	got, err := ParseTransportParameters(buf)
	require.NoError(t, err)
	require.Equal(t, protocol.ByteCount(10), got.InitialMaxData)
}
