package quic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/whitekyo/quicker/internal/handshake"
	"github.com/whitekyo/quicker/internal/handshake/mocks"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/wire"
)

type fakeCryptoSetupForUnpacker struct {
	openers map[protocol.EncryptionLevel]handshake.Opener
}

func (f *fakeCryptoSetupForUnpacker) GetOpener(level protocol.EncryptionLevel) (handshake.Opener, bool) {
	o, ok := f.openers[level]
	return o, ok
}

func TestUnpackLongHeaderPacket(t *testing.T) {
	ctrl := gomock.NewController(t)
	opener := mocks.NewMockOpener(ctrl)
	opener.EXPECT().Open(gomock.Nil(), []byte("ciphertext"), protocol.PacketNumber(5), gomock.Any()).
		Return([]byte("plaintext"), nil)

	cs := &fakeCryptoSetupForUnpacker{openers: map[protocol.EncryptionLevel]handshake.Opener{protocol.EncryptionInitial: opener}}
	u := newPacketUnpacker(cs, 8, func(protocol.EncryptionLevel) protocol.PacketNumber { return protocol.InvalidPacketNumber })

	hdr := &wire.Header{
		Type:             wire.PacketTypeInitial,
		Version:          protocol.Version1,
		DestConnectionID: protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8},
		SrcConnectionID:  protocol.ConnectionID{8, 7, 6, 5, 4, 3, 2, 1},
		PacketNumber:     5,
		PacketNumberLen:  protocol.PacketNumberLen1,
	}
	payload := []byte("ciphertext")
	hdr.Length = protocol.ByteCount(hdr.PacketNumberLen) + protocol.ByteCount(len(payload))

	b := &bytes.Buffer{}
	require.NoError(t, hdr.Write(b))
	b.Write(payload)

	unpacked, n, err := u.Unpack(b.Bytes())
	require.NoError(t, err)
	require.Equal(t, b.Len(), n)
	require.Equal(t, protocol.PacketNumber(5), unpacked.packetNumber)
	require.Equal(t, protocol.EncryptionInitial, unpacked.encLevel)
	require.Equal(t, []byte("plaintext"), unpacked.data)
}

func TestUnpackWithoutKeysIsProtocolViolation(t *testing.T) {
	cs := &fakeCryptoSetupForUnpacker{openers: map[protocol.EncryptionLevel]handshake.Opener{}}
	u := newPacketUnpacker(cs, 8, func(protocol.EncryptionLevel) protocol.PacketNumber { return protocol.InvalidPacketNumber })

	hdr := &wire.Header{Type: wire.PacketTypeInitial, DestConnectionID: protocol.ConnectionID{1}, PacketNumberLen: protocol.PacketNumberLen1}
	hdr.Length = protocol.ByteCount(hdr.PacketNumberLen)
	b := &bytes.Buffer{}
	require.NoError(t, hdr.Write(b))

	_, _, err := u.Unpack(b.Bytes())
	require.Error(t, err)
}

func TestUnpackShortHeaderUses1RTTOpener(t *testing.T) {
	ctrl := gomock.NewController(t)
	opener := mocks.NewMockOpener(ctrl)
	opener.EXPECT().Open(gomock.Nil(), []byte("ct"), gomock.Any(), gomock.Any()).Return([]byte("pt"), nil)

	cs := &fakeCryptoSetupForUnpacker{openers: map[protocol.EncryptionLevel]handshake.Opener{protocol.Encryption1RTT: opener}}
	u := newPacketUnpacker(cs, 4, func(protocol.EncryptionLevel) protocol.PacketNumber { return protocol.InvalidPacketNumber })

	sh := &wire.ShortHeader{DestConnectionID: protocol.ConnectionID{9, 9, 9, 9}, PacketNumber: 1, PacketNumberLen: protocol.PacketNumberLen1}
	b := &bytes.Buffer{}
	require.NoError(t, sh.Write(b))
	b.Write([]byte("ct"))

	unpacked, _, err := u.Unpack(b.Bytes())
	require.NoError(t, err)
	require.Equal(t, protocol.Encryption1RTT, unpacked.encLevel)
	require.Equal(t, []byte("pt"), unpacked.data)
}
