package quic

import (
	"fmt"

	"github.com/whitekyo/quicker/internal/handshake"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
	"github.com/whitekyo/quicker/internal/wire"
)

type cryptoSetupForUnpacker interface {
	GetOpener(level protocol.EncryptionLevel) (handshake.Opener, bool)
}

// unpackedPacket is a decrypted packet ready for frame parsing.
type unpackedPacket struct {
	packetNumber protocol.PacketNumber
	encLevel     protocol.EncryptionLevel
	data         []byte
}

// packetUnpacker removes header protection conceptually (trivial here,
// since the design leaves header protection itself to the external AEAD)
// and decrypts the payload of an incoming datagram.
type packetUnpacker struct {
	cryptoSetup cryptoSetupForUnpacker
	connIDLen   int
	// largestReceived reports the largest packet number successfully
	// received so far in the given space, used as the "expected" value
	// for truncated packet-number reconstruction.
	largestReceived func(protocol.EncryptionLevel) protocol.PacketNumber
}

func newPacketUnpacker(cs cryptoSetupForUnpacker, connIDLen int, largestReceived func(protocol.EncryptionLevel) protocol.PacketNumber) *packetUnpacker {
	return &packetUnpacker{cryptoSetup: cs, connIDLen: connIDLen, largestReceived: largestReceived}
}

// Unpack parses and decrypts one QUIC packet out of data, returning the
// decrypted frame payload and how many bytes of data it consumed.
func (u *packetUnpacker) Unpack(data []byte) (*unpackedPacket, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("quic: empty packet")
	}

	if wire.IsLongHeaderPacket(data[0]) {
		hdr, hdrLen, err := wire.ParseLongHeader(data)
		if err != nil {
			return nil, 0, err
		}
		level := levelForPacketType(hdr.Type)
		opener, ok := u.cryptoSetup.GetOpener(level)
		if !ok {
			return nil, 0, qerr.NewError(qerr.ProtocolViolation, "no decryption keys available yet")
		}
		total := hdrLen + int(hdr.Length) - int(hdr.PacketNumberLen)
		if total > len(data) {
			return nil, 0, fmt.Errorf("quic: truncated packet")
		}
		ciphertext := data[hdrLen:total]
		pn := protocol.ClosestPacketNumber(hdr.PacketNumberLen, u.largestReceived(level), hdr.PacketNumber)
		plaintext, err := opener.Open(nil, ciphertext, pn, data[:hdrLen])
		if err != nil {
			return nil, 0, qerr.NewError(qerr.ProtocolViolation, "payload decryption failed")
		}
		return &unpackedPacket{packetNumber: pn, encLevel: level, data: plaintext}, total, nil
	}

	hdr, hdrLen, err := wire.ParseShortHeader(data, u.connIDLen)
	if err != nil {
		return nil, 0, err
	}
	opener, ok := u.cryptoSetup.GetOpener(protocol.Encryption1RTT)
	if !ok {
		return nil, 0, qerr.NewError(qerr.ProtocolViolation, "no 1-RTT keys available yet")
	}
	pn := protocol.ClosestPacketNumber(hdr.PacketNumberLen, u.largestReceived(protocol.Encryption1RTT), hdr.PacketNumber)
	ciphertext := data[hdrLen:]
	plaintext, err := opener.Open(nil, ciphertext, pn, data[:hdrLen])
	if err != nil {
		return nil, 0, qerr.NewError(qerr.ProtocolViolation, "payload decryption failed")
	}
	return &unpackedPacket{packetNumber: pn, encLevel: protocol.Encryption1RTT, data: plaintext}, len(data), nil
}

func levelForPacketType(t wire.PacketType) protocol.EncryptionLevel {
	switch t {
	case wire.PacketTypeInitial:
		return protocol.EncryptionInitial
	case wire.PacketTypeHandshake:
		return protocol.EncryptionHandshake
	case wire.PacketTypeZeroRTT:
		return protocol.Encryption0RTT
	default:
		return protocol.EncryptionInitial
	}
}
