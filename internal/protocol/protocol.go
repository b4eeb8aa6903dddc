// Package protocol defines the small scalar types shared across the QUIC
// transport core: packet numbers, byte counts, connection IDs, stream IDs,
// encryption levels and perspective. None of these types carry behavior
// beyond what is needed to keep arithmetic on the wire correct.
package protocol

import (
	"encoding/hex"
	"fmt"
)

// ByteCount counts bytes, as opposed to packets.
type ByteCount int64

// PacketNumber is the packet number of a QUIC packet.
// Packet numbers are 62 bits wide; InvalidPacketNumber marks "no packet".
type PacketNumber int64

// InvalidPacketNumber is used when no packet number is available.
const InvalidPacketNumber PacketNumber = -1

// MaxPacketNumber is the largest packet number representable in VLIE (2^62-1).
const MaxPacketNumber PacketNumber = (1 << 62) - 1

// StreamID identifies a stream. Bit 0 selects the initiator
// (0 = client, 1 = server); bit 1 selects direction (0 = bidirectional,
// 1 = unidirectional).
type StreamID uint64

// Perspective determines if we're acting as a client or a server.
type Perspective uint8

const (
	PerspectiveServer Perspective = 1
	PerspectiveClient Perspective = 2
)

func (p Perspective) Opposite() Perspective {
	if p == PerspectiveClient {
		return PerspectiveServer
	}
	return PerspectiveClient
}

func (p Perspective) String() string {
	switch p {
	case PerspectiveServer:
		return "Server"
	case PerspectiveClient:
		return "Client"
	default:
		return "invalid perspective"
	}
}

// InitiatedBy returns the Perspective that opened the stream.
func (s StreamID) InitiatedBy() Perspective {
	if s&0x1 == 0 {
		return PerspectiveClient
	}
	return PerspectiveServer
}

// IsBidirectional says whether the stream carries data in both directions.
func (s StreamID) IsBidirectional() bool {
	return s&0x2 == 0
}

// EncryptionLevel is the encryption level of a packet.
type EncryptionLevel uint8

const (
	EncryptionInitial EncryptionLevel = iota
	EncryptionHandshake
	Encryption0RTT
	Encryption1RTT
)

func (e EncryptionLevel) String() string {
	switch e {
	case EncryptionInitial:
		return "Initial"
	case EncryptionHandshake:
		return "Handshake"
	case Encryption0RTT:
		return "0-RTT"
	case Encryption1RTT:
		return "1-RTT"
	default:
		return "unknown encryption level"
	}
}

// ConnectionID is a QUIC connection ID, an opaque byte string of 0-20 bytes.
type ConnectionID []byte

func (c ConnectionID) Len() int { return len(c) }

func (c ConnectionID) String() string {
	if len(c) == 0 {
		return "(empty)"
	}
	return hex.EncodeToString(c)
}

func (c ConnectionID) Equal(other ConnectionID) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// PacketNumberLen is the length, in bytes, of a truncated packet number as
// carried on the wire.
type PacketNumberLen uint8

const (
	PacketNumberLen1 PacketNumberLen = 1
	PacketNumberLen2 PacketNumberLen = 2
	PacketNumberLen4 PacketNumberLen = 4
)

// PacketNumberLengthForHeader picks the smallest truncated length that
// unambiguously identifies packetNumber relative to the largest packet
// number acknowledged by the peer so far.
func PacketNumberLengthForHeader(pn, largestAcked PacketNumber) PacketNumberLen {
	var numUnacked PacketNumber
	if largestAcked == InvalidPacketNumber {
		numUnacked = pn + 1
	} else {
		numUnacked = pn - largestAcked
	}
	if numUnacked <= 1<<(8-1) {
		return PacketNumberLen1
	}
	if numUnacked <= 1<<(16-1) {
		return PacketNumberLen2
	}
	return PacketNumberLen4
}

// ClosestPacketNumber reconstructs the full packet number nearest to
// expected that truncates to the low bits given by wireValue, encoded in
// length bytes. This is the truncated packet-number reconstruction
// algorithm (§4.2 of the design): the candidate in expected's window of
// size 2^(bits-1) on either side of epoch is chosen.
func ClosestPacketNumber(length PacketNumberLen, expected, wireValue PacketNumber) PacketNumber {
	if expected == InvalidPacketNumber {
		return wireValue
	}
	epochDelta := PacketNumber(1) << (uint8(length) * 8)
	epoch := expected & ^(epochDelta - 1)
	prevEpochBegin := epoch - epochDelta
	nextEpochBegin := epoch + epochDelta
	return closestTo(expected,
		epoch+wireValue,
		closestTo(expected, prevEpochBegin+wireValue, nextEpochBegin+wireValue),
	)
}

func closestTo(target, a, b PacketNumber) PacketNumber {
	if pnDelta(target, a) < pnDelta(target, b) {
		return a
	}
	return b
}

func pnDelta(a, b PacketNumber) PacketNumber {
	if a < b {
		return b - a
	}
	return a - b
}

// Version is a QUIC version number.
type Version uint32

func (v Version) String() string {
	return fmt.Sprintf("0x%x", uint32(v))
}
