// Package handshake defines the external collaborator boundary the design
// calls out in §1: the TLS 1.3 record engine and the AEAD primitive are
// treated as black boxes. This package only specifies their interface and
// a minimal in-memory test double; no production code outside of tests
// and the example binaries ever constructs the test double directly.
package handshake

import (
	"github.com/whitekyo/quicker/internal/protocol"
)

// Sealer seals a packet payload at a given encryption level. header is
// folded in as associated data, per the design's AEAD facade contract.
type Sealer interface {
	Seal(dst, plaintext []byte, pn protocol.PacketNumber, header []byte) []byte
	Overhead() int
}

// Opener opens (authenticates and decrypts) a packet payload at a given
// encryption level.
type Opener interface {
	Open(dst, ciphertext []byte, pn protocol.PacketNumber, header []byte) ([]byte, error)
}

// Event is emitted by CryptoSetup as the handshake progresses.
type EventKind uint8

const (
	EventNoEvent EventKind = iota
	// EventWriteInitialData / EventWriteHandshakeData ask the caller to
	// send the returned bytes in a CRYPTO frame at the named level.
	EventWriteInitialData
	EventWriteHandshakeData
	// EventReceivedTransportParameters signals that the peer's transport
	// parameters have been received; CryptoSetup has no accessor that
	// returns them.
	EventReceivedTransportParameters
	// EventHandshakeComplete signals that the handshake has produced
	// 1-RTT keys and completed key exchange.
	EventHandshakeComplete
)

type Event struct {
	Kind EventKind
	Data []byte
}

// CryptoSetup is the TLS 1.3 oracle: "give me handshake bytes to send",
// "accept these handshake bytes", "derive keys for encryption level L",
// plus a callback-free event stream a caller polls after feeding it
// bytes. Concrete implementations own exactly one encryption-level keying
// schedule; this package's production code only ever depends on this
// interface, never on a concrete TLS stack.
type CryptoSetup interface {
	// HandleMessage delivers CRYPTO-frame bytes received at the named
	// encryption level to the handshake engine.
	HandleMessage(data []byte, level protocol.EncryptionLevel) error
	// NextEvent drains the next pending event, or EventNoEvent if none.
	NextEvent() Event
	// GetSealer/GetOpener return the AEAD facade for a level once its
	// keys have been derived; ok is false if the level isn't keyed yet.
	GetSealer(level protocol.EncryptionLevel) (Sealer, bool)
	GetOpener(level protocol.EncryptionLevel) (Opener, bool)
}
