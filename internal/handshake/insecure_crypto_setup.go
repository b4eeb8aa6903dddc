package handshake

import (
	"bytes"

	"github.com/whitekyo/quicker/internal/protocol"
)

// InsecureCryptoSetup is the CryptoSetup test double. Both peers must be
// constructed with the same connSecret (in a real deployment this stands
// in for what TLS 1.3 key schedule derivation would produce from the
// handshake transcript); it exists purely to drive the transport core's
// tests and the cmd/ example binaries without a real TLS 1.3 engine.
type InsecureCryptoSetup struct {
	perspective protocol.Perspective
	connSecret  []byte

	events []Event

	handshakeDone   bool
	sentClientHello bool
	sentServerHello bool
}

const (
	clientHelloMsg = "CLIENT_HELLO"
	serverHelloMsg = "SERVER_HELLO"
)

func NewInsecureCryptoSetup(perspective protocol.Perspective, connSecret []byte) *InsecureCryptoSetup {
	cs := &InsecureCryptoSetup{perspective: perspective, connSecret: connSecret}
	if perspective == protocol.PerspectiveClient {
		cs.events = append(cs.events, Event{Kind: EventWriteInitialData, Data: []byte(clientHelloMsg)})
		cs.sentClientHello = true
	}
	return cs
}

func (cs *InsecureCryptoSetup) HandleMessage(data []byte, level protocol.EncryptionLevel) error {
	switch cs.perspective {
	case protocol.PerspectiveServer:
		if bytes.Equal(data, []byte(clientHelloMsg)) && !cs.sentServerHello {
			cs.events = append(cs.events, Event{Kind: EventWriteHandshakeData, Data: []byte(serverHelloMsg)})
			cs.events = append(cs.events, Event{Kind: EventReceivedTransportParameters})
			cs.events = append(cs.events, Event{Kind: EventHandshakeComplete})
			cs.sentServerHello = true
			cs.handshakeDone = true
		}
	case protocol.PerspectiveClient:
		if bytes.Equal(data, []byte(serverHelloMsg)) && !cs.handshakeDone {
			cs.events = append(cs.events, Event{Kind: EventReceivedTransportParameters})
			cs.events = append(cs.events, Event{Kind: EventHandshakeComplete})
			cs.handshakeDone = true
		}
	}
	return nil
}

func (cs *InsecureCryptoSetup) NextEvent() Event {
	if len(cs.events) == 0 {
		return Event{Kind: EventNoEvent}
	}
	e := cs.events[0]
	cs.events = cs.events[1:]
	return e
}

func (cs *InsecureCryptoSetup) GetSealer(level protocol.EncryptionLevel) (Sealer, bool) {
	return cs.aead(level), cs.keyed(level)
}

func (cs *InsecureCryptoSetup) GetOpener(level protocol.EncryptionLevel) (Opener, bool) {
	return cs.aead(level), cs.keyed(level)
}

func (cs *InsecureCryptoSetup) keyed(level protocol.EncryptionLevel) bool {
	switch level {
	case protocol.EncryptionInitial:
		return true
	case protocol.EncryptionHandshake:
		return cs.sentClientHello // set only by a client, at construction; a server never reports Handshake keys
	case protocol.Encryption1RTT:
		return cs.handshakeDone
	default:
		return false
	}
}

func (cs *InsecureCryptoSetup) aead(level protocol.EncryptionLevel) *insecureAEAD {
	return newInsecureAEAD(level, string(cs.connSecret))
}
