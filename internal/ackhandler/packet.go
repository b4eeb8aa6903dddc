package ackhandler

import (
	"time"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/wire"
)

// Packet is a sent packet being tracked for acknowledgement and loss
// detection purposes.
type Packet struct {
	PacketNumber    protocol.PacketNumber
	EncryptionLevel protocol.EncryptionLevel
	Length          protocol.ByteCount
	SendTime        time.Time
	Frames          []wire.Frame

	IsAckEliciting          bool
	IncludedInBytesInFlight bool
	declaredLost            bool
}

func (p *Packet) outstanding() bool {
	return !p.declaredLost
}
