package quic

import (
	"bytes"
	"time"

	"github.com/whitekyo/quicker/internal/ackhandler"
	"github.com/whitekyo/quicker/internal/handshake"
	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/wire"
)

// packedPacket is a fully-encoded, encrypted packet along with the
// bookkeeping the sent-packet handler needs to track it.
type packedPacket struct {
	raw    []byte
	packet *ackhandler.Packet
}

type cryptoSetupForPacker interface {
	GetSealer(level protocol.EncryptionLevel) (handshake.Sealer, bool)
}

// packetPacker turns queued frames into an encrypted datagram at a given
// encryption level, using a long header for Initial/Handshake and a
// short header for 1-RTT.
type packetPacker struct {
	perspective     protocol.Perspective
	srcConnID       protocol.ConnectionID
	destConnID      protocol.ConnectionID
	version         protocol.Version
	cryptoSetup     cryptoSetupForPacker
	framer          *framer
	pnHandler       *ackhandler.SentPacketHandler
	maxDatagramSize protocol.ByteCount
}

func newPacketPacker(perspective protocol.Perspective, src, dest protocol.ConnectionID, version protocol.Version, cs cryptoSetupForPacker, fr *framer, pn *ackhandler.SentPacketHandler) *packetPacker {
	return &packetPacker{
		perspective:     perspective,
		srcConnID:       src,
		destConnID:      dest,
		version:         version,
		cryptoSetup:     cs,
		framer:          fr,
		pnHandler:       pn,
		maxDatagramSize: protocol.DefaultMaxDatagramSize,
	}
}

// PackPacket builds and encrypts the next packet at level, returning nil
// if there's no sealer yet or nothing to send.
func (p *packetPacker) PackPacket(level protocol.EncryptionLevel, ackFrame *wire.AckFrame, sendTime time.Time) (*packedPacket, error) {
	sealer, ok := p.cryptoSetup.GetSealer(level)
	if !ok {
		return nil, nil
	}

	pn := p.pnHandler.PeekPacketNumber(level)
	pnLen := protocol.PacketNumberLengthForHeader(pn, protocol.InvalidPacketNumber)

	var frames []wire.Frame
	if ackFrame != nil {
		frames = append(frames, ackFrame)
	}

	headerLen := p.headerLen(level, pnLen)
	maxPayload := p.maxDatagramSize - headerLen - protocol.ByteCount(sealer.Overhead())
	controlFrames, used := p.framer.AppendControlFrames(maxPayload)
	frames = append(frames, controlFrames...)
	streamFrames, _ := p.framer.AppendStreamFrames(maxPayload - used)
	frames = append(frames, streamFrames...)

	if len(frames) == 0 {
		return nil, nil
	}

	payload := &bytes.Buffer{}
	for _, f := range frames {
		if err := f.Write(payload); err != nil {
			return nil, err
		}
	}

	headerBytes, err := p.writeHeader(level, pn, pnLen, protocol.ByteCount(payload.Len())+protocol.ByteCount(sealer.Overhead()))
	if err != nil {
		return nil, err
	}

	sealed := sealer.Seal(nil, payload.Bytes(), pn, headerBytes)
	raw := append(headerBytes, sealed...)

	p.pnHandler.PopPacketNumber(level)

	return &packedPacket{
		raw: raw,
		packet: &ackhandler.Packet{
			PacketNumber:    pn,
			EncryptionLevel: level,
			Length:          protocol.ByteCount(len(raw)),
			SendTime:        sendTime,
			Frames:          frames,
		},
	}, nil
}

func (p *packetPacker) headerLen(level protocol.EncryptionLevel, pnLen protocol.PacketNumberLen) protocol.ByteCount {
	if level == protocol.Encryption1RTT {
		return 1 + protocol.ByteCount(len(p.destConnID)) + protocol.ByteCount(pnLen)
	}
	h := &wire.Header{
		Type:             packetTypeForLevel(level),
		DestConnectionID: p.destConnID,
		SrcConnectionID:  p.srcConnID,
		PacketNumberLen:  pnLen,
	}
	return h.HeaderLen()
}

func (p *packetPacker) writeHeader(level protocol.EncryptionLevel, pn protocol.PacketNumber, pnLen protocol.PacketNumberLen, payloadAndTagLen protocol.ByteCount) ([]byte, error) {
	b := &bytes.Buffer{}
	if level == protocol.Encryption1RTT {
		h := &wire.ShortHeader{
			DestConnectionID: p.destConnID,
			PacketNumber:     pn,
			PacketNumberLen:  pnLen,
		}
		if err := h.Write(b); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	}
	h := &wire.Header{
		Type:             packetTypeForLevel(level),
		Version:          p.version,
		DestConnectionID: p.destConnID,
		SrcConnectionID:  p.srcConnID,
		PacketNumber:     pn,
		PacketNumberLen:  pnLen,
		Length:           protocol.ByteCount(pnLen) + payloadAndTagLen,
	}
	if err := h.Write(b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func packetTypeForLevel(level protocol.EncryptionLevel) wire.PacketType {
	if level == protocol.EncryptionHandshake {
		return wire.PacketTypeHandshake
	}
	return wire.PacketTypeInitial
}
