package wire

import (
	"bytes"
	"io"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

// TransportParameterID is the 16-bit tag of a transport parameter, as
// exchanged once during the handshake extension.
type TransportParameterID uint16

const (
	InitialMaxStreamDataBidiLocal  TransportParameterID = 0x00
	InitialMaxData                 TransportParameterID = 0x01
	InitialMaxBidiStreams           TransportParameterID = 0x02
	IdleTimeout                     TransportParameterID = 0x03
	PreferredAddress                TransportParameterID = 0x04
	MaxPacketSize                   TransportParameterID = 0x05
	StatelessResetToken             TransportParameterID = 0x06
	AckDelayExponent                TransportParameterID = 0x07
	InitialMaxUniStreams             TransportParameterID = 0x08
	DisableMigration                 TransportParameterID = 0x09
	InitialMaxStreamDataBidiRemote TransportParameterID = 0x0a
	InitialMaxStreamDataUni         TransportParameterID = 0x0b
	MaxAckDelay                      TransportParameterID = 0x0c
	OriginalConnectionID            TransportParameterID = 0x0d
)

// TransportParameters is the typed get/set mapping exchanged once during
// the handshake; immutable after the handshake completes.
type TransportParameters struct {
	InitialMaxStreamDataBidiLocal  protocol.ByteCount
	InitialMaxStreamDataBidiRemote protocol.ByteCount
	InitialMaxStreamDataUni         protocol.ByteCount
	InitialMaxData                  protocol.ByteCount
	InitialMaxBidiStreams            protocol.StreamID
	InitialMaxUniStreams             protocol.StreamID
	IdleTimeout                      uint16 // seconds
	MaxPacketSize                    uint16
	AckDelayExponent                 uint8
	MaxAckDelay                      uint8
	DisableMigration                 bool
	StatelessResetToken              *[16]byte
	OriginalConnectionID            protocol.ConnectionID
	PreferredAddress                 []byte // opaque; no network-path concerns in this core
}

func putTag(b *bytes.Buffer, id TransportParameterID, value []byte) {
	writeUint16(b, uint16(id))
	writeUint16(b, uint16(len(value)))
	b.Write(value)
}

func beUint32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
func beUint16Bytes(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// Marshal serializes the transport parameters for the handshake
// extension. MaxPacketSize and MaxAckDelay are omitted when zero,
// OriginalConnectionID when empty, StatelessResetToken when nil and
// DisableMigration when false; every other field is always emitted, even
// when zero (e.g. InitialMaxData=0).
func (p *TransportParameters) Marshal() []byte {
	var b bytes.Buffer
	putTag(&b, InitialMaxStreamDataBidiLocal, beUint32Bytes(uint32(p.InitialMaxStreamDataBidiLocal)))
	putTag(&b, InitialMaxStreamDataBidiRemote, beUint32Bytes(uint32(p.InitialMaxStreamDataBidiRemote)))
	putTag(&b, InitialMaxStreamDataUni, beUint32Bytes(uint32(p.InitialMaxStreamDataUni)))
	putTag(&b, InitialMaxData, beUint32Bytes(uint32(p.InitialMaxData)))
	putTag(&b, InitialMaxBidiStreams, beUint16Bytes(uint16(p.InitialMaxBidiStreams)))
	putTag(&b, InitialMaxUniStreams, beUint16Bytes(uint16(p.InitialMaxUniStreams)))
	putTag(&b, IdleTimeout, beUint16Bytes(p.IdleTimeout))
	if p.MaxPacketSize != 0 {
		putTag(&b, MaxPacketSize, beUint16Bytes(p.MaxPacketSize))
	}
	if p.StatelessResetToken != nil {
		putTag(&b, StatelessResetToken, p.StatelessResetToken[:])
	}
	putTag(&b, AckDelayExponent, []byte{p.AckDelayExponent})
	if p.MaxAckDelay != 0 {
		putTag(&b, MaxAckDelay, []byte{p.MaxAckDelay})
	}
	if p.DisableMigration {
		putTag(&b, DisableMigration, nil)
	}
	if len(p.OriginalConnectionID) > 0 {
		putTag(&b, OriginalConnectionID, p.OriginalConnectionID)
	}
	return b.Bytes()
}

// ParseTransportParameters decodes a serialized transport-parameter
// extension. Duplicate tags are a TRANSPORT_PARAMETER_ERROR; unknown tags
// are ignored.
func ParseTransportParameters(data []byte) (*TransportParameters, error) {
	p := &TransportParameters{}
	seen := make(map[TransportParameterID]bool)
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		idRaw, err := readUint16(r)
		if err != nil {
			return nil, qerr.NewError(qerr.TransportParameterError, "truncated parameter tag")
		}
		id := TransportParameterID(idRaw)
		length, err := readUint16(r)
		if err != nil {
			return nil, qerr.NewError(qerr.TransportParameterError, "truncated parameter length")
		}
		if int(length) > r.Len() {
			return nil, io.ErrUnexpectedEOF
		}
		value := make([]byte, length)
		io.ReadFull(r, value)

		if seen[id] {
			return nil, qerr.NewError(qerr.TransportParameterError, "duplicate transport parameter")
		}
		seen[id] = true

		switch id {
		case InitialMaxStreamDataBidiLocal:
			p.InitialMaxStreamDataBidiLocal = protocol.ByteCount(be32(value))
		case InitialMaxStreamDataBidiRemote:
			p.InitialMaxStreamDataBidiRemote = protocol.ByteCount(be32(value))
		case InitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni = protocol.ByteCount(be32(value))
		case InitialMaxData:
			p.InitialMaxData = protocol.ByteCount(be32(value))
		case InitialMaxBidiStreams:
			p.InitialMaxBidiStreams = protocol.StreamID(beN(value))
		case InitialMaxUniStreams:
			p.InitialMaxUniStreams = protocol.StreamID(beN(value))
		case IdleTimeout:
			p.IdleTimeout = uint16(beN(value))
		case MaxPacketSize:
			p.MaxPacketSize = uint16(beN(value))
		case StatelessResetToken:
			if len(value) == 16 {
				var tok [16]byte
				copy(tok[:], value)
				p.StatelessResetToken = &tok
			}
		case AckDelayExponent:
			if len(value) == 1 {
				p.AckDelayExponent = value[0]
			}
		case MaxAckDelay:
			if len(value) == 1 {
				p.MaxAckDelay = value[0]
			}
		case DisableMigration:
			p.DisableMigration = true
		case OriginalConnectionID:
			p.OriginalConnectionID = protocol.ConnectionID(value)
		default:
			// unknown tags are ignored
		}
	}
	return p, nil
}
