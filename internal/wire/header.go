package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/internal/qerr"
)

// PacketType is the 2-bit long-header packet type.
type PacketType uint8

const (
	PacketTypeInitial   PacketType = 0x0
	PacketTypeZeroRTT   PacketType = 0x1
	PacketTypeHandshake PacketType = 0x2
	PacketTypeRetry     PacketType = 0x3
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInitial:
		return "Initial"
	case PacketTypeZeroRTT:
		return "0-RTT"
	case PacketTypeHandshake:
		return "Handshake"
	case PacketTypeRetry:
		return "Retry"
	default:
		return "invalid packet type"
	}
}

// IsLongHeaderPacket reports whether the first byte of a packet indicates
// a long header (top bit set).
func IsLongHeaderPacket(firstByte byte) bool { return firstByte&0x80 > 0 }

// IsVersionNegotiationPacket reports whether b is a Version Negotiation
// packet: a long header whose version field is all zero.
func IsVersionNegotiationPacket(b []byte) bool {
	return len(b) >= 5 && IsLongHeaderPacket(b[0]) && b[1] == 0 && b[2] == 0 && b[3] == 0 && b[4] == 0
}

// Header is the long-header prefix common to Initial/0-RTT/Handshake
// packets. Version Negotiation has its own dedicated type, since its
// payload doesn't carry a packet number or frames; Retry has only its
// PacketTypeRetry value and no dedicated type.
type Header struct {
	Type    PacketType
	Version protocol.Version

	DestConnectionID protocol.ConnectionID
	SrcConnectionID   protocol.ConnectionID

	// Length is the VLIE-encoded length of (truncated PN + encrypted
	// payload) that follows.
	Length protocol.ByteCount

	PacketNumber    protocol.PacketNumber
	PacketNumberLen protocol.PacketNumberLen
}

// ParseLongHeader decodes the long-header prefix of data. It reads the
// packet-number length from the low 2 bits of byte0 and returns only the
// truncated wire packet number; reconstructing the full value needs a
// largest-received context and happens one layer up.
func ParseLongHeader(data []byte) (*Header, int, error) {
	r := bytes.NewReader(data)
	byte0, err := r.ReadByte()
	if err != nil {
		return nil, 0, io.EOF
	}
	if byte0&0xc0 != 0xc0 {
		return nil, 0, qerr.NewError(qerr.FrameEncodingError, "not a long header")
	}
	h := &Header{
		Type:            PacketType((byte0 >> 4) & 0x3),
		PacketNumberLen: protocol.PacketNumberLen(1 << (byte0 & 0x3)),
	}
	var versionBytes [4]byte
	if _, err := io.ReadFull(r, versionBytes[:]); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	h.Version = protocol.Version(be32(versionBytes[:]))

	cidLenByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	dcidLen := int(cidLenByte>>4) & 0xf
	scidLen := int(cidLenByte) & 0xf

	dcid := make([]byte, dcidLen)
	if _, err := io.ReadFull(r, dcid); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	h.DestConnectionID = protocol.ConnectionID(dcid)
	scid := make([]byte, scidLen)
	if _, err := io.ReadFull(r, scid); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	h.SrcConnectionID = protocol.ConnectionID(scid)

	length, err := readVarInt(r)
	if err != nil {
		return nil, 0, qerr.NewError(qerr.FrameEncodingError, "header: payload length")
	}
	h.Length = protocol.ByteCount(length)

	pnBytes := make([]byte, h.PacketNumberLen)
	if _, err := io.ReadFull(r, pnBytes); err != nil {
		return nil, 0, io.ErrUnexpectedEOF
	}
	h.PacketNumber = protocol.PacketNumber(beN(pnBytes))

	return h, len(data) - r.Len(), nil
}

// Write serializes the long header. pn is the full (non-truncated) packet
// number; only PacketNumberLen low bytes are written, per truncation.
func (h *Header) Write(b *bytes.Buffer) error {
	if h.PacketNumberLen != protocol.PacketNumberLen1 && h.PacketNumberLen != protocol.PacketNumberLen2 && h.PacketNumberLen != protocol.PacketNumberLen4 {
		return fmt.Errorf("invalid packet number length: %d", h.PacketNumberLen)
	}
	lenBits := map[protocol.PacketNumberLen]byte{protocol.PacketNumberLen1: 0, protocol.PacketNumberLen2: 1, protocol.PacketNumberLen4: 2}[h.PacketNumberLen]
	byte0 := byte(0xc0) | (byte(h.Type) << 4) | lenBits
	b.WriteByte(byte0)

	var versionBytes [4]byte
	putBE32(versionBytes[:], uint32(h.Version))
	b.Write(versionBytes[:])

	b.WriteByte(byte(len(h.DestConnectionID)<<4) | byte(len(h.SrcConnectionID)))
	b.Write(h.DestConnectionID)
	b.Write(h.SrcConnectionID)

	writeVarInt(b, uint64(h.Length))

	pn := uint64(h.PacketNumber) & (uint64(1)<<(8*uint8(h.PacketNumberLen)) - 1)
	for i := int(h.PacketNumberLen) - 1; i >= 0; i-- {
		b.WriteByte(byte(pn >> (8 * i)))
	}
	return nil
}

// HeaderLen is the number of bytes Write would emit (not including the
// encrypted payload that follows).
func (h *Header) HeaderLen() protocol.ByteCount {
	return 1 + 4 + 1 + protocol.ByteCount(len(h.DestConnectionID)) + protocol.ByteCount(len(h.SrcConnectionID)) + varIntLen(uint64(h.Length)) + protocol.ByteCount(h.PacketNumberLen)
}

// ShortHeader is the 1-RTT packet header.
type ShortHeader struct {
	KeyPhase          bool
	Spin              bool
	DestConnectionID  protocol.ConnectionID
	PacketNumber      protocol.PacketNumber
	PacketNumberLen   protocol.PacketNumberLen
}

// ParseShortHeader decodes a short header, given the locally-configured
// destination connection ID length (short headers carry no length field).
func ParseShortHeader(data []byte, connIDLen int) (*ShortHeader, int, error) {
	if len(data) < 1+connIDLen {
		return nil, 0, io.ErrUnexpectedEOF
	}
	byte0 := data[0]
	if byte0&0xc0 != 0x40 {
		return nil, 0, qerr.NewError(qerr.FrameEncodingError, "not a short header")
	}
	h := &ShortHeader{
		KeyPhase:        byte0&0x20 != 0,
		Spin:            byte0&0x10 != 0,
		PacketNumberLen: protocol.PacketNumberLen(1 << (byte0 & 0x3)),
	}
	h.DestConnectionID = protocol.ConnectionID(data[1 : 1+connIDLen])
	off := 1 + connIDLen
	if len(data) < off+int(h.PacketNumberLen) {
		return nil, 0, io.ErrUnexpectedEOF
	}
	h.PacketNumber = protocol.PacketNumber(beN(data[off : off+int(h.PacketNumberLen)]))
	off += int(h.PacketNumberLen)
	return h, off, nil
}

func (h *ShortHeader) Write(b *bytes.Buffer) error {
	lenBits := map[protocol.PacketNumberLen]byte{protocol.PacketNumberLen1: 0, protocol.PacketNumberLen2: 1, protocol.PacketNumberLen4: 2}[h.PacketNumberLen]
	byte0 := byte(0x40) | lenBits
	if h.KeyPhase {
		byte0 |= 0x20
	}
	if h.Spin {
		byte0 |= 0x10
	}
	b.WriteByte(byte0)
	b.Write(h.DestConnectionID)
	pn := uint64(h.PacketNumber) & (uint64(1)<<(8*uint8(h.PacketNumberLen)) - 1)
	for i := int(h.PacketNumberLen) - 1; i >= 0; i-- {
		b.WriteByte(byte(pn >> (8 * i)))
	}
	return nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

func beN(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// VersionNegotiationPacket lists the versions a server supports, sent in
// response to an Initial packet carrying an unsupported version.
type VersionNegotiationPacket struct {
	DestConnectionID protocol.ConnectionID
	SrcConnectionID  protocol.ConnectionID
	SupportedVersions []protocol.Version
}

func (p *VersionNegotiationPacket) Write(b *bytes.Buffer) error {
	b.WriteByte(0x80) // long header bit set; remaining bits unused for VN
	b.Write([]byte{0, 0, 0, 0})
	b.WriteByte(byte(len(p.DestConnectionID)<<4) | byte(len(p.SrcConnectionID)))
	b.Write(p.DestConnectionID)
	b.Write(p.SrcConnectionID)
	for _, v := range p.SupportedVersions {
		var vb [4]byte
		putBE32(vb[:], uint32(v))
		b.Write(vb[:])
	}
	return nil
}

func ParseVersionNegotiationPacket(data []byte) (*VersionNegotiationPacket, error) {
	if !IsVersionNegotiationPacket(data) {
		return nil, qerr.NewError(qerr.FrameEncodingError, "not a version negotiation packet")
	}
	r := bytes.NewReader(data[5:])
	cidLenByte, err := r.ReadByte()
	if err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	dcidLen := int(cidLenByte>>4) & 0xf
	scidLen := int(cidLenByte) & 0xf
	dcid := make([]byte, dcidLen)
	if _, err := io.ReadFull(r, dcid); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	scid := make([]byte, scidLen)
	if _, err := io.ReadFull(r, scid); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	p := &VersionNegotiationPacket{DestConnectionID: dcid, SrcConnectionID: scid}
	for r.Len() >= 4 {
		var vb [4]byte
		io.ReadFull(r, vb[:])
		p.SupportedVersions = append(p.SupportedVersions, protocol.Version(be32(vb[:])))
	}
	return p, nil
}
