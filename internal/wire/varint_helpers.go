package wire

import (
	"bytes"
	"io"

	"github.com/whitekyo/quicker/internal/protocol"
	"github.com/whitekyo/quicker/quicvarint"
)

func writeVarInt(b *bytes.Buffer, v uint64) {
	b.Write(quicvarint.Append(nil, v))
}

func varIntLen(v uint64) protocol.ByteCount {
	return protocol.ByteCount(quicvarint.Len(v))
}

func readVarInt(r *bytes.Reader) (uint64, error) {
	return quicvarint.Read(r)
}

func writeUint16(b *bytes.Buffer, v uint16) {
	b.WriteByte(byte(v >> 8))
	b.WriteByte(byte(v))
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}
