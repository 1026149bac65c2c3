package transport

import (
	"encoding/binary"
	"io"

	"github.com/systerel/s2opc-go/pkg/wire"
)

// readChunk reads exactly one self-delimited OPC UA chunk from r: the
// 8-byte transport header (3-byte message type, 1-byte is-final, 4-byte
// little-endian total size) followed by the rest of the declared size.
// Grounded on the teacher's StreamReader.Read length-prefix framing,
// adapted from an explicit 4-byte length prefix to this wire format's
// self-describing header.
func readChunk(r io.Reader, maxReceiveChunkSize uint32) ([]byte, error) {
	var hdr [wire.TransportHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size < wire.TransportHeaderSize {
		return nil, ErrShortTransportHeader
	}
	if maxReceiveChunkSize > 0 && size > maxReceiveChunkSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, size)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[wire.TransportHeaderSize:]); err != nil {
		return nil, err
	}
	return buf, nil
}
