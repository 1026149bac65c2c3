// Package wire implements the OPC UA built-in type codec and the chunk
// transport/security/sequence header shapes used by the chunk manager
// and secure channel state machine. All integers are little-endian;
// byte-for-byte compatibility with the OPC UA Connection Protocol is
// required, so every encode/decode pair here mirrors the wire layout
// exactly rather than a convenient Go representation.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// DecodingError is returned for any malformed-byte condition: bad
// discriminants, truncated buffers, or length fields exceeding the
// remaining bytes.
var DecodingError = errors.New("wire: decoding error")

// NullLength is the length-field value that denotes a null ByteString
// or String.
const NullLength int32 = -1

// Writer accumulates encoded bytes. It never returns an error: growth
// is unbounded and "buffer full" is a caller-side capacity check made
// against the negotiated send-buffer-size, not a codec concern.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }
func (w *Writer) Len() int      { return w.buf.Len() }

func (w *Writer) WriteBoolean(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteByte(v byte) { w.buf.WriteByte(v) }

// WriteRaw appends b verbatim, with no length prefix. Used by callers
// that have already computed a security envelope (signature, ciphertext)
// to append.
func (w *Writer) WriteRaw(b []byte) { w.buf.Write(b) }

func (w *Writer) WriteInt16(v int16)   { w.writeFixed(uint16(v)) }
func (w *Writer) WriteUInt16(v uint16) { w.writeFixed(v) }
func (w *Writer) WriteInt32(v int32)   { w.writeFixed(uint32(v)) }
func (w *Writer) WriteUInt32(v uint32) { w.writeFixed(v) }
func (w *Writer) WriteInt64(v int64)   { w.writeFixed(uint64(v)) }
func (w *Writer) WriteUInt64(v uint64) { w.writeFixed(v) }

func (w *Writer) WriteFloat32(v float32) { w.writeFixed(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.writeFixed(math.Float64bits(v)) }

func (w *Writer) writeFixed(v any) {
	_ = binary.Write(&w.buf, binary.LittleEndian, v)
}

// WriteByteString writes an int32 length prefix followed by raw bytes.
// A nil slice is encoded as the null length (-1).
func (w *Writer) WriteByteString(b []byte) {
	if b == nil {
		w.WriteInt32(NullLength)
		return
	}
	w.WriteInt32(int32(len(b)))
	w.buf.Write(b)
}

// WriteString encodes s as a UTF-8 ByteString. An empty string and a
// null string are both written with length 0; callers needing the null
// distinction should track it separately, as OPC UA strings usually do
// not round through Go's string type for that edge case.
func (w *Writer) WriteString(s string) {
	w.WriteByteString([]byte(s))
}

// WriteDateTime writes t as 100ns ticks since 1601-01-01 UTC.
func (w *Writer) WriteDateTime(ticks int64) { w.WriteInt64(ticks) }

// WriteGuid writes a 16-byte GUID in its mixed-endian wire layout:
// Data1 (u32 LE), Data2 (u16 LE), Data3 (u16 LE), Data4 (8 raw bytes).
func (w *Writer) WriteGuid(g Guid) {
	w.WriteUInt32(g.Data1)
	w.WriteUInt16(g.Data2)
	w.WriteUInt16(g.Data3)
	w.buf.Write(g.Data4[:])
}

// Reader consumes encoded bytes, returning DecodingError on truncation
// or invalid discriminants.
type Reader struct {
	r *bytes.Reader
}

func NewReader(b []byte) *Reader { return &Reader{r: bytes.NewReader(b)} }

func (r *Reader) Len() int { return r.r.Len() }

func (r *Reader) ReadBoolean() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, DecodingError
	}
	return b != 0, nil
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, DecodingError
	}
	return b, nil
}

func (r *Reader) ReadInt16() (int16, error)   { v, err := r.readU16(); return int16(v), err }
func (r *Reader) ReadUInt16() (uint16, error) { return r.readU16() }
func (r *Reader) ReadInt32() (int32, error)   { v, err := r.readU32(); return int32(v), err }
func (r *Reader) ReadUInt32() (uint32, error) { return r.readU32() }
func (r *Reader) ReadInt64() (int64, error)   { v, err := r.readU64(); return int64(v), err }
func (r *Reader) ReadUInt64() (uint64, error) { return r.readU64() }

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.readU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.readU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *Reader) readU16() (uint16, error) {
	var v uint16
	if err := binary.Read(r.r, binary.LittleEndian, &v); err != nil {
		return 0, DecodingError
	}
	return v, nil
}

func (r *Reader) readU32() (uint32, error) {
	var v uint32
	if err := binary.Read(r.r, binary.LittleEndian, &v); err != nil {
		return 0, DecodingError
	}
	return v, nil
}

func (r *Reader) readU64() (uint64, error) {
	var v uint64
	if err := binary.Read(r.r, binary.LittleEndian, &v); err != nil {
		return 0, DecodingError
	}
	return v, nil
}

// ReadByteString reads an int32 length prefix then that many bytes. A
// length of -1 yields a nil slice. A length exceeding the remaining
// buffer is a DecodingError, never a short read.
func (r *Reader) ReadByteString() ([]byte, error) {
	length, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if length == NullLength {
		return nil, nil
	}
	if length < 0 || int64(length) > int64(r.r.Len()) {
		return nil, DecodingError
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, DecodingError
	}
	return buf, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadByteString()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadDateTime() (int64, error) { return r.ReadInt64() }

func (r *Reader) ReadGuid() (Guid, error) {
	var g Guid
	var err error
	if g.Data1, err = r.ReadUInt32(); err != nil {
		return Guid{}, err
	}
	if g.Data2, err = r.ReadUInt16(); err != nil {
		return Guid{}, err
	}
	if g.Data3, err = r.ReadUInt16(); err != nil {
		return Guid{}, err
	}
	if _, err := io.ReadFull(r.r, g.Data4[:]); err != nil {
		return Guid{}, DecodingError
	}
	return g, nil
}

// Guid is the 16-byte OPC UA GUID built-in type.
type Guid struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}
