package wire

import "testing"

func TestBuiltinTypeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		read  func(r *Reader) (any, error)
		want  any
	}{
		{"boolean-true", func(w *Writer) { w.WriteBoolean(true) }, func(r *Reader) (any, error) { return r.ReadBoolean() }, true},
		{"int32-negative", func(w *Writer) { w.WriteInt32(-42) }, func(r *Reader) (any, error) { return r.ReadInt32() }, int32(-42)},
		{"uint32", func(w *Writer) { w.WriteUInt32(0xDEADBEEF) }, func(r *Reader) (any, error) { return r.ReadUInt32() }, uint32(0xDEADBEEF)},
		{"float64", func(w *Writer) { w.WriteFloat64(3.14159) }, func(r *Reader) (any, error) { return r.ReadFloat64() }, float64(3.14159)},
		{"string", func(w *Writer) { w.WriteString("opc.tcp://host:4841/ep") }, func(r *Reader) (any, error) { return r.ReadString() }, "opc.tcp://host:4841/ep"},
		{"datetime", func(w *Writer) { w.WriteDateTime(132223104000000000) }, func(r *Reader) (any, error) { return r.ReadDateTime() }, int64(132223104000000000)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWriter()
			tc.write(w)
			r := NewReader(w.Bytes())
			got, err := tc.read(r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			if r.Len() != 0 {
				t.Fatalf("%d bytes left over after decode", r.Len())
			}
		})
	}
}

func TestByteStringNull(t *testing.T) {
	w := NewWriter()
	w.WriteByteString(nil)
	r := NewReader(w.Bytes())
	got, err := r.ReadByteString()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestByteStringLengthExceedsBuffer(t *testing.T) {
	w := NewWriter()
	w.WriteInt32(1000)
	r := NewReader(w.Bytes())
	if _, err := r.ReadByteString(); err != DecodingError {
		t.Fatalf("expected DecodingError, got %v", err)
	}
}

func TestNodeIdRoundTrip(t *testing.T) {
	ids := []NodeId{
		NewNumericNodeId(0, 5),
		NewNumericNodeId(2, 40000),
		NewNumericNodeId(10, 1_000_000),
		{Namespace: 1, IdType: NodeIdTypeString, StringID: "Temperature"},
	}
	for _, id := range ids {
		w := NewWriter()
		w.WriteNodeId(id)
		r := NewReader(w.Bytes())
		got, err := r.ReadNodeId()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Namespace != id.Namespace || got.Numeric != id.Numeric || got.StringID != id.StringID {
			t.Fatalf("got %+v, want %+v", got, id)
		}
	}
}

func TestTransportHeaderRejectsBadIsFinalForHello(t *testing.T) {
	w := NewWriter()
	w.WriteTransportHeader(TransportHeader{MessageType: MessageTypeHello, IsFinal: IsFinalIntermediate, MessageSize: 32})
	r := NewReader(w.Bytes())
	if _, err := r.ReadTransportHeader(); err != DecodingError {
		t.Fatalf("expected DecodingError for HEL with IsFinal=C, got %v", err)
	}
}

func TestTransportHeaderRoundTrip(t *testing.T) {
	h := TransportHeader{MessageType: MessageTypeMessage, IsFinal: IsFinalIntermediate, MessageSize: 65535}
	w := NewWriter()
	w.WriteTransportHeader(h)
	r := NewReader(w.Bytes())
	got, err := r.ReadTransportHeader()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}
