package wire

// NodeId identifier-type discriminants (low nibble of the encoding byte).
const (
	NodeIdTypeTwoByte   byte = 0x00
	NodeIdTypeFourByte  byte = 0x01
	NodeIdTypeNumeric   byte = 0x02
	NodeIdTypeString    byte = 0x03
	NodeIdTypeGuid      byte = 0x04
	NodeIdTypeByteString byte = 0x05
)

// NodeId identifies an encoded structure type or an address-space node.
// Only the Numeric/String/Guid/ByteString identifier kinds are
// represented explicitly; the two/four-byte compact forms are encoding
// optimisations over the same (Namespace, Numeric) shape.
type NodeId struct {
	Namespace  uint16
	IdType     byte
	Numeric    uint32
	StringID   string
	GuidID     Guid
	ByteStringID []byte
}

func NewNumericNodeId(namespace uint16, id uint32) NodeId {
	return NodeId{Namespace: namespace, IdType: NodeIdTypeNumeric, Numeric: id}
}

func (w *Writer) WriteNodeId(n NodeId) {
	switch {
	case n.IdType == NodeIdTypeNumeric && n.Namespace == 0 && n.Numeric <= 0xFF:
		w.WriteByte(NodeIdTypeTwoByte)
		w.WriteByte(byte(n.Numeric))
	case n.IdType == NodeIdTypeNumeric && n.Namespace <= 0xFF && n.Numeric <= 0xFFFF:
		w.WriteByte(NodeIdTypeFourByte)
		w.WriteByte(byte(n.Namespace))
		w.WriteUInt16(uint16(n.Numeric))
	case n.IdType == NodeIdTypeNumeric:
		w.WriteByte(NodeIdTypeNumeric)
		w.WriteUInt16(n.Namespace)
		w.WriteUInt32(n.Numeric)
	case n.IdType == NodeIdTypeString:
		w.WriteByte(NodeIdTypeString)
		w.WriteUInt16(n.Namespace)
		w.WriteString(n.StringID)
	case n.IdType == NodeIdTypeGuid:
		w.WriteByte(NodeIdTypeGuid)
		w.WriteUInt16(n.Namespace)
		w.WriteGuid(n.GuidID)
	case n.IdType == NodeIdTypeByteString:
		w.WriteByte(NodeIdTypeByteString)
		w.WriteUInt16(n.Namespace)
		w.WriteByteString(n.ByteStringID)
	default:
		w.WriteByte(NodeIdTypeTwoByte)
		w.WriteByte(0)
	}
}

func (r *Reader) ReadNodeId() (NodeId, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return NodeId{}, err
	}
	switch kind {
	case NodeIdTypeTwoByte:
		v, err := r.ReadByte()
		if err != nil {
			return NodeId{}, err
		}
		return NewNumericNodeId(0, uint32(v)), nil
	case NodeIdTypeFourByte:
		ns, err := r.ReadByte()
		if err != nil {
			return NodeId{}, err
		}
		v, err := r.ReadUInt16()
		if err != nil {
			return NodeId{}, err
		}
		return NewNumericNodeId(uint16(ns), uint32(v)), nil
	case NodeIdTypeNumeric:
		ns, err := r.ReadUInt16()
		if err != nil {
			return NodeId{}, err
		}
		v, err := r.ReadUInt32()
		if err != nil {
			return NodeId{}, err
		}
		return NewNumericNodeId(ns, v), nil
	case NodeIdTypeString:
		ns, err := r.ReadUInt16()
		if err != nil {
			return NodeId{}, err
		}
		s, err := r.ReadString()
		if err != nil {
			return NodeId{}, err
		}
		return NodeId{Namespace: ns, IdType: NodeIdTypeString, StringID: s}, nil
	case NodeIdTypeGuid:
		ns, err := r.ReadUInt16()
		if err != nil {
			return NodeId{}, err
		}
		g, err := r.ReadGuid()
		if err != nil {
			return NodeId{}, err
		}
		return NodeId{Namespace: ns, IdType: NodeIdTypeGuid, GuidID: g}, nil
	case NodeIdTypeByteString:
		ns, err := r.ReadUInt16()
		if err != nil {
			return NodeId{}, err
		}
		b, err := r.ReadByteString()
		if err != nil {
			return NodeId{}, err
		}
		return NodeId{Namespace: ns, IdType: NodeIdTypeByteString, ByteStringID: b}, nil
	default:
		return NodeId{}, DecodingError
	}
}

// QualifiedName is a namespace-scoped name (browse names, references).
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

func (w *Writer) WriteQualifiedName(q QualifiedName) {
	w.WriteUInt16(q.NamespaceIndex)
	w.WriteString(q.Name)
}

func (r *Reader) ReadQualifiedName() (QualifiedName, error) {
	ns, err := r.ReadUInt16()
	if err != nil {
		return QualifiedName{}, err
	}
	name, err := r.ReadString()
	if err != nil {
		return QualifiedName{}, err
	}
	return QualifiedName{NamespaceIndex: ns, Name: name}, nil
}

// LocalizedText carries an optional locale and an optional text, with
// a presence bitmask: bit0 = locale present, bit1 = text present.
type LocalizedText struct {
	Locale string
	Text   string

	HasLocale bool
	HasText   bool
}

func (w *Writer) WriteLocalizedText(t LocalizedText) {
	var mask byte
	if t.HasLocale {
		mask |= 0x01
	}
	if t.HasText {
		mask |= 0x02
	}
	w.WriteByte(mask)
	if t.HasLocale {
		w.WriteString(t.Locale)
	}
	if t.HasText {
		w.WriteString(t.Text)
	}
}

func (r *Reader) ReadLocalizedText() (LocalizedText, error) {
	mask, err := r.ReadByte()
	if err != nil {
		return LocalizedText{}, err
	}
	var t LocalizedText
	if mask&0x01 != 0 {
		t.HasLocale = true
		if t.Locale, err = r.ReadString(); err != nil {
			return LocalizedText{}, err
		}
	}
	if mask&0x02 != 0 {
		t.HasText = true
		if t.Text, err = r.ReadString(); err != nil {
			return LocalizedText{}, err
		}
	}
	return t, nil
}

// ExtensionObject carries an arbitrary encoded structure identified by
// its type NodeId plus an encoding tag (0 = no body, 1 = ByteString
// binary body, 2 = XML body — only binary bodies are produced here).
type ExtensionObject struct {
	TypeID   NodeId
	Encoding byte
	Body     []byte
}

const (
	ExtensionObjectEncodingNone   byte = 0
	ExtensionObjectEncodingBinary byte = 1
	ExtensionObjectEncodingXML    byte = 2
)

func (w *Writer) WriteExtensionObject(e ExtensionObject) {
	w.WriteNodeId(e.TypeID)
	w.WriteByte(e.Encoding)
	if e.Encoding == ExtensionObjectEncodingBinary || e.Encoding == ExtensionObjectEncodingXML {
		w.WriteByteString(e.Body)
	}
}

func (r *Reader) ReadExtensionObject() (ExtensionObject, error) {
	typeID, err := r.ReadNodeId()
	if err != nil {
		return ExtensionObject{}, err
	}
	encoding, err := r.ReadByte()
	if err != nil {
		return ExtensionObject{}, err
	}
	e := ExtensionObject{TypeID: typeID, Encoding: encoding}
	if encoding == ExtensionObjectEncodingBinary || encoding == ExtensionObjectEncodingXML {
		if e.Body, err = r.ReadByteString(); err != nil {
			return ExtensionObject{}, err
		}
	}
	return e, nil
}

// Variant builtin-type tags relevant to this core's own traffic
// (status/diagnostics); a full 25-entry type table is out of scope per
// the Non-goals on application services.
const (
	VariantTypeNull        byte = 0
	VariantTypeBoolean     byte = 1
	VariantTypeInt32       byte = 6
	VariantTypeUInt32      byte = 7
	VariantTypeString      byte = 12
	VariantTypeByteString  byte = 15
	VariantTypeStatusCode  byte = 19
	VariantArrayMask       byte = 0x80
)

// Variant is a tagged union; only the scalar kinds listed above are
// implemented.
type Variant struct {
	Type     byte
	Boolean  bool
	Int32    int32
	UInt32   uint32
	String   string
	ByteStr  []byte
}

func (w *Writer) WriteVariant(v Variant) {
	w.WriteByte(v.Type)
	switch v.Type {
	case VariantTypeNull:
	case VariantTypeBoolean:
		w.WriteBoolean(v.Boolean)
	case VariantTypeInt32:
		w.WriteInt32(v.Int32)
	case VariantTypeUInt32, VariantTypeStatusCode:
		w.WriteUInt32(v.UInt32)
	case VariantTypeString:
		w.WriteString(v.String)
	case VariantTypeByteString:
		w.WriteByteString(v.ByteStr)
	}
}

func (r *Reader) ReadVariant() (Variant, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Variant{}, err
	}
	v := Variant{Type: tag}
	switch tag {
	case VariantTypeNull:
	case VariantTypeBoolean:
		if v.Boolean, err = r.ReadBoolean(); err != nil {
			return Variant{}, err
		}
	case VariantTypeInt32:
		if v.Int32, err = r.ReadInt32(); err != nil {
			return Variant{}, err
		}
	case VariantTypeUInt32, VariantTypeStatusCode:
		if v.UInt32, err = r.ReadUInt32(); err != nil {
			return Variant{}, err
		}
	case VariantTypeString:
		if v.String, err = r.ReadString(); err != nil {
			return Variant{}, err
		}
	case VariantTypeByteString:
		if v.ByteStr, err = r.ReadByteString(); err != nil {
			return Variant{}, err
		}
	default:
		return Variant{}, DecodingError
	}
	return v, nil
}

// DataValue carries a Variant plus optional status/timestamps, gated by
// a presence bitmask as spec.md §4.1 describes.
type DataValue struct {
	Value           Variant
	HasValue        bool
	StatusCode      uint32
	HasStatusCode   bool
	SourceTimestamp int64
	HasSourceTS     bool
}

const (
	dataValueMaskValue    byte = 0x01
	dataValueMaskStatus   byte = 0x02
	dataValueMaskSourceTS byte = 0x04
)

func (w *Writer) WriteDataValue(d DataValue) {
	var mask byte
	if d.HasValue {
		mask |= dataValueMaskValue
	}
	if d.HasStatusCode {
		mask |= dataValueMaskStatus
	}
	if d.HasSourceTS {
		mask |= dataValueMaskSourceTS
	}
	w.WriteByte(mask)
	if d.HasValue {
		w.WriteVariant(d.Value)
	}
	if d.HasStatusCode {
		w.WriteUInt32(d.StatusCode)
	}
	if d.HasSourceTS {
		w.WriteDateTime(d.SourceTimestamp)
	}
}

func (r *Reader) ReadDataValue() (DataValue, error) {
	mask, err := r.ReadByte()
	if err != nil {
		return DataValue{}, err
	}
	var d DataValue
	if mask&dataValueMaskValue != 0 {
		d.HasValue = true
		if d.Value, err = r.ReadVariant(); err != nil {
			return DataValue{}, err
		}
	}
	if mask&dataValueMaskStatus != 0 {
		d.HasStatusCode = true
		if d.StatusCode, err = r.ReadUInt32(); err != nil {
			return DataValue{}, err
		}
	}
	if mask&dataValueMaskSourceTS != 0 {
		d.HasSourceTS = true
		if d.SourceTimestamp, err = r.ReadDateTime(); err != nil {
			return DataValue{}, err
		}
	}
	return d, nil
}
