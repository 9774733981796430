package hfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// DatatypeClass is the HDF5 datatype class.
type DatatypeClass uint8

// Datatype classes.
const (
	ClassFixed     DatatypeClass = 0
	ClassFloat     DatatypeClass = 1
	ClassTime      DatatypeClass = 2
	ClassString    DatatypeClass = 3
	ClassBitfield  DatatypeClass = 4
	ClassOpaque    DatatypeClass = 5
	ClassCompound  DatatypeClass = 6
	ClassReference DatatypeClass = 7
	ClassEnum      DatatypeClass = 8
	ClassVarLen    DatatypeClass = 9
	ClassArray     DatatypeClass = 10
)

// String padding modes for fixed-length strings.
const (
	PadNullTerm  = 0
	PadNullPad   = 1
	PadSpacePad  = 2
	varLenString = 1
)

// CompoundMember is one field of a compound datatype.
type CompoundMember struct {
	Name   string
	Offset uint32
	Type   *Datatype
}

// Datatype is a fully decoded datatype message, including the nested types
// NWB files actually contain: compounds, enums (h5py booleans), variable
// length strings and sequences, references and array members.
type Datatype struct {
	Class   DatatypeClass
	Version uint8
	Size    uint32
	Bits    uint32

	// Compound members, in declaration order.
	Members []CompoundMember

	// Enum base type and named values.
	EnumBase   *Datatype
	EnumNames  []string
	EnumValues []int64

	// Variable-length base type.
	VarBase *Datatype

	// Array member base type and dimensions.
	ArrayBase *Datatype
	ArrayDims []uint32
}

// ParseDatatype decodes a datatype message payload.
func ParseDatatype(data []byte) (*Datatype, error) {
	dt, _, err := parseDatatypeAt(data)
	return dt, err
}

// parseDatatypeAt decodes a datatype starting at buf[0] and reports how many
// bytes it consumed, so compound and enum parsing can walk packed members.
func parseDatatypeAt(buf []byte) (*Datatype, int, error) {
	if len(buf) < 8 {
		return nil, 0, errors.New("datatype message too short")
	}

	head := binary.LittleEndian.Uint32(buf[0:4])
	dt := &Datatype{
		Class:   DatatypeClass(head & 0x0F),             //nolint:gosec // G115: 4-bit field
		Version: uint8((head >> 4) & 0x0F),              //nolint:gosec // G115: 4-bit field
		Bits:    (head >> 8) & 0x00FFFFFF,
		Size:    binary.LittleEndian.Uint32(buf[4:8]),
	}

	props := buf[8:]
	consumed := 8

	switch dt.Class {
	case ClassFixed, ClassBitfield:
		// Bit offset and precision.
		consumed += 4
	case ClassFloat:
		// Bit offset/precision, exponent and mantissa layout, bias.
		consumed += 12
	case ClassTime:
		consumed += 2
	case ClassString, ClassReference:
		// All layout information lives in the class bit field.
	case ClassOpaque:
		consumed += int(dt.Bits & 0xFF)
	case ClassCompound:
		n, err := dt.parseCompoundMembers(props)
		if err != nil {
			return nil, 0, err
		}
		consumed += n
	case ClassEnum:
		n, err := dt.parseEnum(props)
		if err != nil {
			return nil, 0, err
		}
		consumed += n
	case ClassVarLen:
		base, n, err := parseDatatypeAt(props)
		if err != nil {
			return nil, 0, fmt.Errorf("variable-length base type: %w", err)
		}
		dt.VarBase = base
		consumed += n
	case ClassArray:
		n, err := dt.parseArray(props)
		if err != nil {
			return nil, 0, err
		}
		consumed += n
	default:
		return nil, 0, fmt.Errorf("unsupported datatype class: %d", dt.Class)
	}

	if consumed > len(buf) {
		return nil, 0, fmt.Errorf("datatype class %d truncated: need %d bytes, have %d", dt.Class, consumed, len(buf))
	}
	return dt, consumed, nil
}

// parseCompoundMembers walks the packed member list. Versions differ in
// name padding, array info, and offset width:
//   - v1: padded name, 4-byte offset, 28 bytes of array info, member type
//   - v2: padded name, 4-byte offset, member type
//   - v3: bare name, minimal-width offset, member type
func (dt *Datatype) parseCompoundMembers(props []byte) (int, error) {
	numMembers := int(dt.Bits & 0xFFFF)
	pos := 0

	for i := 0; i < numMembers; i++ {
		var member CompoundMember

		nameEnd := pos
		for nameEnd < len(props) && props[nameEnd] != 0 {
			nameEnd++
		}
		if nameEnd >= len(props) {
			return 0, fmt.Errorf("compound member %d: name not null-terminated", i)
		}
		member.Name = string(props[pos:nameEnd])

		switch dt.Version {
		case 1, 2:
			nameLen := nameEnd - pos
			pos += ((nameLen + 8) / 8) * 8
			if pos+4 > len(props) {
				return 0, fmt.Errorf("compound member %d: offset field truncated", i)
			}
			member.Offset = binary.LittleEndian.Uint32(props[pos : pos+4])
			pos += 4
			if dt.Version == 1 {
				// Dimensionality, permutation and dimension sizes of the
				// legacy array-member encoding.
				pos += 28
			}
		case 3:
			pos = nameEnd + 1
			offsetWidth := minOffsetWidth(dt.Size)
			if pos+offsetWidth > len(props) {
				return 0, fmt.Errorf("compound member %d: offset field truncated", i)
			}
			member.Offset = uint32(readUint(props[pos:], uint8(offsetWidth), binary.LittleEndian)) //nolint:gosec // G115
			pos += offsetWidth
		default:
			return 0, fmt.Errorf("unsupported compound datatype version: %d", dt.Version)
		}

		if pos+8 > len(props) {
			return 0, fmt.Errorf("compound member %d: datatype truncated", i)
		}
		memberType, n, err := parseDatatypeAt(props[pos:])
		if err != nil {
			return 0, fmt.Errorf("compound member %d (%s): %w", i, member.Name, err)
		}
		member.Type = memberType
		pos += n

		dt.Members = append(dt.Members, member)
	}

	return pos, nil
}

func minOffsetWidth(size uint32) int {
	switch {
	case size < 1<<8:
		return 1
	case size < 1<<16:
		return 2
	case size < 1<<24:
		return 3
	default:
		return 4
	}
}

// parseEnum decodes the base type, names and values. h5py writes booleans
// as an enum {FALSE, TRUE} over int8.
func (dt *Datatype) parseEnum(props []byte) (int, error) {
	base, pos, err := parseDatatypeAt(props)
	if err != nil {
		return 0, fmt.Errorf("enum base type: %w", err)
	}
	dt.EnumBase = base

	count := int(dt.Bits & 0xFFFF)
	for i := 0; i < count; i++ {
		nameEnd := pos
		for nameEnd < len(props) && props[nameEnd] != 0 {
			nameEnd++
		}
		if nameEnd >= len(props) {
			return 0, fmt.Errorf("enum name %d not null-terminated", i)
		}
		dt.EnumNames = append(dt.EnumNames, string(props[pos:nameEnd]))

		if dt.Version >= 3 {
			pos = nameEnd + 1
		} else {
			nameLen := nameEnd - pos
			pos += ((nameLen + 8) / 8) * 8
		}
	}

	valueSize := int(base.Size)
	for i := 0; i < count; i++ {
		if pos+valueSize > len(props) {
			return 0, fmt.Errorf("enum value %d truncated", i)
		}
		raw := readUint(props[pos:], uint8(valueSize), base.Order()) //nolint:gosec // G115
		dt.EnumValues = append(dt.EnumValues, decodeSigned(raw, valueSize, base.Signed()))
		pos += valueSize
	}

	return pos, nil
}

func (dt *Datatype) parseArray(props []byte) (int, error) {
	if len(props) < 1 {
		return 0, errors.New("array datatype properties too short")
	}
	ndims := int(props[0])
	pos := 1
	if dt.Version < 3 {
		pos += 3 // reserved
	}

	need := ndims * 4
	if dt.Version < 3 {
		need *= 2 // dimension sizes plus legacy permutation indices
	}
	if pos+need+8 > len(props) {
		return 0, errors.New("array datatype truncated")
	}

	for i := 0; i < ndims; i++ {
		dt.ArrayDims = append(dt.ArrayDims, binary.LittleEndian.Uint32(props[pos:pos+4]))
		pos += 4
	}
	if dt.Version < 3 {
		pos += ndims * 4
	}

	base, n, err := parseDatatypeAt(props[pos:])
	if err != nil {
		return 0, fmt.Errorf("array base type: %w", err)
	}
	dt.ArrayBase = base
	return pos + n, nil
}

// Order returns the byte order encoded in bit 0 of the class bit field.
func (dt *Datatype) Order() binary.ByteOrder {
	if dt.Bits&0x01 == 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Signed reports whether a fixed-point type is two's complement signed.
func (dt *Datatype) Signed() bool {
	return dt.Class == ClassFixed && dt.Bits&0x08 != 0
}

// StringPadding returns the padding mode for fixed-length strings.
func (dt *Datatype) StringPadding() uint8 {
	return uint8(dt.Bits & 0x0F) //nolint:gosec // G115: 4-bit field
}

// IsVariableString reports whether values are global-heap string references.
func (dt *Datatype) IsVariableString() bool {
	return dt.Class == ClassVarLen && dt.Bits&0x0F == varLenString
}

// IsFixedString reports whether values are inline padded strings.
func (dt *Datatype) IsFixedString() bool {
	return dt.Class == ClassString
}

// IsBool reports the h5py boolean encoding: an enum of FALSE/TRUE over a
// 1-byte integer.
func (dt *Datatype) IsBool() bool {
	if dt.Class != ClassEnum || dt.EnumBase == nil || dt.EnumBase.Size != 1 {
		return false
	}
	if len(dt.EnumNames) != 2 {
		return false
	}
	names := strings.ToUpper(dt.EnumNames[0]) + "/" + strings.ToUpper(dt.EnumNames[1])
	return names == "FALSE/TRUE" || names == "TRUE/FALSE"
}

// DtypeName renders the numpy-style name the usage script shows, e.g.
// "float64", "uint8", "bool", "object", "|S5" or a structured dtype list.
func (dt *Datatype) DtypeName() string {
	switch dt.Class {
	case ClassFixed:
		prefix := "int"
		if !dt.Signed() {
			prefix = "uint"
		}
		return fmt.Sprintf("%s%d", prefix, dt.Size*8)
	case ClassFloat:
		return fmt.Sprintf("float%d", dt.Size*8)
	case ClassString:
		return fmt.Sprintf("|S%d", dt.Size)
	case ClassBitfield:
		return fmt.Sprintf("uint%d", dt.Size*8)
	case ClassOpaque:
		return fmt.Sprintf("|V%d", dt.Size)
	case ClassCompound:
		codes := make([]string, 0, len(dt.Members))
		for _, m := range dt.Members {
			codes = append(codes, fmt.Sprintf("('%s', %s)", m.Name, m.Type.memberCode()))
		}
		return "[" + strings.Join(codes, ", ") + "]"
	case ClassReference:
		return "object"
	case ClassEnum:
		if dt.IsBool() {
			return "bool"
		}
		if dt.EnumBase != nil {
			return dt.EnumBase.DtypeName()
		}
		return "enum"
	case ClassVarLen:
		return "object"
	case ClassArray:
		if dt.ArrayBase != nil {
			return dt.ArrayBase.DtypeName()
		}
		return "array"
	case ClassTime:
		return fmt.Sprintf("time%d", dt.Size*8)
	default:
		return fmt.Sprintf("class_%d", dt.Class)
	}
}

// memberCode renders the short numpy field code used inside structured
// dtype strings.
func (dt *Datatype) memberCode() string {
	orderChar := "<"
	if dt.Order() == binary.BigEndian {
		orderChar = ">"
	}

	switch dt.Class {
	case ClassFixed:
		kind := "i"
		if !dt.Signed() {
			kind = "u"
		}
		return fmt.Sprintf("'%s%s%d'", orderChar, kind, dt.Size)
	case ClassFloat:
		return fmt.Sprintf("'%sf%d'", orderChar, dt.Size)
	case ClassString:
		return fmt.Sprintf("'|S%d'", dt.Size)
	case ClassEnum:
		if dt.IsBool() {
			return "'?'"
		}
		if dt.EnumBase != nil {
			return dt.EnumBase.memberCode()
		}
		return "'O'"
	case ClassCompound:
		return dt.DtypeName()
	case ClassVarLen, ClassReference:
		return "'O'"
	case ClassArray:
		if dt.ArrayBase != nil && len(dt.ArrayDims) > 0 {
			dims := make([]string, len(dt.ArrayDims))
			for i, d := range dt.ArrayDims {
				dims[i] = fmt.Sprintf("%d", d)
			}
			suffix := strings.Join(dims, ", ")
			if len(dt.ArrayDims) == 1 {
				suffix += ","
			}
			return fmt.Sprintf("(%s, (%s))", dt.ArrayBase.memberCode(), suffix)
		}
		return "'O'"
	default:
		return fmt.Sprintf("'|V%d'", dt.Size)
	}
}

// decodeSigned reinterprets raw little-endian bytes as a signed value when
// the type calls for it.
func decodeSigned(raw uint64, size int, signed bool) int64 {
	if !signed {
		return int64(raw) //nolint:gosec // G115: caller bounds the width
	}
	shift := uint(64 - size*8)
	return int64(raw<<shift) >> shift //nolint:gosec // G115: sign extension
}
