package hfile

import (
	"fmt"
	"math"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// heapCache memoizes global heap collections while decoding one batch of
// variable-length elements; NWB files pack most strings into a handful of
// collections.
type heapCache map[uint64]*GlobalHeap

func (hc heapCache) collection(r utils.ReaderAt, address uint64, sb *Superblock) (*GlobalHeap, error) {
	if heap, ok := hc[address]; ok {
		return heap, nil
	}
	heap, err := ReadGlobalHeap(r, address, sb)
	if err != nil {
		return nil, err
	}
	hc[address] = heap
	return heap, nil
}

// decodeElements decodes the first count elements of raw according to the
// datatype. Strings come out as string, booleans as bool, integers as
// int64/uint64, floats as float64, compounds as map[string]interface{}.
func decodeElements(r utils.ReaderAt, sb *Superblock, dt *Datatype, raw []byte, count int) ([]interface{}, error) {
	heaps := make(heapCache)
	values := make([]interface{}, 0, count)
	size := int(dt.Size)
	if size == 0 {
		return nil, fmt.Errorf("datatype class %d has zero size", dt.Class)
	}

	for i := 0; i < count; i++ {
		offset := i * size
		if offset+size > len(raw) {
			return nil, fmt.Errorf("data truncated at element %d", i)
		}
		value, err := decodeElement(r, sb, dt, raw[offset:offset+size], heaps)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		values = append(values, value)
	}
	return values, nil
}

func decodeElement(r utils.ReaderAt, sb *Superblock, dt *Datatype, raw []byte, heaps heapCache) (interface{}, error) {
	switch dt.Class {
	case ClassFixed, ClassBitfield:
		u := readUint(raw, uint8(dt.Size), dt.Order()) //nolint:gosec // G115: size <= 8
		if dt.Signed() {
			return decodeSigned(u, int(dt.Size), true), nil
		}
		return u, nil

	case ClassFloat:
		switch dt.Size {
		case 2:
			return float16ToFloat64(dt.Order().Uint16(raw)), nil
		case 4:
			return float64(math.Float32frombits(dt.Order().Uint32(raw))), nil
		case 8:
			return math.Float64frombits(dt.Order().Uint64(raw)), nil
		default:
			return nil, fmt.Errorf("unsupported float size: %d", dt.Size)
		}

	case ClassString:
		return decodeFixedString(raw, dt.StringPadding()), nil

	case ClassVarLen:
		return decodeVarLen(r, sb, dt, raw, heaps)

	case ClassEnum:
		base := dt.EnumBase
		if base == nil {
			return nil, fmt.Errorf("enum without base type")
		}
		u := readUint(raw, uint8(base.Size), base.Order()) //nolint:gosec // G115: size <= 8
		v := decodeSigned(u, int(base.Size), base.Signed())
		if dt.IsBool() {
			return enumBool(dt, v), nil
		}
		for i, ev := range dt.EnumValues {
			if ev == v {
				return dt.EnumNames[i], nil
			}
		}
		return v, nil

	case ClassCompound:
		record := make(map[string]interface{}, len(dt.Members))
		for _, m := range dt.Members {
			if int(m.Offset)+int(m.Type.Size) > len(raw) {
				return nil, fmt.Errorf("compound member %q beyond element bounds", m.Name)
			}
			v, err := decodeElement(r, sb, m.Type, raw[m.Offset:m.Offset+m.Type.Size], heaps)
			if err != nil {
				return nil, fmt.Errorf("member %q: %w", m.Name, err)
			}
			record[m.Name] = v
		}
		return record, nil

	case ClassReference:
		// Object references surface as the referent's header address;
		// the templater renders them opaquely.
		return readUint(raw, uint8(min(int(dt.Size), 8)), sb.Endianness), nil //nolint:gosec // G115: <= 8

	case ClassArray:
		base := dt.ArrayBase
		if base == nil {
			return nil, fmt.Errorf("array member without base type")
		}
		n := 1
		for _, d := range dt.ArrayDims {
			n *= int(d)
		}
		out := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			start := i * int(base.Size)
			if start+int(base.Size) > len(raw) {
				return nil, fmt.Errorf("array member truncated at %d", i)
			}
			v, err := decodeElement(r, sb, base, raw[start:start+int(base.Size)], heaps)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case ClassOpaque:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported datatype class: %d", dt.Class)
	}
}

func decodeVarLen(r utils.ReaderAt, sb *Superblock, dt *Datatype, raw []byte, heaps heapCache) (interface{}, error) {
	ref, err := ParseVlenRef(raw, sb)
	if err != nil {
		return nil, err
	}
	if ref.Size == 0 || ref.Addr == 0 || ref.Addr == UndefinedAddress {
		if dt.IsVariableString() {
			return "", nil
		}
		return []interface{}{}, nil
	}

	heap, err := heaps.collection(r, ref.Addr, sb)
	if err != nil {
		return nil, utils.WrapError("global heap read failed", err)
	}
	payload, err := heap.Object(ref.Index)
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) > uint64(ref.Size) {
		payload = payload[:ref.Size]
	}

	if dt.IsVariableString() {
		return string(payload), nil
	}

	base := dt.VarBase
	if base == nil {
		return nil, fmt.Errorf("variable-length sequence without base type")
	}
	n := len(payload) / int(base.Size)
	return decodeElements(r, sb, base, payload, n)
}

// decodeFixedString trims a fixed-length string per its padding mode.
func decodeFixedString(raw []byte, padding uint8) string {
	switch padding {
	case PadSpacePad:
		end := len(raw)
		for end > 0 && (raw[end-1] == ' ' || raw[end-1] == 0) {
			end--
		}
		return string(raw[:end])
	default:
		for i, b := range raw {
			if b == 0 {
				return string(raw[:i])
			}
		}
		return string(raw)
	}
}

// enumBool maps an h5py boolean enum value through its member names, so
// both FALSE/TRUE and TRUE/FALSE declaration orders decode correctly.
func enumBool(dt *Datatype, v int64) bool {
	for i, ev := range dt.EnumValues {
		if ev == v {
			return dt.EnumNames[i] == "TRUE" || dt.EnumNames[i] == "True" || dt.EnumNames[i] == "true"
		}
	}
	return v != 0
}

// float16ToFloat64 expands an IEEE 754 half-precision value.
func float16ToFloat64(bits uint16) float64 {
	sign := uint64(bits>>15) & 1
	exp := int((bits >> 10) & 0x1F)
	frac := uint64(bits & 0x3FF)

	var f64 uint64
	switch exp {
	case 0:
		if frac == 0 {
			f64 = sign << 63
		} else {
			// Subnormal: normalize into a regular double. Subnormal
			// halves scale by 2^-14.
			e := -14
			for frac&0x400 == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f64 = sign<<63 | uint64(e+1023)<<52 | frac<<42
		}
	case 0x1F:
		f64 = sign<<63 | 0x7FF<<52 | frac<<42
	default:
		f64 = sign<<63 | uint64(exp-15+1023)<<52 | frac<<42
	}
	return math.Float64frombits(f64)
}
