package hfile

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeElementsFixed(t *testing.T) {
	dt, err := ParseDatatype(fixedIntType(2, true))
	require.NoError(t, err)

	raw := make([]byte, 4)
	binary.LittleEndian.PutUint16(raw, 0xFFFF) // -1
	binary.LittleEndian.PutUint16(raw[2:], 300)

	values, err := decodeElements(nil, testSB(), dt, raw, 2)
	require.NoError(t, err)
	require.Equal(t, []interface{}{int64(-1), int64(300)}, values)
}

func TestDecodeElementsUnsigned(t *testing.T) {
	dt, err := ParseDatatype(fixedIntType(1, false))
	require.NoError(t, err)

	values, err := decodeElements(nil, testSB(), dt, []byte{0xFF, 0x00}, 2)
	require.NoError(t, err)
	require.Equal(t, []interface{}{uint64(255), uint64(0)}, values)
}

func TestDecodeElementsFloat(t *testing.T) {
	dt, err := ParseDatatype(float64Type())
	require.NoError(t, err)

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, math.Float64bits(3.5))

	values, err := decodeElements(nil, testSB(), dt, raw, 1)
	require.NoError(t, err)
	require.Equal(t, []interface{}{3.5}, values)
}

func TestDecodeElementsBool(t *testing.T) {
	buf := dtHeader(ClassEnum, 1, 2, 1)
	buf = append(buf, fixedIntType(1, true)...)
	buf = append(buf, []byte("FALSE\x00\x00\x00")...)
	buf = append(buf, []byte("TRUE\x00\x00\x00\x00")...)
	buf = append(buf, 0, 1)
	dt, err := ParseDatatype(buf)
	require.NoError(t, err)

	values, err := decodeElements(nil, testSB(), dt, []byte{1, 0}, 2)
	require.NoError(t, err)
	require.Equal(t, []interface{}{true, false}, values)
}

func TestDecodeElementsCompound(t *testing.T) {
	intType, err := ParseDatatype(fixedIntType(4, true))
	require.NoError(t, err)
	floatType, err := ParseDatatype(float64Type())
	require.NoError(t, err)

	dt := &Datatype{
		Class: ClassCompound,
		Size:  12,
		Members: []CompoundMember{
			{Name: "id", Offset: 0, Type: intType},
			{Name: "val", Offset: 4, Type: floatType},
		},
	}

	raw := make([]byte, 12)
	binary.LittleEndian.PutUint32(raw, 42)
	binary.LittleEndian.PutUint64(raw[4:], math.Float64bits(0.25))

	values, err := decodeElements(nil, testSB(), dt, raw, 1)
	require.NoError(t, err)
	record, ok := values[0].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, int64(42), record["id"])
	require.Equal(t, 0.25, record["val"])
}

func TestDecodeElementsVlenString(t *testing.T) {
	sb := testSB()

	// One GCOL collection at 0x100 holding "hello" as object 1.
	file := make([]byte, 0x200)
	copy(file[0x100:], "GCOL")
	file[0x104] = 1 // version
	binary.LittleEndian.PutUint64(file[0x108:], 0x100)
	binary.LittleEndian.PutUint16(file[0x110:], 1) // object index
	binary.LittleEndian.PutUint64(file[0x118:], 5) // object size
	copy(file[0x120:], "hello")

	dtBuf := dtHeader(ClassVarLen, 1, varLenString, 16)
	dtBuf = append(dtBuf, dtHeader(ClassString, 1, 0, 1)...)
	dt, err := ParseDatatype(dtBuf)
	require.NoError(t, err)

	raw := make([]byte, 16)
	binary.LittleEndian.PutUint32(raw, 5)       // length
	binary.LittleEndian.PutUint64(raw[4:], 0x100)
	binary.LittleEndian.PutUint32(raw[12:], 1) // heap index

	values, err := decodeElements(bytes.NewReader(file), sb, dt, raw, 1)
	require.NoError(t, err)
	require.Equal(t, []interface{}{"hello"}, values)
}

func TestDecodeElementsEmptyVlen(t *testing.T) {
	dtBuf := dtHeader(ClassVarLen, 1, varLenString, 16)
	dtBuf = append(dtBuf, dtHeader(ClassString, 1, 0, 1)...)
	dt, err := ParseDatatype(dtBuf)
	require.NoError(t, err)

	values, err := decodeElements(nil, testSB(), dt, make([]byte, 16), 1)
	require.NoError(t, err)
	require.Equal(t, []interface{}{""}, values)
}

func TestDecodeFixedStringPadding(t *testing.T) {
	require.Equal(t, "abc", decodeFixedString([]byte("abc\x00\x00"), PadNullTerm))
	require.Equal(t, "abc", decodeFixedString([]byte("abc  "), PadSpacePad))
	require.Equal(t, "abcde", decodeFixedString([]byte("abcde"), PadNullTerm))
}

func TestFloat16Conversion(t *testing.T) {
	require.Equal(t, 1.0, float16ToFloat64(0x3C00))
	require.Equal(t, -2.0, float16ToFloat64(0xC000))
	require.Equal(t, 0.0, float16ToFloat64(0x0000))
	require.True(t, math.IsInf(float16ToFloat64(0x7C00), 1))
	require.True(t, math.IsNaN(float16ToFloat64(0x7C01)))
	// Smallest subnormal is 2^-24.
	require.InEpsilon(t, math.Pow(2, -24), float16ToFloat64(0x0001), 1e-12)
}

func TestDecodeElementsTruncated(t *testing.T) {
	dt, err := ParseDatatype(fixedIntType(4, true))
	require.NoError(t, err)

	_, err = decodeElements(nil, testSB(), dt, []byte{1, 2}, 1)
	require.ErrorContains(t, err, "truncated")
}
