package hfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// scalarIntAttribute builds a version 1 attribute message named "count"
// holding a scalar int32.
func scalarIntAttribute(value int32) []byte {
	name := []byte("count\x00")
	datatype := fixedIntType(4, true)
	dataspace := make([]byte, 8)
	dataspace[0] = 1 // version 1, rank 0

	buf := make([]byte, 8)
	buf[0] = 1
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(name)))
	binary.LittleEndian.PutUint16(buf[4:], uint16(len(datatype)))
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(dataspace)))

	pad8 := func(b []byte) []byte {
		for len(b)%8 != 0 {
			b = append(b, 0)
		}
		return b
	}
	buf = append(buf, pad8(name)...)
	buf = append(buf, pad8(datatype)...)
	buf = append(buf, pad8(dataspace)...)
	return binary.LittleEndian.AppendUint32(buf, uint32(value))
}

func TestParseAttributeV1(t *testing.T) {
	attr, err := ParseAttribute(scalarIntAttribute(7), testSB())
	require.NoError(t, err)
	require.Equal(t, "count", attr.Name)
	require.Equal(t, ClassFixed, attr.Datatype.Class)
	require.True(t, attr.Dataspace.IsScalar())
	require.Len(t, attr.Data, 4)
}

func TestAttributeDecodeScalar(t *testing.T) {
	attr, err := ParseAttribute(scalarIntAttribute(-3), testSB())
	require.NoError(t, err)

	value, err := attr.Decode(bytes.NewReader(nil), testSB())
	require.NoError(t, err)
	require.Equal(t, int64(-3), value)
}

func TestParseAttributeRejectsSharedDatatype(t *testing.T) {
	msg := scalarIntAttribute(0)
	msg[1] = 0x01
	_, err := ParseAttribute(msg, testSB())
	require.ErrorContains(t, err, "shared")
}

func TestCollectAttributesCompact(t *testing.T) {
	messages := []*Message{
		{Type: MsgAttribute, Data: scalarIntAttribute(5)},
		{Type: MsgModTime, Data: []byte{0, 0, 0, 0}},
	}

	attrs, err := CollectAttributes(bytes.NewReader(nil), messages, testSB())
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	require.Equal(t, "count", attrs[0].Name)
}

func TestCollectAttributesSkipsUnparseable(t *testing.T) {
	messages := []*Message{
		{Type: MsgAttribute, Data: []byte{9, 9}},
		{Type: MsgAttribute, Data: scalarIntAttribute(1)},
	}

	attrs, err := CollectAttributes(bytes.NewReader(nil), messages, testSB())
	require.NoError(t, err)
	require.Len(t, attrs, 1)
}
