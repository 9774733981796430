package hfile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSB() *Superblock {
	return &Superblock{
		Version:    0,
		OffsetSize: 8,
		LengthSize: 8,
		Endianness: binary.LittleEndian,
	}
}

func TestParseDataspaceV1Simple(t *testing.T) {
	buf := make([]byte, 8+4*8)
	buf[0] = 1 // version
	buf[1] = 2 // rank
	buf[2] = 1 // max dims present
	binary.LittleEndian.PutUint64(buf[8:], 3)
	binary.LittleEndian.PutUint64(buf[16:], 4)
	binary.LittleEndian.PutUint64(buf[24:], 3)
	binary.LittleEndian.PutUint64(buf[32:], UndefinedAddress)

	ds, err := ParseDataspace(buf, testSB())
	require.NoError(t, err)
	require.Equal(t, DataspaceSimple, ds.Kind)
	require.Equal(t, []uint64{3, 4}, ds.Dims)
	require.Equal(t, uint64(12), ds.TotalElements())
	require.False(t, ds.IsScalar())
}

func TestParseDataspaceV2Scalar(t *testing.T) {
	ds, err := ParseDataspace([]byte{2, 0, 0, 0}, testSB())
	require.NoError(t, err)
	require.True(t, ds.IsScalar())
	require.Equal(t, uint64(1), ds.TotalElements())
	require.Empty(t, ds.Dims)
}

func TestParseDataspaceV2Null(t *testing.T) {
	ds, err := ParseDataspace([]byte{2, 0, 0, 2}, testSB())
	require.NoError(t, err)
	require.Equal(t, DataspaceNull, ds.Kind)
	require.Equal(t, uint64(0), ds.TotalElements())
}

func TestParseDataspaceV2OneDim(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = 2
	buf[1] = 1
	buf[3] = 1 // simple
	binary.LittleEndian.PutUint64(buf[4:], 100)

	ds, err := ParseDataspace(buf, testSB())
	require.NoError(t, err)
	require.Equal(t, []uint64{100}, ds.Dims)
}
