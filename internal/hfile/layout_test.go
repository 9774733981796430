package hfile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLayoutV3Contiguous(t *testing.T) {
	buf := make([]byte, 2+8+8)
	buf[0] = 3
	buf[1] = byte(LayoutContiguous)
	binary.LittleEndian.PutUint64(buf[2:], 0x800)
	binary.LittleEndian.PutUint64(buf[10:], 4096)

	l, err := ParseLayout(buf, testSB())
	require.NoError(t, err)
	require.Equal(t, LayoutContiguous, l.Class)
	require.Equal(t, uint64(0x800), l.Address)
	require.Equal(t, uint64(4096), l.Size)
}

func TestParseLayoutV3Chunked(t *testing.T) {
	// Rank 2 dataset: the stored rank counts the trailing element-size
	// dimension, so three 4-byte dims follow the B-tree address.
	buf := make([]byte, 3+8+3*4)
	buf[0] = 3
	buf[1] = byte(LayoutChunked)
	buf[2] = 3
	binary.LittleEndian.PutUint64(buf[3:], 0x1000)
	binary.LittleEndian.PutUint32(buf[11:], 10)
	binary.LittleEndian.PutUint32(buf[15:], 20)
	binary.LittleEndian.PutUint32(buf[19:], 8)

	l, err := ParseLayout(buf, testSB())
	require.NoError(t, err)
	require.Equal(t, LayoutChunked, l.Class)
	require.Equal(t, uint64(0x1000), l.Address)
	require.Equal(t, []uint64{10, 20, 8}, l.ChunkDims)
	require.Equal(t, []uint64{10, 20}, l.ChunkShape(2))
}

func TestParseLayoutV3Compact(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	buf := make([]byte, 4, 4+len(payload))
	buf[0] = 3
	buf[1] = byte(LayoutCompact)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(payload)))
	buf = append(buf, payload...)

	l, err := ParseLayout(buf, testSB())
	require.NoError(t, err)
	require.Equal(t, LayoutCompact, l.Class)
	require.Equal(t, payload, l.Compact)
}

func TestParseLayoutUnsupportedVersion(t *testing.T) {
	_, err := ParseLayout([]byte{9, 0}, testSB())
	require.ErrorContains(t, err, "unsupported data layout version")
}
