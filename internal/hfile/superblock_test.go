package hfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadSuperblockV0(t *testing.T) {
	buf := make([]byte, 96)
	copy(buf, Signature)
	buf[13] = 8 // offset size
	buf[14] = 8 // length size
	binary.LittleEndian.PutUint64(buf[32:], UndefinedAddress) // free space
	binary.LittleEndian.PutUint64(buf[40:], 96)               // end of file
	binary.LittleEndian.PutUint64(buf[48:], UndefinedAddress) // driver info
	binary.LittleEndian.PutUint64(buf[64:], 0x60)             // root object header
	binary.LittleEndian.PutUint64(buf[80:], 0x88)             // scratch: B-tree
	binary.LittleEndian.PutUint64(buf[88:], 0x90)             // scratch: heap

	sb, err := ReadSuperblock(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, uint8(0), sb.Version)
	require.Equal(t, uint8(8), sb.OffsetSize)
	require.Equal(t, uint8(8), sb.LengthSize)
	require.Equal(t, uint64(0x60), sb.RootAddress)
	require.Equal(t, uint64(0x88), sb.RootBTree)
	require.Equal(t, uint64(0x90), sb.RootHeap)
}

func TestReadSuperblockV2(t *testing.T) {
	buf := make([]byte, 64)
	copy(buf, Signature)
	buf[8] = 2
	buf[9] = 0
	buf[10] = 8
	binary.LittleEndian.PutUint64(buf[12:], 0)                // base address
	binary.LittleEndian.PutUint64(buf[20:], UndefinedAddress) // extension
	binary.LittleEndian.PutUint64(buf[28:], 64)               // end of file
	binary.LittleEndian.PutUint64(buf[36:], 0x30)             // root group

	sb, err := ReadSuperblock(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, uint8(2), sb.Version)
	require.Equal(t, uint64(0x30), sb.RootAddress)
	require.Equal(t, binary.ByteOrder(binary.LittleEndian), sb.Endianness)
}

func TestReadSuperblockRejectsBadSignature(t *testing.T) {
	buf := make([]byte, 64)
	copy(buf, "NOTHDF5!")
	_, err := ReadSuperblock(bytes.NewReader(buf))
	require.ErrorContains(t, err, "signature")
}

func TestReadSuperblockRejectsTruncatedFile(t *testing.T) {
	_, err := ReadSuperblock(bytes.NewReader([]byte(Signature)))
	require.Error(t, err)
}
