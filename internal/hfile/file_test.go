package hfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// miniFile assembles a version 0 file whose root group stores two links
// through a symbol table: superblock, root object header, group B-tree,
// SNOD and local heap.
func miniFile() []byte {
	file := make([]byte, 0x400)

	copy(file, Signature)
	file[13] = 8
	file[14] = 8
	binary.LittleEndian.PutUint64(file[32:], UndefinedAddress)
	binary.LittleEndian.PutUint64(file[40:], uint64(len(file)))
	binary.LittleEndian.PutUint64(file[48:], UndefinedAddress)
	binary.LittleEndian.PutUint64(file[64:], 0x300) // root object header
	binary.LittleEndian.PutUint64(file[80:], 0x100) // scratch: B-tree
	binary.LittleEndian.PutUint64(file[88:], 0x340) // scratch: heap

	// Group B-tree leaf with one SNOD child.
	copy(file[0x100:], "TREE")
	file[0x104] = btreeNodeGroup
	binary.LittleEndian.PutUint16(file[0x106:], 1)
	binary.LittleEndian.PutUint64(file[0x108:], UndefinedAddress)
	binary.LittleEndian.PutUint64(file[0x110:], UndefinedAddress)
	binary.LittleEndian.PutUint64(file[0x120:], 0x200) // child 0

	// SNOD with two entries.
	copy(file[0x200:], "SNOD")
	file[0x204] = 1
	binary.LittleEndian.PutUint16(file[0x206:], 2)
	binary.LittleEndian.PutUint64(file[0x208:], 1) // name offset "alpha"
	binary.LittleEndian.PutUint64(file[0x210:], 0x111)
	binary.LittleEndian.PutUint64(file[0x230:], 7) // name offset "beta"
	binary.LittleEndian.PutUint64(file[0x238:], 0x222)

	// Version 1 object header with a single symbol table message.
	file[0x300] = 1
	binary.LittleEndian.PutUint16(file[0x302:], 1)  // message count
	binary.LittleEndian.PutUint32(file[0x308:], 24) // header data size
	binary.LittleEndian.PutUint16(file[0x310:], uint16(MsgSymbolTable))
	binary.LittleEndian.PutUint16(file[0x312:], 16)
	binary.LittleEndian.PutUint64(file[0x318:], 0x100)
	binary.LittleEndian.PutUint64(file[0x320:], 0x340)

	// Local heap with a data segment holding the two link names.
	copy(file[0x340:], "HEAP")
	binary.LittleEndian.PutUint64(file[0x348:], 32)    // segment size
	binary.LittleEndian.PutUint64(file[0x358:], 0x380) // segment address
	copy(file[0x381:], "alpha\x00")
	copy(file[0x387:], "beta\x00")

	return file
}

func TestOpenAndWalkRoot(t *testing.T) {
	f, err := Open(bytes.NewReader(miniFile()))
	require.NoError(t, err)

	root, err := f.Root()
	require.NoError(t, err)
	require.Equal(t, KindGroup, root.Kind())
	require.Equal(t, "/", root.Name)

	links, err := root.Links()
	require.NoError(t, err)
	require.Len(t, links, 2)
	require.Equal(t, "alpha", links[0].Name)
	require.Equal(t, "beta", links[1].Name)
}

func TestObjectAtCachesHeaders(t *testing.T) {
	f, err := Open(bytes.NewReader(miniFile()))
	require.NoError(t, err)

	first, err := f.ObjectAt(0x300, "a")
	require.NoError(t, err)
	second, err := f.ObjectAt(0x300, "b")
	require.NoError(t, err)
	require.Same(t, first.header, second.header)
}

func TestObjectAtRejectsUndefinedAddress(t *testing.T) {
	f, err := Open(bytes.NewReader(miniFile()))
	require.NoError(t, err)

	_, err = f.ObjectAt(UndefinedAddress, "missing")
	require.ErrorContains(t, err, "undefined address")
}

func TestChildResolvesMissingName(t *testing.T) {
	f, err := Open(bytes.NewReader(miniFile()))
	require.NoError(t, err)

	root, err := f.Root()
	require.NoError(t, err)
	_, err = root.Child("gamma")
	require.ErrorContains(t, err, `no child named "gamma"`)
}
