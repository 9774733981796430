package hfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLinkHard(t *testing.T) {
	data := []byte{1, 0, 3}
	data = append(data, []byte("foo")...)
	data = binary.LittleEndian.AppendUint64(data, 0x1234)

	link, err := ParseLink(data, testSB())
	require.NoError(t, err)
	require.Equal(t, "foo", link.Name)
	require.Equal(t, LinkHard, link.Kind)
	require.Equal(t, uint64(0x1234), link.Address)
}

func TestParseLinkSoft(t *testing.T) {
	target := "/acquisition/series"
	data := []byte{1, linkFlagTypeField, byte(LinkSoft), 5}
	data = append(data, []byte("alias")...)
	data = binary.LittleEndian.AppendUint16(data, uint16(len(target)))
	data = append(data, []byte(target)...)

	link, err := ParseLink(data, testSB())
	require.NoError(t, err)
	require.Equal(t, "alias", link.Name)
	require.Equal(t, LinkSoft, link.Kind)
	require.Equal(t, target, link.Target)
}

func TestParseLinkRejectsBadVersion(t *testing.T) {
	_, err := ParseLink([]byte{2, 0}, testSB())
	require.ErrorContains(t, err, "unsupported link message version")
}

// symbolTableFixture lays out a local heap, a one-entry group B-tree and
// an SNOD leaf the way h5py writes traditional groups.
func symbolTableFixture() []byte {
	file := make([]byte, 0x400)

	// Local heap header at 0x40, data segment at 0x80.
	copy(file[0x40:], "HEAP")
	binary.LittleEndian.PutUint64(file[0x48:], 32)   // segment size
	binary.LittleEndian.PutUint64(file[0x58:], 0x80) // segment address
	copy(file[0x81:], "alpha\x00")
	copy(file[0x87:], "beta\x00")

	// B-tree leaf at 0x100 with one SNOD child.
	copy(file[0x100:], "TREE")
	file[0x104] = btreeNodeGroup
	file[0x105] = 0 // level
	binary.LittleEndian.PutUint16(file[0x106:], 1)
	binary.LittleEndian.PutUint64(file[0x108:], UndefinedAddress) // left sibling
	binary.LittleEndian.PutUint64(file[0x110:], UndefinedAddress) // right sibling
	binary.LittleEndian.PutUint64(file[0x120:], 0x200)            // child 0

	// SNOD with two entries.
	copy(file[0x200:], "SNOD")
	file[0x204] = 1
	binary.LittleEndian.PutUint16(file[0x206:], 2)
	binary.LittleEndian.PutUint64(file[0x208:], 1) // name offset "alpha"
	binary.LittleEndian.PutUint64(file[0x210:], 0x111)
	binary.LittleEndian.PutUint64(file[0x230:], 7) // name offset "beta"
	binary.LittleEndian.PutUint64(file[0x238:], 0x222)

	return file
}

func TestCollectSymbolTableLinks(t *testing.T) {
	r := bytes.NewReader(symbolTableFixture())

	links, err := collectSymbolTableLinks(r, 0x100, 0x40, testSB())
	require.NoError(t, err)
	require.Len(t, links, 2)
	require.Equal(t, "alpha", links[0].Name)
	require.Equal(t, uint64(0x111), links[0].Address)
	require.Equal(t, "beta", links[1].Name)
	require.Equal(t, uint64(0x222), links[1].Address)
}

func TestCollectSymbolTableLinksUndefinedAddresses(t *testing.T) {
	links, err := collectSymbolTableLinks(nil, UndefinedAddress, UndefinedAddress, testSB())
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestWalkGroupBTreeRejectsChunkNode(t *testing.T) {
	file := make([]byte, 0x40)
	copy(file, "TREE")
	file[4] = btreeNodeChunk

	_, err := WalkGroupBTree(bytes.NewReader(file), 0, testSB())
	require.ErrorContains(t, err, "expected group B-tree node")
}

func TestLocalHeapName(t *testing.T) {
	heap := &LocalHeap{Data: []byte("\x00alpha\x00")}

	name, err := heap.Name(1)
	require.NoError(t, err)
	require.Equal(t, "alpha", name)

	_, err = heap.Name(100)
	require.Error(t, err)
}

func TestFractalHeapTinyObject(t *testing.T) {
	fh := &FractalHeap{sb: testSB()}
	id := append([]byte{0x10}, []byte("link")...)

	data, err := fh.ReadObject(id)
	require.NoError(t, err)
	require.Equal(t, []byte("link"), data)
}

func TestFractalHeapRejectsBadVersion(t *testing.T) {
	fh := &FractalHeap{sb: testSB()}
	_, err := fh.ReadObject([]byte{0x40})
	require.ErrorContains(t, err, "unsupported heap ID version")
}
