package hfile

import (
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// v2 B-tree record types used by dense storage.
const (
	btree2RecordLinkName uint8 = 5
	btree2RecordAttrName uint8 = 8
)

// btree2Header is the "BTHD" header of a v2 B-tree.
type btree2Header struct {
	Type          uint8
	NodeSize      uint32
	RecordSize    uint16
	Depth         uint16
	RootAddress   uint64
	RootRecordNum uint16
}

func readBTree2Header(r utils.ReaderAt, address uint64, sb *Superblock) (*btree2Header, error) {
	size := 16 + int(sb.OffsetSize) + 14
	buf := utils.GetBuffer(size)
	defer utils.ReleaseBuffer(buf)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("v2 B-tree header read failed", err)
	}
	if string(buf[0:4]) != "BTHD" {
		return nil, fmt.Errorf("invalid v2 B-tree signature at 0x%X: %q", address, buf[0:4])
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("unsupported v2 B-tree version: %d", buf[4])
	}

	h := &btree2Header{Type: buf[5]}
	pos := 6
	h.NodeSize = sb.Endianness.Uint32(buf[pos:])
	pos += 4
	h.RecordSize = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	h.Depth = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	pos += 2 // split and merge percent
	h.RootAddress = readUint(buf[pos:], sb.OffsetSize, sb.Endianness)
	pos += int(sb.OffsetSize)
	h.RootRecordNum = sb.Endianness.Uint16(buf[pos:])
	return h, nil
}

// CollectHeapIDs walks a dense-storage v2 B-tree and returns the fractal
// heap IDs of all its records. Record types 5 (link names) and 8
// (attribute names) are understood; the heap ID position within a record
// differs between them.
//
// NWB metadata counts keep these trees at depth 0, a single root leaf.
func CollectHeapIDs(r utils.ReaderAt, address uint64, sb *Superblock) ([][]byte, error) {
	header, err := readBTree2Header(r, address, sb)
	if err != nil {
		return nil, err
	}
	if header.RootRecordNum == 0 || header.RootAddress == UndefinedAddress {
		return nil, nil
	}
	if header.Depth != 0 {
		return nil, fmt.Errorf("v2 B-tree depth %d not supported", header.Depth)
	}
	return readBTree2Leaf(r, header, header.RootAddress, header.RootRecordNum, sb)
}

func readBTree2Leaf(r utils.ReaderAt, header *btree2Header, address uint64, numRecords uint16, sb *Superblock) ([][]byte, error) {
	size := 6 + int(numRecords)*int(header.RecordSize) + 4
	buf := make([]byte, size)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("v2 B-tree leaf read failed", err)
	}
	if string(buf[0:4]) != "BTLF" {
		return nil, fmt.Errorf("invalid v2 B-tree leaf signature at 0x%X: %q", address, buf[0:4])
	}

	// Record layouts (HDF5 spec III.A.2):
	//   type 5: hash (4), heap ID (7)
	//   type 8: heap ID (8), message flags (1), creation order (4), hash (4)
	var idOffset, idLength int
	switch header.Type {
	case btree2RecordLinkName:
		idOffset, idLength = 4, 7
	case btree2RecordAttrName:
		idOffset, idLength = 0, 8
	default:
		return nil, fmt.Errorf("unsupported v2 B-tree record type: %d", header.Type)
	}
	if idOffset+idLength > int(header.RecordSize) {
		return nil, fmt.Errorf("record size %d too small for type %d", header.RecordSize, header.Type)
	}

	ids := make([][]byte, 0, numRecords)
	pos := 6
	for i := uint16(0); i < numRecords; i++ {
		id := make([]byte, idLength)
		copy(id, buf[pos+idOffset:pos+idOffset+idLength])
		ids = append(ids, id)
		pos += int(header.RecordSize)
	}
	return ids, nil
}
