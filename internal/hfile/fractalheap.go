package hfile

import (
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// Heap ID types, bits 4-5 of the leading flag byte.
const (
	heapIDManaged uint8 = 0x00
	heapIDTiny    uint8 = 0x10
	heapIDHuge    uint8 = 0x20
)

// FractalHeap reads managed and tiny objects out of an "FRHP" heap. Dense
// groups and dense attributes both store their records here, keyed by the
// heap IDs held in a v2 B-tree.
type FractalHeap struct {
	r  utils.ReaderAt
	sb *Superblock

	address            uint64
	heapIDLen          uint16
	ioFiltersLen       uint16
	checksumBlocks     bool
	maxManagedObjSize  uint32
	tableWidth         uint16
	startingBlockSize  uint64
	maxDirectBlockSize uint64
	maxHeapSize        uint16
	rootBlockAddress   uint64
	rootRows           uint16

	heapOffsetSize uint8
	heapLengthSize uint8
}

// OpenFractalHeap parses the heap header at the given address.
func OpenFractalHeap(r utils.ReaderAt, address uint64, sb *Superblock) (*FractalHeap, error) {
	if address == 0 || address == UndefinedAddress {
		return nil, fmt.Errorf("invalid fractal heap address: 0x%X", address)
	}

	sizeofSize := int(sb.LengthSize)
	sizeofAddr := int(sb.OffsetSize)
	headerSize := 22 + 12*sizeofSize + 3*sizeofAddr

	buf := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(buf)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("fractal heap header read failed", err)
	}
	if string(buf[0:4]) != "FRHP" {
		return nil, fmt.Errorf("invalid fractal heap signature at 0x%X: %q", address, buf[0:4])
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("unsupported fractal heap version: %d", buf[4])
	}

	fh := &FractalHeap{r: r, sb: sb, address: address}
	pos := 5

	fh.heapIDLen = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	fh.ioFiltersLen = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	fh.checksumBlocks = buf[pos]&0x02 != 0
	pos++
	fh.maxManagedObjSize = sb.Endianness.Uint32(buf[pos:])
	pos += 4

	// Huge object bookkeeping and managed/huge/tiny statistics, unused on
	// the read path.
	pos += 2*sizeofSize + 2*sizeofAddr + 6*sizeofSize

	fh.tableWidth = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	fh.startingBlockSize = readUint(buf[pos:], sb.LengthSize, sb.Endianness)
	pos += sizeofSize
	fh.maxDirectBlockSize = readUint(buf[pos:], sb.LengthSize, sb.Endianness)
	pos += sizeofSize
	fh.maxHeapSize = sb.Endianness.Uint16(buf[pos:])
	pos += 2
	pos += 2 // starting rows in root indirect block
	fh.rootBlockAddress = readUint(buf[pos:], sb.OffsetSize, sb.Endianness)
	pos += sizeofAddr
	fh.rootRows = sb.Endianness.Uint16(buf[pos:])

	fh.heapOffsetSize = uint8((fh.maxHeapSize + 7) / 8) //nolint:gosec // G115: bounded by format
	dirSize := bytesFor(fh.maxDirectBlockSize)
	objSize := bytesFor(uint64(fh.maxManagedObjSize))
	fh.heapLengthSize = dirSize
	if objSize < dirSize {
		fh.heapLengthSize = objSize
	}

	if fh.ioFiltersLen != 0 {
		return nil, fmt.Errorf("filtered fractal heaps not supported")
	}
	return fh, nil
}

// bytesFor is the number of bytes needed to store a value.
func bytesFor(v uint64) uint8 {
	if v == 0 {
		return 1
	}
	bits := 0
	for ; v > 0; v >>= 1 {
		bits++
	}
	return uint8((bits + 7) / 8) //nolint:gosec // G115: bits <= 64
}

// ReadObject resolves a heap ID to its stored bytes. Managed and tiny IDs
// are handled; huge objects do not occur in NWB metadata.
func (fh *FractalHeap) ReadObject(heapID []byte) ([]byte, error) {
	if len(heapID) == 0 {
		return nil, fmt.Errorf("empty heap ID")
	}
	if version := (heapID[0] & 0xC0) >> 6; version != 0 {
		return nil, fmt.Errorf("unsupported heap ID version: %d", version)
	}

	switch heapID[0] & 0x30 {
	case heapIDManaged:
		return fh.readManaged(heapID)
	case heapIDTiny:
		// Tiny objects inline their payload after the flag byte.
		data := make([]byte, len(heapID)-1)
		copy(data, heapID[1:])
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported heap ID type: 0x%02X", heapID[0]&0x30)
	}
}

func (fh *FractalHeap) readManaged(heapID []byte) ([]byte, error) {
	need := 1 + int(fh.heapOffsetSize) + int(fh.heapLengthSize)
	if len(heapID) < need {
		return nil, fmt.Errorf("heap ID too short for managed object: %d bytes, need %d", len(heapID), need)
	}

	offset := readUint(heapID[1:], fh.heapOffsetSize, fh.sb.Endianness)
	length := readUint(heapID[1+fh.heapOffsetSize:], fh.heapLengthSize, fh.sb.Endianness)
	if err := utils.ValidateBufferSize(length, utils.MaxAttributeSize, "fractal heap object"); err != nil {
		return nil, err
	}

	blockAddr, blockSize, blockOffset, err := fh.locateDirectBlock(offset)
	if err != nil {
		return nil, err
	}

	data, err := fh.readDirectBlock(blockAddr, blockSize)
	if err != nil {
		return nil, err
	}

	// Heap-space offsets count from the block start and include the block
	// prefix, so the raw block buffer indexes directly.
	if offset < blockOffset {
		return nil, fmt.Errorf("object offset 0x%X before block offset 0x%X", offset, blockOffset)
	}
	rel := offset - blockOffset
	if rel+length > uint64(len(data)) {
		return nil, fmt.Errorf("object extends beyond direct block: offset 0x%X, length %d, block size %d", rel, length, len(data))
	}

	obj := make([]byte, length)
	copy(obj, data[rel:rel+length])
	return obj, nil
}

// locateDirectBlock maps a heap-space offset to the direct block holding
// it: the root block directly, or through the root indirect block's
// doubling table. Nested indirect blocks never arise at NWB metadata
// sizes.
func (fh *FractalHeap) locateDirectBlock(offset uint64) (addr, size, blockOffset uint64, err error) {
	if fh.rootRows == 0 {
		return fh.rootBlockAddress, fh.startingBlockSize, 0, nil
	}

	entries, err := fh.readIndirectEntries()
	if err != nil {
		return 0, 0, 0, err
	}

	rowStart := uint64(0)
	entry := 0
	for row := uint16(0); row < fh.rowCount(); row++ {
		rowSize := fh.rowBlockSize(row)
		rowSpan := rowSize * uint64(fh.tableWidth)
		if offset < rowStart+rowSpan {
			col := (offset - rowStart) / rowSize
			idx := entry + int(col)
			if idx >= len(entries) || entries[idx] == UndefinedAddress || entries[idx] == 0 {
				return 0, 0, 0, fmt.Errorf("no direct block for heap offset 0x%X", offset)
			}
			return entries[idx], rowSize, rowStart + col*rowSize, nil
		}
		rowStart += rowSpan
		entry += int(fh.tableWidth)
	}
	return 0, 0, 0, fmt.Errorf("heap offset 0x%X beyond indirect block coverage", offset)
}

// rowCount is the number of direct-block rows in the root indirect block.
func (fh *FractalHeap) rowCount() uint16 {
	max := fh.maxDirectRows()
	if fh.rootRows < max {
		return fh.rootRows
	}
	return max
}

// maxDirectRows follows the doubling table: rows 0 and 1 share the
// starting block size, each later row doubles until the maximum direct
// block size.
func (fh *FractalHeap) maxDirectRows() uint16 {
	rows := uint16(2)
	for size := fh.startingBlockSize; size < fh.maxDirectBlockSize; size <<= 1 {
		rows++
	}
	return rows
}

// rowBlockSize follows the doubling table: rows 0 and 1 use the starting
// block size, each later row doubles.
func (fh *FractalHeap) rowBlockSize(row uint16) uint64 {
	if row < 2 {
		return fh.startingBlockSize
	}
	return fh.startingBlockSize << (row - 1)
}

// readIndirectEntries reads the direct-block child addresses of the root
// "FHIB" indirect block.
func (fh *FractalHeap) readIndirectEntries() ([]uint64, error) {
	headerSize := 5 + int(fh.sb.OffsetSize) + int(fh.heapOffsetSize)
	count := int(fh.rowCount()) * int(fh.tableWidth)
	total := headerSize + count*int(fh.sb.OffsetSize)

	buf := make([]byte, total)
	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := fh.r.ReadAt(buf, int64(fh.rootBlockAddress)); err != nil {
		return nil, utils.WrapError("indirect block read failed", err)
	}
	if string(buf[0:4]) != "FHIB" {
		return nil, fmt.Errorf("invalid indirect block signature at 0x%X: %q", fh.rootBlockAddress, buf[0:4])
	}

	entries := make([]uint64, count)
	pos := headerSize
	for i := 0; i < count; i++ {
		entries[i] = readUint(buf[pos:], fh.sb.OffsetSize, fh.sb.Endianness)
		pos += int(fh.sb.OffsetSize)
	}
	return entries, nil
}

// readDirectBlock reads an "FHDB" block whole. The prefix (signature,
// version, heap header address, block offset, optional checksum) stays in
// place because heap-space offsets account for it.
func (fh *FractalHeap) readDirectBlock(address, blockSize uint64) ([]byte, error) {
	if address == 0 || address == UndefinedAddress {
		return nil, fmt.Errorf("invalid direct block address: 0x%X", address)
	}
	if err := utils.ValidateBufferSize(blockSize, utils.MaxChunkSize, "fractal heap direct block"); err != nil {
		return nil, err
	}

	buf := make([]byte, blockSize)
	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := fh.r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("direct block read failed", err)
	}
	if string(buf[0:4]) != "FHDB" {
		return nil, fmt.Errorf("invalid direct block signature at 0x%X: %q", address, buf[0:4])
	}
	return buf, nil
}
