package hfile

import (
	"errors"
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// LocalHeap is a "HEAP" structure holding the link names of a traditional
// group. Symbol table entries reference names by byte offset into the data
// segment.
type LocalHeap struct {
	Address uint64
	Data    []byte
}

// ReadLocalHeap loads a local heap header and its data segment.
func ReadLocalHeap(r utils.ReaderAt, address uint64, sb *Superblock) (*LocalHeap, error) {
	// Signature (4), version (1), reserved (3), data segment size
	// (length size), free list offset (length size), data segment address
	// (offset size).
	headerSize := 8 + 2*int(sb.LengthSize) + int(sb.OffsetSize)

	header := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(header)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(header, int64(address)); err != nil {
		return nil, utils.WrapError("local heap header read failed", err)
	}

	if string(header[0:4]) != "HEAP" {
		return nil, fmt.Errorf("invalid local heap signature at 0x%X: %q", address, header[0:4])
	}

	pos := 8
	segmentSize := readUint(header[pos:], sb.LengthSize, sb.Endianness)
	pos += 2 * int(sb.LengthSize) // skip free list offset
	segmentAddr := readUint(header[pos:], sb.OffsetSize, sb.Endianness)

	if err := utils.ValidateBufferSize(segmentSize, utils.MaxChunkSize, "local heap data segment"); err != nil {
		return nil, err
	}

	heap := &LocalHeap{Address: address, Data: make([]byte, segmentSize)}
	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(heap.Data, int64(segmentAddr)); err != nil {
		return nil, utils.WrapError("local heap data read failed", err)
	}
	return heap, nil
}

// Name returns the null-terminated string stored at a data segment offset.
func (h *LocalHeap) Name(offset uint64) (string, error) {
	if offset >= uint64(len(h.Data)) {
		return "", errors.New("name offset beyond heap data")
	}
	end := offset
	for end < uint64(len(h.Data)) && h.Data[end] != 0 {
		end++
	}
	if end >= uint64(len(h.Data)) {
		return "", errors.New("heap name not null-terminated")
	}
	return string(h.Data[offset:end]), nil
}
