package hfile

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

var globalHeapSignature = [4]byte{'G', 'C', 'O', 'L'}

// GlobalHeap is one "GCOL" collection. Variable-length strings point into
// these collections, so files with string data have at least one.
type GlobalHeap struct {
	Address uint64
	Size    uint64
	objects map[uint16][]byte
}

// VlenRef is a variable-length element as stored in dataset or attribute
// payloads: the element byte length followed by a global heap ID.
type VlenRef struct {
	Size  uint32
	Addr  uint64
	Index uint32
}

// VlenRefSize is the stored size of one variable-length element.
func VlenRefSize(sb *Superblock) int {
	return 4 + int(sb.OffsetSize) + 4
}

// ParseVlenRef decodes one variable-length element reference.
func ParseVlenRef(data []byte, sb *Superblock) (VlenRef, error) {
	if len(data) < VlenRefSize(sb) {
		return VlenRef{}, fmt.Errorf("variable-length reference truncated: %d bytes", len(data))
	}
	ref := VlenRef{Size: binary.LittleEndian.Uint32(data)}
	ref.Addr = readUint(data[4:], sb.OffsetSize, sb.Endianness)
	ref.Index = binary.LittleEndian.Uint32(data[4+int(sb.OffsetSize):])
	return ref, nil
}

// ReadGlobalHeap loads a collection and indexes its objects. Object 0 marks
// the free space at the end of the collection.
func ReadGlobalHeap(r utils.ReaderAt, address uint64, sb *Superblock) (*GlobalHeap, error) {
	headerSize := 8 + int(sb.LengthSize)
	header := make([]byte, headerSize)
	if _, err := r.ReadAt(header, int64(address)); err != nil { //nolint:gosec // G115
		return nil, utils.WrapError("reading global heap header", err)
	}

	if [4]byte(header[0:4]) != globalHeapSignature {
		return nil, fmt.Errorf("invalid global heap signature at 0x%X: %q", address, header[0:4])
	}
	if header[4] != 1 {
		return nil, fmt.Errorf("unsupported global heap version: %d", header[4])
	}

	size := readUint(header[8:], sb.LengthSize, sb.Endianness)
	if size < uint64(headerSize) {
		return nil, fmt.Errorf("global heap collection size %d too small", size)
	}
	if err := utils.ValidateBufferSize(size, utils.MaxChunkSize, "global heap collection"); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, int64(address)); err != nil { //nolint:gosec // G115
		return nil, utils.WrapError("reading global heap collection", err)
	}

	heap := &GlobalHeap{
		Address: address,
		Size:    size,
		objects: make(map[uint16][]byte),
	}

	objHeaderSize := 8 + int(sb.LengthSize)
	offset := headerSize
	for offset+objHeaderSize <= len(buf) {
		id := binary.LittleEndian.Uint16(buf[offset:])
		if id == 0 {
			// Free space runs to the end of the collection.
			break
		}
		objSize := readUint(buf[offset+8:], sb.LengthSize, sb.Endianness)
		dataStart := offset + objHeaderSize
		if uint64(dataStart)+objSize > uint64(len(buf)) {
			return nil, fmt.Errorf("global heap object %d extends beyond collection", id)
		}
		heap.objects[id] = buf[dataStart : dataStart+int(objSize)]

		advance := objSize
		if advance%8 != 0 {
			advance += 8 - advance%8
		}
		offset = dataStart + int(advance)
	}

	return heap, nil
}

// Object returns the payload stored under an object index.
func (gh *GlobalHeap) Object(index uint32) ([]byte, error) {
	data, ok := gh.objects[uint16(index)] //nolint:gosec // G115: index space is 16 bits
	if !ok {
		return nil, fmt.Errorf("global heap object %d not found in collection at 0x%X", index, gh.Address)
	}
	return data, nil
}
