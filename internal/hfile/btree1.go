package hfile

import (
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// B-tree v1 node types.
const (
	btreeNodeGroup uint8 = 0
	btreeNodeChunk uint8 = 1
)

// btree1Header is the fixed part shared by group and chunk nodes.
type btree1Header struct {
	NodeType uint8
	Level    uint8
	Entries  uint16
}

func readBTree1Header(r utils.ReaderAt, address uint64, sb *Superblock) (btree1Header, int, error) {
	headerSize := 8 + 2*int(sb.OffsetSize)
	buf := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(buf)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return btree1Header{}, 0, utils.WrapError("B-tree node read failed", err)
	}
	if string(buf[0:4]) != "TREE" {
		return btree1Header{}, 0, fmt.Errorf("invalid B-tree signature at 0x%X: %q", address, buf[0:4])
	}
	return btree1Header{
		NodeType: buf[4],
		Level:    buf[5],
		Entries:  sb.Endianness.Uint16(buf[6:8]),
	}, headerSize, nil
}

// WalkGroupBTree collects the symbol entries of a traditional group by
// walking its v1 B-tree down to the SNOD leaves. Internal levels recurse;
// unparseable SNOD children are skipped, matching what h5py tolerates.
func WalkGroupBTree(r utils.ReaderAt, address uint64, sb *Superblock) ([]SymbolEntry, error) {
	header, headerSize, err := readBTree1Header(r, address, sb)
	if err != nil {
		return nil, err
	}
	if header.NodeType != btreeNodeGroup {
		return nil, fmt.Errorf("expected group B-tree node, got type %d", header.NodeType)
	}
	if header.Entries == 0 {
		return nil, nil
	}

	// Keys (heap offsets) and children interleave: key 0, child 0, ...,
	// key N. Only the children matter for enumeration.
	dataSize := (2*int(header.Entries) + 1) * int(sb.OffsetSize)
	data := utils.GetBuffer(dataSize)
	defer utils.ReleaseBuffer(data)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(data, int64(address)+int64(headerSize)); err != nil {
		return nil, utils.WrapError("B-tree node data read failed", err)
	}

	var entries []SymbolEntry
	pos := int(sb.OffsetSize)
	for i := uint16(0); i < header.Entries; i++ {
		child := readUint(data[pos:], sb.OffsetSize, sb.Endianness)
		pos += 2 * int(sb.OffsetSize)
		if child == 0 || child == UndefinedAddress {
			continue
		}

		if header.Level > 0 {
			sub, err := WalkGroupBTree(r, child, sb)
			if err != nil {
				return nil, err
			}
			entries = append(entries, sub...)
			continue
		}

		nodeEntries, err := ReadSymbolNode(r, child, sb)
		if err != nil {
			continue
		}
		entries = append(entries, nodeEntries...)
	}
	return entries, nil
}

// Chunk is one raw data chunk located through the chunk B-tree. Scaled
// holds chunk indices per dimension; stored keys carry element offsets,
// which divide by the chunk dimensions.
type Chunk struct {
	Scaled     []uint64
	Size       uint32
	FilterMask uint32
	Address    uint64
}

// CollectChunks walks a v1 chunk B-tree and returns every chunk entry.
// chunkDims is the full stored dimension list including the trailing
// element-size entry; keys always store coordinates as 8-byte values.
func CollectChunks(r utils.ReaderAt, address uint64, chunkDims []uint64, sb *Superblock) ([]Chunk, error) {
	header, headerSize, err := readBTree1Header(r, address, sb)
	if err != nil {
		return nil, err
	}
	if header.NodeType != btreeNodeChunk {
		return nil, fmt.Errorf("expected chunk B-tree node, got type %d", header.NodeType)
	}
	if header.Entries == 0 {
		return nil, nil
	}

	ndims := len(chunkDims)
	keySize := 8 + ndims*8
	entrySize := keySize + int(sb.OffsetSize)
	dataSize := int(header.Entries)*entrySize + keySize

	data := make([]byte, dataSize)
	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(data, int64(address)+int64(headerSize)); err != nil {
		return nil, utils.WrapError("chunk B-tree data read failed", err)
	}

	var chunks []Chunk
	pos := 0
	for i := uint16(0); i < header.Entries; i++ {
		chunk := Chunk{
			Size:       sb.Endianness.Uint32(data[pos:]),
			FilterMask: sb.Endianness.Uint32(data[pos+4:]),
			Scaled:     make([]uint64, ndims),
		}
		pos += 8
		for j := 0; j < ndims; j++ {
			offset := sb.Endianness.Uint64(data[pos:])
			pos += 8
			if chunkDims[j] == 0 {
				return nil, fmt.Errorf("chunk dimension %d is zero", j)
			}
			chunk.Scaled[j] = offset / chunkDims[j]
		}
		chunk.Address = readUint(data[pos:], sb.OffsetSize, sb.Endianness)
		pos += int(sb.OffsetSize)

		if header.Level > 0 {
			sub, err := CollectChunks(r, chunk.Address, chunkDims, sb)
			if err != nil {
				return nil, fmt.Errorf("chunk B-tree child at 0x%X: %w", chunk.Address, err)
			}
			chunks = append(chunks, sub...)
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
