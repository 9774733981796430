package hfile

import (
	"errors"
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// SymbolTable is a decoded symbol table message: the B-tree and local heap
// addresses of a traditional group.
type SymbolTable struct {
	BTreeAddress uint64
	HeapAddress  uint64
}

// ParseSymbolTable decodes a symbol table message payload.
func ParseSymbolTable(data []byte, sb *Superblock) (*SymbolTable, error) {
	if len(data) < 2*int(sb.OffsetSize) {
		return nil, errors.New("symbol table message too short")
	}
	return &SymbolTable{
		BTreeAddress: readUint(data, sb.OffsetSize, sb.Endianness),
		HeapAddress:  readUint(data[sb.OffsetSize:], sb.OffsetSize, sb.Endianness),
	}, nil
}

// SymbolEntry is one entry of a symbol table node. The scratch pad of
// cache type 1 entries carries the child group's B-tree and heap addresses.
type SymbolEntry struct {
	NameOffset    uint64
	ObjectAddress uint64
	CacheType     uint32
}

// ReadSymbolNode parses an "SNOD" node into its entries.
func ReadSymbolNode(r utils.ReaderAt, address uint64, sb *Superblock) ([]SymbolEntry, error) {
	header := utils.GetBuffer(8)
	defer utils.ReleaseBuffer(header)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(header, int64(address)); err != nil {
		return nil, utils.WrapError("symbol node read failed", err)
	}
	if string(header[0:4]) != "SNOD" {
		return nil, fmt.Errorf("invalid symbol node signature at 0x%X: %q", address, header[0:4])
	}
	if header[4] != 1 {
		return nil, fmt.Errorf("unsupported symbol node version: %d", header[4])
	}

	numSymbols := int(sb.Endianness.Uint16(header[6:8]))
	if numSymbols == 0 {
		return nil, nil
	}

	// Entry: name offset, object header address, cache type (4), reserved
	// (4), scratch pad (16).
	entrySize := 2*int(sb.OffsetSize) + 24
	data := utils.GetBuffer(numSymbols * entrySize)
	defer utils.ReleaseBuffer(data)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(data, int64(address)+8); err != nil {
		return nil, utils.WrapError("symbol node entries read failed", err)
	}

	entries := make([]SymbolEntry, 0, numSymbols)
	pos := 0
	for i := 0; i < numSymbols; i++ {
		entry := SymbolEntry{
			NameOffset:    readUint(data[pos:], sb.OffsetSize, sb.Endianness),
			ObjectAddress: readUint(data[pos+int(sb.OffsetSize):], sb.OffsetSize, sb.Endianness),
			CacheType:     sb.Endianness.Uint32(data[pos+2*int(sb.OffsetSize):]),
		}
		entries = append(entries, entry)
		pos += entrySize
	}
	return entries, nil
}
