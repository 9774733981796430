package hfile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// HDF5 file signature and supported superblock versions.
const (
	Signature = "\x89HDF\r\n\x1a\n"
	Version0  = 0
	Version2  = 2
	Version3  = 3
)

// UndefinedAddress marks "no address" fields throughout the format.
const UndefinedAddress = 0xFFFFFFFFFFFFFFFF

// Superblock holds the file-level metadata every other structure hangs off.
type Superblock struct {
	Version     uint8
	OffsetSize  uint8
	LengthSize  uint8
	BaseAddress uint64
	// RootAddress is the root group object header address. For version 0
	// files written before object headers were mandatory it may instead be
	// the root group B-tree address.
	RootAddress uint64
	Endianness  binary.ByteOrder
	// RootBTree and RootHeap come from the version 0 root symbol table
	// entry scratch pad when present, so the root group can be walked
	// without re-parsing its symbol table message.
	RootBTree uint64
	RootHeap  uint64
}

// ReadSuperblock parses the superblock at offset 0. Versions 0, 2 and 3
// are supported, which covers h5py-written NWB files (v0) and files written
// with newer library defaults (v2/v3).
func ReadSuperblock(r utils.ReaderAt) (*Superblock, error) {
	buf := utils.GetBuffer(128)
	defer utils.ReleaseBuffer(buf)

	n, err := r.ReadAt(buf, 0)
	if n < 48 {
		if err != nil {
			return nil, utils.WrapError("superblock read failed", err)
		}
		return nil, errors.New("file too small to contain a superblock")
	}

	if string(buf[:8]) != Signature {
		return nil, errors.New("invalid HDF5 signature")
	}

	version := buf[8]
	if version != Version0 && version != Version2 && version != Version3 {
		return nil, fmt.Errorf("unsupported superblock version: %d", version)
	}

	var endianness binary.ByteOrder
	var offsetSize, lengthSize uint8

	if version == Version0 {
		offsetSize = buf[13]
		lengthSize = buf[14]
		endianness = binary.LittleEndian
	} else {
		// Byte 9 carries flags; bit 0 selects endianness.
		if buf[9]&0x01 == 0 {
			endianness = binary.LittleEndian
		} else {
			endianness = binary.BigEndian
		}

		// Byte 10 is either a direct size in bytes (1/2/4/8) or packed
		// 4-bit size codes, depending on the writing library.
		sizesByte := buf[10]
		switch sizesByte {
		case 1, 2, 4, 8:
			offsetSize = sizesByte
			lengthSize = 8
		default:
			codes := map[uint8]uint8{0: 1, 1: 2, 2: 4, 3: 8}
			var ok bool
			offsetSize, ok = codes[sizesByte&0x0F]
			if !ok {
				return nil, fmt.Errorf("invalid offset size code: %d", sizesByte&0x0F)
			}
			lengthSize, ok = codes[(sizesByte>>4)&0x0F]
			if !ok {
				return nil, fmt.Errorf("invalid length size code: %d", (sizesByte>>4)&0x0F)
			}
		}
	}

	if offsetSize == 0 {
		offsetSize = 8
	}
	if lengthSize == 0 {
		lengthSize = 8
	}
	switch offsetSize {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("invalid offset size: %d", offsetSize)
	}
	switch lengthSize {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("invalid length size: %d", lengthSize)
	}

	readValue := func(offset int, size uint8) (uint64, error) {
		if offset < 0 || offset+int(size) > len(buf) {
			return 0, fmt.Errorf("superblock field out of range: offset=%d, size=%d", offset, size)
		}
		data := buf[offset : offset+int(size)]
		switch size {
		case 1:
			return uint64(data[0]), nil
		case 2:
			return uint64(endianness.Uint16(data)), nil
		case 4:
			return uint64(endianness.Uint32(data)), nil
		default:
			return endianness.Uint64(data), nil
		}
	}

	sb := &Superblock{
		Version:    version,
		OffsetSize: offsetSize,
		LengthSize: lengthSize,
		Endianness: endianness,
	}

	if version == Version0 {
		// Version 0 layout after the 24-byte header: base address, free
		// space address, end-of-file address, driver info address (one
		// offset each), then the root group symbol table entry:
		// link name offset, object header address, cache type (4), reserved
		// (4), scratch pad (16 bytes caching the B-tree and heap addresses).
		entry := 24 + 4*int(offsetSize)
		objectHeader := entry + int(offsetSize)

		sb.RootAddress, err = readValue(objectHeader, offsetSize)
		if err != nil {
			return nil, utils.WrapError("root object header address read failed", err)
		}

		scratch := entry + 2*int(offsetSize) + 8
		sb.RootBTree, _ = readValue(scratch, offsetSize)
		sb.RootHeap, _ = readValue(scratch+int(offsetSize), offsetSize)

		// Files without a root object header address fall back to walking
		// the cached B-tree directly.
		if sb.RootAddress == 0 {
			sb.RootAddress = sb.RootBTree
		}
	} else {
		current := 12

		sb.BaseAddress, err = readValue(current, offsetSize)
		if err != nil {
			return nil, utils.WrapError("base address read failed", err)
		}
		current += int(offsetSize)

		// Superblock extension address, unused on the read path.
		current += int(offsetSize)

		// End-of-file address.
		current += int(offsetSize)

		sb.RootAddress, err = readValue(current, offsetSize)
		if err != nil {
			return nil, utils.WrapError("root group address read failed", err)
		}
	}

	if sb.RootAddress == 0 || sb.RootAddress == UndefinedAddress {
		return nil, errors.New("superblock has no root group address")
	}

	return sb, nil
}
