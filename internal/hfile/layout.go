package hfile

import (
	"errors"
	"fmt"
)

// LayoutClass represents the storage layout of a dataset.
type LayoutClass uint8

// Layout classes.
const (
	LayoutCompact    LayoutClass = 0
	LayoutContiguous LayoutClass = 1
	LayoutChunked    LayoutClass = 2
	LayoutVirtual    LayoutClass = 3
)

// Chunk index types used by version 4 chunked layouts.
const (
	ChunkIndexBTree1     uint8 = 0 // implied by layout versions 1-3
	ChunkIndexSingle     uint8 = 1
	ChunkIndexImplicit   uint8 = 2
	ChunkIndexFixed      uint8 = 3
	ChunkIndexExtensible uint8 = 4
	ChunkIndexBTree2     uint8 = 5
)

// Layout is a decoded data layout message.
//
// For chunked layouts the stored dimension list may carry the dataset
// element size as a trailing entry (the library writes rank+1 entries);
// callers normalize against the dataset rank.
type Layout struct {
	Version uint8
	Class   LayoutClass

	// Address of the raw data (contiguous) or of the chunk index
	// (chunked). May be UndefinedAddress for datasets never written.
	Address uint64

	// Size of the raw data for contiguous layouts.
	Size uint64

	// Raw bytes for compact layouts.
	Compact []byte

	// Chunk dimension sizes as stored in the message.
	ChunkDims []uint64

	// Chunk index type for version 4 layouts; ChunkIndexBTree1 otherwise.
	IndexType uint8
}

// ParseLayout decodes a data layout message, versions 1 through 4.
func ParseLayout(data []byte, sb *Superblock) (*Layout, error) {
	if len(data) < 2 {
		return nil, errors.New("data layout message too short")
	}

	switch version := data[0]; version {
	case 1, 2:
		return parseLayoutV1(data, sb)
	case 3:
		return parseLayoutV3(data, sb)
	case 4:
		return parseLayoutV4(data, sb)
	default:
		return nil, fmt.Errorf("unsupported data layout version: %d", version)
	}
}

// parseLayoutV1 handles the legacy layout encoding shared by versions 1
// and 2: rank and class up front, reserved bytes, then address and 4-byte
// dimension sizes.
func parseLayoutV1(data []byte, sb *Superblock) (*Layout, error) {
	if len(data) < 8 {
		return nil, errors.New("layout v1 message too short")
	}
	msg := &Layout{Version: data[0], Class: LayoutClass(data[2])}
	rank := int(data[1])
	offset := 8

	if msg.Class != LayoutCompact {
		if offset+int(sb.OffsetSize) > len(data) {
			return nil, errors.New("layout v1 address truncated")
		}
		msg.Address = readUint(data[offset:], sb.OffsetSize, sb.Endianness)
		offset += int(sb.OffsetSize)
	}

	for i := 0; i < rank; i++ {
		if offset+4 > len(data) {
			return nil, errors.New("layout v1 dimensions truncated")
		}
		msg.ChunkDims = append(msg.ChunkDims, readUint(data[offset:], 4, sb.Endianness))
		offset += 4
	}

	switch msg.Class {
	case LayoutCompact:
		if offset+4 > len(data) {
			return nil, errors.New("compact layout size truncated")
		}
		size := readUint(data[offset:], 4, sb.Endianness)
		offset += 4
		if offset+int(size) > len(data) {
			return nil, errors.New("compact layout data truncated")
		}
		msg.Compact = data[offset : offset+int(size)]
		msg.Size = size
	case LayoutContiguous:
		// Dimension sizes describe the array; byte size comes from the
		// dataspace and datatype.
		msg.ChunkDims = nil
	case LayoutChunked:
		// Keep dimensions; last entry is the element size.
	default:
		return nil, fmt.Errorf("unsupported layout class: %d", msg.Class)
	}
	return msg, nil
}

func parseLayoutV3(data []byte, sb *Superblock) (*Layout, error) {
	msg := &Layout{Version: data[0], Class: LayoutClass(data[1])}

	switch msg.Class {
	case LayoutCompact:
		if len(data) < 4 {
			return nil, errors.New("compact layout message too short")
		}
		size := int(readUint(data[2:], 2, sb.Endianness))
		if len(data) < 4+size {
			return nil, errors.New("compact layout data truncated")
		}
		msg.Compact = data[4 : 4+size]
		msg.Size = uint64(size)

	case LayoutContiguous:
		if len(data) < 2+int(sb.OffsetSize)+int(sb.LengthSize) {
			return nil, errors.New("contiguous layout message too short")
		}
		msg.Address = readUint(data[2:], sb.OffsetSize, sb.Endianness)
		msg.Size = readUint(data[2+int(sb.OffsetSize):], sb.LengthSize, sb.Endianness)

	case LayoutChunked:
		if len(data) < 3 {
			return nil, errors.New("chunked layout message too short")
		}
		rank := int(data[2])
		offset := 3
		if offset+int(sb.OffsetSize) > len(data) {
			return nil, errors.New("chunked layout address truncated")
		}
		msg.Address = readUint(data[offset:], sb.OffsetSize, sb.Endianness)
		offset += int(sb.OffsetSize)

		for i := 0; i < rank; i++ {
			if offset+4 > len(data) {
				return nil, fmt.Errorf("chunked layout dimension %d truncated", i)
			}
			msg.ChunkDims = append(msg.ChunkDims, readUint(data[offset:], 4, sb.Endianness))
			offset += 4
		}

	default:
		return nil, fmt.Errorf("unsupported layout class: %d", msg.Class)
	}
	return msg, nil
}

func parseLayoutV4(data []byte, sb *Superblock) (*Layout, error) {
	msg := &Layout{Version: data[0], Class: LayoutClass(data[1])}

	switch msg.Class {
	case LayoutCompact, LayoutContiguous:
		// Same wire format as version 3.
		v3, err := parseLayoutV3(data, sb)
		if err != nil {
			return nil, err
		}
		v3.Version = msg.Version
		return v3, nil

	case LayoutChunked:
		if len(data) < 5 {
			return nil, errors.New("chunked layout v4 message too short")
		}
		flags := data[2]
		rank := int(data[3])
		dimWidth := data[4]
		if dimWidth == 0 || dimWidth > 8 {
			return nil, fmt.Errorf("chunked layout v4 dimension width %d invalid", dimWidth)
		}
		offset := 5

		for i := 0; i < rank; i++ {
			if offset+int(dimWidth) > len(data) {
				return nil, fmt.Errorf("chunked layout dimension %d truncated", i)
			}
			msg.ChunkDims = append(msg.ChunkDims, readUint(data[offset:], dimWidth, sb.Endianness))
			offset += int(dimWidth)
		}

		if offset >= len(data) {
			return nil, errors.New("chunked layout v4 index type truncated")
		}
		msg.IndexType = data[offset]
		offset++

		switch msg.IndexType {
		case ChunkIndexSingle:
			if flags&0x02 != 0 {
				// Filtered single chunk stores its size and filter mask.
				offset += int(sb.LengthSize) + 4
			}
		case ChunkIndexImplicit:
		case ChunkIndexFixed:
			offset++ // page bits
		case ChunkIndexExtensible:
			offset += 6
		case ChunkIndexBTree2:
			offset += 6
		default:
			return nil, fmt.Errorf("unknown chunk index type: %d", msg.IndexType)
		}

		if offset+int(sb.OffsetSize) > len(data) {
			return nil, errors.New("chunked layout v4 address truncated")
		}
		msg.Address = readUint(data[offset:], sb.OffsetSize, sb.Endianness)

	case LayoutVirtual:
		return nil, errors.New("virtual dataset layout not supported")

	default:
		return nil, fmt.Errorf("unsupported layout class: %d", msg.Class)
	}
	return msg, nil
}

// ChunkShape returns the chunk dimensions normalized to the dataset rank,
// dropping the trailing element-size entry the library appends.
func (l *Layout) ChunkShape(rank int) []uint64 {
	if len(l.ChunkDims) == rank+1 {
		return l.ChunkDims[:rank]
	}
	return l.ChunkDims
}

// String renders a short description for the tree listing.
func (l *Layout) String() string {
	switch l.Class {
	case LayoutCompact:
		return fmt.Sprintf("compact (size=%d)", l.Size)
	case LayoutContiguous:
		return fmt.Sprintf("contiguous (address=0x%X, size=%d)", l.Address, l.Size)
	case LayoutChunked:
		return fmt.Sprintf("chunked (chunks=%v)", l.ChunkDims)
	case LayoutVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}
