package hfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FilterID identifies a registered HDF5 filter.
type FilterID uint16

// Filters seen in NWB files. Deflate and shuffle cover virtually all of
// them; the rest are recognized so errors can name them.
const (
	FilterDeflate     FilterID = 1
	FilterShuffle     FilterID = 2
	FilterFletcher32  FilterID = 3
	FilterSZIP        FilterID = 4
	FilterNBit        FilterID = 5
	FilterScaleOffset FilterID = 6
)

// Filter is one entry of a dataset's filter pipeline.
type Filter struct {
	ID         FilterID
	Flags      uint16
	Name       string
	ClientData []uint32
}

// FilterPipeline is a decoded filter pipeline message. Filters are stored
// in the order they were applied when writing.
type FilterPipeline struct {
	Version uint8
	Filters []Filter
}

// ParseFilterPipeline decodes a filter pipeline message, versions 1 and 2.
func ParseFilterPipeline(data []byte) (*FilterPipeline, error) {
	if len(data) < 2 {
		return nil, errors.New("filter pipeline message too short")
	}

	version := data[0]
	numFilters := int(data[1])
	if version < 1 || version > 2 {
		return nil, fmt.Errorf("unsupported filter pipeline version: %d", version)
	}

	pipeline := &FilterPipeline{
		Version: version,
		Filters: make([]Filter, 0, numFilters),
	}

	offset := 2
	if version == 1 {
		offset += 6 // reserved
	}

	for i := 0; i < numFilters; i++ {
		if offset+6 > len(data) {
			return nil, fmt.Errorf("filter pipeline truncated at filter %d", i)
		}

		var filter Filter
		filter.ID = FilterID(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2

		// Version 1 always stores a name length; version 2 only for
		// non-predefined filters.
		var nameLength int
		if version == 1 || filter.ID >= 256 {
			nameLength = int(binary.LittleEndian.Uint16(data[offset:]))
			offset += 2
		}

		if offset+4 > len(data) {
			return nil, fmt.Errorf("filter pipeline truncated at filter %d", i)
		}
		filter.Flags = binary.LittleEndian.Uint16(data[offset:])
		numClientData := int(binary.LittleEndian.Uint16(data[offset+2:]))
		offset += 4

		if nameLength > 0 {
			stored := nameLength
			if version == 1 && stored%8 != 0 {
				stored += 8 - stored%8
			}
			if offset+stored > len(data) {
				return nil, fmt.Errorf("filter name truncated at filter %d", i)
			}
			nameBytes := data[offset : offset+nameLength]
			if idx := bytes.IndexByte(nameBytes, 0); idx >= 0 {
				nameBytes = nameBytes[:idx]
			}
			filter.Name = string(nameBytes)
			offset += stored
		}

		if numClientData > 0 {
			size := numClientData * 4
			if offset+size > len(data) {
				return nil, fmt.Errorf("filter client data truncated at filter %d", i)
			}
			filter.ClientData = make([]uint32, numClientData)
			for j := 0; j < numClientData; j++ {
				filter.ClientData[j] = binary.LittleEndian.Uint32(data[offset:])
				offset += 4
			}
			// Version 1 pads an odd count of client values to 8 bytes.
			if version == 1 && numClientData%2 != 0 {
				offset += 4
			}
		}

		pipeline.Filters = append(pipeline.Filters, filter)
	}

	return pipeline, nil
}

// Decode runs the pipeline in reverse over a raw chunk, yielding the
// uncompressed bytes.
func (fp *FilterPipeline) Decode(data []byte) ([]byte, error) {
	if fp == nil || len(fp.Filters) == 0 {
		return data, nil
	}

	result := data
	for i := len(fp.Filters) - 1; i >= 0; i-- {
		filter := fp.Filters[i]
		decoded, err := decodeFilter(filter, result)
		if err != nil {
			if filter.Flags&0x01 != 0 {
				// Optional filter, leave the data as-is.
				continue
			}
			return nil, fmt.Errorf("filter %d (%s) failed: %w", filter.ID, filter.ID.String(), err)
		}
		result = decoded
	}
	return result, nil
}

// Names lists the pipeline's filter names for display.
func (fp *FilterPipeline) Names() []string {
	if fp == nil {
		return nil
	}
	names := make([]string, len(fp.Filters))
	for i, f := range fp.Filters {
		names[i] = f.ID.String()
	}
	return names
}

func decodeFilter(filter Filter, data []byte) ([]byte, error) {
	switch filter.ID {
	case FilterDeflate:
		return decodeDeflate(data)
	case FilterShuffle:
		return decodeShuffle(data, filter.ClientData)
	case FilterFletcher32:
		return stripFletcher32(data)
	default:
		return nil, fmt.Errorf("unsupported filter ID: %d", filter.ID)
	}
}

// decodeDeflate inflates a chunk. HDF5 stores zlib streams, not gzip.
func decodeDeflate(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader creation failed: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("zlib decompression failed: %w", err)
	}
	return decompressed, nil
}

// decodeShuffle reverses the byte shuffle. Shuffled data groups the n-th
// byte of every element together.
func decodeShuffle(data []byte, clientData []uint32) ([]byte, error) {
	if len(clientData) == 0 {
		return nil, errors.New("shuffle filter missing element size")
	}

	elementSize := int(clientData[0])
	if elementSize <= 1 || elementSize > len(data) {
		return data, nil
	}
	if len(data)%elementSize != 0 {
		return nil, errors.New("shuffled data size not a multiple of element size")
	}

	numElements := len(data) / elementSize
	result := make([]byte, len(data))
	for byteIdx := 0; byteIdx < elementSize; byteIdx++ {
		for elemIdx := 0; elemIdx < numElements; elemIdx++ {
			result[elemIdx*elementSize+byteIdx] = data[byteIdx*numElements+elemIdx]
		}
	}
	return result, nil
}

// stripFletcher32 drops the trailing 4-byte checksum without verifying
// it; the read path does not validate file integrity.
func stripFletcher32(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("data too short for Fletcher32 checksum")
	}
	return data[:len(data)-4], nil
}

// String returns the filter's conventional name.
func (id FilterID) String() string {
	switch id {
	case FilterDeflate:
		return "gzip"
	case FilterShuffle:
		return "shuffle"
	case FilterFletcher32:
		return "fletcher32"
	case FilterSZIP:
		return "szip"
	case FilterNBit:
		return "nbit"
	case FilterScaleOffset:
		return "scaleoffset"
	default:
		return fmt.Sprintf("filter_%d", uint16(id))
	}
}
