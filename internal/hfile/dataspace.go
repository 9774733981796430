package hfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DataspaceKind distinguishes scalar, simple and null dataspaces.
type DataspaceKind uint8

// Dataspace kinds.
const (
	DataspaceScalar DataspaceKind = 0
	DataspaceSimple DataspaceKind = 1
	DataspaceNull   DataspaceKind = 2
)

// Dataspace is a decoded dataspace message. Scalar dataspaces have no
// dimensions, matching the empty shape tuple they produce downstream.
type Dataspace struct {
	Version uint8
	Kind    DataspaceKind
	Dims    []uint64
	MaxDims []uint64
}

// ParseDataspace decodes a dataspace message. Version 1 encodes each
// dimension in the superblock's length size, version 2 always in 8 bytes.
func ParseDataspace(data []byte, sb *Superblock) (*Dataspace, error) {
	if len(data) < 4 {
		return nil, errors.New("dataspace message too short")
	}

	ds := &Dataspace{Version: data[0]}
	rank := int(data[1])
	flags := data[2]
	hasMaxDims := flags&0x01 != 0

	var offset, dimSize int
	switch ds.Version {
	case 1:
		// version, rank, flags, reserved[5]
		offset = 8
		dimSize = int(sb.LengthSize)
	case 2:
		// version, rank, flags, type
		offset = 4
		dimSize = 8
		ds.Kind = DataspaceKind(data[3])
		if ds.Kind > DataspaceNull {
			return nil, fmt.Errorf("unknown dataspace type: %d", data[3])
		}
	default:
		return nil, fmt.Errorf("unsupported dataspace version: %d", ds.Version)
	}

	if ds.Kind == DataspaceNull {
		return ds, nil
	}
	if rank == 0 {
		ds.Kind = DataspaceScalar
		return ds, nil
	}
	ds.Kind = DataspaceSimple

	readDims := func() ([]uint64, error) {
		dims := make([]uint64, rank)
		for i := 0; i < rank; i++ {
			if offset+dimSize > len(data) {
				return nil, errors.New("dataspace message truncated")
			}
			dims[i] = readUint(data[offset:], uint8(dimSize), binary.LittleEndian) //nolint:gosec // G115: 1..8
			offset += dimSize
		}
		return dims, nil
	}

	var err error
	if ds.Dims, err = readDims(); err != nil {
		return nil, err
	}
	if hasMaxDims {
		if ds.MaxDims, err = readDims(); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// TotalElements is the element count; scalars count as one, null as zero.
func (ds *Dataspace) TotalElements() uint64 {
	switch ds.Kind {
	case DataspaceNull:
		return 0
	case DataspaceScalar:
		return 1
	default:
		total := uint64(1)
		for _, dim := range ds.Dims {
			total *= dim
		}
		return total
	}
}

// IsScalar reports whether the dataspace holds a single unshaped value.
func (ds *Dataspace) IsScalar() bool {
	return ds.Kind == DataspaceScalar
}

// String renders a short human-readable description for the tree listing.
func (ds *Dataspace) String() string {
	switch ds.Kind {
	case DataspaceScalar:
		return "scalar"
	case DataspaceNull:
		return "null"
	default:
		return fmt.Sprintf("%v", ds.Dims)
	}
}
