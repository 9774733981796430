package hfile

import (
	"errors"
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// Attribute is a parsed attribute message: name, the types describing the
// value, and the raw value bytes. Values decode lazily through Decode
// because variable-length payloads need file access for the global heap.
type Attribute struct {
	Name      string
	Datatype  *Datatype
	Dataspace *Dataspace
	Data      []byte
}

// ParseAttribute decodes an attribute message, versions 1 through 3.
// h5py writes compact attributes as version 1 and dense ones as
// version 3.
func ParseAttribute(data []byte, sb *Superblock) (*Attribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("attribute message too short: %d bytes", len(data))
	}

	version := data[0]
	if version < 1 || version > 3 {
		return nil, fmt.Errorf("unsupported attribute message version: %d", version)
	}
	flags := data[1]

	nameSize := int(sb.Endianness.Uint16(data[2:4]))
	datatypeSize := int(sb.Endianness.Uint16(data[4:6]))
	dataspaceSize := int(sb.Endianness.Uint16(data[6:8]))

	pos := 8
	if version >= 3 {
		pos++ // name character set
	}

	// Version 1 pads each of the three sections to 8 bytes; versions 2
	// and 3 pack them.
	pad := func(n int) int {
		if version == 1 && n%8 != 0 {
			return n + 8 - n%8
		}
		return n
	}

	attr := &Attribute{}
	if pos+nameSize > len(data) {
		return nil, errors.New("attribute name truncated")
	}
	if nameSize > 0 {
		name := data[pos : pos+nameSize]
		for i, b := range name {
			if b == 0 {
				name = name[:i]
				break
			}
		}
		attr.Name = string(name)
	}
	pos += pad(nameSize)

	if pos+datatypeSize > len(data) {
		return nil, errors.New("attribute datatype truncated")
	}
	// Flag bit 0 marks the datatype as shared; shared datatypes do not
	// occur in h5py-written NWB attributes.
	if flags&0x01 != 0 {
		return nil, errors.New("shared attribute datatypes not supported")
	}
	dt, err := ParseDatatype(data[pos : pos+datatypeSize])
	if err != nil {
		return nil, utils.WrapError("attribute datatype parse failed", err)
	}
	attr.Datatype = dt
	pos += pad(datatypeSize)

	if pos+dataspaceSize > len(data) {
		return nil, errors.New("attribute dataspace truncated")
	}
	ds, err := ParseDataspace(data[pos:pos+dataspaceSize], sb)
	if err != nil {
		return nil, utils.WrapError("attribute dataspace parse failed", err)
	}
	attr.Dataspace = ds
	pos += pad(dataspaceSize)

	if pos < len(data) {
		attr.Data = make([]byte, len(data)-pos)
		copy(attr.Data, data[pos:])
	}
	return attr, nil
}

// CollectAttributes gathers an object's attributes from compact messages
// and, when an attribute info message points at dense storage, from the
// fractal heap behind it. Individually unparseable attributes are
// skipped.
func CollectAttributes(r utils.ReaderAt, messages []*Message, sb *Superblock) ([]*Attribute, error) {
	var attrs []*Attribute

	for _, msg := range messages {
		if msg.Type != MsgAttribute {
			continue
		}
		attr, err := ParseAttribute(msg.Data, sb)
		if err != nil {
			continue
		}
		attrs = append(attrs, attr)
	}

	for _, msg := range messages {
		if msg.Type != MsgAttributeInfo {
			continue
		}
		info, err := ParseAttributeInfo(msg.Data, sb)
		if err != nil {
			break
		}
		if info.FractalHeapAddress == 0 || info.FractalHeapAddress == UndefinedAddress {
			break
		}
		dense, err := collectDenseAttributes(r, info, sb)
		if err != nil {
			return nil, utils.WrapError("dense attribute read failed", err)
		}
		attrs = append(attrs, dense...)
		break
	}

	return attrs, nil
}

func collectDenseAttributes(r utils.ReaderAt, info *AttributeInfo, sb *Superblock) ([]*Attribute, error) {
	heapIDs, err := CollectHeapIDs(r, info.NameBTreeAddress, sb)
	if err != nil {
		return nil, err
	}
	if len(heapIDs) == 0 {
		return nil, nil
	}

	heap, err := OpenFractalHeap(r, info.FractalHeapAddress, sb)
	if err != nil {
		return nil, err
	}

	attrs := make([]*Attribute, 0, len(heapIDs))
	for i, id := range heapIDs {
		raw, err := heap.ReadObject(id)
		if err != nil {
			return nil, fmt.Errorf("heap object %d: %w", i, err)
		}
		attr, err := ParseAttribute(raw, sb)
		if err != nil {
			return nil, fmt.Errorf("dense attribute %d: %w", i, err)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// Decode materializes the attribute value: a scalar for scalar
// dataspaces, a []interface{} otherwise. Variable-length strings resolve
// through the file's global heap.
func (a *Attribute) Decode(r utils.ReaderAt, sb *Superblock) (interface{}, error) {
	if a.Datatype == nil || a.Dataspace == nil {
		return nil, errors.New("attribute missing datatype or dataspace")
	}

	total := a.Dataspace.TotalElements()
	if total == 0 || len(a.Data) == 0 {
		return []interface{}{}, nil
	}
	if err := utils.ValidateBufferSize(total, utils.MaxAttributeSize, "attribute element count"); err != nil {
		return nil, err
	}

	values, err := decodeElements(r, sb, a.Datatype, a.Data, int(total))
	if err != nil {
		return nil, err
	}
	if a.Dataspace.IsScalar() && len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}
