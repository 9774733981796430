package hfile

import (
	"errors"
	"fmt"
)

// LinkKind distinguishes the link types NWB groups contain.
type LinkKind uint8

// Link kinds. External links occur in split DANDI layouts and are
// surfaced but never followed.
const (
	LinkHard     LinkKind = 0
	LinkSoft     LinkKind = 1
	LinkExternal LinkKind = 64
)

func (k LinkKind) String() string {
	switch k {
	case LinkHard:
		return "hard"
	case LinkSoft:
		return "soft"
	case LinkExternal:
		return "external"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Link is one decoded link message: a named edge from a group to either
// an object header address (hard) or a target path (soft/external).
type Link struct {
	Name    string
	Kind    LinkKind
	Address uint64
	Target  string
}

// Link message flag bits.
const (
	linkFlagLengthMask    uint8 = 0x03
	linkFlagCreationOrder uint8 = 0x04
	linkFlagTypeField     uint8 = 0x08
	linkFlagCharSet       uint8 = 0x10
)

// ParseLink decodes a link message payload. The flag byte drives which
// optional fields are present and the width of the name length.
func ParseLink(data []byte, sb *Superblock) (*Link, error) {
	if len(data) < 2 {
		return nil, errors.New("link message too short")
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("unsupported link message version: %d", data[0])
	}
	flags := data[1]
	pos := 2

	link := &Link{Kind: LinkHard}
	if flags&linkFlagTypeField != 0 {
		if pos >= len(data) {
			return nil, errors.New("link message truncated at type field")
		}
		link.Kind = LinkKind(data[pos])
		pos++
	}
	if flags&linkFlagCreationOrder != 0 {
		pos += 8
	}
	if flags&linkFlagCharSet != 0 {
		pos++
	}

	lengthSize := 1 << (flags & linkFlagLengthMask)
	if pos+lengthSize > len(data) {
		return nil, errors.New("link message truncated at name length")
	}
	nameLen := readUint(data[pos:], uint8(lengthSize), sb.Endianness) //nolint:gosec // G115: 1..8
	pos += lengthSize

	if nameLen > uint64(len(data)-pos) {
		return nil, errors.New("link message truncated at name")
	}
	link.Name = string(data[pos : pos+int(nameLen)])
	pos += int(nameLen)

	switch link.Kind {
	case LinkHard:
		if pos+int(sb.OffsetSize) > len(data) {
			return nil, errors.New("hard link truncated at object address")
		}
		link.Address = readUint(data[pos:], sb.OffsetSize, sb.Endianness)

	case LinkSoft:
		if pos+2 > len(data) {
			return nil, errors.New("soft link truncated at target length")
		}
		targetLen := int(sb.Endianness.Uint16(data[pos:]))
		pos += 2
		if pos+targetLen > len(data) {
			return nil, errors.New("soft link truncated at target path")
		}
		link.Target = string(data[pos : pos+targetLen])

	case LinkExternal:
		// File name and object path, each length-prefixed; the first byte
		// of the value is a version/flags byte.
		if pos+2 > len(data) {
			return nil, errors.New("external link truncated at value length")
		}
		valueLen := int(sb.Endianness.Uint16(data[pos:]))
		pos += 2
		if pos+valueLen > len(data) || valueLen < 1 {
			return nil, errors.New("external link truncated at value")
		}
		value := data[pos+1 : pos+valueLen]
		for i, b := range value {
			if b == 0 {
				link.Target = string(value[:i])
				break
			}
		}

	default:
		return nil, fmt.Errorf("unsupported link type: %d", link.Kind)
	}
	return link, nil
}

// LinkInfo is a decoded link info message pointing at dense link storage.
type LinkInfo struct {
	FractalHeapAddress uint64
	NameBTreeAddress   uint64
}

// ParseLinkInfo decodes a link info message.
func ParseLinkInfo(data []byte, sb *Superblock) (*LinkInfo, error) {
	if len(data) < 2 {
		return nil, errors.New("link info message too short")
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("unsupported link info version: %d", data[0])
	}
	flags := data[1]
	pos := 2
	if flags&0x01 != 0 {
		pos += 8 // maximum creation index
	}

	if pos+2*int(sb.OffsetSize) > len(data) {
		return nil, errors.New("link info message truncated")
	}
	info := &LinkInfo{
		FractalHeapAddress: readUint(data[pos:], sb.OffsetSize, sb.Endianness),
		NameBTreeAddress:   readUint(data[pos+int(sb.OffsetSize):], sb.OffsetSize, sb.Endianness),
	}
	return info, nil
}

// AttributeInfo is a decoded attribute info message pointing at dense
// attribute storage.
type AttributeInfo struct {
	FractalHeapAddress uint64
	NameBTreeAddress   uint64
}

// ParseAttributeInfo decodes an attribute info message.
func ParseAttributeInfo(data []byte, sb *Superblock) (*AttributeInfo, error) {
	if len(data) < 2 {
		return nil, errors.New("attribute info message too short")
	}
	flags := data[1]
	pos := 2
	if flags&0x01 != 0 {
		pos += 2 // maximum creation index
	}

	if pos+2*int(sb.OffsetSize) > len(data) {
		return nil, errors.New("attribute info message truncated")
	}
	info := &AttributeInfo{
		FractalHeapAddress: readUint(data[pos:], sb.OffsetSize, sb.Endianness),
		NameBTreeAddress:   readUint(data[pos+int(sb.OffsetSize):], sb.OffsetSize, sb.Endianness),
	}
	return info, nil
}
