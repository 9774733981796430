package hfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// ObjectKind classifies what an object header describes.
type ObjectKind uint8

// Object kinds found in NWB trees.
const (
	KindGroup ObjectKind = iota
	KindDataset
	KindDatatype
	KindUnknown
)

// MessageType identifies a header message.
type MessageType uint16

// Header message types used on the read path. Values follow the HDF5
// object header message registry.
const (
	MsgNil            MessageType = 0x00
	MsgDataspace      MessageType = 0x01
	MsgLinkInfo       MessageType = 0x02
	MsgDatatype       MessageType = 0x03
	MsgFillValueOld   MessageType = 0x04
	MsgFillValue      MessageType = 0x05
	MsgLink           MessageType = 0x06
	MsgDataLayout     MessageType = 0x08
	MsgGroupInfo      MessageType = 0x0A
	MsgFilterPipeline MessageType = 0x0B
	MsgAttribute      MessageType = 0x0C
	MsgObjectComment  MessageType = 0x0D
	MsgContinuation   MessageType = 0x10
	MsgSymbolTable    MessageType = 0x11
	MsgModTime        MessageType = 0x12
	MsgAttributeInfo  MessageType = 0x15
)

// Message is a raw header message with its decoded payload bytes.
type Message struct {
	Type MessageType
	Data []byte
}

// ObjectHeader is the parsed header of one object: its messages, the kind
// derived from them, and any compact or dense attributes.
type ObjectHeader struct {
	Version    uint8
	Flags      uint8
	Kind       ObjectKind
	Address    uint64
	Messages   []*Message
	Attributes []*Attribute
}

// FindMessage returns the first message of the given type, or nil.
func (oh *ObjectHeader) FindMessage(t MessageType) *Message {
	for _, msg := range oh.Messages {
		if msg.Type == t {
			return msg
		}
	}
	return nil
}

// ReadObjectHeader parses the object header at the given address. Both the
// version 1 format (h5py default) and the version 2 "OHDR" format are
// handled, including continuation blocks.
func ReadObjectHeader(r utils.ReaderAt, address uint64, sb *Superblock) (*ObjectHeader, error) {
	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	offset := int64(address)
	if offset < 0 {
		return nil, fmt.Errorf("negative object header offset: %d", offset)
	}

	prefix := utils.GetBuffer(8)
	defer utils.ReleaseBuffer(prefix)

	if _, err := r.ReadAt(prefix, offset); err != nil {
		return nil, utils.WrapError("object header read failed", err)
	}

	header := &ObjectHeader{Address: address}

	var err error
	switch {
	case string(prefix[0:4]) == "OHDR":
		header.Version = prefix[4]
		header.Flags = prefix[5]
		header.Messages, err = parseV2Header(r, address, header.Flags, binary.LittleEndian)
	case prefix[3] == 'O' && prefix[2] == 'H' && prefix[1] == 'D' && prefix[0] == 'R':
		// Byte-swapped signature from a big-endian writer.
		header.Version = prefix[7]
		header.Flags = prefix[6]
		header.Messages, err = parseV2Header(r, address, header.Flags, binary.BigEndian)
	case prefix[0] == 1 && prefix[1] == 0:
		header.Version = 1
		header.Messages, err = parseV1Header(r, address, sb)
	default:
		return nil, fmt.Errorf("invalid object header signature: % x", prefix[0:4])
	}
	if err != nil {
		return nil, utils.WrapError("object header parse failed", err)
	}

	header.Kind = classifyObject(header.Messages)

	// Attribute decoding failures must not sink the whole object: the
	// templater can still describe shape and children.
	if attrs, attrErr := CollectAttributes(r, header.Messages, sb); attrErr == nil {
		header.Attributes = attrs
	}

	return header, nil
}

func classifyObject(messages []*Message) ObjectKind {
	for _, msg := range messages {
		switch msg.Type {
		case MsgSymbolTable, MsgLinkInfo, MsgLink:
			return KindGroup
		case MsgDataspace:
			return KindDataset
		}
	}
	for _, msg := range messages {
		if msg.Type == MsgDatatype {
			return KindDatatype
		}
	}
	return KindUnknown
}

// parseV1Header parses the version 1 prefix and message block, following
// continuation messages. Prefix layout: version (1), reserved (1), message
// count (2), reference count (4), header data size (4), 4 bytes padding.
// Messages are 8-byte aligned; each carries type (2), size (2), flags (1)
// and 3 reserved bytes.
func parseV1Header(r utils.ReaderAt, addr uint64, sb *Superblock) ([]*Message, error) {
	prefix := utils.GetBuffer(16)
	defer utils.ReleaseBuffer(prefix)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(prefix, int64(addr)); err != nil {
		return nil, utils.WrapError("v1 header prefix read failed", err)
	}

	numMessages := sb.Endianness.Uint16(prefix[2:4])
	headerSize := sb.Endianness.Uint32(prefix[8:12])

	// Header data size counts the message block that starts after the
	// padded 16-byte prefix.
	start := addr + 16
	end := start + uint64(headerSize)

	messages, err := parseV1Messages(r, start, end, numMessages, sb)
	if err != nil {
		return nil, err
	}

	// Breadth-first continuation walk; v1 continuation blocks carry bare
	// messages with no block header. The block bounds terminate parsing,
	// so continuations get no message-count cap.
	queue := extractContinuations(messages, sb)
	for len(queue) > 0 {
		cont := queue[0]
		queue = queue[1:]

		contMessages, err := parseV1Messages(r, cont.address, cont.address+cont.size, 0xFFFF, sb)
		if err != nil {
			return nil, utils.WrapError("continuation block parse failed", err)
		}
		messages = append(messages, contMessages...)
		queue = append(queue, extractContinuations(contMessages, sb)...)
	}

	return messages, nil
}

type continuation struct {
	address uint64
	size    uint64
}

func extractContinuations(messages []*Message, sb *Superblock) []continuation {
	var conts []continuation
	for _, msg := range messages {
		if msg.Type != MsgContinuation {
			continue
		}
		if len(msg.Data) < int(sb.OffsetSize)+int(sb.LengthSize) {
			continue
		}
		addr := readUint(msg.Data, sb.OffsetSize, sb.Endianness)
		size := readUint(msg.Data[sb.OffsetSize:], sb.LengthSize, sb.Endianness)
		if size == 0 || addr == UndefinedAddress {
			continue
		}
		conts = append(conts, continuation{address: addr, size: size})
	}
	return conts
}

func parseV1Messages(r utils.ReaderAt, start, end uint64, maxMessages uint16, sb *Superblock) ([]*Message, error) {
	var messages []*Message
	current := start
	parsed := uint16(0)

	for current+8 <= end && parsed < maxMessages {
		head := utils.GetBuffer(8)
		if _, err := r.ReadAt(head, int64(current)); err != nil { //nolint:gosec // G115
			utils.ReleaseBuffer(head)
			if err == io.EOF {
				break
			}
			return nil, utils.WrapError("message header read failed", err)
		}
		msgType := MessageType(sb.Endianness.Uint16(head[0:2]))
		msgSize := sb.Endianness.Uint16(head[2:4])
		utils.ReleaseBuffer(head)

		parsed++

		if current+8+uint64(msgSize) > end {
			break
		}

		if msgSize > 0 && msgType != MsgNil {
			data := make([]byte, msgSize)
			if _, err := r.ReadAt(data, int64(current+8)); err != nil { //nolint:gosec // G115
				if err == io.EOF {
					break
				}
				return nil, utils.WrapError("message data read failed", err)
			}
			messages = append(messages, &Message{Type: msgType, Data: data})
		}

		// Messages are padded to the next 8-byte boundary.
		total := 8 + uint64(msgSize)
		if total%8 != 0 {
			total += 8 - total%8
		}
		current += total
	}

	return messages, nil
}

// parseV2Header parses a version 2 "OHDR" header. Optional prefix fields are
// driven by the flags byte: bit 5 stores four 4-byte timestamps, bit 4 a
// 4-byte attribute phase change, bits 0-1 the width of the chunk size field.
// Messages carry type (1), size (2) and flags (1).
func parseV2Header(r utils.ReaderAt, addr uint64, flags uint8, order binary.ByteOrder) ([]*Message, error) {
	current := addr + 6

	if flags&0x20 != 0 {
		current += 16
	}
	if flags&0x10 != 0 {
		current += 4
	}

	chunkSizeBytes := 1 << (flags & 0x03)
	sizeBuf := utils.GetBuffer(chunkSizeBytes)
	defer utils.ReleaseBuffer(sizeBuf)

	//nolint:gosec // G115: file addresses fit in int64 for ReadAt
	if _, err := r.ReadAt(sizeBuf, int64(current)); err != nil {
		return nil, utils.WrapError("chunk size read failed", err)
	}
	chunkSize := readUint(sizeBuf, uint8(chunkSizeBytes), order)
	current += uint64(chunkSizeBytes)

	messages, err := parseV2Messages(r, current, current+chunkSize, order)
	if err != nil {
		return nil, err
	}

	// Version 2 continuation blocks start with an "OCHK" signature and end
	// with a 4-byte checksum.
	queue := extractContinuationsV2(messages, order)
	for len(queue) > 0 {
		cont := queue[0]
		queue = queue[1:]
		if cont.size < 8 {
			continue
		}

		sig := utils.GetBuffer(4)
		if _, err := r.ReadAt(sig, int64(cont.address)); err != nil { //nolint:gosec // G115
			utils.ReleaseBuffer(sig)
			return nil, utils.WrapError("continuation block read failed", err)
		}
		ok := string(sig) == "OCHK"
		utils.ReleaseBuffer(sig)
		if !ok {
			return nil, fmt.Errorf("invalid continuation block signature at %d", cont.address)
		}

		contMessages, err := parseV2Messages(r, cont.address+4, cont.address+cont.size-4, order)
		if err != nil {
			return nil, utils.WrapError("continuation block parse failed", err)
		}
		messages = append(messages, contMessages...)
		queue = append(queue, extractContinuationsV2(contMessages, order)...)
	}

	return messages, nil
}

func extractContinuationsV2(messages []*Message, order binary.ByteOrder) []continuation {
	var conts []continuation
	for _, msg := range messages {
		if msg.Type != MsgContinuation || len(msg.Data) < 16 {
			continue
		}
		addr := order.Uint64(msg.Data[0:8])
		size := order.Uint64(msg.Data[8:16])
		if size == 0 || addr == UndefinedAddress {
			continue
		}
		conts = append(conts, continuation{address: addr, size: size})
	}
	return conts
}

func parseV2Messages(r utils.ReaderAt, start, end uint64, order binary.ByteOrder) ([]*Message, error) {
	var messages []*Message
	current := start

	for current+4 <= end {
		head := utils.GetBuffer(4)
		if _, err := r.ReadAt(head, int64(current)); err != nil { //nolint:gosec // G115
			utils.ReleaseBuffer(head)
			return nil, utils.WrapError("message header read failed", err)
		}
		msgType := MessageType(head[0])
		msgSize := order.Uint16(head[1:3])
		utils.ReleaseBuffer(head)

		if current+4+uint64(msgSize) > end {
			break
		}

		if msgSize > 0 && msgType != MsgNil {
			data := make([]byte, msgSize)
			if _, err := r.ReadAt(data, int64(current+4)); err != nil { //nolint:gosec // G115
				return nil, utils.WrapError("message data read failed", err)
			}
			messages = append(messages, &Message{Type: msgType, Data: data})
		}

		current += 4 + uint64(msgSize)
	}

	return messages, nil
}

// readUint decodes an unsigned little- or big-endian integer of 1, 2, 4 or
// 8 bytes from the start of buf.
func readUint(buf []byte, size uint8, order binary.ByteOrder) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	default:
		// Odd widths appear in version 3 compound member offsets.
		var v uint64
		if order == binary.BigEndian {
			for i := uint8(0); i < size; i++ {
				v = v<<8 | uint64(buf[i])
			}
			return v
		}
		for i := int(size) - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[i])
		}
		return v
	}
}
