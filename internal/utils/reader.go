package utils

import "encoding/binary"

// ReaderAt is the read surface every parser in this module works against.
// Local files satisfy it via *os.File, remote files via the ranged HTTP reader.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// ReadUint64 reads a 64-bit value at the given offset.
func ReadUint64(r ReaderAt, offset int64, order binary.ByteOrder) (uint64, error) {
	buf := GetBuffer(8)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return order.Uint64(buf), nil
}
