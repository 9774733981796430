package utils

import (
	"fmt"
	"math"
)

// Allocation limits for structures decoded from untrusted files.
const (
	// MaxChunkSize limits a single chunk to 1GB.
	MaxChunkSize = 1024 * 1024 * 1024

	// MaxAttributeSize limits attribute payloads to 64MB.
	MaxAttributeSize = 64 * 1024 * 1024

	// MaxStringSize limits decoded strings to 16MB.
	MaxStringSize = 16 * 1024 * 1024
)

// CheckMultiplyOverflow reports whether multiplying two uint64 values would overflow.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil
	}

	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}

	return nil
}

// SafeMultiply multiplies two uint64 values, erroring instead of overflowing.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// ElementCount multiplies dimension sizes with overflow checking.
func ElementCount(dimensions []uint64) (uint64, error) {
	total := uint64(1)
	for i, dim := range dimensions {
		if err := CheckMultiplyOverflow(total, dim); err != nil {
			return 0, fmt.Errorf("element count overflow at dimension %d: %w", i, err)
		}
		total *= dim
	}
	return total, nil
}

// CalculateChunkSize computes dims product * element size with overflow checking.
func CalculateChunkSize(dimensions []uint64, elementSize uint64) (uint64, error) {
	if len(dimensions) == 0 {
		return 0, fmt.Errorf("no dimensions provided")
	}

	if elementSize == 0 {
		return 0, fmt.Errorf("element size cannot be zero")
	}

	size := uint64(1)
	for i, dim := range dimensions {
		if dim > 0 && size > math.MaxUint64/dim {
			return 0, fmt.Errorf("chunk size overflow at dimension %d: dimensions too large", i)
		}
		size *= dim
	}

	if size > math.MaxUint64/elementSize {
		return 0, fmt.Errorf("chunk size overflow: total size too large (dims product: %d, elem size: %d)", size, elementSize)
	}

	return size * elementSize, nil
}

// ValidateBufferSize rejects zero or oversized allocations before they happen.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}

	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}

	return nil
}
