package hfile

import (
	"errors"
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// Dataset bundles the messages that describe one dataset's storage:
// datatype, dataspace, layout and filter pipeline.
type Dataset struct {
	r  utils.ReaderAt
	sb *Superblock

	Datatype  *Datatype
	Dataspace *Dataspace
	Layout    *Layout
	Filters   *FilterPipeline
}

// newDataset extracts the dataset-describing messages from an object header.
func newDataset(r utils.ReaderAt, sb *Superblock, header *ObjectHeader) (*Dataset, error) {
	d := &Dataset{r: r, sb: sb}

	for _, msg := range header.Messages {
		var err error
		switch msg.Type {
		case MsgDatatype:
			d.Datatype, err = ParseDatatype(msg.Data)
		case MsgDataspace:
			d.Dataspace, err = ParseDataspace(msg.Data, sb)
		case MsgDataLayout:
			d.Layout, err = ParseLayout(msg.Data, sb)
		case MsgFilterPipeline:
			d.Filters, err = ParseFilterPipeline(msg.Data)
		}
		if err != nil {
			return nil, utils.WrapError("dataset message parse failed", err)
		}
	}

	if d.Datatype == nil {
		return nil, errors.New("dataset has no datatype message")
	}
	if d.Dataspace == nil {
		return nil, errors.New("dataset has no dataspace message")
	}
	if d.Layout == nil {
		return nil, errors.New("dataset has no data layout message")
	}
	return d, nil
}

// Shape returns the dataset dimensions; empty for scalars.
func (d *Dataset) Shape() []uint64 {
	return d.Dataspace.Dims
}

// DtypeName returns the numpy-style dtype name.
func (d *Dataset) DtypeName() string {
	return d.Datatype.DtypeName()
}

// ElementCount returns the number of elements in the dataspace.
func (d *Dataset) ElementCount() uint64 {
	return d.Dataspace.TotalElements()
}

// IsScalar reports whether the dataset holds a single unshaped value.
func (d *Dataset) IsScalar() bool {
	return d.Dataspace.IsScalar()
}

// Read decodes every element of the dataset. Callers gate on ElementCount
// first; the raw read itself is capped at MaxChunkSize.
func (d *Dataset) Read() ([]interface{}, error) {
	total := d.ElementCount()
	if total == 0 {
		return []interface{}{}, nil
	}

	raw, err := d.ReadRaw()
	if err != nil {
		return nil, err
	}
	return decodeElements(d.r, d.sb, d.Datatype, raw, int(total)) //nolint:gosec // G115: bounded by MaxChunkSize
}

// Value decodes a scalar dataset to its single value.
func (d *Dataset) Value() (interface{}, error) {
	values, err := d.Read()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.New("dataset is empty")
	}
	return values[0], nil
}

// ReadRaw returns the dataset's raw element bytes in row-major order, with
// any filter pipeline already reversed.
func (d *Dataset) ReadRaw() ([]byte, error) {
	size, err := utils.SafeMultiply(d.ElementCount(), uint64(d.Datatype.Size))
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateBufferSize(size, utils.MaxChunkSize, "dataset"); err != nil {
		return nil, err
	}

	switch d.Layout.Class {
	case LayoutCompact:
		return d.readCompact(size)
	case LayoutContiguous:
		return d.readContiguous(size)
	case LayoutChunked:
		return d.readChunked(size)
	default:
		return nil, fmt.Errorf("unsupported layout class: %d", d.Layout.Class)
	}
}

func (d *Dataset) readCompact(size uint64) ([]byte, error) {
	if uint64(len(d.Layout.Compact)) < size {
		return nil, fmt.Errorf("compact data holds %d bytes, need %d", len(d.Layout.Compact), size)
	}
	out := make([]byte, size)
	copy(out, d.Layout.Compact)
	return out, nil
}

func (d *Dataset) readContiguous(size uint64) ([]byte, error) {
	out := make([]byte, size)
	if d.Layout.Address == UndefinedAddress {
		// Dataset allocated but never written; elements read as the
		// default fill value of zero.
		return out, nil
	}
	if _, err := d.r.ReadAt(out, int64(d.Layout.Address)); err != nil { //nolint:gosec // G115
		return nil, utils.WrapError("contiguous data read failed", err)
	}
	return out, nil
}

func (d *Dataset) readChunked(size uint64) ([]byte, error) {
	dims := d.Dataspace.Dims
	chunkDims := d.Layout.ChunkShape(len(dims))
	if len(chunkDims) != len(dims) {
		return nil, fmt.Errorf("chunk rank %d does not match dataset rank %d", len(chunkDims), len(dims))
	}

	chunkSize, err := utils.CalculateChunkSize(chunkDims, uint64(d.Datatype.Size))
	if err != nil {
		return nil, err
	}

	out := make([]byte, size)
	if d.Layout.Address == UndefinedAddress {
		return out, nil
	}

	chunks, err := d.collectChunks(chunkDims, chunkSize)
	if err != nil {
		return nil, err
	}

	for _, chunk := range chunks {
		data, err := d.readChunkData(chunk, chunkSize)
		if err != nil {
			return nil, err
		}
		d.copyChunk(out, data, chunk.Scaled, dims, chunkDims)
	}
	return out, nil
}

// collectChunks resolves the chunk index to a flat chunk list. Version 4
// single-chunk layouts point straight at the data; everything else NWB
// writers produce goes through a version 1 B-tree. The B-tree keys stride
// over the stored dimension list, trailing element-size entry included.
func (d *Dataset) collectChunks(chunkDims []uint64, chunkSize uint64) ([]Chunk, error) {
	if d.Layout.Version == 4 && d.Layout.IndexType == ChunkIndexSingle {
		return []Chunk{{
			Scaled:  make([]uint64, len(chunkDims)),
			Size:    uint32(chunkSize), //nolint:gosec // G115: bounded by MaxChunkSize
			Address: d.Layout.Address,
		}}, nil
	}
	if d.Layout.Version == 4 && d.Layout.IndexType != ChunkIndexBTree1 {
		return nil, fmt.Errorf("unsupported chunk index type: %d", d.Layout.IndexType)
	}
	return CollectChunks(d.r, d.Layout.Address, d.Layout.ChunkDims, d.sb)
}

func (d *Dataset) readChunkData(chunk Chunk, chunkSize uint64) ([]byte, error) {
	storedSize := uint64(chunk.Size)
	if storedSize == 0 {
		storedSize = chunkSize
	}
	if err := utils.ValidateBufferSize(storedSize, utils.MaxChunkSize, "chunk"); err != nil {
		return nil, err
	}

	raw := make([]byte, storedSize)
	if _, err := d.r.ReadAt(raw, int64(chunk.Address)); err != nil { //nolint:gosec // G115
		return nil, utils.WrapError("chunk read failed", err)
	}

	data, err := d.Filters.Decode(raw)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < chunkSize {
		return nil, fmt.Errorf("chunk at 0x%X decoded to %d bytes, expected %d", chunk.Address, len(data), chunkSize)
	}
	return data, nil
}

// copyChunk scatters one decoded chunk into the row-major dataset buffer,
// clipping edge chunks that extend past the dataset bounds.
func (d *Dataset) copyChunk(dst, src []byte, scaled, dims, chunkDims []uint64) {
	rank := len(dims)
	elemSize := uint64(d.Datatype.Size)

	origin := make([]uint64, rank)
	for i := range origin {
		origin[i] = scaled[i] * chunkDims[i]
		if origin[i] >= dims[i] {
			return
		}
	}

	if rank == 1 {
		run := chunkDims[0]
		if origin[0]+run > dims[0] {
			run = dims[0] - origin[0]
		}
		copy(dst[origin[0]*elemSize:], src[:run*elemSize])
		return
	}

	// Row strides in elements for dataset and chunk coordinates.
	dstStride := make([]uint64, rank)
	srcStride := make([]uint64, rank)
	dstStride[rank-1], srcStride[rank-1] = 1, 1
	for i := rank - 2; i >= 0; i-- {
		dstStride[i] = dstStride[i+1] * dims[i+1]
		srcStride[i] = srcStride[i+1] * chunkDims[i+1]
	}

	run := chunkDims[rank-1]
	if origin[rank-1]+run > dims[rank-1] {
		run = dims[rank-1] - origin[rank-1]
	}

	// Odometer over the chunk's leading dimensions, copying one contiguous
	// row of the last dimension per step.
	idx := make([]uint64, rank-1)
	for {
		inBounds := true
		var dstOff, srcOff uint64
		for i := 0; i < rank-1; i++ {
			if origin[i]+idx[i] >= dims[i] {
				inBounds = false
				break
			}
			dstOff += (origin[i] + idx[i]) * dstStride[i]
			srcOff += idx[i] * srcStride[i]
		}
		if inBounds {
			dstOff += origin[rank-1]
			copy(dst[dstOff*elemSize:], src[srcOff*elemSize:(srcOff+run)*elemSize])
		}

		// Advance the odometer.
		dim := rank - 2
		for dim >= 0 {
			idx[dim]++
			if idx[dim] < chunkDims[dim] {
				break
			}
			idx[dim] = 0
			dim--
		}
		if dim < 0 {
			return
		}
	}
}
