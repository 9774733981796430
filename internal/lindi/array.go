package lindi

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Array is a dataset described by a .zarray entry.
type Array struct {
	store *Store
	path  string

	Shape     []uint64
	Chunks    []uint64
	DtypeCode string
	FillValue interface{}

	compressor string // "", "zlib", "gzip"
	vlenUTF8   bool
	order      binary.ByteOrder
	elemSize   int
}

type zarrayMeta struct {
	Shape      []uint64 `json:"shape"`
	Chunks     []uint64 `json:"chunks"`
	Dtype      string   `json:"dtype"`
	Compressor *struct {
		ID string `json:"id"`
	} `json:"compressor"`
	Filters []struct {
		ID string `json:"id"`
	} `json:"filters"`
	FillValue interface{} `json:"fill_value"`
}

// Array parses the .zarray metadata at path.
func (s *Store) Array(path string) (*Array, error) {
	raw, ok := s.refs[key(path, ".zarray")]
	if !ok {
		return nil, fmt.Errorf("%q is not a dataset", path)
	}
	text, err := s.inlineText(raw)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", path, err)
	}
	var meta zarrayMeta
	if err := json.Unmarshal(text, &meta); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", path, err)
	}
	if len(meta.Chunks) != len(meta.Shape) {
		return nil, fmt.Errorf("dataset %q: chunk rank %d does not match shape rank %d",
			path, len(meta.Chunks), len(meta.Shape))
	}

	a := &Array{
		store:     s,
		path:      path,
		Shape:     meta.Shape,
		Chunks:    meta.Chunks,
		DtypeCode: meta.Dtype,
		FillValue: meta.FillValue,
	}
	if meta.Compressor != nil {
		switch meta.Compressor.ID {
		case "zlib", "gzip":
			a.compressor = meta.Compressor.ID
		default:
			return nil, fmt.Errorf("dataset %q: unsupported compressor %q", path, meta.Compressor.ID)
		}
	}
	for _, f := range meta.Filters {
		switch f.ID {
		case "vlen-utf8":
			a.vlenUTF8 = true
		default:
			return nil, fmt.Errorf("dataset %q: unsupported filter %q", path, f.ID)
		}
	}
	if err := a.parseDtype(); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", path, err)
	}
	return a, nil
}

func (a *Array) parseDtype() error {
	code := a.DtypeCode
	if len(code) < 2 {
		return fmt.Errorf("malformed dtype %q", code)
	}
	switch code[0] {
	case '>':
		a.order = binary.BigEndian
	default: // '<' and '|'
		a.order = binary.LittleEndian
	}

	kind := code[1]
	rest := code[2:]
	switch kind {
	case 'i', 'u', 'f', 'b':
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("malformed dtype %q", code)
		}
		a.elemSize = n
	case 'S':
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("malformed dtype %q", code)
		}
		a.elemSize = n
	case 'O':
		if !a.vlenUTF8 {
			return fmt.Errorf("object dtype %q without vlen-utf8 filter", code)
		}
		a.elemSize = 0 // variable
	default:
		return fmt.Errorf("unsupported dtype %q", code)
	}
	return nil
}

// DtypeName returns the numpy-style dtype name.
func (a *Array) DtypeName() string {
	kind := a.DtypeCode[1]
	switch kind {
	case 'i':
		return fmt.Sprintf("int%d", a.elemSize*8)
	case 'u':
		return fmt.Sprintf("uint%d", a.elemSize*8)
	case 'f':
		return fmt.Sprintf("float%d", a.elemSize*8)
	case 'b':
		return "bool"
	case 'S':
		return fmt.Sprintf("|S%d", a.elemSize)
	default:
		return "object"
	}
}

// IsScalar reports whether the array has zero dimensions.
func (a *Array) IsScalar() bool {
	return len(a.Shape) == 0
}

// ElementCount returns the total number of elements.
func (a *Array) ElementCount() uint64 {
	count := uint64(1)
	for _, d := range a.Shape {
		count *= d
	}
	return count
}

// Read decodes the whole array into row-major elements. Missing chunks
// take the fill value.
func (a *Array) Read(ctx context.Context) ([]interface{}, error) {
	total := a.ElementCount()
	out := make([]interface{}, total)
	fill := a.fillElement()
	for i := range out {
		out[i] = fill
	}

	if a.IsScalar() {
		elems, ok, err := a.readChunk(ctx, "0", 1)
		if err != nil {
			return nil, err
		}
		if ok && len(elems) > 0 {
			out[0] = elems[0]
		}
		return out, nil
	}

	grid := make([]uint64, len(a.Shape))
	chunkElems := uint64(1)
	for i, d := range a.Shape {
		c := a.Chunks[i]
		if c == 0 {
			return nil, fmt.Errorf("dataset %q: zero chunk dimension", a.path)
		}
		grid[i] = (d + c - 1) / c
		chunkElems *= c
	}

	coord := make([]uint64, len(grid))
	for {
		elems, ok, err := a.readChunk(ctx, chunkKey(coord), chunkElems)
		if err != nil {
			return nil, err
		}
		if ok {
			a.scatter(out, elems, coord)
		}

		// Odometer over the chunk grid.
		i := len(coord) - 1
		for i >= 0 {
			coord[i]++
			if coord[i] < grid[i] {
				break
			}
			coord[i] = 0
			i--
		}
		if i < 0 {
			break
		}
	}
	return out, nil
}

// Value reads a scalar array's single element.
func (a *Array) Value(ctx context.Context) (interface{}, error) {
	if !a.IsScalar() {
		return nil, fmt.Errorf("dataset %q is not scalar", a.path)
	}
	elems, err := a.Read(ctx)
	if err != nil {
		return nil, err
	}
	return elems[0], nil
}

func chunkKey(coord []uint64) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = strconv.FormatUint(c, 10)
	}
	return strings.Join(parts, ".")
}

// scatter copies a full chunk's elements into the output at the given
// grid coordinate, clipping at array edges.
func (a *Array) scatter(out, elems []interface{}, coord []uint64) {
	rank := len(a.Shape)
	origin := make([]uint64, rank)
	for i := range origin {
		origin[i] = coord[i] * a.Chunks[i]
	}

	idx := make([]uint64, rank)
	for {
		inside := true
		for i := 0; i < rank; i++ {
			if origin[i]+idx[i] >= a.Shape[i] {
				inside = false
				break
			}
		}
		if inside {
			src := uint64(0)
			dst := uint64(0)
			for i := 0; i < rank; i++ {
				src = src*a.Chunks[i] + idx[i]
				dst = dst*a.Shape[i] + origin[i] + idx[i]
			}
			if src < uint64(len(elems)) {
				out[dst] = elems[src]
			}
		}

		i := rank - 1
		for i >= 0 {
			idx[i]++
			if idx[i] < a.Chunks[i] {
				break
			}
			idx[i] = 0
			i--
		}
		if i < 0 {
			break
		}
	}
}

// readChunk fetches and decodes one chunk. The second return is false
// when the chunk has no ref (all fill value).
func (a *Array) readChunk(ctx context.Context, key string, count uint64) ([]interface{}, bool, error) {
	refKey := key
	if a.path != "" {
		refKey = a.path + "/" + key
	}
	raw, ok := a.store.refs[refKey]
	if !ok {
		return nil, false, nil
	}

	payload, err := a.store.chunkPayload(ctx, raw)
	if err != nil {
		return nil, false, fmt.Errorf("dataset %q chunk %s: %w", a.path, key, err)
	}
	if a.compressor != "" {
		payload, err = decompress(payload, a.compressor)
		if err != nil {
			return nil, false, fmt.Errorf("dataset %q chunk %s: %w", a.path, key, err)
		}
	}

	elems, err := a.decodeElements(payload, count)
	if err != nil {
		return nil, false, fmt.Errorf("dataset %q chunk %s: %w", a.path, key, err)
	}
	return elems, true, nil
}

func (a *Array) decodeElements(payload []byte, count uint64) ([]interface{}, error) {
	if a.vlenUTF8 {
		return decodeVlenUTF8(payload)
	}

	need := count * uint64(a.elemSize)
	if uint64(len(payload)) < need {
		return nil, fmt.Errorf("short chunk: %d bytes, want %d", len(payload), need)
	}

	elems := make([]interface{}, count)
	for i := uint64(0); i < count; i++ {
		raw := payload[i*uint64(a.elemSize) : (i+1)*uint64(a.elemSize)]
		v, err := a.decodeElement(raw)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return elems, nil
}

func (a *Array) decodeElement(raw []byte) (interface{}, error) {
	kind := a.DtypeCode[1]
	switch kind {
	case 'i':
		u := readUint(raw, a.order)
		shift := 64 - uint(a.elemSize)*8
		return int64(u<<shift) >> shift, nil //nolint:gosec // G115: sign extension
	case 'u':
		return readUint(raw, a.order), nil
	case 'f':
		switch a.elemSize {
		case 4:
			return float64(math.Float32frombits(uint32(readUint(raw, a.order)))), nil //nolint:gosec // G115
		case 8:
			return math.Float64frombits(readUint(raw, a.order)), nil
		default:
			return nil, fmt.Errorf("unsupported float size %d", a.elemSize)
		}
	case 'b':
		return raw[0] != 0, nil
	case 'S':
		return string(bytes.TrimRight(raw, "\x00")), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", a.DtypeCode)
	}
}

func readUint(raw []byte, order binary.ByteOrder) uint64 {
	var u uint64
	if order == binary.BigEndian {
		for _, b := range raw {
			u = u<<8 | uint64(b)
		}
		return u
	}
	for i := len(raw) - 1; i >= 0; i-- {
		u = u<<8 | uint64(raw[i])
	}
	return u
}

// decodeVlenUTF8 unpacks the numcodecs VLenUTF8 layout: a little-endian
// item count, then per item a little-endian byte length and the UTF-8
// payload.
func decodeVlenUTF8(payload []byte) ([]interface{}, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("vlen-utf8 chunk too short: %d bytes", len(payload))
	}
	count := binary.LittleEndian.Uint32(payload)
	pos := uint64(4)
	elems := make([]interface{}, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+4 > uint64(len(payload)) {
			return nil, fmt.Errorf("vlen-utf8 chunk truncated at item %d", i)
		}
		n := uint64(binary.LittleEndian.Uint32(payload[pos:]))
		pos += 4
		if pos+n > uint64(len(payload)) {
			return nil, fmt.Errorf("vlen-utf8 chunk truncated at item %d", i)
		}
		elems = append(elems, string(payload[pos:pos+n]))
		pos += n
	}
	return elems, nil
}

func (a *Array) fillElement() interface{} {
	kind := a.DtypeCode[1]
	if a.FillValue != nil {
		// JSON numbers arrive as float64.
		if f, ok := a.FillValue.(float64); ok {
			switch kind {
			case 'i':
				return int64(f)
			case 'u':
				return uint64(f)
			case 'f':
				return f
			}
		}
		if s, ok := a.FillValue.(string); ok && (kind == 'S' || kind == 'O') {
			return s
		}
		if b, ok := a.FillValue.(bool); ok && kind == 'b' {
			return b
		}
	}
	switch kind {
	case 'i':
		return int64(0)
	case 'u':
		return uint64(0)
	case 'f':
		return float64(0)
	case 'b':
		return false
	default:
		return ""
	}
}

// chunkPayload resolves one chunk ref: an inline base64 string or a
// [url, offset, length] triple fetched with a single ranged GET.
func (s *Store) chunkPayload(ctx context.Context, raw json.RawMessage) ([]byte, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if payload, ok := strings.CutPrefix(text, "base64:"); ok {
			return decodeBase64(payload)
		}
		return []byte(text), nil
	}

	var triple []interface{}
	if err := json.Unmarshal(raw, &triple); err != nil || len(triple) != 3 {
		return nil, fmt.Errorf("malformed chunk ref %s", raw)
	}
	target, ok := triple[0].(string)
	if !ok {
		return nil, fmt.Errorf("malformed chunk ref %s", raw)
	}
	offset, ok1 := triple[1].(float64)
	length, ok2 := triple[2].(float64)
	if !ok1 || !ok2 || offset < 0 || length <= 0 {
		return nil, fmt.Errorf("malformed chunk ref %s", raw)
	}
	return s.fetchRange(ctx, target, int64(offset), int64(length))
}

func (s *Store) fetchRange(ctx context.Context, target string, offset, length int64) ([]byte, error) {
	if strings.Contains(target, "{{") {
		return nil, fmt.Errorf("templated chunk URL %q is not supported", target)
	}

	resolved, local, err := s.resolveRef(target)
	if err != nil {
		return nil, err
	}

	if local {
		f, err := os.Open(resolved)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf := make([]byte, length)
		if _, err := f.ReadAt(buf, offset); err != nil {
			return nil, fmt.Errorf("read %s: %w", resolved, err)
		}
		return buf, nil
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)).
		Get(resolved)
	if err != nil {
		return nil, fmt.Errorf("ranged GET %s: %w", resolved, err)
	}
	if resp.StatusCode() != 206 && resp.StatusCode() != 200 {
		return nil, fmt.Errorf("ranged GET %s: HTTP %d", resolved, resp.StatusCode())
	}
	body := resp.Body()
	if resp.StatusCode() == 200 {
		// Server ignored the Range header; slice the full body.
		if int64(len(body)) < offset+length {
			return nil, fmt.Errorf("ranged GET %s: short body", resolved)
		}
		body = body[offset : offset+length]
	}
	if int64(len(body)) < length {
		return nil, fmt.Errorf("ranged GET %s: got %d bytes, want %d", resolved, len(body), length)
	}
	return body[:length], nil
}

// resolveRef resolves a chunk ref target against the index's own
// location. Returns a URL or a local path.
func (s *Store) resolveRef(target string) (string, bool, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target, false, nil
	}
	if s.base != nil {
		rel, err := url.Parse(target)
		if err != nil {
			return "", false, fmt.Errorf("parse chunk URL %q: %w", target, err)
		}
		return s.base.ResolveReference(rel).String(), false, nil
	}
	if filepath.IsAbs(target) {
		return target, true, nil
	}
	return filepath.Join(s.dir, target), true, nil
}

func decodeBase64(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("base64 chunk: %w", err)
	}
	return data, nil
}

func decompress(payload []byte, codec string) ([]byte, error) {
	var (
		r   io.ReadCloser
		err error
	)
	switch codec {
	case "zlib":
		r, err = zlib.NewReader(bytes.NewReader(payload))
	case "gzip":
		r, err = gzip.NewReader(bytes.NewReader(payload))
	default:
		return nil, fmt.Errorf("unsupported compressor %q", codec)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", codec, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", codec, err)
	}
	return out, nil
}
