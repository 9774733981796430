package remote

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

// ErrRangeUnsupported is returned when the server answers a ranged GET
// with 200 instead of 206, meaning it ignores Range headers.
var ErrRangeUnsupported = errors.New("server does not support byte-range requests")

// Block geometry defaults. HDF5 metadata clusters near the superblock and
// per-object regions, so modest blocks with a small LRU cover a full tree
// walk in a handful of requests.
const (
	DefaultBlockSize   = 256 * 1024
	DefaultCacheBlocks = 64
)

// Config tunes a remote file reader.
type Config struct {
	Client ClientConfig

	// BlockSize is the fetch granularity in bytes.
	BlockSize int64
	// CacheBlocks is the in-memory LRU capacity in blocks.
	CacheBlocks int
	// DiskCache, when set, is consulted before the network.
	DiskCache *BlockCache
	// AuthToken is sent as a bearer token (embargoed DANDI assets).
	AuthToken string
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.CacheBlocks <= 0 {
		c.CacheBlocks = DefaultCacheBlocks
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// File is a remote file read through ranged GETs. It implements
// io.ReaderAt; reads are block-aligned, cached in an LRU, and deduplicated
// across goroutines.
type File struct {
	url       string
	client    *resty.Client
	size      int64
	blockSize int64
	validator string
	token     string
	logger    *slog.Logger

	// ReadAt carries no context, so the opener's context governs all
	// subsequent fetches.
	ctx context.Context

	mu     sync.Mutex
	lru    *blockLRU
	disk   *BlockCache
	group  singleflight.Group
	closed bool
}

// Open discovers the remote file's size and returns a ranged reader.
func Open(ctx context.Context, url string, cfg Config) (*File, error) {
	cfg = cfg.withDefaults()
	client := NewHTTPClient(cfg.Client)

	f := &File{
		url:       url,
		client:    client,
		blockSize: cfg.BlockSize,
		token:     cfg.AuthToken,
		logger:    cfg.Logger,
		ctx:       ctx,
		lru:       newBlockLRU(cfg.CacheBlocks),
		disk:      cfg.DiskCache,
	}

	if err := f.discoverSize(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// discoverSize tries HEAD first and falls back to a one-byte ranged GET
// for servers that omit Content-Length on HEAD.
func (f *File) discoverSize(ctx context.Context) error {
	resp, err := f.request(ctx).Head(f.url)
	if err == nil && resp.StatusCode() < 400 {
		if n, perr := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64); perr == nil && n > 0 {
			f.size = n
			f.validator = pickValidator(resp.Header(), n)
			return nil
		}
	}

	resp, err = f.request(ctx).
		SetHeader("Range", "bytes=0-0").
		SetDoNotParseResponse(true).
		Get(f.url)
	if err != nil {
		return fmt.Errorf("size discovery for %s: %w", f.url, err)
	}
	defer drainBody(resp)

	switch resp.StatusCode() {
	case http.StatusPartialContent:
		total, perr := parseContentRangeTotal(resp.Header().Get("Content-Range"))
		if perr != nil {
			return fmt.Errorf("size discovery for %s: %w", f.url, perr)
		}
		f.size = total
		f.validator = pickValidator(resp.Header(), total)
		return nil
	case http.StatusOK:
		return fmt.Errorf("%s: %w", f.url, ErrRangeUnsupported)
	default:
		return fmt.Errorf("size discovery for %s: HTTP %d", f.url, resp.StatusCode())
	}
}

// pickValidator chooses the cache validator: ETag, else Last-Modified,
// else the size itself.
func pickValidator(h http.Header, size int64) string {
	if etag := h.Get("ETag"); etag != "" {
		return etag
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		return lm
	}
	return strconv.FormatInt(size, 10)
}

func parseContentRangeTotal(value string) (int64, error) {
	// Format: "bytes 0-0/12345".
	idx := strings.LastIndexByte(value, '/')
	if idx < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	total, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil || total <= 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	return total, nil
}

// Size returns the remote file's length in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Close releases the disk cache handle. Safe to call more than once.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.disk != nil {
		return f.disk.Close()
	}
	return nil
}

// ReadAt implements io.ReaderAt over block-aligned ranged GETs. Missing
// blocks in a contiguous run coalesce into a single request.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= f.size {
		return 0, io.EOF
	}

	want := int64(len(p))
	if off+want > f.size {
		want = f.size - off
	}

	var copied int64
	for copied < want {
		pos := off + copied
		blockIdx := pos / f.blockSize
		block, err := f.block(blockIdx)
		if err != nil {
			return int(copied), err
		}

		blockOff := pos - blockIdx*f.blockSize
		n := copy(p[copied:want], block[blockOff:])
		copied += int64(n)
	}

	if copied < int64(len(p)) {
		return int(copied), io.EOF
	}
	return int(copied), nil
}

// block returns one cached block, fetching it and its missing contiguous
// successors in a single ranged GET on a miss.
func (f *File) block(idx int64) ([]byte, error) {
	if b, ok := f.cachedBlock(idx); ok {
		return b, nil
	}

	lastIdx := (f.size - 1) / f.blockSize

	// Extend the fetch over following blocks that are also missing, up to
	// the LRU capacity, so sequential walks issue one GET per run.
	end := idx
	for end < lastIdx && end-idx+1 < int64(f.lru.capacity) {
		if _, ok := f.cachedBlock(end + 1); ok {
			break
		}
		end++
	}

	key := fmt.Sprintf("%d-%d", idx, end)
	_, err, _ := f.group.Do(key, func() (interface{}, error) {
		return nil, f.fetchBlocks(idx, end)
	})
	if err != nil {
		return nil, err
	}

	if b, ok := f.cachedBlock(idx); ok {
		return b, nil
	}
	return nil, fmt.Errorf("block %d missing after fetch", idx)
}

func (f *File) cachedBlock(idx int64) ([]byte, bool) {
	f.mu.Lock()
	if b, ok := f.lru.get(idx); ok {
		f.mu.Unlock()
		return b, true
	}
	f.mu.Unlock()

	if f.disk == nil {
		return nil, false
	}
	b, ok := f.disk.Get(f.diskKey(idx))
	if !ok {
		return nil, false
	}
	f.mu.Lock()
	f.lru.put(idx, b)
	f.mu.Unlock()
	return b, true
}

func (f *File) diskKey(idx int64) []byte {
	return []byte(f.url + "|" + f.validator + "|" + strconv.FormatInt(idx, 10))
}

func (f *File) fetchBlocks(first, last int64) error {
	start := first * f.blockSize
	end := (last+1)*f.blockSize - 1
	if end >= f.size {
		end = f.size - 1
	}

	resp, err := f.request(f.ctx).
		SetHeader("Range", fmt.Sprintf("bytes=%d-%d", start, end)).
		Get(f.url)
	if err != nil {
		return fmt.Errorf("ranged GET %s: %w", f.url, err)
	}

	switch resp.StatusCode() {
	case http.StatusPartialContent:
	case http.StatusOK:
		return fmt.Errorf("%s: %w", f.url, ErrRangeUnsupported)
	default:
		return fmt.Errorf("ranged GET %s: HTTP %d", f.url, resp.StatusCode())
	}

	body := resp.Body()
	if int64(len(body)) < end-start+1 {
		return fmt.Errorf("ranged GET %s: got %d bytes, want %d", f.url, len(body), end-start+1)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for idx := first; idx <= last; idx++ {
		lo := (idx - first) * f.blockSize
		hi := lo + f.blockSize
		if hi > int64(len(body)) {
			hi = int64(len(body))
		}
		block := make([]byte, hi-lo)
		copy(block, body[lo:hi])
		f.lru.put(idx, block)
		if f.disk != nil {
			if err := f.disk.Put(f.diskKey(idx), block); err != nil {
				f.logger.Warn("disk cache write failed", "block", idx, "error", err)
			}
		}
	}
	return nil
}

func (f *File) request(ctx context.Context) *resty.Request {
	req := f.client.R().SetContext(ctx)
	if f.token != "" {
		req.SetAuthToken(f.token)
	}
	return req
}

func drainBody(resp *resty.Response) {
	if raw := resp.RawBody(); raw != nil {
		_, _ = io.Copy(io.Discard, raw)
		_ = raw.Close()
	}
}

// blockLRU is a tiny LRU keyed by block index.
type blockLRU struct {
	capacity int
	order    *list.List
	entries  map[int64]*list.Element
}

type lruEntry struct {
	idx  int64
	data []byte
}

func newBlockLRU(capacity int) *blockLRU {
	return &blockLRU{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[int64]*list.Element),
	}
}

func (l *blockLRU) get(idx int64) ([]byte, bool) {
	el, ok := l.entries[idx]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruEntry).data, true
}

func (l *blockLRU) put(idx int64, data []byte) {
	if el, ok := l.entries[idx]; ok {
		el.Value.(*lruEntry).data = data
		l.order.MoveToFront(el)
		return
	}
	l.entries[idx] = l.order.PushFront(&lruEntry{idx: idx, data: data})
	for l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.entries, oldest.Value.(*lruEntry).idx)
	}
}
