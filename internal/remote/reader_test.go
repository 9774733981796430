package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testContent(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// rangeServer serves content with full Range support and counts GETs.
func rangeServer(t *testing.T, content []byte, gets *atomic.Int64) *httptest.Server {
	t.Helper()
	modTime := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.ServeContent(w, r, "data.nwb", modTime, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() Config {
	return Config{
		Client:      ClientConfig{Timeout: 5 * time.Second, RetryCount: 0},
		BlockSize:   64,
		CacheBlocks: 8,
	}
}

func TestOpenDiscoversSize(t *testing.T) {
	content := testContent(1000)
	var gets atomic.Int64
	srv := rangeServer(t, content, &gets)

	f, err := Open(context.Background(), srv.URL, testConfig())
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, int64(1000), f.Size())
}

func TestReadAtRoundTrip(t *testing.T) {
	content := testContent(1000)
	var gets atomic.Int64
	srv := rangeServer(t, content, &gets)

	f, err := Open(context.Background(), srv.URL, testConfig())
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 200)
	n, err := f.ReadAt(buf, 150)
	require.NoError(t, err)
	require.Equal(t, 200, n)
	require.Equal(t, content[150:350], buf)
}

func TestReadAtCachesBlocks(t *testing.T) {
	content := testContent(256)
	var gets atomic.Int64
	srv := rangeServer(t, content, &gets)

	f, err := Open(context.Background(), srv.URL, testConfig())
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 64)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	after := gets.Load()

	// Same range again: served from the LRU, no new requests.
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, after, gets.Load())
}

func TestReadAtCoalescesRun(t *testing.T) {
	content := testContent(1000)
	var gets atomic.Int64
	srv := rangeServer(t, content, &gets)

	f, err := Open(context.Background(), srv.URL, testConfig())
	require.NoError(t, err)
	defer f.Close()

	gets.Store(0)
	buf := make([]byte, 300) // spans five 64-byte blocks
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), gets.Load())
	require.Equal(t, content[:300], buf)
}

func TestReadAtTailAndEOF(t *testing.T) {
	content := testContent(100)
	var gets atomic.Int64
	srv := rangeServer(t, content, &gets)

	f, err := Open(context.Background(), srv.URL, testConfig())
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 50)
	n, err := f.ReadAt(buf, 80)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 20, n)
	require.Equal(t, content[80:], buf[:20])

	_, err = f.ReadAt(buf, 100)
	require.ErrorIs(t, err, io.EOF)
}

func TestOpenRejectsNoRangeSupport(t *testing.T) {
	content := testContent(500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length on HEAD, no Range handling on GET.
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL, testConfig())
	require.ErrorIs(t, err, ErrRangeUnsupported)
}

func TestOpenSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL, testConfig())
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	content := testContent(100)
	var gets atomic.Int64
	srv := rangeServer(t, content, &gets)

	f, err := Open(context.Background(), srv.URL, testConfig())
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestAuthTokenForwarded(t *testing.T) {
	content := testContent(100)
	var sawAuth atomic.Bool
	modTime := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer sekrit" {
			sawAuth.Store(true)
		}
		http.ServeContent(w, r, "data.nwb", modTime, bytes.NewReader(content))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.AuthToken = "sekrit"
	f, err := Open(context.Background(), srv.URL, cfg)
	require.NoError(t, err)
	defer f.Close()
	require.True(t, sawAuth.Load())
}

func TestBlockLRUEvicts(t *testing.T) {
	lru := newBlockLRU(2)
	lru.put(1, []byte{1})
	lru.put(2, []byte{2})
	lru.put(3, []byte{3})

	_, ok := lru.get(1)
	require.False(t, ok)
	b, ok := lru.get(3)
	require.True(t, ok)
	require.Equal(t, []byte{3}, b)
}

func TestBlockCachePersistsAcrossReaders(t *testing.T) {
	content := testContent(500)
	var gets atomic.Int64
	srv := rangeServer(t, content, &gets)

	dir := t.TempDir()
	cache, err := OpenBlockCache(dir)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.DiskCache = cache
	f, err := Open(context.Background(), srv.URL, cfg)
	require.NoError(t, err)

	buf := make([]byte, 100)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	fetched := gets.Load()

	cache, err = OpenBlockCache(dir)
	require.NoError(t, err)
	cfg.DiskCache = cache
	f, err = Open(context.Background(), srv.URL, cfg)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, fetched, gets.Load())
	require.Equal(t, content[:100], buf)
}

func TestParseContentRangeTotal(t *testing.T) {
	total, err := parseContentRangeTotal("bytes 0-0/4096")
	require.NoError(t, err)
	require.Equal(t, int64(4096), total)

	_, err = parseContentRangeTotal("bytes 0-0")
	require.Error(t, err)
}
