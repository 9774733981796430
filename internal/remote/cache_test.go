package remote

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockCachePutGetDelete(t *testing.T) {
	cache, err := OpenBlockCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	key := []byte("url|etag|0")
	_, ok := cache.Get(key)
	require.False(t, ok)

	require.NoError(t, cache.Put(key, []byte{1, 2, 3}))
	got, ok := cache.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, cache.Delete(key))
	_, ok = cache.Get(key)
	require.False(t, ok)

	// Deleting an absent key is not an error.
	require.NoError(t, cache.Delete([]byte("missing")))
}
