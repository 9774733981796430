package remote

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rosedblabs/rosedb/v2"
)

// BlockCache persists fetched blocks across runs in a rosedb store. Keys
// carry the source URL and a validator, so a changed remote file never
// serves stale blocks.
type BlockCache struct {
	db *rosedb.DB
}

// DefaultCacheDir returns the per-user cache directory for block data.
func DefaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache dir: %w", err)
	}
	return filepath.Join(base, "nwbinfo", "blocks"), nil
}

// OpenBlockCache opens (creating if needed) a block cache at dir.
func OpenBlockCache(dir string) (*BlockCache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	options := rosedb.DefaultOptions
	options.DirPath = dir
	db, err := rosedb.Open(options)
	if err != nil {
		return nil, fmt.Errorf("opening block cache: %w", err)
	}
	return &BlockCache{db: db}, nil
}

// Get returns the cached block, or false on a miss. Read errors count as
// misses so a corrupt cache degrades to refetching.
func (c *BlockCache) Get(key []byte) ([]byte, bool) {
	value, err := c.db.Get(key)
	if err != nil {
		return nil, false
	}
	return value, true
}

// Put stores one block.
func (c *BlockCache) Put(key, value []byte) error {
	return c.db.Put(key, value)
}

// Delete drops one block.
func (c *BlockCache) Delete(key []byte) error {
	err := c.db.Delete(key)
	if errors.Is(err, rosedb.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close closes the underlying store.
func (c *BlockCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("closing block cache: %w", err)
	}
	return nil
}
