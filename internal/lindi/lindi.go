// Package lindi reads LINDI files: JSON indexes over HDF5-style trees
// with zarr-flavored keys, as produced by the lindi Python package.
package lindi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/scigolib/nwbinfo/internal/remote"
)

// ErrTarUnsupported is returned for .lindi.tar targets, which pack chunk
// data into a tar alongside the index and are not supported here.
var ErrTarUnsupported = errors.New(".lindi.tar files are not supported")

// Config configures how a LINDI index is fetched.
type Config struct {
	Client remote.ClientConfig
	Logger *slog.Logger
}

// Store is a parsed LINDI index. Keys follow zarr conventions:
// ".zgroup" marks a group, ".zattrs" holds its JSON attributes,
// ".zarray" describes a dataset, and "0.0"-style keys reference chunks.
type Store struct {
	refs   map[string]json.RawMessage
	base   *url.URL // set when the index came from a URL
	dir    string   // set when the index came from a local file
	client *resty.Client
	logger *slog.Logger
}

type indexFile struct {
	Refs map[string]json.RawMessage `json:"refs"`
}

// Load reads a .lindi.json index from a local path or URL. The full
// index is fetched once; chunk payloads referenced by URL are fetched
// lazily with ranged GETs.
func Load(ctx context.Context, target string, cfg Config) (*Store, error) {
	if strings.HasSuffix(target, ".lindi.tar") {
		return nil, fmt.Errorf("%s: %w", target, ErrTarUnsupported)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		client: remote.NewHTTPClient(cfg.Client),
		logger: logger,
	}

	var raw []byte
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", target, err)
		}
		s.base = u
		resp, err := s.client.R().SetContext(ctx).Get(target)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", target, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("GET %s: HTTP %d", target, resp.StatusCode())
		}
		raw = resp.Body()
	} else {
		var err error
		raw, err = os.ReadFile(target)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", target, err)
		}
		s.dir = filepath.Dir(target)
	}

	var idx indexFile
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("parse LINDI index %s: %w", target, err)
	}
	if idx.Refs == nil {
		return nil, fmt.Errorf("%s: no refs object in LINDI index", target)
	}
	s.refs = idx.Refs
	return s, nil
}

// key builds the refs key for a metadata file under path. Path "" is
// the root.
func key(path, name string) string {
	if path == "" {
		return name
	}
	return path + "/" + name
}

// IsGroup reports whether path is a group in the tree.
func (s *Store) IsGroup(path string) bool {
	_, ok := s.refs[key(path, ".zgroup")]
	return ok
}

// IsDataset reports whether path is a dataset in the tree.
func (s *Store) IsDataset(path string) bool {
	_, ok := s.refs[key(path, ".zarray")]
	return ok
}

// Attrs returns the JSON attributes stored at path, or an empty map
// when none exist.
func (s *Store) Attrs(path string) (map[string]interface{}, error) {
	raw, ok := s.refs[key(path, ".zattrs")]
	if !ok {
		return map[string]interface{}{}, nil
	}
	text, err := s.inlineText(raw)
	if err != nil {
		return nil, fmt.Errorf("attributes of %q: %w", path, err)
	}
	attrs := map[string]interface{}{}
	if err := json.Unmarshal(text, &attrs); err != nil {
		return nil, fmt.Errorf("attributes of %q: %w", path, err)
	}
	return attrs, nil
}

// Children lists the immediate child names under a group path, sorted.
func (s *Store) Children(path string) []string {
	prefix := ""
	if path != "" {
		prefix = path + "/"
	}

	seen := map[string]bool{}
	for k := range s.refs {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			continue // metadata or chunk key of this very node
		}
		name := rest[:slash]
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// inlineText extracts the textual payload of a metadata ref. Metadata
// values are stored as JSON strings holding the file's text.
func (s *Store) inlineText(raw json.RawMessage) ([]byte, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("metadata ref is not a string: %w", err)
	}
	if payload, ok := strings.CutPrefix(text, "base64:"); ok {
		return decodeBase64(payload)
	}
	return []byte(text), nil
}
