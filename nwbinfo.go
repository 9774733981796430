// Package nwbinfo inspects NWB (Neurodata Without Borders) files and
// generates Python usage scripts for them. Targets may be local HDF5
// files, remote URLs read through ranged requests, LINDI JSON indexes,
// or DANDI archive references.
package nwbinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/scigolib/nwbinfo/internal/config"
	"github.com/scigolib/nwbinfo/internal/dandi"
	"github.com/scigolib/nwbinfo/internal/lindi"
	"github.com/scigolib/nwbinfo/internal/logging"
	"github.com/scigolib/nwbinfo/internal/nwb"
	"github.com/scigolib/nwbinfo/internal/remote"
	"github.com/scigolib/nwbinfo/internal/script"
)

// SourceKind names how a target was opened.
type SourceKind string

const (
	SourceLocal       SourceKind = "local"
	SourceRemote      SourceKind = "remote"
	SourceLindiLocal  SourceKind = "lindi-local"
	SourceLindiRemote SourceKind = "lindi-remote"
	SourceDandi       SourceKind = "dandi"
)

// Provenance records how a DANDI reference resolved.
type Provenance struct {
	DandisetID string
	Version    string
	Path       string
	AssetURL   string
}

// Options configure Open.
type Options struct {
	Settings config.Settings
	Logger   *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithSettings supplies the full application settings.
func WithSettings(s config.Settings) Option {
	return func(o *Options) { o.Settings = s }
}

// WithLogger routes diagnostics through the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// File is an opened NWB target.
type File struct {
	Target string
	Kind   SourceKind
	Dandi  *Provenance // set for DANDI references

	src      nwb.Source
	resolved string // URL or path the loader lines reference
	logger   *slog.Logger
	closed   bool
}

// Open classifies the target and opens the matching source:
//
//	DANDI:<id>:<version>:<path>  resolved through the DANDI API
//	http(s)://...                remote HDF5 over ranged requests
//	*.lindi.json                 LINDI index, local or remote
//	*.lindi.tar                  unsupported, returns an error
//	anything else                local HDF5 file
func Open(ctx context.Context, target string, opts ...Option) (*File, error) {
	o := Options{Settings: config.Default(), Logger: logging.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	f := &File{Target: target, resolved: target, logger: o.Logger}

	if rest, ok := strings.CutPrefix(target, "DANDI:"); ok {
		if err := f.resolveDandi(ctx, rest, o); err != nil {
			return nil, err
		}
	}

	switch {
	case strings.HasSuffix(f.resolved, ".lindi.tar"):
		return nil, fmt.Errorf("%s: %w", f.resolved, lindi.ErrTarUnsupported)
	case strings.HasSuffix(f.resolved, ".lindi.json"):
		return f.openLindi(ctx, o)
	case isURL(f.resolved):
		return f.openRemote(ctx, o)
	default:
		return f.openLocal(o)
	}
}

func isURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

// resolveDandi parses DANDI:<id>:<version>:<path> (the path may itself
// contain colons) and swaps the target for the asset's download URL.
func (f *File) resolveDandi(ctx context.Context, rest string, o Options) error {
	parts := strings.Split(rest, ":")
	if len(parts) < 3 {
		return errors.New("invalid DANDI reference, expected DANDI:<dandiset>:<version>:<path>")
	}
	id, version := parts[0], parts[1]
	path := strings.Join(parts[2:], ":")

	client := dandi.New(dandi.Config{
		BaseURL:  o.Settings.Dandi.APIURL,
		APIToken: o.Settings.Dandi.APIKey,
		Client:   clientConfig(o),
		Logger:   o.Logger,
	})
	asset, err := client.ResolveAsset(ctx, id, version, path)
	if err != nil {
		return err
	}

	f.Dandi = &Provenance{
		DandisetID: id,
		Version:    version,
		Path:       path,
		AssetURL:   asset.DownloadURL,
	}
	f.resolved = asset.DownloadURL
	return nil
}

func clientConfig(o Options) remote.ClientConfig {
	return remote.ClientConfig{
		Timeout:    o.Settings.HTTP.Timeout,
		RetryCount: o.Settings.HTTP.RetryCount,
		RateLimit:  o.Settings.HTTP.RateLimit,
		RateBurst:  o.Settings.HTTP.RateBurst,
		Logger:     o.Logger,
	}
}

func (f *File) openRemote(ctx context.Context, o Options) (*File, error) {
	cfg := remote.Config{
		Client:      clientConfig(o),
		BlockSize:   o.Settings.Remote.BlockSize,
		CacheBlocks: o.Settings.Remote.CacheBlocks,
		AuthToken:   o.Settings.Dandi.APIKey,
		Logger:      o.Logger,
	}
	if o.Settings.Remote.DiskCache {
		dir := o.Settings.Remote.CacheDir
		if dir == "" {
			var err error
			dir, err = remote.DefaultCacheDir()
			if err != nil {
				return nil, err
			}
		}
		cache, err := remote.OpenBlockCache(dir)
		if err != nil {
			return nil, fmt.Errorf("open disk cache: %w", err)
		}
		cfg.DiskCache = cache
	}

	r, err := remote.Open(ctx, f.resolved, cfg)
	if err != nil {
		return nil, err
	}
	src, err := nwb.FromHDF5(r, r.Close)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("open %s: %w", f.resolved, err)
	}

	f.src = src
	f.Kind = SourceRemote
	if f.Dandi != nil {
		f.Kind = SourceDandi
	}
	return f, nil
}

func (f *File) openLindi(ctx context.Context, o Options) (*File, error) {
	store, err := lindi.Load(ctx, f.resolved, lindi.Config{
		Client: clientConfig(o),
		Logger: o.Logger,
	})
	if err != nil {
		return nil, err
	}

	f.src = nwb.FromLindi(store)
	if isURL(f.resolved) {
		f.Kind = SourceLindiRemote
	} else {
		f.Kind = SourceLindiLocal
	}
	return f, nil
}

func (f *File) openLocal(_ Options) (*File, error) {
	h, err := os.Open(f.resolved)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.resolved, err)
	}
	src, err := nwb.FromHDF5(h, h.Close)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("open %s: %w", f.resolved, err)
	}

	f.src = src
	f.Kind = SourceLocal
	return f, nil
}

// Close releases the underlying source. Safe to call more than once.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.src.Close()
}

// UsageScript renders the Python usage script for the opened file.
func (f *File) UsageScript(ctx context.Context) (string, error) {
	builder := nwb.NewBuilder(f.logger)
	root, err := builder.BuildFile(ctx, f.src)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Target, err)
	}

	req := script.Request{Target: f.resolved}
	switch f.Kind {
	case SourceRemote:
		req.Kind = script.SourceRemote
	case SourceDandi:
		req.Kind = script.SourceRemote
		req.Dandi = &script.DandiRef{
			DandisetID: f.Dandi.DandisetID,
			Version:    f.Dandi.Version,
			Path:       f.Dandi.Path,
		}
	case SourceLindiRemote:
		req.Kind = script.SourceLindiRemote
	case SourceLindiLocal:
		req.Kind = script.SourceLindiLocal
	default:
		req.Kind = script.SourceLocal
	}

	return script.NewGenerator(f.logger).Generate(ctx, req, root), nil
}

// Tree walks the structural listing of the opened file.
func (f *File) Tree(fn func(nwb.TreeEntry) error) error {
	return nwb.Walk(f.src, fn)
}

// UsageScript opens a target, renders its usage script and closes it.
func UsageScript(ctx context.Context, target string, opts ...Option) (string, error) {
	f, err := Open(ctx, target, opts...)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return f.UsageScript(ctx)
}
