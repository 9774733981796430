// Package dandi resolves DANDI archive references to asset download URLs
// through the DANDI REST API.
package dandi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/scigolib/nwbinfo/internal/remote"
)

// DefaultBaseURL is the public DANDI archive API root.
const DefaultBaseURL = "https://api.dandiarchive.org/api"

// ErrAssetNotFound is returned when a dandiset version has no asset
// matching the requested path.
var ErrAssetNotFound = errors.New("asset not found")

// Client talks to a DANDI archive instance.
type Client struct {
	base   string
	client *resty.Client
	token  string
	logger *slog.Logger
}

// Config configures a DANDI API client.
type Config struct {
	// BaseURL overrides DefaultBaseURL (private archive instances).
	BaseURL string
	// APIToken is sent as "Authorization: token <key>" for embargoed
	// dandisets. The DANDI API uses this scheme, not Bearer.
	APIToken string
	Client   remote.ClientConfig
	Logger   *slog.Logger
}

// New builds a client sharing the ranged reader's HTTP stack.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		client: remote.NewHTTPClient(cfg.Client),
		token:  cfg.APIToken,
		logger: logger,
	}
}

// Asset identifies a resolved dandiset asset.
type Asset struct {
	AssetID     string
	Path        string
	Size        int64
	DownloadURL string
}

type assetListResponse struct {
	Count   int `json:"count"`
	Results []struct {
		AssetID string `json:"asset_id"`
		Path    string `json:"path"`
		Size    int64  `json:"size"`
	} `json:"results"`
}

// ResolveAsset finds the asset at path within a dandiset version and
// returns its download URL. The path is matched as a glob; the first
// result wins.
func (c *Client) ResolveAsset(ctx context.Context, dandisetID, version, path string) (*Asset, error) {
	url := fmt.Sprintf("%s/dandisets/%s/versions/%s/assets/", c.base, dandisetID, version)

	var list assetListResponse
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("glob", path).
		SetQueryParam("metadata", "false").
		SetResult(&list)
	if c.token != "" {
		req.SetHeader("Authorization", "token "+c.token)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode())
	}
	if len(list.Results) == 0 {
		return nil, fmt.Errorf("dandiset %s version %s path %q: %w",
			dandisetID, version, path, ErrAssetNotFound)
	}

	r := list.Results[0]
	c.logger.Debug("resolved DANDI asset",
		"dandiset", dandisetID, "version", version, "path", r.Path, "asset_id", r.AssetID)

	return &Asset{
		AssetID:     r.AssetID,
		Path:        r.Path,
		Size:        r.Size,
		DownloadURL: fmt.Sprintf("%s/assets/%s/download/", c.base, r.AssetID),
	}, nil
}
