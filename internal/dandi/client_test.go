package dandi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/dandisets/000409/versions/draft/assets/", r.URL.Path)
		require.Equal(t, "sub-1/sub-1.nwb", r.URL.Query().Get("glob"))
		require.Equal(t, "false", r.URL.Query().Get("metadata"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"count": 1,
			"results": [
				{"asset_id": "abc-123", "path": "sub-1/sub-1.nwb", "size": 2048}
			]
		}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	asset, err := c.ResolveAsset(context.Background(), "000409", "draft", "sub-1/sub-1.nwb")
	require.NoError(t, err)
	require.Equal(t, "abc-123", asset.AssetID)
	require.Equal(t, "sub-1/sub-1.nwb", asset.Path)
	require.Equal(t, int64(2048), asset.Size)
	require.Equal(t, srv.URL+"/assets/abc-123/download/", asset.DownloadURL)
}

func TestResolveAssetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 0, "results": []}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.ResolveAsset(context.Background(), "000409", "draft", "missing.nwb")
	require.ErrorIs(t, err, ErrAssetNotFound)
}

func TestResolveAssetHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.ResolveAsset(context.Background(), "000409", "draft", "x.nwb")
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

func TestResolveAssetSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token sekrit", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 1, "results": [{"asset_id": "a", "path": "p", "size": 1}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIToken: "sekrit"})
	_, err := c.ResolveAsset(context.Background(), "000026", "0.230101.1234", "p")
	require.NoError(t, err)
}
