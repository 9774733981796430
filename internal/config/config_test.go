package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), s)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
http:
  timeout: 10s
remote:
  block_size: 8192
  disk_cache: true
`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", s.Log.Level)
	require.Equal(t, 10*time.Second, s.HTTP.Timeout)
	require.Equal(t, int64(8192), s.Remote.BlockSize)
	require.True(t, s.Remote.DiskCache)
	// Unset keys keep their defaults.
	require.Equal(t, "https://api.dandiarchive.org/api", s.Dandi.APIURL)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), s)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NWBINFO_DANDI_API_KEY", "sekrit")
	t.Setenv("NWBINFO_LOG_LEVEL", "warn")

	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sekrit", s.Dandi.APIKey)
	require.Equal(t, "warn", s.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero timeout", func(s *Settings) { s.HTTP.Timeout = 0 }},
		{"negative retries", func(s *Settings) { s.HTTP.RetryCount = -1 }},
		{"tiny block size", func(s *Settings) { s.Remote.BlockSize = 1024 }},
		{"zero cache blocks", func(s *Settings) { s.Remote.CacheBlocks = 0 }},
		{"bad log format", func(s *Settings) { s.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			require.Error(t, s.Validate())
		})
	}

	require.NoError(t, Default().Validate())
}

func TestYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	s := Default()
	s.Log.Level = "debug"
	require.NoError(t, s.WriteFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, s, loaded)
}
