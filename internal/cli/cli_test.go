package cli

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := New(Version{Version: "1.2.3", Commit: "abcdef0", Date: "2026-08-29"})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func vlenScalar(s string) string {
	buf := make([]byte, 8+len(s))
	binary.LittleEndian.PutUint32(buf, 1)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(s)))
	copy(buf[8:], s)
	return "base64:" + base64.StdEncoding.EncodeToString(buf)
}

func writeLindiFixture(t *testing.T) string {
	t.Helper()

	strArray := `{"shape": [], "chunks": [], "dtype": "|O", "compressor": null, ` +
		`"filters": [{"id": "vlen-utf8"}], "fill_value": null, "order": "C", "zarr_format": 2}`

	refs := map[string]interface{}{
		".zgroup":                     `{"zarr_format": 2}`,
		".zattrs":                     `{"nwb_version": "2.6.0"}`,
		"session_description/.zarray": strArray,
		"session_description/0":       vlenScalar("cli test session"),
		"identifier/.zarray":          strArray,
		"identifier/0":                vlenScalar("id-cli"),
	}

	out, err := json.Marshal(map[string]interface{}{"refs": refs})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "session.lindi.json")
	require.NoError(t, os.WriteFile(path, out, 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	require.Equal(t, "nwbinfo 1.2.3 (commit abcdef0, built 2026-08-29)\n", out)
}

func TestUsageScriptCommand(t *testing.T) {
	path := writeLindiFixture(t)

	out, _, err := run(t, "usage-script", path)
	require.NoError(t, err)
	require.Contains(t, out,
		"# This script shows how to load the NWB file at "+path+" in Python using PyNWB")
	require.Contains(t, out, "nwb.session_description # (str) cli test session")
}

func TestUsageScriptHiddenAlias(t *testing.T) {
	path := writeLindiFixture(t)

	out, _, err := run(t, "ai-usage-script", path)
	require.NoError(t, err)
	require.Contains(t, out, "nwb.identifier # (str) id-cli")

	root := New(Version{})
	for _, c := range root.Commands() {
		if strings.HasPrefix(c.Use, "ai-usage-script") {
			require.True(t, c.Hidden)
		}
	}
}

func TestUsageScriptMissingTarget(t *testing.T) {
	_, _, err := run(t, "usage-script")
	require.Error(t, err)
}

func TestUsageScriptMissingFile(t *testing.T) {
	_, _, err := run(t, "usage-script", filepath.Join(t.TempDir(), "nope.nwb"))
	require.Error(t, err)
}

func TestTreeCommand(t *testing.T) {
	path := writeLindiFixture(t)

	out, _, err := run(t, "tree", path)
	require.NoError(t, err)
	require.Contains(t, out, "/  (group)")
	require.Contains(t, out, "/session_description  (dataset, shape [], dtype object)")
}

func TestConfigShow(t *testing.T) {
	out, _, err := run(t, "config", "show", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Contains(t, out, "block_size: 262144")
	require.Contains(t, out, "api_url: https://api.dandiarchive.org/api")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, _, err := run(t, "config", "init", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "level: info")

	_, _, err = run(t, "config", "init", "--config", path)
	require.ErrorContains(t, err, "already exists")
}

func TestFlagsOverrideConfig(t *testing.T) {
	_, _, err := run(t, "usage-script", "--block-size", "100", "somefile.nwb")
	require.ErrorContains(t, err, "block_size")
}
