package nwbinfo

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/nwbinfo/internal/lindi"
	"github.com/scigolib/nwbinfo/internal/nwb"
)

func TestOpenRejectsBadDandiReference(t *testing.T) {
	_, err := Open(context.Background(), "DANDI:000409:draft")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid DANDI reference")
}

func TestOpenRejectsLindiTar(t *testing.T) {
	_, err := Open(context.Background(), "/data/file.lindi.tar")
	require.ErrorIs(t, err, lindi.ErrTarUnsupported)
}

func TestOpenMissingLocalFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.nwb"))
	require.Error(t, err)
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
	floatArray := `{"shape": [100], "chunks": [100], "dtype": "<f8", "compressor": null, ` +
		`"filters": null, "fill_value": null, "order": "C", "zarr_format": 2}`

	refs := map[string]interface{}{
		".zgroup": `{"zarr_format": 2}`,
		".zattrs": `{"nwb_version": "2.6.0"}`,

		"session_description/.zarray": strArray,
		"session_description/0":       vlenScalar("lindi test session"),
		"identifier/.zarray":          strArray,
		"identifier/0":                vlenScalar("id-001"),

		"acquisition/.zgroup":            `{"zarr_format": 2}`,
		"acquisition/speed/.zgroup":      `{"zarr_format": 2}`,
		"acquisition/speed/.zattrs":      `{"neurodata_type": "TimeSeries", "namespace": "core", "description": "running speed"}`,
		"acquisition/speed/data/.zarray": floatArray,
		"acquisition/speed/data/.zattrs": `{"unit": "m/s"}`,
	}

	out, err := json.Marshal(map[string]interface{}{"refs": refs})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "session.lindi.json")
	require.NoError(t, os.WriteFile(path, out, 0o600))
	return path
}

func TestUsageScriptFromLindi(t *testing.T) {
	path := writeLindiFixture(t)

	out, err := UsageScript(context.Background(), path)
	require.NoError(t, err)
	lines := strings.Split(out, "\n")

	require.Equal(t,
		"# This script shows how to load the NWB file at "+path+" in Python using PyNWB",
		lines[0])
	require.Contains(t, lines, "import lindi")
	require.Contains(t, lines, `path = "`+path+`"`)
	require.Contains(t, lines, "f = lindi.LindiH5pyFile.from_lindi_file(path)")

	require.Contains(t, lines, "nwb # (NWBFile)")
	require.Contains(t, lines, "nwb.session_description # (str) lindi test session")
	require.Contains(t, lines, "nwb.identifier # (str) id-001")
	require.Contains(t, lines, "nwb.acquisition # (LabelledDict)")
	require.Contains(t, lines, `speed = acquisition["speed"]`)
	require.Contains(t, lines, "speed # (TimeSeries)")
	require.Contains(t, lines, "speed.description # (str) running speed")
	require.Contains(t, lines, "speed.unit # (str) m/s")
	require.Contains(t, lines, "speed.data # (Dataset) shape (100,); dtype float64")
	require.Contains(t, lines, "# speed.data[0:n] # Access first n elements")
}

func TestOpenLindiKind(t *testing.T) {
	path := writeLindiFixture(t)

	f, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, SourceLindiLocal, f.Kind)

	var paths []string
	require.NoError(t, f.Tree(func(e nwb.TreeEntry) error {
		paths = append(paths, e.Path)
		return nil
	}))
	require.Contains(t, paths, "/")
	require.Contains(t, paths, "/acquisition/speed/data")

	require.NoError(t, f.Close())
	require.NoError(t, f.Close()) // idempotent
}
