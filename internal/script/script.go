// Package script renders the Python usage script for an NWB file: a
// commented walkthrough of every container, field and dataset, written
// the way the original get-nwbfile-info tool prints it.
package script

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scigolib/nwbinfo/internal/nwb"
)

// How many dict items are spelled out before collapsing to a trailer.
const maxDictItems = 15

// Datasets below this element count get a commented value sample.
const sampleThreshold = 50

// SourceKind selects the loader block of the generated script.
type SourceKind int

const (
	// SourceLocal loads with pynwb.read_nwb from a path.
	SourceLocal SourceKind = iota
	// SourceRemote streams over HTTP with remfile.
	SourceRemote
	// SourceLindiLocal opens a local .lindi.json with the lindi package.
	SourceLindiLocal
	// SourceLindiRemote opens a remote .lindi.json with the lindi package.
	SourceLindiRemote
)

// DandiRef carries the provenance of a DANDI:<id>:<version>:<path>
// target; the loader block then goes through DandiAPIClient.
type DandiRef struct {
	DandisetID string
	Version    string
	Path       string
}

// Request describes what the script should load.
type Request struct {
	// Target is the path or URL the loader lines reference.
	Target string
	Kind   SourceKind
	Dandi  *DandiRef
}

// Generator renders usage scripts.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator returns a Generator logging through the given logger.
func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger}
}

// Generate renders the full script for the given root container.
func (g *Generator) Generate(ctx context.Context, req Request, root *nwb.Container) string {
	lines := headerLines(req)

	body := g.emitContainer(ctx, root, "nwb", nil)
	if hasDuplicates(body) {
		g.logger.Warn("duplicate entries found in the generated script")
	}

	lines = append(lines, body...)
	return strings.Join(lines, "\n")
}

func headerLines(req Request) []string {
	header := fmt.Sprintf("# This script shows how to load the NWB file at %s in Python using PyNWB", req.Target)
	if req.Dandi != nil {
		header = fmt.Sprintf(
			"# This script shows how to load the NWB file at %s in Dandiset %s version %s in Python using PyNWB",
			req.Dandi.Path, req.Dandi.DandisetID, req.Dandi.Version)
	}

	lines := []string{header, "", "import pynwb", "import h5py"}

	switch req.Kind {
	case SourceRemote:
		lines = append(lines, "import remfile", "", "# Load")
		if req.Dandi != nil {
			lines = append(lines,
				"from dandi.dandiapi import DandiAPIClient",
				"client = DandiAPIClient()",
				fmt.Sprintf("dandiset = client.get_dandiset(%q, %q)", req.Dandi.DandisetID, req.Dandi.Version),
				fmt.Sprintf("url = next(dandiset.get_assets_by_glob(%q)).download_url", req.Dandi.Path),
			)
		} else {
			lines = append(lines, fmt.Sprintf("url = %q", req.Target))
		}
		lines = append(lines,
			"remote_file = remfile.File(url)",
			"h5_file = h5py.File(remote_file)",
			"io = pynwb.NWBHDF5IO(file=h5_file)",
			"nwb = io.read()",
		)
	case SourceLindiRemote:
		lines = append(lines,
			"import lindi", "", "# Load",
			fmt.Sprintf("url = %q", req.Target),
			"f = lindi.LindiH5pyFile.from_lindi_file(url)",
			"io = pynwb.NWBHDF5IO(file=f, mode='r')",
			"nwb = io.read()",
		)
	case SourceLindiLocal:
		lines = append(lines,
			"import lindi", "", "# Load",
			fmt.Sprintf("path = %q", req.Target),
			"f = lindi.LindiH5pyFile.from_lindi_file(path)",
			"io = pynwb.NWBHDF5IO(file=f, mode='r')",
			"nwb = io.read()",
		)
	default:
		lines = append(lines,
			"", "# Load",
			fmt.Sprintf("path = %q", req.Target),
			"nwb = pynwb.read_nwb(path=path)",
		)
	}

	lines = append(lines, "")
	return lines
}

// emitContainer renders one container: its type line, its fields in
// order, then the dynamic-table block when present.
func (g *Generator) emitContainer(ctx context.Context, c *nwb.Container, expr string, scope []string) []string {
	lines := []string{fmt.Sprintf("%s # (%s)", expr, c.TypeName)}

	for _, f := range c.Fields {
		fieldExpr := expr + "." + f.Name
		switch f.Kind {
		case nwb.KindValue:
			lines = append(lines, fmt.Sprintf("%s # (%s) %s", fieldExpr, f.TypeName, formatValue(f.Value)))
		case nwb.KindLarge:
			lines = append(lines, fmt.Sprintf("%s # (%s)", fieldExpr, f.TypeName))
		case nwb.KindDataset:
			lines = append(lines, g.emitDataset(ctx, f.Dataset, fieldExpr)...)
		case nwb.KindDict:
			lines = append(lines, fmt.Sprintf("%s # (%s)", fieldExpr, f.TypeName))
			dictLines, newScope := g.emitDict(ctx, f, fieldExpr, scope)
			lines = append(lines, dictLines...)
			scope = newScope
		case nwb.KindContainer:
			lines = append(lines, g.emitContainer(ctx, f.Container, fieldExpr, scope)...)
		}
	}

	if c.Table != nil {
		lines = append(lines, g.emitTable(c.Table, expr)...)
	}
	return lines
}

// emitDataset renders the shape/dtype line, the commented slice-access
// lines for its rank, and a small-value sample when cheap to read.
func (g *Generator) emitDataset(ctx context.Context, d *nwb.Dataset, expr string) []string {
	lines := []string{fmt.Sprintf("%s # (Dataset) shape %s; dtype %s", expr, shapeTuple(d.Shape), d.Dtype)}

	switch len(d.Shape) {
	case 1:
		lines = append(lines,
			fmt.Sprintf("# %s[:] # Access all data", expr),
			fmt.Sprintf("# %s[0:n] # Access first n elements", expr),
		)
	case 2:
		lines = append(lines,
			fmt.Sprintf("# %s[:, :] # Access all data", expr),
			fmt.Sprintf("# %s[0:n, :] # Access first n rows", expr),
			fmt.Sprintf("# %s[:, 0:n] # Access first n columns", expr),
		)
	default:
		if len(d.Shape) >= 3 {
			lines = append(lines,
				fmt.Sprintf("# %s[:, :, :] # Access all data", expr),
				fmt.Sprintf("# %s[0, :, :] # Access first plane", expr),
			)
		}
	}

	if d.Count < sampleThreshold {
		if line, ok := g.sampleLine(ctx, d, expr); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func (g *Generator) sampleLine(ctx context.Context, d *nwb.Dataset, expr string) (string, bool) {
	var label string
	switch {
	case len(d.Shape) == 1 && d.Shape[0] > 0:
		label = "First few values of"
	case len(d.Shape) == 2 && d.Shape[0] > 0 && d.Shape[1] > 0:
		label = "First row sample of"
	default:
		return "", false
	}

	sample, err := d.Sample(ctx, 10)
	if err != nil {
		g.logger.Warn("could not read dataset sample", "expr", expr, "error", err)
		return "", false
	}
	line := fmt.Sprintf("# %s %s: %s", label, expr, formatArray(sample))
	return strings.ReplaceAll(line, "\n", " "), true
}

// emitDict renders labelled-dictionary access: a variable assignment
// for the dict, one per item, containers recursed in place. Keys
// starting with an underscore are private and skipped; past
// maxDictItems the rest collapse into an Other fields trailer.
func (g *Generator) emitDict(ctx context.Context, f nwb.Field, expr string, scope []string) ([]string, []string) {
	var lines []string

	dictExpr := expr
	if v := variableName(f.Name, scope); v != "" {
		lines = append(lines, fmt.Sprintf("%s = %s", v, expr))
		scope = append(scope, v)
		dictExpr = v
	}

	shown := 0
	var unshown []string
	for _, e := range f.Entries {
		if strings.HasPrefix(e.Key, "_") {
			continue
		}
		if shown >= maxDictItems {
			unshown = append(unshown, e.Key)
			continue
		}
		shown++

		itemExpr := fmt.Sprintf("%s[%q]", dictExpr, e.Key)
		typeName := e.TypeName
		if e.Container != nil {
			typeName = ""
		}

		itemVar := variableName(e.Key, scope)
		if itemVar != "" {
			scope = append(scope, itemVar)
			if typeName != "" {
				lines = append(lines, fmt.Sprintf("%s = %s # (%s)", itemVar, itemExpr, typeName))
			} else {
				lines = append(lines, fmt.Sprintf("%s = %s", itemVar, itemExpr))
			}
			itemExpr = itemVar
		} else {
			lines = append(lines, fmt.Sprintf("%s # (%s)", itemExpr, typeName))
		}

		if e.Container != nil {
			lines = append(lines, g.emitContainer(ctx, e.Container, itemExpr, scope)...)
		}
	}

	if len(unshown) > 0 {
		lines = append(lines, "# ...", "# Other fields: "+strings.Join(unshown, ", "))
	}
	return lines, scope
}

// emitTable renders the DynamicTable block: dataframe hints, one line
// per column, index previews for ragged columns.
func (g *Generator) emitTable(t *nwb.Table, expr string) []string {
	lines := []string{
		fmt.Sprintf("# %s.to_dataframe() # (DataFrame) Convert to a pandas DataFrame with %d rows and %d columns",
			expr, t.Rows, len(t.Columns)),
		fmt.Sprintf("# %s.to_dataframe().head() # (DataFrame) Show the first few rows of the pandas DataFrame", expr),
	}

	for _, col := range t.Columns {
		lines = append(lines, fmt.Sprintf("%s.%s # (%s) %s", expr, col.Name, col.TypeName, col.Description))
		if col.TypeName != "VectorIndex" {
			continue
		}
		shown := col.IndexLength
		if shown > 4 {
			shown = 4
		}
		for j := uint64(0); j < shown; j++ {
			lines = append(lines, fmt.Sprintf("# %s.%s_index[%d] # (ndarray)", expr, col.Name, j))
		}
		if col.IndexLength > 3 {
			lines = append(lines, "# ...")
		}
	}
	return lines
}

// variableName sanitizes a key into a Python identifier unique within
// scope: non-alphanumerics become underscores, a digit prefix gets an
// underscore, collisions get _1, _2, ... suffixes.
func variableName(name string, scope []string) string {
	if name == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}

	if !inScope(s, scope) {
		return s
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", s, i)
		if !inScope(candidate, scope) {
			return candidate
		}
	}
}

func inScope(name string, scope []string) bool {
	for _, s := range scope {
		if s == name {
			return true
		}
	}
	return false
}

func hasDuplicates(lines []string) bool {
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if seen[l] {
			return true
		}
		seen[l] = true
	}
	return false
}
