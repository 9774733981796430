package nwb

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// Attributes pynwb strips from the field view.
var reservedAttrs = map[string]bool{
	"neurodata_type": true,
	"namespace":      true,
	"object_id":      true,
	"help":           true,
	".specloc":       true,
}

// Attributes of the data dataset that pynwb hoists onto the parent
// container (TimeSeries and friends).
var hoistedDataAttrs = []string{"unit", "conversion", "resolution", "offset"}

// Multi-container interface types and the pynwb collection field their
// children live under.
var collectionFields = map[string]string{
	"ProcessingModule":     "data_interfaces",
	"LFP":                  "electrical_series",
	"FilteredEphys":        "electrical_series",
	"Position":             "spatial_series",
	"EyeTracking":          "spatial_series",
	"CompassDirection":     "spatial_series",
	"Fluorescence":         "roi_response_series",
	"DfOverF":              "roi_response_series",
	"BehavioralTimeSeries": "time_series",
	"BehavioralEvents":     "time_series",
	"BehavioralEpochs":     "interval_series",
	"ImageSegmentation":    "plane_segmentations",
}

var dynamicTableTypes = map[string]bool{
	"DynamicTable":      true,
	"Units":             true,
	"TimeIntervals":     true,
	"PlaneSegmentation": true,
	"ElectrodeTable":    true,
}

// Builder turns tree nodes into containers. Per-child failures are
// logged and skipped so one bad object never sinks the whole view.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder returns a Builder logging through the given logger.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// TypeOf returns the group's neurodata_type, or "" for plain groups.
func TypeOf(g GroupNode) string {
	attrs, err := g.Attrs()
	if err != nil {
		return ""
	}
	if t, ok := attrs["neurodata_type"].(string); ok {
		return t
	}
	return ""
}

// BuildContainer maps a typed group onto its pynwb field view.
func (b *Builder) BuildContainer(ctx context.Context, g GroupNode) (*Container, error) {
	attrs, err := g.Attrs()
	if err != nil {
		return nil, err
	}
	typeName, _ := attrs["neurodata_type"].(string)

	c := &Container{
		TypeName: typeName,
		Name:     g.Name(),
	}

	var plain []Field // non-container fields
	var nested []Field

	for name, v := range attrs {
		if reservedAttrs[name] {
			continue
		}
		plain = append(plain, b.valueField(name, v))
	}

	names, err := g.ChildNames()
	if err != nil {
		return nil, err
	}

	var childContainers []DictEntry
	for _, name := range names {
		child, err := g.Child(name)
		if err != nil {
			b.logger.Debug("skipping unresolvable child", "path", g.Path(), "child", name, "error", err)
			continue
		}
		switch n := child.(type) {
		case DatasetNode:
			plain = append(plain, b.datasetFields(ctx, name, n, &plain)...)
		case GroupNode:
			if TypeOf(n) == "" {
				plain = append(plain, b.dictField(ctx, name, n))
				continue
			}
			sub, err := b.BuildContainer(ctx, n)
			if err != nil {
				b.logger.Debug("skipping unreadable container", "path", child.Path(), "error", err)
				continue
			}
			if collection := collectionFields[typeName]; collection != "" {
				childContainers = append(childContainers, DictEntry{Key: name, Container: sub})
			} else {
				nested = append(nested, Field{Name: name, Kind: KindContainer, TypeName: sub.TypeName, Container: sub})
			}
		}
	}

	if collection := collectionFields[typeName]; collection != "" && len(childContainers) > 0 {
		plain = append(plain, Field{
			Name:     collection,
			Kind:     KindDict,
			TypeName: "LabelledDict",
			Entries:  childContainers,
		})
	}

	if dynamicTableTypes[typeName] || attrs["colnames"] != nil {
		table, err := b.buildTable(g, attrs)
		if err != nil {
			b.logger.Debug("skipping table view", "path", g.Path(), "error", err)
		} else {
			c.Table = table
		}
	}

	sortFields(plain)
	sortFields(nested)
	c.Fields = append(plain, nested...)
	return c, nil
}

func sortFields(fields []Field) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
}

func (b *Builder) valueField(name string, v interface{}) Field {
	typeName := TypeNameOf(v)
	if s, ok := v.(string); ok && looksLikeTimeField(name) {
		if _, isTime := parseDatetime(s); isTime {
			typeName = "datetime"
		}
	}
	if !IsSmallValue(v) {
		if list, ok := v.([]interface{}); ok && len(list) >= 10 {
			return Field{Name: name, Kind: KindLarge, TypeName: "ndarray", Value: list}
		}
		return Field{Name: name, Kind: KindLarge, TypeName: typeName}
	}
	return Field{Name: name, Kind: KindValue, TypeName: typeName, Value: v}
}

func looksLikeTimeField(name string) bool {
	return strings.Contains(name, "time") || strings.Contains(name, "date")
}

// datasetFields maps one child dataset onto fields: scalars become
// small values, arrays become dataset fields, and well-known attributes
// hoist onto the parent.
func (b *Builder) datasetFields(ctx context.Context, name string, n DatasetNode, siblings *[]Field) []Field {
	var out []Field

	attrs, err := n.Attrs()
	if err != nil {
		attrs = map[string]interface{}{}
	}

	switch name {
	case "data":
		for _, hoist := range hoistedDataAttrs {
			if v, ok := attrs[hoist]; ok && !hasField(*siblings, hoist) {
				out = append(out, b.valueField(hoist, v))
			}
		}
	case "starting_time":
		if v, ok := attrs["rate"]; ok && !hasField(*siblings, "rate") {
			out = append(out, b.valueField("rate", v))
		}
	}

	if n.IsScalar() {
		v, err := n.Value(ctx)
		if err != nil {
			b.logger.Warn("could not read scalar dataset", "path", n.Path(), "error", err)
			out = append(out, Field{Name: name, Kind: KindLarge, TypeName: "Dataset"})
			return out
		}
		out = append(out, b.valueField(name, v))
		return out
	}

	out = append(out, Field{
		Name:     name,
		Kind:     KindDataset,
		TypeName: "Dataset",
		Dataset:  NewDataset(n),
	})
	return out
}

func hasField(fields []Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// dictField maps an untyped child group onto a labelled dictionary of
// its members.
func (b *Builder) dictField(ctx context.Context, name string, g GroupNode) Field {
	f := Field{Name: name, Kind: KindDict, TypeName: "LabelledDict"}

	names, err := g.ChildNames()
	if err != nil {
		b.logger.Debug("skipping unreadable dict group", "path", g.Path(), "error", err)
		return f
	}
	for _, key := range names {
		child, err := g.Child(key)
		if err != nil {
			b.logger.Debug("skipping unresolvable child", "path", g.Path(), "child", key, "error", err)
			continue
		}
		f.Entries = append(f.Entries, b.dictEntry(ctx, key, child))
	}
	return f
}

func (b *Builder) dictEntry(ctx context.Context, key string, child Node) DictEntry {
	switch n := child.(type) {
	case GroupNode:
		if TypeOf(n) != "" {
			if sub, err := b.BuildContainer(ctx, n); err == nil {
				return DictEntry{Key: key, Container: sub}
			}
		}
		return DictEntry{Key: key, TypeName: "dict"}
	case DatasetNode:
		if n.IsScalar() {
			if v, err := n.Value(ctx); err == nil {
				return DictEntry{Key: key, TypeName: TypeNameOf(v), Value: v, HasValue: true}
			}
		}
		return DictEntry{Key: key, TypeName: "Dataset"}
	default:
		return DictEntry{Key: key, TypeName: "object"}
	}
}

// buildTable assembles the DynamicTable view: row count from the id
// column, one entry per colnames member, index lengths from the
// matching _index columns.
func (b *Builder) buildTable(g GroupNode, attrs map[string]interface{}) (*Table, error) {
	table := &Table{}

	if id, err := g.Child("id"); err == nil {
		if ds, ok := id.(DatasetNode); ok {
			table.Rows = ds.ElementCount()
		}
	}

	colnames, _ := attrs["colnames"].([]interface{})
	for _, cn := range colnames {
		name, ok := cn.(string)
		if !ok {
			continue
		}
		col := TableColumn{Name: name, TypeName: "VectorData"}

		if child, err := g.Child(name); err == nil {
			colAttrs, aerr := child.Attrs()
			if aerr == nil {
				if d, ok := colAttrs["description"].(string); ok {
					col.Description = d
				}
				if t, ok := colAttrs["neurodata_type"].(string); ok {
					col.TypeName = t
				}
			}
		}
		if idx, err := g.Child(name + "_index"); err == nil {
			if ds, ok := idx.(DatasetNode); ok {
				col.TypeName = "VectorIndex"
				col.IndexLength = ds.ElementCount()
			}
		}
		table.Columns = append(table.Columns, col)
	}
	return table, nil
}
