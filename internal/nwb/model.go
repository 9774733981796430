package nwb

import (
	"context"
	"time"
)

// FieldKind discriminates what a container field holds.
type FieldKind int

const (
	// KindValue is a small in-memory value shown inline.
	KindValue FieldKind = iota
	// KindLarge is a value too big to show; only its type is printed.
	KindLarge
	// KindDataset is an on-disk dataset accessed by slicing.
	KindDataset
	// KindDict is a labelled dictionary of named entries.
	KindDict
	// KindContainer is a nested typed container.
	KindContainer
)

// Field is one pynwb-style field of a container.
type Field struct {
	Name string
	Kind FieldKind

	// TypeName is the Python-style type shown in comments (str, int64,
	// float64, bool, datetime, list, ndarray, LabelledDict, ...).
	TypeName string

	Value     interface{} // KindValue
	Dataset   *Dataset    // KindDataset
	Entries   []DictEntry // KindDict
	Container *Container  // KindContainer
}

// DictEntry is one keyed item of a dict-like field.
type DictEntry struct {
	Key       string
	Container *Container  // nil for plain values
	TypeName  string      // set when Container is nil
	Value     interface{} // shown when small
	HasValue  bool
}

// Dataset describes a dataset field without reading it.
type Dataset struct {
	Shape []uint64
	Dtype string
	Count uint64

	node DatasetNode
}

// NewDataset builds a dataset descriptor over a tree node.
func NewDataset(node DatasetNode) *Dataset {
	return &Dataset{
		Shape: node.Shape(),
		Dtype: node.DtypeName(),
		Count: node.ElementCount(),
		node:  node,
	}
}

// Sample reads up to limit leading elements for the commented preview.
// For 2-D datasets it reads the first row.
func (d *Dataset) Sample(ctx context.Context, limit int) ([]interface{}, error) {
	elems, err := d.node.Read(ctx)
	if err != nil {
		return nil, err
	}
	if len(d.Shape) == 2 {
		cols := int(d.Shape[1]) //nolint:gosec // G115: guarded by Count < 50 upstream
		if cols < limit {
			limit = cols
		}
		if limit > len(elems) {
			limit = len(elems)
		}
		return elems[:limit], nil
	}
	if limit > len(elems) {
		limit = len(elems)
	}
	return elems[:limit], nil
}

// Container is a typed NWB object: a group carrying a neurodata_type.
type Container struct {
	TypeName string
	Name     string
	Fields   []Field

	// Table is set when the container is a DynamicTable.
	Table *Table
}

// Table is the DynamicTable face of a container.
type Table struct {
	Rows    uint64
	Columns []TableColumn
}

// TableColumn is one column of a DynamicTable.
type TableColumn struct {
	Name        string
	TypeName    string // VectorData, VectorIndex or a subtype
	Description string

	// IndexLength is the entry count of the matching <name>_index
	// column, 0 when the column is not indexed.
	IndexLength uint64
}

// TypeNameOf maps a decoded value to the Python-style type name the
// comments use.
func TypeNameOf(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case int64:
		return "int64"
	case uint64:
		return "uint64"
	case float64:
		return "float64"
	case string:
		return "str"
	case []interface{}:
		// Decoded attribute arrays surface in Python as numpy arrays.
		return "ndarray"
	default:
		_ = x
		return "object"
	}
}

// parseDatetime recognizes the ISO-8601 timestamps NWB stores for
// session_start_time and friends.
func parseDatetime(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999-07:00",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsSmallValue reports whether a value is small enough to print inline:
// scalars, datetimes, and lists shorter than 10 of small values.
func IsSmallValue(v interface{}) bool {
	switch x := v.(type) {
	case nil, bool, int64, uint64, float64, string:
		return true
	case []interface{}:
		if len(x) >= 10 {
			return false
		}
		for _, item := range x {
			if !IsSmallValue(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
