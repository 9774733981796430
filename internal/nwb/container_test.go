package nwb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// In-memory tree for exercising the field model without a real file.

type fakeGroup struct {
	name     string
	path     string
	attrs    map[string]interface{}
	children map[string]Node
	order    []string
}

func newFakeGroup(name string, attrs map[string]interface{}) *fakeGroup {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return &fakeGroup{name: name, path: "/" + name, attrs: attrs, children: map[string]Node{}}
}

func (g *fakeGroup) add(name string, n Node) *fakeGroup {
	g.children[name] = n
	g.order = append(g.order, name)
	return g
}

func (g *fakeGroup) Name() string                           { return g.name }
func (g *fakeGroup) Path() string                           { return g.path }
func (g *fakeGroup) Attrs() (map[string]interface{}, error) { return g.attrs, nil }
func (g *fakeGroup) ChildNames() ([]string, error)          { return g.order, nil }

func (g *fakeGroup) Child(name string) (Node, error) {
	n, ok := g.children[name]
	if !ok {
		return nil, fmt.Errorf("no child named %q", name)
	}
	return n, nil
}

type fakeDataset struct {
	name   string
	attrs  map[string]interface{}
	shape  []uint64
	dtype  string
	values []interface{}
}

func (d *fakeDataset) Name() string { return d.name }
func (d *fakeDataset) Path() string { return "/" + d.name }

func (d *fakeDataset) Attrs() (map[string]interface{}, error) {
	if d.attrs == nil {
		return map[string]interface{}{}, nil
	}
	return d.attrs, nil
}

func (d *fakeDataset) Shape() []uint64  { return d.shape }
func (d *fakeDataset) DtypeName() string { return d.dtype }
func (d *fakeDataset) IsScalar() bool   { return len(d.shape) == 0 }

func (d *fakeDataset) ElementCount() uint64 {
	count := uint64(1)
	for _, s := range d.shape {
		count *= s
	}
	return count
}

func (d *fakeDataset) Value(context.Context) (interface{}, error) {
	return d.values[0], nil
}

func (d *fakeDataset) Read(context.Context) ([]interface{}, error) {
	return d.values, nil
}

type fakeSource struct{ root *fakeGroup }

func (s *fakeSource) Root() (GroupNode, error) { return s.root, nil }
func (s *fakeSource) Close() error             { return nil }

func scalarStr(name, v string) *fakeDataset {
	return &fakeDataset{name: name, dtype: "object", values: []interface{}{v}}
}

func findField(t *testing.T, c *Container, name string) Field {
	t.Helper()
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no field named %q", name)
	return Field{}
}

func hasFieldNamed(c *Container, name string) bool {
	for _, f := range c.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func timeSeriesGroup(name string) *fakeGroup {
	g := newFakeGroup(name, map[string]interface{}{
		"neurodata_type": "TimeSeries",
		"namespace":      "core",
		"description":    "a signal",
	})
	g.add("data", &fakeDataset{
		name:  "data",
		shape: []uint64{100},
		dtype: "float64",
		attrs: map[string]interface{}{
			"unit":       "volts",
			"conversion": float64(1),
		},
	})
	g.add("starting_time", &fakeDataset{
		name:   "starting_time",
		dtype:  "float64",
		values: []interface{}{float64(0)},
		attrs:  map[string]interface{}{"rate": float64(30000)},
	})
	return g
}

func TestBuildContainerTimeSeries(t *testing.T) {
	b := NewBuilder(nil)
	c, err := b.BuildContainer(context.Background(), timeSeriesGroup("ts"))
	require.NoError(t, err)

	require.Equal(t, "TimeSeries", c.TypeName)
	require.False(t, hasFieldNamed(c, "neurodata_type"))
	require.False(t, hasFieldNamed(c, "namespace"))

	desc := findField(t, c, "description")
	require.Equal(t, KindValue, desc.Kind)
	require.Equal(t, "a signal", desc.Value)

	// Hoisted off the data dataset.
	require.Equal(t, "volts", findField(t, c, "unit").Value)
	require.Equal(t, float64(1), findField(t, c, "conversion").Value)

	// Hoisted off starting_time, plus the scalar itself.
	require.Equal(t, float64(30000), findField(t, c, "rate").Value)
	require.Equal(t, float64(0), findField(t, c, "starting_time").Value)

	data := findField(t, c, "data")
	require.Equal(t, KindDataset, data.Kind)
	require.Equal(t, []uint64{100}, data.Dataset.Shape)
	require.Equal(t, "float64", data.Dataset.Dtype)
}

func TestBuildContainerCollectionField(t *testing.T) {
	module := newFakeGroup("behavior", map[string]interface{}{
		"neurodata_type": "ProcessingModule",
		"description":    "behavioral data",
	})
	module.add("Position", newFakeGroup("Position", map[string]interface{}{
		"neurodata_type": "Position",
	}))
	module.add("ts", timeSeriesGroup("ts"))

	b := NewBuilder(nil)
	c, err := b.BuildContainer(context.Background(), module)
	require.NoError(t, err)

	di := findField(t, c, "data_interfaces")
	require.Equal(t, KindDict, di.Kind)
	require.Len(t, di.Entries, 2)
	require.Equal(t, "Position", di.Entries[0].Key)
	require.Equal(t, "Position", di.Entries[0].Container.TypeName)
	require.Equal(t, "ts", di.Entries[1].Key)

	// Collection members are not duplicated as direct container fields.
	require.False(t, hasFieldNamed(c, "Position"))
	require.False(t, hasFieldNamed(c, "ts"))
}

func TestBuildContainerDynamicTable(t *testing.T) {
	trials := newFakeGroup("trials", map[string]interface{}{
		"neurodata_type": "TimeIntervals",
		"colnames":       []interface{}{"start_time", "stop_time", "spike_times"},
		"description":    "experimental trials",
	})
	trials.add("id", &fakeDataset{name: "id", shape: []uint64{12}, dtype: "int64"})
	trials.add("start_time", &fakeDataset{
		name: "start_time", shape: []uint64{12}, dtype: "float64",
		attrs: map[string]interface{}{"description": "start of trial"},
	})
	trials.add("stop_time", &fakeDataset{
		name: "stop_time", shape: []uint64{12}, dtype: "float64",
		attrs: map[string]interface{}{"description": "end of trial"},
	})
	trials.add("spike_times", &fakeDataset{name: "spike_times", shape: []uint64{40}, dtype: "float64"})
	trials.add("spike_times_index", &fakeDataset{name: "spike_times_index", shape: []uint64{12}, dtype: "uint64"})

	b := NewBuilder(nil)
	c, err := b.BuildContainer(context.Background(), trials)
	require.NoError(t, err)

	require.NotNil(t, c.Table)
	require.Equal(t, uint64(12), c.Table.Rows)
	require.Len(t, c.Table.Columns, 3)

	require.Equal(t, "start_time", c.Table.Columns[0].Name)
	require.Equal(t, "start of trial", c.Table.Columns[0].Description)
	require.Equal(t, "VectorData", c.Table.Columns[0].TypeName)

	spikes := c.Table.Columns[2]
	require.Equal(t, "VectorIndex", spikes.TypeName)
	require.Equal(t, uint64(12), spikes.IndexLength)
}

func TestBuildContainerDictField(t *testing.T) {
	g := newFakeGroup("thing", map[string]interface{}{"neurodata_type": "Thing"})
	untyped := newFakeGroup("extras", nil)
	untyped.add("note", scalarStr("note", "hello"))
	untyped.add("sub", timeSeriesGroup("sub"))
	g.add("extras", untyped)

	b := NewBuilder(nil)
	c, err := b.BuildContainer(context.Background(), g)
	require.NoError(t, err)

	extras := findField(t, c, "extras")
	require.Equal(t, KindDict, extras.Kind)
	require.Equal(t, "LabelledDict", extras.TypeName)
	require.Len(t, extras.Entries, 2)
	require.Equal(t, "note", extras.Entries[0].Key)
	require.True(t, extras.Entries[0].HasValue)
	require.Equal(t, "hello", extras.Entries[0].Value)
	require.NotNil(t, extras.Entries[1].Container)
}

func TestValueFieldDatetime(t *testing.T) {
	b := NewBuilder(nil)
	f := b.valueField("session_start_time", "2023-05-01T12:30:00+00:00")
	require.Equal(t, "datetime", f.TypeName)

	f = b.valueField("description", "2023 experiments")
	require.Equal(t, "str", f.TypeName)
}

func TestIsSmallValue(t *testing.T) {
	require.True(t, IsSmallValue("x"))
	require.True(t, IsSmallValue(int64(5)))
	require.True(t, IsSmallValue(nil))
	require.True(t, IsSmallValue([]interface{}{int64(1), int64(2)}))

	big := make([]interface{}, 10)
	for i := range big {
		big[i] = int64(i)
	}
	require.False(t, IsSmallValue(big))
}
