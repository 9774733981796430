// Package nwb builds a pynwb-like semantic view over an HDF5 or LINDI
// tree: containers with typed fields, dynamic tables and labelled
// dictionaries, the shape a generated usage script walks.
package nwb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scigolib/nwbinfo/internal/hfile"
	"github.com/scigolib/nwbinfo/internal/lindi"
	"github.com/scigolib/nwbinfo/internal/utils"
)

// Source is a readable NWB tree, HDF5 or LINDI backed.
type Source interface {
	Root() (GroupNode, error)
	Close() error
}

// Node is a named member of the tree.
type Node interface {
	Name() string
	Path() string
	Attrs() (map[string]interface{}, error)
}

// GroupNode is a group: attributes plus named children.
type GroupNode interface {
	Node
	ChildNames() ([]string, error)
	Child(name string) (Node, error)
}

// DatasetNode is a dataset: shape, dtype and lazily read values.
type DatasetNode interface {
	Node
	Shape() []uint64
	DtypeName() string
	ElementCount() uint64
	IsScalar() bool
	Value(ctx context.Context) (interface{}, error)
	Read(ctx context.Context) ([]interface{}, error)
}

// --- HDF5 adapter ---

type hdf5Source struct {
	f      *hfile.File
	closer func() error
}

// FromHDF5 opens the semantic view over an HDF5 file. The closer, when
// non-nil, is invoked by Close (remote readers hold caches).
func FromHDF5(r utils.ReaderAt, closer func() error) (Source, error) {
	f, err := hfile.Open(r)
	if err != nil {
		return nil, err
	}
	return &hdf5Source{f: f, closer: closer}, nil
}

func (s *hdf5Source) Root() (GroupNode, error) {
	root, err := s.f.Root()
	if err != nil {
		return nil, err
	}
	return &hdf5Group{src: s, obj: root, path: "/"}, nil
}

func (s *hdf5Source) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// objectAtPath walks an absolute slash path from the root. Soft links
// resolve through it.
func (s *hdf5Source) objectAtPath(path string) (*hfile.Object, error) {
	obj, err := s.f.Root()
	if err != nil {
		return nil, err
	}
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		obj, err = obj.Child(part)
		if err != nil {
			return nil, err
		}
	}
	return obj, nil
}

type hdf5Group struct {
	src  *hdf5Source
	obj  *hfile.Object
	path string
}

func (g *hdf5Group) Name() string { return g.obj.Name }
func (g *hdf5Group) Path() string { return g.path }

func (g *hdf5Group) Attrs() (map[string]interface{}, error) {
	return hdf5Attrs(g.src, g.obj)
}

func hdf5Attrs(s *hdf5Source, obj *hfile.Object) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, a := range obj.Attributes() {
		v, _, err := obj.AttrValue(a.Name)
		if err != nil {
			// An undecodable attribute should not sink the whole walk.
			continue
		}
		out[a.Name] = v
	}
	return out, nil
}

func (g *hdf5Group) ChildNames() ([]string, error) {
	links, err := g.obj.Links()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (g *hdf5Group) Child(name string) (Node, error) {
	links, err := g.obj.Links()
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.Name != name {
			continue
		}
		var obj *hfile.Object
		switch l.Kind {
		case hfile.LinkHard:
			obj, err = g.obj.Child(name)
		case hfile.LinkSoft:
			// NWB shares electrode tables through soft links. Resolve
			// in-tree; a dangling target is the caller's skip signal.
			obj, err = g.src.objectAtPath(l.Target)
		default:
			return nil, fmt.Errorf("child %q is an external link", name)
		}
		if err != nil {
			return nil, err
		}
		return g.src.wrap(obj, childPath(g.path, name)), nil
	}
	return nil, fmt.Errorf("no child named %q", name)
}

func (s *hdf5Source) wrap(obj *hfile.Object, path string) Node {
	if obj.Kind() == hfile.KindDataset {
		return &hdf5Dataset{src: s, obj: obj, path: path}
	}
	return &hdf5Group{src: s, obj: obj, path: path}
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

type hdf5Dataset struct {
	src  *hdf5Source
	obj  *hfile.Object
	path string

	ds *hfile.Dataset // lazily opened
}

func (d *hdf5Dataset) Name() string { return d.obj.Name }
func (d *hdf5Dataset) Path() string { return d.path }

func (d *hdf5Dataset) Attrs() (map[string]interface{}, error) {
	return hdf5Attrs(d.src, d.obj)
}

func (d *hdf5Dataset) dataset() (*hfile.Dataset, error) {
	if d.ds == nil {
		ds, err := d.obj.Dataset()
		if err != nil {
			return nil, err
		}
		d.ds = ds
	}
	return d.ds, nil
}

func (d *hdf5Dataset) Shape() []uint64 {
	ds, err := d.dataset()
	if err != nil {
		return nil
	}
	return ds.Shape()
}

func (d *hdf5Dataset) DtypeName() string {
	ds, err := d.dataset()
	if err != nil {
		return ""
	}
	return ds.DtypeName()
}

func (d *hdf5Dataset) ElementCount() uint64 {
	ds, err := d.dataset()
	if err != nil {
		return 0
	}
	return ds.ElementCount()
}

func (d *hdf5Dataset) IsScalar() bool {
	ds, err := d.dataset()
	if err != nil {
		return false
	}
	return ds.IsScalar()
}

func (d *hdf5Dataset) Value(_ context.Context) (interface{}, error) {
	ds, err := d.dataset()
	if err != nil {
		return nil, err
	}
	return ds.Value()
}

func (d *hdf5Dataset) Read(_ context.Context) ([]interface{}, error) {
	ds, err := d.dataset()
	if err != nil {
		return nil, err
	}
	return ds.Read()
}

// --- LINDI adapter ---

type lindiSource struct {
	store *lindi.Store
}

// FromLindi opens the semantic view over a loaded LINDI index.
func FromLindi(store *lindi.Store) Source {
	return &lindiSource{store: store}
}

func (s *lindiSource) Root() (GroupNode, error) {
	if !s.store.IsGroup("") {
		return nil, fmt.Errorf("LINDI index has no root group")
	}
	return &lindiGroup{src: s, key: "", path: "/"}, nil
}

func (s *lindiSource) Close() error { return nil }

type lindiGroup struct {
	src  *lindiSource
	key  string // refs key prefix, "" for root
	path string
}

func (g *lindiGroup) Name() string {
	if g.key == "" {
		return "/"
	}
	return g.key[strings.LastIndexByte(g.key, '/')+1:]
}

func (g *lindiGroup) Path() string { return g.path }

func (g *lindiGroup) Attrs() (map[string]interface{}, error) {
	return g.src.store.Attrs(g.key)
}

func (g *lindiGroup) ChildNames() ([]string, error) {
	return g.src.store.Children(g.key), nil
}

func (g *lindiGroup) Child(name string) (Node, error) {
	k := name
	if g.key != "" {
		k = g.key + "/" + name
	}
	path := childPath(g.path, name)
	switch {
	case g.src.store.IsGroup(k):
		return &lindiGroup{src: g.src, key: k, path: path}, nil
	case g.src.store.IsDataset(k):
		return &lindiDataset{src: g.src, key: k, path: path}, nil
	default:
		return nil, fmt.Errorf("no child named %q", name)
	}
}

type lindiDataset struct {
	src  *lindiSource
	key  string
	path string

	arr *lindi.Array
}

func (d *lindiDataset) Name() string {
	return d.key[strings.LastIndexByte(d.key, '/')+1:]
}

func (d *lindiDataset) Path() string { return d.path }

func (d *lindiDataset) Attrs() (map[string]interface{}, error) {
	return d.src.store.Attrs(d.key)
}

func (d *lindiDataset) array() (*lindi.Array, error) {
	if d.arr == nil {
		a, err := d.src.store.Array(d.key)
		if err != nil {
			return nil, err
		}
		d.arr = a
	}
	return d.arr, nil
}

func (d *lindiDataset) Shape() []uint64 {
	a, err := d.array()
	if err != nil {
		return nil
	}
	return a.Shape
}

func (d *lindiDataset) DtypeName() string {
	a, err := d.array()
	if err != nil {
		return ""
	}
	return a.DtypeName()
}

func (d *lindiDataset) ElementCount() uint64 {
	a, err := d.array()
	if err != nil {
		return 0
	}
	return a.ElementCount()
}

func (d *lindiDataset) IsScalar() bool {
	a, err := d.array()
	if err != nil {
		return false
	}
	return a.IsScalar()
}

func (d *lindiDataset) Value(ctx context.Context) (interface{}, error) {
	a, err := d.array()
	if err != nil {
		return nil, err
	}
	return a.Value(ctx)
}

func (d *lindiDataset) Read(ctx context.Context) ([]interface{}, error) {
	a, err := d.array()
	if err != nil {
		return nil, err
	}
	return a.Read(ctx)
}
