// Package hfile reads the HDF5 structures NWB files are made of: the
// superblock, object headers, group link storage, attributes and dataset
// data. It is a read-only slice of the format, driven entirely by a
// utils.ReaderAt so local files and ranged remote readers plug in alike.
package hfile

import (
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// File is an open HDF5 file. Object headers are cached by address so
// hard-linked objects parse once.
type File struct {
	r       utils.ReaderAt
	sb      *Superblock
	headers map[uint64]*ObjectHeader
}

// Open parses the superblock and returns a File ready for traversal.
func Open(r utils.ReaderAt) (*File, error) {
	sb, err := ReadSuperblock(r)
	if err != nil {
		return nil, err
	}
	return &File{r: r, sb: sb, headers: make(map[uint64]*ObjectHeader)}, nil
}

// Superblock exposes the file-level metadata.
func (f *File) Superblock() *Superblock {
	return f.sb
}

// Root returns the root group. Version 0 files written without a root
// object header fall back to the cached symbol-table addresses.
func (f *File) Root() (*Object, error) {
	obj, err := f.ObjectAt(f.sb.RootAddress, "/")
	if err == nil {
		return obj, nil
	}

	if f.sb.RootBTree != 0 && f.sb.RootBTree != UndefinedAddress {
		return &Object{
			f:         f,
			Name:      "/",
			Address:   f.sb.RootAddress,
			header:    &ObjectHeader{Kind: KindGroup},
			rootBTree: f.sb.RootBTree,
			rootHeap:  f.sb.RootHeap,
		}, nil
	}
	return nil, err
}

// ObjectAt parses the object header at an address.
func (f *File) ObjectAt(address uint64, name string) (*Object, error) {
	if address == UndefinedAddress {
		return nil, fmt.Errorf("object %q has undefined address", name)
	}

	header, ok := f.headers[address]
	if !ok {
		var err error
		header, err = ReadObjectHeader(f.r, address, f.sb)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", name, err)
		}
		f.headers[address] = header
	}

	return &Object{f: f, Name: name, Address: address, header: header}, nil
}

// Object is one group, dataset or named datatype in the file tree.
type Object struct {
	f       *File
	Name    string
	Address uint64
	header  *ObjectHeader

	// Root-group symbol table addresses for version 0 files whose root has
	// no object header of its own.
	rootBTree uint64
	rootHeap  uint64
}

// Kind reports whether the object is a group, dataset or named datatype.
func (o *Object) Kind() ObjectKind {
	return o.header.Kind
}

// Attributes returns the object's attributes, compact and dense alike.
func (o *Object) Attributes() []*Attribute {
	return o.header.Attributes
}

// Attr looks up an attribute by name.
func (o *Object) Attr(name string) (*Attribute, bool) {
	for _, a := range o.header.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// AttrValue looks up and decodes an attribute in one step. The second
// return is false when the attribute does not exist.
func (o *Object) AttrValue(name string) (interface{}, bool, error) {
	a, ok := o.Attr(name)
	if !ok {
		return nil, false, nil
	}
	v, err := a.Decode(o.f.r, o.f.sb)
	if err != nil {
		return nil, true, err
	}
	return v, true, nil
}

// Links enumerates the group's children. Datasets have none.
func (o *Object) Links() ([]Link, error) {
	if o.rootBTree != 0 {
		return collectSymbolTableLinks(o.f.r, o.rootBTree, o.rootHeap, o.f.sb)
	}
	if o.header.Kind != KindGroup {
		return nil, nil
	}
	return collectLinks(o.f.r, o.header, o.f.sb)
}

// Child resolves a hard-linked child by name.
func (o *Object) Child(name string) (*Object, error) {
	links, err := o.Links()
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.Name != name {
			continue
		}
		if link.Kind != LinkHard {
			return nil, fmt.Errorf("child %q is a %s link", name, link.Kind)
		}
		return o.f.ObjectAt(link.Address, name)
	}
	return nil, fmt.Errorf("no child named %q", name)
}

// Dataset interprets the object as a dataset.
func (o *Object) Dataset() (*Dataset, error) {
	if o.header.Kind != KindDataset {
		return nil, fmt.Errorf("object %q is not a dataset", o.Name)
	}
	return newDataset(o.f.r, o.f.sb, o.header)
}
