package nwb

import "fmt"

// TreeEntry is one node of a structural listing.
type TreeEntry struct {
	Path     string
	Kind     string // "group" or "dataset"
	TypeName string // neurodata_type, "" for plain nodes
	Shape    []uint64
	Dtype    string
}

// Walk visits every node depth-first in sorted order, root included.
func Walk(src Source, fn func(TreeEntry) error) error {
	root, err := src.Root()
	if err != nil {
		return err
	}
	return walkGroup(root, fn)
}

func walkGroup(g GroupNode, fn func(TreeEntry) error) error {
	if err := fn(TreeEntry{Path: g.Path(), Kind: "group", TypeName: TypeOf(g)}); err != nil {
		return err
	}

	names, err := g.ChildNames()
	if err != nil {
		return fmt.Errorf("%s: %w", g.Path(), err)
	}
	for _, name := range names {
		child, err := g.Child(name)
		if err != nil {
			// Dangling soft links are expected in the wild.
			continue
		}
		switch n := child.(type) {
		case GroupNode:
			if err := walkGroup(n, fn); err != nil {
				return err
			}
		case DatasetNode:
			entry := TreeEntry{
				Path:  n.Path(),
				Kind:  "dataset",
				Shape: n.Shape(),
				Dtype: n.DtypeName(),
			}
			if attrs, aerr := n.Attrs(); aerr == nil {
				if t, ok := attrs["neurodata_type"].(string); ok {
					entry.TypeName = t
				}
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
	}
	return nil
}
