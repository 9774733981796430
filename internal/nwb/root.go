package nwb

import (
	"context"
)

// Untyped /general groups that pynwb exposes under a different root
// field name, as dictionaries of their typed children.
var generalDictFields = map[string]string{
	"devices":        "devices",
	"optophysiology": "imaging_planes",
	"optogenetics":   "ogen_sites",
}

// BuildFile assembles the NWBFile root container the way pynwb does:
// top-level datasets become fields, the well-known groups become
// labelled dictionaries, /intervals and /general members are promoted
// to root fields, and /specifications is skipped.
func (b *Builder) BuildFile(ctx context.Context, src Source) (*Container, error) {
	root, err := src.Root()
	if err != nil {
		return nil, err
	}

	c := &Container{TypeName: "NWBFile", Name: "root"}
	var plain, nested []Field

	names, err := root.ChildNames()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		child, err := root.Child(name)
		if err != nil {
			b.logger.Debug("skipping unresolvable child", "path", "/", "child", name, "error", err)
			continue
		}

		switch name {
		case "specifications":
			continue
		case "acquisition", "analysis", "scratch", "processing":
			if g, ok := child.(GroupNode); ok {
				plain = append(plain, b.dictField(ctx, name, g))
			}
		case "stimulus":
			if g, ok := child.(GroupNode); ok {
				b.promoteStimulus(ctx, g, &plain)
			}
		case "intervals":
			if g, ok := child.(GroupNode); ok {
				b.promoteIntervals(ctx, g, &plain, &nested)
			}
		case "general":
			if g, ok := child.(GroupNode); ok {
				b.promoteGeneral(ctx, g, &plain, &nested)
			}
		default:
			b.addGenericChild(ctx, name, child, &plain, &nested)
		}
	}

	sortFields(plain)
	sortFields(nested)
	c.Fields = append(plain, nested...)
	return c, nil
}

// addGenericChild maps one tree node onto a root field with no special
// casing: datasets through datasetFields, typed groups as containers,
// untyped groups as dictionaries.
func (b *Builder) addGenericChild(ctx context.Context, name string, child Node, plain, nested *[]Field) {
	switch n := child.(type) {
	case DatasetNode:
		*plain = append(*plain, b.datasetFields(ctx, name, n, plain)...)
	case GroupNode:
		if TypeOf(n) == "" {
			*plain = append(*plain, b.dictField(ctx, name, n))
			return
		}
		sub, err := b.BuildContainer(ctx, n)
		if err != nil {
			b.logger.Debug("skipping unreadable container", "path", child.Path(), "error", err)
			return
		}
		*nested = append(*nested, Field{Name: name, Kind: KindContainer, TypeName: sub.TypeName, Container: sub})
	}
}

// promoteStimulus splits /stimulus into the stimulus (presentation)
// and stimulus_template (templates) dictionaries.
func (b *Builder) promoteStimulus(ctx context.Context, g GroupNode, plain *[]Field) {
	if child, err := g.Child("presentation"); err == nil {
		if sub, ok := child.(GroupNode); ok {
			*plain = append(*plain, b.dictField(ctx, "stimulus", sub))
		}
	}
	if child, err := g.Child("templates"); err == nil {
		if sub, ok := child.(GroupNode); ok {
			*plain = append(*plain, b.dictField(ctx, "stimulus_template", sub))
		}
	}
}

// promoteIntervals lifts the well-known interval tables to root fields
// and collects the rest under an intervals dictionary.
func (b *Builder) promoteIntervals(ctx context.Context, g GroupNode, plain, nested *[]Field) {
	names, err := g.ChildNames()
	if err != nil {
		b.logger.Debug("skipping unreadable intervals group", "error", err)
		return
	}

	var rest []DictEntry
	for _, name := range names {
		child, err := g.Child(name)
		if err != nil {
			continue
		}
		sub, ok := child.(GroupNode)
		if !ok {
			continue
		}
		switch name {
		case "epochs", "trials", "invalid_times":
			if table, err := b.BuildContainer(ctx, sub); err == nil {
				*nested = append(*nested, Field{Name: name, Kind: KindContainer, TypeName: table.TypeName, Container: table})
			}
		default:
			rest = append(rest, b.dictEntry(ctx, name, child))
		}
	}
	if len(rest) > 0 {
		*plain = append(*plain, Field{Name: "intervals", Kind: KindDict, TypeName: "LabelledDict", Entries: rest})
	}
}

// promoteGeneral lifts /general members to root fields under their
// pynwb names.
func (b *Builder) promoteGeneral(ctx context.Context, g GroupNode, plain, nested *[]Field) {
	names, err := g.ChildNames()
	if err != nil {
		b.logger.Debug("skipping unreadable general group", "error", err)
		return
	}

	for _, name := range names {
		child, err := g.Child(name)
		if err != nil {
			b.logger.Debug("skipping unresolvable child", "path", g.Path(), "child", name, "error", err)
			continue
		}

		switch name {
		case "stimulus":
			// /general/stimulus is the stimulus_notes dataset; the root
			// stimulus field belongs to /stimulus/presentation.
			if ds, ok := child.(DatasetNode); ok {
				*plain = append(*plain, b.datasetFields(ctx, "stimulus_notes", ds, plain)...)
			}
		case "extracellular_ephys":
			if sub, ok := child.(GroupNode); ok {
				b.promoteEphys(ctx, sub, "electrode_groups", "electrodes", nil, plain, nested)
			}
		case "intracellular_ephys":
			if sub, ok := child.(GroupNode); ok {
				b.promoteEphys(ctx, sub, "icephys_electrodes", "", map[string]bool{"filtering": true}, plain, nested)
			}
		default:
			if rename, ok := generalDictFields[name]; ok {
				if sub, ok := child.(GroupNode); ok {
					*plain = append(*plain, renameField(b.dictField(ctx, name, sub), rename))
					continue
				}
			}
			b.addGenericChild(ctx, name, child, plain, nested)
		}
	}
}

func renameField(f Field, name string) Field {
	f.Name = name
	return f
}

// promoteEphys handles the two ephys groups: typed table children
// become root containers under their own names, electrode/device
// groups collect under the dictionary field, skipped datasets are
// dropped.
func (b *Builder) promoteEphys(ctx context.Context, g GroupNode, dictName, tableChild string, skip map[string]bool, plain, nested *[]Field) {
	names, err := g.ChildNames()
	if err != nil {
		return
	}

	var groups []DictEntry
	for _, name := range names {
		if skip[name] {
			continue
		}
		child, err := g.Child(name)
		if err != nil {
			continue
		}
		sub, ok := child.(GroupNode)
		if !ok {
			continue
		}

		typed := TypeOf(sub)
		isTable := dynamicTableTypes[typed]
		if attrs, aerr := sub.Attrs(); aerr == nil && attrs["colnames"] != nil {
			isTable = true
		}

		if isTable || name == tableChild {
			if table, err := b.BuildContainer(ctx, sub); err == nil {
				*nested = append(*nested, Field{Name: name, Kind: KindContainer, TypeName: table.TypeName, Container: table})
			}
			continue
		}
		groups = append(groups, b.dictEntry(ctx, name, child))
	}

	if len(groups) > 0 {
		*plain = append(*plain, Field{Name: dictName, Kind: KindDict, TypeName: "LabelledDict", Entries: groups})
	}
}
