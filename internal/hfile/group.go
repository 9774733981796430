package hfile

import (
	"fmt"

	"github.com/scigolib/nwbinfo/internal/utils"
)

// collectLinks enumerates a group's children across the three storage
// flavors: old-style symbol tables, compact link messages, and dense
// fractal-heap link storage.
func collectLinks(r utils.ReaderAt, header *ObjectHeader, sb *Superblock) ([]Link, error) {
	var links []Link

	for _, msg := range header.Messages {
		switch msg.Type {
		case MsgSymbolTable:
			st, err := ParseSymbolTable(msg.Data, sb)
			if err != nil {
				return nil, utils.WrapError("symbol table message parse failed", err)
			}
			stLinks, err := collectSymbolTableLinks(r, st.BTreeAddress, st.HeapAddress, sb)
			if err != nil {
				return nil, err
			}
			links = append(links, stLinks...)

		case MsgLink:
			link, err := ParseLink(msg.Data, sb)
			if err != nil {
				return nil, utils.WrapError("link message parse failed", err)
			}
			links = append(links, *link)

		case MsgLinkInfo:
			info, err := ParseLinkInfo(msg.Data, sb)
			if err != nil {
				return nil, utils.WrapError("link info message parse failed", err)
			}
			denseLinks, err := collectDenseLinks(r, info, sb)
			if err != nil {
				return nil, err
			}
			links = append(links, denseLinks...)
		}
	}

	return links, nil
}

// collectSymbolTableLinks walks a group's v1 B-tree and resolves entry
// names through the local heap.
func collectSymbolTableLinks(r utils.ReaderAt, btreeAddr, heapAddr uint64, sb *Superblock) ([]Link, error) {
	if btreeAddr == UndefinedAddress || heapAddr == UndefinedAddress {
		return nil, nil
	}

	heap, err := ReadLocalHeap(r, heapAddr, sb)
	if err != nil {
		return nil, utils.WrapError("group local heap read failed", err)
	}

	entries, err := WalkGroupBTree(r, btreeAddr, sb)
	if err != nil {
		return nil, utils.WrapError("group b-tree walk failed", err)
	}

	links := make([]Link, 0, len(entries))
	for _, entry := range entries {
		name, err := heap.Name(entry.NameOffset)
		if err != nil {
			return nil, fmt.Errorf("symbol entry at 0x%X: %w", entry.ObjectAddress, err)
		}
		if name == "" {
			continue
		}
		links = append(links, Link{Name: name, Kind: LinkHard, Address: entry.ObjectAddress})
	}
	return links, nil
}

// collectDenseLinks reads links stored in a fractal heap, enumerated
// through the link-name v2 B-tree.
func collectDenseLinks(r utils.ReaderAt, info *LinkInfo, sb *Superblock) ([]Link, error) {
	if info.FractalHeapAddress == UndefinedAddress || info.NameBTreeAddress == UndefinedAddress {
		return nil, nil
	}

	heapIDs, err := CollectHeapIDs(r, info.NameBTreeAddress, sb)
	if err != nil {
		return nil, utils.WrapError("link name b-tree walk failed", err)
	}

	fh, err := OpenFractalHeap(r, info.FractalHeapAddress, sb)
	if err != nil {
		return nil, utils.WrapError("link fractal heap open failed", err)
	}

	links := make([]Link, 0, len(heapIDs))
	for _, id := range heapIDs {
		payload, err := fh.ReadObject(id)
		if err != nil {
			return nil, utils.WrapError("dense link read failed", err)
		}
		link, err := ParseLink(payload, sb)
		if err != nil {
			return nil, utils.WrapError("dense link parse failed", err)
		}
		links = append(links, *link)
	}
	return links, nil
}
