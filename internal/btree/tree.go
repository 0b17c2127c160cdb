// Package btree implements an ordered key/value B+Tree over slotted pages.
//
// The tree is a pure page algorithm. Every page access goes through a
// PageStore supplied by the caller, which owns caching, durability and
// transactions. Keys are opaque byte strings compared with bytes.Compare,
// normally produced by the normal package.
//
// Entries too large for one slot are stored as runs of synthetic chunk
// entries in the internal key space below every user key; see overflow.go.
package btree

import (
	"math"

	"github.com/alexhholmes/slotdb/internal/base"
	"github.com/alexhholmes/slotdb/internal/traceback"
)

const (
	// MaxLookupKeyLength is the longest key stored verbatim in a leaf. Longer
	// keys keep their first MaxLookupKeyLength bytes as the lookup key and
	// store the rest as key chunks.
	MaxLookupKeyLength = 256

	// ChunkKeyOverhead is the marker, sequence and index around a lookup key
	ChunkKeyOverhead = 1 + 8 + 4

	MaxChunkKeyLength = MaxLookupKeyLength + ChunkKeyOverhead

	// MaxKeyDataLength caps key+data of one leaf slot
	MaxKeyDataLength = 896

	// MaxDataLength is the payload carried by one chunk
	MaxDataLength = MaxKeyDataLength - MaxChunkKeyLength

	// MaxSeparatorEntry is the largest node entry, descriptor included
	MaxSeparatorEntry = MaxChunkKeyLength + base.ChildSize + base.DescriptorSize
)

// PageStore is the transactional page access the tree runs on. Pages
// returned by Load may be modified by the tree and are handed back through
// Save. The same handle must yield the same page within one operation.
type PageStore interface {
	Load(h base.Handle) (*base.Page, error)
	Save(p *base.Page) error
	Allocate() (base.Handle, error)
	Deallocate(h base.Handle) error
	IsPageType(h base.Handle, t base.PageType) (bool, error)
}

// Tree is a B+Tree rooted at a fixed page. The root handle never changes:
// root splits move the old contents into two new children.
//
// A Tree is not safe for concurrent use. Callers serialize writers and keep
// readers away while a write is in progress.
type Tree struct {
	store       PageStore
	root        base.Handle
	maxSequence int64
}

// Create allocates an empty root leaf
func Create(store PageStore) (*Tree, error) {
	h, err := store.Allocate()
	if err != nil {
		return nil, err
	}
	p := &base.Page{}
	base.InitLeaf(p, h)
	if err := store.Save(p); err != nil {
		return nil, err
	}
	return newTree(store, h), nil
}

// Open attaches to an existing tree rooted at root
func Open(store PageStore, root base.Handle) (*Tree, error) {
	leaf, err := store.IsPageType(root, base.PageTypeLeaf)
	if err != nil {
		return nil, err
	}
	if !leaf {
		node, err := store.IsPageType(root, base.PageTypeNode)
		if err != nil {
			return nil, err
		}
		if !node {
			return nil, corrupt(root, "open", "not a tree page")
		}
	}
	return newTree(store, root), nil
}

func newTree(store PageStore, root base.Handle) *Tree {
	return &Tree{store: store, root: root, maxSequence: math.MaxInt64}
}

// Root returns the root page handle
func (t *Tree) Root() base.Handle { return t.root }

func (t *Tree) loadNode(h base.Handle, op string) (*base.Node, error) {
	p, err := t.store.Load(h)
	if err != nil {
		return nil, err
	}
	if p.Type() != base.PageTypeNode {
		return nil, corrupt(h, op, "expected node, found %s", p.Type())
	}
	return base.AsNode(p), nil
}

func (t *Tree) loadLeaf(h base.Handle, op string) (*base.Leaf, error) {
	p, err := t.store.Load(h)
	if err != nil {
		return nil, err
	}
	if p.Type() != base.PageTypeLeaf {
		return nil, corrupt(h, op, "expected leaf, found %s", p.Type())
	}
	return base.AsLeaf(p), nil
}

func (t *Tree) newLeaf() (*base.Leaf, error) {
	h, err := t.store.Allocate()
	if err != nil {
		return nil, err
	}
	return base.InitLeaf(&base.Page{}, h), nil
}

func (t *Tree) newNode() (*base.Node, error) {
	h, err := t.store.Allocate()
	if err != nil {
		return nil, err
	}
	return base.InitNode(&base.Page{}, h), nil
}

func (t *Tree) save(pages ...*base.Page) error {
	for _, p := range pages {
		if err := t.store.Save(p); err != nil {
			return err
		}
	}
	return nil
}

// find descends to the leaf that holds key or would hold it. At each node it
// follows the smallest separator >= key, or the highest separator when key
// is above all of them.
func (t *Tree) find(key []byte) (*traceback.Traceback, *base.Leaf, error) {
	tb := traceback.New(t.root)
	p, err := t.store.Load(t.root)
	if err != nil {
		return nil, nil, err
	}

	for p.Type() == base.PageTypeNode {
		n := base.AsNode(p)
		if n.Len() == 0 {
			return nil, nil, corrupt(n.Handle(), "find", "empty node")
		}
		child := n.Child(n.Route(key))
		tb.Push(child)
		if p, err = t.store.Load(child); err != nil {
			return nil, nil, err
		}
	}

	if p.Type() != base.PageTypeLeaf {
		return nil, nil, corrupt(p.Handle(), "find", "unexpected %s page", p.Type())
	}
	return tb, base.AsLeaf(p), nil
}

// findEdge descends along the first or last separators
func (t *Tree) findEdge(last bool) (*base.Leaf, error) {
	h := t.root
	for {
		p, err := t.store.Load(h)
		if err != nil {
			return nil, err
		}
		switch p.Type() {
		case base.PageTypeLeaf:
			return base.AsLeaf(p), nil
		case base.PageTypeNode:
			n := base.AsNode(p)
			if n.Len() == 0 {
				return nil, corrupt(h, "find", "empty node")
			}
			i := 0
			if last {
				i = n.Len() - 1
			}
			h = n.Child(i)
		default:
			return nil, corrupt(h, "find", "unexpected %s page", p.Type())
		}
	}
}

// Deallocate frees every page of the tree, root included
func (t *Tree) Deallocate() error {
	stack := []base.Handle{t.root}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := t.store.IsPageType(h, base.PageTypeNode)
		if err != nil {
			return err
		}
		if node {
			n, err := t.loadNode(h, "deallocate")
			if err != nil {
				return err
			}
			for i := 0; i < n.Len(); i++ {
				stack = append(stack, n.Child(i))
			}
		}
		if err := t.store.Deallocate(h); err != nil {
			return err
		}
	}
	return nil
}
