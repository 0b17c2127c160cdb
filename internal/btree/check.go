package btree

import (
	"bytes"

	"github.com/alexhholmes/slotdb/internal/base"
)

// Count returns the number of entries with user keys. Chunked entries count
// once per live sequence.
func (t *Tree) Count() (int, error) {
	leaf, err := t.findEdge(false)
	if err != nil {
		return 0, err
	}

	n := 0
	for {
		for i := 0; i < leaf.Len(); i++ {
			if isChunkKey(leaf.Key(i)) {
				continue
			}
			if leaf.Flags(i)&base.FlagOverflow == 0 {
				n++
				continue
			}
			info, err := decodeInfo(leaf.Handle(), leaf.Data(i))
			if err != nil {
				return 0, err
			}
			n += int(info.count)
		}
		next := leaf.Next()
		if next == 0 {
			return n, nil
		}
		if leaf, err = t.loadLeaf(next, "count"); err != nil {
			return 0, err
		}
	}
}

// Check verifies the structure of the whole tree: slot accounting on every
// page, separators equal to subtree maxima, no empty pages below the root,
// no two underflowing leaves next to each other under one parent, leaves at
// one depth and a leaf chain linked in key order.
func (t *Tree) Check() error {
	c := &checker{tree: t, depth: -1}
	if _, _, err := c.walk(t.root, 0); err != nil {
		return err
	}
	return c.checkChain()
}

type checker struct {
	tree   *Tree
	depth  int
	leaves []base.Handle
}

// walk returns the maximum key below h and whether h is an underflowing leaf
func (c *checker) walk(h base.Handle, level int) ([]byte, bool, error) {
	p, err := c.tree.store.Load(h)
	if err != nil {
		return nil, false, err
	}

	switch p.Type() {
	case base.PageTypeLeaf:
		l := base.AsLeaf(p)
		if err := l.Check(); err != nil {
			return nil, false, corrupt(h, "check", "%v", err)
		}
		if l.Len() == 0 && level > 0 {
			return nil, false, corrupt(h, "check", "empty leaf below root")
		}
		if c.depth < 0 {
			c.depth = level
		} else if c.depth != level {
			return nil, false, corrupt(h, "check", "leaf at depth %d, expected %d", level, c.depth)
		}
		c.leaves = append(c.leaves, h)
		return bytes.Clone(l.MaxKey()), level > 0 && l.Underflow(), nil

	case base.PageTypeNode:
		n := base.AsNode(p)
		if err := n.Check(); err != nil {
			return nil, false, corrupt(h, "check", "%v", err)
		}
		if n.Len() == 0 {
			return nil, false, corrupt(h, "check", "empty node")
		}
		if level == 0 && n.Len() < 2 {
			return nil, false, corrupt(h, "check", "root node with a single child")
		}
		prevUnder := false
		for i := 0; i < n.Len(); i++ {
			sep := bytes.Clone(n.Key(i))
			sub, under, err := c.walk(n.Child(i), level+1)
			if err != nil {
				return nil, false, err
			}
			if !bytes.Equal(sep, sub) {
				return nil, false, corrupt(h, "check", "separator %d is %x, subtree maximum %x", i, sep, sub)
			}
			if under && prevUnder {
				return nil, false, corrupt(h, "check", "children %d and %d both underflow", i-1, i)
			}
			prevUnder = under
		}
		return bytes.Clone(n.MaxKey()), false, nil
	}
	return nil, false, corrupt(h, "check", "unexpected %s page", p.Type())
}

func (c *checker) checkChain() error {
	var prevMax []byte
	for i, h := range c.leaves {
		l, err := c.tree.loadLeaf(h, "check")
		if err != nil {
			return err
		}

		var wantPrev, wantNext base.Handle
		if i > 0 {
			wantPrev = c.leaves[i-1]
		}
		if i+1 < len(c.leaves) {
			wantNext = c.leaves[i+1]
		}
		if l.Prev() != wantPrev || l.Next() != wantNext {
			return corrupt(h, "check", "links %d/%d, expected %d/%d", l.Prev(), l.Next(), wantPrev, wantNext)
		}

		if l.Len() > 0 {
			if prevMax != nil && bytes.Compare(prevMax, l.Key(0)) >= 0 {
				return corrupt(h, "check", "leaf chain out of order")
			}
			prevMax = bytes.Clone(l.MaxKey())
		}
	}
	return nil
}
