package btree

import (
	"bytes"

	"github.com/alexhholmes/slotdb/internal/base"
	"github.com/alexhholmes/slotdb/internal/traceback"
	"github.com/alexhholmes/slotdb/normal"
)

const (
	markerKeyChunk  byte = 0x01
	markerDataChunk byte = 0x02
)

func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	switch key[0] {
	case 0x00, markerKeyChunk, markerDataChunk, normal.MarkerMin, normal.MarkerMax:
		return ErrKeyReserved
	}
	return nil
}

func needsOverflow(key, data []byte) bool {
	return len(key) > MaxLookupKeyLength || len(key)+len(data) > MaxKeyDataLength
}

// TryInsert stores key -> data. Returns false when key is already present.
func (t *Tree) TryInsert(key, data []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if needsOverflow(key, data) {
		return t.insertOverflow(key, data)
	}

	tb, leaf, err := t.findWithPreemptiveSplit(key)
	if err != nil {
		return false, err
	}
	i, found := leaf.Search(key)
	if found {
		if leaf.Flags(i)&base.FlagOverflow != 0 {
			// A longer key with this prefix is stored in chunks, the short key
			// joins it as a sequence with an empty remainder.
			return t.insertOverflow(key, data)
		}
		return false, nil
	}
	return true, t.writeEntry(tb, leaf, key, data, 0)
}

// insertPlain writes a single slot entry without key validation
func (t *Tree) insertPlain(key, data []byte, flags uint8) (bool, error) {
	tb, leaf, err := t.findWithPreemptiveSplit(key)
	if err != nil {
		return false, err
	}
	if _, found := leaf.Search(key); found {
		return false, nil
	}
	return true, t.writeEntry(tb, leaf, key, data, flags)
}

func hasRoom(n *base.Node) bool {
	return n.Free() >= 2*MaxSeparatorEntry
}

// findWithPreemptiveSplit descends like find, but splits every node on the
// way that could not absorb two more separators. The leaf split at the
// bottom and the separator updates it causes therefore never run out of
// room in an ancestor.
func (t *Tree) findWithPreemptiveSplit(key []byte) (*traceback.Traceback, *base.Leaf, error) {
	p, err := t.store.Load(t.root)
	if err != nil {
		return nil, nil, err
	}
	if p.Type() == base.PageTypeNode && !hasRoom(base.AsNode(p)) {
		if err := t.splitRoot(); err != nil {
			return nil, nil, err
		}
		if p, err = t.store.Load(t.root); err != nil {
			return nil, nil, err
		}
	}

	tb := traceback.New(t.root)
	for p.Type() == base.PageTypeNode {
		n := base.AsNode(p)
		if n.Len() == 0 {
			return nil, nil, corrupt(n.Handle(), "insert", "empty node")
		}

		child := n.Child(n.Route(key))
		cp, err := t.store.Load(child)
		if err != nil {
			return nil, nil, err
		}

		if cp.Type() == base.PageTypeNode && !hasRoom(base.AsNode(cp)) {
			if err := t.splitNode(n, n.Route(key), base.AsNode(cp)); err != nil {
				return nil, nil, err
			}
			child = n.Child(n.Route(key))
			if cp, err = t.store.Load(child); err != nil {
				return nil, nil, err
			}
		}

		tb.Push(child)
		p = cp
	}

	if p.Type() != base.PageTypeLeaf {
		return nil, nil, corrupt(p.Handle(), "insert", "unexpected %s page", p.Type())
	}
	return tb, base.AsLeaf(p), nil
}

// splitPoint returns the entry count of the lower half, picking the
// boundary that leaves both halves closest in bytes. The halves of a full
// leaf then differ by at most one entry and both stay above the minimum fill.
func splitPoint(s *base.Slotted) int {
	total := 0
	for i := 0; i < s.Len(); i++ {
		total += s.Size(i)
	}

	mid, best := 1, total
	acc := 0
	for i := 0; i < s.Len()-1; i++ {
		acc += s.Size(i)
		diff := total - 2*acc
		if diff < 0 {
			diff = -diff
		}
		if diff < best {
			mid, best = i+1, diff
		}
	}
	return mid
}

// moveLower moves entries [0, mid) of src to the end of dst
func moveLower(dst, src *base.Slotted, mid int, op string) error {
	for j := 0; j < mid; j++ {
		if !dst.Insert(dst.Len(), src.Key(j), src.Data(j), src.Flags(j)) {
			return corrupt(dst.Handle(), op, "page full while moving entries")
		}
	}
	for j := mid - 1; j >= 0; j-- {
		src.Remove(j)
	}
	return nil
}

// splitRoot moves the root contents into two new pages and leaves the root
// as a node with exactly two separators.
func (t *Tree) splitRoot() error {
	p, err := t.store.Load(t.root)
	if err != nil {
		return err
	}

	var left, right *base.Slotted
	switch p.Type() {
	case base.PageTypeLeaf:
		l, err := t.newLeaf()
		if err != nil {
			return err
		}
		r, err := t.newLeaf()
		if err != nil {
			return err
		}
		l.SetNext(r.Handle())
		r.SetPrev(l.Handle())
		left, right = &l.Slotted, &r.Slotted
	case base.PageTypeNode:
		l, err := t.newNode()
		if err != nil {
			return err
		}
		r, err := t.newNode()
		if err != nil {
			return err
		}
		left, right = &l.Slotted, &r.Slotted
	default:
		return corrupt(t.root, "split", "unexpected %s page", p.Type())
	}

	var old *base.Slotted
	if p.Type() == base.PageTypeLeaf {
		old = &base.AsLeaf(p).Slotted
	} else {
		old = &base.AsNode(p).Slotted
	}
	if old.Len() < 2 {
		return corrupt(t.root, "split", "root with %d entries cannot split", old.Len())
	}

	mid := splitPoint(old)
	if err := moveLower(left, old, mid, "split"); err != nil {
		return err
	}
	if err := moveLower(right, old, old.Len(), "split"); err != nil {
		return err
	}

	root := base.InitNode(p, t.root)
	if !root.InsertSeparator(left.MaxKey(), left.Handle()) ||
		!root.InsertSeparator(right.MaxKey(), right.Handle()) {
		return corrupt(t.root, "split", "new root cannot hold two separators")
	}
	return t.save(left.Page(), right.Page(), root.Page())
}

// splitNode moves the lower half of child i of parent into a new left
// sibling and registers the sibling in parent.
func (t *Tree) splitNode(parent *base.Node, i int, child *base.Node) error {
	left, err := t.newNode()
	if err != nil {
		return err
	}
	if err := moveLower(&left.Slotted, &child.Slotted, child.Len()/2, "split"); err != nil {
		return err
	}
	if !parent.InsertSeparator(left.MaxKey(), left.Handle()) {
		return corrupt(parent.Handle(), "split", "no room for separator of child %d", i)
	}
	return t.save(left.Page(), child.Page(), parent.Page())
}

// writeEntry inserts a new entry into the leaf found by a preemptive descent,
// splitting the leaf when it is full.
func (t *Tree) writeEntry(tb *traceback.Traceback, leaf *base.Leaf, key, data []byte, flags uint8) error {
	i, _ := leaf.Search(key)
	wasMax := i == leaf.Len()
	if leaf.Insert(i, key, data, flags) {
		if err := t.save(leaf.Page()); err != nil {
			return err
		}
		if wasMax && !tb.IsTop() {
			return t.updateSeparatorPropagate(tb, key)
		}
		return nil
	}

	if tb.IsTop() {
		if err := t.splitRoot(); err != nil {
			return err
		}
		tb, leaf, err := t.findWithPreemptiveSplit(key)
		if err != nil {
			return err
		}
		return t.writeEntry(tb, leaf, key, data, flags)
	}
	return t.splitLeaf(tb, leaf, key, data, flags)
}

// splitLeaf moves the lower half of leaf into a new left sibling, then
// inserts the entry into whichever half covers its key.
func (t *Tree) splitLeaf(tb *traceback.Traceback, leaf *base.Leaf, key, data []byte, flags uint8) error {
	ph, _ := tb.Parent()
	parent, err := t.loadNode(ph, "split")
	if err != nil {
		return err
	}
	if leaf.Len() < 2 {
		return corrupt(leaf.Handle(), "split", "leaf with %d entries is full", leaf.Len())
	}

	left, err := t.newLeaf()
	if err != nil {
		return err
	}
	if err := moveLower(&left.Slotted, &leaf.Slotted, splitPoint(&leaf.Slotted), "split"); err != nil {
		return err
	}

	prev := leaf.Prev()
	left.SetPrev(prev)
	left.SetNext(leaf.Handle())
	leaf.SetPrev(left.Handle())
	if prev != 0 {
		pl, err := t.loadLeaf(prev, "split")
		if err != nil {
			return err
		}
		pl.SetNext(left.Handle())
		if err := t.save(pl.Page()); err != nil {
			return err
		}
	}

	if !parent.InsertSeparator(left.MaxKey(), left.Handle()) {
		return corrupt(ph, "split", "no room for leaf separator")
	}

	target := leaf
	if bytes.Compare(key, left.MaxKey()) <= 0 {
		target = left
	}
	i, _ := target.Search(key)
	wasMax := i == target.Len()
	if !target.Insert(i, key, data, flags) {
		return corrupt(target.Handle(), "split", "entry of %d bytes does not fit after split", len(key)+len(data))
	}

	if err := t.save(left.Page(), leaf.Page(), parent.Page()); err != nil {
		return err
	}
	if wasMax && target == leaf {
		return t.updateSeparatorPropagate(tb, key)
	}
	return nil
}

// replaceSeparator rewrites the key of separator i, keeping its child
func replaceSeparator(n *base.Node, i int, key []byte, op string) error {
	if bytes.Equal(n.Key(i), key) {
		return nil
	}
	child := n.Child(i)
	key = bytes.Clone(key)
	n.Remove(i)
	if !n.InsertSeparator(key, child) {
		return corrupt(n.Handle(), op, "no room to replace separator")
	}
	return nil
}

// updateSeparatorPropagate sets the separator of the page under the cursor to
// key in its parent, and keeps going up while the changed separator is also
// the highest one of its node.
func (t *Tree) updateSeparatorPropagate(tb *traceback.Traceback, key []byte) error {
	tb = tb.Clone()
	child := tb.Current()
	for tb.Up() {
		n, err := t.loadNode(tb.Current(), "propagate")
		if err != nil {
			return err
		}
		i := n.IndexOfChild(child)
		if i < 0 {
			return corrupt(n.Handle(), "propagate", "no separator for child %d", child)
		}
		if bytes.Equal(n.Key(i), key) {
			return nil
		}

		last := i == n.Len()-1
		if err := replaceSeparator(n, i, key, "propagate"); err != nil {
			return err
		}
		if err := t.save(n.Page()); err != nil {
			return err
		}
		if !last {
			return nil
		}
		child = n.Handle()
	}
	return nil
}
