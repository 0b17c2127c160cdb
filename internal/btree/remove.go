package btree

import (
	"github.com/alexhholmes/slotdb/internal/base"
	"github.com/alexhholmes/slotdb/internal/traceback"
)

// TryRemove deletes key. Returns false when key is absent.
func (t *Tree) TryRemove(key []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	trimmed, rem := splitKey(key)

	_, leaf, err := t.find(trimmed)
	if err != nil {
		return false, err
	}
	i, found := leaf.Search(trimmed)
	if !found {
		return false, nil
	}
	if leaf.Flags(i)&base.FlagOverflow != 0 {
		info, err := decodeInfo(leaf.Handle(), leaf.Data(i))
		if err != nil {
			return false, err
		}
		return t.removeOverflow(trimmed, rem, info)
	}
	if len(rem) > 0 {
		return false, nil
	}
	return t.removeEntry(trimmed)
}

// removeEntry deletes a single slot entry and restores the tree shape:
// separators follow a changed maximum, empty leaves are unlinked and
// underflowing leaves are balanced with a sibling.
func (t *Tree) removeEntry(key []byte) (bool, error) {
	tb, leaf, err := t.findWithPreemptiveSplit(key)
	if err != nil {
		return false, err
	}
	i, found := leaf.Search(key)
	if !found {
		return false, nil
	}

	wasMax := i == leaf.Len()-1
	leaf.Remove(i)

	if tb.IsTop() {
		return true, t.save(leaf.Page())
	}

	if leaf.Len() == 0 {
		if err := t.removeEmptyLeaf(tb, leaf); err != nil {
			return false, err
		}
		return true, t.collapseRoot()
	}

	if err := t.save(leaf.Page()); err != nil {
		return false, err
	}
	if wasMax {
		if err := t.updateSeparatorPropagate(tb, leaf.MaxKey()); err != nil {
			return false, err
		}
	}
	if leaf.Underflow() {
		if err := t.balance(tb, leaf); err != nil {
			return false, err
		}
	}
	return true, t.collapseRoot()
}

func (t *Tree) unlink(leaf *base.Leaf) error {
	prev, next := leaf.Prev(), leaf.Next()
	if prev != 0 {
		p, err := t.loadLeaf(prev, "unlink")
		if err != nil {
			return err
		}
		p.SetNext(next)
		if err := t.save(p.Page()); err != nil {
			return err
		}
	}
	if next != 0 {
		n, err := t.loadLeaf(next, "unlink")
		if err != nil {
			return err
		}
		n.SetPrev(prev)
		if err := t.save(n.Page()); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) removeEmptyLeaf(tb *traceback.Traceback, leaf *base.Leaf) error {
	if err := t.unlink(leaf); err != nil {
		return err
	}
	h := leaf.Handle()
	if err := t.store.Deallocate(h); err != nil {
		return err
	}
	return t.removeSeparatorPropagate(tb, h)
}

// removeSeparatorPropagate drops the separator of a deallocated page from
// its parent. A node left empty is deallocated in turn; when the highest
// separator went away the new maximum is propagated instead.
func (t *Tree) removeSeparatorPropagate(tb *traceback.Traceback, child base.Handle) error {
	tb = tb.Clone()
	for tb.Up() {
		n, err := t.loadNode(tb.Current(), "remove")
		if err != nil {
			return err
		}
		i := n.IndexOfChild(child)
		if i < 0 {
			return corrupt(n.Handle(), "remove", "no separator for child %d", child)
		}
		last := i == n.Len()-1
		n.Remove(i)

		if n.Len() == 0 {
			if tb.IsTop() {
				base.InitLeaf(n.Page(), t.root)
				return t.save(n.Page())
			}
			child = n.Handle()
			if err := t.store.Deallocate(child); err != nil {
				return err
			}
			continue
		}

		if err := t.save(n.Page()); err != nil {
			return err
		}
		if last && !tb.IsTop() {
			return t.updateSeparatorPropagate(tb, n.MaxKey())
		}
		return nil
	}
	return nil
}

// balance fixes an underflowing leaf using its siblings under the same
// parent, right one first. A pair that holds less than twice the minimum
// fill is merged, otherwise the sibling lends entries while it stays at the
// minimum itself. When the leaf still underflows afterwards the left sibling
// gets the same treatment, so no two neighbours under one parent are left
// underflowing.
func (t *Tree) balance(tb *traceback.Traceback, leaf *base.Leaf) error {
	ph, ok := tb.Parent()
	if !ok {
		return nil
	}
	parent, err := t.loadNode(ph, "balance")
	if err != nil {
		return err
	}
	i := parent.IndexOfChild(leaf.Handle())
	if i < 0 {
		return corrupt(ph, "balance", "no separator for leaf %d", leaf.Handle())
	}

	if i+1 < parent.Len() {
		right, err := t.loadLeaf(parent.Child(i+1), "balance")
		if err != nil {
			return err
		}
		if leaf.Next() != right.Handle() {
			return corrupt(leaf.Handle(), "balance", "next link %d, sibling %d", leaf.Next(), right.Handle())
		}
		if err := t.rebalance(parent, i, leaf, right, false); err != nil {
			return err
		}
		if !leaf.Underflow() {
			return nil
		}
	}

	if i > 0 {
		left, err := t.loadLeaf(parent.Child(i-1), "balance")
		if err != nil {
			return err
		}
		if left.Next() != leaf.Handle() {
			return corrupt(left.Handle(), "balance", "next link %d, sibling %d", left.Next(), leaf.Handle())
		}
		return t.rebalance(parent, i-1, left, leaf, true)
	}
	return nil
}

// rebalance merges neighbours left and right (separator li) when they fit
// under twice the minimum fill, otherwise spills into the underflowing one.
func (t *Tree) rebalance(parent *base.Node, li int, left, right *base.Leaf, fromLeft bool) error {
	if left.Used()+right.Used() < 2*left.MinFill() {
		return t.flush(parent, li, left, right)
	}
	return t.spill(parent, li, left, right, fromLeft)
}

// spill moves entries between neighbours left and right (separator li) until
// the underflowing one recovers or the donor would drop below the minimum
// fill. fromLeft takes left's highest entries, otherwise right's lowest
// entries are taken, so key order holds throughout. Only left's separator
// changes.
func (t *Tree) spill(parent *base.Node, li int, left, right *base.Leaf, fromLeft bool) error {
	minFill := left.MinFill()
	donor, target := &right.Slotted, &left.Slotted
	if fromLeft {
		donor, target = &left.Slotted, &right.Slotted
	}

	for target.Used() < minFill && donor.Len() > 1 {
		j := 0
		if fromLeft {
			j = donor.Len() - 1
		}
		if donor.Used()-donor.Size(j) < minFill {
			break
		}
		pos, _ := target.Search(donor.Key(j))
		if !target.Insert(pos, donor.Key(j), donor.Data(j), donor.Flags(j)) {
			return corrupt(target.Handle(), "balance", "no room while spilling")
		}
		donor.Remove(j)
	}

	if err := replaceSeparator(parent, li, left.MaxKey(), "balance"); err != nil {
		return err
	}
	return t.save(left.Page(), right.Page(), parent.Page())
}

// flush merges right into left and drops right. The merged page inherits
// right's separator, so nothing above the parent changes.
func (t *Tree) flush(parent *base.Node, li int, left, right *base.Leaf) error {
	for j := 0; j < right.Len(); j++ {
		if !left.Insert(left.Len(), right.Key(j), right.Data(j), right.Flags(j)) {
			return corrupt(left.Handle(), "balance", "no room while flushing")
		}
	}

	next := right.Next()
	left.SetNext(next)
	if next != 0 {
		n, err := t.loadLeaf(next, "balance")
		if err != nil {
			return err
		}
		n.SetPrev(left.Handle())
		if err := t.save(n.Page()); err != nil {
			return err
		}
	}

	parent.SetChild(li+1, left.Handle())
	parent.Remove(li)

	if err := t.store.Deallocate(right.Handle()); err != nil {
		return err
	}
	return t.save(left.Page(), parent.Page())
}

// collapseRoot pulls the only child of a root node into the root page until
// the root has at least two children or is a leaf.
func (t *Tree) collapseRoot() error {
	for {
		p, err := t.store.Load(t.root)
		if err != nil {
			return err
		}
		if p.Type() != base.PageTypeNode {
			return nil
		}
		n := base.AsNode(p)
		if n.Len() != 1 {
			return nil
		}

		ch := n.Child(0)
		cp, err := t.store.Load(ch)
		if err != nil {
			return err
		}
		p.Data = cp.Data
		p.SetHandle(t.root)
		if p.Type() == base.PageTypeLeaf {
			l := base.AsLeaf(p)
			if l.Prev() != 0 || l.Next() != 0 {
				return corrupt(ch, "collapse", "only leaf is linked to %d/%d", l.Prev(), l.Next())
			}
		}
		if err := t.store.Deallocate(ch); err != nil {
			return err
		}
		if err := t.save(p); err != nil {
			return err
		}
	}
}
