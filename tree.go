package slotdb

import (
	"github.com/alexhholmes/slotdb/internal/btree"
	"github.com/alexhholmes/slotdb/normal"
)

// Tree is an ordered map from normalised keys to byte values, bound to the
// transaction it was opened in.
type Tree struct {
	tx   *Tx
	tree *btree.Tree
}

// Handle returns the handle to reopen this tree with
func (t *Tree) Handle() Handle {
	return t.tree.Root()
}

// Insert stores key -> data. Returns false and leaves the tree unchanged when
// key is already present.
func (t *Tree) Insert(key normal.Value, data []byte) (bool, error) {
	return t.InsertRaw(key.Bytes(), data)
}

// InsertRaw is Insert for a pre-encoded key
func (t *Tree) InsertRaw(key, data []byte) (bool, error) {
	if err := t.tx.checkWritable(); err != nil {
		return false, err
	}
	return t.tree.TryInsert(key, data)
}

// Put stores key -> data, replacing any existing value
func (t *Tree) Put(key normal.Value, data []byte) error {
	if err := t.tx.checkWritable(); err != nil {
		return err
	}
	if _, err := t.tree.TryRemove(key.Bytes()); err != nil {
		return err
	}
	_, err := t.tree.TryInsert(key.Bytes(), data)
	return err
}

// Remove deletes key. Returns false when it was not present.
func (t *Tree) Remove(key normal.Value) (bool, error) {
	return t.RemoveRaw(key.Bytes())
}

// RemoveRaw is Remove for a pre-encoded key
func (t *Tree) RemoveRaw(key []byte) (bool, error) {
	if err := t.tx.checkWritable(); err != nil {
		return false, err
	}
	return t.tree.TryRemove(key)
}

// Find returns the value stored under key
func (t *Tree) Find(key normal.Value) ([]byte, bool, error) {
	return t.FindRaw(key.Bytes())
}

// FindRaw is Find for a pre-encoded key
func (t *Tree) FindRaw(key []byte) ([]byte, bool, error) {
	if err := t.tx.check(); err != nil {
		return nil, false, err
	}
	return t.tree.TryFind(key)
}

// Count returns the number of entries
func (t *Tree) Count() (int, error) {
	if err := t.tx.check(); err != nil {
		return 0, err
	}
	return t.tree.Count()
}

// Check verifies the structural invariants of the tree. Violations are
// reported as *CorruptionError.
func (t *Tree) Check() error {
	if err := t.tx.check(); err != nil {
		return err
	}
	return t.tree.Check()
}

// Range selects a contiguous key range. Zero Min or Max values leave that
// side open. Keys of another type than a bound are outside the range, so a
// bounded range never mixes key types.
type Range struct {
	Min, Max     normal.Value
	MinExclusive bool
	MaxExclusive bool
	Skip         int  // Matching entries to pass over first
	Limit        int  // Maximum entries to return, 0 for no limit
	Reverse      bool // Descending key order
}

func (r Range) options() btree.Options {
	return btree.Options{
		Min:          r.Min.Bytes(),
		Max:          r.Max.Bytes(),
		MinInclusive: !r.MinExclusive,
		MaxInclusive: !r.MaxExclusive,
		Skip:         r.Skip,
		Limit:        r.Limit,
		Reverse:      r.Reverse,
	}
}

// Iterator walks the entries of a Range. The tree must not be modified while
// an iterator is in use.
//
//	it := tree.Enumerate(slotdb.Range{Min: lo, Max: hi})
//	for it.Next() {
//	    v, err := it.Value()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	tx *Tx
	e  *btree.Enumerator
}

// Enumerate returns an iterator over r. Nothing is read before the first Next.
func (t *Tree) Enumerate(r Range) *Iterator {
	return &Iterator{tx: t.tx, e: t.tree.Enumerator(r.options())}
}

// Next advances to the next entry, returning false at the end of the range
// or on error
func (it *Iterator) Next() bool {
	if it.tx.done {
		return false
	}
	return it.e.Next()
}

// Key returns the current key
func (it *Iterator) Key() normal.Value {
	return normal.FromBytes(it.e.Key())
}

// KeyRaw returns the encoded current key. The slice is only valid until the
// next call to Next.
func (it *Iterator) KeyRaw() []byte {
	return it.e.Key()
}

// Value returns the current value. Large values are read on first access.
func (it *Iterator) Value() ([]byte, error) {
	return it.e.Value()
}

// Err returns the error that stopped iteration, if any
func (it *Iterator) Err() error {
	if err := it.e.Err(); err != nil {
		return err
	}
	if it.tx.done {
		return ErrTxDone
	}
	return nil
}
