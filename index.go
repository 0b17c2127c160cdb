package slotdb

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/alexhholmes/slotdb/normal"
)

const postingSize = 8

// Index is a secondary index over a tree: each key maps to the sorted set of
// record ids that carry it. Ids are stored as one posting list per key,
// 8 bytes big-endian each, so the tree's overflow chunks absorb keys with
// many records.
type Index struct {
	tree *Tree
}

// NewIndex uses t as index storage. t must hold nothing but postings.
func NewIndex(t *Tree) *Index {
	return &Index{tree: t}
}

// Tree returns the underlying tree
func (ix *Index) Tree() *Tree {
	return ix.tree
}

func decodePostings(data []byte) ([]uint64, error) {
	if len(data)%postingSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPostingList, len(data))
	}
	ids := make([]uint64, len(data)/postingSize)
	for i := range ids {
		ids[i] = binary.BigEndian.Uint64(data[i*postingSize:])
	}
	return ids, nil
}

func encodePostings(ids []uint64) []byte {
	buf := make([]byte, 0, len(ids)*postingSize)
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	return buf
}

func (ix *Index) load(key []byte) ([]uint64, bool, error) {
	data, found, err := ix.tree.FindRaw(key)
	if err != nil || !found {
		return nil, false, err
	}
	ids, err := decodePostings(data)
	return ids, true, err
}

// store replaces the posting list of key. An empty list removes the key.
func (ix *Index) store(key []byte, ids []uint64, exists bool) error {
	if exists {
		if _, err := ix.tree.RemoveRaw(key); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := ix.tree.InsertRaw(key, encodePostings(ids))
	return err
}

// Add records id under key. Returns false when the pair already exists.
func (ix *Index) Add(key normal.Value, id uint64) (bool, error) {
	if err := ix.tree.tx.checkWritable(); err != nil {
		return false, err
	}
	ids, found, err := ix.load(key.Bytes())
	if err != nil {
		return false, err
	}
	i, dup := slices.BinarySearch(ids, id)
	if dup {
		return false, nil
	}
	return true, ix.store(key.Bytes(), slices.Insert(ids, i, id), found)
}

// Delete removes id from key. Returns false when the pair does not exist.
func (ix *Index) Delete(key normal.Value, id uint64) (bool, error) {
	if err := ix.tree.tx.checkWritable(); err != nil {
		return false, err
	}
	ids, found, err := ix.load(key.Bytes())
	if err != nil || !found {
		return false, err
	}
	i, ok := slices.BinarySearch(ids, id)
	if !ok {
		return false, nil
	}
	return true, ix.store(key.Bytes(), slices.Delete(ids, i, i+1), true)
}

// Find returns the ids recorded under key in ascending order
func (ix *Index) Find(key normal.Value) ([]uint64, error) {
	ids, _, err := ix.load(key.Bytes())
	return ids, err
}

// Scan calls fn for every (key, id) pair in r, in key order and then id
// order. Skip and Limit of r count keys, not pairs. Returning an error from
// fn stops the scan and returns that error.
func (ix *Index) Scan(r Range, fn func(key normal.Value, id uint64) error) error {
	it := ix.tree.Enumerate(r)
	for it.Next() {
		data, err := it.Value()
		if err != nil {
			return err
		}
		ids, err := decodePostings(data)
		if err != nil {
			return err
		}
		if r.Reverse {
			slices.Reverse(ids)
		}
		key := it.Key()
		for _, id := range ids {
			if err := fn(key, id); err != nil {
				return err
			}
		}
	}
	return it.Err()
}
