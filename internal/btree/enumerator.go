package btree

import (
	"bytes"
	"sort"

	"github.com/alexhholmes/slotdb/internal/base"
	"github.com/alexhholmes/slotdb/normal"
)

// Options bounds a range scan. Nil bounds are open. Bounds are normalised
// values: keys of a different type than a bound never match it.
type Options struct {
	Min, Max     []byte
	MinInclusive bool
	MaxInclusive bool
	Skip         int
	Limit        int // 0 means unlimited
	Reverse      bool
}

type enumState int

const (
	stateInit enumState = iota
	statePositioned
	stateExhausted
)

type remainder struct {
	rem []byte
	seq int64
}

// RemainderList holds the live sequences of one lookup key sorted by key
// remainder, which is the order of their full keys.
type RemainderList []remainder

func (l RemainderList) Len() int           { return len(l) }
func (l RemainderList) Less(i, j int) bool { return bytes.Compare(l[i].rem, l[j].rem) < 0 }
func (l RemainderList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// Enumerator walks a key range along the leaf chain. The tree must not be
// modified while an enumerator is in use.
type Enumerator struct {
	tree  *Tree
	opts  Options
	state enumState

	leaf *base.Leaf
	pos  int

	skip      int
	remaining int // -1 when unlimited

	// overflow entries of the current lookup key
	trimmed []byte
	pending RemainderList
	next    int

	key     []byte
	value   []byte
	overSeq int64
	over    bool
	err     error
}

// Enumerator returns a scan over opts. Nothing is read before the first Next.
func (t *Tree) Enumerator(opts Options) *Enumerator {
	e := &Enumerator{tree: t, opts: opts, skip: opts.Skip, remaining: -1}
	if opts.Limit > 0 {
		e.remaining = opts.Limit
	}
	return e
}

// Next advances to the next matching entry
func (e *Enumerator) Next() bool {
	switch e.state {
	case stateExhausted:
		return false
	case stateInit:
		if err := e.seek(); err != nil {
			return e.fail(err)
		}
		e.state = statePositioned
	}

	if e.remaining == 0 {
		return e.exhaust()
	}

	for {
		if e.next < len(e.pending) {
			r := e.pending[e.next]
			e.next++
			full := append(bytes.Clone(e.trimmed), r.rem...)
			accept, stop := e.check(full)
			if stop {
				return e.exhaust()
			}
			if accept && e.consume() {
				e.key, e.value, e.over, e.overSeq = full, nil, true, r.seq
				return true
			}
			continue
		}
		e.pending = e.pending[:0]
		e.next = 0

		ok, err := e.settle()
		if err != nil {
			return e.fail(err)
		}
		if !ok {
			return e.exhaust()
		}

		key, data, flags := e.leaf.Key(e.pos), e.leaf.Data(e.pos), e.leaf.Flags(e.pos)
		if e.opts.Reverse {
			e.pos--
		} else {
			e.pos++
		}

		if isChunkKey(key) {
			if e.opts.Reverse {
				return e.exhaust()
			}
			continue
		}

		if flags&base.FlagOverflow != 0 {
			if err := e.loadRemainders(key, data); err != nil {
				return e.fail(err)
			}
			continue
		}

		accept, stop := e.check(key)
		if stop {
			return e.exhaust()
		}
		if accept && e.consume() {
			e.key, e.value, e.over = bytes.Clone(key), bytes.Clone(data), false
			return true
		}
	}
}

// Key returns the current key
func (e *Enumerator) Key() []byte { return e.key }

// Value returns the data of the current entry. Chunked data is read on
// first access.
func (e *Enumerator) Value() ([]byte, error) {
	if e.over && e.value == nil {
		data, err := e.tree.readChunks(markerDataChunk, e.trimmed, e.overSeq)
		if err != nil {
			return nil, err
		}
		e.value = data
	}
	return e.value, nil
}

// Err returns the error that ended the scan, if any
func (e *Enumerator) Err() error { return e.err }

func (e *Enumerator) fail(err error) bool {
	e.err = err
	return e.exhaust()
}

func (e *Enumerator) exhaust() bool {
	e.state = stateExhausted
	e.leaf = nil
	e.key, e.value = nil, nil
	return false
}

// consume applies skip, then limit, to an accepted entry
func (e *Enumerator) consume() bool {
	if e.skip > 0 {
		e.skip--
		return false
	}
	if e.remaining > 0 {
		e.remaining--
	}
	return true
}

// seek positions the cursor on the first candidate entry
func (e *Enumerator) seek() error {
	t := e.tree
	if !e.opts.Reverse {
		if e.opts.Min == nil {
			leaf, err := t.findEdge(false)
			if err != nil {
				return err
			}
			e.leaf, e.pos = leaf, 0
			return nil
		}
		start, _ := splitKey(e.opts.Min)
		_, leaf, err := t.find(start)
		if err != nil {
			return err
		}
		e.leaf = leaf
		e.pos, _ = leaf.Search(start)
		return nil
	}

	if e.opts.Max == nil {
		leaf, err := t.findEdge(true)
		if err != nil {
			return err
		}
		e.leaf, e.pos = leaf, leaf.Len()-1
		return nil
	}
	_, leaf, err := t.find(e.opts.Max)
	if err != nil {
		return err
	}
	e.leaf = leaf
	i, found := leaf.Search(e.opts.Max)
	if !found {
		i--
	}
	e.pos = i
	return nil
}

// settle moves the cursor onto a valid slot, following the leaf chain
func (e *Enumerator) settle() (bool, error) {
	for e.leaf != nil {
		if e.pos >= 0 && e.pos < e.leaf.Len() {
			return true, nil
		}
		h := e.leaf.Next()
		if e.opts.Reverse {
			h = e.leaf.Prev()
		}
		if h == 0 {
			e.leaf = nil
			return false, nil
		}
		leaf, err := e.tree.loadLeaf(h, "enumerate")
		if err != nil {
			return false, err
		}
		e.leaf = leaf
		if e.opts.Reverse {
			e.pos = leaf.Len() - 1
		} else {
			e.pos = 0
		}
	}
	return false, nil
}

// loadRemainders collects every live sequence under a lookup key in full
// key order, reversed for reverse scans.
func (e *Enumerator) loadRemainders(trimmed, data []byte) error {
	info, err := decodeInfo(e.leaf.Handle(), data)
	if err != nil {
		return err
	}
	e.trimmed = bytes.Clone(trimmed)

	list := e.pending[:0]
	for seq := int64(0); seq < info.next; seq++ {
		live, err := e.tree.sequenceLive(e.trimmed, seq)
		if err != nil {
			return err
		}
		if !live {
			continue
		}
		rem, err := e.tree.readChunks(markerKeyChunk, e.trimmed, seq)
		if err != nil {
			return err
		}
		list = append(list, remainder{rem: rem, seq: seq})
	}

	if e.opts.Reverse {
		sort.Sort(sort.Reverse(list))
	} else {
		sort.Sort(list)
	}
	e.pending, e.next = list, 0
	return nil
}

// check tests key against the bounds. stop is set once no later key in scan
// order can match.
func (e *Enumerator) check(key []byte) (accept, stop bool) {
	o := e.opts
	if o.Max != nil {
		c := bytes.Compare(key, o.Max)
		if c > 0 || (c == 0 && !o.MaxInclusive) {
			return false, !o.Reverse
		}
	}
	if o.Min != nil {
		c := bytes.Compare(key, o.Min)
		if c < 0 || (c == 0 && !o.MinInclusive) {
			return false, o.Reverse
		}
	}
	return sameType(key, o.Min) && sameType(key, o.Max), false
}

func sameType(key, bound []byte) bool {
	return bound == nil || normal.SameTypeBytes(key, bound)
}
