package pager

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/alexhholmes/slotdb/internal/base"
)

// freelistCapacity is the payload of one freelist page
const freelistCapacity = base.PageSize - base.PageHeaderSize

// Freelist tracks reusable page handles in ascending order. Allocation hands
// out the lowest handle first so files stay dense.
//
// Serialized form, spread over the payload of consecutive freelist pages:
// [Count: 8][Handle: 8]...
type Freelist struct {
	free []base.Handle
}

// Allocate returns a free handle, or 0 if none is available
func (f *Freelist) Allocate() base.Handle {
	if len(f.free) == 0 {
		return 0
	}
	h := f.free[0]
	f.free = f.free[1:]
	return h
}

// Free returns h to the list. Freeing a handle twice is a no-op.
func (f *Freelist) Free(h base.Handle) {
	i, found := slices.BinarySearch(f.free, h)
	if found {
		return
	}
	f.free = slices.Insert(f.free, i, h)
}

// Contains reports whether h is free
func (f *Freelist) Contains(h base.Handle) bool {
	_, found := slices.BinarySearch(f.free, h)
	return found
}

// Len returns the number of free handles
func (f *Freelist) Len() int {
	return len(f.free)
}

// Clone returns an independent copy
func (f *Freelist) Clone() *Freelist {
	return &Freelist{free: slices.Clone(f.free)}
}

// PagesNeeded returns number of pages needed to serialize this freelist
func (f *Freelist) PagesNeeded() int {
	total := 8 + len(f.free)*8
	return max(1, (total+freelistCapacity-1)/freelistCapacity)
}

// Serialize writes the freelist into pages, which must be at least
// PagesNeeded long. Each page is stamped with its handle starting at first.
func (f *Freelist) Serialize(first base.Handle, pages []*base.Page) {
	buf := make([]byte, 8, 8+len(f.free)*8)
	binary.LittleEndian.PutUint64(buf, uint64(len(f.free)))
	for _, h := range f.free {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(h))
	}

	for i, p := range pages {
		p.Reset(first+base.Handle(i), base.PageTypeFreeList)
		n := copy(p.Data[base.PageHeaderSize:], buf)
		buf = buf[n:]
		p.Seal()
	}
}

// Deserialize reads the freelist from pages
func (f *Freelist) Deserialize(pages []*base.Page) error {
	buf := make([]byte, 0, freelistCapacity*len(pages))
	for _, p := range pages {
		if p.Type() != base.PageTypeFreeList {
			return fmt.Errorf("page %d: expected freelist, found %s", p.Handle(), p.Type())
		}
		buf = append(buf, p.Data[base.PageHeaderSize:]...)
	}
	if len(buf) < 8 {
		return fmt.Errorf("freelist truncated")
	}

	count := binary.LittleEndian.Uint64(buf)
	buf = buf[8:]
	if count > uint64(len(buf)/8) {
		return fmt.Errorf("freelist count %d exceeds %d pages", count, len(pages))
	}

	f.free = make([]base.Handle, 0, count)
	for i := uint64(0); i < count; i++ {
		f.free = append(f.free, base.Handle(binary.LittleEndian.Uint64(buf[i*8:])))
	}
	if !slices.IsSorted(f.free) {
		slices.Sort(f.free)
		f.free = slices.Compact(f.free)
	}
	return nil
}
