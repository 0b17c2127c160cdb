package base

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	// DescriptorSize is the size of one packed slot descriptor
	DescriptorSize = 8

	// SlottedHeaderSize is the common header plus the packed slot header word
	SlottedHeaderSize = PageHeaderSize + 8

	// MaxSlotSize is the largest key+data a single slot can hold (12-bit fields)
	MaxSlotSize = 1<<12 - 1

	slotHeaderOffset = PageHeaderSize
)

// Slot header word layout (little-endian uint64):
// [0:16] free bytes | [16:32] first slot offset | [32:48] live count |
// [48:63] garbage descriptor count | [63] compaction needed
type slotHeader struct {
	free      int
	dataStart int
	count     int
	garbage   int
	compact   bool
}

func decodeSlotHeader(w uint64) slotHeader {
	return slotHeader{
		free:      int(w & 0xFFFF),
		dataStart: int((w >> 16) & 0xFFFF),
		count:     int((w >> 32) & 0xFFFF),
		garbage:   int((w >> 48) & 0x7FFF),
		compact:   w>>63 == 1,
	}
}

func (h slotHeader) encode() uint64 {
	w := uint64(h.free) | uint64(h.dataStart)<<16 | uint64(h.count)<<32 | uint64(h.garbage)<<48
	if h.compact {
		w |= 1 << 63
	}
	return w
}

// descriptor layout (little-endian uint64):
// [0:16] offset | [16:28] capacity | [28:40] key length | [40:52] data length |
// [52:60] flags | [63] garbage
type descriptor uint64

const garbageBit = descriptor(1) << 63

func makeDescriptor(offset, capacity, keyLen, dataLen int, flags uint8) descriptor {
	return descriptor(uint64(offset) |
		uint64(capacity)<<16 |
		uint64(keyLen)<<28 |
		uint64(dataLen)<<40 |
		uint64(flags)<<52)
}

func (d descriptor) offset() int   { return int(d & 0xFFFF) }
func (d descriptor) capacity() int { return int((d >> 16) & 0xFFF) }
func (d descriptor) keyLen() int   { return int((d >> 28) & 0xFFF) }
func (d descriptor) dataLen() int  { return int((d >> 40) & 0xFFF) }
func (d descriptor) flags() uint8  { return uint8((d >> 52) & 0xFF) }
func (d descriptor) used() int     { return d.keyLen() + d.dataLen() }

func (d descriptor) withCapacity(c int) descriptor {
	return d&^(descriptor(0xFFF)<<16) | descriptor(c)<<16
}

func (d descriptor) withDataLen(n int) descriptor {
	return d&^(descriptor(0xFFF)<<40) | descriptor(n)<<40
}

// Slotted is a key-sorted variable length slot directory inside a page.
// Removal only marks a slot as garbage; its descriptor is reclaimed by the
// next compaction. Free space accounting counts garbage descriptors and the
// unused tail of live slots as free, so CanFit never has to scan.
type Slotted struct {
	page *Page
	base int // offset of the descriptor table
}

// Page returns the underlying page
func (s *Slotted) Page() *Page { return s.page }

// Handle returns the page handle
func (s *Slotted) Handle() Handle { return s.page.Handle() }

func (s *Slotted) header() slotHeader {
	return decodeSlotHeader(binary.LittleEndian.Uint64(s.page.Data[slotHeaderOffset:]))
}

func (s *Slotted) setHeader(h slotHeader) {
	binary.LittleEndian.PutUint64(s.page.Data[slotHeaderOffset:], h.encode())
}

func (s *Slotted) desc(i int) descriptor {
	return descriptor(binary.LittleEndian.Uint64(s.page.Data[s.base+i*DescriptorSize:]))
}

func (s *Slotted) setDesc(i int, d descriptor) {
	binary.LittleEndian.PutUint64(s.page.Data[s.base+i*DescriptorSize:], uint64(d))
}

func (s *Slotted) init() {
	s.setHeader(slotHeader{
		free:      PageSize - s.base,
		dataStart: PageSize,
	})
}

// Len returns the number of live entries
func (s *Slotted) Len() int { return s.header().count }

// Free returns the bytes available for new entries, descriptors included
func (s *Slotted) Free() int { return s.header().free }

// Capacity returns the bytes available to an empty page
func (s *Slotted) Capacity() int { return PageSize - s.base }

// Used returns the bytes taken by live entries and their descriptors
func (s *Slotted) Used() int { return s.Capacity() - s.Free() }

// CanFit reports whether an entry of n key+data bytes fits, compacting if needed
func (s *Slotted) CanFit(n int) bool {
	return n <= MaxSlotSize && s.Free() >= n+DescriptorSize
}

// EntrySize is the space an entry occupies including its descriptor
func EntrySize(key, data []byte) int {
	return len(key) + len(data) + DescriptorSize
}

// Key returns the key of entry i. The slice aliases the page.
func (s *Slotted) Key(i int) []byte {
	d := s.desc(i)
	off := d.offset()
	return s.page.Data[off : off+d.keyLen()]
}

// Data returns the data of entry i. The slice aliases the page.
func (s *Slotted) Data(i int) []byte {
	d := s.desc(i)
	off := d.offset() + d.keyLen()
	return s.page.Data[off : off+d.dataLen()]
}

// Flags returns the entry flags of entry i
func (s *Slotted) Flags(i int) uint8 { return s.desc(i).flags() }

// SetFlags replaces the entry flags of entry i
func (s *Slotted) SetFlags(i int, flags uint8) {
	d := s.desc(i)
	s.setDesc(i, d&^(descriptor(0xFF)<<52)|descriptor(flags)<<52)
}

// MaxKey returns the highest key, nil when empty
func (s *Slotted) MaxKey() []byte {
	n := s.Len()
	if n == 0 {
		return nil
	}
	return s.Key(n - 1)
}

// Size returns the space entry i occupies including its descriptor
func (s *Slotted) Size(i int) int { return s.desc(i).used() + DescriptorSize }

// Search returns the index of the first key >= key and whether it is equal
func (s *Slotted) Search(key []byte) (int, bool) {
	n := s.Len()
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(s.Key(i), key) >= 0
	})
	return i, i < n && bytes.Equal(s.Key(i), key)
}

// SearchPrefix returns the index of the first key carrying prefix
func (s *Slotted) SearchPrefix(prefix []byte) (int, bool) {
	i, _ := s.Search(prefix)
	return i, i < s.Len() && bytes.HasPrefix(s.Key(i), prefix)
}

// Insert writes a new entry at position i. The caller keeps the key order.
// Returns false when the page cannot hold the entry even after compaction.
func (s *Slotted) Insert(i int, key, data []byte, flags uint8) bool {
	n := len(key) + len(data)
	if !s.CanFit(n) {
		return false
	}

	h := s.header()
	off, capacity, ok := s.allocate(&h, n)
	if !ok {
		if !h.compact {
			return false
		}
		s.setHeader(h)
		s.Compact()
		h = s.header()
		if off, capacity, ok = s.allocate(&h, n); !ok {
			return false
		}
	}

	copy(s.page.Data[off:], key)
	copy(s.page.Data[off+len(key):], data)
	if capacity > n {
		h.compact = true
	}

	s.insertLive(&h, i, makeDescriptor(off, capacity, len(key), len(data), flags))
	h.free -= n + DescriptorSize
	s.setHeader(h)
	return true
}

// allocate finds room for n bytes: fresh space first, then a garbage slot
// that is large enough, then the unused tail of a live slot.
func (s *Slotted) allocate(h *slotHeader, n int) (int, int, bool) {
	tableEnd := s.base + (h.count+h.garbage)*DescriptorSize
	gap := h.dataStart - tableEnd

	if gap >= n+DescriptorSize {
		h.dataStart -= n
		return h.dataStart, n, true
	}

	best := -1
	for j := h.count; j < h.count+h.garbage; j++ {
		c := s.desc(j).capacity()
		if c >= n && (best < 0 || c < s.desc(best).capacity()) {
			best = j
		}
	}
	if best >= 0 {
		d := s.desc(best)
		last := h.count + h.garbage - 1
		s.setDesc(best, s.desc(last))
		h.garbage--
		return d.offset(), d.capacity(), true
	}

	if gap >= DescriptorSize {
		for j := 0; j < h.count; j++ {
			d := s.desc(j)
			if spare := d.capacity() - d.used(); spare >= n {
				s.setDesc(j, d.withCapacity(d.used()))
				return d.offset() + d.used(), spare, true
			}
		}
	}

	return 0, 0, false
}

func (s *Slotted) insertLive(h *slotHeader, i int, d descriptor) {
	if h.garbage > 0 {
		s.setDesc(h.count+h.garbage, s.desc(h.count))
	}
	start := s.base + i*DescriptorSize
	end := s.base + h.count*DescriptorSize
	copy(s.page.Data[start+DescriptorSize:end+DescriptorSize], s.page.Data[start:end])
	s.setDesc(i, d)
	h.count++
}

// Remove deletes entry i. Its bytes are reclaimed for accounting right away,
// the slot itself is kept as garbage until it is reused or compacted.
func (s *Slotted) Remove(i int) {
	h := s.header()
	d := s.desc(i)

	start := s.base + i*DescriptorSize
	end := s.base + h.count*DescriptorSize
	copy(s.page.Data[start:end-DescriptorSize], s.page.Data[start+DescriptorSize:end])
	h.count--

	s.setDesc(h.count, d|garbageBit)
	h.garbage++
	h.free += d.used() + DescriptorSize
	h.compact = true
	s.setHeader(h)
}

// SetData replaces the data of entry i, in place when the slot is big enough.
func (s *Slotted) SetData(i int, data []byte) bool {
	d := s.desc(i)
	if d.keyLen()+len(data) <= d.capacity() {
		h := s.header()
		copy(s.page.Data[d.offset()+d.keyLen():], data)
		h.free += d.dataLen() - len(data)
		if d.keyLen()+len(data) < d.capacity() {
			h.compact = true
		}
		s.setDesc(i, d.withDataLen(len(data)))
		s.setHeader(h)
		return true
	}

	if s.Free()+d.dataLen() < len(data) || d.keyLen()+len(data) > MaxSlotSize {
		return false
	}
	key := bytes.Clone(s.Key(i))
	s.Remove(i)
	return s.Insert(i, key, data, d.flags())
}

// Compact rewrites live slots contiguously at the end of the page and drops
// garbage descriptors.
func (s *Slotted) Compact() {
	h := s.header()

	type slot struct {
		d     descriptor
		bytes []byte
	}
	live := make([]slot, h.count)
	for i := 0; i < h.count; i++ {
		d := s.desc(i)
		live[i] = slot{d: d, bytes: bytes.Clone(s.page.Data[d.offset() : d.offset()+d.used()])}
	}

	off := PageSize
	for i := h.count - 1; i >= 0; i-- {
		d := live[i].d
		off -= d.used()
		copy(s.page.Data[off:], live[i].bytes)
		s.setDesc(i, makeDescriptor(off, d.used(), d.keyLen(), d.dataLen(), d.flags()))
	}

	tableEnd := s.base + h.count*DescriptorSize
	clear(s.page.Data[tableEnd:off])

	h.dataStart = off
	h.garbage = 0
	h.compact = false
	s.setHeader(h)
}

// Truncate drops every entry
func (s *Slotted) Truncate() {
	clear(s.page.Data[s.base:])
	s.init()
}

// Check validates descriptor bounds, key order and free space accounting
func (s *Slotted) Check() error {
	h := s.header()
	tableEnd := s.base + (h.count+h.garbage)*DescriptorSize
	if tableEnd > h.dataStart || h.dataStart > PageSize {
		return fmt.Errorf("page %d: descriptor table end %d past data start %d", s.Handle(), tableEnd, h.dataStart)
	}

	used := 0
	for i := 0; i < h.count+h.garbage; i++ {
		d := s.desc(i)
		if (d&garbageBit != 0) != (i >= h.count) {
			return fmt.Errorf("page %d: descriptor %d garbage bit mismatch", s.Handle(), i)
		}
		if d.offset() < h.dataStart || d.offset()+d.capacity() > PageSize {
			return fmt.Errorf("page %d: slot %d out of bounds", s.Handle(), i)
		}
		if i < h.count {
			if d.used() > d.capacity() {
				return fmt.Errorf("page %d: slot %d overfull", s.Handle(), i)
			}
			used += d.used() + DescriptorSize
		}
	}
	if want := s.Capacity() - used; want != h.free {
		return fmt.Errorf("page %d: free bytes %d, expected %d", s.Handle(), h.free, want)
	}

	for i := 1; i < h.count; i++ {
		if bytes.Compare(s.Key(i-1), s.Key(i)) >= 0 {
			return fmt.Errorf("page %d: keys %d and %d out of order", s.Handle(), i-1, i)
		}
	}
	return nil
}
