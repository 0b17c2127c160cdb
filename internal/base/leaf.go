package base

import "encoding/binary"

const (
	// LeafHeaderSize adds the prev/next chain links after the slot header
	LeafHeaderSize = SlottedHeaderSize + 16

	// NodeHeaderSize is the slot header alone
	NodeHeaderSize = SlottedHeaderSize

	prevOffset = SlottedHeaderSize
	nextOffset = SlottedHeaderSize + 8

	// FlagOverflow marks a leaf entry whose data is an overflow info record
	FlagOverflow uint8 = 0x01
)

// Leaf is a slotted page holding key -> data entries, linked to its
// neighbours in key order. Handle 0 terminates the chain.
type Leaf struct {
	Slotted
}

// InitLeaf formats p as an empty leaf
func InitLeaf(p *Page, h Handle) *Leaf {
	p.Reset(h, PageTypeLeaf)
	l := AsLeaf(p)
	l.init()
	return l
}

// AsLeaf interprets an already formatted leaf page
func AsLeaf(p *Page) *Leaf {
	return &Leaf{Slotted{page: p, base: LeafHeaderSize}}
}

func (l *Leaf) Prev() Handle {
	return Handle(binary.LittleEndian.Uint64(l.page.Data[prevOffset:]))
}

func (l *Leaf) Next() Handle {
	return Handle(binary.LittleEndian.Uint64(l.page.Data[nextOffset:]))
}

func (l *Leaf) SetPrev(h Handle) {
	binary.LittleEndian.PutUint64(l.page.Data[prevOffset:], uint64(h))
}

func (l *Leaf) SetNext(h Handle) {
	binary.LittleEndian.PutUint64(l.page.Data[nextOffset:], uint64(h))
}

// MinFill is the occupancy in bytes a non-root leaf should keep: a quarter
// of the page
func (l *Leaf) MinFill() int {
	return l.Capacity() / 4
}

// Underflow reports whether live entries take less than MinFill
func (l *Leaf) Underflow() bool {
	return l.Used() < l.MinFill()
}
