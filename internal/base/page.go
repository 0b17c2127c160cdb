package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	PageSize = 4096

	// PageHeaderSize covers the fields shared by every page type
	// Layout: [Checksum: 4][Handle: 8][Type: 1]
	PageHeaderSize = 13

	checksumOffset = 0
	handleOffset   = 4
	typeOffset     = 12
)

// Handle is the stable identifier of a page. Handle 0 is never a tree page, so
// it doubles as the nil link in leaf chains.
type Handle uint64

// PageType is the one byte marker stored in every page header.
type PageType byte

const (
	PageTypeFree     PageType = 0x00
	PageTypeMeta     PageType = 'M'
	PageTypeFreeList PageType = 'F'
	PageTypeNode     PageType = 'N'
	PageTypeLeaf     PageType = 'L'
)

func (t PageType) String() string {
	switch t {
	case PageTypeFree:
		return "free"
	case PageTypeMeta:
		return "meta"
	case PageTypeFreeList:
		return "freelist"
	case PageTypeNode:
		return "node"
	case PageTypeLeaf:
		return "leaf"
	}
	return "unknown"
}

// Page is a raw disk page (4096 bytes)
//
// COMMON HEADER (13 bytes):
// ┌──────────────┬────────────────────┬──────────┐
// │ Checksum (4) │ Handle (8)         │ Type (1) │
// └──────────────┴────────────────────┴──────────┘
//
// SLOTTED PAGE (node and leaf):
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Common header (13 bytes)                                            │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Slot header word (8 bytes)                                          │
// │ free bytes, first slot offset, live count, garbage count, compact   │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Leaf only: Prev (8 bytes), Next (8 bytes)                           │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Descriptor[0..live) sorted by key, Descriptor[live..live+garbage)   │
// │ Descriptors grow forward →                                          │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Gap                                                                 │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Slot data: key | data, packed from the end backward ←               │
// └─────────────────────────────────────────────────────────────────────┘
type Page struct {
	Data [PageSize]byte
}

// Handle returns the handle stored in the page header
func (p *Page) Handle() Handle {
	return Handle(binary.LittleEndian.Uint64(p.Data[handleOffset:]))
}

// SetHandle writes the handle into the page header
func (p *Page) SetHandle(h Handle) {
	binary.LittleEndian.PutUint64(p.Data[handleOffset:], uint64(h))
}

// Type returns the page type marker
func (p *Page) Type() PageType {
	return PageType(p.Data[typeOffset])
}

// SetType writes the page type marker
func (p *Page) SetType(t PageType) {
	p.Data[typeOffset] = byte(t)
}

// Reset zeroes the page and stamps a fresh header
func (p *Page) Reset(h Handle, t PageType) {
	p.Data = [PageSize]byte{}
	p.SetHandle(h)
	p.SetType(t)
}

// Clone returns a deep copy of the page
func (p *Page) Clone() *Page {
	c := &Page{}
	c.Data = p.Data
	return c
}

// CalculateChecksum hashes everything after the checksum field
func (p *Page) CalculateChecksum() uint32 {
	return uint32(xxhash.Sum64(p.Data[handleOffset:]))
}

// Seal stores the checksum of the current page contents
func (p *Page) Seal() {
	binary.LittleEndian.PutUint32(p.Data[checksumOffset:], p.CalculateChecksum())
}

// Verify checks the stored checksum against the page contents
func (p *Page) Verify() error {
	stored := binary.LittleEndian.Uint32(p.Data[checksumOffset:])
	if stored != p.CalculateChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}
