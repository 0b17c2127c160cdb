package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	// MagicNumber identifies the file format ("sldb")
	MagicNumber uint32 = 0x736c6462

	// FormatVersion is bumped on any layout change
	FormatVersion uint16 = 1

	metaSize = 4 + 2 + 2 + 8 + 8 + 8 + 8 + 8 + 4
)

// Meta is the database metadata stored in pages 0 and 1. The copy with the
// higher TxID and a valid checksum wins on open.
//
// Layout after the page header:
// [Magic: 4][Version: 2][PageSize: 2][PrimaryRoot: 8][FreelistID: 8]
// [FreelistPages: 8][TxID: 8][NumPages: 8][Checksum: 4]
type Meta struct {
	Magic         uint32
	Version       uint16
	PageSize      uint16
	PrimaryRoot   Handle
	FreelistID    Handle
	FreelistPages uint64
	TxID          uint64
	NumPages      uint64
	Checksum      uint32
}

func (m *Meta) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], m.Magic)
	binary.LittleEndian.PutUint16(buf[4:], m.Version)
	binary.LittleEndian.PutUint16(buf[6:], m.PageSize)
	binary.LittleEndian.PutUint64(buf[8:], uint64(m.PrimaryRoot))
	binary.LittleEndian.PutUint64(buf[16:], uint64(m.FreelistID))
	binary.LittleEndian.PutUint64(buf[24:], m.FreelistPages)
	binary.LittleEndian.PutUint64(buf[32:], m.TxID)
	binary.LittleEndian.PutUint64(buf[40:], m.NumPages)
	binary.LittleEndian.PutUint32(buf[48:], m.Checksum)
}

// CalculateChecksum hashes every field except Checksum
func (m *Meta) CalculateChecksum() uint32 {
	var buf [metaSize]byte
	m.encode(buf[:])
	return uint32(xxhash.Sum64(buf[:metaSize-4]))
}

// Validate checks magic, version, page size and checksum
func (m *Meta) Validate() error {
	if m.Magic != MagicNumber {
		return ErrInvalidMagicNumber
	}
	if m.Version != FormatVersion {
		return ErrInvalidVersion
	}
	if m.PageSize != PageSize {
		return ErrInvalidPageSize
	}
	if m.Checksum != m.CalculateChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}

// WriteMeta formats p as meta page h holding m
func (p *Page) WriteMeta(h Handle, m *Meta) {
	p.Reset(h, PageTypeMeta)
	m.encode(p.Data[PageHeaderSize:])
	p.Seal()
}

// ReadMeta decodes the meta record of p
func (p *Page) ReadMeta() Meta {
	buf := p.Data[PageHeaderSize:]
	return Meta{
		Magic:         binary.LittleEndian.Uint32(buf[0:]),
		Version:       binary.LittleEndian.Uint16(buf[4:]),
		PageSize:      binary.LittleEndian.Uint16(buf[6:]),
		PrimaryRoot:   Handle(binary.LittleEndian.Uint64(buf[8:])),
		FreelistID:    Handle(binary.LittleEndian.Uint64(buf[16:])),
		FreelistPages: binary.LittleEndian.Uint64(buf[24:]),
		TxID:          binary.LittleEndian.Uint64(buf[32:]),
		NumPages:      binary.LittleEndian.Uint64(buf[40:]),
		Checksum:      binary.LittleEndian.Uint32(buf[48:]),
	}
}
