package storage

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/alexhholmes/slotdb/internal/base"
)

var ErrClosed = errors.New("storage closed")

// Storage reads and writes whole pages by handle
type Storage interface {
	ReadPage(h base.Handle, p *base.Page) error
	WritePage(h base.Handle, p *base.Page) error
	Sync() error
	// Empty reports whether the backing store held no data when opened
	Empty() (bool, error)
	Stats() Stats
	Close() error
}

// Stats holds I/O statistics
type Stats struct {
	Reads   uint64
	Writes  uint64
	Read    uint64
	Written uint64
}

type counters struct {
	reads   atomic.Uint64
	writes  atomic.Uint64
	read    atomic.Uint64
	written atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Reads:   c.reads.Load(),
		Writes:  c.writes.Load(),
		Read:    c.read.Load(),
		Written: c.written.Load(),
	}
}

// File implements Storage with positioned reads and writes on a plain file
type File struct {
	file *os.File
	counters
}

// NewFile opens or creates the file at path
func NewFile(path string) (*File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	return &File{file: file}, nil
}

// ReadPage reads page h into p
func (s *File) ReadPage(h base.Handle, p *base.Page) error {
	s.reads.Add(1)
	n, err := s.file.ReadAt(p.Data[:], int64(h)*base.PageSize)
	s.read.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("read page %d: %w", h, err)
	}
	return nil
}

// WritePage writes p at page h
func (s *File) WritePage(h base.Handle, p *base.Page) error {
	s.writes.Add(1)
	n, err := s.file.WriteAt(p.Data[:], int64(h)*base.PageSize)
	s.written.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("write page %d: %w", h, err)
	}
	if n != base.PageSize {
		return fmt.Errorf("short write: wrote %d bytes, expected %d", n, base.PageSize)
	}
	return nil
}

// Sync flushes buffered writes to disk
func (s *File) Sync() error {
	return s.file.Sync()
}

// Empty returns whether the file is empty
func (s *File) Empty() (bool, error) {
	info, err := s.file.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// Stats returns I/O statistics
func (s *File) Stats() Stats { return s.stats() }

// Close closes the file
func (s *File) Close() error {
	return s.file.Close()
}
