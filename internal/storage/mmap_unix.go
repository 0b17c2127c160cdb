//go:build linux || darwin

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/alexhholmes/slotdb/internal/base"
)

// DefaultMmapSize is the sparse size a new file is mapped with
const DefaultMmapSize = 64 * 1024 * 1024

// MMap implements Storage using memory-mapped I/O
type MMap struct {
	file     *os.File
	mmapData []byte
	mmapSize int64
	growth   int64
	empty    bool
	counters
}

// NewMMap maps the file at path, creating it with initialSize bytes when new.
// The mapping grows in steps of initialSize.
func NewMMap(path string, initialSize int64) (*MMap, error) {
	if initialSize <= 0 {
		initialSize = DefaultMmapSize
	}
	initialSize = roundUp(initialSize, base.PageSize)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	var empty bool
	size := info.Size()
	if size == 0 {
		size = initialSize
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, err
		}
		empty = true
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &MMap{
		file:     file,
		mmapData: data,
		mmapSize: size,
		growth:   initialSize,
		empty:    empty,
	}, nil
}

func roundUp(n, to int64) int64 {
	return ((n + to - 1) / to) * to
}

// ReadPage copies page h out of the mapping so remaps cannot invalidate it
func (m *MMap) ReadPage(h base.Handle, p *base.Page) error {
	if m.mmapData == nil {
		return ErrClosed
	}

	offset := int64(h) * base.PageSize
	if offset+base.PageSize > m.mmapSize {
		return fmt.Errorf("page %d beyond mapped region", h)
	}

	m.reads.Add(1)
	m.read.Add(base.PageSize)
	copy(p.Data[:], m.mmapData[offset:offset+base.PageSize])
	return nil
}

// WritePage copies p into the mapping, growing file and mapping as needed
func (m *MMap) WritePage(h base.Handle, p *base.Page) error {
	if m.mmapData == nil {
		return ErrClosed
	}

	offset := int64(h) * base.PageSize
	if offset+base.PageSize > m.mmapSize {
		if err := m.grow(offset + base.PageSize); err != nil {
			return err
		}
	}

	m.writes.Add(1)
	copy(m.mmapData[offset:], p.Data[:])
	m.written.Add(base.PageSize)
	return nil
}

func (m *MMap) grow(minSize int64) error {
	newSize := roundUp(minSize, m.growth)

	// Start async flush to reduce munmap blocking time
	_ = unix.Msync(m.mmapData, unix.MS_ASYNC)

	if err := unix.Munmap(m.mmapData); err != nil {
		return err
	}
	m.mmapData = nil

	if err := m.file.Truncate(newSize); err != nil {
		return err
	}

	data, err := unix.Mmap(int(m.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	m.mmapData = data
	m.mmapSize = newSize
	return nil
}

// Size returns the mapped size in bytes
func (m *MMap) Size() int64 { return m.mmapSize }

// Sync flushes the memory-mapped region to disk
func (m *MMap) Sync() error {
	if m.mmapData == nil {
		return ErrClosed
	}
	if err := unix.Msync(m.mmapData, unix.MS_SYNC); err != nil {
		return err
	}
	return m.file.Sync()
}

// Empty returns whether this is a newly created database
func (m *MMap) Empty() (bool, error) {
	return m.empty, nil
}

// Stats returns I/O statistics
func (m *MMap) Stats() Stats { return m.stats() }

// Close unmaps the region and closes the file
func (m *MMap) Close() error {
	if m.mmapData != nil {
		if err := unix.Munmap(m.mmapData); err != nil {
			return err
		}
		m.mmapData = nil
	}
	return m.file.Close()
}
