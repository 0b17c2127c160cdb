package storage

import (
	"fmt"
	"sync"

	"github.com/alexhholmes/slotdb/internal/base"
)

// Memory keeps pages in process memory. Nothing survives Close.
type Memory struct {
	mu     sync.RWMutex
	pages  map[base.Handle]*base.Page
	closed bool
	counters
}

func NewMemory() *Memory {
	return &Memory{pages: make(map[base.Handle]*base.Page)}
}

func (m *Memory) ReadPage(h base.Handle, p *base.Page) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	src, ok := m.pages[h]
	if !ok {
		return fmt.Errorf("page %d never written", h)
	}
	m.reads.Add(1)
	m.read.Add(base.PageSize)
	p.Data = src.Data
	return nil
}

func (m *Memory) WritePage(h base.Handle, p *base.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.writes.Add(1)
	m.written.Add(base.PageSize)
	m.pages[h] = p.Clone()
	return nil
}

func (m *Memory) Sync() error { return nil }

func (m *Memory) Empty() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages) == 0, nil
}

func (m *Memory) Stats() Stats { return m.stats() }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.pages = nil
	return nil
}
