package btree

import (
	"fmt"

	"github.com/alexhholmes/slotdb/internal/base"
)

// memStore is a PageStore over a map, with allocation bookkeeping so tests
// can detect leaked or double freed pages.
type memStore struct {
	pages map[base.Handle]*base.Page
	live  map[base.Handle]bool
	freed []base.Handle
	next  base.Handle
}

func newMemStore() *memStore {
	return &memStore{
		pages: make(map[base.Handle]*base.Page),
		live:  make(map[base.Handle]bool),
		next:  1,
	}
}

func (s *memStore) Load(h base.Handle) (*base.Page, error) {
	p, ok := s.pages[h]
	if !ok || !s.live[h] {
		return nil, fmt.Errorf("load of unallocated page %d", h)
	}
	return p, nil
}

func (s *memStore) Save(p *base.Page) error {
	h := p.Handle()
	if !s.live[h] {
		return fmt.Errorf("save of unallocated page %d", h)
	}
	s.pages[h] = p
	return nil
}

func (s *memStore) Allocate() (base.Handle, error) {
	var h base.Handle
	if n := len(s.freed); n > 0 {
		h = s.freed[n-1]
		s.freed = s.freed[:n-1]
	} else {
		h = s.next
		s.next++
	}
	s.live[h] = true
	return h, nil
}

func (s *memStore) Deallocate(h base.Handle) error {
	if !s.live[h] {
		return fmt.Errorf("double free of page %d", h)
	}
	delete(s.live, h)
	delete(s.pages, h)
	s.freed = append(s.freed, h)
	return nil
}

func (s *memStore) IsPageType(h base.Handle, t base.PageType) (bool, error) {
	p, err := s.Load(h)
	if err != nil {
		return false, err
	}
	return p.Type() == t, nil
}

func (s *memStore) livePages() int { return len(s.live) }
