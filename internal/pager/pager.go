// Package pager turns a page Storage into a transactional page store for the
// B+Tree. Pages 0 and 1 hold alternating meta records, the freelist lives in
// a contiguous run of pages named by the meta, and every other page belongs
// to a tree.
package pager

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/alexhholmes/slotdb/internal/base"
	"github.com/alexhholmes/slotdb/internal/cache"
	"github.com/alexhholmes/slotdb/internal/storage"
	"github.com/alexhholmes/slotdb/internal/wal"
)

// SyncMode controls when to fsync
type SyncMode int

const (
	SyncEveryCommit SyncMode = iota
	SyncOff
)

// Logger is the subset of the database logger the pager reports through
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

const (
	// firstFreelistPage is where a new file keeps its freelist
	firstFreelistPage base.Handle = 2

	// reservedPages covers the two meta pages
	reservedPages base.Handle = 2
)

// Pager coordinates storage, cache, meta and freelist. It is not safe for
// concurrent writers: at most one writable Tx may be open, and no read Tx
// may run while it commits.
type Pager struct {
	store  storage.Storage
	wal    *wal.WAL // nil when commits are not journaled
	cache  *cache.Cache
	mode   SyncMode
	log    Logger
	broken error // Set by a failed commit

	// Committed state. Replaced by Commit, read by Begin and statistics.
	mu       sync.RWMutex
	meta     base.Meta
	freelist *Freelist
}

// New opens a pager over store, formatting it when empty. When journal is
// not nil, committed transactions it still holds are replayed first.
func New(store storage.Storage, journal *wal.WAL, c *cache.Cache, mode SyncMode, log Logger) (*Pager, error) {
	p := &Pager{
		store:    store,
		wal:      journal,
		cache:    c,
		mode:     mode,
		log:      log,
		freelist: &Freelist{},
	}

	if err := p.recover(); err != nil {
		return nil, err
	}

	empty, err := store.Empty()
	if err != nil {
		return nil, err
	}
	if empty {
		if err := p.format(); err != nil {
			return nil, err
		}
		return p, nil
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// recover applies committed transactions left in the journal by a crash
func (p *Pager) recover() error {
	if p.wal == nil {
		return nil
	}
	n, err := p.wal.Replay(func(page *base.Page) error {
		return p.store.WritePage(page.Handle(), page)
	})
	if err != nil {
		return err
	}
	if n > 0 {
		if err := p.store.Sync(); err != nil {
			return err
		}
		p.log.Warn("Recovered transactions from WAL", "transactions", n)
	}
	return p.wal.Truncate()
}

// format writes both meta pages and an empty freelist
func (p *Pager) format() error {
	p.meta = base.Meta{
		Magic:         base.MagicNumber,
		Version:       base.FormatVersion,
		PageSize:      base.PageSize,
		PrimaryRoot:   0, // Set by the first update
		FreelistID:    firstFreelistPage,
		FreelistPages: 1,
		TxID:          0,
		NumPages:      3, // Meta x2, freelist
	}
	p.meta.Checksum = p.meta.CalculateChecksum()

	page := &base.Page{}
	for h := base.Handle(0); h < reservedPages; h++ {
		page.WriteMeta(h, &p.meta)
		if err := p.store.WritePage(h, page); err != nil {
			return err
		}
	}

	fl := []*base.Page{{}}
	p.freelist.Serialize(firstFreelistPage, fl)
	if err := p.store.WritePage(firstFreelistPage, fl[0]); err != nil {
		return err
	}
	return p.store.Sync()
}

// load picks the newest valid meta page and reads the freelist it names
func (p *Pager) load() error {
	var metas [2]base.Meta
	var errs [2]error
	for h := range metas {
		page := &base.Page{}
		if errs[h] = p.store.ReadPage(base.Handle(h), page); errs[h] != nil {
			continue
		}
		if errs[h] = page.Verify(); errs[h] != nil {
			continue
		}
		metas[h] = page.ReadMeta()
		errs[h] = metas[h].Validate()
	}

	switch {
	case errs[0] != nil && errs[1] != nil:
		return fmt.Errorf("both meta pages corrupted: %w, %w", errs[0], errs[1])
	case errs[0] != nil:
		p.log.Warn("Meta page invalid, using backup", "page", 0, "error", errs[0])
		p.meta = metas[1]
	case errs[1] != nil:
		p.log.Warn("Meta page invalid, using backup", "page", 1, "error", errs[1])
		p.meta = metas[0]
	case metas[0].TxID > metas[1].TxID:
		p.meta = metas[0]
	default:
		p.meta = metas[1]
	}

	pages := make([]*base.Page, p.meta.FreelistPages)
	for i := range pages {
		h := p.meta.FreelistID + base.Handle(i)
		pages[i] = &base.Page{}
		if err := p.store.ReadPage(h, pages[i]); err != nil {
			return err
		}
		if err := pages[i].Verify(); err != nil {
			return fmt.Errorf("freelist page %d: %w", h, err)
		}
	}
	return p.freelist.Deserialize(pages)
}

// Meta returns the last committed meta record
func (p *Pager) Meta() base.Meta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta
}

// FreePages returns the number of reusable pages
func (p *Pager) FreePages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freelist.Len()
}

// Begin starts a transaction against the last committed state
func (p *Pager) Begin(writable bool) *Tx {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tx := &Tx{
		pager:    p,
		writable: writable,
		meta:     p.meta,
	}
	if writable {
		tx.freelist = p.freelist.Clone()
		tx.pages = make(map[base.Handle]*base.Page)
		tx.dirty = btree.NewG[*base.Page](32, func(a, b *base.Page) bool {
			return a.Handle() < b.Handle()
		})
		tx.freed = make(map[base.Handle]struct{})
	}
	return tx
}

// read returns the committed version of page h, shared through the cache
func (p *Pager) read(h base.Handle) (*base.Page, error) {
	if page, hit := p.cache.Get(h); hit {
		return page, nil
	}

	page := &base.Page{}
	if err := p.store.ReadPage(h, page); err != nil {
		return nil, err
	}
	if err := page.Verify(); err != nil {
		return nil, fmt.Errorf("page %d: %w", h, err)
	}
	if page.Handle() != h {
		return nil, fmt.Errorf("%w: read page %d, header says %d", ErrPageMismatch, h, page.Handle())
	}

	p.cache.Put(h, page)
	return page, nil
}

// CacheStats returns page cache statistics
func (p *Pager) CacheStats() cache.Stats {
	return p.cache.Stats()
}

// StorageStats returns I/O statistics
func (p *Pager) StorageStats() storage.Stats {
	return p.store.Stats()
}

// Close releases the storage and the journal
func (p *Pager) Close() error {
	p.cache.Purge()
	if p.wal != nil {
		if err := p.wal.Close(); err != nil {
			_ = p.store.Close()
			return err
		}
	}
	return p.store.Close()
}
