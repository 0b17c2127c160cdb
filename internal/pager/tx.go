package pager

import (
	"fmt"

	"github.com/google/btree"

	"github.com/alexhholmes/slotdb/internal/base"
)

// Tx is a page level transaction. A read Tx hands out the shared committed
// pages and must not modify them. A writable Tx works on private copies:
// nothing it does is visible to storage until Commit.
type Tx struct {
	pager    *Pager
	writable bool
	done     bool
	meta     base.Meta

	// Writable only
	freelist *Freelist
	pages    map[base.Handle]*base.Page // Working copies by handle
	dirty    *btree.BTreeG[*base.Page]  // Saved pages, flushed in handle order
	freed    map[base.Handle]struct{}   // Deallocated in this tx
}

// Writable reports whether the transaction may modify pages
func (tx *Tx) Writable() bool {
	return tx.writable
}

// ID returns the id the transaction commits as
func (tx *Tx) ID() uint64 {
	return tx.meta.TxID + 1
}

// PrimaryRoot returns the root handle of the primary tree, 0 if none exists
func (tx *Tx) PrimaryRoot() base.Handle {
	return tx.meta.PrimaryRoot
}

// SetPrimaryRoot records the primary tree root in the next meta record
func (tx *Tx) SetPrimaryRoot(h base.Handle) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.meta.PrimaryRoot = h
	return nil
}

// Pages returns the number of pages the file spans, including growth in this tx
func (tx *Tx) Pages() uint64 {
	return tx.meta.NumPages
}

func (tx *Tx) check() error {
	if tx.done {
		return ErrTxDone
	}
	return nil
}

func (tx *Tx) checkWritable() error {
	if tx.done {
		return ErrTxDone
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	return nil
}

func (tx *Tx) checkHandle(h base.Handle) error {
	if h < reservedPages || uint64(h) >= tx.meta.NumPages {
		return fmt.Errorf("%w: %d of %d", ErrInvalidHandle, h, tx.meta.NumPages)
	}
	if h >= tx.meta.FreelistID && uint64(h-tx.meta.FreelistID) < tx.meta.FreelistPages {
		return fmt.Errorf("%w: %d holds the freelist", ErrReservedPage, h)
	}
	return nil
}

// Load returns page h. Within a writable tx the same handle always yields
// the same working copy.
func (tx *Tx) Load(h base.Handle) (*base.Page, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if !tx.writable {
		if err := tx.checkHandle(h); err != nil {
			return nil, err
		}
		return tx.pager.read(h)
	}

	if p, ok := tx.pages[h]; ok {
		return p, nil
	}
	if err := tx.checkHandle(h); err != nil {
		return nil, err
	}
	if _, ok := tx.freed[h]; ok {
		return nil, fmt.Errorf("load of deallocated page %d", h)
	}

	committed, err := tx.pager.read(h)
	if err != nil {
		return nil, err
	}
	p := committed.Clone()
	tx.pages[h] = p
	return p, nil
}

// Save marks p dirty. p must carry a handle allocated to this file.
func (tx *Tx) Save(p *base.Page) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	h := p.Handle()
	if err := tx.checkHandle(h); err != nil {
		return err
	}
	if _, ok := tx.freed[h]; ok {
		return fmt.Errorf("save of deallocated page %d", h)
	}
	tx.pages[h] = p
	tx.dirty.ReplaceOrInsert(p)
	return nil
}

// Allocate returns a handle from the freelist, or grows the file
func (tx *Tx) Allocate() (base.Handle, error) {
	if err := tx.checkWritable(); err != nil {
		return 0, err
	}
	if h := tx.freelist.Allocate(); h != 0 {
		delete(tx.freed, h)
		return h, nil
	}
	h := base.Handle(tx.meta.NumPages)
	tx.meta.NumPages++
	return h, nil
}

// Deallocate releases h for reuse
func (tx *Tx) Deallocate(h base.Handle) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if err := tx.checkHandle(h); err != nil {
		return err
	}
	if _, ok := tx.freed[h]; ok {
		return fmt.Errorf("double free of page %d", h)
	}
	if p, ok := tx.pages[h]; ok {
		tx.dirty.Delete(p)
		delete(tx.pages, h)
	}
	tx.freed[h] = struct{}{}
	tx.freelist.Free(h)
	return nil
}

// IsPageType reports whether page h carries marker t
func (tx *Tx) IsPageType(h base.Handle, t base.PageType) (bool, error) {
	p, err := tx.Load(h)
	if err != nil {
		return false, err
	}
	return p.Type() == t, nil
}

// Commit writes dirty pages, the freelist and a new meta record
func (tx *Tx) Commit() error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.done = true

	p := tx.pager
	if p.broken != nil {
		return fmt.Errorf("%w: %w", ErrNeedsRecovery, p.broken)
	}
	meta := tx.meta
	meta.TxID++

	// The freelist moves to the end of the file when it outgrows its run.
	// Freeing the old run can only add entries, so loop until it fits.
	for need := tx.freelist.PagesNeeded(); uint64(need) > meta.FreelistPages; need = tx.freelist.PagesNeeded() {
		for i := uint64(0); i < meta.FreelistPages; i++ {
			tx.freelist.Free(meta.FreelistID + base.Handle(i))
		}
		meta.FreelistID = base.Handle(meta.NumPages)
		meta.FreelistPages = uint64(need) + 1
		meta.NumPages += meta.FreelistPages
		p.log.Info("Freelist relocated", "page", meta.FreelistID, "pages", meta.FreelistPages)
	}

	// Dirty pages in handle order, then the freelist, then the meta page
	writes := make([]*base.Page, 0, tx.dirty.Len()+int(meta.FreelistPages)+1)
	tx.dirty.Ascend(func(page *base.Page) bool {
		page.Seal()
		writes = append(writes, page)
		return true
	})

	fl := make([]*base.Page, meta.FreelistPages)
	for i := range fl {
		fl[i] = &base.Page{}
	}
	tx.freelist.Serialize(meta.FreelistID, fl)
	writes = append(writes, fl...)

	meta.Checksum = meta.CalculateChecksum()
	metaPage := &base.Page{}
	metaPage.WriteMeta(base.Handle(meta.TxID%2), &meta)
	writes = append(writes, metaPage)

	if err := p.write(meta.TxID, writes); err != nil {
		// Storage may hold a partial commit until the journal is replayed
		p.cache.Purge()
		p.broken = err
		p.log.Error("Commit failed", "txid", meta.TxID, "pages", len(writes), "error", err)
		return err
	}

	for h := range tx.freed {
		p.cache.Remove(h)
	}
	tx.dirty.Ascend(func(page *base.Page) bool {
		p.cache.Put(page.Handle(), page)
		return true
	})
	p.mu.Lock()
	p.meta = meta
	p.freelist = tx.freelist
	p.mu.Unlock()
	tx.release()
	return nil
}

// Rollback discards every change. Rolling back a finished tx is a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.release()
	return nil
}

// write journals pages, then writes them in place
func (p *Pager) write(txID uint64, pages []*base.Page) error {
	if p.wal != nil {
		for _, page := range pages {
			if err := p.wal.AppendPage(txID, page); err != nil {
				return err
			}
		}
		if err := p.wal.AppendCommit(txID); err != nil {
			return err
		}
		if p.mode == SyncEveryCommit {
			if err := p.wal.Sync(); err != nil {
				return err
			}
		}
	}

	for _, page := range pages {
		if err := p.store.WritePage(page.Handle(), page); err != nil {
			return err
		}
	}
	if p.mode == SyncEveryCommit {
		if err := p.store.Sync(); err != nil {
			return err
		}
	}

	if p.wal != nil {
		return p.wal.Truncate()
	}
	return nil
}

func (tx *Tx) release() {
	tx.pages = nil
	tx.dirty = nil
	tx.freed = nil
	tx.freelist = nil
}
