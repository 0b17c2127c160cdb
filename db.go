// Package slotdb is an embedded storage engine built around a page based
// B+Tree. Keys are normalised values (see package normal) so that byte order
// equals value order; values are arbitrary byte strings of any length.
//
// A database holds one primary tree plus any number of secondary trees,
// addressed by the handle of their root page. All access happens inside
// transactions: one writer or any number of readers at a time.
package slotdb

import (
	"sync"
	"sync/atomic"

	"github.com/alexhholmes/slotdb/internal/btree"
	"github.com/alexhholmes/slotdb/internal/cache"
	"github.com/alexhholmes/slotdb/internal/pager"
	"github.com/alexhholmes/slotdb/internal/storage"
	"github.com/alexhholmes/slotdb/internal/wal"
)

type DB struct {
	// Held for the whole lifetime of a transaction: exclusively by the
	// writer, shared by readers.
	mu     sync.RWMutex
	closed atomic.Bool

	pager *pager.Pager
	log   Logger
	path  string
}

// Open opens or creates the database at path
func Open(path string, options ...Option) (*DB, error) {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}

	var (
		store   storage.Storage
		journal *wal.WAL
		err     error
	)
	if opts.inMemory {
		store = storage.NewMemory()
	} else {
		store, err = storage.NewMMap(path, opts.initialMmapSize)
		if err != nil {
			return nil, err
		}
		journal, err = wal.Open(path + ".wal")
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	closeAll := func() {
		if journal != nil {
			_ = journal.Close()
		}
		_ = store.Close()
	}

	c, err := cache.NewCache(opts.maxCacheSize)
	if err != nil {
		closeAll()
		return nil, err
	}

	p, err := pager.New(store, journal, c, opts.syncMode, opts.logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	d := &DB{
		pager: p,
		log:   opts.logger,
		path:  path,
	}

	if p.Meta().PrimaryRoot == 0 {
		if err := d.createPrimary(); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	meta := p.Meta()
	d.log.Info("Database opened",
		"path", path,
		"pages", meta.NumPages,
		"txid", meta.TxID,
		"inMemory", opts.inMemory,
	)
	return d, nil
}

func (d *DB) createPrimary() error {
	ptx := d.pager.Begin(true)
	t, err := btree.Create(ptx)
	if err != nil {
		_ = ptx.Rollback()
		return err
	}
	if err := ptx.SetPrimaryRoot(t.Root()); err != nil {
		_ = ptx.Rollback()
		return err
	}
	return ptx.Commit()
}

// Begin starts a transaction. A writable transaction blocks until every
// other transaction has finished; the caller must Commit or Rollback it.
func (d *DB) Begin(writable bool) (*Tx, error) {
	if d.closed.Load() {
		return nil, ErrDatabaseClosed
	}

	if writable {
		d.mu.Lock()
	} else {
		d.mu.RLock()
	}

	// Close may have won the lock
	if d.closed.Load() {
		if writable {
			d.mu.Unlock()
		} else {
			d.mu.RUnlock()
		}
		return nil, ErrDatabaseClosed
	}

	return &Tx{
		db:       d,
		tx:       d.pager.Begin(writable),
		writable: writable,
	}, nil
}

// View executes a function within a read-only transaction.
// The transaction is always rolled back.
func (d *DB) View(fn func(*Tx) error) error {
	tx, err := d.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return fn(tx)
}

// Update executes a function within a read-write transaction.
// If the function returns an error, the transaction is rolled back.
// If the function returns nil, the transaction is committed.
func (d *DB) Update(fn func(*Tx) error) error {
	tx, err := d.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		d.log.Warn("Rolling back transaction", "txid", tx.ID(), "error", err)
		return err
	}

	return tx.Commit()
}

// Stats holds database statistics
type Stats struct {
	TxID      uint64
	Pages     uint64
	FreePages int
	Cache     cache.Stats
	Storage   storage.Stats
}

// Stats returns the statistics of the last committed state. It does not
// wait for open transactions and may be called from inside one.
func (d *DB) Stats() Stats {
	meta := d.pager.Meta()
	return Stats{
		TxID:      meta.TxID,
		Pages:     meta.NumPages,
		FreePages: d.pager.FreePages(),
		Cache:     d.pager.CacheStats(),
		Storage:   d.pager.StorageStats(),
	}
}

// Close waits for open transactions to finish and releases the file.
// Closing twice is a no-op.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Swap(true) {
		return nil
	}

	if err := d.pager.Close(); err != nil {
		d.log.Error("Failed to close database", "path", d.path, "error", err)
		return err
	}
	d.log.Info("Database closed", "path", d.path)
	return nil
}
