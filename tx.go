package slotdb

import (
	"github.com/alexhholmes/slotdb/internal/base"
	"github.com/alexhholmes/slotdb/internal/btree"
	"github.com/alexhholmes/slotdb/internal/pager"
)

// Handle identifies a tree by the page number of its root
type Handle = base.Handle

// Tx represents a transaction on the database.
//
// A Tx and the trees opened from it must only be used by one goroutine, and
// are invalid once Commit or Rollback returns.
type Tx struct {
	db       *DB
	tx       *pager.Tx
	writable bool
	done     bool
}

// ID returns the id this transaction commits as
func (tx *Tx) ID() uint64 {
	return tx.tx.ID()
}

// Writable reports whether the transaction may modify data
func (tx *Tx) Writable() bool {
	return tx.writable
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

// Primary returns the primary tree
func (tx *Tx) Primary() (*Tree, error) {
	return tx.OpenTree(tx.tx.PrimaryRoot())
}

// CreateTree creates an empty secondary tree. Keep its Handle to open it
// again in later transactions.
func (tx *Tx) CreateTree() (*Tree, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	t, err := btree.Create(tx.tx)
	if err != nil {
		return nil, err
	}
	return &Tree{tx: tx, tree: t}, nil
}

// OpenTree opens the tree rooted at h
func (tx *Tx) OpenTree(h Handle) (*Tree, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	t, err := btree.Open(tx.tx, h)
	if err != nil {
		return nil, err
	}
	return &Tree{tx: tx, tree: t}, nil
}

// DropTree releases every page of the tree rooted at h
func (tx *Tx) DropTree(h Handle) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if h == tx.tx.PrimaryRoot() {
		return ErrPrimaryTree
	}
	t, err := btree.Open(tx.tx, h)
	if err != nil {
		return err
	}
	return t.Deallocate()
}

// Commit writes all changes to disk. Committing a read-only transaction
// returns ErrTxNotWritable; use Rollback.
func (tx *Tx) Commit() error {
	if err := tx.checkWritable(); err != nil {
		return err
	}

	err := tx.tx.Commit()
	tx.finish()
	return err
}

// Rollback discards all changes. Rolling back a finished transaction is a
// no-op, so it is safe to defer.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	err := tx.tx.Rollback()
	tx.finish()
	return err
}

func (tx *Tx) finish() {
	tx.done = true
	if tx.writable {
		tx.db.mu.Unlock()
	} else {
		tx.db.mu.RUnlock()
	}
}
