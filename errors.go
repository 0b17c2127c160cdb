package slotdb

import (
	"errors"

	"github.com/alexhholmes/slotdb/internal/base"
	"github.com/alexhholmes/slotdb/internal/btree"
	"github.com/alexhholmes/slotdb/internal/pager"
	"github.com/alexhholmes/slotdb/normal"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrDatabaseClosed = errors.New("database is closed")
	ErrPrimaryTree    = errors.New("primary tree cannot be dropped")
	ErrPostingList    = errors.New("malformed posting list")

	ErrTxNotWritable = pager.ErrTxNotWritable
	ErrTxDone        = pager.ErrTxDone
	ErrReservedPage  = pager.ErrReservedPage
	ErrInvalidHandle = pager.ErrInvalidHandle
	ErrNeedsRecovery = pager.ErrNeedsRecovery

	ErrKeyEmpty          = btree.ErrKeyEmpty
	ErrKeyReserved       = btree.ErrKeyReserved
	ErrCorruption        = btree.ErrCorruption
	ErrSequenceExhausted = btree.ErrSequenceExhausted
	ErrTypeMismatch      = normal.ErrTypeMismatch

	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum
)

// CorruptionError describes a violated tree invariant. It matches
// ErrCorruption with errors.Is.
type CorruptionError = btree.CorruptionError
