package btree

import (
	"errors"
	"fmt"

	"github.com/alexhholmes/slotdb/internal/base"
)

var (
	ErrSequenceExhausted = errors.New("overflow sequence numbers exhausted")
	ErrCorruption        = errors.New("tree corruption")
	ErrKeyEmpty          = errors.New("key is empty")
	ErrKeyReserved       = errors.New("key starts with a reserved marker")
)

// CorruptionError reports a broken structural invariant. The tree must not be
// written to after one is returned.
type CorruptionError struct {
	Handle base.Handle
	Op     string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("btree %s: page %d: %s", e.Op, e.Handle, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruption }

func corrupt(h base.Handle, op, format string, args ...any) error {
	return &CorruptionError{Handle: h, Op: op, Reason: fmt.Sprintf(format, args...)}
}
