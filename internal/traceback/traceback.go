// Package traceback records the root-to-leaf path of a tree operation.
// Pages carry no parent links, so every operation that needs to walk back up
// (separator propagation, sibling balancing) carries one of these instead.
package traceback

import "github.com/alexhholmes/slotdb/internal/base"

// Traceback is a list of page handles from the root downward with a movable
// cursor. The zero value is not usable; start from New.
type Traceback struct {
	handles []base.Handle
	cursor  int
}

// New starts a path at the root
func New(root base.Handle) *Traceback {
	return &Traceback{handles: []base.Handle{root}}
}

// Push appends a child below the current page and moves onto it. Anything
// below the cursor is discarded first.
func (t *Traceback) Push(h base.Handle) {
	t.handles = append(t.handles[:t.cursor+1], h)
	t.cursor++
}

// Current returns the page under the cursor
func (t *Traceback) Current() base.Handle {
	return t.handles[t.cursor]
}

// Set replaces the page under the cursor
func (t *Traceback) Set(h base.Handle) {
	t.handles[t.cursor] = h
}

// Parent returns the page above the cursor and false at the root
func (t *Traceback) Parent() (base.Handle, bool) {
	if t.cursor == 0 {
		return 0, false
	}
	return t.handles[t.cursor-1], true
}

// Up moves the cursor one level toward the root. Returns false at the root.
func (t *Traceback) Up() bool {
	if t.cursor == 0 {
		return false
	}
	t.cursor--
	return true
}

// Down moves the cursor one level toward the leaf. Returns false at the bottom.
func (t *Traceback) Down() bool {
	if t.cursor == len(t.handles)-1 {
		return false
	}
	t.cursor++
	return true
}

// ResetTop moves the cursor to the root
func (t *Traceback) ResetTop() { t.cursor = 0 }

// ResetBottom moves the cursor to the deepest page
func (t *Traceback) ResetBottom() { t.cursor = len(t.handles) - 1 }

// IsTop reports whether the cursor is at the root
func (t *Traceback) IsTop() bool { return t.cursor == 0 }

// Depth returns the number of recorded pages
func (t *Traceback) Depth() int { return len(t.handles) }

// Level returns the cursor position, 0 being the root
func (t *Traceback) Level() int { return t.cursor }

// Clone copies the path and cursor
func (t *Traceback) Clone() *Traceback {
	handles := make([]base.Handle, len(t.handles))
	copy(handles, t.handles)
	return &Traceback{handles: handles, cursor: t.cursor}
}
