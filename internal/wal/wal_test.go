package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/slotdb/internal/base"
)

func sealedPage(h base.Handle, fill byte) *base.Page {
	p := &base.Page{}
	p.Reset(h, base.PageTypeLeaf)
	p.Data[base.PageSize-1] = fill
	p.Seal()
	return p
}

func replayAll(t *testing.T, w *WAL) (map[base.Handle]byte, int) {
	t.Helper()

	got := make(map[base.Handle]byte)
	n, err := w.Replay(func(p *base.Page) error {
		got[p.Handle()] = p.Data[base.PageSize-1]
		return nil
	})
	require.NoError(t, err)
	return got, n
}

func TestReplayCommittedOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db.wal")
	w, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, w.AppendPage(1, sealedPage(3, 'a')))
	require.NoError(t, w.AppendPage(1, sealedPage(4, 'b')))
	require.NoError(t, w.AppendCommit(1))
	require.NoError(t, w.AppendPage(2, sealedPage(3, 'c')))
	require.NoError(t, w.AppendCommit(2))
	require.NoError(t, w.AppendPage(3, sealedPage(5, 'x'))) // Never committed
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	got, n := replayAll(t, w)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[base.Handle]byte{3: 'c', 4: 'b'}, got, "later transactions win")

	require.NoError(t, w.Truncate())
	assert.Zero(t, w.Size())
	got, n = replayAll(t, w)
	assert.Zero(t, n)
	assert.Empty(t, got)
}

func TestReplayStopsAtTornTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db.wal")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.AppendPage(1, sealedPage(3, 'a')))
	require.NoError(t, w.AppendCommit(1))
	require.NoError(t, w.AppendPage(2, sealedPage(4, 'b')))
	require.NoError(t, w.AppendCommit(2))
	require.NoError(t, w.Close())

	// Cut the file inside the second page record
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-RecordHeaderSize-100))

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	got, n := replayAll(t, w)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[base.Handle]byte{3: 'a'}, got)
}

func TestReplayRejectsCorruptPage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db.wal")
	w, err := Open(path)
	require.NoError(t, err)

	bad := sealedPage(3, 'a')
	bad.Data[200] ^= 0xFF
	require.NoError(t, w.AppendPage(1, bad))
	require.NoError(t, w.AppendCommit(1))

	got, n := replayAll(t, w)
	assert.Zero(t, n)
	assert.Empty(t, got)
	require.NoError(t, w.Close())
}
