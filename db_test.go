package slotdb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/slotdb/normal"
)

// Helper to create a temporary test database
func setup(t *testing.T, options ...Option) (*DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	options = append([]Option{WithInitialMmapSize(1 << 20)}, options...)
	db, err := Open(path, options...)
	require.NoError(t, err, "Failed to create DB")

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, path
}

func intKey(n int) normal.Value {
	return normal.Create(int64(n), true)
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record(msg) }

func TestOpenCreatesPrimaryTree(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)

	err := db.View(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)
		assert.NotZero(t, primary.Handle())

		n, err := primary.Count()
		require.NoError(t, err)
		assert.Zero(t, n)
		return primary.Check()
	})
	require.NoError(t, err)

	stats := db.Stats()
	assert.Equal(t, uint64(1), stats.TxID, "creating the primary tree is the first commit")
	assert.Equal(t, uint64(4), stats.Pages)
}

func TestPersistence(t *testing.T) {
	t.Parallel()

	db, path := setup(t)
	const count = 2000

	err := db.Update(func(tx *Tx) error {
		primary, err := tx.Primary()
		if err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			if _, err := primary.Insert(intKey(i), []byte(fmt.Sprintf("value-%d", i))); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	err = db.View(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)
		require.NoError(t, primary.Check())

		n, err := primary.Count()
		require.NoError(t, err)
		assert.Equal(t, count, n)

		for i := 0; i < count; i++ {
			v, found, err := primary.Find(intKey(i))
			require.NoError(t, err)
			require.True(t, found, "key %d", i)
			assert.Equal(t, fmt.Sprintf("value-%d", i), string(v))
		}
		return nil
	})
	require.NoError(t, err)
}

func TestReadOnlyTransaction(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)

	err := db.View(func(tx *Tx) error {
		assert.False(t, tx.Writable())

		primary, err := tx.Primary()
		require.NoError(t, err)

		_, err = primary.Insert(intKey(1), []byte("x"))
		assert.ErrorIs(t, err, ErrTxNotWritable)
		_, err = primary.Remove(intKey(1))
		assert.ErrorIs(t, err, ErrTxNotWritable)
		_, err = tx.CreateTree()
		assert.ErrorIs(t, err, ErrTxNotWritable)
		assert.ErrorIs(t, tx.DropTree(primary.Handle()), ErrTxNotWritable)
		assert.ErrorIs(t, tx.Commit(), ErrTxNotWritable)
		return nil
	})
	require.NoError(t, err)
}

func TestTransactionDone(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)

	tx, err := db.Begin(true)
	require.NoError(t, err)
	primary, err := tx.Primary()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = primary.Insert(intKey(1), nil)
	assert.ErrorIs(t, err, ErrTxDone)
	_, _, err = primary.Find(intKey(1))
	assert.ErrorIs(t, err, ErrTxDone)
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.NoError(t, tx.Rollback())

	// The lock was released
	require.NoError(t, db.Update(func(*Tx) error { return nil }))
}

func TestRollbackDiscardsChanges(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)

	tx, err := db.Begin(true)
	require.NoError(t, err)
	primary, err := tx.Primary()
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		_, err := primary.Insert(intKey(i), []byte("discarded"))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Rollback())

	boom := errors.New("boom")
	err = db.Update(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)
		_, err = primary.Insert(intKey(1000), []byte("discarded"))
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = db.View(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)
		n, err := primary.Count()
		require.NoError(t, err)
		assert.Zero(t, n)
		return primary.Check()
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), db.Stats().TxID)
}

func TestSecondaryTrees(t *testing.T) {
	t.Parallel()

	db, path := setup(t)

	var h Handle
	err := db.Update(func(tx *Tx) error {
		tree, err := tx.CreateTree()
		if err != nil {
			return err
		}
		h = tree.Handle()
		for i := 0; i < 300; i++ {
			if _, err := tree.Insert(normal.Create(fmt.Sprintf("name-%03d", i), true), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(tx *Tx) error {
		tree, err := tx.OpenTree(h)
		require.NoError(t, err)
		n, err := tree.Count()
		require.NoError(t, err)
		assert.Equal(t, 300, n)

		primary, err := tx.Primary()
		require.NoError(t, err)
		assert.ErrorIs(t, tx.DropTree(primary.Handle()), ErrPrimaryTree)

		return tx.DropTree(h)
	})
	require.NoError(t, err)

	stats := db.Stats()
	assert.Positive(t, stats.FreePages, "dropped tree pages are reusable")

	err = db.View(func(tx *Tx) error {
		_, err := tx.OpenTree(Handle(stats.Pages + 10))
		assert.ErrorIs(t, err, ErrInvalidHandle)
		return nil
	})
	require.NoError(t, err)
}

func TestClosedDatabase(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	require.NoError(t, db.Close())

	_, err := db.Begin(false)
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	assert.ErrorIs(t, db.Update(func(*Tx) error { return nil }), ErrDatabaseClosed)
	assert.NoError(t, db.Close(), "closing twice is a no-op")
}

func TestInMemory(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	db, err := Open("", WithInMemory(), WithLogger(logger), WithMaxCacheSize(16), WithSyncMode(SyncOff))
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(tx *Tx) error {
		primary, err := tx.Primary()
		if err != nil {
			return err
		}
		_, err = primary.Insert(normal.Create("k", true), []byte("v"))
		return err
	})
	require.NoError(t, err)

	err = db.View(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)
		v, found, err := primary.Find(normal.Create("k", true))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v"), v)
		return nil
	})
	require.NoError(t, err)

	logger.mu.Lock()
	assert.Contains(t, logger.msgs, "Database opened")
	logger.mu.Unlock()
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := db.Update(func(tx *Tx) error {
					primary, err := tx.Primary()
					if err != nil {
						return err
					}
					_, err = primary.Insert(intKey(w*1000+i), []byte("v"))
					return err
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := db.View(func(tx *Tx) error {
					primary, err := tx.Primary()
					if err != nil {
						return err
					}
					return primary.Check()
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	err := db.View(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)
		n, err := primary.Count()
		require.NoError(t, err)
		assert.Equal(t, 200, n)
		return nil
	})
	require.NoError(t, err)
}

func TestStatsInsideTransaction(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)

	done := make(chan Stats, 1)
	go func() {
		_ = db.Update(func(tx *Tx) error {
			primary, err := tx.Primary()
			if err != nil {
				return err
			}
			if _, err := primary.Insert(intKey(1), []byte("v")); err != nil {
				return err
			}
			done <- db.Stats()
			return nil
		})
	}()

	select {
	case stats := <-done:
		assert.Equal(t, uint64(1), stats.TxID, "the open transaction is not counted yet")
	case <-time.After(10 * time.Second):
		t.Fatal("Stats blocked on the open write transaction")
	}

	require.Eventually(t, func() bool {
		return db.Stats().TxID == 2
	}, 10*time.Second, 10*time.Millisecond)
}

func TestLoggerReceivesRollback(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	db, _ := setup(t, WithLogger(logger))

	errAbort := errors.New("abort")
	err := db.Update(func(*Tx) error { return errAbort })
	require.ErrorIs(t, err, errAbort)
	require.NoError(t, db.Close())

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Equal(t, []string{"Database opened", "Rolling back transaction", "Database closed"}, logger.msgs)
}

func TestDefaultLoggerDiscards(t *testing.T) {
	t.Parallel()

	var l Logger = DiscardLogger{}
	assert.NotPanics(t, func() {
		l.Error("e", "k", 1)
		l.Warn("w")
		l.Info("i", "odd")
	})

	opts := DefaultOptions()
	WithLogger(nil)(&opts)
	assert.Equal(t, DiscardLogger{}, opts.logger)
}
