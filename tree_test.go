package slotdb

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/slotdb/normal"
)

// fill inserts ints [0, n) and a few strings into the primary tree
func fill(t *testing.T, db *DB, n int) {
	t.Helper()

	err := db.Update(func(tx *Tx) error {
		primary, err := tx.Primary()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if _, err := primary.Insert(intKey(i), []byte(fmt.Sprint(i))); err != nil {
				return err
			}
		}
		for _, s := range []string{"a", "b", "c"} {
			if _, err := primary.Insert(normal.Create(s, true), []byte(s)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func collectInts(t *testing.T, db *DB, r Range) []int64 {
	t.Helper()

	var got []int64
	err := db.View(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)
		it := primary.Enumerate(r)
		for it.Next() {
			n, err := it.Key().Int64()
			require.NoError(t, err)
			v, err := it.Value()
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprint(n), string(v))
			got = append(got, n)
		}
		return it.Err()
	})
	require.NoError(t, err)
	return got
}

func TestEnumerateRanges(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	fill(t, db, 100)

	tests := []struct {
		name string
		r    Range
		want []int64
	}{
		{"inclusive", Range{Min: intKey(10), Max: intKey(14)}, []int64{10, 11, 12, 13, 14}},
		{"exclusive", Range{Min: intKey(10), Max: intKey(14), MinExclusive: true, MaxExclusive: true}, []int64{11, 12, 13}},
		{"reverse", Range{Min: intKey(10), Max: intKey(13), Reverse: true}, []int64{13, 12, 11, 10}},
		{"skip and limit", Range{Min: intKey(10), Skip: 2, Limit: 3}, []int64{12, 13, 14}},
		{"reverse limit", Range{Max: intKey(50), Limit: 2, Reverse: true}, []int64{50, 49}},
		{"open min", Range{Max: intKey(2)}, []int64{0, 1, 2}},
		{"empty", Range{Min: intKey(20), Max: intKey(10)}, nil},
		{"above all", Range{Min: intKey(1000)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collectInts(t, db, tt.r))
		})
	}
}

func TestEnumerateUnboundedOrdersTypes(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	fill(t, db, 20)

	err := db.View(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)

		var keys []normal.Value
		it := primary.Enumerate(Range{})
		for it.Next() {
			keys = append(keys, it.Key())
		}
		require.NoError(t, it.Err())
		require.Len(t, keys, 23)

		for i := 1; i < len(keys); i++ {
			assert.Negative(t, normal.Compare(keys[i-1], keys[i]))
		}
		assert.Equal(t, normal.TypeInt64, keys[0].Type())
		assert.Equal(t, normal.TypeString, keys[22].Type())

		// A string bound only sees strings
		var strs []string
		it = primary.Enumerate(Range{Min: normal.Create("", true)})
		for it.Next() {
			s, err := it.Key().Str()
			require.NoError(t, err)
			strs = append(strs, s)
		}
		require.NoError(t, it.Err())
		assert.Equal(t, []string{"a", "b", "c"}, strs)
		return nil
	})
	require.NoError(t, err)
}

func TestInsertDuplicateAndPut(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)

	err := db.Update(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)

		key := normal.Create("user", true)
		ok, err := primary.Insert(key, []byte("first"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = primary.Insert(key, []byte("second"))
		require.NoError(t, err)
		assert.False(t, ok, "duplicate insert leaves the tree unchanged")

		v, _, err := primary.Find(key)
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), v)

		require.NoError(t, primary.Put(key, []byte("second")))
		v, _, err = primary.Find(key)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), v)

		ok, err = primary.Remove(key)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = primary.Remove(key)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = primary.InsertRaw(nil, []byte("x"))
		assert.ErrorIs(t, err, ErrKeyEmpty)
		_, err = primary.InsertRaw(normal.Max().Bytes(), []byte("x"))
		assert.ErrorIs(t, err, ErrKeyReserved)
		return nil
	})
	require.NoError(t, err)
}

func TestLargeEntriesSurviveReopen(t *testing.T) {
	t.Parallel()

	db, path := setup(t)

	bigKey := normal.Create(bytes.Repeat([]byte("k"), 1000), true)
	bigValue := bytes.Repeat([]byte("0123456789"), 10000)

	err := db.Update(func(tx *Tx) error {
		primary, err := tx.Primary()
		if err != nil {
			return err
		}
		if _, err := primary.Insert(bigKey, bigValue); err != nil {
			return err
		}
		_, err = primary.Insert(normal.Create("small", true), []byte("s"))
		return err
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

		v, found, err := primary.Find(bigKey)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, bigValue, v)

		n, err := primary.Count()
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		// Bytes sort after strings
		it := primary.Enumerate(Range{Reverse: true})
		require.True(t, it.Next())
		assert.Equal(t, bigKey.Bytes(), it.KeyRaw())
		v, err = it.Value()
		require.NoError(t, err)
		assert.Equal(t, bigValue, v)
		return nil
	})
	require.NoError(t, err)
}

func TestRemoveAllReleasesPages(t *testing.T) {
	t.Parallel()

	db, _ := setup(t)
	const count = 3000
	fill(t, db, count)
	grown := db.Stats().Pages

	err := db.Update(func(tx *Tx) error {
		primary, err := tx.Primary()
		require.NoError(t, err)
		for i := 0; i < count; i++ {
			ok, err := primary.Remove(intKey(i))
			require.NoError(t, err)
			require.True(t, ok)
		}
		return primary.Check()
	})
	require.NoError(t, err)

	stats := db.Stats()
	assert.Equal(t, grown, stats.Pages)
	assert.Greater(t, stats.FreePages, 0)
}
