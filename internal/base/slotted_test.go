package base

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLeaf() *Leaf {
	return InitLeaf(&Page{}, 10)
}

func insertKey(t *testing.T, s *Slotted, key, data string) {
	t.Helper()
	i, found := s.Search([]byte(key))
	require.False(t, found, "duplicate %q", key)
	require.True(t, s.Insert(i, []byte(key), []byte(data), 0), "insert %q", key)
}

func keysOf(s *Slotted) []string {
	keys := make([]string, s.Len())
	for i := range keys {
		keys[i] = string(s.Key(i))
	}
	return keys
}

func TestSlottedInsertKeepsOrder(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	for _, k := range []string{"m", "c", "x", "a", "q"} {
		insertKey(t, &l.Slotted, k, "v-"+k)
	}

	assert.Equal(t, []string{"a", "c", "m", "q", "x"}, keysOf(&l.Slotted))
	require.NoError(t, l.Check())

	i, found := l.Search([]byte("m"))
	assert.True(t, found)
	assert.Equal(t, 2, i)
	assert.Equal(t, []byte("v-m"), l.Data(i))

	i, found = l.Search([]byte("n"))
	assert.False(t, found)
	assert.Equal(t, 3, i)

	i, found = l.Search([]byte("z"))
	assert.False(t, found)
	assert.Equal(t, 5, i)

	assert.Equal(t, []byte("x"), l.MaxKey())
}

func TestSlottedSearchPrefix(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	for _, k := range []string{"apple", "banana", "band", "bandana", "cherry"} {
		insertKey(t, &l.Slotted, k, "")
	}

	i, ok := l.SearchPrefix([]byte("ban"))
	assert.True(t, ok)
	assert.Equal(t, "banana", string(l.Key(i)))

	i, ok = l.SearchPrefix([]byte("band"))
	assert.True(t, ok)
	assert.Equal(t, "band", string(l.Key(i)))

	_, ok = l.SearchPrefix([]byte("bz"))
	assert.False(t, ok)
}

func TestSlottedRemoveReclaimsFreeBytes(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	insertKey(t, &l.Slotted, "a", "1111")
	before := l.Free()

	insertKey(t, &l.Slotted, "b", "22222222")
	assert.Equal(t, before-(1+8+DescriptorSize), l.Free())

	i, _ := l.Search([]byte("b"))
	l.Remove(i)
	assert.Equal(t, before, l.Free(), "removal returns key, data and descriptor bytes")
	assert.Equal(t, 1, l.Len())

	h := l.header()
	assert.Equal(t, 1, h.garbage, "descriptor kept until compaction")
	assert.True(t, h.compact)
	require.NoError(t, l.Check())

	l.Compact()
	h = l.header()
	assert.Zero(t, h.garbage)
	assert.False(t, h.compact)
	assert.Equal(t, before, l.Free())
	assert.Equal(t, []byte("1111"), l.Data(0))
	require.NoError(t, l.Check())
}

func TestSlottedGarbageReuse(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	data := bytes.Repeat([]byte{'d'}, 90)

	// Fill until the fresh area is exhausted
	n := 0
	for {
		key := []byte(fmt.Sprintf("k%04d", n))
		i, _ := l.Search(key)
		if !l.Insert(i, key, data, 0) {
			break
		}
		n++
	}
	require.Greater(t, n, 10)
	start := l.header().dataStart

	// Free every other slot, then insert entries that fit in the holes
	for k := 0; k < n; k += 2 {
		i, found := l.Search([]byte(fmt.Sprintf("k%04d", k)))
		require.True(t, found)
		l.Remove(i)
	}
	require.NoError(t, l.Check())

	for k := 0; k < n; k += 2 {
		key := []byte(fmt.Sprintf("j%04d", k))
		i, _ := l.Search(key)
		require.True(t, l.Insert(i, key, data[:50], 0))
	}
	require.NoError(t, l.Check())
	assert.Equal(t, n, l.Len())
	assert.Equal(t, start, l.header().dataStart, "holes reused without compaction")
}

func TestSlottedCompactionOnDemand(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	small := bytes.Repeat([]byte{'s'}, 40)

	var keys []string
	for k := 0; ; k++ {
		key := fmt.Sprintf("k%04d", k)
		i, _ := l.Search([]byte(key))
		if !l.Insert(i, []byte(key), small, 0) {
			break
		}
		keys = append(keys, key)
	}

	// Remove enough small slots to fit a large entry only after defragmenting
	for _, key := range keys[:len(keys)/2] {
		i, _ := l.Search([]byte(key))
		l.Remove(i)
	}
	big := bytes.Repeat([]byte{'b'}, 1000)
	require.True(t, l.CanFit(len(big)+5))
	insertKey(t, &l.Slotted, "zzzzz", string(big))

	h := l.header()
	assert.Zero(t, h.garbage, "insert compacted the page")
	require.NoError(t, l.Check())

	i, found := l.Search([]byte("zzzzz"))
	require.True(t, found)
	assert.Equal(t, big, l.Data(i))
	for _, key := range keys[len(keys)/2:] {
		i, found := l.Search([]byte(key))
		require.True(t, found, key)
		assert.Equal(t, small, l.Data(i))
	}
}

func TestSlottedInsertRejectsWhenFull(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	big := bytes.Repeat([]byte{'x'}, 2000)
	insertKey(t, &l.Slotted, "a", string(big))
	insertKey(t, &l.Slotted, "b", string(big[:1900]))

	free := l.Free()
	i, _ := l.Search([]byte("c"))
	assert.False(t, l.Insert(i, []byte("c"), big[:free], 0))
	assert.Equal(t, free, l.Free(), "failed insert leaves the page untouched")
	assert.Equal(t, 2, l.Len())

	assert.False(t, l.CanFit(MaxSlotSize+1))
}

func TestSlottedSetData(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	insertKey(t, &l.Slotted, "a", "0123456789")
	insertKey(t, &l.Slotted, "b", "x")

	require.True(t, l.SetData(0, []byte("short")))
	assert.Equal(t, []byte("short"), l.Data(0))
	require.NoError(t, l.Check())

	// Growing past the slot capacity moves the entry
	require.True(t, l.SetData(0, bytes.Repeat([]byte{'g'}, 100)))
	assert.Equal(t, bytes.Repeat([]byte{'g'}, 100), l.Data(0))
	assert.Equal(t, []string{"a", "b"}, keysOf(&l.Slotted))
	require.NoError(t, l.Check())
}

func TestSlottedFlags(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	require.True(t, l.Insert(0, []byte("k"), []byte("info"), FlagOverflow))
	assert.Equal(t, FlagOverflow, l.Flags(0))

	require.True(t, l.SetData(0, []byte("i")))
	assert.Equal(t, FlagOverflow, l.Flags(0), "flags survive data updates")
}

func TestSlottedChurn(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	l := newTestLeaf()
	model := map[string][]byte{}

	for step := 0; step < 5000; step++ {
		key := fmt.Sprintf("key-%03d", rng.Intn(200))
		i, found := l.Search([]byte(key))

		switch {
		case found && rng.Intn(3) == 0:
			data := bytes.Repeat([]byte{byte(step)}, rng.Intn(60))
			if l.SetData(i, data) {
				model[key] = data
			}
		case found:
			l.Remove(i)
			delete(model, key)
		default:
			data := bytes.Repeat([]byte{byte(step)}, rng.Intn(60))
			if l.Insert(i, []byte(key), data, 0) {
				model[key] = data
			} else {
				assert.False(t, l.CanFit(len(key)+len(data)), "insert failed with room")
			}
		}

		if step%97 == 0 {
			require.NoError(t, l.Check(), "step %d", step)
		}
	}

	require.NoError(t, l.Check())
	keys := make([]string, 0, len(model))
	for k := range model {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, keys, keysOf(&l.Slotted))
	for i, k := range keys {
		assert.Equal(t, model[k], l.Data(i), k)
	}
}

func TestNodeRouting(t *testing.T) {
	t.Parallel()

	n := InitNode(&Page{}, 3)
	require.True(t, n.InsertSeparator([]byte("m"), 20))
	require.True(t, n.InsertSeparator([]byte("f"), 10))
	require.True(t, n.InsertSeparator([]byte("t"), 30))

	assert.Equal(t, Handle(10), n.Child(n.Route([]byte("a"))))
	assert.Equal(t, Handle(10), n.Child(n.Route([]byte("f"))))
	assert.Equal(t, Handle(20), n.Child(n.Route([]byte("g"))))
	assert.Equal(t, Handle(30), n.Child(n.Route([]byte("t"))))
	assert.Equal(t, Handle(30), n.Child(n.Route([]byte("zzz"))), "keys past the last separator route right")

	assert.Equal(t, 1, n.IndexOfChild(20))
	assert.Equal(t, -1, n.IndexOfChild(99))

	n.SetChild(1, 21)
	assert.Equal(t, Handle(21), n.Child(1))
	assert.Equal(t, PageTypeNode, n.Page().Type())
}

func TestLeafChainLinks(t *testing.T) {
	t.Parallel()

	l := newTestLeaf()
	l.SetPrev(4)
	l.SetNext(6)
	insertKey(t, &l.Slotted, "a", "b")

	again := AsLeaf(l.Page())
	assert.Equal(t, Handle(4), again.Prev())
	assert.Equal(t, Handle(6), again.Next())
	assert.Equal(t, 1, again.Len())
	assert.True(t, again.Underflow())
}
