package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/slotdb/internal/base"
)

func pageWith(h base.Handle, b byte) *base.Page {
	p := &base.Page{}
	p.Reset(h, base.PageTypeLeaf)
	p.Data[base.PageSize-1] = b
	p.Seal()
	return p
}

func TestBackends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		open func(t *testing.T, path string) Storage
	}{
		{"mmap", func(t *testing.T, path string) Storage {
			s, err := NewMMap(path, 4*base.PageSize)
			require.NoError(t, err)
			return s
		}},
		{"file", func(t *testing.T, path string) Storage {
			s, err := NewFile(path)
			require.NoError(t, err)
			return s
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "pages.db")

			s := tt.open(t, path)
			empty, err := s.Empty()
			require.NoError(t, err)
			assert.True(t, empty)

			// Page 9 lies past the initial mapping and forces a remap
			for _, h := range []base.Handle{0, 1, 9} {
				require.NoError(t, s.WritePage(h, pageWith(h, byte(h)+1)))
			}
			require.NoError(t, s.Sync())

			stats := s.Stats()
			assert.Equal(t, uint64(3), stats.Writes)
			assert.Equal(t, uint64(3*base.PageSize), stats.Written)
			require.NoError(t, s.Close())

			s = tt.open(t, path)
			defer s.Close()
			empty, err = s.Empty()
			require.NoError(t, err)
			assert.False(t, empty)

			for _, h := range []base.Handle{0, 1, 9} {
				var p base.Page
				require.NoError(t, s.ReadPage(h, &p))
				require.NoError(t, p.Verify())
				assert.Equal(t, h, p.Handle())
				assert.Equal(t, byte(h)+1, p.Data[base.PageSize-1])
			}
			assert.Equal(t, uint64(3), s.Stats().Reads)
		})
	}
}

func TestMemoryCopiesPages(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	empty, err := m.Empty()
	require.NoError(t, err)
	assert.True(t, empty)

	p := pageWith(3, 7)
	require.NoError(t, m.WritePage(3, p))
	p.Data[base.PageSize-1] = 99

	var got base.Page
	require.NoError(t, m.ReadPage(3, &got))
	assert.Equal(t, byte(7), got.Data[base.PageSize-1], "stored page is independent of the caller's buffer")

	assert.Error(t, m.ReadPage(4, &got))

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.ReadPage(3, &got), ErrClosed)
}
