package datafile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-arbor/pkg/container"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

func TestTextReadRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.dat")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	h := NewText(path)
	_, err := h.ReadRange(0, 2)
	assert.True(t, errors.Is(err, ErrNotOpen))

	err = With(h, func(Handle) error {
		assert.True(t, h.IsOpen())
		b, err := h.ReadRange(2, 5)
		require.NoError(t, err)
		assert.Equal(t, "234", string(b))

		b, err = h.ReadRange(7, 10)
		require.NoError(t, err)
		assert.Equal(t, "789", string(b))

		size, err := h.Size()
		require.NoError(t, err)
		assert.Equal(t, int64(10), size)

		_, err = h.ReadRange(8, 12)
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, h.IsOpen())
	assert.Equal(t, 1, h.OpenCount())
}

func TestWithClosesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.dat")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	h := NewText(path)
	boom := errors.New("parse failed")
	err := With(h, func(h Handle) error {
		h.Cache()["x"] = fields.Int64s([]int64{1})
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.False(t, h.IsOpen())
	assert.Empty(t, h.Cache(), "cache must not outlive the bracket")
}

func TestWithReportsOpenFailure(t *testing.T) {
	h := NewText(filepath.Join(t.TempDir(), "missing.dat"))
	called := false
	err := With(h, func(Handle) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, 0, h.OpenCount())
}

func TestTextDoubleOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.dat")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	h := NewText(path)
	require.NoError(t, h.Open())
	assert.Error(t, h.Open())
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestGroupReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forest.arb")
	w, err := container.Create(path, container.Options{ChunkLen: 4})
	require.NoError(t, err)
	require.NoError(t, w.WriteDataset("File1/Forests/id", fields.Int64s([]int64{5, 6, 7, 8, 9, 10})))
	require.NoError(t, w.SetAttr("File1/Ntrees", 3))
	require.NoError(t, w.Close())

	g := NewGroup(path, "/File1/")
	assert.Equal(t, "File1", g.Name())
	assert.Equal(t, "File1/Forests/id", g.Dataset("Forests/id"))

	_, err = g.Read("Forests/id")
	assert.True(t, errors.Is(err, ErrNotOpen))

	err = With(g, func(Handle) error {
		assert.True(t, g.Has("Forests/id"))
		assert.NotNil(t, g.Reader())

		a, err := g.ReadRange("Forests/id", 3, 6)
		require.NoError(t, err)
		assert.Equal(t, []int64{8, 9, 10}, a.I64)

		var n int
		require.NoError(t, g.Attr("Ntrees", &n))
		assert.Equal(t, 3, n)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, g.IsOpen())
	assert.Nil(t, g.Reader())
}
