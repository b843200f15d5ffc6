package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestStore_Get_Set_Delete(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Set([]byte("a"), []byte("1")))

	value, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	value[0] = 'x'
	value, _ = s.Get([]byte("a"))
	require.Equal(t, []byte("1"), value)

	require.NoError(t, s.Delete([]byte("a")))

	value, err = s.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestStore_Scan(t *testing.T) {
	s := NewStore()
	s.Set([]byte("b2"), []byte("2"))
	s.Set([]byte("b1"), []byte("1"))
	s.Set([]byte("c"), []byte("3"))

	require.Equal(t, []string{"b1", "b2"}, scanKeys(t, s, []byte("b")))

	err := s.Scan(nil, func(k, v []byte) error {
		return xerrors.New("oops")
	})
	require.EqualError(t, err, "oops")
}

func TestOverlay_Get(t *testing.T) {
	parent := NewStore()
	parent.Set([]byte("a"), []byte("parent"))
	parent.Set([]byte("b"), []byte("parent"))

	overlay := NewOverlay(parent)
	overlay.Set([]byte("a"), []byte("staged"))
	overlay.Delete([]byte("b"))

	value, err := overlay.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("staged"), value)

	value, err = overlay.Get([]byte("b"))
	require.NoError(t, err)
	require.Nil(t, value)

	value, _ = parent.Get([]byte("a"))
	require.Equal(t, []byte("parent"), value)

	overlay.Set([]byte("b"), []byte("back"))
	value, _ = overlay.Get([]byte("b"))
	require.Equal(t, []byte("back"), value)
}

func TestOverlay_Scan(t *testing.T) {
	parent := NewStore()
	parent.Set([]byte("k1"), []byte("1"))
	parent.Set([]byte("k2"), []byte("2"))

	overlay := NewOverlay(parent)
	overlay.Set([]byte("k0"), []byte("0"))
	overlay.Delete([]byte("k2"))
	overlay.Set([]byte("x"), []byte("x"))

	require.Equal(t, []string{"k0", "k1"}, scanKeys(t, overlay, []byte("k")))

	err := overlay.Scan(nil, func(k, v []byte) error {
		return xerrors.New("oops")
	})
	require.EqualError(t, err, "oops")
}

func TestOverlay_Commit(t *testing.T) {
	parent := NewStore()
	parent.Set([]byte("a"), []byte("1"))

	overlay := NewOverlay(parent)
	overlay.Set([]byte("b"), []byte("2"))
	overlay.Delete([]byte("a"))
	require.Equal(t, 2, overlay.Len())

	require.NoError(t, overlay.Commit(parent))
	require.Equal(t, []string{"b"}, scanKeys(t, parent, nil))

	require.NoError(t, NewOverlay(parent).Commit(badWriter{}))

	overlay = NewOverlay(parent)
	overlay.Set([]byte("c"), nil)
	require.EqualError(t, overlay.Commit(badWriter{}), "oops")
}

// -----------------------------------------------------------------------------
// Utility functions

type scanner interface {
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

func scanKeys(t *testing.T, s scanner, prefix []byte) []string {
	keys := []string{}

	err := s.Scan(prefix, func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	require.NoError(t, err)

	return keys
}

type badWriter struct{}

func (badWriter) Set([]byte, []byte) error { return xerrors.New("oops") }

func (badWriter) Delete([]byte) error { return xerrors.New("oops") }
