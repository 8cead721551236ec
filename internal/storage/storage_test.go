package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/stretchr/testify/require"
)

func exerciseSlots(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "access_token")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Set(ctx, "access_token", "a1"))
	require.NoError(t, s.Set(ctx, "refresh_token", "r1"))
	v, err := s.Get(ctx, "access_token")
	require.NoError(t, err)
	require.Equal(t, "a1", v)

	require.NoError(t, s.Set(ctx, "access_token", "a2"))
	v, err = s.Get(ctx, "access_token")
	require.NoError(t, err)
	require.Equal(t, "a2", v)

	require.NoError(t, s.Delete(ctx, "access_token"))
	require.NoError(t, s.Delete(ctx, "access_token"))
	_, err = s.Get(ctx, "access_token")
	require.ErrorIs(t, err, errs.ErrNotFound)

	v, err = s.Get(ctx, "refresh_token")
	require.NoError(t, err)
	require.Equal(t, "r1", v)
}

func TestMemory_Slots(t *testing.T) {
	t.Parallel()
	exerciseSlots(t, NewMemory())
}

func TestFile_PlainSlots(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "nested", "session.json")
	f := NewFile(p, "")
	require.Equal(t, p, f.Path())
	exerciseSlots(t, f)

	st, err := os.Stat(p)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	_, err = os.Stat(p + ".tmp")
	require.True(t, os.IsNotExist(err), "temp file must not linger")
}

func TestFile_SealedSlots(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "session.bin")
	exerciseSlots(t, NewFile(p, "correct horse"))

	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "r1", "sealed file must not hold plaintext")

	// a fresh instance re-derives the key from the stored salt
	v, err := NewFile(p, "correct horse").Get(context.Background(), "refresh_token")
	require.NoError(t, err)
	require.Equal(t, "r1", v)

	_, err = NewFile(p, "wrong").Get(context.Background(), "refresh_token")
	require.ErrorIs(t, err, errs.ErrCorrupt)
}

func TestFile_CorruptContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o600))
	f := NewFile(p, "")

	_, err := f.Get(ctx, "access_token")
	require.True(t, errors.Is(err, errs.ErrCorrupt), "got %v", err)

	// clearing a corrupt file drops it
	require.NoError(t, f.Delete(ctx, "access_token"))
	_, err = os.Stat(p)
	require.True(t, os.IsNotExist(err))

	// writing over a corrupt file replaces it
	require.NoError(t, os.WriteFile(p, []byte("garbage"), 0o600))
	require.NoError(t, f.Set(ctx, "access_token", "fresh"))
	v, err := f.Get(ctx, "access_token")
	require.NoError(t, err)
	require.Equal(t, "fresh", v)
}

func TestFile_UnreadablePathIsStorageError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// a directory where the file should be makes reads fail with a non-ENOENT error
	p := filepath.Join(dir, "session.json")
	require.NoError(t, os.MkdirAll(p, 0o700))

	_, err := NewFile(p, "").Get(context.Background(), "access_token")
	require.ErrorIs(t, err, errs.ErrStorage)
}
