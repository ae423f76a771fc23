package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brimblehq/mediastack/internal/host"
	"github.com/brimblehq/mediastack/internal/types"
)

func TestStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewStore(host.NewLocal(), dir)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := types.RunState{
		LastRun:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Mode:          types.ModeInstall,
		TransactionID: "20260301T120000Z-abcd1234",
		TunnelUser:    "tunnel",
	}
	require.NoError(t, store.Save(ctx, want))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	info, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Clear(ctx))
	_, ok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDropsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, ok, err := NewStore(host.NewLocal(), dir).Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, path)
}

func TestLockIsExclusive(t *testing.T) {
	path := LockPath(t.TempDir(), "")

	first, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())
	second, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestLockPathForTarget(t *testing.T) {
	p := LockPath("/var/lib/mediastack", "admin@[2001:db8::1]:22")
	assert.Equal(t, "admin_2001_db8__1_22.lock", filepath.Base(p))
	assert.Equal(t, "/var/lib/mediastack/mediastack.lock", LockPath("/var/lib/mediastack", ""))
}
