package pebbledriver

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvmesh/cbl/pkg/backend"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestSetThenGet(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "a", "v1"))
	v, err := d.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	d := newTestDriver(t)
	v, err := d.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRemove(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "a", "v1"))
	require.NoError(t, d.Remove(ctx, "a"))
	v, err := d.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFindKeysMatchesGlob(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "user:1", "v"))
	require.NoError(t, d.Set(ctx, "user:2-archived", "v"))
	require.NoError(t, d.Set(ctx, "order:1", "v"))

	keys, err := d.FindKeys(ctx, "user:*", "*-archived")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1"}, keys)
}

func TestDoBulkAppliesBatch(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "stale", "v"))
	err := d.DoBulk(ctx, []backend.Op{
		{Type: backend.OpSet, Key: "a", Value: "1"},
		{Type: backend.OpRemove, Key: "stale"},
	})
	require.NoError(t, err)

	v, err := d.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	v, err = d.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, v)
}
