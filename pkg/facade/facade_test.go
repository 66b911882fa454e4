package facade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvmesh/cbl/pkg/backend/memdriver"
	"github.com/kvmesh/cbl/pkg/cbl"
)

func newTestFacade(t *testing.T, opts ...cbl.Option) (*Facade, *memdriver.Driver) {
	t.Helper()
	d := memdriver.New()
	f := New(d, opts...)
	require.NoError(t, f.Init(context.Background()))
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f, d
}

func TestSetIngressCloneIsolatesCallerMutation(t *testing.T) {
	f, _ := newTestFacade(t, cbl.WithWriteInterval(time.Hour))
	ctx := context.Background()

	m := map[string]any{"a": "orig"}
	require.NoError(t, f.Set(ctx, "k", m, nil, nil))
	m["a"] = "mutated"

	got, found, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "orig", got.(map[string]any)["a"])
}

func TestGetEgressCloneIsolatesCallerMutation(t *testing.T) {
	f, _ := newTestFacade(t, cbl.WithWriteInterval(time.Hour))
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "k", map[string]any{"a": "orig"}, nil, nil))

	got, found, err := f.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	got.(map[string]any)["a"] = "mutated"

	got2, _, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "orig", got2.(map[string]any)["a"])
}

func TestSetFiresBufferAcceptedBeforeReturn(t *testing.T) {
	f, _ := newTestFacade(t, cbl.WithWriteInterval(time.Hour))
	ctx := context.Background()

	var accepted bool
	err := f.Set(ctx, "k", "v", func(err error) {
		accepted = true
		assert.NoError(t, err)
	}, nil)
	require.NoError(t, err)
	assert.True(t, accepted, "buffer-accepted must fire synchronously before Set returns")
}

func TestSetFiresWriteCompletedAfterFlush(t *testing.T) {
	f, d := newTestFacade(t, cbl.WithWriteInterval(10*time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, f.Set(ctx, "k", "v", nil, func(err error) {
		assert.NoError(t, err)
		wg.Done()
	}))
	wg.Wait()
	assert.Equal(t, 1, d.Len())
}

func TestConcurrentSetsOnSameKeySerializeThroughPKS(t *testing.T) {
	f, _ := newTestFacade(t, cbl.WithWriteInterval(time.Hour))
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			require.NoError(t, f.Set(ctx, "k", i, nil, nil))
		}()
	}
	wg.Wait()

	_, found, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRemoveThenGet(t *testing.T) {
	f, _ := newTestFacade(t, cbl.WithWriteInterval(time.Hour))
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "k", "v", nil, nil))
	require.NoError(t, f.Remove(ctx, "k", nil, nil))

	_, found, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetSubDeepClonesLeaf(t *testing.T) {
	f, _ := newTestFacade(t, cbl.WithWriteInterval(time.Hour))
	ctx := context.Background()

	leaf := map[string]any{"x": "orig"}
	require.NoError(t, f.SetSub(ctx, "doc", []string{"a"}, leaf, nil, nil))
	leaf["x"] = "mutated"

	got, found, err := f.GetSub(ctx, "doc", []string{"a"})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "orig", got.(map[string]any)["x"])
}
