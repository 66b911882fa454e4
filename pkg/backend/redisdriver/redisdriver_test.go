package redisdriver

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvmesh/cbl/pkg/backend"
)

func TestGetHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet("k").SetVal("v1")

	d := New(client)
	v, err := d.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissReturnsNilNil(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet("missing").RedisNil()

	d := New(client)
	v, err := d.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRejectsNonString(t *testing.T) {
	client, _ := redismock.NewClientMock()
	d := New(client)

	err := d.Set(context.Background(), "k", map[string]any{"a": 1})
	require.Error(t, err)
}

func TestSetStoresStringValue(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectSet("k", "v1", 0).SetVal("OK")

	d := New(client)
	require.NoError(t, d.Set(context.Background(), "k", "v1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemove(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectDel("k").SetVal(1)

	d := New(client)
	require.NoError(t, d.Remove(context.Background(), "k"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindKeysFiltersNotPattern(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectScan(0, "user:*", int64(defaultScanCount)).SetVal([]string{"user:1", "user:2-archived"}, 0)

	d := New(client)
	keys, err := d.FindKeys(context.Background(), "user:*", "*-archived")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDoBulkPipelinesSetsAndRemoves(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(false)
	mock.ExpectSet("a", "1", 0).SetVal("OK")
	mock.ExpectDel("b").SetVal(1)

	d := New(client)
	err := d.DoBulk(context.Background(), []backend.Op{
		{Type: backend.OpSet, Key: "a", Value: "1"},
		{Type: backend.OpRemove, Key: "b"},
	})
	require.NoError(t, err)
}
