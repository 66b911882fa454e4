// Copyright © 2024 OpenIM. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redisdriver is a backend.Driver over a redis.UniversalClient
// (standalone, sentinel, or cluster). doBulk groups keys by cluster hash
// slot before pipelining, the same shape as
// pkg/common/storage/cache/redis's RedisShardManager, so a cluster
// deployment never sends a pipeline whose keys span multiple nodes.
package redisdriver

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/glob"
)

const (
	defaultBatchSize       = 50
	defaultConcurrentLimit = 3
	defaultScanCount       = 200
)

// Driver is a backend.Driver storing each key as a redis string.
type Driver struct {
	client          redis.UniversalClient
	batchSize       int
	concurrentLimit int
}

// Option configures a Driver.
type Option func(*Driver)

// WithBatchSize overrides the per-slot pipeline batch size. Default 50.
func WithBatchSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithConcurrentLimit overrides how many slot batches run concurrently.
// Default 3.
func WithConcurrentLimit(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrentLimit = n
		}
	}
}

// New wraps an existing redis.UniversalClient.
func New(client redis.UniversalClient, opts ...Option) *Driver {
	d := &Driver{
		client:          client,
		batchSize:       defaultBatchSize,
		concurrentLimit: defaultConcurrentLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Init(ctx context.Context) error {
	return backend.WrapIO(d.client.Ping(ctx).Err(), "redisdriver: init")
}

func (d *Driver) Get(ctx context.Context, key string) (any, error) {
	v, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, backend.WrapIO(err, "redisdriver: get", "key", key)
	}
	return v, nil
}

func (d *Driver) Set(ctx context.Context, key string, v any) error {
	s, err := toRedisString(v)
	if err != nil {
		return backend.WrapIO(err, "redisdriver: set", "key", key)
	}
	return backend.WrapIO(d.client.Set(ctx, key, s, 0).Err(), "redisdriver: set", "key", key)
}

func (d *Driver) Remove(ctx context.Context, key string) error {
	return backend.WrapIO(d.client.Del(ctx, key).Err(), "redisdriver: remove", "key", key)
}

// FindKeys scans the key space with pattern (redis SCAN MATCH gives "*"
// the same any-run meaning as pkg/glob) and filters out anything also
// matching notPattern client-side, since SCAN has no native exclusion.
// pattern is passed to MATCH unescaped, so redis's other glob
// metacharacters ("?", "[...]", "\") keep their redis meaning there.
func (d *Driver) FindKeys(ctx context.Context, pattern, notPattern string) ([]string, error) {
	var notPat *glob.Pattern
	if notPattern != "" {
		notPat = glob.Compile(notPattern)
	}

	var keys []string
	iter := d.client.Scan(ctx, 0, pattern, defaultScanCount).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if notPat != nil && notPat.Match(k) {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, backend.WrapIO(err, "redisdriver: findKeys", "pattern", pattern)
	}
	return keys, nil
}

// DoBulk groups ops by cluster hash slot (single slot 0 outside cluster
// mode) and pipelines each slot's ops concurrently, mirroring
// RedisShardManager.ProcessKeysBySlot.
func (d *Driver) DoBulk(ctx context.Context, ops []backend.Op) error {
	if len(ops) == 0 {
		return nil
	}
	slots, err := d.groupBySlot(ctx, ops)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrentLimit)
	for _, slotOps := range slots {
		for _, batch := range splitIntoBatches(slotOps, d.batchSize) {
			batch := batch
			g.Go(func() error {
				return d.pipelineBatch(gctx, batch)
			})
		}
	}
	return g.Wait()
}

func (d *Driver) pipelineBatch(ctx context.Context, ops []backend.Op) error {
	pipe := d.client.Pipeline()
	for _, op := range ops {
		switch op.Type {
		case backend.OpSet:
			s, err := toRedisString(op.Value)
			if err != nil {
				return backend.WrapIO(err, "redisdriver: doBulk encode", "key", op.Key)
			}
			pipe.Set(ctx, op.Key, s, 0)
		case backend.OpRemove:
			pipe.Del(ctx, op.Key)
		}
	}
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return backend.WrapIO(err, "redisdriver: doBulk pipeline exec")
	}
	return nil
}

func (d *Driver) groupBySlot(ctx context.Context, ops []backend.Op) (map[int64][]backend.Op, error) {
	slots := make(map[int64][]backend.Op)
	clusterClient, isCluster := d.client.(*redis.ClusterClient)
	if !isCluster || len(ops) == 1 {
		slots[0] = ops
		return slots, nil
	}

	pipe := clusterClient.Pipeline()
	cmds := make([]*redis.IntCmd, len(ops))
	for i, op := range ops {
		cmds[i] = pipe.ClusterKeySlot(ctx, op.Key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, backend.WrapIO(err, "redisdriver: doBulk cluster keyslot")
	}
	for i, cmd := range cmds {
		slot, err := cmd.Result()
		if err != nil {
			return nil, backend.WrapIO(err, "redisdriver: doBulk cluster keyslot", "key", ops[i].Key)
		}
		slots[slot] = append(slots[slot], ops[i])
	}
	return slots, nil
}

func splitIntoBatches(ops []backend.Op, batchSize int) [][]backend.Op {
	var batches [][]backend.Op
	for batchSize < len(ops) {
		ops, batches = ops[batchSize:], append(batches, ops[0:batchSize:batchSize])
	}
	return append(batches, ops)
}

func (d *Driver) Close(ctx context.Context) error {
	return backend.WrapIO(d.client.Close(), "redisdriver: close")
}

// ErrNonString is returned when a value reaches this driver that isn't a
// redis string payload. A redis string backend only ever receives a Go
// string here: either the caller already stores plain text values, or the
// facade is configured with cbl.WithJSON so every structured value is
// marshaled before it crosses the backend boundary.
var ErrNonString = errors.New("redisdriver: non-string value; enable cbl.WithJSON to store structured values")

// toRedisString renders v as a redis string payload.
func toRedisString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrNonString
	}
	return s, nil
}
