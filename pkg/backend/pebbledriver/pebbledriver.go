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

// Package pebbledriver is a backend.Driver over an embedded
// github.com/cockroachdb/pebble store: the embedded-storage member of the
// domain stack, alongside redisdriver (document-cache), mongodriver
// (document), and sqldriver (relational). Keys and values are both raw
// bytes on disk; string values pass through unchanged, matching the
// convention the other text-oriented drivers (redisdriver, sqldriver)
// also follow.
package pebbledriver

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/glob"
)

// ErrNonString is returned when a non-string value reaches this driver;
// enable cbl.WithJSON to store structured values.
var ErrNonString = errors.New("pebbledriver: non-string value; enable cbl.WithJSON to store structured values")

// Driver is a backend.Driver backed by a *pebble.DB.
type Driver struct {
	db *pebble.DB
}

// New wraps an already-open *pebble.DB. The caller owns its lifecycle up
// to Close.
func New(db *pebble.DB) *Driver {
	return &Driver{db: db}
}

func (d *Driver) Init(ctx context.Context) error {
	return nil
}

func (d *Driver) Get(ctx context.Context, key string) (any, error) {
	v, closer, err := d.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, backend.WrapIO(err, "pebbledriver: get", "key", key)
	}
	out := string(v)
	if cerr := closer.Close(); cerr != nil {
		return nil, backend.WrapIO(cerr, "pebbledriver: get close", "key", key)
	}
	return out, nil
}

func (d *Driver) Set(ctx context.Context, key string, v any) error {
	s, err := toBytesValue(v)
	if err != nil {
		return backend.WrapIO(err, "pebbledriver: set", "key", key)
	}
	return backend.WrapIO(d.db.Set([]byte(key), s, pebble.Sync), "pebbledriver: set", "key", key)
}

func (d *Driver) Remove(ctx context.Context, key string) error {
	return backend.WrapIO(d.db.Delete([]byte(key), pebble.Sync), "pebbledriver: remove", "key", key)
}

// FindKeys scans the full keyspace and matches each key against pattern
// and notPattern with pkg/glob — Pebble has no server-side pattern
// filter, so this always costs a full iteration.
func (d *Driver) FindKeys(ctx context.Context, pattern, notPattern string) ([]string, error) {
	pat := glob.Compile(pattern)
	var notPat *glob.Pattern
	if notPattern != "" {
		notPat = glob.Compile(notPattern)
	}

	iter, err := d.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, backend.WrapIO(err, "pebbledriver: findKeys new iter")
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !pat.Match(k) {
			continue
		}
		if notPat != nil && notPat.Match(k) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, backend.WrapIO(iter.Error(), "pebbledriver: findKeys iterate")
}

// DoBulk applies ops as a single pebble.Batch.
func (d *Driver) DoBulk(ctx context.Context, ops []backend.Op) error {
	if len(ops) == 0 {
		return nil
	}
	batch := d.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		switch op.Type {
		case backend.OpSet:
			s, err := toBytesValue(op.Value)
			if err != nil {
				return backend.WrapIO(err, "pebbledriver: doBulk encode", "key", op.Key)
			}
			if err := batch.Set([]byte(op.Key), s, nil); err != nil {
				return backend.WrapIO(err, "pebbledriver: doBulk set", "key", op.Key)
			}
		case backend.OpRemove:
			if err := batch.Delete([]byte(op.Key), nil); err != nil {
				return backend.WrapIO(err, "pebbledriver: doBulk delete", "key", op.Key)
			}
		}
	}
	return backend.WrapIO(d.db.Apply(batch, pebble.Sync), "pebbledriver: doBulk apply")
}

func (d *Driver) Close(ctx context.Context) error {
	return backend.WrapIO(d.db.Close(), "pebbledriver: close")
}

// toBytesValue renders v as the raw bytes Pebble stores.
func toBytesValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, ErrNonString
	}
	return []byte(s), nil
}
