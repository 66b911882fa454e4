// Package memdriver is an in-memory backend.Driver: a plain mutex-guarded
// map. It has no persistence and no key-length cap; it exists as the
// reference/test-double backend the rest of this module's own test suite
// is written against, the same role a hand-rolled map or a redismock
// stands in for a live dependency in the teacher's own tests.
package memdriver

import (
	"context"
	"sync"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/glob"
	"github.com/kvmesh/cbl/pkg/value"
)

// Driver is a backend.Driver backed by a Go map.
type Driver struct {
	mu     sync.Mutex
	data   map[string]value.Value
	closed bool
}

// New returns an empty Driver.
func New() *Driver {
	return &Driver{data: make(map[string]value.Value)}
}

func (d *Driver) Init(ctx context.Context) error {
	return nil
}

func (d *Driver) Get(ctx context.Context, key string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.data[key]
	if !ok {
		return nil, nil
	}
	return value.Clone(v)
}

func (d *Driver) Set(ctx context.Context, key string, v any) error {
	cv, err := value.Clone(v)
	if err != nil {
		return backend.WrapIO(err, "memdriver: set", "key", key)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = cv
	return nil
}

func (d *Driver) Remove(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, key)
	return nil
}

func (d *Driver) FindKeys(ctx context.Context, pattern, notPattern string) ([]string, error) {
	pat := glob.Compile(pattern)
	var notPat *glob.Pattern
	if notPattern != "" {
		notPat = glob.Compile(notPattern)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var keys []string
	for k := range d.data {
		if !pat.Match(k) {
			continue
		}
		if notPat != nil && notPat.Match(k) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (d *Driver) DoBulk(ctx context.Context, ops []backend.Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		switch op.Type {
		case backend.OpSet:
			cv, err := value.Clone(op.Value)
			if err != nil {
				return backend.WrapIO(err, "memdriver: doBulk set", "key", op.Key)
			}
			d.data[op.Key] = cv
		case backend.OpRemove:
			delete(d.data, op.Key)
		}
	}
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Len reports the number of stored keys. Test helper only.
func (d *Driver) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.data)
}
