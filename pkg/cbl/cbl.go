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

// Package cbl implements the cache-and-buffer layer: an LRU value cache, a
// coalescing write-behind buffer, read-coalescing, and a periodic flusher,
// sitting in front of a single backend.Driver (spec §2-§5). It is the
// engine a pkg/facade.Facade drives through the per-key serializer; cbl
// itself assumes the caller already serializes mutating calls per key
// (see Get/Set's doc comments for exactly which calls need that).
package cbl

import (
	"context"
	"sort"
	"sync"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/utils/idutil"

	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/glob"
	"github.com/kvmesh/cbl/pkg/value"
)

// CBL is the cache-and-buffer layer described by spec §3-§5. The zero
// value is not usable; construct with New.
type CBL struct {
	cfg    *config
	driver backend.Driver

	mu        sync.Mutex
	cache     *lruCache
	buffer    *writeBuffer
	coalescer readCoalescer
	maxKeyLen int
	closed    bool

	flusher *flusher
}

// New constructs a CBL over driver. Call Init before any other method.
func New(driver backend.Driver, opts ...Option) *CBL {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	c := &CBL{
		cfg:    cfg,
		driver: driver,
		cache:  newLRUCache(),
		buffer: newWriteBuffer(),
	}
	c.flusher = newFlusher(cfg.writeInterval, c.flushOnce)
	return c
}

// Init initializes the backend, discovers an optional KeyLimiter, and
// starts the periodic flusher (a no-op if WithWriteInterval(0) put the CBL
// in write-through mode).
func (c *CBL) Init(ctx context.Context) error {
	if err := c.driver.Init(ctx); err != nil {
		return err
	}
	if kl, ok := c.driver.(backend.KeyLimiter); ok {
		c.maxKeyLen = kl.MaxKeyLen()
	}
	c.flusher.start(context.Background())
	return nil
}

func (c *CBL) checkKey(key string) error {
	if c.maxKeyLen > 0 && len(key) > c.maxKeyLen {
		return errs.WrapMsg(ErrKeyTooLong, "cbl: key too long", "key", key, "maxKeyLen", c.maxKeyLen)
	}
	return nil
}

func entrySnapshot(e *cacheEntry) (value.Value, bool) {
	if e.tombstone {
		return nil, false
	}
	return e.value, true
}

// Get returns the current value for key (spec §4.2's cache / buffer /
// pending-read / backend branches). Unlike Set/Remove/SetSub, Get is not
// required to run inside the caller's per-key serializer: it only reads
// state that set/remove mutate synchronously before returning, so a Get
// issued after a Set/Remove call returns always observes that call's
// effect regardless of interleaving (spec §5's ordering guarantee), and
// concurrent Gets on an idle key are free to run in parallel and share a
// single backend round trip through the PendingReadSet. See DESIGN.md for
// the full justification.
func (c *CBL) Get(ctx context.Context, key string) (value.Value, bool, error) {
	return c.getValue(ctx, key)
}

func (c *CBL) getValue(ctx context.Context, key string) (value.Value, bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, ErrClosed
	}
	if e, ok := c.cache.touch(key); ok {
		c.cfg.stats.IncrCacheHit()
		v, found := entrySnapshot(e)
		c.mu.Unlock()
		return v, found, nil
	}
	if op, ok := c.buffer.get(key); ok {
		c.cfg.stats.IncrBufferHit()
		found := op.typ == backend.OpSet
		v := op.value
		c.mu.Unlock()
		return v, found, nil
	}
	c.mu.Unlock()

	raw, err, shared := c.coalescer.do(key, func() (value.Value, error) {
		wireRaw, err := c.driver.Get(ctx, key)
		if err != nil || wireRaw == nil {
			return nil, err
		}
		return c.fromWire(wireRaw)
	})
	if shared {
		c.cfg.stats.IncrReadCoalesced()
	}
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrClosed
	}
	// A set/remove/setSub may have run while the backend read was in
	// flight; cache and buffer take precedence over the now-stale read.
	if e, ok := c.cache.touch(key); ok {
		v, found := entrySnapshot(e)
		return v, found, nil
	}
	if op, ok := c.buffer.get(key); ok {
		return op.value, op.typ == backend.OpSet, nil
	}
	c.cfg.stats.IncrCacheMiss()
	found := raw != nil
	c.cache.put(key, &cacheEntry{value: raw, tombstone: !found})
	c.evictLocked()
	return raw, found, nil
}

// Set buffers key=v for the next flush (or, in write-through mode,
// flushes it immediately) and returns once buffered — the point at which
// a facade reports buffer-accepted. onWriteCompleted, if non-nil, fires
// once a flush has applied (or terminally failed to apply) this write.
//
// Set must not be called concurrently for the same key without external
// serialization (pkg/pks): it both reads and mutates cache+buffer state
// for key and relies on the caller to exclude concurrent Set/Remove/
// SetSub on that same key.
func (c *CBL) Set(ctx context.Context, key string, v value.Value, onWriteCompleted func(error)) error {
	return c.setValue(ctx, key, v, onWriteCompleted)
}

func (c *CBL) setValue(ctx context.Context, key string, v value.Value, onWriteCompleted func(error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := c.checkKey(key); err != nil {
		c.mu.Unlock()
		return err
	}
	c.buffer.upsert(key, backend.OpSet, v, onWriteCompleted)
	c.cache.put(key, &cacheEntry{value: v, dirty: true})
	c.evictLocked()
	writeThrough := c.cfg.writeInterval <= 0
	c.mu.Unlock()

	if writeThrough {
		c.flushOnce(ctx, idutil.OperationIDGenerator())
	}
	return nil
}

// Remove buffers a delete of key (spec §4.2). See Set's doc comment for
// the serialization requirement.
func (c *CBL) Remove(ctx context.Context, key string, onWriteCompleted func(error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := c.checkKey(key); err != nil {
		c.mu.Unlock()
		return err
	}
	c.buffer.upsert(key, backend.OpRemove, nil, onWriteCompleted)
	c.cache.put(key, &cacheEntry{tombstone: true, dirty: true})
	c.evictLocked()
	writeThrough := c.cfg.writeInterval <= 0
	c.mu.Unlock()

	if writeThrough {
		c.flushOnce(ctx, idutil.OperationIDGenerator())
	}
	return nil
}

// GetSub reads the dotted-path sub-value at path within key's value (spec
// §4.3). Same serialization posture as Get.
func (c *CBL) GetSub(ctx context.Context, key string, path []string) (value.Value, bool, error) {
	full, found, err := c.getValue(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	sub, ok := value.GetPath(full, path)
	return sub, ok, nil
}

// SetSub reads key's current value, applies value.SetPath at path, and
// buffers the resulting whole value as a single Set (spec §4.3: "executes
// under the same per-key slot as set"). Like Set, SetSub must not run
// concurrently with another Set/Remove/SetSub for the same key.
func (c *CBL) SetSub(ctx context.Context, key string, path []string, leaf value.Value, onWriteCompleted func(error)) error {
	full, found, err := c.getValue(ctx, key)
	if err != nil {
		return err
	}
	var base value.Value
	if found {
		base, err = value.Clone(full)
		if err != nil {
			return errs.WrapMsg(err, "cbl: setSub clone", "key", key)
		}
	}
	merged, err := value.SetPath(base, path, leaf)
	if err != nil {
		return errs.WrapMsg(err, "cbl: setSub", "key", key)
	}
	return c.setValue(ctx, key, merged, onWriteCompleted)
}

// FindKeys matches pattern against the backend's key space (spec §6's
// FindKeys contract: "*" matches any run of characters), reconciled
// against unflushed buffered writes so a key set-and-not-yet-flushed
// still appears and a key removed-and-not-yet-flushed does not.
func (c *CBL) FindKeys(ctx context.Context, pattern, notPattern string) ([]string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	bufSnapshot := make(map[string]backend.OpType, len(c.buffer.order))
	for _, k := range c.buffer.order {
		bufSnapshot[k] = c.buffer.ops[k].typ
	}
	c.mu.Unlock()

	keys, err := c.driver.FindKeys(ctx, pattern, notPattern)
	if err != nil {
		return nil, err
	}

	pat := glob.Compile(pattern)
	var notPat *glob.Pattern
	if notPattern != "" {
		notPat = glob.Compile(notPattern)
	}

	result := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if op, buffered := bufSnapshot[k]; buffered && op == backend.OpRemove {
			continue
		}
		result[k] = struct{}{}
	}
	for k, op := range bufSnapshot {
		if op != backend.OpSet || !pat.Match(k) {
			continue
		}
		if notPat != nil && notPat.Match(k) {
			continue
		}
		result[k] = struct{}{}
	}

	out := make([]string, 0, len(result))
	for k := range result {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// evictLocked runs an eviction pass; c.mu must be held.
func (c *CBL) evictLocked() {
	for range c.cache.evict(c.cfg.cacheSize, c.cfg.cacheMinGap) {
		c.cfg.stats.IncrEvicted()
	}
}

// flushOnce detaches the write buffer and applies it to the backend in
// one doBulk call (spec §4.1, flusher protocol). It is the flusher
// ticker's callback, the write-through path's inline call, and
// Shutdown's final drain, all at once.
func (c *CBL) flushOnce(ctx context.Context, triggerID string) {
	c.mu.Lock()
	if c.buffer.isEmpty() {
		c.mu.Unlock()
		return
	}
	inFlight := make(map[string]*cacheEntry, len(c.buffer.order))
	for _, k := range c.buffer.order {
		if e, ok := c.cache.peek(k); ok {
			e.inFlight = true
			inFlight[k] = e
		}
	}
	detached := c.buffer.detach()
	c.mu.Unlock()

	ops, err := c.toWireOps(detached.toOps())
	if err != nil {
		logFlushResult(ctx, triggerID, len(ops), err)
		c.cfg.stats.IncrFlushFailed(len(ops))
		c.mu.Lock()
		for _, e := range inFlight {
			e.inFlight = false
			e.dirty = false
		}
		c.mu.Unlock()
		detached.completeAll(err)
		return
	}
	err = runWithRetry(ctx, c.cfg.retry, func() error {
		return c.driver.DoBulk(ctx, ops)
	})
	logFlushResult(ctx, triggerID, len(ops), err)
	if err != nil {
		c.cfg.stats.IncrFlushFailed(len(ops))
	} else {
		c.cfg.stats.IncrFlushOK(len(ops))
	}

	c.mu.Lock()
	for k, e := range inFlight {
		cur, ok := c.cache.peek(k)
		if !ok || cur != e {
			// Evicted, or replaced by a write that arrived after
			// detach; that newer state is not this flush's to touch.
			continue
		}
		// A failed flush is terminal: the entry goes clean again rather
		// than staying dirty with no buffered op behind it.
		e.inFlight = false
		e.dirty = false
	}
	c.evictLocked()
	c.mu.Unlock()

	detached.completeAll(err)
}

// Shutdown stops the periodic flusher and drains any remaining buffered
// writes with one final flush. It does not close the backend; call Close
// for that.
func (c *CBL) Shutdown(ctx context.Context) error {
	c.flusher.stop()
	c.flushOnce(ctx, idutil.OperationIDGenerator())
	return nil
}

// Close shuts down the CBL and closes its backend. Safe to call once;
// subsequent calls are no-ops.
func (c *CBL) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.Shutdown(ctx); err != nil {
		return err
	}
	return c.driver.Close(ctx)
}
