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

package cbl

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/kvmesh/cbl/pkg/value"
)

// cacheEntry is spec §3's CacheEntry. tombstone distinguishes "known
// absent" (a buffered remove) from a stored JSON null.
type cacheEntry struct {
	value     value.Value
	tombstone bool
	dirty     bool
	inFlight  bool
}

func (e *cacheEntry) clean() bool { return !e.dirty && !e.inFlight }

// lruCache wraps hashicorp/golang-lru/v2/simplelru the same way the
// teacher's pkg/localcache/lru package wraps it — but where the teacher
// wraps it for TTL bookkeeping, the CBL wraps it for dirty/in-flight-aware
// eviction. simplelru's own capacity eviction can't skip a dirty entry, so
// it is configured "unbounded" here and the CBL drives its own bounded
// eviction pass over Keys() (oldest-first) instead, per spec §4.1's
// "Eviction" rule.
//
// Not safe for concurrent use; callers serialize access via cbl.mu (spec
// §5: CBL state mutation is logically single-threaded).
type lruCache struct {
	core *simplelru.LRU[string, *cacheEntry]
}

func newLRUCache() *lruCache {
	core, err := simplelru.NewLRU[string, *cacheEntry](math.MaxInt32, nil)
	if err != nil {
		panic(err) // unreachable: math.MaxInt32 > 0
	}
	return &lruCache{core: core}
}

// touch returns the entry for key, promoting it to most-recently-used.
func (c *lruCache) touch(key string) (*cacheEntry, bool) {
	return c.core.Get(key)
}

// peek returns the entry for key without affecting recency.
func (c *lruCache) peek(key string) (*cacheEntry, bool) {
	return c.core.Peek(key)
}

// put inserts or replaces key's entry as most-recently-used.
func (c *lruCache) put(key string, e *cacheEntry) {
	c.core.Add(key, e)
}

func (c *lruCache) remove(key string) bool {
	return c.core.Remove(key)
}

func (c *lruCache) len() int {
	return c.core.Len()
}

// cleanCount returns the number of entries that are neither dirty nor
// in-flight — the population the cache size cap (spec §4.1, "cache")
// applies to.
func (c *lruCache) cleanCount() int {
	n := 0
	for _, k := range c.core.Keys() {
		if e, ok := c.core.Peek(k); ok && e.clean() {
			n++
		}
	}
	return n
}

// evict reclaims clean entries from the LRU tail until cleanCount <= cap
// or at least minGap entries have been reclaimed (whichever demands more),
// skipping any entry that is dirty or in-flight, stopping early if no
// eligible victim remains. It returns the evicted keys.
func (c *lruCache) evict(cap, minGap int) []string {
	clean := c.cleanCount()
	if clean <= cap {
		return nil
	}
	target := clean - cap
	if target < minGap {
		target = minGap
	}

	var evicted []string
	for _, k := range c.core.Keys() { // oldest first
		if len(evicted) >= target {
			break
		}
		e, ok := c.core.Peek(k)
		if !ok || !e.clean() {
			continue
		}
		c.core.Remove(k)
		evicted = append(evicted, k)
	}
	return evicted
}
