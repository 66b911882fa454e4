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

import "time"

const (
	defaultCacheSize     = 1000
	defaultWriteInterval = 100 * time.Millisecond
	defaultMinGapPercent = 10
)

// Stats is an optional counters sink, mirroring the teacher's
// pkg/localcache/lru.Target: a CBL is fully usable without one (see
// NoopStats), but wiring one costs nothing and the teacher always
// instruments its cache layers this way.
type Stats interface {
	IncrCacheHit()
	IncrCacheMiss()
	IncrBufferHit()
	IncrReadCoalesced()
	IncrEvicted()
	IncrFlushOK(ops int)
	IncrFlushFailed(ops int)
}

// NoopStats is the default Stats implementation: every method is a no-op.
type NoopStats struct{}

func (NoopStats) IncrCacheHit()      {}
func (NoopStats) IncrCacheMiss()     {}
func (NoopStats) IncrBufferHit()     {}
func (NoopStats) IncrReadCoalesced() {}
func (NoopStats) IncrEvicted()       {}
func (NoopStats) IncrFlushOK(int)    {}
func (NoopStats) IncrFlushFailed(int) {}

type config struct {
	cacheSize     int
	writeInterval time.Duration
	json          bool
	cacheMinGap   int
	stats         Stats
	retry         *retryPolicy
}

func defaultConfig() *config {
	return &config{
		cacheSize:     defaultCacheSize,
		writeInterval: defaultWriteInterval,
		json:          false,
		cacheMinGap:   defaultCacheSize * defaultMinGapPercent / 100,
		stats:         NoopStats{},
	}
}

// Option configures a CBL at construction time, following the same
// functional-option shape as pkg/localcache/option.go in the teacher.
type Option func(*config)

// WithCacheSize sets the maximum number of clean cache entries (spec
// §4.1, "cache"). Default 1000.
func WithCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithWriteInterval sets the period between flusher ticks (spec §4.1,
// "writeInterval"). 0 means write-through: every set/remove triggers an
// immediate single-entry flush via the bulk path.
func WithWriteInterval(d time.Duration) Option {
	return func(c *config) {
		c.writeInterval = d
	}
}

// WithJSON enables JSON mode (spec §4.1, "json"): values are marshaled to
// JSON text crossing the backend boundary; the in-memory cache still
// holds the structured form.
func WithJSON(enabled bool) Option {
	return func(c *config) {
		c.json = enabled
	}
}

// WithCacheMinGap sets the minimum number of clean entries an eviction
// pass tries to reclaim once the cap is exceeded (spec §4.1,
// "cacheMinGap"). Default 10% of cacheSize.
func WithCacheMinGap(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheMinGap = n
		}
	}
}

// WithStats wires a counters sink.
func WithStats(s Stats) Option {
	return func(c *config) {
		if s != nil {
			c.stats = s
		}
	}
}
