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
	"golang.org/x/sync/singleflight"

	"github.com/kvmesh/cbl/pkg/value"
)

// readCoalescer implements spec §3's PendingReadSet: concurrent backend
// reads for the same key fold into a single in-flight call, and every
// caller receives the same result. It is built directly on
// golang.org/x/sync/singleflight, the package the teacher already imports
// in pkg/common/storage/cache/redis/batch.go for exactly this purpose
// (cache-stampede protection on a miss).
//
// Read coalescing is only meaningful for concurrent get()s on an idle key:
// a get() that arrives after a set()/remove() has already mutated the
// cache/buffer (§5, ordering guarantees) observes that mutation directly
// and never reaches the backend at all. See DESIGN.md for why get() is
// not routed through the per-key serializer the way set/remove/setSub
// are.
type readCoalescer struct {
	g singleflight.Group
}

// do runs fn at most once per outstanding call-group for key; all callers
// that arrive while a call for key is in flight share its result. The
// returned value is NOT cloned by do — callers must clone before handing
// it to more than one waiter, since singleflight hands the same object to
// every joined caller.
func (r *readCoalescer) do(key string, fn func() (value.Value, error)) (value.Value, error, bool) {
	v, err, shared := r.g.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err, shared
	}
	return v, nil, shared
}
