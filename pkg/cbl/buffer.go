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
	"github.com/kvmesh/cbl/pkg/backend"
	"github.com/kvmesh/cbl/pkg/value"
)

// pendingOp is spec §3's WriteBuffer value: a buffered write plus every
// write-completed callback registered against it. set() replacing an
// earlier unflushed set() for the same key appends to completions rather
// than dropping the earlier caller's callback — every caller that
// accepted a buffer-accepted ack is still owed a write-completed ack once
// *some* flush observes their key, even if a later write superseded the
// value they submitted (spec §7: "write errors surface exclusively
// through the write-completed callback").
type pendingOp struct {
	typ         backend.OpType
	value       value.Value
	completions []func(error)
}

// writeBuffer is spec §3's WriteBuffer: an order-preserving map from key
// to at most one pending op. order is the arrival order of each key's
// *first* unflushed op, so that a batch built from it preserves
// cross-key insertion order (spec §4.1, flusher protocol step 3) even
// though coalesced same-key writes keep their original slot instead of
// moving to the back on every replace.
type writeBuffer struct {
	order []string
	ops   map[string]*pendingOp
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{ops: make(map[string]*pendingOp)}
}

// upsert records a set or remove for key, coalescing with any unflushed
// op already buffered for that key. onComplete, if non-nil, is queued to
// fire once this op's batch (or a later batch that still covers this
// upsert's outcome) has been applied or has definitively failed.
func (b *writeBuffer) upsert(key string, typ backend.OpType, v value.Value, onComplete func(error)) {
	op, ok := b.ops[key]
	if !ok {
		op = &pendingOp{}
		b.ops[key] = op
		b.order = append(b.order, key)
	}
	op.typ = typ
	op.value = v
	if onComplete != nil {
		op.completions = append(op.completions, onComplete)
	}
}

func (b *writeBuffer) get(key string) (*pendingOp, bool) {
	op, ok := b.ops[key]
	return op, ok
}

func (b *writeBuffer) isEmpty() bool {
	return len(b.order) == 0
}

func (b *writeBuffer) keys() []string {
	return b.order
}

// detach atomically swaps in a fresh, empty buffer and returns the
// previous contents (spec §4.1, flusher protocol step 2).
func (b *writeBuffer) detach() *writeBuffer {
	detached := &writeBuffer{order: b.order, ops: b.ops}
	b.order = nil
	b.ops = make(map[string]*pendingOp)
	return detached
}

// toOps renders the buffer as the ordered backend.Op list doBulk expects.
func (b *writeBuffer) toOps() []backend.Op {
	ops := make([]backend.Op, 0, len(b.order))
	for _, k := range b.order {
		op := b.ops[k]
		o := backend.Op{Key: k, Type: op.typ}
		if op.typ == backend.OpSet {
			o.Value = op.value
		}
		ops = append(ops, o)
	}
	return ops
}

// completeAll invokes every queued write-completed callback with err (nil
// on success).
func (b *writeBuffer) completeAll(err error) {
	for _, k := range b.order {
		for _, cb := range b.ops[k].completions {
			cb(err)
		}
	}
}
