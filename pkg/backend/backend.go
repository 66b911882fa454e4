// Package backend defines the storage driver contract the
// cache-and-buffer layer requires of any backend (spec §6). Concrete
// drivers — relational, document, embedded, in-memory — live in
// sibling packages and are external collaborators to the core; only
// this contract is part of the core spec.
package backend

import (
	"context"

	"github.com/openimsdk/tools/errs"
)

// OpType distinguishes the two kinds of buffered write (spec §3,
// "WriteBuffer").
type OpType int

const (
	// OpSet is an insert-or-replace.
	OpSet OpType = iota
	// OpRemove is a delete; absence of the key is not an error.
	OpRemove
)

func (t OpType) String() string {
	switch t {
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Op is one entry of a doBulk batch.
type Op struct {
	Type  OpType
	Key   string
	Value any // only meaningful when Type == OpSet
}

// Driver is the backend contract of spec §6. Every method may be called
// concurrently. The cache-and-buffer layer reaches a driver only through
// Get, FindKeys and DoBulk (never Set or Remove), and a Get for a key may
// overlap a DoBulk batch that touches the same key: reads bypass the
// per-key serializer (pkg/pks) and flushes run on the flusher's own
// goroutine.
//
// Get returns (nil, nil) for an absent key, never a sentinel error.
// DoBulk must apply ops in submission order; overall atomicity across the
// batch is not required, only per-operation application and ordering.
type Driver interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, v any) error
	Remove(ctx context.Context, key string) error
	FindKeys(ctx context.Context, pattern, notPattern string) ([]string, error)
	DoBulk(ctx context.Context, ops []Op) error
	Close(ctx context.Context) error
}

// KeyLimiter is an optional capability a Driver may implement to declare a
// maximum key length (spec §6, "Key-length constraint"). The
// cache-and-buffer layer checks for it once, in cbl.CBL.Init, and rejects
// oversized keys before they're ever buffered.
type KeyLimiter interface {
	MaxKeyLen() int
}

// ErrIO wraps any failure reported by a backend (spec §7, "backend-io").
// Drivers should return errs.WrapMsg(ErrIO, ...) rather than a bare error
// so that callers can use errors.Is(err, backend.ErrIO) regardless of
// which driver produced it.
var ErrIO = errs.New("backend: storage operation failed")

// WrapIO is the canonical way for a Driver implementation to report a
// failure: it preserves ErrIO for errors.Is while attaching call-specific
// context.
func WrapIO(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errs.WrapMsg(errs.Wrap(ErrIO), msg, append(kv, "cause", err.Error())...)
}
