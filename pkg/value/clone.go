// Package value defines the JSON-shaped datum the facade stores and the
// deep-clone / dotted-path primitives the cache-and-buffer layer and the
// sub-value helpers build on.
package value

import (
	"fmt"
	"reflect"
	"time"

	"github.com/openimsdk/tools/errs"
)

// Value is the structured datum a key maps to: nil, bool, any numeric kind,
// string, time.Time, an ordered list ([]any), or a mapping from string to
// Value (map[string]any). It is an alias, not a new type, so callers can
// pass plain Go literals straight into Set/SetSub.
type Value = any

// ErrUnsupportedType is returned by Clone when it encounters a Go value that
// isn't one of the JSON-shaped kinds above.
var ErrUnsupportedType = errs.New("value: type is not JSON-shaped")

// ErrCycle is returned by Clone when a map or slice refers back to one of
// its own ancestors. The value domain is cycle-free by contract (spec §9);
// Clone rejects cycles rather than recursing forever.
var ErrCycle = errs.New("value: cyclic reference in value")

// Clone deep-copies v. It is the ingress/egress boundary primitive: every
// value crossing into or out of the cache-and-buffer layer passes through
// Clone so that neither side can mutate the other's state after the call
// returns.
func Clone(v Value) (Value, error) {
	return cloneValue(v, make(map[uintptr]struct{}))
}

func cloneValue(v Value, ancestors map[uintptr]struct{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x, nil
	case time.Time:
		return x, nil
	case map[string]Value:
		return cloneMap(x, ancestors)
	case []Value:
		return cloneSlice(x, ancestors)
	default:
		return nil, errs.WrapMsg(ErrUnsupportedType, fmt.Sprintf("%T", v))
	}
}

func cloneMap(m map[string]Value, ancestors map[uintptr]struct{}) (Value, error) {
	if m == nil {
		return map[string]Value(nil), nil
	}
	ptr := reflect.ValueOf(m).Pointer()
	if _, ok := ancestors[ptr]; ok {
		return nil, errs.Wrap(ErrCycle)
	}
	ancestors[ptr] = struct{}{}
	defer delete(ancestors, ptr)

	out := make(map[string]Value, len(m))
	for k, v := range m {
		cv, err := cloneValue(v, ancestors)
		if err != nil {
			return nil, errs.WrapMsg(err, "clone map entry", "key", k)
		}
		out[k] = cv
	}
	return out, nil
}

func cloneSlice(s []Value, ancestors map[uintptr]struct{}) (Value, error) {
	if s == nil {
		return []Value(nil), nil
	}
	ptr := reflect.ValueOf(s).Pointer()
	if _, ok := ancestors[ptr]; ok {
		return nil, errs.Wrap(ErrCycle)
	}
	ancestors[ptr] = struct{}{}
	defer delete(ancestors, ptr)

	out := make([]Value, len(s))
	for i, v := range s {
		cv, err := cloneValue(v, ancestors)
		if err != nil {
			return nil, errs.WrapMsg(err, fmt.Sprintf("clone slice entry %d", i))
		}
		out[i] = cv
	}
	return out, nil
}

// MustClone panics on a clone error. It exists for call sites that have
// already validated v (e.g. values freshly decoded from JSON, which cannot
// contain cycles or unsupported types) and don't want to thread an error
// return through a hot path.
func MustClone(v Value) Value {
	cv, err := Clone(v)
	if err != nil {
		panic(err)
	}
	return cv
}
