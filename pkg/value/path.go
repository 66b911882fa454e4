package value

import (
	"strings"

	"github.com/openimsdk/tools/errs"
)

// ErrTypeMismatch is returned by SetPath when a path component must
// traverse a non-mapping intermediate value (spec §7, "type-mismatch").
var ErrTypeMismatch = errs.New("value: path component is not a mapping")

// GetPath walks v following path, an ordered sequence of map keys. It
// returns (nil, false) as soon as any intermediate component is absent or
// isn't a map[string]Value — per spec, a missing intermediate is not an
// error, just a "not found".
func GetPath(v Value, path []string) (Value, bool) {
	cur := v
	for _, p := range path {
		m, ok := cur.(map[string]Value)
		if !ok {
			return nil, false
		}
		next, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// SetPath returns a new root value equal to root with leaf assigned at
// path, creating intermediate map[string]Value mappings for any missing
// component. It fails with ErrTypeMismatch if an existing intermediate is
// present but is not a mapping. root may be nil, in which case an empty
// mapping is created.
//
// SetPath does not mutate root or leaf in place; the caller is expected to
// have already deep-cloned both (the facade clones leaf, CBL.SetSub clones
// root).
func SetPath(root Value, path []string, leaf Value) (Value, error) {
	if len(path) == 0 {
		return leaf, nil
	}

	m, ok := root.(map[string]Value)
	if !ok {
		if root != nil {
			return nil, errs.WrapMsg(ErrTypeMismatch, "setSub root", "path", strings.Join(path, "."))
		}
		m = make(map[string]Value, 1)
	} else {
		cloned := make(map[string]Value, len(m))
		for k, v := range m {
			cloned[k] = v
		}
		m = cloned
	}

	head, rest := path[0], path[1:]
	if len(rest) == 0 {
		m[head] = leaf
		return m, nil
	}

	child, err := SetPath(m[head], rest, leaf)
	if err != nil {
		return nil, errs.WrapMsg(err, "setSub traverse", "component", head)
	}
	m[head] = child
	return m, nil
}
