// Package statemap implements pure transformations over the generic
// key/value trees that agents keep as state. All functions treat their
// inputs as immutable and return fresh maps; callers never observe
// partial mutation.
//
// Merge semantics: map + map recurses per key, any other pairing
// overwrites. This is the single merge rule used everywhere state is
// combined (schema defaults, Set, action results, state ops).
package statemap

// Merge deep-merges src into dst and returns the result. Neither input
// is mutated. Nested maps are merged recursively; a non-map value in src
// replaces whatever dst held under the same key.
func Merge(dst, src map[string]any) map[string]any {
	out := Clone(dst)
	if out == nil {
		out = map[string]any{}
	}
	for k, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := out[k].(map[string]any); ok {
				out[k] = Merge(dm, sm)
				continue
			}
		}
		out[k] = cloneValue(sv)
	}
	return out
}

// Clone returns a deep copy of m. Nested maps and []any slices are
// copied; scalar values are shared.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// SetPath returns a copy of m with value set at the given path,
// creating intermediate maps as needed. A non-map value encountered
// along the path is replaced by a map. An empty path returns m cloned.
func SetPath(m map[string]any, path []string, value any) map[string]any {
	out := Clone(m)
	if out == nil {
		out = map[string]any{}
	}
	if len(path) == 0 {
		return out
	}
	cur := out
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = cloneValue(value)
	return out
}

// DeletePath returns a copy of m with the value at path removed.
// Deleting a path that does not exist is a no-op.
func DeletePath(m map[string]any, path []string) map[string]any {
	out := Clone(m)
	if out == nil || len(path) == 0 {
		return out
	}
	cur := out
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return out
		}
		cur = next
	}
	delete(cur, path[len(path)-1])
	return out
}

// DeleteKeys returns a copy of m with the given top-level keys removed.
// Absent keys are ignored.
func DeleteKeys(m map[string]any, keys []string) map[string]any {
	out := Clone(m)
	if out == nil {
		return nil
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// GetPath walks path through nested maps and reports whether a value
// exists there.
func GetPath(m map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	var cur any = m
	for _, seg := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
