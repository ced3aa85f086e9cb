package fieldmap

import (
	"strconv"
	"strings"
)

// GetPath walks a decoded JSON tree along a dotted path. Integer components
// index arrays; negative indices count from the end (-1 = last). A non-int
// component applied to an array falls through to element 0 when that element
// is an object.
func GetPath(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := root
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if idx, err := strconv.Atoi(part); err == nil {
				if idx < 0 {
					idx += len(node)
				}
				if idx < 0 || idx >= len(node) {
					return nil, false
				}
				cur = node[idx]
				continue
			}
			// Key lookup on a list: descend into the first element when it
			// is an object carrying the key.
			if len(node) == 0 {
				return nil, false
			}
			first, ok := node[0].(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := first[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves path and returns the value as a string when it is one.
func GetString(root any, path string) (string, bool) {
	v, ok := GetPath(root, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetNumber resolves path and coerces JSON numbers to float64.
func GetNumber(root any, path string) (float64, bool) {
	v, ok := GetPath(root, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// SetPath writes value into the tree at the dotted path, creating
// intermediate objects for missing keys. Array components must already
// exist; negative indices are supported. Returns the (possibly replaced)
// root and whether the write landed.
func SetPath(root any, path string, value any) (any, bool) {
	if path == "" {
		return root, false
	}
	parts := strings.Split(path, ".")
	if root == nil {
		root = map[string]any{}
	}
	ok := setPathRec(root, parts, value)
	return root, ok
}

func setPathRec(cur any, parts []string, value any) bool {
	part := parts[0]
	last := len(parts) == 1

	switch node := cur.(type) {
	case map[string]any:
		if last {
			node[part] = value
			return true
		}
		next, exists := node[part]
		if !exists || next == nil {
			next = map[string]any{}
			node[part] = next
		}
		// Maps and slices are reference types; writes through next are
		// visible from node except when a fresh map replaces a scalar.
		if _, isMap := next.(map[string]any); !isMap {
			if _, isSlice := next.([]any); !isSlice {
				next = map[string]any{}
				node[part] = next
			}
		}
		return setPathRec(next, parts[1:], value)
	case []any:
		idx, err := strconv.Atoi(part)
		if err != nil {
			if len(node) == 0 {
				return false
			}
			if first, ok := node[0].(map[string]any); ok {
				return setPathRec(first, parts, value)
			}
			return false
		}
		if idx < 0 {
			idx += len(node)
		}
		if idx < 0 || idx >= len(node) {
			return false
		}
		if last {
			node[idx] = value
			return true
		}
		next := node[idx]
		if next == nil {
			next = map[string]any{}
			node[idx] = next
		}
		return setPathRec(next, parts[1:], value)
	}
	return false
}
