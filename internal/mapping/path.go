// Package mapping implements the rewrite layer between the canonical
// request and each provider's wire format: JSON-path get/set, URL
// template expansion, the per-parameter mapping rules, and response
// extraction.
package mapping

import (
	"fmt"
	"strconv"
	"strings"
)

// wildcardIndex marks a [*] segment.
const wildcardIndex = -1

type segment struct {
	key      string
	hasIndex bool
	index    int
}

// parsePath splits a dotted JSON path with optional array indices:
// "choices[0].message.content", "candidates[*].content.parts[0].text".
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}
		open := strings.IndexByte(part, '[')
		if open < 0 {
			segs = append(segs, segment{key: part})
			continue
		}
		if !strings.HasSuffix(part, "]") || open == 0 {
			return nil, fmt.Errorf("malformed segment %q in path %q", part, path)
		}
		idxStr := part[open+1 : len(part)-1]
		seg := segment{key: part[:open], hasIndex: true}
		if idxStr == "*" {
			seg.index = wildcardIndex
		} else {
			idx, err := strconv.Atoi(idxStr)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("bad array index %q in path %q", idxStr, path)
			}
			seg.index = idx
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// Get reads the value at path from a decoded JSON document. A [*]
// wildcard scans the array and returns the first element for which the
// remainder of the path resolves.
func Get(doc any, path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}
	return get(doc, segs)
}

func get(doc any, segs []segment) (any, bool) {
	if len(segs) == 0 {
		return doc, true
	}
	seg := segs[0]

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	child, ok := obj[seg.key]
	if !ok {
		return nil, false
	}

	if !seg.hasIndex {
		return get(child, segs[1:])
	}

	arr, ok := child.([]any)
	if !ok {
		return nil, false
	}
	if seg.index == wildcardIndex {
		for _, elem := range arr {
			if v, ok := get(elem, segs[1:]); ok {
				return v, true
			}
		}
		return nil, false
	}
	if seg.index >= len(arr) {
		return nil, false
	}
	return get(arr[seg.index], segs[1:])
}

// Set writes value at path into doc, creating intermediate objects as
// needed. Setting through an array requires an explicit numeric index;
// arrays are grown with nil elements up to that index. Wildcards are
// not permitted in set paths.
func Set(doc map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		if seg.hasIndex && seg.index == wildcardIndex {
			return fmt.Errorf("wildcard index not allowed when setting path %q", path)
		}
	}
	return set(doc, segs, value, path)
}

func set(obj map[string]any, segs []segment, value any, full string) error {
	seg := segs[0]
	last := len(segs) == 1

	if !seg.hasIndex {
		if last {
			obj[seg.key] = value
			return nil
		}
		child, ok := obj[seg.key].(map[string]any)
		if !ok {
			if existing, present := obj[seg.key]; present && existing != nil {
				return fmt.Errorf("path %q: segment %q is not an object", full, seg.key)
			}
			child = map[string]any{}
			obj[seg.key] = child
		}
		return set(child, segs[1:], value, full)
	}

	arr, ok := obj[seg.key].([]any)
	if !ok {
		if existing, present := obj[seg.key]; present && existing != nil {
			return fmt.Errorf("path %q: segment %q is not an array", full, seg.key)
		}
		arr = nil
	}
	for len(arr) <= seg.index {
		arr = append(arr, nil)
	}
	obj[seg.key] = arr

	if last {
		arr[seg.index] = value
		return nil
	}
	elem, ok := arr[seg.index].(map[string]any)
	if !ok {
		if arr[seg.index] != nil {
			return fmt.Errorf("path %q: element %d of %q is not an object", full, seg.index, seg.key)
		}
		elem = map[string]any{}
		arr[seg.index] = elem
	}
	return set(elem, segs[1:], value, full)
}
