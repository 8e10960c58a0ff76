package mapping

import (
	"fmt"
	"strconv"
	"strings"
)

// pathSegment is one step of a parsed path expression: either a property name
// or an integer array index.
type pathSegment struct {
	name    string
	index   int
	isIndex bool
}

// parsePath splits a dot/bracket expression into segments. A leading "$." (or
// bare "$") is stripped. "items[0].price" parses to [items, 0, price].
func parsePath(path string) ([]pathSegment, error) {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "$.") {
		path = path[2:]
	} else if path == "$" {
		path = ""
	}
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}

		name := part
		var brackets string
		if i := strings.Index(part, "["); i >= 0 {
			name = part[:i]
			brackets = part[i:]
		}
		if name != "" {
			segs = append(segs, pathSegment{name: name})
		} else if brackets == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}

		for brackets != "" {
			if !strings.HasPrefix(brackets, "[") {
				return nil, fmt.Errorf("malformed index in path %q", path)
			}
			end := strings.Index(brackets, "]")
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in path %q", path)
			}
			idx, err := strconv.Atoi(brackets[1:end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index %q in path %q", brackets[1:end], path)
			}
			segs = append(segs, pathSegment{index: idx, isIndex: true})
			brackets = brackets[end+1:]
		}
	}
	return segs, nil
}

// Get resolves path against a decoded JSON value. Missing or mismatched nodes
// yield (nil, false); a JSON null stored at the path yields (nil, true). Get
// never panics and never mutates doc.
func Get(doc interface{}, path string) (interface{}, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	current := doc
	for _, seg := range segs {
		switch v := current.(type) {
		case map[string]interface{}:
			if seg.isIndex {
				return nil, false
			}
			val, ok := v[seg.name]
			if !ok {
				return nil, false
			}
			current = val
		case []interface{}:
			if !seg.isIndex {
				return nil, false
			}
			if seg.index >= len(v) {
				return nil, false
			}
			current = v[seg.index]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set writes value at path inside doc, creating intermediate objects and
// arrays as needed. An integer segment creates or extends an array; a name
// segment creates an object. An existing intermediate value is replaced only
// when its type conflicts with the container the path requires. Only doc is
// mutated.
func Set(doc map[string]interface{}, path string, value interface{}) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if segs[0].isIndex {
		return fmt.Errorf("path %q cannot start with an index", path)
	}

	var current interface{} = doc
	for i, seg := range segs {
		last := i == len(segs)-1

		if seg.isIndex {
			arr, ok := current.([]interface{})
			if !ok {
				// Set-up by the previous iteration guarantees an array here.
				return fmt.Errorf("path %q: segment %d is not an array", path, i)
			}
			if last {
				arr[seg.index] = value
				return nil
			}
			arr[seg.index] = ensureContainer(arr[seg.index], segs[i+1])
			current = arr[seg.index]
			continue
		}

		obj, ok := current.(map[string]interface{})
		if !ok {
			return fmt.Errorf("path %q: segment %d is not an object", path, i)
		}
		if last {
			obj[seg.name] = value
			return nil
		}
		obj[seg.name] = ensureContainer(obj[seg.name], segs[i+1])
		current = obj[seg.name]
	}
	return nil
}

// ensureContainer returns existing if it already is the container type the
// next segment needs, otherwise a fresh one. Arrays are grown with nils so
// the next index is addressable.
func ensureContainer(existing interface{}, next pathSegment) interface{} {
	if next.isIndex {
		arr, ok := existing.([]interface{})
		if !ok {
			arr = make([]interface{}, next.index+1)
		}
		for len(arr) <= next.index {
			arr = append(arr, nil)
		}
		return arr
	}
	if obj, ok := existing.(map[string]interface{}); ok {
		return obj
	}
	return map[string]interface{}{}
}

// deepCopyValue clones decoded-JSON containers so documents assembled by the
// engine never alias the source payload or stored configuration. Scalars are
// returned as-is.
func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = deepCopyValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
