package field

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a field path: a map key or a list index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	if s.Key == "" || strings.ContainsAny(s.Key, "/[]'") {
		return "/'" + strings.ReplaceAll(s.Key, "'", "''") + "'"
	}
	return "/" + s.Key
}

// ParsePath splits a record path such as /a/b[2]/'c/d' into segments.
// The empty path addresses the root field.
func ParsePath(path string) ([]Segment, error) {
	var segs []Segment
	for i := 0; i < len(path); {
		switch path[i] {
		case '/':
			i++
			if i < len(path) && path[i] == '\'' {
				key, next, err := parseQuoted(path, i)
				if err != nil {
					return nil, err
				}
				segs = append(segs, Segment{Key: key})
				i = next
				continue
			}
			start := i
			for i < len(path) && path[i] != '/' && path[i] != '[' {
				i++
			}
			segs = append(segs, Segment{Key: path[start:i]})
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("invalid path %q: unterminated index", path)
			}
			idx, err := strconv.Atoi(path[i+1 : i+end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid path %q: bad index %q", path, path[i+1:i+end])
			}
			segs = append(segs, Segment{Index: idx, IsIndex: true})
			i += end + 1
		default:
			return nil, fmt.Errorf("invalid path %q: unexpected %q at %d", path, path[i], i)
		}
	}
	return segs, nil
}

// parseQuoted reads a single-quoted key starting at the opening quote.
func parseQuoted(path string, open int) (string, int, error) {
	var b strings.Builder
	for i := open + 1; i < len(path); i++ {
		if path[i] != '\'' {
			b.WriteByte(path[i])
			continue
		}
		if i+1 < len(path) && path[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		return b.String(), i + 1, nil
	}
	return "", 0, fmt.Errorf("invalid path %q: unterminated quote", path)
}

// JoinPath renders segments back into a path.
func JoinPath(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.String())
	}
	return b.String()
}

// Get resolves path against root. It returns nil without error when any
// segment is absent.
func Get(root *Field, path string) (*Field, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return walk(root, segs), nil
}

func walk(f *Field, segs []Segment) *Field {
	for _, s := range segs {
		if f == nil {
			return nil
		}
		f = child(f, s)
	}
	return f
}

func child(f *Field, s Segment) *Field {
	if s.IsIndex {
		c, _ := f.Index(s.Index)
		return c
	}
	m, ok := f.Map()
	if !ok {
		return nil
	}
	c, _ := m.Get(s.Key)
	return c
}

// Set stores value at path and returns the resulting root, which differs from
// root only when path is empty. The parent of the last segment must exist; a
// list index equal to the list length appends.
func Set(root *Field, path string, value *Field) (*Field, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return value, nil
	}
	parent := walk(root, segs[:len(segs)-1])
	if parent == nil {
		return nil, fmt.Errorf("cannot set %q: parent %q does not exist", path, JoinPath(segs[:len(segs)-1]))
	}
	last := segs[len(segs)-1]
	if last.IsIndex {
		if _, ok := parent.List(); !ok {
			return nil, fmt.Errorf("cannot set %q: parent is %s, not a non-null LIST", path, parent.Type())
		}
		if last.Index == parent.Len() {
			return root, parent.Append(value)
		}
		return root, parent.SetIndex(last.Index, value)
	}
	m, ok := parent.Map()
	if !ok {
		return nil, fmt.Errorf("cannot set %q: parent is %s, not a non-null map", path, parent.Type())
	}
	m.Set(last.Key, value)
	return root, nil
}

// Delete removes the field at path and returns it, or nil when absent.
// The root cannot be deleted.
func Delete(root *Field, path string) (*Field, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("cannot delete the root field")
	}
	parent := walk(root, segs[:len(segs)-1])
	if parent == nil {
		return nil, nil
	}
	last := segs[len(segs)-1]
	if last.IsIndex {
		if _, ok := parent.Index(last.Index); !ok {
			return nil, nil
		}
		return parent.RemoveIndex(last.Index)
	}
	m, ok := parent.Map()
	if !ok {
		return nil, nil
	}
	removed, _ := m.Delete(last.Key)
	return removed, nil
}

// Paths lists the path of root and of every descendant, depth first, in
// container order.
func Paths(root *Field) []string {
	if root == nil {
		return nil
	}
	var out []string
	var visit func(f *Field, segs []Segment)
	visit = func(f *Field, segs []Segment) {
		out = append(out, JoinPath(segs))
		if items, ok := f.List(); ok {
			for i, c := range items {
				visit(c, append(segs[:len(segs):len(segs)], Segment{Index: i, IsIndex: true}))
			}
		}
		if m, ok := f.Map(); ok {
			m.Each(func(key string, c *Field) bool {
				visit(c, append(segs[:len(segs):len(segs)], Segment{Key: key}))
				return true
			})
		}
	}
	visit(root, nil)
	return out
}
