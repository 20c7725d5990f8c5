// Package tree provides generic flatten/unflatten over nested containers:
// ordered sequences, string-keyed mappings, and user types implementing
// the registered-field Struct protocol. Reconstruction preserves the
// identity of any subtree whose leaves came through unchanged.
package tree

import (
	"fmt"
	"reflect"
	"sort"
)

// Struct is the registered-field protocol. A conforming type declares a
// fixed, exhaustive, declaration-ordered field set; the set must be stable
// across traversals of the same type.
type Struct interface {
	FieldNames() []string
	Field(name string) any
	SetField(name string, v any)
	CloneStruct() Struct
}

// Leaf is one flattened leaf: anything that is not a sequence, mapping, or
// registered struct. Host scalars that contain no nested array leaf pass
// through here untouched.
type Leaf struct {
	Value any
	// Path locates the leaf under the flattened root, e.g. "[2].a[0]".
	Path string
	// Top is the index of the leaf's top-level element when the root is a
	// sequence, or 0 otherwise. Used to map leaves to result-field labels.
	Top int
}

type nodeKind uint8

const (
	kindLeaf nodeKind = iota
	kindSeq
	kindMap
	kindStruct
)

type node struct {
	kind     nodeKind
	orig     any
	keys     []string // mapping keys, sorted for deterministic traversal
	fields   []string // struct fields, declaration order
	children []*node
	leaf     int // leaf index for kindLeaf
}

// Template is the reconstruction recipe produced by Flatten. It is
// read-only and shares no mutable state across calls.
type Template struct {
	root   *node
	leaves int
}

// NumLeaves returns the number of leaves the template expects.
func (t *Template) NumLeaves() int { return t.leaves }

// StructuralError reports a malformed traversal input, such as an
// uninitialized leaf read by a declared output or an empty condition mask.
type StructuralError struct {
	msg string
}

func (e *StructuralError) Error() string { return e.msg }

// Structuralf builds a StructuralError from a format string.
func Structuralf(format string, args ...any) *StructuralError {
	return &StructuralError{msg: fmt.Sprintf(format, args...)}
}

// Flatten walks root depth-first and returns its leaves in traversal order
// together with a reconstruction template. The walk is read-only.
func Flatten(root any) ([]Leaf, *Template, error) {
	var leaves []Leaf
	n, err := flatten(root, "", 0, &leaves)
	if err != nil {
		return nil, nil, err
	}
	return leaves, &Template{root: n, leaves: len(leaves)}, nil
}

func flatten(v any, path string, top int, leaves *[]Leaf) (*node, error) {
	switch c := v.(type) {
	case []any:
		n := &node{kind: kindSeq, orig: v, children: make([]*node, len(c))}
		for i, child := range c {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			childTop := top
			if path == "" {
				childTop = i
			}
			cn, err := flatten(child, childPath, childTop, leaves)
			if err != nil {
				return nil, err
			}
			n.children[i] = cn
		}
		return n, nil
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		n := &node{kind: kindMap, orig: v, keys: keys, children: make([]*node, len(keys))}
		for i, k := range keys {
			cn, err := flatten(c[k], fmt.Sprintf("%s.%s", path, k), top, leaves)
			if err != nil {
				return nil, err
			}
			n.children[i] = cn
		}
		return n, nil
	case Struct:
		fields := c.FieldNames()
		n := &node{kind: kindStruct, orig: v, fields: fields, children: make([]*node, len(fields))}
		for i, f := range fields {
			cn, err := flatten(c.Field(f), fmt.Sprintf("%s.%s", path, f), top, leaves)
			if err != nil {
				return nil, err
			}
			n.children[i] = cn
		}
		return n, nil
	default:
		idx := len(*leaves)
		*leaves = append(*leaves, Leaf{Value: v, Path: path, Top: top})
		return &node{kind: kindLeaf, orig: v, leaf: idx}, nil
	}
}

// Unflatten rebuilds the tree with the given leaves, producing fresh
// containers throughout. The leaf count must match the template.
func (t *Template) Unflatten(leaves []any) (any, error) {
	if len(leaves) != t.leaves {
		return nil, fmt.Errorf("unflatten: got %d leaves, template expects %d", len(leaves), t.leaves)
	}
	reps := make([]Replacement, len(leaves))
	for i, v := range leaves {
		reps[i] = Replacement{Value: v}
	}
	out, _, err := t.root.rebuild(reps, nil)
	return out, err
}

// Replacement is one output leaf for UnflattenWith. Unchanged marks a leaf
// whose storage is identity-equal to the original input's; unchanged leaves
// let whole containers be returned verbatim.
type Replacement struct {
	Value     any
	Unchanged bool
}

// Canon maps a transient container or leaf (for example the copy handed to
// a branch callable) back to the caller-visible original it was derived
// from. It returns false when no original is known.
type Canon func(v any) (any, bool)

// UnflattenWith rebuilds the tree bottom-up applying the unchanged-subtree
// optimization: a container whose leaves are all unchanged is resolved
// through canon to the original object and returned by identity; a
// container with at least one changed leaf is rebuilt fresh. Identity is
// decided by the caller-provided flags and canon mapping, never by value
// equality.
func (t *Template) UnflattenWith(leaves []Replacement, canon Canon) (any, error) {
	if len(leaves) != t.leaves {
		return nil, fmt.Errorf("unflatten: got %d leaves, template expects %d", len(leaves), t.leaves)
	}
	out, _, err := t.root.rebuild(leaves, canon)
	return out, err
}

func (n *node) rebuild(leaves []Replacement, canon Canon) (any, bool, error) {
	switch n.kind {
	case kindLeaf:
		rep := leaves[n.leaf]
		return rep.Value, rep.Unchanged, nil
	case kindSeq:
		vals := make([]any, len(n.children))
		unchanged := true
		for i, c := range n.children {
			v, u, err := c.rebuild(leaves, canon)
			if err != nil {
				return nil, false, err
			}
			vals[i] = v
			unchanged = unchanged && u
		}
		if unchanged && canon != nil {
			return n.resolveOriginal(canon), true, nil
		}
		return vals, false, nil
	case kindMap:
		vals := make(map[string]any, len(n.keys))
		unchanged := true
		for i, c := range n.children {
			v, u, err := c.rebuild(leaves, canon)
			if err != nil {
				return nil, false, err
			}
			vals[n.keys[i]] = v
			unchanged = unchanged && u
		}
		if unchanged && canon != nil {
			return n.resolveOriginal(canon), true, nil
		}
		return vals, false, nil
	case kindStruct:
		childVals := make([]any, len(n.children))
		unchanged := true
		for i, c := range n.children {
			v, u, err := c.rebuild(leaves, canon)
			if err != nil {
				return nil, false, err
			}
			childVals[i] = v
			unchanged = unchanged && u
		}
		if unchanged && canon != nil {
			return n.resolveOriginal(canon), true, nil
		}
		s := n.orig.(Struct).CloneStruct()
		for i, f := range n.fields {
			s.SetField(f, childVals[i])
		}
		return s, false, nil
	default:
		panic(n.kind)
	}
}

func (n *node) resolveOriginal(canon Canon) any {
	if orig, ok := canon(n.orig); ok {
		return orig
	}
	return n.orig
}

// SameShape reports whether two templates describe structurally identical
// trees: same container kinds, same lengths, same keys and fields.
func SameShape(a, b *Template) bool {
	return sameShape(a.root, b.root)
}

func sameShape(a, b *node) bool {
	if a.kind != b.kind || len(a.children) != len(b.children) {
		return false
	}
	for i, k := range a.keys {
		if b.keys[i] != k {
			return false
		}
	}
	for i, f := range a.fields {
		if b.fields[i] != f {
			return false
		}
	}
	for i := range a.children {
		if !sameShape(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

// Identity returns a comparable identity key for a container or leaf:
// pointer identity for pointers, maps, and slices, the value itself for
// other comparable kinds. Two objects with the same key are the same
// object, never merely equal in value.
func Identity(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if rv.IsNil() {
			return nil
		}
		return rv.Pointer()
	default:
		return v
	}
}
