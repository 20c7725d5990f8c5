// Package grad is the gradient-tracking overlay: a per-leaf mutable flag
// plus a shadow gradient value, manipulated recursively over arbitrary
// nested containers via the tree package. The overlay never owns a leaf;
// it only annotates leaves that already exist, and the annotations are
// cleared when tracking is disabled.
//
// Mutation is in place under the runtime's single-writer assumption; there
// is no locking here.
package grad

import (
	"fmt"

	"github.com/vexlabs/vex"
	"github.com/vexlabs/vex/tree"
)

// Enable recursively sets the gradient flag on every differentiable leaf
// reachable from x. Leaves of non-float dtype are silently skipped, so
// partial application across mixed containers works as expected.
func Enable(x any) error {
	return eachLeaf(x, func(a *vex.Array) error {
		a.EnableGrad()
		return nil
	})
}

// Disable recursively clears the gradient flag and drops the shadow
// gradient on every leaf reachable from x.
func Disable(x any) error {
	return eachLeaf(x, func(a *vex.Array) error {
		a.DisableGrad()
		return nil
	})
}

// Enabled reports whether ANY leaf across all arguments has its gradient
// flag set. Each argument is flattened independently.
func Enabled(xs ...any) (bool, error) {
	found := false
	for _, x := range xs {
		err := eachLeaf(x, func(a *vex.Array) error {
			if a.GradEnabled() {
				found = true
			}
			return nil
		})
		if err != nil {
			return false, err
		}
	}
	return found, nil
}

// Detach returns a structurally identical copy of x with gradient flags
// cleared and shadow gradients dropped on every leaf. x itself is not
// modified. With preserveType set, registered structs keep their concrete
// type; otherwise they are lowered to plain string-keyed mappings.
func Detach(x any, preserveType bool) (any, error) {
	leaves, tpl, err := tree.Flatten(x)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(leaves))
	for i, l := range leaves {
		if a, ok := l.Value.(*vex.Array); ok {
			out[i] = a.ShallowCopy()
		} else {
			out[i] = l.Value
		}
	}
	rebuilt, err := tpl.Unflatten(out)
	if err != nil {
		return nil, err
	}
	if !preserveType {
		rebuilt = lowerStructs(rebuilt)
	}
	return rebuilt, nil
}

func lowerStructs(v any) any {
	switch c := v.(type) {
	case []any:
		out := make([]any, len(c))
		for i, child := range c {
			out[i] = lowerStructs(child)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, child := range c {
			out[k] = lowerStructs(child)
		}
		return out
	case tree.Struct:
		out := make(map[string]any)
		for _, f := range c.FieldNames() {
			out[f] = lowerStructs(c.Field(f))
		}
		return out
	default:
		return v
	}
}

// Grad returns the shadow gradient of a single leaf, defaulting to an
// all-zero value of matching shape when none was ever set.
func Grad(a *vex.Array) *vex.Array {
	if g := a.RawGrad(); g != nil {
		return g
	}
	return vex.Zeros(a)
}

// GradTree returns x's structure with every differentiable leaf replaced
// by its shadow gradient (zeros when unset) and every other leaf passed
// through untouched.
func GradTree(x any) (any, error) {
	leaves, tpl, err := tree.Flatten(x)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(leaves))
	for i, l := range leaves {
		if a, ok := l.Value.(*vex.Array); ok && a.DType().IsFloat() {
			out[i] = Grad(a)
		} else {
			out[i] = l.Value
		}
	}
	return tpl.Unflatten(out)
}

// SetGrad overwrites the shadow gradient of every differentiable leaf in x
// with v. This is assignment, not accumulation. v may be a single value
// applied to all leaves (broadcast if narrower than a leaf) or a tree of
// matching structure.
func SetGrad(x, v any) error {
	return zipGrad(x, v, func(a, g *vex.Array) error {
		bg, err := broadcastTo(g, a)
		if err != nil {
			return err
		}
		a.SetRawGrad(bg)
		return nil
	})
}

// AccumGrad adds v into the existing shadow gradient of every
// differentiable leaf in x, starting from zeros when none is attached.
// This is the only accumulation path.
func AccumGrad(x, v any) error {
	return zipGrad(x, v, func(a, g *vex.Array) error {
		sum, err := vex.Add(Grad(a), g)
		if err != nil {
			return err
		}
		a.SetRawGrad(sum)
		return nil
	})
}

func zipGrad(x, v any, apply func(a, g *vex.Array) error) error {
	xLeaves, xTpl, err := tree.Flatten(x)
	if err != nil {
		return err
	}
	single, isSingle := v.(*vex.Array)
	var vLeaves []tree.Leaf
	if !isSingle {
		var vTpl *tree.Template
		vLeaves, vTpl, err = tree.Flatten(v)
		if err != nil {
			return err
		}
		if !tree.SameShape(xTpl, vTpl) {
			return fmt.Errorf("gradient tree does not match target structure")
		}
	}
	for i, l := range xLeaves {
		a, ok := l.Value.(*vex.Array)
		if !ok || !a.DType().IsFloat() {
			continue
		}
		g := single
		if !isSingle {
			g, ok = vLeaves[i].Value.(*vex.Array)
			if !ok {
				return fmt.Errorf("gradient for leaf %q is not an array", l.Path)
			}
		}
		if err := apply(a, g); err != nil {
			return fmt.Errorf("leaf %q: %w", l.Path, err)
		}
	}
	return nil
}

// broadcastTo widens g to ref's lane count when g is narrower. The shadow
// gradient always matches its leaf's shape.
func broadcastTo(g *vex.Array, ref *vex.Array) (*vex.Array, error) {
	if g.Size() == ref.Size() {
		return g, nil
	}
	if g.Size() == 1 {
		return vex.Add(vex.Zeros(ref), g)
	}
	return nil, fmt.Errorf("incompatible sizes (%d and %d)", g.Size(), ref.Size())
}

func eachLeaf(x any, fn func(a *vex.Array) error) error {
	leaves, _, err := tree.Flatten(x)
	if err != nil {
		return err
	}
	for _, l := range leaves {
		if a, ok := l.Value.(*vex.Array); ok {
			if err := fn(a); err != nil {
				return err
			}
		}
	}
	return nil
}
