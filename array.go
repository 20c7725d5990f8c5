// Package vex implements the core of a vectorized array runtime: a batched
// lane value type, a deferred operation program, and the masked recording
// scopes that let control-flow combinators capture work instead of running
// it eagerly.
package vex

import "fmt"

// DType identifies the element type of an Array.
type DType uint8

const (
	Invalid DType = iota
	Uint32
	Int64
	Float32
	Float64
	Bool
)

func (d DType) String() string {
	switch d {
	case Invalid:
		return "invalid"
	case Uint32:
		return "uint32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	default:
		panic(d)
	}
}

// IsFloat reports whether the dtype participates in differentiation.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// IsMask reports whether the dtype is a condition mask type.
func (d DType) IsMask() bool {
	return d == Bool
}

// VarState tracks where an Array's lanes currently live in the pipeline.
type VarState uint8

const (
	// StateLiteral marks a uniform compile-time constant.
	StateLiteral VarState = iota
	// StateUnevaluated marks lanes bound to a deferred program node that has
	// not executed yet.
	StateUnevaluated
	// StateEvaluated marks materialized lanes.
	StateEvaluated
)

func (s VarState) String() string {
	switch s {
	case StateLiteral:
		return "literal"
	case StateUnevaluated:
		return "unevaluated"
	case StateEvaluated:
		return "evaluated"
	default:
		panic(s)
	}
}

// Array is a batched value: a flat vector of lanes sharing one dtype.
// A size of zero means the array was never initialized. Lanes are stored
// as float64 bit-for-value; integer dtypes are kept exact up to 2^53,
// Bool lanes are 0 or 1.
//
// The gradient flag and shadow gradient ride along on the array but are
// only ever touched through the grad package.
type Array struct {
	dtype DType
	state VarState
	data  []float64

	// Deferred binding: when state is StateUnevaluated the lanes are produced
	// by node (slot indexes the node's outputs; -1 for scatter targets whose
	// storage is updated in place). pending is set for intermediate
	// placeholders that live only inside a recording scope.
	node    *CondNode
	slot    int
	pending bool

	// opaque suppresses uniform-value detection, keeping the array out of
	// constant folding and uniform-condition collapsing.
	opaque bool

	gradEnabled bool
	grad        *Array
}

// newArray builds an evaluated array over the given storage.
func newArray(dtype DType, data []float64) *Array {
	state := StateEvaluated
	if len(data) == 1 {
		state = StateLiteral
	}
	return &Array{dtype: dtype, state: state, data: data, slot: -1}
}

// Empty returns an uninitialized array of the given dtype (size zero).
func Empty(dtype DType) *Array {
	return &Array{dtype: dtype, state: StateEvaluated, slot: -1}
}

// Uint32Of builds a uint32 array from the given lane values.
func Uint32Of(vals ...uint32) *Array {
	data := make([]float64, len(vals))
	for i, v := range vals {
		data[i] = float64(v)
	}
	return newArray(Uint32, data)
}

// Int64Of builds an int64 array from the given lane values.
func Int64Of(vals ...int64) *Array {
	data := make([]float64, len(vals))
	for i, v := range vals {
		data[i] = float64(v)
	}
	return newArray(Int64, data)
}

// Float32Of builds a float32 array from the given lane values.
func Float32Of(vals ...float32) *Array {
	data := make([]float64, len(vals))
	for i, v := range vals {
		data[i] = float64(v)
	}
	return newArray(Float32, data)
}

// Float64Of builds a float64 array from the given lane values.
func Float64Of(vals ...float64) *Array {
	return newArray(Float64, append([]float64(nil), vals...))
}

// MaskOf builds a condition mask from the given lane values.
func MaskOf(vals ...bool) *Array {
	data := make([]float64, len(vals))
	for i, v := range vals {
		if v {
			data[i] = 1
		}
	}
	return newArray(Bool, data)
}

// Full builds an array of n lanes all holding v. The result is a literal
// when n is 1, matching the constructors above.
func Full(dtype DType, v float64, n int) *Array {
	data := make([]float64, n)
	for i := range data {
		data[i] = v
	}
	return newArray(dtype, data)
}

// Zeros builds an all-zero array shaped like ref.
func Zeros(ref *Array) *Array {
	return Full(ref.dtype, 0, ref.Size())
}

// Opaque builds a single-lane array the constant folder will not see
// through: it is evaluated, never literal.
func Opaque(dtype DType, v float64) *Array {
	a := newArray(dtype, []float64{v})
	a.state = StateEvaluated
	a.opaque = true
	return a
}

// DType returns the element type.
func (a *Array) DType() DType { return a.dtype }

// State returns the array's pipeline state.
func (a *Array) State() VarState { return a.state }

// Size returns the lane count. Zero means uninitialized. The size of a
// deferred placeholder is known without materializing it.
func (a *Array) Size() int { return len(a.data) }

// Valid reports whether the array has been initialized.
func (a *Array) Valid() bool { return len(a.data) > 0 }

// IsLiteral reports whether every lane is the same known constant. Opaque
// arrays never qualify, whatever their lanes hold.
func (a *Array) IsLiteral() bool {
	if a.state == StateLiteral {
		return true
	}
	if a.opaque || a.state != StateEvaluated || len(a.data) == 0 {
		return false
	}
	for _, v := range a.data[1:] {
		if v != a.data[0] {
			return false
		}
	}
	return true
}

// Eval crosses the materialization barrier: if the array is bound to a
// deferred program node, the node (and everything it gates) executes now.
func (a *Array) Eval() error {
	if a.state != StateUnevaluated {
		return nil
	}
	if a.node == nil {
		return fmt.Errorf("array is an unevaluated placeholder with no program node attached; " +
			"it can only be read after the enclosing recording scope finalizes")
	}
	if err := a.node.execute(); err != nil {
		return err
	}
	return nil
}

// Data materializes the array and returns its lane storage. It panics on a
// placeholder that is still being recorded; that is a programming error on
// par with a stack underflow.
func (a *Array) Data() []float64 {
	if err := a.Eval(); err != nil {
		panic(err)
	}
	return a.data
}

// Uint32s materializes and converts the lanes.
func (a *Array) Uint32s() []uint32 {
	d := a.Data()
	out := make([]uint32, len(d))
	for i, v := range d {
		out[i] = uint32(int64(v))
	}
	return out
}

// Float64s materializes and copies the lanes.
func (a *Array) Float64s() []float64 {
	return append([]float64(nil), a.Data()...)
}

// Bools materializes and converts the lanes of a mask.
func (a *Array) Bools() []bool {
	d := a.Data()
	out := make([]bool, len(d))
	for i, v := range d {
		out[i] = v != 0
	}
	return out
}

// ShallowCopy returns a fresh wrapper over the same lane storage. Gradient
// state does not travel with the copy.
func (a *Array) ShallowCopy() *Array {
	return &Array{
		dtype:   a.dtype,
		state:   a.state,
		data:    a.data,
		node:    a.node,
		slot:    a.slot,
		pending: a.pending,
		opaque:  a.opaque,
	}
}

// SameStorage reports whether two arrays share the same backing lanes.
// This is the identity notion used by the unchanged-subtree optimization:
// wrapper objects may differ, storage identity is what counts.
func SameStorage(a, b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}
	return len(a.data) > 0 && len(b.data) > 0 && &a.data[0] == &b.data[0]
}

// Node returns the deferred program node the array is bound to, or nil
// for materialized arrays.
func (a *Array) Node() *CondNode {
	if a.state == StateUnevaluated {
		return a.node
	}
	return nil
}

// GradEnabled reports whether the gradient flag is set on this leaf.
func (a *Array) GradEnabled() bool { return a.gradEnabled }

// EnableGrad sets the gradient flag. Non-float leaves are not
// differentiable and the call is a silent no-op for them.
func (a *Array) EnableGrad() {
	if a.dtype.IsFloat() {
		a.gradEnabled = true
	}
}

// DisableGrad clears the gradient flag and drops the shadow gradient.
func (a *Array) DisableGrad() {
	a.gradEnabled = false
	a.grad = nil
}

// RawGrad returns the shadow gradient, or nil if none was ever attached.
func (a *Array) RawGrad() *Array { return a.grad }

// SetRawGrad overwrites the shadow gradient.
func (a *Array) SetRawGrad(g *Array) { a.grad = g }

func (a *Array) String() string {
	if !a.Valid() {
		return fmt.Sprintf("%s[uninitialized]", a.dtype)
	}
	return fmt.Sprintf("%s[%d] (%s)", a.dtype, a.Size(), a.state)
}
