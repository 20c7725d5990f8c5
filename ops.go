package vex

import (
	"fmt"
	"math"
)

// lane reads lane i with size-1 broadcast.
func lane(data []float64, i int) float64 {
	if len(data) == 1 {
		return data[0]
	}
	return data[i]
}

// broadcastSize resolves the common lane count of the given sizes.
// Size 1 broadcasts against anything; other mismatches are an error.
func broadcastSize(sizes ...int) (int, error) {
	n := 1
	for _, s := range sizes {
		if s == n || s == 1 {
			continue
		}
		if n == 1 {
			n = s
			continue
		}
		return 0, fmt.Errorf("incompatible sizes (%d and %d)", n, s)
	}
	return n, nil
}

// promote resolves the result dtype of a binary op. A single-lane literal
// adopts the other operand's dtype, anything else must match exactly.
func promote(a, b *Array) (DType, error) {
	if a.dtype == b.dtype {
		return a.dtype, nil
	}
	if a.IsLiteral() && a.Size() == 1 && !a.dtype.IsMask() && !b.dtype.IsMask() {
		return b.dtype, nil
	}
	if b.IsLiteral() && b.Size() == 1 && !a.dtype.IsMask() && !b.dtype.IsMask() {
		return a.dtype, nil
	}
	return Invalid, fmt.Errorf("mismatched dtypes (%s and %s)", a.dtype, b.dtype)
}

func truncate(dtype DType, v float64) float64 {
	switch dtype {
	case Uint32:
		return float64(uint32(int64(math.Trunc(v))))
	case Int64:
		return math.Trunc(v)
	case Float32:
		return float64(float32(v))
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	default:
		return v
	}
}

// computeInto evaluates a pure binary op lane-wise into out's storage.
func computeInto(out *Array, code opcode, a, b *Array) error {
	if err := a.Eval(); err != nil {
		return err
	}
	if err := b.Eval(); err != nil {
		return err
	}
	ad, bd := a.data, b.data
	for i := range out.data {
		x, y := lane(ad, i), lane(bd, i)
		var r float64
		switch code {
		case opadd:
			r = x + y
		case opsub:
			r = x - y
		case opmul:
			r = x * y
		case opdiv:
			if y == 0 {
				return fmt.Errorf("division by zero in lane %d", i)
			}
			r = x / y
		case oplt:
			r = b2f(x < y)
		case opgt:
			r = b2f(x > y)
		case ople:
			r = b2f(x <= y)
		case opge:
			r = b2f(x >= y)
		case opeq:
			r = b2f(x == y)
		case opne:
			r = b2f(x != y)
		case opand:
			r = b2f(x != 0 && y != 0)
		case opor:
			r = b2f(x != 0 || y != 0)
		default:
			panic(code)
		}
		out.data[i] = truncate(out.dtype, r)
	}
	return nil
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// binary dispatches a two-operand op: recorded when a recording scope is
// active, computed eagerly otherwise.
func binary(code opcode, a, b *Array) (*Array, error) {
	if !a.Valid() || !b.Valid() {
		return nil, fmt.Errorf("operand of %s is uninitialized", code)
	}
	dtype, err := promote(a, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", code, err)
	}
	if code.isComparison() {
		dtype = Bool
	}
	size, err := broadcastSize(a.Size(), b.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", code, err)
	}
	if sc := recordingScope(); sc != nil {
		out := &Array{dtype: dtype, state: StateUnevaluated, data: make([]float64, size), slot: -1, pending: true}
		sc.frag.append(&Op{code: code, args: []*Array{a, b}, out: out, mask: sc.mask})
		return out, nil
	}
	out := &Array{dtype: dtype, state: StateEvaluated, data: make([]float64, size), slot: -1}
	if err := computeInto(out, code, a, b); err != nil {
		return nil, err
	}
	if a.state == StateLiteral && b.state == StateLiteral {
		out.state = StateLiteral
	}
	return out, nil
}

func (op opcode) isComparison() bool {
	switch op {
	case oplt, opgt, ople, opge, opeq, opne:
		return true
	}
	return false
}

// Add returns a + b with size-1 broadcast.
func Add(a, b *Array) (*Array, error) { return binary(opadd, a, b) }

// Sub returns a - b.
func Sub(a, b *Array) (*Array, error) { return binary(opsub, a, b) }

// Mul returns a * b.
func Mul(a, b *Array) (*Array, error) { return binary(opmul, a, b) }

// Div returns a / b.
func Div(a, b *Array) (*Array, error) { return binary(opdiv, a, b) }

// Lt, Gt, Le, Ge, Eq, Ne compare lane-wise and produce a mask.
func Lt(a, b *Array) (*Array, error) { return binary(oplt, a, b) }
func Gt(a, b *Array) (*Array, error) { return binary(opgt, a, b) }
func Le(a, b *Array) (*Array, error) { return binary(ople, a, b) }
func Ge(a, b *Array) (*Array, error) { return binary(opge, a, b) }
func Eq(a, b *Array) (*Array, error) { return binary(opeq, a, b) }
func Ne(a, b *Array) (*Array, error) { return binary(opne, a, b) }

// And and Or combine masks lane-wise.
func And(a, b *Array) (*Array, error) { return binary(opand, a, b) }
func Or(a, b *Array) (*Array, error)  { return binary(opor, a, b) }

// Not negates a mask. The negation of a recorded sub-mask is itself
// computed eagerly: masks gate recording, they are never deferred.
func Not(m *Array) (*Array, error) {
	if !m.dtype.IsMask() {
		return nil, fmt.Errorf("not: expected a mask, got %s", m.dtype)
	}
	if err := m.Eval(); err != nil {
		return nil, err
	}
	data := make([]float64, m.Size())
	for i, v := range m.data {
		data[i] = b2f(v == 0)
	}
	out := newArray(Bool, data)
	out.state = m.state
	return out, nil
}

// selectInto merges t and f per lane into dst under the mask.
func selectInto(dst []float64, mask, t, f *Array) error {
	for _, a := range []*Array{mask, t, f} {
		if err := a.Eval(); err != nil {
			return err
		}
	}
	for i := range dst {
		if lane(mask.data, i) != 0 {
			dst[i] = lane(t.data, i)
		} else {
			dst[i] = lane(f.data, i)
		}
	}
	return nil
}

// Select returns per-lane t where mask is set and f elsewhere.
func Select(mask, t, f *Array) (*Array, error) {
	if !mask.dtype.IsMask() {
		return nil, fmt.Errorf("select: expected a mask, got %s", mask.dtype)
	}
	dtype, err := promote(t, f)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	size, err := broadcastSize(mask.Size(), t.Size(), f.Size())
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	if sc := recordingScope(); sc != nil {
		out := &Array{dtype: dtype, state: StateUnevaluated, data: make([]float64, size), slot: -1, pending: true}
		sc.frag.append(&Op{code: opselect, args: []*Array{mask, t, f}, out: out, mask: sc.mask})
		return out, nil
	}
	out := &Array{dtype: dtype, state: StateEvaluated, data: make([]float64, size), slot: -1}
	if err := selectInto(out.data, mask, t, f); err != nil {
		return nil, err
	}
	return out, nil
}

// applyScatter performs a materialized masked scatter or scatter-add.
func applyScatter(code opcode, target, index, value, mask *Array) error {
	for _, a := range []*Array{index, value} {
		if err := a.Eval(); err != nil {
			return err
		}
	}
	if mask != nil {
		if err := mask.Eval(); err != nil {
			return err
		}
	}
	sizes := []int{index.Size(), value.Size()}
	if mask != nil {
		sizes = append(sizes, mask.Size())
	}
	n, err := broadcastSize(sizes...)
	if err != nil {
		return fmt.Errorf("%s: %w", code, err)
	}
	for i := 0; i < n; i++ {
		if mask != nil && lane(mask.data, i) == 0 {
			continue
		}
		j := int(lane(index.data, i))
		if j < 0 || j >= target.Size() {
			return fmt.Errorf("%s: index %d out of bounds for target of size %d", code, j, target.Size())
		}
		v := lane(value.data, i)
		if code == opscatteradd {
			target.data[j] = truncate(target.dtype, target.data[j]+v)
		} else {
			target.data[j] = truncate(target.dtype, v)
		}
	}
	return nil
}

// scatter dispatches a side-effect write. Inside a recording scope the op
// is captured into the active fragment, gated by the scope's sub-mask
// combined with the optional user mask. A capture with no user mask needs
// no intermediate masked copy of the target and is flagged as direct; one
// "[direct]" marker per such capture is emitted on the scope's trace
// writer. Outside recording the write applies immediately, masked by the
// ambient mask scope if one is active.
func scatter(code opcode, target, index, value, userMask *Array) error {
	if !target.Valid() {
		return fmt.Errorf("%s: target is uninitialized", code)
	}
	sc := currentScope()
	gate := userMask
	if sc != nil {
		combined, err := combineMasks(sc.mask, userMask)
		if err != nil {
			return err
		}
		gate = combined
	}
	if sc != nil && sc.frag != nil {
		direct := userMask == nil
		if direct {
			sc.emitDirectMarker()
		}
		sc.frag.append(&Op{code: code, target: target, index: index, value: value, mask: gate, direct: direct})
		return nil
	}
	if err := target.Eval(); err != nil {
		return err
	}
	if err := applyScatter(code, target, index, value, gate); err != nil {
		return err
	}
	if target.state == StateLiteral {
		target.state = StateEvaluated
	}
	return nil
}

func combineMasks(a, b *Array) (*Array, error) {
	switch {
	case a == nil:
		return b, nil
	case b == nil:
		return a, nil
	default:
		return And(a, b)
	}
}

// Scatter writes value into target at index, per active lane.
func Scatter(target, index, value *Array) error {
	return scatter(opscatter, target, index, value, nil)
}

// ScatterMasked is Scatter with an extra user-supplied gate mask.
func ScatterMasked(target, index, value, mask *Array) error {
	return scatter(opscatter, target, index, value, mask)
}

// ScatterAdd accumulates value into target at index, per active lane.
func ScatterAdd(target, index, value *Array) error {
	return scatter(opscatteradd, target, index, value, nil)
}

// ScatterAddMasked is ScatterAdd with an extra user-supplied gate mask.
func ScatterAddMasked(target, index, value, mask *Array) error {
	return scatter(opscatteradd, target, index, value, mask)
}

// All materializes a mask and reports whether every lane is set.
func All(m *Array) (bool, error) {
	if !m.dtype.IsMask() {
		return false, fmt.Errorf("all: expected a mask, got %s", m.dtype)
	}
	if err := m.Eval(); err != nil {
		return false, err
	}
	for _, v := range m.data {
		if v == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Any materializes a mask and reports whether at least one lane is set.
func Any(m *Array) (bool, error) {
	if !m.dtype.IsMask() {
		return false, fmt.Errorf("any: expected a mask, got %s", m.dtype)
	}
	if err := m.Eval(); err != nil {
		return false, err
	}
	for _, v := range m.data {
		if v != 0 {
			return true, nil
		}
	}
	return false, nil
}
