package vex

import "fmt"

type opcode int

const (
	opnop opcode = iota
	opadd
	opsub
	opmul
	opdiv
	oplt
	opgt
	ople
	opge
	opeq
	opne
	opand
	opor
	opnot
	opselect
	opscatter
	opscatteradd
	opgather
)

func (op opcode) String() string {
	switch op {
	case opnop:
		return "nop"
	case opadd:
		return "add"
	case opsub:
		return "sub"
	case opmul:
		return "mul"
	case opdiv:
		return "div"
	case oplt:
		return "lt"
	case opgt:
		return "gt"
	case ople:
		return "le"
	case opge:
		return "ge"
	case opeq:
		return "eq"
	case opne:
		return "ne"
	case opand:
		return "and"
	case opor:
		return "or"
	case opnot:
		return "not"
	case opselect:
		return "select"
	case opscatter:
		return "scatter"
	case opscatteradd:
		return "scatter_add"
	case opgather:
		return "gather"
	default:
		panic(op)
	}
}

// Op is one captured operation inside a recorded program fragment.
// Pure ops fill out; side-effect ops write into target gated by mask.
type Op struct {
	code   opcode
	args   []*Array
	out    *Array
	target *Array
	index  *Array
	value  *Array
	mask   *Array
	direct bool
}

// Fragment is an ordered list of captured operations gated by one sub-mask
// of the enclosing conditional. It is owned by the Recorder for the
// lifetime of a single combinator call.
type Fragment struct {
	mask    *Array
	ops     []*Op
	targets []*Array
}

func newFragment(mask *Array) *Fragment {
	return &Fragment{mask: mask}
}

func (f *Fragment) append(op *Op) {
	f.ops = append(f.ops, op)
	if op.target != nil {
		for _, t := range f.targets {
			if SameStorage(t, op.target) {
				return
			}
		}
		f.targets = append(f.targets, op.target)
	}
}

// Len returns the number of captured operations.
func (f *Fragment) Len() int { return len(f.ops) }

// condOut pairs the two branch results feeding one merged output leaf.
type condOut struct {
	t, f *Array
	out  *Array
}

// CondNode is a deferred conditional: two recorded fragments gated by
// complementary sub-masks of cond, merged per lane on execution.
type CondNode struct {
	cond      *Array
	trueFrag  *Fragment
	falseFrag *Fragment
	outs      []condOut
	targets   []*Array
	done      bool
}

// NewCondNode starts an empty conditional node over the given mask.
func NewCondNode(cond *Array) *CondNode {
	return &CondNode{cond: cond}
}

// Cond returns the node's merge mask.
func (n *CondNode) Cond() *Array { return n.cond }

// True and False expose the recorded fragments.
func (n *CondNode) True() *Fragment  { return n.trueFrag }
func (n *CondNode) False() *Fragment { return n.falseFrag }

// BindOutput registers one merged output slot and returns the fresh
// unevaluated placeholder the caller hands back to user code.
func (n *CondNode) BindOutput(t, f *Array) *Array {
	size := n.cond.Size()
	if t.Size() > size {
		size = t.Size()
	}
	if f.Size() > size {
		size = f.Size()
	}
	out := &Array{
		dtype: t.dtype,
		state: StateUnevaluated,
		data:  make([]float64, size),
		node:  n,
		slot:  len(n.outs),
	}
	n.outs = append(n.outs, condOut{t: t, f: f, out: out})
	return out
}

// Finalize merges the captured fragments into the node and rebinds every
// scatter target so a later read forces the node.
func (n *CondNode) Finalize(trueFrag, falseFrag *Fragment) {
	n.trueFrag = trueFrag
	n.falseFrag = falseFrag
	seen := func(list []*Array, a *Array) bool {
		for _, t := range list {
			if SameStorage(t, a) {
				return true
			}
		}
		return false
	}
	for _, frag := range []*Fragment{trueFrag, falseFrag} {
		for _, t := range frag.targets {
			if !seen(n.targets, t) {
				n.targets = append(n.targets, t)
			}
		}
	}
	for _, t := range n.targets {
		t.state = StateUnevaluated
		t.node = n
		t.slot = -1
	}
}

// execute runs both fragments in order (true, then false), each under its
// own sub-mask, and per-lane selects every bound output. Side effects land
// in the scatter targets' existing storage. Execution happens at most once.
func (n *CondNode) execute() error {
	if n.done {
		return nil
	}
	n.done = true
	for _, frag := range []*Fragment{n.trueFrag, n.falseFrag} {
		if frag == nil {
			continue
		}
		for _, op := range frag.ops {
			if err := op.run(); err != nil {
				return fmt.Errorf("deferred conditional failed at op %s: %w", op.code, err)
			}
		}
	}
	for _, o := range n.outs {
		if err := selectInto(o.out.data, n.cond, o.t, o.f); err != nil {
			return err
		}
		o.out.state = StateEvaluated
		o.out.node = nil
	}
	for _, t := range n.targets {
		t.state = StateEvaluated
		t.node = nil
	}
	return nil
}

// run interprets one captured op against materialized operands.
func (op *Op) run() error {
	switch op.code {
	case opscatter, opscatteradd:
		return applyScatter(op.code, op.target, op.index, op.value, op.mask)
	case opselect:
		if err := selectInto(op.out.data, op.args[0], op.args[1], op.args[2]); err != nil {
			return err
		}
		op.out.state = StateEvaluated
		op.out.pending = false
		return nil
	default:
		if err := computeInto(op.out, op.code, op.args[0], op.args[1]); err != nil {
			return err
		}
		op.out.state = StateEvaluated
		op.out.pending = false
		return nil
	}
}

// OpDesc is a serializable view of one captured operation, used by the
// disassembler and trace tooling.
type OpDesc struct {
	Code     string   `yaml:"op"`
	Operands []string `yaml:"operands,omitempty"`
	Result   string   `yaml:"result,omitempty"`
	Target   string   `yaml:"target,omitempty"`
	Direct   bool     `yaml:"direct,omitempty"`
}

// NodeDesc is a serializable view of a whole conditional node.
type NodeDesc struct {
	Cond    string   `yaml:"cond"`
	True    []OpDesc `yaml:"true"`
	False   []OpDesc `yaml:"false"`
	Outputs []string `yaml:"outputs,omitempty"`
}

// Describe renders the node into a stable textual form. Value names are
// assigned in first-use order (v0, v1, ...) within one call.
func (n *CondNode) Describe() NodeDesc {
	names := map[*Array]string{}
	name := func(a *Array) string {
		if a == nil {
			return ""
		}
		if s, ok := names[a]; ok {
			return s
		}
		s := fmt.Sprintf("v%d %s", len(names), a.dtype)
		names[a] = s
		return s
	}
	describe := func(frag *Fragment) []OpDesc {
		if frag == nil {
			return nil
		}
		descs := make([]OpDesc, 0, len(frag.ops))
		for _, op := range frag.ops {
			d := OpDesc{Code: op.code.String(), Direct: op.direct}
			for _, a := range op.args {
				d.Operands = append(d.Operands, name(a))
			}
			if op.index != nil {
				d.Operands = append(d.Operands, name(op.index))
			}
			if op.value != nil {
				d.Operands = append(d.Operands, name(op.value))
			}
			if op.out != nil {
				d.Result = name(op.out)
			}
			if op.target != nil {
				d.Target = name(op.target)
			}
			descs = append(descs, d)
		}
		return descs
	}
	desc := NodeDesc{
		Cond:  name(n.cond),
		True:  describe(n.trueFrag),
		False: describe(n.falseFrag),
	}
	for _, o := range n.outs {
		desc.Outputs = append(desc.Outputs, name(o.out))
	}
	return desc
}
