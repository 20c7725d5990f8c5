// Package condexec implements the vectorized control-flow combinator: a
// generalized conditional that reconciles divergent per-lane control flow
// over batched values while preserving exact semantics for arbitrary
// nested user data.
//
// IfStmt executes one of two user-supplied branch callables (or both, for
// a vectorized merge) and produces a structurally merged result:
//
//	r, err := condexec.IfStmt(
//	    []any{x},
//	    vex.MaskOf(true, false),
//	    func(args ...any) (any, error) { return vex.Add(args[0].(*vex.Array), vex.Uint32Of(1)) },
//	    func(args ...any) (any, error) { return vex.Add(args[0].(*vex.Array), vex.Uint32Of(2)) },
//	)
package condexec

import (
	"fmt"

	"github.com/vexlabs/vex"
	"github.com/vexlabs/vex/tree"
)

// Branch is a user-supplied branch callable. It receives the conditional's
// arguments unpacked and returns a result tree shaped identically to the
// other branch's.
type Branch func(args ...any) (any, error)

// IfStmt is the conditional engine. args is the tree visible to both
// branches, cond is either a plain bool (scalar execution) or a boolean
// mask (vectorized execution). Exactly one branch runs in scalar mode;
// both run, strictly sequentially, in evaluated and symbolic modes.
func IfStmt(args []any, cond any, trueFn, falseFn Branch, opts ...Options) (any, error) {
	opt := DefaultOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	logger := opt.Logger
	if logger == nil {
		if opt.LogLevel != "" {
			logger = NewLogger(ParseLogLevel(opt.LogLevel), nil, opt.LogTimeFormat)
		} else {
			logger = newNoopLogger()
		}
	}

	switch c := cond.(type) {
	case bool:
		return runScalar(args, c, trueFn, falseFn, logger)

	case *vex.Array:
		if !c.DType().IsMask() {
			return nil, fmt.Errorf("if_stmt: cond must be a boolean mask, got %s", c.DType())
		}
		if c.Size() == 0 {
			return nil, tree.Structuralf("'cond' cannot be empty")
		}

		// A literal/uniform condition needs no merge at all: collapse to a
		// single-branch invocation. The branch still sees the original
		// arguments, so literal constant folding is preserved.
		if c.IsLiteral() {
			on, err := vex.Any(c)
			if err != nil {
				return nil, err
			}
			logger.Debugf("uniform condition, collapsing to %s", branchName(on))
			return runScalar(args, on, trueFn, falseFn, logger)
		}

		mode := opt.Mode
		if mode == AutoMode {
			mode = SymbolicMode
		}
		logger.With(map[string]any{
			"mode": mode.String(),
			"cond": arraySummary(c),
			"args": len(args),
		}).Infof("if_stmt")

		switch mode {
		case ScalarMode:
			return nil, fmt.Errorf("if_stmt: scalar mode requires a uniform condition")
		case EvaluatedMode:
			return runEvaluated(args, c, trueFn, falseFn, opt, logger)
		case SymbolicMode:
			return runSymbolic(args, c, trueFn, falseFn, opt, logger)
		default:
			return nil, fmt.Errorf("if_stmt: unknown mode %d", mode)
		}

	default:
		return nil, fmt.Errorf("if_stmt: unsupported cond type %T", cond)
	}
}

// runScalar invokes exactly one branch with args unpacked and returns its
// result unchanged: no merge, no consistency check.
func runScalar(args []any, cond bool, trueFn, falseFn Branch, logger Logger) (any, error) {
	fn := falseFn
	if cond {
		fn = trueFn
	}
	logger.Debugf("scalar if_stmt, invoking %s", branchName(cond))
	return callBranch(branchName(cond), fn, args)
}

func branchName(cond bool) string {
	if cond {
		return "true_fn"
	}
	return "false_fn"
}

// callBranch runs a user callable, converting both returned errors and
// panics into a BranchError that keeps the original failure as its cause.
// Each branch runs at most once per call; there are no retries.
func callBranch(name string, fn Branch, args []any) (rv any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BranchError{Branch: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	rv, ferr := fn(args...)
	if ferr != nil {
		return nil, &BranchError{Branch: name, Err: ferr}
	}
	return rv, nil
}

// buildBranchArgs rebuilds args with fresh containers so a branch cannot
// rebind the caller's structure. When copyLeaves is set each array leaf is
// replaced by a shallow copy over the same storage (evaluated mode);
// otherwise the original leaves pass through (symbolic mode). Every copy,
// container or leaf, is registered in canon so reconstruction can restore
// caller-visible identity for unchanged subtrees.
func buildBranchArgs(args []any, leaves []tree.Leaf, tpl *tree.Template, copyLeaves bool, canon map[any]any) ([]any, error) {
	vals := make([]any, len(leaves))
	for i, l := range leaves {
		if a, ok := l.Value.(*vex.Array); ok && copyLeaves {
			vals[i] = a.ShallowCopy()
		} else {
			vals[i] = l.Value
		}
	}
	rebuilt, err := tpl.Unflatten(vals)
	if err != nil {
		return nil, err
	}
	out, ok := rebuilt.([]any)
	if !ok {
		return nil, fmt.Errorf("if_stmt: args must flatten back to a sequence")
	}
	registerCanon(args, out, canon)
	return out, nil
}

// registerCanon walks two structurally identical trees in lockstep and
// records copy-to-original identity for every container and array leaf.
func registerCanon(orig, cp any, canon map[any]any) {
	if orig == nil || cp == nil {
		return
	}
	switch oc := orig.(type) {
	case []any:
		cc, ok := cp.([]any)
		if !ok || len(cc) != len(oc) {
			return
		}
		canon[tree.Identity(cc)] = oc
		for i := range oc {
			registerCanon(oc[i], cc[i], canon)
		}
	case map[string]any:
		cc, ok := cp.(map[string]any)
		if !ok {
			return
		}
		canon[tree.Identity(cc)] = oc
		for k, ov := range oc {
			registerCanon(ov, cc[k], canon)
		}
	case tree.Struct:
		cc, ok := cp.(tree.Struct)
		if !ok {
			return
		}
		canon[tree.Identity(cc)] = oc
		for _, f := range oc.FieldNames() {
			registerCanon(oc.Field(f), cc.Field(f), canon)
		}
	case *vex.Array:
		canon[tree.Identity(cp)] = oc
	}
}

func canonFunc(canon map[any]any) tree.Canon {
	return func(v any) (any, bool) {
		o, ok := canon[tree.Identity(v)]
		return o, ok
	}
}
