package condexec

import (
	"github.com/vexlabs/vex"
	"github.com/vexlabs/vex/tree"
)

// runSymbolic records both branches into deferred program fragments
// instead of materializing values: true_fn under cond's positive sub-mask,
// then false_fn under the negative one. After capture the consistency
// checker compares the fragments' declared shapes; only then is the
// conditional node finalized, so a failed check leaves no side effect
// visible. The caller receives freshly allocated unevaluated placeholders
// bound to the node; scatter targets are rebound the same way, so any
// later read forces the node through the materialization barrier.
func runSymbolic(args []any, cond *vex.Array, trueFn, falseFn Branch, opt Options, logger Logger) (any, error) {
	leaves, tpl, err := tree.Flatten(args)
	if err != nil {
		return nil, err
	}
	if err := validateInputs(leaves, opt.RVLabels); err != nil {
		return nil, err
	}

	canon := map[any]any{}

	argsT, err := buildBranchArgs(args, leaves, tpl, false, canon)
	if err != nil {
		return nil, err
	}
	scT, err := vex.PushRecordScope(cond, opt.TraceWriter)
	if err != nil {
		return nil, err
	}
	rvT, errT := callBranch("true_fn", trueFn, argsT)
	vex.PopScope()
	if errT != nil {
		return nil, errT
	}

	notCond, err := vex.Not(cond)
	if err != nil {
		return nil, err
	}
	argsF, err := buildBranchArgs(args, leaves, tpl, false, canon)
	if err != nil {
		return nil, err
	}
	scF, err := vex.PushRecordScope(notCond, opt.TraceWriter)
	if err != nil {
		return nil, err
	}
	rvF, errF := callBranch("false_fn", falseFn, argsF)
	vex.PopScope()
	if errF != nil {
		return nil, errF
	}

	tLeaves, tplT, err := tree.Flatten(rvT)
	if err != nil {
		return nil, err
	}
	fLeaves, tplF, err := tree.Flatten(rvF)
	if err != nil {
		return nil, err
	}
	if err := checkConsistency(tLeaves, fLeaves, tplT, tplF, cond.Size(), opt); err != nil {
		return nil, err
	}

	node := vex.NewCondNode(cond)
	node.Finalize(scT.Fragment(), scF.Fragment())
	logger.With(map[string]any{
		"true_ops":  scT.Fragment().Len(),
		"false_ops": scF.Fragment().Len(),
		"outputs":   len(tLeaves),
	}).Infof("recorded conditional node")

	reps := make([]tree.Replacement, len(tLeaves))
	resolve := canonFunc(canon)
	for i := range tLeaves {
		t, tIsArr := tLeaves[i].Value.(*vex.Array)
		f, _ := fLeaves[i].Value.(*vex.Array)
		if !tIsArr {
			reps[i] = tree.Replacement{Value: tLeaves[i].Value, Unchanged: true}
			continue
		}
		if vex.SameStorage(t, f) {
			if orig, ok := resolve(t); ok {
				reps[i] = tree.Replacement{Value: orig, Unchanged: true}
			} else {
				reps[i] = tree.Replacement{Value: t}
			}
			continue
		}
		reps[i] = tree.Replacement{Value: node.BindOutput(t, f)}
	}

	return tplT.UnflattenWith(reps, resolve)
}
