package condexec

import (
	"github.com/vexlabs/vex"
	"github.com/vexlabs/vex/tree"
)

// runEvaluated invokes both branches eagerly against materialized values
// and merges their results per lane.
//
// Every input leaf is forced through the materialization barrier before a
// branch runs, so side effects performed inside a branch land in resolved
// storage. Each branch receives fresh containers and shallow leaf copies;
// a side-effect write inside a branch is restricted to the branch's own
// lanes by the ambient mask scope.
func runEvaluated(args []any, cond *vex.Array, trueFn, falseFn Branch, opt Options, logger Logger) (any, error) {
	leaves, tpl, err := tree.Flatten(args)
	if err != nil {
		return nil, err
	}
	if err := validateInputs(leaves, opt.RVLabels); err != nil {
		return nil, err
	}
	for _, l := range leaves {
		if a, ok := l.Value.(*vex.Array); ok {
			if err := a.Eval(); err != nil {
				return nil, err
			}
		}
	}
	if err := cond.Eval(); err != nil {
		return nil, err
	}

	canon := map[any]any{}

	// True branch under the positive sub-mask.
	argsT, err := buildBranchArgs(args, leaves, tpl, true, canon)
	if err != nil {
		return nil, err
	}
	if _, err := vex.PushMaskScope(cond); err != nil {
		return nil, err
	}
	rvT, errT := callBranch("true_fn", trueFn, argsT)
	vex.PopScope()
	if errT != nil {
		return nil, errT
	}

	// False branch under the negative sub-mask.
	notCond, err := vex.Not(cond)
	if err != nil {
		return nil, err
	}
	argsF, err := buildBranchArgs(args, leaves, tpl, true, canon)
	if err != nil {
		return nil, err
	}
	if _, err := vex.PushMaskScope(notCond); err != nil {
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

	reps := make([]tree.Replacement, len(tLeaves))
	resolve := canonFunc(canon)
	for i := range tLeaves {
		t, tIsArr := tLeaves[i].Value.(*vex.Array)
		f, _ := fLeaves[i].Value.(*vex.Array)
		if !tIsArr {
			// Host scalar, identical on both paths per the checker.
			reps[i] = tree.Replacement{Value: tLeaves[i].Value, Unchanged: true}
			continue
		}
		if vex.SameStorage(t, f) {
			// Untouched by either branch: the caller's object comes back by
			// identity when the leaf maps to an input, or the shared result
			// verbatim when both branches produced the same object.
			if orig, ok := resolve(t); ok {
				reps[i] = tree.Replacement{Value: orig, Unchanged: true}
			} else {
				reps[i] = tree.Replacement{Value: t}
			}
			continue
		}
		merged, err := vex.Select(cond, t, f)
		if err != nil {
			return nil, err
		}
		reps[i] = tree.Replacement{Value: merged}
	}

	logger.Debugf("evaluated merge of %d result leaves", len(reps))
	return tplT.UnflattenWith(reps, resolve)
}
