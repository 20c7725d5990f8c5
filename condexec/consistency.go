package condexec

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/vexlabs/vex"
	"github.com/vexlabs/vex/tree"
)

// shapeDesc captures (value kind, size-or-dynamic, literal-ness) of one
// branch-result leaf for comparison across branches.
type shapeDesc struct {
	isArray bool
	dtype   vex.DType
	size    int
	literal bool
	scalar  any // host value when isArray is false
}

func describeLeaf(v any) shapeDesc {
	if a, ok := v.(*vex.Array); ok {
		return shapeDesc{
			isArray: true,
			dtype:   a.DType(),
			size:    a.Size(),
			literal: a.State() == vex.StateLiteral,
		}
	}
	return shapeDesc{scalar: v}
}

// fieldName resolves the diagnostic name of a result leaf: the matching
// rv label when one was supplied, the leaf's structural path otherwise.
func fieldName(l tree.Leaf, labels []string) string {
	if l.Top < len(labels) {
		prefix := fmt.Sprintf("[%d]", l.Top)
		return labels[l.Top] + strings.TrimPrefix(l.Path, prefix)
	}
	if l.Path == "" {
		return "result"
	}
	return strings.TrimPrefix(l.Path, ".")
}

// checkConsistency validates the two branch results field by field before
// any merge is attempted. All field failures are collected and returned
// together; a non-nil return aborts the whole call with no partial result.
func checkConsistency(tLeaves, fLeaves []tree.Leaf, tplT, tplF *tree.Template, condSize int, opts Options) error {
	if !tree.SameShape(tplT, tplF) {
		return &ConsistencyError{
			Field: "result",
			msg:   "branch results have inconsistent structure: true_fn and false_fn returned differently shaped trees",
		}
	}

	var merr *multierror.Error
	for i := range tLeaves {
		field := fieldName(tLeaves[i], opts.RVLabels)
		td := describeLeaf(tLeaves[i].Value)
		fd := describeLeaf(fLeaves[i].Value)

		switch {
		case td.isArray && fd.isArray:
			if err := checkArrayPair(field, td, fd, condSize, opts); err != nil {
				merr = multierror.Append(merr, err)
			}
		case td.isArray != fd.isArray:
			scalar := tLeaves[i].Value
			if td.isArray {
				scalar = fLeaves[i].Value
			}
			merr = multierror.Append(merr, errInconsistentScalar(field, scalar))
		default:
			// Two host scalars merge only when they are the very same value
			// on both control paths; anything else would need a trace.
			if !scalarsEqual(td.scalar, fd.scalar) {
				merr = multierror.Append(merr, errInconsistentScalar(field, td.scalar))
			}
		}
	}
	return merr.ErrorOrNil()
}

func checkArrayPair(field string, td, fd shapeDesc, condSize int, opts Options) error {
	if td.dtype != fd.dtype {
		return errInconsistentTypes(field, td.dtype, fd.dtype)
	}
	if td.size == 0 || fd.size == 0 {
		return tree.Structuralf("field '%s' is uninitialized", field)
	}
	if err := checkSize(field, td.size, fd.size, opts); err != nil {
		return err
	}
	// Each branch result must also line up with the condition's lanes.
	for _, s := range []int{td.size, fd.size} {
		if err := checkSize(field, s, condSize, opts); err != nil {
			return err
		}
	}
	return nil
}

func checkSize(field string, a, b int, opts Options) error {
	if a == b {
		return nil
	}
	if opts.AllowScalarBroadcast && (a == 1 || b == 1) {
		return nil
	}
	return errIncompatibleSizes(field, a, b)
}

func scalarsEqual(a, b any) bool {
	// Host scalars are comparable Go values (numbers, strings, bools).
	// Reference kinds never merge as scalars.
	defer func() { recover() }()
	return a == b
}

// validateInputs rejects uninitialized input leaves before either branch
// is invoked, naming the offending field.
func validateInputs(leaves []tree.Leaf, labels []string) error {
	for _, l := range leaves {
		if a, ok := l.Value.(*vex.Array); ok && !a.Valid() {
			return tree.Structuralf("field '%s' is uninitialized", fieldName(l, labels))
		}
	}
	return nil
}
