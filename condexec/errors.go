package condexec

import (
	"fmt"

	"github.com/vexlabs/vex"
)

// ConsistencyError reports a type, size, or scalar/array mismatch between
// the two branch results of a conditional. It is raised before any merge
// is attempted; no partial result is ever produced.
type ConsistencyError struct {
	Field string
	msg   string
}

func (e *ConsistencyError) Error() string { return e.msg }

func errInconsistentTypes(field string, a, b vex.DType) *ConsistencyError {
	return &ConsistencyError{
		Field: field,
		msg:   fmt.Sprintf("branch results have inconsistent types for field '%s' (%s and %s)", field, a, b),
	}
}

func errIncompatibleSizes(field string, a, b int) *ConsistencyError {
	return &ConsistencyError{
		Field: field,
		msg:   fmt.Sprintf("branch results have incompatible sizes (%d and %d) for field '%s'", a, b, field),
	}
}

func errInconsistentScalar(field string, v any) *ConsistencyError {
	return &ConsistencyError{
		Field: field,
		msg:   fmt.Sprintf("inconsistent scalar value of type '%T' for field '%s': a field must either be a batched array on every control path, or the same host value on all of them", v, field),
	}
}

// BranchError wraps a failure raised inside a user-supplied branch
// callable. The original error is retained as the cause and reachable via
// errors.Unwrap / errors.Is / errors.As.
type BranchError struct {
	Branch string // "true_fn" or "false_fn"
	Err    error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%s raised an exception: %v", e.Branch, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }
