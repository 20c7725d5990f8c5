package vex

import "io"

// Scope gates operation dispatch. A recording scope captures every op into
// its fragment instead of executing it; an eager mask scope lets side
// effects apply immediately but restricted to the scope's active lanes.
//
// Scope construction is single-threaded by contract: branches of a
// conditional run strictly sequentially, so a plain package-level stack
// needs no locking.
type Scope struct {
	mask   *Array
	frag   *Fragment
	trace  io.Writer
	parent *Scope
}

var current *Scope

// currentScope returns the innermost active scope, or nil.
func currentScope() *Scope { return current }

// recordingScope returns the innermost scope if it is recording, nil
// otherwise. An eager mask scope does not capture pure ops.
func recordingScope() *Scope {
	if current != nil && current.frag != nil {
		return current
	}
	return nil
}

// Recording reports whether a recording scope is currently open.
func Recording() bool { return recordingScope() != nil }

// PushRecordScope opens a recording scope under the given sub-mask. Every
// op dispatched until the matching PopScope is appended to the returned
// scope's fragment. Nested scopes AND their masks together. The trace
// writer receives one "[direct]" marker per direct side-effect capture;
// it may be nil.
func PushRecordScope(mask *Array, trace io.Writer) (*Scope, error) {
	combined, err := combineMasks(parentMask(), mask)
	if err != nil {
		return nil, err
	}
	sc := &Scope{
		mask:   combined,
		frag:   newFragment(combined),
		trace:  trace,
		parent: current,
	}
	current = sc
	return sc, nil
}

// PushMaskScope opens an eager scope: ops still execute immediately, but
// side-effect writes only touch the scope's active lanes.
func PushMaskScope(mask *Array) (*Scope, error) {
	combined, err := combineMasks(parentMask(), mask)
	if err != nil {
		return nil, err
	}
	sc := &Scope{mask: combined, parent: current}
	current = sc
	return sc, nil
}

// PopScope closes the innermost scope. Popping an empty stack panics; that
// is a bracketing bug in the caller, not a runtime condition.
func PopScope() *Scope {
	if current == nil {
		panic("scope stack underflow")
	}
	sc := current
	current = sc.parent
	return sc
}

// Mask returns the scope's combined active mask.
func (sc *Scope) Mask() *Array { return sc.mask }

// Fragment returns the captured program, or nil for an eager scope.
func (sc *Scope) Fragment() *Fragment { return sc.frag }

func (sc *Scope) emitDirectMarker() {
	if sc.trace != nil {
		io.WriteString(sc.trace, "[direct]\n")
	}
}

func parentMask() *Array {
	if current == nil {
		return nil
	}
	return current.mask
}
