package vex

import (
	"bytes"
	"strings"
	"testing"
)

func TestConstructorStates(t *testing.T) {
	t.Run("SingleLaneIsLiteral", func(t *testing.T) {
		a := Uint32Of(4)
		if a.State() != StateLiteral {
			t.Errorf("expected literal, got %s", a.State())
		}
		if a.Size() != 1 {
			t.Errorf("expected size 1, got %d", a.Size())
		}
	})

	t.Run("MultiLaneIsEvaluated", func(t *testing.T) {
		a := Uint32Of(1, 2)
		if a.State() != StateEvaluated {
			t.Errorf("expected evaluated, got %s", a.State())
		}
	})

	t.Run("OpaqueIsNotLiteral", func(t *testing.T) {
		a := Opaque(Uint32, 2)
		if a.State() != StateEvaluated {
			t.Errorf("expected evaluated, got %s", a.State())
		}
		if a.IsLiteral() {
			t.Error("uniform-value detection must not see through an opaque array")
		}
		if a.ShallowCopy().IsLiteral() {
			t.Error("opacity must survive a shallow copy")
		}
	})

	t.Run("EmptyIsInvalid", func(t *testing.T) {
		a := Empty(Uint32)
		if a.Valid() {
			t.Error("empty array must be invalid")
		}
	})
}

func TestBinaryOps(t *testing.T) {
	t.Run("AddBroadcast", func(t *testing.T) {
		r, err := Add(Uint32Of(1, 2, 3), Uint32Of(10))
		if err != nil {
			t.Fatal(err)
		}
		got := r.Uint32s()
		want := []uint32{11, 12, 13}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("lane %d: got %d, want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("LiteralFolding", func(t *testing.T) {
		r, err := Add(Uint32Of(4), Uint32Of(1))
		if err != nil {
			t.Fatal(err)
		}
		if r.State() != StateLiteral {
			t.Errorf("literal + literal must stay literal, got %s", r.State())
		}
		if r.Uint32s()[0] != 5 {
			t.Errorf("got %d, want 5", r.Uint32s()[0])
		}
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		_, err := Add(Uint32Of(1, 2), Uint32Of(1, 2, 3))
		if err == nil || !strings.Contains(err.Error(), "incompatible sizes") {
			t.Fatalf("expected size error, got %v", err)
		}
	})

	t.Run("ComparisonYieldsMask", func(t *testing.T) {
		m, err := Gt(Uint32Of(1, 2, 3, 4), Uint32Of(2))
		if err != nil {
			t.Fatal(err)
		}
		if !m.DType().IsMask() {
			t.Fatalf("expected mask, got %s", m.DType())
		}
		got := m.Bools()
		want := []bool{false, false, true, true}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("lane %d: got %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("UninitializedOperand", func(t *testing.T) {
		_, err := Add(Empty(Uint32), Uint32Of(1))
		if err == nil || !strings.Contains(err.Error(), "uninitialized") {
			t.Fatalf("expected uninitialized error, got %v", err)
		}
	})
}

func TestSelect(t *testing.T) {
	r, err := Select(MaskOf(true, false), Uint32Of(5), Uint32Of(6))
	if err != nil {
		t.Fatal(err)
	}
	got := r.Uint32s()
	if got[0] != 5 || got[1] != 6 {
		t.Errorf("got %v, want [5 6]", got)
	}
}

func TestEagerScatter(t *testing.T) {
	t.Run("Unmasked", func(t *testing.T) {
		buf := Uint32Of(0, 0)
		if err := ScatterAdd(buf, Uint32Of(0), Uint32Of(1, 1, 1)); err != nil {
			t.Fatal(err)
		}
		if buf.Uint32s()[0] != 3 {
			t.Errorf("got %d, want 3", buf.Uint32s()[0])
		}
	})

	t.Run("UnderMaskScope", func(t *testing.T) {
		buf := Uint32Of(0, 0)
		if _, err := PushMaskScope(MaskOf(true, true, false)); err != nil {
			t.Fatal(err)
		}
		err := ScatterAdd(buf, Uint32Of(0), Uint32Of(1))
		PopScope()
		if err != nil {
			t.Fatal(err)
		}
		if buf.Uint32s()[0] != 2 {
			t.Errorf("got %d, want 2 (only active lanes may write)", buf.Uint32s()[0])
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		buf := Uint32Of(0, 0)
		err := Scatter(buf, Uint32Of(7), Uint32Of(1))
		if err == nil || !strings.Contains(err.Error(), "out of bounds") {
			t.Fatalf("expected bounds error, got %v", err)
		}
	})
}

func TestRecordingScope(t *testing.T) {
	t.Run("CapturesInsteadOfExecuting", func(t *testing.T) {
		x := Uint32Of(4)
		sc, err := PushRecordScope(MaskOf(true, false), nil)
		if err != nil {
			t.Fatal(err)
		}
		r, err := Add(x, Uint32Of(1))
		PopScope()
		if err != nil {
			t.Fatal(err)
		}
		if r.State() != StateUnevaluated {
			t.Errorf("recorded result must be unevaluated, got %s", r.State())
		}
		if sc.Fragment().Len() != 1 {
			t.Errorf("fragment has %d ops, want 1", sc.Fragment().Len())
		}
		if err := r.Eval(); err == nil {
			t.Error("reading an unbound placeholder must fail")
		}
	})

	t.Run("DirectMarker", func(t *testing.T) {
		var trace bytes.Buffer
		buf := Uint32Of(0, 0)
		if _, err := PushRecordScope(MaskOf(true, false), &trace); err != nil {
			t.Fatal(err)
		}
		err1 := ScatterAdd(buf, Uint32Of(0), Uint32Of(1))
		err2 := ScatterAddMasked(buf, Uint32Of(1), Uint32Of(1), MaskOf(true, true))
		PopScope()
		if err1 != nil || err2 != nil {
			t.Fatal(err1, err2)
		}
		if got := strings.Count(trace.String(), "[direct]"); got != 1 {
			t.Errorf("got %d direct markers, want 1 (the masked scatter needs a copy)", got)
		}
	})
}

func TestCondNodeExecution(t *testing.T) {
	cond := MaskOf(true, false)
	x := Uint32Of(4)

	scT, err := PushRecordScope(cond, nil)
	if err != nil {
		t.Fatal(err)
	}
	tRes, errT := Add(x, Uint32Of(1))
	PopScope()
	if errT != nil {
		t.Fatal(errT)
	}

	notCond, err := Not(cond)
	if err != nil {
		t.Fatal(err)
	}
	scF, err := PushRecordScope(notCond, nil)
	if err != nil {
		t.Fatal(err)
	}
	fRes, errF := Add(x, Uint32Of(2))
	PopScope()
	if errF != nil {
		t.Fatal(errF)
	}

	node := NewCondNode(cond)
	node.Finalize(scT.Fragment(), scF.Fragment())
	out := node.BindOutput(tRes, fRes)

	if out.State() != StateUnevaluated {
		t.Fatalf("output must be a deferred placeholder, got %s", out.State())
	}
	got := out.Uint32s()
	if got[0] != 5 || got[1] != 6 {
		t.Errorf("got %v, want [5 6]", got)
	}
	if out.State() != StateEvaluated {
		t.Errorf("execution must leave the output evaluated, got %s", out.State())
	}
}

func TestSameStorage(t *testing.T) {
	a := Uint32Of(1, 2)
	b := a.ShallowCopy()
	c := Uint32Of(1, 2)
	if !SameStorage(a, b) {
		t.Error("shallow copy must share storage")
	}
	if SameStorage(a, c) {
		t.Error("value-equal arrays must not count as identical")
	}
}
