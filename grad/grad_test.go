package grad

import (
	"testing"

	"github.com/vexlabs/vex"
	"github.com/vexlabs/vex/tree"
)

// params is a registered struct holding a differentiable weight next to a
// non-differentiable counter.
type params struct {
	W any
	N any
}

func (p *params) FieldNames() []string { return []string{"w", "n"} }

func (p *params) Field(name string) any {
	if name == "w" {
		return p.W
	}
	return p.N
}

func (p *params) SetField(name string, v any) {
	if name == "w" {
		p.W = v
	} else {
		p.N = v
	}
}

func (p *params) CloneStruct() tree.Struct {
	cp := *p
	return &cp
}

func TestEnableDisable(t *testing.T) {
	p := &params{W: vex.Float64Of(1, 2), N: vex.Uint32Of(3)}

	on, err := Enabled(p)
	if err != nil {
		t.Fatal(err)
	}
	if on {
		t.Fatal("fresh tree must not be grad-enabled")
	}

	if err := Enable(p); err != nil {
		t.Fatal(err)
	}
	on, _ = Enabled(p)
	if !on {
		t.Fatal("enable must set the flag on the float leaf")
	}
	if p.N.(*vex.Array).GradEnabled() {
		t.Error("non-differentiable leaf must be silently skipped")
	}

	// Idempotent in both directions.
	if err := Enable(p); err != nil {
		t.Fatal(err)
	}
	on, _ = Enabled(p)
	if !on {
		t.Fatal("enable must be idempotent")
	}
	if err := Disable(p); err != nil {
		t.Fatal(err)
	}
	on, _ = Enabled(p)
	if on {
		t.Fatal("disable must clear the flag")
	}
	if err := Disable(p); err != nil {
		t.Fatal(err)
	}
	on, _ = Enabled(p)
	if on {
		t.Fatal("disable must be idempotent")
	}
}

func TestEnabledAcrossArguments(t *testing.T) {
	a := vex.Float64Of(1)
	b := vex.Float64Of(2)
	if err := Enable(b); err != nil {
		t.Fatal(err)
	}
	on, err := Enabled(a, map[string]any{"x": b})
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("any flagged leaf across all arguments must report true")
	}
}

func TestGradDefaultsToZeros(t *testing.T) {
	w := vex.Float64Of(1, 2, 3)
	g := Grad(w)
	if g.Size() != w.Size() {
		t.Fatalf("default gradient size %d, want %d", g.Size(), w.Size())
	}
	for i, v := range g.Float64s() {
		if v != 0 {
			t.Errorf("lane %d: got %v, want 0", i, v)
		}
	}
}

func TestSetAndAccum(t *testing.T) {
	t.Run("SetOverwrites", func(t *testing.T) {
		w := vex.Float64Of(1, 2)
		if err := AccumGrad(w, vex.Float64Of(5, 5)); err != nil {
			t.Fatal(err)
		}
		if err := SetGrad(w, vex.Float64Of(1, 1)); err != nil {
			t.Fatal(err)
		}
		got := Grad(w).Float64s()
		if got[0] != 1 || got[1] != 1 {
			t.Errorf("set must not accumulate, got %v", got)
		}
	})

	t.Run("AccumIsAdditive", func(t *testing.T) {
		w1 := vex.Float64Of(0, 0)
		if err := AccumGrad(w1, vex.Float64Of(1, 2)); err != nil {
			t.Fatal(err)
		}
		if err := AccumGrad(w1, vex.Float64Of(3, 4)); err != nil {
			t.Fatal(err)
		}

		w2 := vex.Float64Of(0, 0)
		if err := AccumGrad(w2, vex.Float64Of(4, 6)); err != nil {
			t.Fatal(err)
		}

		g1, g2 := Grad(w1).Float64s(), Grad(w2).Float64s()
		for i := range g1 {
			if g1[i] != g2[i] {
				t.Errorf("lane %d: split accumulation %v != single %v", i, g1[i], g2[i])
			}
		}
	})

	t.Run("SetBroadcastsNarrowValue", func(t *testing.T) {
		w := vex.Float64Of(1, 2, 3)
		if err := SetGrad(w, vex.Float64Of(7)); err != nil {
			t.Fatal(err)
		}
		g := Grad(w)
		if g.Size() != 3 {
			t.Fatalf("broadcast gradient size %d, want 3", g.Size())
		}
		for i, v := range g.Float64s() {
			if v != 7 {
				t.Errorf("lane %d: got %v, want 7", i, v)
			}
		}
	})
}

func TestDetach(t *testing.T) {
	p := &params{W: vex.Float64Of(1, 2), N: vex.Uint32Of(3)}
	if err := Enable(p); err != nil {
		t.Fatal(err)
	}
	if err := SetGrad(p, vex.Float64Of(9)); err != nil {
		t.Fatal(err)
	}

	t.Run("PreserveType", func(t *testing.T) {
		d, err := Detach(p, true)
		if err != nil {
			t.Fatal(err)
		}
		dp, ok := d.(*params)
		if !ok {
			t.Fatalf("detached value is %T, want *params", d)
		}
		if dp == p {
			t.Fatal("detach must copy, not alias")
		}
		on, _ := Enabled(dp)
		if on {
			t.Error("detached copy must not be grad-enabled")
		}
		if dp.W.(*vex.Array).RawGrad() != nil {
			t.Error("detached copy must drop the shadow gradient")
		}
		// The source is untouched.
		on, _ = Enabled(p)
		if !on {
			t.Error("detach must leave the source's flag set")
		}
		if p.W.(*vex.Array).RawGrad() == nil {
			t.Error("detach must leave the source's shadow gradient")
		}
	})

	t.Run("LoweredType", func(t *testing.T) {
		d, err := Detach(p, false)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := d.(map[string]any); !ok {
			t.Fatalf("lowered detach is %T, want map[string]any", d)
		}
	})
}

func TestGradTree(t *testing.T) {
	x := []any{vex.Float64Of(1, 2), vex.Uint32Of(7)}
	if err := SetGrad(x, vex.Float64Of(3)); err != nil {
		t.Fatal(err)
	}
	g, err := GradTree(x)
	if err != nil {
		t.Fatal(err)
	}
	gs := g.([]any)
	if got := gs[0].(*vex.Array).Float64s(); got[0] != 3 || got[1] != 3 {
		t.Errorf("gradient leaf wrong: %v", got)
	}
	if gs[1] != x[1] {
		t.Error("non-differentiable leaf must pass through untouched")
	}
}
