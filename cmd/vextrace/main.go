// Command vextrace records a small symbolic conditional and dumps its
// deferred program, as an aligned listing or as YAML.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vexlabs/vex"
	"github.com/vexlabs/vex/condexec"
	"github.com/vexlabs/vex/pkg/disasm"
)

func main() {
	asYAML := flag.Bool("yaml", false, "emit the recorded program as YAML")
	flag.Parse()

	x := vex.Uint32Of(4)
	buf := vex.Uint32Of(0, 0)
	cond := vex.MaskOf(true, true, true, false, false)

	trueFn := func(args ...any) (any, error) {
		x := args[0].(*vex.Array)
		if err := vex.ScatterAdd(buf, vex.Uint32Of(0), vex.Uint32Of(1)); err != nil {
			return nil, err
		}
		return vex.Add(x, vex.Uint32Of(1))
	}
	falseFn := func(args ...any) (any, error) {
		x := args[0].(*vex.Array)
		if err := vex.ScatterAdd(buf, vex.Uint32Of(1), vex.Uint32Of(1)); err != nil {
			return nil, err
		}
		return vex.Add(x, vex.Uint32Of(2))
	}

	r, err := condexec.IfStmt([]any{x}, cond, trueFn, falseFn, condexec.Options{
		Mode:                 condexec.SymbolicMode,
		AllowScalarBroadcast: true,
		TraceWriter:          os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "vextrace:", err)
		os.Exit(1)
	}

	out := r.(*vex.Array)
	node := out.Node()
	if node == nil {
		fmt.Fprintln(os.Stderr, "vextrace: result is not bound to a deferred node")
		os.Exit(1)
	}

	if *asYAML {
		doc, err := disasm.MarshalYAML(node)
		if err != nil {
			fmt.Fprintln(os.Stderr, "vextrace:", err)
			os.Exit(1)
		}
		os.Stdout.Write(doc)
	} else if err := disasm.WriteListing(os.Stdout, node); err != nil {
		fmt.Fprintln(os.Stderr, "vextrace:", err)
		os.Exit(1)
	}

	fmt.Printf("\nresult lanes: %v\n", out.Uint32s())
	fmt.Printf("buf lanes:    %v\n", buf.Uint32s())
}
