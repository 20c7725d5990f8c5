// Package disasm renders recorded conditional programs as aligned text
// listings or YAML, for trace inspection and debugging.
package disasm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"github.com/vexlabs/vex"
)

const (
	ansiReset  = "\x1b[0m"
	ansiOp     = "\x1b[36m"
	ansiDirect = "\x1b[33m"
	ansiHead   = "\x1b[1m"
)

// Listing renders a node description as an aligned two-column listing:
// opcode, then operands/result. Direct side effects are tagged [direct].
func Listing(desc vex.NodeDesc, color bool) string {
	var b strings.Builder
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}

	opWidth := 0
	for _, ops := range [][]vex.OpDesc{desc.True, desc.False} {
		for _, op := range ops {
			if w := runewidth.StringWidth(op.Code); w > opWidth {
				opWidth = w
			}
		}
	}

	writeOps := func(header string, ops []vex.OpDesc) {
		b.WriteString(paint(ansiHead, header))
		b.WriteByte('\n')
		if len(ops) == 0 {
			b.WriteString("  (empty)\n")
			return
		}
		for _, op := range ops {
			b.WriteString("  ")
			b.WriteString(paint(ansiOp, runewidth.FillRight(op.Code, opWidth)))
			b.WriteByte(' ')
			b.WriteString(strings.Join(op.Operands, ", "))
			if op.Result != "" {
				b.WriteString(" -> ")
				b.WriteString(op.Result)
			}
			if op.Target != "" {
				b.WriteString(" => ")
				b.WriteString(op.Target)
			}
			if op.Direct {
				b.WriteByte(' ')
				b.WriteString(paint(ansiDirect, "[direct]"))
			}
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "cond: %s\n", desc.Cond)
	writeOps("true_fn:", desc.True)
	writeOps("false_fn:", desc.False)
	if len(desc.Outputs) > 0 {
		fmt.Fprintf(&b, "outputs: %s\n", strings.Join(desc.Outputs, ", "))
	}
	return b.String()
}

// WriteListing renders node to w, coloring the output when w is a
// terminal.
func WriteListing(w io.Writer, node *vex.CondNode) error {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	_, err := io.WriteString(w, Listing(node.Describe(), color))
	return err
}

// MarshalYAML renders node as a YAML document for machine consumption.
func MarshalYAML(node *vex.CondNode) ([]byte, error) {
	return yaml.Marshal(node.Describe())
}
