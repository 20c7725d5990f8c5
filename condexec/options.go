package condexec

import "io"

// Mode selects how IfStmt reconciles divergent per-lane control flow.
type Mode int

const (
	// AutoMode picks ScalarMode for a plain boolean condition and
	// SymbolicMode for a mask.
	AutoMode Mode = iota
	// ScalarMode invokes exactly one branch; no merge, no consistency check.
	ScalarMode
	// EvaluatedMode runs both branches eagerly against materialized values
	// and merges per lane.
	EvaluatedMode
	// SymbolicMode records both branches into a deferred conditional node.
	SymbolicMode
)

func (m Mode) String() string {
	switch m {
	case AutoMode:
		return "auto"
	case ScalarMode:
		return "scalar"
	case EvaluatedMode:
		return "evaluated"
	case SymbolicMode:
		return "symbolic"
	default:
		return "unknown"
	}
}

// Options configures one IfStmt call.
type Options struct {
	Mode Mode

	// RVLabels names the positional result fields for diagnostics. When
	// absent, fields are named by index.
	RVLabels []string

	// AllowScalarBroadcast permits a size-1 leaf in one branch to broadcast
	// against a size-N counterpart. Any non-size-1 mismatch is an error
	// regardless of this flag.
	AllowScalarBroadcast bool

	// TraceWriter receives one "[direct]" marker per direct (non-copying)
	// side-effect capture in symbolic mode. Nil disables the channel.
	TraceWriter io.Writer

	// Logging configuration
	LogLevel      string // "error", "warn", "info", "debug" (default: "warn")
	LogTimeFormat string // strftime pattern for log timestamps
	Logger        Logger // overrides LogLevel when set
}

// DefaultOptions returns the default configuration for IfStmt.
func DefaultOptions() Options {
	return Options{
		Mode:                 AutoMode,
		AllowScalarBroadcast: true,
		LogLevel:             "warn",
		LogTimeFormat:        "%Y-%m-%dT%H:%M:%S.%f",
	}
}
