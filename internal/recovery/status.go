package recovery

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

func defaultIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stuckThreshold is how long a running entry can go without a corresponding
// completion before GenerateRecoveryHints calls it out as possibly stuck.
const stuckThreshold = time.Hour

// GenerateRecoveryHints emits one heuristic suggestion per condition
// satisfied: which recovery flag to reach for, and any entries that look
// stuck or inconsistent.
func (m *Manager) GenerateRecoveryHints() []string {
	state := &m.cp.State
	var hints []string

	hasRetriable, hasNonRetriable := false, false
	for _, f := range state.Failed {
		if f.IsRetriable {
			hasRetriable = true
		} else {
			hasNonRetriable = true
		}
	}
	if hasRetriable {
		hints = append(hints, "retriable failures present: consider --retry-failed")
	}
	if hasNonRetriable {
		hints = append(hints, "non-retriable failures present: consider --skip-failed")
	}

	now := m.now()
	for _, r := range state.Running {
		if now.Sub(r.StartTime) > stuckThreshold {
			hints = append(hints, fmt.Sprintf("%q has been running since %s and may be stuck", r.Name, r.StartTime.Format(time.RFC3339)))
		}
	}

	if v := m.ValidateState(); !v.Valid {
		hints = append(hints, "state inconsistencies detected: consider --reset")
	}

	return hints
}

// ShowStatus renders a human-readable report: Parallel Execution Status,
// per-partition counts, and current recovery hints. Output is a fixed-width
// report when stdout is not a terminal (e.g. piped to a log file) and a
// slightly wider one when it is — ShowStatus does no coloring or live
// countdown, that "progress UI" layer stays out of scope.
func (m *Manager) ShowStatus() string {
	state := &m.cp.State
	total := len(m.graph.Names())

	var b strings.Builder
	b.WriteString("Parallel Execution Status\n")
	if m.isTerminal != nil && m.isTerminal() {
		b.WriteString(strings.Repeat("=", 40) + "\n")
	} else {
		b.WriteString(strings.Repeat("-", 20) + "\n")
	}
	fmt.Fprintf(&b, "Completed: %d/%d\n", len(state.Completed), total)
	fmt.Fprintf(&b, "Running:   %d\n", len(state.Running))
	fmt.Fprintf(&b, "Pending:   %d\n", len(state.Pending))
	fmt.Fprintf(&b, "Ready:     %d\n", len(state.Ready))
	fmt.Fprintf(&b, "Failed:    %d\n", len(state.Failed))
	fmt.Fprintf(&b, "Skipped:   %d\n", len(state.Skipped))

	if hints := m.GenerateRecoveryHints(); len(hints) > 0 {
		b.WriteString("\nRecovery hints:\n")
		for _, h := range hints {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}

	return b.String()
}
