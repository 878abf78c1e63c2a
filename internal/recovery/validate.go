package recovery

import "fmt"

// ValidationResult is the outcome of ValidateState.
type ValidationResult struct {
	Valid  bool
	Issues []string
}

// ValidateState checks the bound checkpoint's ExecutionState against the
// graph for four classes of inconsistency: packages missing from every
// partition, packages present in more than one partition, dangling names
// (in a partition but not in the graph), and failed entries whose recorded
// dependents have drifted from the graph's actual dependents.
func (m *Manager) ValidateState() ValidationResult {
	state := &m.cp.State
	counts := make(map[string]int)
	seenKnown := make(map[string]bool)

	record := func(name string) {
		counts[name]++
		if m.graph.Has(name) {
			seenKnown[name] = true
		}
	}
	for _, n := range state.Pending {
		record(n)
	}
	for _, n := range state.Ready {
		record(n)
	}
	for _, r := range state.Running {
		record(r.Name)
	}
	for n := range state.Completed {
		record(n)
	}
	for _, f := range state.Failed {
		record(f.Name)
	}
	for n := range state.Skipped {
		record(n)
	}

	var issues []string

	for _, name := range m.graph.Names() {
		if !seenKnown[name] {
			issues = append(issues, fmt.Sprintf("missing package: %q appears in no partition", name))
		}
	}

	for _, name := range sortedCopy(keysOf(counts)) {
		if counts[name] > 1 {
			issues = append(issues, fmt.Sprintf("multiple states: %q appears in %d partitions", name, counts[name]))
		}
		if !m.graph.Has(name) {
			issues = append(issues, fmt.Sprintf("dangling name: %q is not a package in the graph", name))
		}
	}

	for _, f := range state.Failed {
		if !m.graph.Has(f.Name) {
			continue // already reported as dangling above
		}
		actual := m.graph.Dependents(f.Name)
		if !sameSet(actual, f.Dependents) {
			issues = append(issues, fmt.Sprintf("failed package %q: recorded dependents %v do not match graph dependents %v", f.Name, f.Dependents, actual))
		}
	}

	return ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

func keysOf(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, x := range a {
		seen[x] = struct{}{}
	}
	for _, x := range b {
		if _, ok := seen[x]; !ok {
			return false
		}
	}
	return true
}
