// Package depcheck implements pure, read-only queries over a dependency
// graph and an execution state: readiness, depth, dependent counts, and the
// blocked set caused by a failure. Nothing here mutates its arguments.
package depcheck

import (
	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
)

// Checker answers dependency questions against a fixed graph, memoizing
// depth computations (which depend only on the graph, never on state).
type Checker struct {
	graph *pkggraph.Graph

	depthMemo map[string]int
}

// New returns a Checker bound to graph.
func New(graph *pkggraph.Graph) *Checker {
	return &Checker{graph: graph, depthMemo: make(map[string]int)}
}

// Graph returns the graph this checker is bound to.
func (c *Checker) Graph() *pkggraph.Graph { return c.graph }

// IsReady reports whether every direct dependency of pkg is completed. A
// dependency that is failed or skipped makes pkg permanently ineligible
// (it will be cascade-skipped by the task pool, not scheduled).
func (c *Checker) IsReady(pkg string, state *execstate.State) bool {
	for _, dep := range c.graph.Dependencies(pkg) {
		if _, ok := state.Completed[dep]; !ok {
			return false
		}
	}
	return true
}

// GetDependentCount returns the number of packages with a direct dependency
// on pkg.
func (c *Checker) GetDependentCount(pkg string) int {
	return len(c.graph.Dependents(pkg))
}

// GetDepth returns the longest path length from pkg back to any root (a
// package with no dependencies), memoized per Checker instance.
func (c *Checker) GetDepth(pkg string) int {
	if d, ok := c.depthMemo[pkg]; ok {
		return d
	}
	deps := c.graph.Dependencies(pkg)
	if len(deps) == 0 {
		c.depthMemo[pkg] = 0
		return 0
	}
	max := 0
	for _, dep := range deps {
		if d := c.GetDepth(dep); d+1 > max {
			max = d + 1
		}
	}
	c.depthMemo[pkg] = max
	return max
}

// HasDependencies reports whether pkg depends on anything.
func (c *Checker) HasDependencies(pkg string) bool {
	return len(c.graph.Dependencies(pkg)) > 0
}

// HasDependents reports whether anything depends on pkg.
func (c *Checker) HasDependents(pkg string) bool {
	return len(c.graph.Dependents(pkg)) > 0
}

// GetBlockedPackages returns the direct pending/ready dependents of failed —
// the immediate candidates for cascading skip. Transitive cascade is the
// caller's responsibility, built by repeated application or by using
// pkggraph.Graph.TransitiveDependents directly.
func (c *Checker) GetBlockedPackages(failed string, state *execstate.State) []string {
	var blocked []string
	for _, dep := range c.graph.Dependents(failed) {
		if contains(state.Pending, dep) || contains(state.Ready, dep) {
			blocked = append(blocked, dep)
		}
	}
	return blocked
}

// FindAllDependents returns the transitive closure of dependents of pkg.
func (c *Checker) FindAllDependents(pkg string) []string {
	return c.graph.TransitiveDependents(pkg)
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
