// Package schedule selects, from the set of ready packages, the next
// candidates to launch given a number of free slots, by a deterministic
// priority order.
package schedule

import (
	"sort"

	"github.com/calenvarek/kodrdriv/internal/depcheck"
	"github.com/calenvarek/kodrdriv/internal/execstate"
)

// Scheduler chooses ready packages to launch next, in priority order.
type Scheduler struct {
	checker *depcheck.Checker
}

// New returns a Scheduler backed by checker.
func New(checker *depcheck.Checker) *Scheduler {
	return &Scheduler{checker: checker}
}

// priorFailureCount counts how many times pkg has previously failed, per the
// retry-count map threaded in from the task pool.
func priorFailureCount(pkg string, retryCounts map[string]int) int {
	return retryCounts[pkg]
}

// priority favors packages with more dependents (unblocking the most other
// work), penalizes depth in the graph and prior failures, and gives leaf
// packages (no dependents) a small bump so they don't linger behind deep
// chains forever:
//
//	priority(p) =   100 * dependentCount(p)
//	             -  10  * depth(p)
//	             +   5  if p is a leaf (no dependents)
//	             -  50  * priorFailureCount(p)
func (s *Scheduler) priority(pkg string, retryCounts map[string]int) int {
	score := 100*s.checker.GetDependentCount(pkg) - 10*s.checker.GetDepth(pkg)
	if !s.checker.HasDependents(pkg) {
		score += 5
	}
	score -= 50 * priorFailureCount(pkg, retryCounts)
	return score
}

// Next returns up to freeSlots names drawn from state.Ready, ordered by
// non-increasing priority, ties broken by insertion order in Ready (a stable
// sort over the original index achieves this).
func (s *Scheduler) Next(freeSlots int, state *execstate.State, retryCounts map[string]int) []string {
	if freeSlots <= 0 || len(state.Ready) == 0 {
		return nil
	}

	type scored struct {
		name  string
		score int
		idx   int
	}
	candidates := make([]scored, len(state.Ready))
	for i, name := range state.Ready {
		candidates[i] = scored{name: name, score: s.priority(name, retryCounts), idx: i}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	n := freeSlots
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].name
	}
	return out
}

// PredictNextReady returns names currently in Pending whose non-running
// dependencies are all completed — the packages that will become ready as
// soon as the in-flight set drains.
func (s *Scheduler) PredictNextReady(state *execstate.State) []string {
	running := make(map[string]struct{}, len(state.Running))
	for _, r := range state.Running {
		running[r.Name] = struct{}{}
	}

	var out []string
	for _, name := range state.Pending {
		ready := true
		for _, dep := range s.dependenciesOf(name) {
			if _, isRunning := running[dep]; isRunning {
				continue
			}
			if _, completed := state.Completed[dep]; !completed {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, name)
		}
	}
	return out
}

func (s *Scheduler) dependenciesOf(pkg string) []string {
	return s.checker.Graph().Dependencies(pkg)
}
