// Package execstate holds the mutable execution state of a run: the
// partition of every package into pending/ready/running/completed/failed/
// skipped, plus the result and failure types the executor and recovery
// manager exchange. It is owned exclusively by the task pool (or, offline,
// by the recovery manager) — every other component receives it by read-only
// reference.
package execstate

import (
	"sort"
	"time"
)

// RunningPackage tracks a package currently executing.
type RunningPackage struct {
	Name        string        `yaml:"name"`
	StartTime   time.Time     `yaml:"startTime"`
	ElapsedTime time.Duration `yaml:"elapsedTime"`
}

// FailedPackageSnapshot records everything needed to display, recover, or
// re-evaluate a permanently failed package.
type FailedPackageSnapshot struct {
	Name          string    `yaml:"name"`
	ErrorMessage  string    `yaml:"errorMessage"`
	Stack         string    `yaml:"stack,omitempty"`
	IsRetriable   bool      `yaml:"isRetriable"`
	AttemptNumber int       `yaml:"attemptNumber"`
	FailedAt      time.Time `yaml:"failedAt"`
	Dependencies  []string  `yaml:"dependencies,omitempty"`
	Dependents    []string  `yaml:"dependents,omitempty"`
}

// PackageResult is returned by the injected per-package operation.
type PackageResult struct {
	Success          bool           `yaml:"success"`
	PublishedVersion string         `yaml:"publishedVersion,omitempty"`
	Duration         time.Duration  `yaml:"duration,omitempty"`
	Metadata         map[string]any `yaml:"metadata,omitempty"`
}

// State partitions every package in the graph into exactly one of six sets.
type State struct {
	Pending   []string                 `yaml:"pending"`
	Ready     []string                 `yaml:"ready"`
	Running   []RunningPackage         `yaml:"running"`
	Completed map[string]struct{}      `yaml:"-"`
	Failed    []FailedPackageSnapshot  `yaml:"failed"`
	Skipped   map[string]struct{}      `yaml:"-"`

	// CompletedList/SkippedList are the serialization-friendly mirrors of the
	// Completed/Skipped sets (YAML has no native set type); kept in sync by
	// Normalize/Denormalize around save/load boundaries.
	CompletedList []string `yaml:"completed"`
	SkippedList   []string `yaml:"skipped"`
}

// New builds a fresh State with every package in packages pending.
func New(packages []string) *State {
	s := &State{
		Pending:   append([]string(nil), packages...),
		Completed: make(map[string]struct{}),
		Skipped:   make(map[string]struct{}),
	}
	return s
}

// Normalize mirrors the Completed/Skipped sets into their list fields, ready
// for YAML encoding.
func (s *State) Normalize() {
	s.CompletedList = setToSortedSlice(s.Completed)
	s.SkippedList = setToSortedSlice(s.Skipped)
}

// Denormalize rebuilds the Completed/Skipped sets from their decoded list
// fields; called after YAML decoding.
func (s *State) Denormalize() {
	s.Completed = sliceToSet(s.CompletedList)
	s.Skipped = sliceToSet(s.SkippedList)
}

func setToSortedSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(s []string) map[string]struct{} {
	m := make(map[string]struct{}, len(s))
	for _, v := range s {
		m[v] = struct{}{}
	}
	return m
}

// PartitionOf returns which partition name currently occupies, or "" if it
// is in none (a bug: every package must be in exactly one).
func (s *State) PartitionOf(name string) string {
	for _, p := range s.Pending {
		if p == name {
			return "pending"
		}
	}
	for _, p := range s.Ready {
		if p == name {
			return "ready"
		}
	}
	for _, r := range s.Running {
		if r.Name == name {
			return "running"
		}
	}
	if _, ok := s.Completed[name]; ok {
		return "completed"
	}
	for _, f := range s.Failed {
		if f.Name == name {
			return "failed"
		}
	}
	if _, ok := s.Skipped[name]; ok {
		return "skipped"
	}
	return ""
}

// RemoveFromPending removes name from Pending, reporting whether it was
// present.
func (s *State) RemoveFromPending(name string) bool {
	for i, p := range s.Pending {
		if p == name {
			s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveFromReady removes name from Ready, reporting whether it was present.
func (s *State) RemoveFromReady(name string) bool {
	for i, p := range s.Ready {
		if p == name {
			s.Ready = append(s.Ready[:i], s.Ready[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveFromRunning removes name from Running, returning the entry removed.
func (s *State) RemoveFromRunning(name string) (RunningPackage, bool) {
	for i, r := range s.Running {
		if r.Name == name {
			s.Running = append(s.Running[:i], s.Running[i+1:]...)
			return r, true
		}
	}
	return RunningPackage{}, false
}

// RemoveFromFailed removes the failed snapshot for name, returning it.
func (s *State) RemoveFromFailed(name string) (FailedPackageSnapshot, bool) {
	for i, f := range s.Failed {
		if f.Name == name {
			s.Failed = append(s.Failed[:i], s.Failed[i+1:]...)
			return f, true
		}
	}
	return FailedPackageSnapshot{}, false
}

// RemoveFromAnyPartition removes name from whichever partition currently
// holds it (used by recovery operations that relocate a package).
func (s *State) RemoveFromAnyPartition(name string) {
	s.RemoveFromPending(name)
	s.RemoveFromReady(name)
	s.RemoveFromRunning(name)
	s.RemoveFromFailed(name)
	delete(s.Completed, name)
	delete(s.Skipped, name)
}

// Metrics is the point-in-time snapshot of timing/concurrency statistics for
// a run.
type Metrics struct {
	TotalDuration          time.Duration `yaml:"totalDuration"`
	AveragePackageDuration time.Duration `yaml:"averagePackageDuration"`
	PeakConcurrency        int           `yaml:"peakConcurrency"`
	AverageConcurrency     float64       `yaml:"averageConcurrency"`
}
