// Package recovery implements RecoveryManager, the offline counterpart to
// taskpool.Pool: it mutates a previously-saved Checkpoint without running
// any operation, backing the CLI's recovery commands (retry-failed,
// skip-failed, reset, mark-completed, skip, status, validate). Every
// mutating method persists the checkpoint before returning, the same way
// the teacher's batch scheduler never leaves in-memory state diverged from
// the file on disk for more than one step.
package recovery

import (
	"errors"
	"sort"
	"time"

	"golang.org/x/xerrors"

	"github.com/calenvarek/kodrdriv/internal/checkpoint"
	"github.com/calenvarek/kodrdriv/internal/depcheck"
	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/kodrlog"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
)

// ErrPackageNotFound is returned when a recovery operation names a package
// absent from the bound graph.
var ErrPackageNotFound = errors.New("recovery: package not found")

// Manager operates offline on a loaded Checkpoint, a Graph, and the
// CheckpointManager used to persist mutations back to disk.
type Manager struct {
	graph   *pkggraph.Graph
	checker *depcheck.Checker
	ckptMgr *checkpoint.Manager
	log     *kodrlog.Logger

	cp *checkpoint.Checkpoint

	// now and isTerminal are indirected for tests; see status.go.
	now        func() time.Time
	isTerminal func() bool
}

// Load returns a Manager bound to the checkpoint at path, or (nil, nil) if
// no checkpoint exists.
func Load(graph *pkggraph.Graph, path string, log *kodrlog.Logger) (*Manager, error) {
	if log == nil {
		log = kodrlog.Nop()
	}
	mgr := checkpoint.New(path, log)
	cp, err := mgr.Load()
	if err != nil {
		return nil, xerrors.Errorf("recovery: load checkpoint: %w", err)
	}
	if cp == nil {
		return nil, nil
	}
	return &Manager{
		graph:      graph,
		checker:    depcheck.New(graph),
		ckptMgr:    mgr,
		log:        log,
		cp:         cp,
		now:        time.Now,
		isTerminal: defaultIsTerminal,
	}, nil
}

// Checkpoint returns the checkpoint this Manager currently holds, reflecting
// every mutation applied so far.
func (m *Manager) Checkpoint() *checkpoint.Checkpoint { return m.cp }

func (m *Manager) persist() error {
	m.cp.CanRecover = len(m.cp.State.Failed) > 0 || len(m.cp.State.Skipped) > 0
	m.cp.RecoveryHints = m.GenerateRecoveryHints()
	if err := m.ckptMgr.Save(m.cp); err != nil {
		return xerrors.Errorf("recovery: persist: %w", err)
	}
	return nil
}

func (m *Manager) requireKnown(names []string) error {
	for _, name := range names {
		if !m.graph.Has(name) {
			return xerrors.Errorf("%s: %w", name, ErrPackageNotFound)
		}
	}
	return nil
}

// refreshReady moves every pending package whose dependencies are all
// completed into ready, in their Pending order, mirroring taskpool.Pool.refreshReady
// so the two never disagree on what "ready" means.
func (m *Manager) refreshReady() {
	state := &m.cp.State
	var stillPending []string
	for _, name := range state.Pending {
		if m.checker.IsReady(name, state) {
			state.Ready = append(state.Ready, name)
		} else {
			stillPending = append(stillPending, name)
		}
	}
	state.Pending = stillPending
}

// MarkCompleted moves every named package into completed, removing it from
// whatever partition currently holds it, then re-evaluates readiness.
func (m *Manager) MarkCompleted(names []string) error {
	if err := m.requireKnown(names); err != nil {
		return err
	}
	for _, name := range names {
		m.cp.State.RemoveFromAnyPartition(name)
		m.cp.State.Completed[name] = struct{}{}
	}
	m.refreshReady()
	return m.persist()
}

// SkipPackages adds every named package, plus all of its transitive
// dependents, to skipped — idempotent: a package already skipped is left
// alone.
func (m *Manager) SkipPackages(names []string) error {
	if err := m.requireKnown(names); err != nil {
		return err
	}
	for _, name := range names {
		m.skipOne(name)
	}
	return m.persist()
}

func (m *Manager) skipOne(name string) {
	state := &m.cp.State
	toSkip := append([]string{name}, m.checker.FindAllDependents(name)...)
	for _, n := range toSkip {
		if _, already := state.Skipped[n]; already {
			continue
		}
		state.RemoveFromAnyPartition(n)
		state.Skipped[n] = struct{}{}
	}
}

// ResetPackage removes name from every partition, re-queues it as pending,
// and discards its retry count and recorded timing.
func (m *Manager) ResetPackage(name string) error {
	if err := m.requireKnown([]string{name}); err != nil {
		return err
	}
	state := &m.cp.State
	state.RemoveFromAnyPartition(name)
	state.Pending = append(state.Pending, name)
	delete(m.cp.RetryCounts, name)
	delete(m.cp.Timings, name)
	m.refreshReady()
	return m.persist()
}

// RetryOptions tunes RetryFailed. A nil MaxRetriesOverride retries only
// entries already marked retriable; a non-nil override retries every failed
// entry regardless of IsRetriable.
type RetryOptions struct {
	MaxRetriesOverride *int
}

// RetryFailed moves every retriable failed entry (or every failed entry, if
// opts overrides maxRetries) back to pending with its retry counter reset.
// Non-retriable entries are left untouched when no override is given.
func (m *Manager) RetryFailed(opts *RetryOptions) error {
	state := &m.cp.State
	override := opts != nil && opts.MaxRetriesOverride != nil

	var kept []execstate.FailedPackageSnapshot
	for _, f := range state.Failed {
		if f.IsRetriable || override {
			state.Pending = append(state.Pending, f.Name)
			delete(m.cp.RetryCounts, f.Name)
			continue
		}
		kept = append(kept, f)
	}
	state.Failed = kept
	m.refreshReady()
	return m.persist()
}

// SkipFailed removes every entry from failed and applies SkipPackages to
// each of their names (which also skips their transitive dependents).
func (m *Manager) SkipFailed() error {
	state := &m.cp.State
	names := make([]string, 0, len(state.Failed))
	for _, f := range state.Failed {
		names = append(names, f.Name)
	}
	state.Failed = nil
	for _, name := range names {
		m.skipOne(name)
	}
	return m.persist()
}

// RecoveryOptions bundles every recovery flag for ApplyRecoveryOptions,
// applied in a fixed order: reset, then markCompleted, then skipPackages,
// then retryFailed, then skipFailed.
type RecoveryOptions struct {
	Reset         []string
	MarkCompleted []string
	SkipPackages  []string
	RetryFailed   *RetryOptions // nil: do not retry
	SkipFailed    bool
}

// ApplyRecoveryOptions applies every populated field of opts in the fixed
// order the spec requires, stopping at the first error.
func (m *Manager) ApplyRecoveryOptions(opts RecoveryOptions) error {
	for _, name := range opts.Reset {
		if err := m.ResetPackage(name); err != nil {
			return err
		}
	}
	if len(opts.MarkCompleted) > 0 {
		if err := m.MarkCompleted(opts.MarkCompleted); err != nil {
			return err
		}
	}
	if len(opts.SkipPackages) > 0 {
		if err := m.SkipPackages(opts.SkipPackages); err != nil {
			return err
		}
	}
	if opts.RetryFailed != nil {
		if err := m.RetryFailed(opts.RetryFailed); err != nil {
			return err
		}
	}
	if opts.SkipFailed {
		if err := m.SkipFailed(); err != nil {
			return err
		}
	}
	return nil
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
