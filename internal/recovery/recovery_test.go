package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calenvarek/kodrdriv/internal/checkpoint"
	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
	"github.com/calenvarek/kodrdriv/internal/testutil"
)

// diamond builds A; B->A; C->A; D->B,C, the same fixture used across the
// dependency-graph test suites.
func diamond(t *testing.T) *pkggraph.Graph {
	t.Helper()
	g, err := pkggraph.Build([]pkggraph.Package{
		{Name: "A"},
		{Name: "B", Dependencies: []string{"A"}},
		{Name: "C", Dependencies: []string{"A"}},
		{Name: "D", Dependencies: []string{"B", "C"}},
	})
	require.NoError(t, err)
	return g
}

func saveCheckpoint(t *testing.T, path string, g *pkggraph.Graph, st *execstate.State) {
	t.Helper()
	mgr := checkpoint.New(path, nil)
	cp := &checkpoint.Checkpoint{
		ExecutionID:    "exec-1",
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		UpdatedAt:      time.Now().UTC().Truncate(time.Second),
		Command:        "release",
		Packages:       g.Packages(),
		Edges:          checkpoint.EdgesFromGraph(g),
		BuildOrder:     g.BuildOrder(),
		ExecutionMode:  "parallel",
		MaxConcurrency: 4,
		State:          *st,
		RetryCounts:    map[string]int{},
		Timings:        map[string]checkpoint.PackageTiming{},
	}
	require.NoError(t, mgr.Save(cp))
}

// Scenario 6: Recovery: skip-failed with cascade.
func TestSkipFailedCascades(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)

	st := execstate.New(g.BuildOrder())
	st.RemoveFromPending("A")
	st.Failed = []execstate.FailedPackageSnapshot{
		{Name: "A", ErrorMessage: "build broken beyond repair", IsRetriable: false, Dependents: g.Dependents("A")},
	}
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)
	require.NotNil(t, mgr)

	require.NoError(t, mgr.SkipFailed())

	cp := mgr.Checkpoint()
	require.Empty(t, cp.State.Failed)
	require.Contains(t, cp.State.Skipped, "A")
	require.Contains(t, cp.State.Skipped, "B")
	require.Contains(t, cp.State.Skipped, "C")
	require.Contains(t, cp.State.Skipped, "D")

	// re-loading from disk confirms the persisted artifact, not just memory.
	reloaded, err := Load(g, path, nil)
	require.NoError(t, err)
	require.Contains(t, reloaded.Checkpoint().State.Skipped, "D")
}

func TestMarkCompletedIdempotent(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.MarkCompleted([]string{"A"}))
	first := append([]string(nil), mgr.Checkpoint().State.Pending...)

	require.NoError(t, mgr.MarkCompleted([]string{"A"}))
	require.Contains(t, mgr.Checkpoint().State.Completed, "A")
	require.Equal(t, first, mgr.Checkpoint().State.Pending)
}

func TestMarkCompletedUnknownPackageFails(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	saveCheckpoint(t, path, g, execstate.New(g.BuildOrder()))

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	err = mgr.MarkCompleted([]string{"nonexistent"})
	require.ErrorIs(t, err, ErrPackageNotFound)
}

func TestSkipPackagesIdempotent(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	saveCheckpoint(t, path, g, execstate.New(g.BuildOrder()))

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.SkipPackages([]string{"A"}))
	require.NoError(t, mgr.SkipPackages([]string{"A"}))

	skipped := mgr.Checkpoint().State.Skipped
	require.Contains(t, skipped, "A")
	require.Contains(t, skipped, "B")
	require.Contains(t, skipped, "C")
	require.Contains(t, skipped, "D")
}

func TestResetPackageIdempotent(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.RemoveFromPending("A")
	st.Completed["A"] = struct{}{}
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)
	mgr.Checkpoint().RetryCounts["A"] = 2

	require.NoError(t, mgr.ResetPackage("A"))
	require.NotContains(t, mgr.Checkpoint().State.Completed, "A")
	// A has no dependencies, so refreshed readiness immediately promotes it
	// from pending to ready rather than leaving it queued behind nothing.
	require.Equal(t, "ready", mgr.Checkpoint().State.PartitionOf("A"))
	_, hasRetry := mgr.Checkpoint().RetryCounts["A"]
	require.False(t, hasRetry)

	readyAfterFirst := append([]string(nil), mgr.Checkpoint().State.Ready...)
	require.NoError(t, mgr.ResetPackage("A"))
	require.Equal(t, readyAfterFirst, mgr.Checkpoint().State.Ready)
}

func TestRetryFailedOnlyRetriableWithoutOverride(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.Failed = []execstate.FailedPackageSnapshot{
		{Name: "A", IsRetriable: true},
	}
	st.Pending = []string{"B", "C", "D"} // A removed from pending since it's failed
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)
	mgr.Checkpoint().RetryCounts["A"] = 2

	require.NoError(t, mgr.RetryFailed(nil))
	require.Empty(t, mgr.Checkpoint().State.Failed)
	// A has no dependencies, so it is immediately ready again rather than
	// sitting in pending.
	require.Equal(t, "ready", mgr.Checkpoint().State.PartitionOf("A"))
	_, hasRetry := mgr.Checkpoint().RetryCounts["A"]
	require.False(t, hasRetry)
}

func TestRetryFailedLeavesNonRetriableWithoutOverride(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.Failed = []execstate.FailedPackageSnapshot{
		{Name: "A", IsRetriable: false},
	}
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.RetryFailed(nil))
	require.Len(t, mgr.Checkpoint().State.Failed, 1)
	require.Equal(t, "A", mgr.Checkpoint().State.Failed[0].Name)
}

func TestRetryFailedOverrideRetriesNonRetriable(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.Failed = []execstate.FailedPackageSnapshot{
		{Name: "A", IsRetriable: false},
	}
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	override := 5
	require.NoError(t, mgr.RetryFailed(&RetryOptions{MaxRetriesOverride: &override}))
	require.Empty(t, mgr.Checkpoint().State.Failed)
	require.Equal(t, "ready", mgr.Checkpoint().State.PartitionOf("A"))
}

func TestValidateStateReportsMultipleStates(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.Ready = append(st.Ready, "A") // A now in both Pending and Ready
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	result := mgr.ValidateState()
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Issues)
}

func TestValidateStateReportsMissingPackage(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.RemoveFromPending("D") // D now in no partition at all
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	result := mgr.ValidateState()
	require.False(t, result.Valid)
}

func TestGenerateRecoveryHintsCoversEveryCondition(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.RemoveFromPending("A")
	st.RemoveFromPending("B")
	st.RemoveFromPending("C")
	// neither failed entry records its graph dependents, so ValidateState
	// reports an inconsistency as well.
	st.Failed = []execstate.FailedPackageSnapshot{
		{Name: "A", IsRetriable: true},
		{Name: "C", IsRetriable: false},
	}
	st.Running = []execstate.RunningPackage{
		{Name: "B", StartTime: time.Now().Add(-2 * time.Hour)},
	}
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	hints := mgr.GenerateRecoveryHints()
	require.NotEmpty(t, hints)

	joined := ""
	for _, h := range hints {
		joined += h + "\n"
	}
	require.Contains(t, joined, "--retry-failed")
	require.Contains(t, joined, "--skip-failed")
	require.Contains(t, joined, "stuck")
	require.Contains(t, joined, "--reset")
}

func TestShowStatusReportsCounts(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.RemoveFromPending("A")
	st.Completed["A"] = struct{}{}
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	report := mgr.ShowStatus()
	require.Contains(t, report, "Parallel Execution Status")
	require.Contains(t, report, "Completed: 1/4")
}

func TestApplyRecoveryOptionsFixedOrder(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)
	st := execstate.New(g.BuildOrder())
	st.RemoveFromPending("A")
	st.Completed["A"] = struct{}{}
	saveCheckpoint(t, path, g, st)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)

	// reset A back to pending, then immediately mark it completed again:
	// applying both in one call must leave A completed, proving reset runs
	// before markCompleted rather than the other way around.
	err = mgr.ApplyRecoveryOptions(RecoveryOptions{
		Reset:         []string{"A"},
		MarkCompleted: []string{"A"},
	})
	require.NoError(t, err)
	require.Contains(t, mgr.Checkpoint().State.Completed, "A")
}

func TestLoadReturnsNilWithoutCheckpoint(t *testing.T) {
	g := diamond(t)
	path := testutil.CheckpointPath(t)

	mgr, err := Load(g, path, nil)
	require.NoError(t, err)
	require.Nil(t, mgr)
}
