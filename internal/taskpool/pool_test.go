package taskpool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
	"github.com/calenvarek/kodrdriv/internal/testutil"
)

func mustGraph(t *testing.T, packages []pkggraph.Package) *pkggraph.Graph {
	t.Helper()
	g, err := pkggraph.Build(packages)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func alwaysSucceed(delay time.Duration) Operation {
	return OperationFunc(func(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		return execstate.PackageResult{Success: true}, nil
	})
}

// orderTracker records the order packages started, under a mutex.
type orderTracker struct {
	mu    sync.Mutex
	order []string
}

func (o *orderTracker) listener(ev Event) {
	if ev.Type != EventPackageStarted {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.order = append(o.order, ev.Package)
}

func (o *orderTracker) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// Scenario 1: linear chain, all succeed.
func TestLinearChainAllSucceed(t *testing.T) {
	g := mustGraph(t, []pkggraph.Package{
		{Name: "A"},
		{Name: "B", Dependencies: []string{"A"}},
		{Name: "C", Dependencies: []string{"B"}},
		{Name: "D", Dependencies: []string{"C"}},
	})
	tracker := &orderTracker{}
	pool := New(Config{
		Graph:          g,
		MaxConcurrency: 4,
		CheckpointPath: testutil.CheckpointPath(t),
		Operation:      alwaysSucceed(0),
		Listeners:      []Listener{tracker.listener},
	})

	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got failed=%v", result.Failed)
	}
	want := []string{"A", "B", "C", "D"}
	got := tracker.snapshot()
	if len(got) != len(want) {
		t.Fatalf("start order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("start order = %v, want %v", got, want)
		}
	}
	if result.Metrics.PeakConcurrency != 1 {
		t.Errorf("PeakConcurrency = %d, want 1", result.Metrics.PeakConcurrency)
	}
	if pool.ckptMgr.Exists() {
		t.Error("checkpoint should be deleted after a fully successful run")
	}
}

// Scenario 2: independent set, parallel.
func TestIndependentSetParallel(t *testing.T) {
	var packages []pkggraph.Package
	for i := 0; i < 5; i++ {
		packages = append(packages, pkggraph.Package{Name: fmt.Sprintf("pkg%d", i)})
	}
	g := mustGraph(t, packages)
	pool := New(Config{
		Graph:          g,
		MaxConcurrency: 3,
		CheckpointPath: testutil.CheckpointPath(t),
		Operation:      alwaysSucceed(30 * time.Millisecond),
	})

	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got failed=%v", result.Failed)
	}
	if len(result.Completed) != 5 {
		t.Fatalf("completed = %v, want 5 packages", result.Completed)
	}
	if result.Metrics.PeakConcurrency != 3 {
		t.Errorf("PeakConcurrency = %d, want 3", result.Metrics.PeakConcurrency)
	}
}

// Scenario 3: diamond with mid-failure.
func TestDiamondMidFailure(t *testing.T) {
	g := mustGraph(t, []pkggraph.Package{
		{Name: "A"},
		{Name: "B", Dependencies: []string{"A"}},
		{Name: "C", Dependencies: []string{"A"}},
		{Name: "D", Dependencies: []string{"B", "C"}},
	})
	op := OperationFunc(func(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error) {
		if pkg.Name == "C" {
			return execstate.PackageResult{}, fmt.Errorf("build broken beyond repair")
		}
		return execstate.PackageResult{Success: true}, nil
	})
	pool := New(Config{
		Graph:          g,
		MaxConcurrency: 4,
		CheckpointPath: testutil.CheckpointPath(t),
		Operation:      op,
	})

	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatal("expected success=false")
	}
	if len(result.Failed) != 1 || result.Failed[0].Name != "C" {
		t.Fatalf("Failed = %v, want [C]", result.Failed)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "D" {
		t.Fatalf("Skipped = %v, want [D]", result.Skipped)
	}
	if !pool.ckptMgr.Exists() {
		t.Error("checkpoint should be retained after a run with failures")
	}
}

// Scenario 4: retry then succeed.
func TestRetryThenSucceed(t *testing.T) {
	g := mustGraph(t, []pkggraph.Package{{Name: "X"}})

	var mu sync.Mutex
	attempts := 0
	op := OperationFunc(func(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return execstate.PackageResult{}, fmt.Errorf("ETIMEDOUT: upstream did not respond")
		}
		return execstate.PackageResult{Success: true}, nil
	})

	pool := New(Config{
		Graph:             g,
		MaxConcurrency:    1,
		CheckpointPath:    testutil.CheckpointPath(t),
		Operation:         op,
		MaxRetries:        3,
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
	})
	pool.sleep = func(time.Duration) {} // keep the test fast

	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got failed=%v", result.Failed)
	}
	if got := pool.RetryCount("X"); got != 3 {
		t.Fatalf("RetryCount(X) = %d, want 3", got)
	}
}

// Scenario 5: resume after crash.
func TestResumeAfterCrash(t *testing.T) {
	g := mustGraph(t, []pkggraph.Package{
		{Name: "A"},
		{Name: "B", Dependencies: []string{"A"}},
	})
	ckptPath := testutil.CheckpointPath(t)

	ctx, cancel := context.WithCancel(context.Background())
	op := OperationFunc(func(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error) {
		return execstate.PackageResult{Success: true}, nil
	})
	cancelOnACompletion := func(ev Event) {
		if ev.Type == EventPackageCompleted && ev.Package == "A" {
			cancel()
		}
	}

	first := New(Config{
		Graph:          g,
		MaxConcurrency: 4,
		CheckpointPath: ckptPath,
		Operation:      op,
		Listeners:      []Listener{cancelOnACompletion},
	})
	_, err := first.Run(ctx)
	if err == nil {
		t.Fatal("expected cancellation error from aborted run")
	}
	if !first.ckptMgr.Exists() {
		t.Fatal("expected checkpoint to be retained after cancellation")
	}

	second := New(Config{
		Graph:          g,
		MaxConcurrency: 4,
		CheckpointPath: ckptPath,
		Continue:       true,
		Operation:      op,
	})
	result, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success on resume, got failed=%v", result.Failed)
	}
	found := false
	for _, c := range result.Completed {
		if c == "B" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected B to complete on resume, got %v", result.Completed)
	}
	if second.ckptMgr.Exists() {
		t.Error("checkpoint should be deleted after the resumed run completes cleanly")
	}
}

// Universal invariant: concurrency never exceeds maxConcurrency.
func TestConcurrencyCapNeverExceeded(t *testing.T) {
	var packages []pkggraph.Package
	for i := 0; i < 10; i++ {
		packages = append(packages, pkggraph.Package{Name: fmt.Sprintf("pkg%d", i)})
	}
	g := mustGraph(t, packages)
	pool := New(Config{
		Graph:          g,
		MaxConcurrency: 2,
		CheckpointPath: testutil.CheckpointPath(t),
		Operation:      alwaysSucceed(5 * time.Millisecond),
	})
	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Metrics.PeakConcurrency > 2 {
		t.Fatalf("PeakConcurrency = %d, exceeds cap of 2", result.Metrics.PeakConcurrency)
	}
}
