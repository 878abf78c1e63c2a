// Package taskpool implements DynamicTaskPool, the parallel,
// dependency-aware task executor: it runs a single injected Operation
// against every node of a dependency graph, respecting topological order,
// exploiting parallelism under a concurrency cap, retrying transient
// failures with backoff, cascading permanent failures to dependents, and
// checkpointing after every state transition.
//
// A single driver goroutine (Pool.Run's caller) owns the ExecutionState and
// the ResourceMonitor; it alternates between launching as many ready
// packages as slots allow and awaiting the earliest completion among
// launched children. Children never mutate state directly — results come
// back over a channel — so no lock protects the state; mirrors the
// single-driver rationale in the teacher's own scheduler.run, just with one
// goroutine per launched package instead of a fixed worker pool, since
// concurrency here is bounded by the ResourceMonitor rather than channel
// width.
package taskpool

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/calenvarek/kodrdriv/internal/checkpoint"
	"github.com/calenvarek/kodrdriv/internal/config"
	"github.com/calenvarek/kodrdriv/internal/depcheck"
	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/kodrlog"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
	"github.com/calenvarek/kodrdriv/internal/resource"
	"github.com/calenvarek/kodrdriv/internal/schedule"
)

// ErrDeadlock is returned when the pool cannot make progress: nothing is
// running, yet pending packages exist that are not ready. This indicates a
// corrupt checkpoint or a graph/state inconsistency, never ordinary
// backpressure.
var ErrDeadlock = errors.New("taskpool: deadlock detected")

// Config configures a Pool. Only Graph and Operation are required; the rest
// carry documented defaults.
type Config struct {
	Graph          *pkggraph.Graph
	MaxConcurrency int
	Command        string
	ConfigSnapshot config.Snapshot
	CheckpointPath string
	Continue       bool

	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	BackoffMultiplier float64

	Operation Operation
	Logger    *kodrlog.Logger
	Listeners []Listener
}

func (c *Config) setDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 5 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 60 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	if c.Logger == nil {
		c.Logger = kodrlog.Nop()
	}
	if c.CheckpointPath == "" {
		c.CheckpointPath = checkpoint.DefaultDir(".") + "/" + checkpoint.DefaultFileName
	}
}

// Result is the outcome of a completed (or aborted) run.
type Result struct {
	Success       bool
	TotalPackages int
	Completed     []string
	Failed        []execstate.FailedPackageSnapshot
	Skipped       []string
	Metrics       execstate.Metrics
}

// Pool is the DynamicTaskPool executor.
type Pool struct {
	graph   *pkggraph.Graph
	checker *depcheck.Checker
	sched   *schedule.Scheduler
	monitor *resource.Monitor
	ckptMgr *checkpoint.Manager
	log     *kodrlog.Logger

	command        string
	cfgSnapshot    config.Snapshot
	maxConcurrency int
	continueFlag   bool

	maxRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
	backoffMultiplier float64

	operation Operation
	listeners []Listener

	// now/sleep are indirected so tests can run retry backoff without real
	// wall-clock delays.
	now   func() time.Time
	sleep func(time.Duration)

	state             *execstate.State
	retryCounts       map[string]int
	timings           map[string]checkpoint.PackageTiming
	publishedVersions []checkpoint.PublishedVersionEvent
	executionID       string
	totalStartTime    time.Time
}

// New constructs a Pool from cfg, applying documented defaults for any
// zero-valued tuning field.
func New(cfg Config) *Pool {
	cfg.setDefaults()
	checker := depcheck.New(cfg.Graph)
	return &Pool{
		graph:             cfg.Graph,
		checker:           checker,
		sched:             schedule.New(checker),
		monitor:           resource.New(cfg.MaxConcurrency),
		ckptMgr:           checkpoint.New(cfg.CheckpointPath, cfg.Logger),
		log:               cfg.Logger,
		command:           cfg.Command,
		cfgSnapshot:       cfg.ConfigSnapshot,
		maxConcurrency:    cfg.MaxConcurrency,
		continueFlag:      cfg.Continue,
		maxRetries:        cfg.MaxRetries,
		initialRetryDelay: cfg.InitialRetryDelay,
		maxRetryDelay:     cfg.MaxRetryDelay,
		backoffMultiplier: cfg.BackoffMultiplier,
		operation:         cfg.Operation,
		listeners:         cfg.Listeners,
		now:               time.Now,
		sleep:             time.Sleep,
		retryCounts:       make(map[string]int),
		timings:           make(map[string]checkpoint.PackageTiming),
	}
}

type completion struct {
	name     string
	result   execstate.PackageResult
	err      error
	duration time.Duration
}

// Run drives the executor to completion (or fatal error). It blocks until
// every package is completed, failed, or skipped, the run deadlocks, or ctx
// is canceled.
func (p *Pool) Run(ctx context.Context) (*Result, error) {
	if err := p.initState(); err != nil {
		return nil, xerrors.Errorf("taskpool: init: %w", err)
	}
	p.emit(Event{Type: EventExecutionStarted})

	eg, egCtx := errgroup.WithContext(ctx)
	results := make(chan completion, p.maxConcurrency)
	inFlight := 0

	for {
		select {
		case <-ctx.Done():
			_ = eg.Wait()
			if err := p.ckptMgr.Save(p.buildCheckpoint()); err != nil {
				p.log.Errorf("checkpoint save on cancel failed: %v", err)
			}
			return p.buildResult(), ctx.Err()
		default:
		}

		// 1. launch as many ready packages as there are free slots.
		for p.monitor.GetAvailableSlots() > 0 && len(p.state.Ready) > 0 {
			names := p.sched.Next(p.monitor.GetAvailableSlots(), p.state, p.retryCounts)
			if len(names) == 0 {
				break
			}
			for _, name := range names {
				if !p.monitor.Allocate(1) {
					break
				}
				p.launch(egCtx, eg, name, results)
				inFlight++
			}
		}

		// 2. deadlock / completion check.
		if inFlight == 0 {
			if len(p.state.Ready) > 0 || len(p.state.Pending) > 0 {
				if err := p.ckptMgr.Save(p.buildCheckpoint()); err != nil {
					p.log.Errorf("checkpoint save on deadlock failed: %v", err)
				}
				return nil, xerrors.Errorf("%s: %d pending, %d ready, nothing running: %w",
					ErrDeadlock, len(p.state.Pending), len(p.state.Ready), ErrDeadlock)
			}
			break // pending, ready, running all empty: done.
		}

		// 3. await the earliest completion, or cancellation.
		select {
		case c := <-results:
			inFlight--
			p.monitor.Release(1)
			p.handleCompletion(c)
			p.refreshReady()
			if err := p.ckptMgr.Save(p.buildCheckpoint()); err != nil {
				p.log.Errorf("checkpoint save failed: %v", err)
			} else {
				p.emit(Event{Type: EventCheckpointSaved})
			}

		case <-ctx.Done():
			_ = eg.Wait()
			if err := p.ckptMgr.Save(p.buildCheckpoint()); err != nil {
				p.log.Errorf("checkpoint save on cancel failed: %v", err)
			}
			return p.buildResult(), ctx.Err()
		}
	}

	_ = eg.Wait()
	return p.finish()
}

func (p *Pool) launch(ctx context.Context, eg *errgroup.Group, name string, results chan<- completion) {
	pkg, _ := p.graph.Package(name)
	p.state.RemoveFromReady(name)
	start := p.now()
	p.state.Running = append(p.state.Running, execstate.RunningPackage{Name: name, StartTime: start})
	p.retryCounts[name]++ // attemptNumber: counts every dispatch, success or failure
	p.emit(Event{Type: EventPackageStarted, Package: name})

	eg.Go(func() error {
		res, err := p.operation.Execute(ctx, pkg)
		select {
		case results <- completion{name: name, result: res, err: err, duration: p.now().Sub(start)}:
		case <-ctx.Done():
		}
		return nil
	})
}

func (p *Pool) handleCompletion(c completion) {
	p.state.RemoveFromRunning(c.name)

	if c.err == nil {
		p.handleSuccess(c)
		return
	}
	p.handleFailure(c)
}

func (p *Pool) handleSuccess(c completion) {
	p.state.Completed[c.name] = struct{}{}
	p.timings[c.name] = checkpoint.PackageTiming{
		StartTime: p.now().Add(-c.duration),
		EndTime:   p.now(),
		Duration:  c.duration,
	}
	result := c.result
	p.emit(Event{Type: EventPackageCompleted, Package: c.name, Result: &result})
	if result.PublishedVersion != "" {
		p.publishedVersions = append(p.publishedVersions, checkpoint.PublishedVersionEvent{
			PackageName: c.name,
			Version:     result.PublishedVersion,
			PublishTime: p.now(),
		})
	}
}

func (p *Pool) handleFailure(c completion) {
	attempt := p.retryCounts[c.name]
	retriable := IsRetriable(c.err)

	if retriable && attempt < p.maxRetries {
		p.state.Pending = append(p.state.Pending, c.name)
		p.emit(Event{Type: EventPackageRetrying, Package: c.name, Err: c.err, Attempt: attempt})
		delay := retryDelay(attempt, p.initialRetryDelay, p.maxRetryDelay, p.backoffMultiplier)
		p.sleep(delay)
		return
	}

	snap := execstate.FailedPackageSnapshot{
		Name:          c.name,
		ErrorMessage:  c.err.Error(),
		IsRetriable:   retriable,
		AttemptNumber: attempt,
		FailedAt:      p.now(),
		Dependencies:  p.graph.Dependencies(c.name),
		Dependents:    p.graph.Dependents(c.name),
	}
	p.state.Failed = append(p.state.Failed, snap)
	p.emit(Event{Type: EventPackageFailed, Package: c.name, Err: c.err})
	p.cascade(c.name)
}

// cascade marks every transitive dependent of a freshly-failed package as
// skipped, leaving running/completed/failed/already-skipped nodes alone.
func (p *Pool) cascade(failed string) {
	for _, dep := range p.checker.FindAllDependents(failed) {
		if _, done := p.state.Completed[dep]; done {
			continue
		}
		if _, skipped := p.state.Skipped[dep]; skipped {
			continue
		}
		isFailedAlready := false
		for _, f := range p.state.Failed {
			if f.Name == dep {
				isFailedAlready = true
				break
			}
		}
		if isFailedAlready {
			continue
		}
		removedFromPending := p.state.RemoveFromPending(dep)
		removedFromReady := p.state.RemoveFromReady(dep)
		if !removedFromPending && !removedFromReady {
			continue // running, or not part of this run's partitions at all
		}
		p.state.Skipped[dep] = struct{}{}
		p.emit(Event{Type: EventPackageSkipped, Package: dep, Reason: failed})
	}
}

// refreshReady moves every pending package whose dependencies are all
// completed into Ready, keeping their order in Pending (build order at the
// start of a run; retried packages are appended at the end of Pending).
func (p *Pool) refreshReady() {
	var stillPending []string
	for _, name := range p.state.Pending {
		if p.checker.IsReady(name, p.state) {
			p.state.Ready = append(p.state.Ready, name)
		} else {
			stillPending = append(stillPending, name)
		}
	}
	p.state.Pending = stillPending
}

func (p *Pool) initState() error {
	order := p.graph.BuildOrder()
	p.state = execstate.New(order)
	p.executionID = uuid.NewString()
	p.totalStartTime = p.now()

	if p.continueFlag {
		cp, err := p.ckptMgr.Load()
		if err != nil {
			return xerrors.Errorf("load checkpoint: %w", err)
		}
		if cp != nil {
			p.state.Completed = cp.State.Completed
			p.state.Skipped = cp.State.Skipped
			p.state.Failed = cp.State.Failed
			if cp.RetryCounts != nil {
				p.retryCounts = cp.RetryCounts
			}
			if cp.Timings != nil {
				p.timings = cp.Timings
			}
			p.publishedVersions = cp.PublishedVersions
			p.executionID = cp.ExecutionID
			p.totalStartTime = cp.TotalStartTime

			var remaining []string
			for _, name := range order {
				if _, done := p.state.Completed[name]; done {
					continue
				}
				if _, skipped := p.state.Skipped[name]; skipped {
					continue
				}
				isFailed := false
				for _, f := range p.state.Failed {
					if f.Name == name {
						isFailed = true
						break
					}
				}
				if isFailed {
					continue
				}
				remaining = append(remaining, name)
			}
			p.state.Pending = remaining
		}
	}

	p.refreshReady()
	return nil
}

func (p *Pool) buildCheckpoint() *checkpoint.Checkpoint {
	state := *p.state
	return &checkpoint.Checkpoint{
		ExecutionID:       p.executionID,
		CreatedAt:         p.totalStartTime,
		UpdatedAt:         p.now(),
		Command:           p.command,
		Config:            p.cfgSnapshot.Clone(),
		Packages:          p.graph.Packages(),
		Edges:             checkpoint.EdgesFromGraph(p.graph),
		BuildOrder:        p.graph.BuildOrder(),
		ExecutionMode:     "parallel",
		MaxConcurrency:    p.maxConcurrency,
		State:             state,
		PublishedVersions: p.publishedVersions,
		RetryCounts:       p.retryCounts,
		Timings:           p.timings,
		TotalStartTime:    p.totalStartTime,
		RecoveryHints:     nil,
		CanRecover:        len(p.state.Failed) > 0 || len(p.state.Skipped) > 0,
	}
}

func (p *Pool) buildResult() *Result {
	completed := make([]string, 0, len(p.state.Completed))
	for name := range p.state.Completed {
		completed = append(completed, name)
	}
	skipped := make([]string, 0, len(p.state.Skipped))
	for name := range p.state.Skipped {
		skipped = append(skipped, name)
	}

	var totalDuration time.Duration
	for _, t := range p.timings {
		totalDuration += t.Duration
	}
	avg := time.Duration(0)
	if len(p.timings) > 0 {
		avg = totalDuration / time.Duration(len(p.timings))
	}
	monitorMetrics := p.monitor.GetMetrics()

	return &Result{
		Success:       len(p.state.Failed) == 0,
		TotalPackages: len(p.graph.Names()),
		Completed:     completed,
		Failed:        p.state.Failed,
		Skipped:       skipped,
		Metrics: execstate.Metrics{
			TotalDuration:          p.now().Sub(p.totalStartTime),
			AveragePackageDuration: avg,
			PeakConcurrency:        monitorMetrics.PeakConcurrency,
			AverageConcurrency:     monitorMetrics.AverageConcurrency,
		},
	}
}

// RetryCount returns the number of times name has been dispatched (attempt
// count), for callers and tests that want to inspect it after a run.
func (p *Pool) RetryCount(name string) int { return p.retryCounts[name] }

func (p *Pool) finish() (*Result, error) {
	result := p.buildResult()
	if result.Success && len(p.state.Skipped) == 0 {
		if err := p.ckptMgr.Cleanup(); err != nil {
			p.log.Errorf("checkpoint cleanup failed: %v", err)
		}
	} else {
		if err := p.ckptMgr.Save(p.buildCheckpoint()); err != nil {
			p.log.Errorf("final checkpoint save failed: %v", err)
		}
	}
	p.emit(Event{Type: EventExecutionCompleted})
	return result, nil
}
