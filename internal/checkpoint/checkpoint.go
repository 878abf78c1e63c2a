// Package checkpoint defines the durable execution-checkpoint artifact and
// the Manager that reads and writes it atomically. The encoding is YAML, a
// human-readable, hand-editable key-value document someone can open and
// fix by hand after a bad run, matching the format cuemby-warren uses for
// its own durable cluster-state snapshots.
package checkpoint

import (
	"time"

	"github.com/calenvarek/kodrdriv/internal/config"
	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
)

// SchemaVersion is the only schema version this build understands. A
// checkpoint whose SchemaVersion differs is a fatal load error — no
// migration is attempted.
const SchemaVersion = 1

// Edge is a portable [packageName, [depName, ...]] pair, used instead of a
// map so the checkpoint round-trips through any encoder without relying on
// map key ordering.
type Edge struct {
	Package      string   `yaml:"package"`
	Dependencies []string `yaml:"dependencies"`
}

// PublishedVersionEvent records one package publish as it happened.
type PublishedVersionEvent struct {
	PackageName string    `yaml:"packageName"`
	Version     string    `yaml:"version"`
	PublishTime time.Time `yaml:"publishTime"`
}

// PackageTiming records the start/end/duration of one package's execution.
type PackageTiming struct {
	StartTime time.Time     `yaml:"startTime"`
	EndTime   time.Time     `yaml:"endTime,omitempty"`
	Duration  time.Duration `yaml:"duration,omitempty"`
}

// Checkpoint is the full durable snapshot of a run.
type Checkpoint struct {
	SchemaVersion int       `yaml:"schemaVersion"`
	ExecutionID   string    `yaml:"executionId"`
	CreatedAt     time.Time `yaml:"createdAt"`
	UpdatedAt     time.Time `yaml:"updatedAt"`

	Command string          `yaml:"command"`
	Config  config.Snapshot `yaml:"config"`

	Packages   []pkggraph.Package `yaml:"packages"`
	Edges      []Edge              `yaml:"edges"`
	BuildOrder []string            `yaml:"buildOrder"`

	ExecutionMode  string `yaml:"executionMode"`
	MaxConcurrency int    `yaml:"maxConcurrency"`

	State execstate.State `yaml:"state"`

	PublishedVersions []PublishedVersionEvent  `yaml:"publishedVersions"`
	RetryCounts       map[string]int           `yaml:"retryCounts"`
	Timings           map[string]PackageTiming `yaml:"timings"`
	TotalStartTime    time.Time                `yaml:"totalStartTime"`

	RecoveryHints []string `yaml:"recoveryHints"`
	CanRecover    bool     `yaml:"canRecover"`
}

// EdgesFromGraph converts a graph's dependency edges into the portable list
// form stored in the checkpoint.
func EdgesFromGraph(g *pkggraph.Graph) []Edge {
	names := g.Names()
	out := make([]Edge, 0, len(names))
	for _, name := range names {
		out = append(out, Edge{Package: name, Dependencies: g.Dependencies(name)})
	}
	return out
}
