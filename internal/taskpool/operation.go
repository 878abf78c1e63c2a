package taskpool

import (
	"context"

	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
)

// Operation is the single per-package action the pool invokes for every
// node of the graph: commit-message generation, release, publish,
// link/unlink, or anything else the surrounding CLI wires in. The pool
// depends only on this interface, never on a concrete implementation —
// see internal/ops for the two concrete operations this module ships.
type Operation interface {
	Execute(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error)
}

// OperationFunc adapts a plain function to the Operation interface.
type OperationFunc func(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error)

// Execute implements Operation.
func (f OperationFunc) Execute(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error) {
	return f(ctx, pkg)
}
