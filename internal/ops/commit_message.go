// Package ops ships the two concrete Operation implementations this module
// exercises: CommitMessageOperation, which calls an LLM to draft a commit
// message per package, and PublishOperation, which cuts a GitHub release.
// Both exist so taskpool.Operation — otherwise just an interface the spec
// leaves generic — has a real caller; their own internals (prompting,
// release-note formatting) are deliberately thin.
package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/xerrors"

	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/kodrlog"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
	"github.com/calenvarek/kodrdriv/internal/taskpool"
)

// ChangeLookup returns the raw diff or change summary for a package, the
// only piece of per-package context CommitMessageOperation needs from the
// surrounding CLI. Callers typically back this with `git diff` output.
type ChangeLookup func(ctx context.Context, pkg pkggraph.Package) (string, error)

// CommitMessageOperation drafts a conventional-commit-style message for
// each package's pending change via an OpenAI chat completion, and reports
// it back through PackageResult.Metadata["commitMessage"].
type CommitMessageOperation struct {
	client *openai.Client
	model  string
	lookup ChangeLookup
	log    *kodrlog.Logger
}

// NewCommitMessageOperation returns a CommitMessageOperation using apiKey
// against the given model (e.g. openai.GPT4oMini), drawing each package's
// change summary from lookup.
func NewCommitMessageOperation(apiKey, model string, lookup ChangeLookup, log *kodrlog.Logger) *CommitMessageOperation {
	if log == nil {
		log = kodrlog.Nop()
	}
	return &CommitMessageOperation{
		client: openai.NewClient(apiKey),
		model:  model,
		lookup: lookup,
		log:    log,
	}
}

var _ taskpool.Operation = (*CommitMessageOperation)(nil)

// Execute implements taskpool.Operation.
func (o *CommitMessageOperation) Execute(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error) {
	change, err := o.lookup(ctx, pkg)
	if err != nil {
		return execstate.PackageResult{}, xerrors.Errorf("commit message: load change for %s: %w", pkg.Name, err)
	}
	if strings.TrimSpace(change) == "" {
		return execstate.PackageResult{Success: true, Metadata: map[string]any{"commitMessage": ""}}, nil
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You write terse, conventional-commit-style messages for source package changes. Respond with only the commit message.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Package: %s\n\n%s", pkg.Name, change),
			},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return execstate.PackageResult{}, xerrors.Errorf("commit message: chat completion for %s: %w", pkg.Name, err)
	}
	if len(resp.Choices) == 0 {
		return execstate.PackageResult{}, xerrors.Errorf("commit message: %s: empty completion", pkg.Name)
	}

	message := strings.TrimSpace(resp.Choices[0].Message.Content)
	o.log.Debugf("drafted commit message for %s: %q", pkg.Name, message)

	return execstate.PackageResult{
		Success:  true,
		Metadata: map[string]any{"commitMessage": message},
	}, nil
}
