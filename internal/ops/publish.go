package ops

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v27/github"
	"golang.org/x/xerrors"

	"github.com/calenvarek/kodrdriv/internal/execstate"
	"github.com/calenvarek/kodrdriv/internal/kodrlog"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
	"github.com/calenvarek/kodrdriv/internal/taskpool"
)

// tokenTransport attaches a bearer token to every request, standing in for
// the oauth2.StaticTokenSource the teacher's autobuilder uses — there is no
// OAuth login flow here, just a personal access token, so a RoundTripper is
// enough.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "token "+t.token)
	return base.RoundTrip(cloned)
}

// ReleaseNote returns the tag name and release body to publish for a
// package, the only per-package input PublishOperation needs beyond the
// package's own name.
type ReleaseNote func(ctx context.Context, pkg pkggraph.Package) (tag, body string, err error)

// PublishOperation creates one GitHub release per package, reporting the
// published tag back through PackageResult.PublishedVersion so the
// executor's published-versions log picks it up.
type PublishOperation struct {
	client *github.Client
	owner  string
	repo   string
	note   ReleaseNote
	log    *kodrlog.Logger
}

// NewPublishOperation returns a PublishOperation that creates releases on
// owner/repo using token for authentication.
func NewPublishOperation(token, owner, repo string, note ReleaseNote, log *kodrlog.Logger) *PublishOperation {
	if log == nil {
		log = kodrlog.Nop()
	}
	httpClient := &http.Client{Transport: &tokenTransport{token: token}}
	return &PublishOperation{
		client: github.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
		note:   note,
		log:    log,
	}
}

var _ taskpool.Operation = (*PublishOperation)(nil)

// Execute implements taskpool.Operation.
func (o *PublishOperation) Execute(ctx context.Context, pkg pkggraph.Package) (execstate.PackageResult, error) {
	tag, body, err := o.note(ctx, pkg)
	if err != nil {
		return execstate.PackageResult{}, xerrors.Errorf("publish: release note for %s: %w", pkg.Name, err)
	}

	name := fmt.Sprintf("%s %s", pkg.Name, tag)
	release := &github.RepositoryRelease{
		TagName: &tag,
		Name:    &name,
		Body:    &body,
	}

	created, _, err := o.client.Repositories.CreateRelease(ctx, o.owner, o.repo, release)
	if err != nil {
		return execstate.PackageResult{}, xerrors.Errorf("publish: create release for %s: %w", pkg.Name, err)
	}

	o.log.Infof("published %s as release %s (%s)", pkg.Name, created.GetTagName(), created.GetHTMLURL())

	return execstate.PackageResult{
		Success:          true,
		PublishedVersion: tag,
		Metadata:         map[string]any{"releaseURL": created.GetHTMLURL()},
	}, nil
}
