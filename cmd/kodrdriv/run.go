package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	"github.com/calenvarek/kodrdriv/internal/checkpoint"
	"github.com/calenvarek/kodrdriv/internal/config"
	"github.com/calenvarek/kodrdriv/internal/ops"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
	"github.com/calenvarek/kodrdriv/internal/taskpool"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a lifecycle command against every package in the dependency graph",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("graph", "packages.yaml", "path to the package graph file (JSON or YAML)")
	runCmd.Flags().String("command", "commit-message", "lifecycle command to run: commit-message or publish")
	runCmd.Flags().Bool("continue", false, "resume from the existing checkpoint, if any")
	runCmd.Flags().Int("max-retries", 3, "maximum retries for a retriable package failure")
	runCmd.Flags().Duration("initial-retry-delay", 5*time.Second, "initial retry backoff delay")
	runCmd.Flags().Duration("max-retry-delay", 60*time.Second, "maximum retry backoff delay")
	runCmd.Flags().Float64("backoff-multiplier", 2, "retry backoff multiplier")
	runCmd.Flags().String("openai-model", openai.GPT3Dot5Turbo, "model used for commit-message drafting")
	runCmd.Flags().String("github-owner", "", "GitHub repository owner for the publish command")
	runCmd.Flags().String("github-repo", "", "GitHub repository name for the publish command")

	for _, name := range []string{
		"graph", "command", "continue", "max-retries", "initial-retry-delay",
		"max-retry-delay", "backoff-multiplier", "openai-model", "github-owner", "github-repo",
	} {
		_ = viper.BindPFlag(name, runCmd.Flags().Lookup(name))
	}

	// these two carry secrets, so they are env-only (no flag, to avoid
	// leaking them into shell history or process listings).
	_ = viper.BindEnv("openai-api-key", "OPENAI_API_KEY", "KODRDRIV_OPENAI_API_KEY")
	_ = viper.BindEnv("github-token", "GITHUB_TOKEN", "KODRDRIV_GITHUB_TOKEN")
}

// gitDiffLookup shells out to `git -C <path> diff --cached` for a package's
// staged change summary; this is the thinnest possible VCS collaborator, matching
// the "VCS integration is out of scope" boundary for the executor itself.
func gitDiffLookup(ctx context.Context, pkg pkggraph.Package) (string, error) {
	path := pkg.Path
	if path == "" {
		path = "."
	}
	out, err := exec.CommandContext(ctx, "git", "-C", path, "diff", "--cached").Output()
	if err != nil {
		return "", xerrors.Errorf("git diff in %s: %w", path, err)
	}
	return string(out), nil
}

// staticReleaseNote tags every package with its own recorded Version field
// and a one-line release body; real release-note formatting (changelog
// generation, commit-range summarization) is left to a future Operation.
func staticReleaseNote(_ context.Context, pkg pkggraph.Package) (tag, body string, err error) {
	if pkg.Version == "" {
		return "", "", xerrors.Errorf("package %s has no version to publish", pkg.Name)
	}
	return "v" + strings.TrimPrefix(pkg.Version, "v"), fmt.Sprintf("Release of %s", pkg.Name), nil
}

func buildOperation(cmdName string) (taskpool.Operation, error) {
	switch cmdName {
	case "commit-message":
		return ops.NewCommitMessageOperation(viper.GetString("openai-api-key"), viper.GetString("openai-model"), gitDiffLookup, log), nil
	case "publish":
		owner, repo := viper.GetString("github-owner"), viper.GetString("github-repo")
		if owner == "" || repo == "" {
			return nil, xerrors.Errorf("publish requires --github-owner and --github-repo")
		}
		return ops.NewPublishOperation(viper.GetString("github-token"), owner, repo, staticReleaseNote, log), nil
	default:
		return nil, xerrors.Errorf("unknown command %q: want commit-message or publish", cmdName)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	g, err := loadGraph(viper.GetString("graph"))
	if err != nil {
		return err
	}

	operation, err := buildOperation(viper.GetString("command"))
	if err != nil {
		return err
	}

	ckptPath := viper.GetString("checkpoint-path")
	if ckptPath == "" {
		ckptPath = checkpoint.DefaultDir(".") + "/" + checkpoint.DefaultFileName
	}

	pool := taskpool.New(taskpool.Config{
		Graph:             g,
		MaxConcurrency:    viper.GetInt("max-concurrency"),
		Command:           viper.GetString("command"),
		ConfigSnapshot:    config.Snapshot(viper.AllSettings()),
		CheckpointPath:    ckptPath,
		Continue:          viper.GetBool("continue"),
		MaxRetries:        viper.GetInt("max-retries"),
		InitialRetryDelay: viper.GetDuration("initial-retry-delay"),
		MaxRetryDelay:     viper.GetDuration("max-retry-delay"),
		BackoffMultiplier: viper.GetFloat64("backoff-multiplier"),
		Operation:         operation,
		Logger:            log,
		Listeners:         []taskpool.Listener{logEvent},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := pool.Run(ctx)
	if err != nil {
		return xerrors.Errorf("run: %w", err)
	}

	log.Infof("completed %d/%d packages, %d failed, %d skipped (peak concurrency %d)",
		len(result.Completed), result.TotalPackages, len(result.Failed), len(result.Skipped), result.Metrics.PeakConcurrency)

	if !result.Success {
		return xerrors.Errorf("run finished with %d failed package(s); see %s for recovery", len(result.Failed), ckptPath)
	}
	return nil
}

func logEvent(ev taskpool.Event) {
	switch ev.Type {
	case taskpool.EventPackageStarted:
		log.Infof("started %s", ev.Package)
	case taskpool.EventPackageCompleted:
		log.Infof("completed %s", ev.Package)
	case taskpool.EventPackageFailed:
		log.Errorf("failed %s: %v", ev.Package, ev.Err)
	case taskpool.EventPackageRetrying:
		log.Warnf("retrying %s (attempt %d): %v", ev.Package, ev.Attempt, ev.Err)
	case taskpool.EventPackageSkipped:
		log.Warnf("skipped %s (blocked by %s)", ev.Package, ev.Reason)
	}
}
