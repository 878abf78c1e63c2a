package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	"github.com/calenvarek/kodrdriv/internal/checkpoint"
	"github.com/calenvarek/kodrdriv/internal/pkggraph"
	"github.com/calenvarek/kodrdriv/internal/recovery"
)

// openRecoveryManager loads the graph named by the "graph" setting and the
// checkpoint at --checkpoint-path, failing loudly if either is missing:
// every command in this file is a one-to-one mapping onto a RecoveryManager
// method. The --graph flag is defined only on the run command, so these
// commands take the graph path from KODRDRIV_GRAPH or the config file, and
// otherwise use the run command's default, packages.yaml.
func openRecoveryManager() (*recovery.Manager, *pkggraph.Graph, error) {
	g, err := loadGraph(viper.GetString("graph"))
	if err != nil {
		return nil, nil, err
	}

	path := viper.GetString("checkpoint-path")
	if path == "" {
		path = checkpoint.DefaultDir(".") + "/" + checkpoint.DefaultFileName
	}

	mgr, err := recovery.Load(g, path, log)
	if err != nil {
		return nil, nil, err
	}
	if mgr == nil {
		return nil, nil, xerrors.Errorf("no checkpoint found at %s; nothing to recover", path)
	}
	return mgr, g, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a checkpointed run (--status)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openRecoveryManager()
		if err != nil {
			return err
		}
		fmt.Print(mgr.ShowStatus())
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a checkpoint's internal consistency against the graph (--validate)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openRecoveryManager()
		if err != nil {
			return err
		}
		result := mgr.ValidateState()
		if result.Valid {
			fmt.Println("checkpoint is valid")
			return nil
		}
		fmt.Println("checkpoint has issues:")
		for _, issue := range result.Issues {
			fmt.Printf("  - %s\n", issue)
		}
		return xerrors.Errorf("checkpoint validation failed with %d issue(s)", len(result.Issues))
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Requeue every retriable failed package (--retry-failed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openRecoveryManager()
		if err != nil {
			return err
		}
		return mgr.RetryFailed(nil)
	},
}

var skipFailedCmd = &cobra.Command{
	Use:   "skip-failed",
	Short: "Skip every failed package and its dependents (--skip-failed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openRecoveryManager()
		if err != nil {
			return err
		}
		return mgr.SkipFailed()
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <package>",
	Short: "Reset a single package back to pending, discarding its retry/timing history (--reset)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openRecoveryManager()
		if err != nil {
			return err
		}
		return mgr.ResetPackage(args[0])
	},
}

var markCompletedCmd = &cobra.Command{
	Use:   "mark-completed <package...>",
	Short: "Mark one or more packages as completed (--mark-completed)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openRecoveryManager()
		if err != nil {
			return err
		}
		return mgr.MarkCompleted(args)
	},
}

var skipCmd = &cobra.Command{
	Use:   "skip <package...>",
	Short: "Skip one or more packages and all of their transitive dependents (--skip)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openRecoveryManager()
		if err != nil {
			return err
		}
		return mgr.SkipPackages(args)
	},
}
