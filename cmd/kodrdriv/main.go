// Command kodrdriv automates the lifecycle of a set of interdependent
// source packages: commit-message generation, release cutting, publish,
// and link/unlink. This file wires flag parsing and logging only; every
// piece of actual lifecycle logic lives in internal/*.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/calenvarek/kodrdriv/internal/kodrlog"
)

var log *kodrlog.Logger

var rootCmd = &cobra.Command{
	Use:   "kodrdriv",
	Short: "Automate commit messages, releases, and publishing across a package dependency graph",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = kodrlog.NewStderr()
		if lvl := viper.GetString("log-level"); lvl != "" {
			parsed, err := zerolog.ParseLevel(lvl)
			if err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", lvl, err)
			}
			zerolog.SetGlobalLevel(parsed)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "path to a .kodrdriv config file (YAML), merged under the KODRDRIV_ env prefix")
	rootCmd.PersistentFlags().Int("max-concurrency", 4, "maximum number of packages to run concurrently")
	rootCmd.PersistentFlags().String("checkpoint-path", "", "override the checkpoint artifact path (default .kodrdriv/checkpoint.yaml under the working directory)")

	for _, name := range []string{"log-level", "config", "max-concurrency", "checkpoint-path"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("kodrdriv")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(runCmd, statusCmd, validateCmd, retryFailedCmd, skipFailedCmd, resetCmd, markCompletedCmd, skipCmd)
}

func initViperConfigFile() {
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "kodrdriv: reading config %s: %v\n", path, err)
		}
	}
}

func main() {
	cobra.OnInitialize(initViperConfigFile)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
