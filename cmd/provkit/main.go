package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"provkit/internal/app"
	"provkit/internal/config"
	provErrors "provkit/internal/errors"
	"provkit/internal/recipe"
	"provkit/internal/ui"
	"provkit/pkg/provision"
)

// version is set at build time via ldflags
var version = "dev"

var (
	configFile string
	verbose    bool
	console    = ui.NewConsole()
)

var rootCmd = &cobra.Command{
	Use:     "provkit",
	Short:   "provkit - idempotent host provisioning runs",
	Version: version,
	Long: `provkit installs R, JAGS, RStudio Server and course code on Ubuntu hosts
through named recipes. Every recipe is an idempotent, logged run: once it has
completed, its status flag turns later invocations into no-ops.

Settings come from built-in defaults, an optional YAML file (--config) and
PROVKIT_* environment variables, in increasing order of precedence.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var runCmd = &cobra.Command{
	Use:   "run <recipe>",
	Short: "Run a provisioning recipe",
	Long: `Run executes the named recipe's steps in order, logging each one. The run
stops at the first failing step. On success the status flag is written so later
runs are skipped; use 'provkit reset' to run a recipe again.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		a := newApp()

		if dryRun {
			plan, err := a.Plan(args[0])
			if err != nil {
				exitWithError(err)
			}
			printPlan(plan)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		result, err := a.Provision(ctx, args[0])
		stop()
		if err != nil {
			exitWithError(err)
		}

		switch result.Kind {
		case provision.ResultSucceeded:
			console.PrintSuccess(fmt.Sprintf("%s completed.", args[0]))
		case provision.ResultSkipped:
			console.PrintInfo(fmt.Sprintf("%s was already provisioned; nothing to do.", args[0]))
		case provision.ResultFailed:
			// The runner already reported the failure on stderr.
			provErrors.RecordError(result.Err)
		}
		os.Exit(result.ProcessExitCode())
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available recipes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		showSteps, _ := cmd.Flags().GetBool("steps")
		a := newApp()

		for _, r := range recipe.List() {
			console.Println(fmt.Sprintf("%-16s %s", r.Name, r.Label))
			if !showSteps {
				continue
			}
			plan, err := a.Plan(r.Name)
			if err != nil {
				exitWithError(err)
			}
			for i, d := range plan.Descriptions() {
				console.Println(fmt.Sprintf("    %d. %s", i+1, d))
			}
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [recipe...]",
	Short: "Show which recipes have completed",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := newApp().Status(args...)
		if err != nil {
			exitWithError(err)
		}

		for _, e := range entries {
			state := "pending"
			if e.Done {
				state = "done"
				if !e.CompletedAt.IsZero() {
					state = fmt.Sprintf("done at %s", e.CompletedAt.Format("2006-01-02 15:04:05 MST"))
				}
			}
			console.Println(fmt.Sprintf("%-16s %-28s %s", e.Recipe, state, e.StatusPath))
		}
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <recipe>",
	Short: "Remove a recipe's status flag so it runs again",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path, removed, err := newApp().Reset(args[0])
		if err != nil {
			exitWithError(err)
		}
		if removed {
			console.PrintSuccess(fmt.Sprintf("Removed status flag %s.", path))
		} else {
			console.PrintInfo(fmt.Sprintf("No status flag at %s.", path))
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config <recipe>",
	Short: "Print the effective configuration of a recipe",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg, err := newApp().Load(args[0])
		if err != nil {
			exitWithError(err)
		}
		out, err := config.Dump(cfg)
		if err != nil {
			exitWithError(err)
		}
		fmt.Print(string(out))
	},
}

func newApp() *app.App {
	return app.New(app.Options{ConfigFile: configFile, Console: console})
}

func printPlan(plan *app.Plan) {
	console.PrintInfo(fmt.Sprintf("DRY RUN: %s (%s)", plan.Recipe.Name, plan.Config.Run.Label))
	console.Println(fmt.Sprintf("  log:    %s", plan.Config.Paths.LogFile))
	console.Println(fmt.Sprintf("  status: %s", plan.Config.Paths.StatusFile))
	for i, d := range plan.Descriptions() {
		console.Println(fmt.Sprintf("  %d. %s", i+1, d))
	}
	console.Println("No changes were made.")
}

func exitWithError(err error) {
	provErrors.HandleError(err)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	runCmd.Flags().Bool("dry-run", false, "Print the steps that would run without changing anything")
	rootCmd.AddCommand(runCmd)

	listCmd.Flags().Bool("steps", false, "Also list each recipe's steps")
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
