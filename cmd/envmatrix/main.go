package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/theblitlabs/gologger"

	"github.com/envmatrix/envmatrix/internal/cli"
	"github.com/envmatrix/envmatrix/internal/version"
)

var (
	logMode        string
	configPath     string
	toolConfigPath string

	runEnvs     []string
	runParallel int

	historyLimit int
)

var rootCmd = &cobra.Command{
	Use:     "envmatrix",
	Short:   "Environment matrix runner",
	Long:    `Runs a project's declared test environments: provisions each one, installs its dependencies and executes its command sequence.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch logMode {
		case "debug", "pretty", "info", "prod", "test":
			gologger.InitWithMode(gologger.LogMode(logMode))
		default:
			gologger.InitWithMode(gologger.LogModePretty)
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvironments(cmd, args)
	},
}

var runCmd = &cobra.Command{
	Use:   "run [-- posargs...]",
	Short: "Run environments (the default command)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvironments(cmd, args)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List declared environments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.RunList(configPath)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <env>",
	Short: "Show an environment's resolved definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.RunShow(configPath, args[0])
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [env]",
	Short: "Show recorded environment runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		envName := ""
		if len(args) > 0 {
			envName = args[0]
		}
		return cli.RunHistory(configPath, toolConfigPath, envName, historyLimit)
	},
}

// runEnvironments backs both the bare invocation and the run
// subcommand. Everything after -- is passed through as posargs.
func runEnvironments(cmd *cobra.Command, args []string) error {
	posArgs := args
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		if dash > 0 {
			return fmt.Errorf("unexpected arguments before --: %v", args[:dash])
		}
		posArgs = args[dash:]
	} else if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v (use -- to pass args through)", args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.RunRun(ctx, cli.RunOptions{
		ConfigPath:     configPath,
		ToolConfigPath: toolConfigPath,
		Envs:           runEnvs,
		PosArgs:        posArgs,
		Parallel:       runParallel,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logMode, "log", "pretty", "Log mode: debug, pretty, info, prod, test")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the matrix config file (default matrix.ini or tox.ini)")
	rootCmd.PersistentFlags().StringVar(&toolConfigPath, "tool-config", "", "Path to the envmatrix tool config file")

	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().StringSliceVarP(&runEnvs, "env", "e", nil, "Environments to run (default: envlist)")
		cmd.Flags().IntVarP(&runParallel, "parallel", "p", 0, "Run up to N environments concurrently")
	}

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum records to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, cli.ErrRunFailed) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
