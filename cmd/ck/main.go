// ck is the contractkit CLI: it runs contract scenarios against live HTTP
// services and serves local twins of those services.
//
// Usage:
//
//	ck run                        Run the configured suite and print a report
//	ck list                       List the scenarios a run would execute
//	ck twin booking|issues        Serve a local twin of a target service
//	ck admin <cmd> <url>          Inspect or reset a running twin
//	ck init [path]                Write the default configuration
//	ck version                    Print the version
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/contractkit/internal/suite"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	code, err := execute(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ck: %v\n", err)
	}
	os.Exit(code)
}

// app carries the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	// code is the exit status a subcommand decided on; errors without one
	// exit with suite.ExitAborted.
	code int
}

// execute runs the CLI with args and returns the process exit status.
func execute(args []string, stdout, stderr io.Writer) (int, error) {
	return executeContext(context.Background(), args, stdout, stderr)
}

func executeContext(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return a.code, nil
	case a.code != suite.ExitOK:
		return a.code, err
	default:
		return suite.ExitAborted, err
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ck",
		Short:         "Contract tests for HTTP services",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $CK_CONFIG or ck.yaml)")

	root.AddCommand(
		a.runCmd(),
		a.listCmd(),
		a.twinCmd(),
		a.adminCmd(),
		a.initCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "ck %s\n", version)
		},
	}
}
