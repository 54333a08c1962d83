package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/contractkit/internal/client"
	"github.com/wondertwin-ai/contractkit/internal/conformance"
	"github.com/wondertwin-ai/contractkit/internal/suite"
	"github.com/wondertwin-ai/contractkit/internal/twin/twincore"
)

func (a *app) adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect or reset a running twin",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "health <url>",
			Short: "Check that a twin is up",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := client.New(args[0]).Health(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s ok\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset <url>",
			Short: "Restore a twin's seed state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := client.New(args[0]).Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s reset\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "state <url>",
			Short: "Print a twin's state as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := client.New(args[0]).State(cmd.Context())
				if err != nil {
					return err
				}
				var out bytes.Buffer
				if err := json.Indent(&out, raw, "", "  "); err != nil {
					return fmt.Errorf("formatting state: %w", err)
				}
				fmt.Fprintln(a.stdout, out.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "seed <url> <file>",
			Short: "Replace a twin's state with a JSON snapshot",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[1])
				if err != nil {
					return fmt.Errorf("reading seed file: %w", err)
				}
				if err := client.New(args[0]).Seed(cmd.Context(), data); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s seeded from %s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "requests <url>",
			Short: "List the requests a twin has served",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				entries, err := client.New(args[0]).Requests(cmd.Context())
				if err != nil {
					return err
				}
				table := tablewriter.NewWriter(a.stdout)
				table.SetHeader([]string{"Time", "Method", "Path", "Status", "Duration"})
				table.SetAutoFormatHeaders(false)
				table.SetAutoWrapText(false)
				for _, e := range entries {
					table.Append([]string{
						e.Timestamp.Format(time.TimeOnly),
						e.Method,
						e.Path,
						strconv.Itoa(e.StatusCode),
						e.Duration.Round(time.Microsecond).String(),
					})
				}
				table.Render()
				return nil
			},
		},
		a.faultCmd(),
		a.checkCmd(),
	)
	return cmd
}

func (a *app) faultCmd() *cobra.Command {
	var (
		fault  twincore.FaultConfig
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "fault <url> <pattern>",
		Short: "Inject or remove a fault for matching paths",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(args[0])
			if remove {
				if err := c.RemoveFault(cmd.Context(), args[1]); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "removed fault for %s\n", args[1])
				return nil
			}
			if err := c.InjectFault(cmd.Context(), args[1], fault); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "injected %d for %s\n", fault.StatusCode, args[1])
			return nil
		},
	}
	cmd.Flags().IntVar(&fault.StatusCode, "status", 500, "status code to answer with")
	cmd.Flags().StringVar(&fault.Body, "body", "", "response body")
	cmd.Flags().StringVar(&fault.Method, "method", "", "only fault this HTTP method")
	cmd.Flags().Float64Var(&fault.Rate, "rate", 1, "probability of triggering")
	cmd.Flags().IntVar(&fault.DelayMS, "delay-ms", 0, "delay before answering")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the fault instead")
	return cmd
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Verify a running twin implements the admin API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.stdout, "Running conformance checks against %s...\n\n", args[0])
			report := conformance.Run(cmd.Context(), args[0])
			for _, r := range report.Results {
				switch {
				case r.Skipped:
					fmt.Fprintf(a.stdout, "  SKIP  %s\n        %s\n", r.Name, r.Detail)
				case r.Passed:
					fmt.Fprintf(a.stdout, "  PASS  %s\n", r.Name)
				default:
					fmt.Fprintf(a.stdout, "  FAIL  %s\n        %s\n", r.Name, r.Detail)
				}
			}
			fmt.Fprintf(a.stdout, "\nResults: %d passed, %d failed, %d skipped\n", report.Passed, report.Failed, report.Skipped)
			if !report.OK() {
				a.code = suite.ExitFailed
			}
			return nil
		},
	}
}
