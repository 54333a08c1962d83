package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wondertwin-ai/contractkit/internal/logging"
	"github.com/wondertwin-ai/contractkit/internal/twin/booking"
	"github.com/wondertwin-ai/contractkit/internal/twin/issues"
	"github.com/wondertwin-ai/contractkit/internal/twin/twincore"
)

// serveFlags are shared by every twin subcommand.
type serveFlags struct {
	addr     string
	latency  time.Duration
	failRate float64
	verbose  bool
}

func (f *serveFlags) register(fs *pflag.FlagSet, defaultAddr string) {
	fs.StringVar(&f.addr, "addr", defaultAddr, "listen address")
	fs.DurationVar(&f.latency, "latency", 0, "simulated latency per request")
	fs.Float64Var(&f.failRate, "fail-rate", 0, "fraction of requests answered with 500")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log every request")
}

func (f *serveFlags) config(name string) (twincore.Config, error) {
	if f.failRate < 0 || f.failRate > 1 {
		return twincore.Config{}, fmt.Errorf("--fail-rate must be between 0.0 and 1.0, got %g", f.failRate)
	}
	if f.latency < 0 {
		return twincore.Config{}, fmt.Errorf("--latency must not be negative")
	}
	return twincore.Config{
		Name:     name,
		Addr:     f.addr,
		Latency:  f.latency,
		FailRate: f.failRate,
		Verbose:  f.verbose,
	}, nil
}

func (f *serveFlags) logger() (*zap.Logger, error) {
	cfg := logging.DefaultConfig()
	if f.verbose {
		cfg.Level = "debug"
	}
	return logging.New(cfg)
}

func (a *app) twinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Serve a local twin of a target service",
	}
	cmd.AddCommand(a.bookingTwinCmd(), a.issuesTwinCmd())
	return cmd
}

func (a *app) bookingTwinCmd() *cobra.Command {
	var (
		sf       serveFlags
		username string
		password string
		seedFile string
	)
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Serve the hotel booking twin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sf.config("booking")
			if err != nil {
				return err
			}
			var seed []booking.Booking
			if seedFile != "" {
				data, err := os.ReadFile(seedFile)
				if err != nil {
					return fmt.Errorf("reading seed file: %w", err)
				}
				if err := json.Unmarshal(data, &seed); err != nil {
					return fmt.Errorf("parsing seed file %s: %w", seedFile, err)
				}
			}
			logger, err := sf.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			twin, state := booking.NewTwin(cfg, logger)
			state.SetCredentials(username, password)
			state.Seed(seed)
			return a.serve(cmd.Context(), twin)
		},
	}
	sf.register(cmd.Flags(), "127.0.0.1:9001")
	cmd.Flags().StringVar(&username, "username", booking.DefaultUsername, "accepted login username")
	cmd.Flags().StringVar(&password, "password", booking.DefaultPassword, "accepted login password")
	cmd.Flags().StringVar(&seedFile, "seed-file", "", "JSON array of bookings to start with")
	return cmd
}

func (a *app) issuesTwinCmd() *cobra.Command {
	var (
		sf     serveFlags
		login  string
		repos  []string
		tokens []string
	)
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Serve the issue tracker twin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sf.config("issues")
			if err != nil {
				return err
			}
			logger, err := sf.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			twin, state := issues.NewTwin(cfg, login, logger)
			if err := state.Seed(repos...); err != nil {
				return err
			}
			state.SetTokens(tokens...)
			return a.serve(cmd.Context(), twin)
		},
	}
	sf.register(cmd.Flags(), "127.0.0.1:9002")
	cmd.Flags().StringVar(&login, "login", issues.DefaultLogin, "login of the authenticated user")
	cmd.Flags().StringArrayVar(&repos, "repo", nil, "owner/name repository to seed (repeatable)")
	cmd.Flags().StringArrayVar(&tokens, "token", nil, "accepted API token (repeatable, any token when unset)")
	return cmd
}

// serve runs twin until ctx is cancelled or the process is signalled.
func (a *app) serve(ctx context.Context, twin *twincore.Twin) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return twin.Serve(ctx, func(addr net.Addr) {
		fmt.Fprintf(a.stdout, "%s twin listening on http://%s\n", twin.Name, addr)
	})
}
