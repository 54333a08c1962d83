package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wondertwin-ai/contractkit/internal/config"
	"github.com/wondertwin-ai/contractkit/internal/harness"
	"github.com/wondertwin-ai/contractkit/internal/logging"
	"github.com/wondertwin-ai/contractkit/internal/metrics"
	"github.com/wondertwin-ai/contractkit/internal/report"
	"github.com/wondertwin-ai/contractkit/internal/telemetry"
)

const tracerName = "github.com/wondertwin-ai/contractkit"

// selectionFlags override the suite section of the config.
type selectionFlags struct {
	only         []string
	enable       []string
	disable      []string
	tags         []string
	scenarioDirs []string
	noCatalog    bool
}

func (s *selectionFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&s.only, "only", nil, "run just these scenarios")
	fs.StringSliceVar(&s.enable, "enable", nil, "enable disabled scenarios")
	fs.StringSliceVar(&s.disable, "disable", nil, "disable scenarios")
	fs.StringSliceVarP(&s.tags, "tag", "t", nil, "run scenarios carrying any of these tags")
	fs.StringArrayVar(&s.scenarioDirs, "scenarios", nil, "extra scenario directory (repeatable)")
	fs.BoolVar(&s.noCatalog, "no-catalog", false, "skip the built-in scenario catalogs")
}

func (s *selectionFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("only") {
		cfg.Suite.Only = s.only
	}
	if fs.Changed("enable") {
		cfg.Suite.Enable = append(cfg.Suite.Enable, s.enable...)
	}
	if fs.Changed("disable") {
		cfg.Suite.Disable = append(cfg.Suite.Disable, s.disable...)
	}
	if fs.Changed("tag") {
		cfg.Suite.Tags = s.tags
	}
	if fs.Changed("scenarios") {
		cfg.Suite.ScenarioDirs = append(cfg.Suite.ScenarioDirs, s.scenarioDirs...)
	}
	if s.noCatalog {
		cfg.Suite.Catalog = false
	}
}

func (a *app) runCmd() *cobra.Command {
	var (
		sel      selectionFlags
		format   string
		output   string
		parallel int
		textfile string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured suite and print a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			sel.apply(fs, cfg)
			if fs.Changed("format") {
				cfg.Report.Format = format
			}
			if fs.Changed("output") {
				cfg.Report.Output = output
			}
			if fs.Changed("parallel") {
				cfg.Suite.Parallel = parallel
			}
			if fs.Changed("metrics-textfile") {
				cfg.Metrics.Textfile = textfile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return a.run(cmd.Context(), cfg)
		},
	}
	sel.register(cmd.Flags())
	cmd.Flags().StringVarP(&format, "format", "f", "", "report format: text, json or junit")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "scenarios to run concurrently")
	cmd.Flags().StringVar(&textfile, "metrics-textfile", "", "write Prometheus metrics to this file after the run")
	return cmd
}

// run executes the suite described by cfg. The exit status is left in a.code.
func (a *app) run(ctx context.Context, cfg *config.Config) error {
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace shutdown failed", zap.Error(err))
		}
	}()

	rec := metrics.NewRecorder()
	h, err := harness.Build(cfg, harness.Options{
		Logger:   logger,
		Tracer:   tp.Tracer(tracerName),
		Observer: rec,
	})
	if err != nil {
		return err
	}

	result, runErr := h.Run(ctx)
	if result == nil {
		return runErr
	}
	a.code = result.ExitCode()

	if err := a.writeReport(cfg.Report.Output, format, func(w io.Writer) error {
		return report.Write(w, format, result)
	}); err != nil {
		return err
	}
	if cfg.Metrics.Textfile != "" {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return err
		}
		logger.Info("wrote metrics", zap.String("path", cfg.Metrics.Textfile))
	}
	return runErr
}

func (a *app) writeReport(path string, format report.Format, write func(io.Writer) error) error {
	if path == "" {
		return write(a.stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s report: %w", format, err)
	}
	return f.Close()
}
