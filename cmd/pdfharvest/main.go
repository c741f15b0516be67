package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvmarrod/pdf-harvest/internal/config"
	"github.com/alvmarrod/pdf-harvest/internal/harvest"
	"github.com/alvmarrod/pdf-harvest/internal/model"
	"github.com/alvmarrod/pdf-harvest/internal/report"
	"github.com/alvmarrod/pdf-harvest/internal/storage"
	"github.com/alvmarrod/pdf-harvest/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitOK        = 0
	exitFatal     = 1
	exitFailures  = 2
	exitCancelled = 130
)

// newRootCmd builds the command and its flags
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pdfharvest [flags] <page-url>",
		Short:         "Download every PDF linked from a web page",
		Version:       version.Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	def := config.Default()

	flags := cmd.Flags()
	flags.StringP("out", "o", def.OutputDir, "Destination directory")
	flags.String("config", "", "JSON configuration file")
	flags.IntP("concurrency", "c", def.ConcurrentWorkers, "Number of concurrent downloads")
	flags.Int("attempts", def.MaxAttempts, "Attempts per file, including the first")
	flags.Bool("overwrite", def.Overwrite, "Replace existing files instead of numbering new ones")
	flags.Duration("timeout", time.Duration(def.RequestTimeoutMs)*time.Millisecond, "Timeout per request attempt")
	flags.Bool("resume", def.Resume, "Skip files a previous session already downloaded (requires --db)")
	flags.String("db", def.DBPath, "SQLite session ledger path")
	flags.String("metrics", def.MetricsPath, "Write a JSON session report to this path")
	flags.Int("max-per-host", def.MaxPerHost, "Concurrent requests per host (0 = unlimited)")
	flags.Float64("rate", def.RateLimitPerSecond, "Requests per second per host (0 = unlimited)")
	flags.BoolP("verbose", "v", false, "Enable debug logging")

	return cmd
}

func main() {
	// Configure logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		logrus.Error(err)
		os.Exit(exitFatal)
	}
}

// exitError carries a process exit code out of RunE
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func run(cmd *cobra.Command, args []string) error {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	logrus.Infof("PDF Harvest v%s starting...", version.Version)
	logrus.Infof("Configuration loaded: page=%s, out=%s, workers=%d, attempts=%d",
		cfg.PageURL, cfg.OutputDir, cfg.ConcurrentWorkers, cfg.MaxAttempts)

	// Initialize ledger
	var ledger harvest.Ledger
	if cfg.DBPath != "" {
		store, err := storage.NewStorage(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()
		ledger = store
		logrus.Infof("Database initialized: %s", cfg.DBPath)
	}

	h := harvest.New(harvest.OptionsFromConfig(cfg), ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal cancels the session, second one exits immediately
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logrus.Infof("Received signal: %v, cancelling downloads (send again to force exit)", sig)
		cancel()

		sig = <-sigChan
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		if cfg.MetricsPath != "" {
			if err := h.Report().WriteToFile(cfg.MetricsPath, "forced_exit"); err != nil {
				logrus.Errorf("Emergency report save failed: %v", err)
			}
		}
		os.Exit(exitCancelled)
	}()

	// Start progress logger
	stopProgress := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(h.Report().LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	summary, harvestErr := h.Harvest(ctx, cfg.PageURL, cfg.OutputDir)
	close(stopProgress)

	if cfg.MetricsPath != "" {
		if err := h.Report().WriteToFile(cfg.MetricsPath, h.TerminationReason()); err != nil {
			logrus.Errorf("Failed to write report: %v", err)
		} else {
			logrus.Infof("Report written to %s", cfg.MetricsPath)
		}
	}

	printSummary(cmd, summary, h.Report().Failures(), h.Report().Skipped())

	switch {
	case errors.Is(harvestErr, model.ErrCancelled):
		return &exitError{code: exitCancelled}
	case harvestErr != nil:
		return harvestErr
	case summary.Failed > 0:
		return &exitError{code: exitFailures}
	}
	return nil
}

// loadConfig merges defaults, the optional config file and explicit flags
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if len(args) == 1 {
		cfg.PageURL = args[0]
	}

	if flags.Changed("out") {
		cfg.OutputDir, _ = flags.GetString("out")
	}
	if flags.Changed("concurrency") {
		cfg.ConcurrentWorkers, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("attempts") {
		cfg.MaxAttempts, _ = flags.GetInt("attempts")
	}
	if flags.Changed("overwrite") {
		cfg.Overwrite, _ = flags.GetBool("overwrite")
	}
	if flags.Changed("timeout") {
		timeout, _ := flags.GetDuration("timeout")
		cfg.RequestTimeoutMs = int(timeout.Milliseconds())
	}
	if flags.Changed("resume") {
		cfg.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("db") {
		cfg.DBPath, _ = flags.GetString("db")
	}
	if flags.Changed("metrics") {
		cfg.MetricsPath, _ = flags.GetString("metrics")
	}
	if flags.Changed("max-per-host") {
		cfg.MaxPerHost, _ = flags.GetInt("max-per-host")
	}
	if flags.Changed("rate") {
		cfg.RateLimitPerSecond, _ = flags.GetFloat64("rate")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printSummary(cmd *cobra.Command, summary model.SessionSummary, failures []model.DownloadOutcome, skipped []model.SkippedLink) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Downloaded %d of %d files (%s) in %s\n",
		summary.Succeeded, summary.TotalLinks, report.FormatBytes(summary.TotalBytes), summary.TotalElapsed.Round(time.Millisecond))
	if summary.Resumed > 0 {
		fmt.Fprintf(out, "Already present: %d\n", summary.Resumed)
	}
	if summary.Duplicates > 0 || summary.Skipped > 0 {
		fmt.Fprintf(out, "Duplicate links: %d, unresolvable links: %d\n", summary.Duplicates, summary.Skipped)
	}
	if summary.Cancelled > 0 {
		fmt.Fprintf(out, "Cancelled: %d\n", summary.Cancelled)
	}

	if len(skipped) > 0 {
		fmt.Fprintf(out, "Skipped: %d\n", len(skipped))
		for _, s := range skipped {
			fmt.Fprintf(out, "  %s: %s\n", s.RawHref, s.Reason)
		}
	}

	if len(failures) > 0 {
		fmt.Fprintf(out, "Failed: %d\n", len(failures))
		for _, f := range failures {
			fmt.Fprintf(out, "  %s: %s\n", f.URL, f.ErrorMessage())
		}
	}
}
