package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-crawl-listings/config"
	"github.com/aluiziolira/go-crawl-listings/models"
	"github.com/aluiziolira/go-crawl-listings/pipeline"
	"github.com/aluiziolira/go-crawl-listings/scraper"
	"github.com/aluiziolira/go-crawl-listings/server"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliFlags struct {
	configFile  string
	envFile     string
	baseURL     string
	pages       int
	baseWorkers int
	speed       float64
	maxRetries  int
	timeout     time.Duration
	output      string
	format      string
	dedupe      bool
	metricsAddr string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	var flags cliFlags
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "crawler",
		Short:         "Crawl a paginated product catalog into a single dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "TOML config file")
	f.StringVar(&flags.envFile, "env-file", ".env", "dotenv file with CRAWLER_* overrides")
	f.StringVar(&flags.baseURL, "base-url", defaults.BaseURL, "Catalog URL; the page number is set as a query parameter")
	f.IntVar(&flags.pages, "pages", defaults.Pages, "Number of catalog pages to crawl")
	f.IntVar(&flags.baseWorkers, "base-workers", defaults.BaseWorkers, "Worker count before speed factor scaling")
	f.Float64Var(&flags.speed, "speed", defaults.SpeedFactor, "Speed factor: divides workers, multiplies delays")
	f.IntVar(&flags.maxRetries, "max-retries", defaults.MaxRetries, "Attempts per page before it counts as failed")
	f.DurationVar(&flags.timeout, "timeout", defaults.Timeout, "Per-attempt timeout")
	f.StringVar(&flags.output, "output", defaults.OutputFile, "Output file path")
	f.StringVar(&flags.format, "format", defaults.OutputFormat, "Output format: csv, json, dual, or sqlite")
	f.BoolVar(&flags.dedupe, "dedupe", defaults.Dedupe, "Drop records whose link was already written")
	f.StringVar(&flags.metricsAddr, "metrics-addr", defaults.MetricsAddr, "Status server listen address (e.g. :9090)")
	f.BoolVarP(&flags.verbose, "verbose", "v", defaults.Verbose, "Enable verbose logging")

	return cmd
}

// loadConfig layers defaults, the config file, the environment, and any
// flags set explicitly on the command line.
func loadConfig(cmd *cobra.Command, flags *cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configFile != "" {
		if err := config.LoadFile(cfg, flags.configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("base-url") {
		cfg.BaseURL = flags.baseURL
	}
	if changed("pages") {
		cfg.Pages = flags.pages
	}
	if changed("base-workers") {
		cfg.BaseWorkers = flags.baseWorkers
	}
	if changed("speed") {
		cfg.SpeedFactor = flags.speed
	}
	if changed("max-retries") {
		cfg.MaxRetries = flags.maxRetries
	}
	if changed("timeout") {
		cfg.Timeout = flags.timeout
	}
	if changed("output") {
		cfg.OutputFile = flags.output
	}
	if changed("format") {
		cfg.OutputFormat = strings.ToLower(flags.format)
	}
	if changed("dedupe") {
		cfg.Dedupe = flags.dedupe
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if changed("verbose") {
		cfg.Verbose = flags.verbose
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config) error {
	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, finishing in-flight pages")
		case <-finished:
		}
	}()

	slog.Info("starting crawl",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.Pages),
		slog.Int("workers", cfg.Workers()),
		slog.Int("max_retries", cfg.MaxRetries),
		slog.Duration("retry_delay", cfg.RetryDelay()),
		slog.Duration("task_delay", cfg.TaskDelay()),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return err
	}

	tracker := &server.ProgressTracker{}
	var status *server.Server
	if cfg.MetricsAddr != "" {
		status = server.New(cfg.MetricsAddr, tracker, s.Metrics.Registry)
		status.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := status.Shutdown(shutdownCtx); err != nil {
				slog.Error("status server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	agg := s.NewAggregator(pipeline.NewLogReporter(cfg.ProgressEvery), tracker.Observe)
	result, err := s.Run(ctx, agg)
	if err != nil {
		slog.Error("crawl failed", slog.Any("error", err))
		return err
	}

	written, metrics, err := deliver(cfg, result.Dataset)
	if err != nil {
		slog.Error("writing output failed", slog.Any("error", err))
		return err
	}

	printSummary(result, written, cfg.OutputFile, metrics)
	return nil
}

// deliver writes the finished dataset; the output file is only created once
// the crawl is over and only replaced once every record is written.
func deliver(cfg *config.Config, dataset []models.Record) (int, map[string]interface{}, error) {
	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return 0, nil, fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("closing writer", slog.Any("error", err))
		}
	}()

	p, err := pipeline.NewPipeline(writer, cfg)
	if err != nil {
		return 0, nil, err
	}

	written, err := p.Deliver(dataset)
	if err != nil {
		return written, nil, err
	}
	return written, p.GetMetrics(), nil
}

func printSummary(result *models.CrawlResult, written int, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	duration := result.Duration()
	pagesPerSec := 0.0
	if duration.Seconds() > 0 {
		pagesPerSec = float64(result.State.PagesCompleted) / duration.Seconds()
	}

	fmt.Printf("  Pages:         %d/%d\n", result.State.PagesCompleted, result.Total)
	fmt.Printf("  Records:       %d\n", result.State.RecordsCollected)
	fmt.Printf("  Failed pages:  %d\n", result.State.PagesFailed)
	if result.Skipped > 0 {
		fmt.Printf("  Skipped pages: %d\n", result.Skipped)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %s\n", formatCounts(result.ErrorsByType))
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %s\n", formatCounts(valErrors))
	}
	fmt.Printf("  Written:       %d\n", written)
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Pages/sec:     %.2f\n", pagesPerSec)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
