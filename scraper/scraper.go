package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-crawl-listings/config"
	"github.com/aluiziolira/go-crawl-listings/models"
	"github.com/aluiziolira/go-crawl-listings/parser"
	"github.com/aluiziolira/go-crawl-listings/pipeline"
)

// Scraper wires the fetcher and scheduler for one catalog crawl.
type Scraper struct {
	cfg       *config.Config
	retriever Retriever
	fetcher   *Fetcher
	scheduler *Scheduler
	Metrics   *Metrics
}

// Option customises a Scraper.
type Option func(*scraperOptions)

type scraperOptions struct {
	retriever Retriever
	parser    parser.Parser
	fetchOpts []FetcherOption
}

// WithRetriever replaces the colly-backed retriever.
func WithRetriever(r Retriever) Option {
	return func(o *scraperOptions) {
		o.retriever = r
	}
}

// WithParser replaces the listing parser.
func WithParser(p parser.Parser) Option {
	return func(o *scraperOptions) {
		o.parser = p
	}
}

// WithFetcherOptions passes options through to the Fetcher.
func WithFetcherOptions(opts ...FetcherOption) Option {
	return func(o *scraperOptions) {
		o.fetchOpts = append(o.fetchOpts, opts...)
	}
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	var o scraperOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.retriever == nil {
		r, err := NewCollyRetriever(cfg)
		if err != nil {
			return nil, err
		}
		o.retriever = r
	}
	if o.parser == nil {
		p, err := parser.NewListingParser(cfg.BaseURL, cfg.Selectors())
		if err != nil {
			return nil, fmt.Errorf("build parser: %w", err)
		}
		o.parser = p
	}

	metrics := NewMetrics()
	fetchOpts := append([]FetcherOption{WithMetrics(metrics)}, o.fetchOpts...)
	fetcher := NewFetcher(cfg, o.retriever, o.parser, fetchOpts...)

	return &Scraper{
		cfg:       cfg,
		retriever: o.retriever,
		fetcher:   fetcher,
		scheduler: NewScheduler(fetcher, cfg.Workers(), cfg.TaskDelay(), metrics),
		Metrics:   metrics,
	}, nil
}

// Run crawls every configured page and folds the outcomes through agg.
func (s *Scraper) Run(ctx context.Context, agg *pipeline.Aggregator) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if agg == nil {
		return nil, fmt.Errorf("aggregator is required")
	}

	slog.Debug("scheduler starting",
		slog.Int("pages", s.cfg.Pages),
		slog.Int("workers", s.scheduler.workers),
		slog.Duration("task_delay", s.scheduler.taskDelay),
		slog.Duration("retry_delay", s.fetcher.retryDelay),
		slog.Int("max_attempts", s.fetcher.maxAttempts),
	)

	result := agg.Collect(s.scheduler.Run(ctx, s.cfg.Pages))

	if result.Skipped > 0 {
		slog.Warn("crawl interrupted",
			slog.Int("skipped", result.Skipped),
			slog.Int("completed", result.State.PagesCompleted),
		)
	}
	return result, nil
}

// NewAggregator builds an aggregator for this scraper's page count that
// labels failures with the scraper's error categories.
func (s *Scraper) NewAggregator(observers ...pipeline.Observer) *pipeline.Aggregator {
	opts := []pipeline.AggregatorOption{pipeline.WithErrorLabeler(ErrorLabel)}
	for _, o := range observers {
		opts = append(opts, pipeline.WithObserver(o))
	}
	return pipeline.NewAggregator(s.cfg.Pages, opts...)
}
