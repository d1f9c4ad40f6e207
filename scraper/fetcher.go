package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-crawl-listings/config"
	"github.com/aluiziolira/go-crawl-listings/models"
	"github.com/aluiziolira/go-crawl-listings/parser"
	"github.com/cenkalti/backoff/v4"
)

// Fetcher retrieves and parses one page with bounded, constant-delay retries.
type Fetcher struct {
	retriever   Retriever
	parser      parser.Parser
	target      func(page int) (string, error)
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	metrics     *Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithMetrics records attempts and errors on m.
func WithMetrics(m *Metrics) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// NewFetcher builds a fetcher from cfg.
func NewFetcher(cfg *config.Config, retriever Retriever, p parser.Parser, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		retriever:   retriever,
		parser:      p,
		target:      cfg.PageURL,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch drives one page to a terminal outcome. It never returns an error to
// the caller; failures are carried in the outcome.
//
// Cancelling ctx never cuts an attempt short. It is checked before each
// attempt and interrupts the wait between attempts; a page stopped that way
// is returned as Interrupted rather than failed.
func (f *Fetcher) Fetch(ctx context.Context, page int) models.PageOutcome {
	outcome := models.PageOutcome{Page: page}

	target, err := f.target(page)
	if err != nil {
		outcome.Err = fmt.Errorf("build target for page %d: %w", page, err)
		return outcome
	}

	m := newRetryMachine(f.policy())
	var (
		records     []models.Record
		interrupted bool
	)

	for !m.done() {
		switch m.state {
		case stateAttempting:
			if err := ctx.Err(); err != nil {
				interrupted = true
				m.abort(err)
				continue
			}
			var attemptErr error
			records, attemptErr = f.attempt(ctx, target)
			m.attempted(attemptErr)
			if m.state == stateWaiting {
				f.metrics.IncRetries()
				slog.Debug("page attempt failed, retrying",
					slog.Int("page", page),
					slog.Int("attempt", m.attempts),
					slog.Duration("delay", m.delay),
					slog.String("category", errorTypeLabel(attemptErr)),
					slog.Any("error", attemptErr),
				)
			}
		case stateWaiting:
			waitErr := f.sleep(ctx, m.delay)
			if waitErr != nil {
				interrupted = true
			}
			m.waited(waitErr)
		}
	}

	outcome.Attempts = m.attempts
	if m.state == stateSucceeded {
		outcome.Records = records
		return outcome
	}

	if interrupted {
		outcome.Interrupted = true
		outcome.Err = fmt.Errorf("page %d interrupted after %d attempts: %w", page, m.attempts, m.lastErr)
		slog.Debug("page interrupted",
			slog.Int("page", page),
			slog.Int("attempts", m.attempts),
		)
		return outcome
	}

	outcome.Err = ErrExhausted{Attempts: m.attempts, Err: m.lastErr}
	slog.Warn("page failed",
		slog.Int("page", page),
		slog.Int("attempts", m.attempts),
		slog.String("category", errorTypeLabel(m.lastErr)),
		slog.Any("error", m.lastErr),
	)
	return outcome
}

func (f *Fetcher) policy() backoff.BackOff {
	return constantPolicy(f.retryDelay, f.maxAttempts)
}

// attempt performs one retrieval and parse under the per-attempt timeout.
// The attempt keeps ctx's values but not its cancellation.
func (f *Fetcher) attempt(ctx context.Context, target string) ([]models.Record, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	start := time.Now()
	body, err := f.retriever.Retrieve(attemptCtx, target)
	f.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		err = classifyError(err, 0)
		f.metrics.IncAttempt("error")
		f.metrics.IncError(errorTypeLabel(err))
		return nil, err
	}

	records, err := f.parser.Parse(body)
	if err != nil {
		f.metrics.IncAttempt("unparseable")
		f.metrics.IncError(errorTypeLabel(err))
		return nil, err
	}

	f.metrics.IncAttempt("success")
	return records, nil
}
