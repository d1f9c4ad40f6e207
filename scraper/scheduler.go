package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-crawl-listings/models"
)

// PageFetcher drives one page to a terminal outcome.
type PageFetcher interface {
	Fetch(ctx context.Context, page int) models.PageOutcome
}

// Scheduler spreads pages 1..N over a fixed pool of workers.
type Scheduler struct {
	fetcher   PageFetcher
	workers   int
	taskDelay time.Duration
	metrics   *Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewScheduler builds a scheduler with workers goroutines that each pause
// taskDelay after every page.
func NewScheduler(fetcher PageFetcher, workers int, taskDelay time.Duration, metrics *Metrics) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		fetcher:   fetcher,
		workers:   workers,
		taskDelay: taskDelay,
		metrics:   metrics,
		sleep:     sleepContext,
	}
}

// Run dispatches every page in 1..pages exactly once and streams outcomes as
// they complete. The channel closes when all workers have exited.
//
// Cancelling ctx stops dispatch; workers finish the attempt they hold and
// pages never handed out produce no outcome.
func (s *Scheduler) Run(ctx context.Context, pages int) <-chan models.PageOutcome {
	out := make(chan models.PageOutcome, s.workers)
	backlog := make(chan int)

	go func() {
		defer close(backlog)
		for page := 1; page <= pages; page++ {
			select {
			case <-ctx.Done():
				slog.Info("dispatch stopped", slog.Int("next_page", page), slog.Int("pages", pages))
				return
			case backlog <- page:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go s.worker(ctx, i, backlog, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (s *Scheduler) worker(ctx context.Context, id int, backlog <-chan int, out chan<- models.PageOutcome, wg *sync.WaitGroup) {
	defer wg.Done()
	handled := 0

	for page := range backlog {
		if ctx.Err() != nil {
			slog.Debug("worker dropping undispatched page", slog.Int("worker_id", id), slog.Int("page", page))
			return
		}
		s.metrics.workerBusy(1)
		outcome := s.fetcher.Fetch(ctx, page)
		s.metrics.workerBusy(-1)
		if !outcome.Interrupted {
			s.metrics.ObservePage(outcome.Success(), len(outcome.Records))
		}
		handled++

		out <- outcome

		if err := s.sleep(ctx, s.taskDelay); err != nil {
			slog.Debug("worker stopping", slog.Int("worker_id", id), slog.Int("pages_handled", handled))
			return
		}
	}
}
