package pipeline

import (
	"log/slog"
	"sort"
	"time"

	"github.com/aluiziolira/go-crawl-listings/models"
)

// Observer receives a progress event after every outcome.
type Observer func(models.Progress)

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

// WithObserver registers an observer for progress events.
func WithObserver(o Observer) AggregatorOption {
	return func(a *Aggregator) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}

// WithErrorLabeler sets how failure errors are grouped in the result.
func WithErrorLabeler(label func(error) string) AggregatorOption {
	return func(a *Aggregator) {
		if label != nil {
			a.label = label
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator folds page outcomes into the crawl state and dataset.
// It is meant to be driven by a single goroutine.
type Aggregator struct {
	total     int
	observers []Observer
	label     func(error) string
	now       func() time.Time

	state        models.CrawlState
	dataset      []models.Record
	seen         map[int]struct{}
	failedPages  []int
	errorsByType map[string]int
	start        time.Time
}

// NewAggregator prepares an aggregator expecting total pages.
func NewAggregator(total int, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		total:        total,
		label:        func(error) string { return "error" },
		now:          time.Now,
		seen:         make(map[int]struct{}, total),
		errorsByType: make(map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect drains outcomes until the channel closes and returns the final
// state together with the dataset in arrival order.
func (a *Aggregator) Collect(outcomes <-chan models.PageOutcome) *models.CrawlResult {
	a.start = a.now()

	for outcome := range outcomes {
		if !a.fold(outcome) {
			continue
		}
		a.emit(false)
	}

	end := a.now()
	a.emit(true)

	failed := make([]int, len(a.failedPages))
	copy(failed, a.failedPages)
	sort.Ints(failed)

	skipped := a.total - a.state.PagesCompleted
	if skipped < 0 {
		skipped = 0
	}

	return &models.CrawlResult{
		State:        a.state,
		Dataset:      a.dataset,
		Total:        a.total,
		Skipped:      skipped,
		StartTime:    a.start,
		EndTime:      end,
		FailedPages:  failed,
		ErrorsByType: a.errorsByType,
	}
}

func (a *Aggregator) fold(outcome models.PageOutcome) bool {
	if outcome.Interrupted {
		slog.Debug("interrupted page left for skipped", slog.Int("page", outcome.Page))
		return false
	}
	if _, dup := a.seen[outcome.Page]; dup {
		slog.Warn("duplicate outcome ignored", slog.Int("page", outcome.Page))
		return false
	}
	a.seen[outcome.Page] = struct{}{}
	a.state.PagesCompleted++

	if outcome.Success() {
		a.state.RecordsCollected += len(outcome.Records)
		a.dataset = append(a.dataset, outcome.Records...)
		return true
	}

	a.state.PagesFailed++
	a.failedPages = append(a.failedPages, outcome.Page)
	a.errorsByType[a.label(outcome.Err)]++
	return true
}

func (a *Aggregator) emit(done bool) {
	if len(a.observers) == 0 {
		return
	}
	event := models.Progress{
		CrawlState: a.state,
		Total:      a.total,
		Elapsed:    a.now().Sub(a.start),
		Done:       done,
	}
	for _, o := range a.observers {
		o(event)
	}
}

// NewLogReporter logs progress every n completed pages and when the crawl ends.
func NewLogReporter(every int) Observer {
	return func(p models.Progress) {
		if p.Done {
			slog.Info("crawl finished",
				slog.Int("pages", p.PagesCompleted),
				slog.Int("total", p.Total),
				slog.Int("records", p.RecordsCollected),
				slog.Int("failed", p.PagesFailed),
				slog.Duration("elapsed", p.Elapsed),
			)
			return
		}
		if every <= 0 || p.PagesCompleted%every != 0 {
			return
		}
		pct := 0.0
		if p.Total > 0 {
			pct = float64(p.PagesCompleted) / float64(p.Total) * 100
		}
		slog.Info("crawl progress",
			slog.Int("pages", p.PagesCompleted),
			slog.Int("total", p.Total),
			slog.Float64("progress_pct", pct),
			slog.Int("records", p.RecordsCollected),
			slog.Int("failed", p.PagesFailed),
		)
	}
}
