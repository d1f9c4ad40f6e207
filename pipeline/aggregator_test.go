package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/aluiziolira/go-crawl-listings/models"
)

func rec(name string) models.Record {
	return models.Record{Name: name, PriceText: "$1.00", Link: "https://shop.test/" + name}
}

func feed(outcomes ...models.PageOutcome) <-chan models.PageOutcome {
	ch := make(chan models.PageOutcome, len(outcomes))
	for _, o := range outcomes {
		ch <- o
	}
	close(ch)
	return ch
}

func TestAggregatorCollectReconciles(t *testing.T) {
	var events []models.Progress
	agg := NewAggregator(3,
		WithObserver(func(p models.Progress) { events = append(events, p) }),
		WithErrorLabeler(func(error) string { return "server_error" }),
	)

	result := agg.Collect(feed(
		models.PageOutcome{Page: 1, Records: []models.Record{rec("a"), rec("b")}, Attempts: 1},
		models.PageOutcome{Page: 2, Attempts: 5, Err: errors.New("boom")},
		models.PageOutcome{Page: 3, Records: []models.Record{}, Attempts: 1},
	))

	if result.State.RecordsCollected != 2 {
		t.Fatalf("records collected=%d, want 2", result.State.RecordsCollected)
	}
	if result.State.PagesFailed != 1 {
		t.Fatalf("pages failed=%d, want 1", result.State.PagesFailed)
	}
	if result.State.PagesCompleted != 3 {
		t.Fatalf("pages completed=%d, want 3", result.State.PagesCompleted)
	}
	if len(result.Dataset) != 2 {
		t.Fatalf("dataset=%d, want 2", len(result.Dataset))
	}
	if result.Skipped != 0 {
		t.Fatalf("skipped=%d, want 0", result.Skipped)
	}
	if len(result.FailedPages) != 1 || result.FailedPages[0] != 2 {
		t.Fatalf("failed pages=%v, want [2]", result.FailedPages)
	}
	if result.ErrorsByType["server_error"] != 1 {
		t.Fatalf("errors by type=%v", result.ErrorsByType)
	}

	if len(events) != 4 {
		t.Fatalf("events=%d, want 3 progress + 1 final", len(events))
	}
	for i, ev := range events[:3] {
		if ev.PagesCompleted != i+1 || ev.Done {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
	if final := events[3]; !final.Done || final.PagesCompleted != 3 || final.RecordsCollected != 2 || final.PagesFailed != 1 {
		t.Fatalf("final event = %+v", final)
	}
}

func TestAggregatorKeepsArrivalOrder(t *testing.T) {
	agg := NewAggregator(3)
	result := agg.Collect(feed(
		models.PageOutcome{Page: 3, Records: []models.Record{rec("c1"), rec("c2")}},
		models.PageOutcome{Page: 1, Records: []models.Record{rec("a1")}},
		models.PageOutcome{Page: 2, Records: []models.Record{rec("b1")}},
	))

	want := []string{"c1", "c2", "a1", "b1"}
	if len(result.Dataset) != len(want) {
		t.Fatalf("dataset=%d, want %d", len(result.Dataset), len(want))
	}
	for i, name := range want {
		if result.Dataset[i].Name != name {
			t.Fatalf("dataset[%d]=%q, want %q", i, result.Dataset[i].Name, name)
		}
	}
}

func TestAggregatorIgnoresDuplicateOutcome(t *testing.T) {
	agg := NewAggregator(1)
	result := agg.Collect(feed(
		models.PageOutcome{Page: 1, Records: []models.Record{rec("a")}},
		models.PageOutcome{Page: 1, Records: []models.Record{rec("a")}},
	))

	if result.State.PagesCompleted != 1 || result.State.RecordsCollected != 1 || len(result.Dataset) != 1 {
		t.Fatalf("duplicate outcome counted: %+v dataset=%d", result.State, len(result.Dataset))
	}
}

func TestAggregatorReportsSkippedPages(t *testing.T) {
	agg := NewAggregator(5)
	result := agg.Collect(feed(
		models.PageOutcome{Page: 1, Records: []models.Record{rec("a")}},
		models.PageOutcome{Page: 2},
	))

	if result.Skipped != 3 {
		t.Fatalf("skipped=%d, want 3", result.Skipped)
	}
}

func TestAggregatorElapsed(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	var final models.Progress
	agg := NewAggregator(0,
		WithClock(clock),
		WithObserver(func(p models.Progress) { final = p }),
	)
	result := agg.Collect(feed())

	if !final.Done {
		t.Fatalf("expected final event")
	}
	if final.Elapsed <= 0 {
		t.Fatalf("elapsed=%v, want positive", final.Elapsed)
	}
	if result.Duration() <= 0 {
		t.Fatalf("duration=%v, want positive", result.Duration())
	}
	if result.State != (models.CrawlState{}) {
		t.Fatalf("state=%+v, want zero", result.State)
	}
}

func TestAggregatorCountsInterruptedPagesAsSkipped(t *testing.T) {
	agg := NewAggregator(3)
	result := agg.Collect(feed(
		models.PageOutcome{Page: 1, Records: []models.Record{rec("a")}, Attempts: 1},
		models.PageOutcome{Page: 2, Attempts: 1, Err: errors.New("canceled"), Interrupted: true},
	))

	if result.State.PagesFailed != 0 || len(result.FailedPages) != 0 {
		t.Fatalf("failed=%d pages=%v, want none", result.State.PagesFailed, result.FailedPages)
	}
	if result.State.PagesCompleted != 1 || result.Skipped != 2 {
		t.Fatalf("completed=%d skipped=%d, want 1/2", result.State.PagesCompleted, result.Skipped)
	}
}
