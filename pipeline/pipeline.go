package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-crawl-listings/config"
	"github.com/aluiziolira/go-crawl-listings/models"
	"github.com/aluiziolira/go-crawl-listings/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Deliver is called a second time.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output. Nothing written is
// visible at the destination until Commit; Close discards uncommitted output.
type OutputWriter interface {
	Write(records []models.Record) error
	Validate() error
	Commit() error
	Close() error
}

// Pipeline hands a finished dataset to the output writer in batches.
type Pipeline struct {
	writer    OutputWriter
	batchSize int
	seen      *lru.Cache[string, struct{}]

	metrics metrics

	mu        sync.Mutex
	delivered bool
}

// NewPipeline builds the delivery stage for cfg. Link de-duplication is only
// enabled when cfg.Dedupe is set.
func NewPipeline(writer OutputWriter, cfg *config.Config) (*Pipeline, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	p := &Pipeline{
		writer:    writer,
		batchSize: batchSize,
		metrics:   newMetrics(),
	}
	if cfg.Dedupe {
		cache, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
		if err != nil {
			return nil, fmt.Errorf("create dedupe cache: %w", err)
		}
		p.seen = cache
	}
	return p, nil
}

// Deliver writes the dataset once, in order, validates the staged output and
// commits it. It returns how many records reached the writer. On error the
// output is left uncommitted for the caller's Close to discard.
func (p *Pipeline) Deliver(dataset []models.Record) (int, error) {
	p.mu.Lock()
	if p.delivered {
		p.mu.Unlock()
		return 0, ErrPipelineClosed
	}
	p.delivered = true
	p.mu.Unlock()

	batch := make([]models.Record, 0, p.batchSize)
	written := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, record := range dataset {
		if !p.prepare(record) {
			continue
		}
		batch = append(batch, record)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}

	if err := p.writer.Validate(); err != nil {
		return written, fmt.Errorf("output validation: %w", err)
	}
	if err := p.writer.Commit(); err != nil {
		return written, fmt.Errorf("commit output: %w", err)
	}

	slog.Debug("dataset delivered", slog.Int("records", written), slog.Int("dataset", len(dataset)))
	return written, nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) prepare(record models.Record) bool {
	if err := parser.ValidateRecord(record); err != nil {
		p.metrics.addValidation("invalid_record")
		return false
	}

	if p.seen != nil {
		if ok, _ := p.seen.ContainsOrAdd(record.Link, struct{}{}); ok {
			p.metrics.addValidation("duplicate_link")
			return false
		}
	}

	p.metrics.incrementDelivered()
	return true
}

type metrics struct {
	mu         sync.Mutex
	delivered  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementDelivered() {
	m.mu.Lock()
	m.delivered++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"delivered_records": m.delivered,
		"validation_errors": copyValidation,
	}
}
