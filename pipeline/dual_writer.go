package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/go-crawl-listings/models"
)

type namedSink struct {
	name string
	w    OutputWriter
}

// DualWriter sends every batch to a CSV and a JSONL sink. Once either sink
// rejects a batch the writer refuses further batches and will not commit, so
// the two files are published together or not at all.
type DualWriter struct {
	sinks  []namedSink
	broken error
	mu     sync.Mutex
}

// NewDualWriter stages both outputs.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{
		sinks: []namedSink{
			{name: "csv", w: csvWriter},
			{name: "json", w: jsonWriter},
		},
	}, nil
}

func (dw *DualWriter) Write(records []models.Record) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.broken != nil {
		return dw.broken
	}
	for _, s := range dw.sinks {
		if err := s.w.Write(records); err != nil {
			dw.broken = fmt.Errorf("%s write: %w", s.name, err)
			return dw.broken
		}
	}
	return nil
}

func (dw *DualWriter) Validate() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.broken != nil {
		return dw.broken
	}
	var errs []error
	for _, s := range dw.sinks {
		if err := s.w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validation: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Commit publishes both files. Nothing is published after a failed batch.
func (dw *DualWriter) Commit() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.broken != nil {
		return fmt.Errorf("not committing after failed batch: %w", dw.broken)
	}
	for _, s := range dw.sinks {
		if err := s.w.Commit(); err != nil {
			dw.broken = fmt.Errorf("%s commit: %w", s.name, err)
			return dw.broken
		}
	}
	return nil
}

// Close discards whatever was not committed.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	for _, s := range dw.sinks {
		if err := s.w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// NewWriter creates the writer for format at filename.
// The dual format derives the JSON path from the CSV one.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "json":
		return NewJSONWriter(filename)
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		return NewDualWriter(filename, strings.TrimSuffix(filename, ".csv")+".json")
	case "sqlite":
		return NewSQLiteWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
