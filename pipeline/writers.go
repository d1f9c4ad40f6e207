package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-crawl-listings/models"
)

// CSVHeader is the first row of every CSV output.
var CSVHeader = []string{"Name", "Price", "Link"}

// ErrWriterClosed is returned when a writer is used after Commit or Close.
var ErrWriterClosed = errors.New("pipeline: writer closed")

// stagedFile collects output in a temporary sibling of target. The target
// only changes when commit renames the finished file over it.
type stagedFile struct {
	target string
	file   *os.File
	closed bool
}

func createStaged(target string) (*stagedFile, error) {
	if err := ensureDir(target); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create staging file for %s: %w", target, err)
	}
	return &stagedFile{target: target, file: f}, nil
}

func (s *stagedFile) size() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *stagedFile) commit() error {
	if s.closed {
		return ErrWriterClosed
	}
	s.closed = true

	if err := s.file.Chmod(0o644); err != nil {
		s.abandon()
		return fmt.Errorf("chmod %s: %w", s.file.Name(), err)
	}
	if err := s.file.Sync(); err != nil {
		s.abandon()
		return fmt.Errorf("sync %s: %w", s.file.Name(), err)
	}
	if err := s.file.Close(); err != nil {
		os.Remove(s.file.Name())
		return fmt.Errorf("close %s: %w", s.file.Name(), err)
	}
	if err := os.Rename(s.file.Name(), s.target); err != nil {
		os.Remove(s.file.Name())
		return fmt.Errorf("replace %s: %w", s.target, err)
	}
	return nil
}

// discard drops uncommitted output. It is a no-op after commit.
func (s *stagedFile) discard() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.abandon()
}

func (s *stagedFile) abandon() error {
	closeErr := s.file.Close()
	if err := os.Remove(s.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.file.Name(), err)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	staged *stagedFile
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter stages a CSV file for filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	staged, err := createStaged(filename)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(staged.file)
	if err := writer.Write(CSVHeader); err != nil {
		staged.discard()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		staged.discard()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		staged: staged,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []models.Record) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.staged.closed {
		return ErrWriterClosed
	}
	for _, r := range records {
		if err := cw.writer.Write([]string{r.Name, r.PriceText, r.Link}); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Validate ensures the header made it to the staged file.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	size, err := cw.staged.size()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// Commit moves the finished CSV into place.
func (cw *CSVWriter) Commit() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.staged.discard()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.staged.commit()
}

// Close discards the output unless it was committed.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.staged.discard()
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	staged  *stagedFile
	writer  *bufio.Writer
	encoder *json.Encoder
	count   int
	mu      sync.Mutex
}

// NewJSONWriter stages a JSONL file for filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	staged, err := createStaged(filename)
	if err != nil {
		return nil, err
	}

	buffer := bufio.NewWriter(staged.file)
	return &JSONWriter{
		staged:  staged,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []models.Record) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.staged.closed {
		return ErrWriterClosed
	}
	for _, r := range records {
		if err := jw.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		jw.count++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Validate ensures the JSON file holds data when records were written.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	size, err := jw.staged.size()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if jw.count > 0 && size <= 0 {
		return fmt.Errorf("json file is empty after %d records", jw.count)
	}
	return nil
}

// Commit moves the finished JSONL file into place.
func (jw *JSONWriter) Commit() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.staged.discard()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.staged.commit()
}

// Close discards the output unless it was committed.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.staged.discard()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
