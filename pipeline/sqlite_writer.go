package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-crawl-listings/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL,
    price_text TEXT NOT NULL,
    link       TEXT NOT NULL
);
`

// SQLiteWriter replaces the records table of a SQLite database. The whole
// delivery runs in one transaction, so the previous rows stay until Commit.
type SQLiteWriter struct {
	db     *sql.DB
	tx     *sql.Tx
	insert *sql.Stmt
	count  int
	closed bool
	mu     sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database at filename and starts the
// transaction that replaces its records.
func NewSQLiteWriter(filename string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("begin sqlite tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("clear records: %w", err)
	}
	insert, err := tx.PrepareContext(ctx, `INSERT INTO records (name, price_text, link) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &SQLiteWriter{db: db, tx: tx, insert: insert}, nil
}

// Write inserts one batch into the pending transaction.
func (sw *SQLiteWriter) Write(records []models.Record) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrWriterClosed
	}
	for _, r := range records {
		if _, err := sw.insert.Exec(r.Name, r.PriceText, r.Link); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	sw.count += len(records)
	return nil
}

// Validate checks that the pending table holds every record written.
func (sw *SQLiteWriter) Validate() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrWriterClosed
	}
	var rows int
	if err := sw.tx.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&rows); err != nil {
		return fmt.Errorf("count sqlite rows: %w", err)
	}
	if rows != sw.count {
		return fmt.Errorf("sqlite has %d rows, wrote %d", rows, sw.count)
	}
	return nil
}

// Commit makes the new rows visible.
func (sw *SQLiteWriter) Commit() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrWriterClosed
	}
	sw.closed = true
	sw.insert.Close()
	if err := sw.tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// Close rolls back an uncommitted delivery and closes the database.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.closed {
		sw.closed = true
		sw.insert.Close()
		sw.tx.Rollback()
	}
	return sw.db.Close()
}
