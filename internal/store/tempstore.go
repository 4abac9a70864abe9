package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"barscan/internal/models"
)

// Materializer creates and destroys the per-step scan stores handed to
// detector workers.
type Materializer interface {
	MaterializeWindow(dir, ticker string, step int, bars []models.Bar) (string, error)
	RemoveWindow(path string) error
}

// WindowMaterializer builds single-ticker temp databases containing only an
// authorized prefix of bars. The detector can query this file however it
// likes; data beyond the current bar simply does not exist in it.
type WindowMaterializer struct {
	Timeframe string
}

// MaterializeWindow writes bars into a fresh, uniquely-named SQLite file and
// returns its path. The file holds a single table with only the fields
// detectors need; construction completes before the path is handed out.
func (m *WindowMaterializer) MaterializeWindow(dir, ticker string, step int, bars []models.Bar) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	// Unique per ticker+step so concurrent batches never collide.
	name := fmt.Sprintf("scan_%s_%d_%s.db", ticker, step, uuid.NewString()[:8])
	path := filepath.Join(dir, name)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", fmt.Errorf("failed to create scan store: %w", err)
	}
	defer db.Close()

	schema := `
	CREATE TABLE bars (
		ticker TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		time_of_day TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		timeframe TEXT NOT NULL
	);
	CREATE INDEX idx_bars_ticker_timestamp ON bars(ticker, timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to create scan store schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO bars (ticker, timestamp, time_of_day, open, high, low, close, volume, timeframe)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	timeframe := m.Timeframe
	if timeframe == "" {
		timeframe = "1min"
	}

	for _, b := range bars {
		if _, err := stmt.Exec(b.Ticker, b.Timestamp, b.TimeOfDay, b.Open, b.High, b.Low, b.Close, b.Volume, timeframe); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to commit scan store: %w", err)
	}

	return path, nil
}

// RemoveWindow deletes a temp scan store. Missing files are not an error;
// callers defer this on every code path.
func (m *WindowMaterializer) RemoveWindow(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove scan store: %w", err)
	}
	return nil
}
