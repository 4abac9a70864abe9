package store

import (
	"database/sql"
	"os"
	"strings"
	"testing"

	"barscan/internal/models"
)

func TestMaterializeWindowContainsOnlyGivenBars(t *testing.T) {
	m := &WindowMaterializer{Timeframe: "1min"}
	dir := t.TempDir()

	window := []models.Bar{
		barAt("AAPL", "2026-03-02", 0, 100.0),
		barAt("AAPL", "2026-03-02", 1, 100.5),
		barAt("AAPL", "2026-03-02", 2, 101.0),
	}

	path, err := m.MaterializeWindow(dir, "AAPL", 2, window)
	if err != nil {
		t.Fatalf("MaterializeWindow failed: %v", err)
	}
	defer m.RemoveWindow(path)

	if !strings.HasPrefix(path, dir) {
		t.Errorf("Window created outside temp dir: %s", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open window: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM bars").Scan(&count); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	if count != len(window) {
		t.Errorf("Window holds %d bars, want exactly %d", count, len(window))
	}

	// The window store exposes only the single bars table; a detector
	// cannot reach signals, outcomes or other tickers through it.
	var tables int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name != 'sqlite_sequence'").Scan(&tables); err != nil {
		t.Fatalf("Schema query failed: %v", err)
	}
	if tables != 1 {
		t.Errorf("Window has %d tables, want 1", tables)
	}

	var last float64
	if err := db.QueryRow("SELECT close FROM bars ORDER BY timestamp DESC LIMIT 1").Scan(&last); err != nil {
		t.Fatalf("Last bar query failed: %v", err)
	}
	if last != 101.0 {
		t.Errorf("Last bar close = %v, want 101.0", last)
	}
}

func TestMaterializeWindowUniquePaths(t *testing.T) {
	m := &WindowMaterializer{}
	dir := t.TempDir()
	window := []models.Bar{barAt("AAPL", "2026-03-02", 0, 100.0)}

	p1, err := m.MaterializeWindow(dir, "AAPL", 5, window)
	if err != nil {
		t.Fatalf("MaterializeWindow failed: %v", err)
	}
	p2, err := m.MaterializeWindow(dir, "AAPL", 5, window)
	if err != nil {
		t.Fatalf("MaterializeWindow failed: %v", err)
	}
	if p1 == p2 {
		t.Errorf("Same step produced colliding paths: %s", p1)
	}
	m.RemoveWindow(p1)
	m.RemoveWindow(p2)
}

func TestRemoveWindow(t *testing.T) {
	m := &WindowMaterializer{}
	dir := t.TempDir()

	path, err := m.MaterializeWindow(dir, "AAPL", 0, []models.Bar{barAt("AAPL", "2026-03-02", 0, 100.0)})
	if err != nil {
		t.Fatalf("MaterializeWindow failed: %v", err)
	}

	if err := m.RemoveWindow(path); err != nil {
		t.Fatalf("RemoveWindow failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Window file still exists after removal")
	}

	// Removing twice is not an error.
	if err := m.RemoveWindow(path); err != nil {
		t.Errorf("Second RemoveWindow failed: %v", err)
	}
}
