// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"barscan/internal/models"
	"barscan/pkg/utils"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Intraday OHLCV bars
	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		day TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(ticker, timeframe, timestamp)
	);

	-- Accepted detector signals
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		signal_date TEXT NOT NULL,
		signal_time TEXT NOT NULL,
		direction TEXT,
		pattern_strength REAL,
		metrics TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(ticker, signal_date)
	);

	-- Simulated trade outcomes
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		signal_date TEXT NOT NULL,
		template TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_time TEXT,
		entry_price REAL,
		exits TEXT,
		pnl REAL,
		pnl_percent REAL,
		no_trade INTEGER DEFAULT 0,
		no_trade_reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_bars_ticker_day ON bars(ticker, day);
	CREATE INDEX IF NOT EXISTS idx_bars_ticker_timestamp ON bars(ticker, timestamp);
	CREATE INDEX IF NOT EXISTS idx_signals_ticker ON signals(ticker);
	CREATE INDEX IF NOT EXISTS idx_outcomes_ticker ON outcomes(ticker);
	CREATE INDEX IF NOT EXISTS idx_outcomes_date ON outcomes(signal_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveBars saves bars to the database.
func (s *SQLiteStore) SaveBars(ctx context.Context, timeframe string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (ticker, timeframe, timestamp, day, time_of_day, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		day := utils.DateOf(b.Timestamp, nil)
		_, err := stmt.ExecContext(ctx, b.Ticker, timeframe, b.Timestamp, day, b.TimeOfDay, b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetDayBars retrieves one ticker's bars for a single calendar date, ordered
// by timestamp.
func (s *SQLiteStore) GetDayBars(ctx context.Context, ticker, date string) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, timestamp, time_of_day, open, high, low, close, volume
		FROM bars
		WHERE ticker = ? AND day = ?
		ORDER BY timestamp ASC
	`, ticker, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Ticker, &b.Timestamp, &b.TimeOfDay, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}

	return bars, rows.Err()
}

// TradingDays returns the distinct calendar dates with bars for a ticker in
// the inclusive date range, in chronological order.
func (s *SQLiteStore) TradingDays(ctx context.Context, ticker, startDate, endDate string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT day FROM bars
		WHERE ticker = ? AND day >= ? AND day <= ?
		ORDER BY day ASC
	`, ticker, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query trading days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, day)
	}

	return days, rows.Err()
}

// PreviousClose returns the closing price of the last bar before the given
// date, for gap calculations.
func (s *SQLiteStore) PreviousClose(ctx context.Context, ticker, date string) (float64, error) {
	var close float64
	err := s.db.QueryRowContext(ctx, `
		SELECT close FROM bars
		WHERE ticker = ? AND day < ?
		ORDER BY day DESC, timestamp DESC
		LIMIT 1
	`, ticker, date).Scan(&close)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no previous close for %s before %s", ticker, date)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get previous close: %w", err)
	}
	return close, nil
}

// SaveSignal persists an accepted signal. The unique (ticker, signal_date)
// constraint mirrors the one-signal-per-day rule.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *models.Signal) error {
	metrics, _ := json.Marshal(sig.Metrics)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals (ticker, signal_date, signal_time, direction, pattern_strength, metrics)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sig.Ticker, sig.SignalDate, sig.SignalTime, string(sig.Direction), sig.PatternStrength, string(metrics))
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// Signals retrieves saved signals for a ticker and date range, ordered by
// date. An empty ticker matches all tickers.
func (s *SQLiteStore) Signals(ctx context.Context, ticker, startDate, endDate string) ([]models.Signal, error) {
	query := `SELECT ticker, signal_date, signal_time, direction, pattern_strength, metrics FROM signals WHERE 1=1`
	args := []interface{}{}

	if ticker != "" {
		query += " AND ticker = ?"
		args = append(args, ticker)
	}
	if startDate != "" {
		query += " AND signal_date >= ?"
		args = append(args, startDate)
	}
	if endDate != "" {
		query += " AND signal_date <= ?"
		args = append(args, endDate)
	}
	query += " ORDER BY signal_date ASC, ticker ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var direction, metricsJSON string

		if err := rows.Scan(&sig.Ticker, &sig.SignalDate, &sig.SignalTime, &direction, &sig.PatternStrength, &metricsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}

		json.Unmarshal([]byte(metricsJSON), &sig.Metrics)
		sig.Direction = models.Direction(direction)
		signals = append(signals, sig)
	}

	return signals, rows.Err()
}

// SaveOutcome persists a simulated trade outcome.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, outcome *models.TradeOutcome) error {
	exits, _ := json.Marshal(outcome.Exits)
	noTrade := 0
	if outcome.NoTrade {
		noTrade = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (ticker, signal_date, template, direction, entry_time, entry_price, exits, pnl, pnl_percent, no_trade, no_trade_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, outcome.Ticker, outcome.SignalDate, outcome.Template, string(outcome.Direction), outcome.EntryTime, outcome.EntryPrice, string(exits), outcome.PnL, outcome.PnLPercent, noTrade, outcome.NoTradeReason)
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// Outcomes retrieves trade outcomes matching the filter.
func (s *SQLiteStore) Outcomes(ctx context.Context, filter OutcomeFilter) ([]models.TradeOutcome, error) {
	query := `SELECT ticker, signal_date, template, direction, entry_time, entry_price, exits, pnl, pnl_percent, no_trade, no_trade_reason FROM outcomes WHERE 1=1`
	args := []interface{}{}

	if filter.Ticker != "" {
		query += " AND ticker = ?"
		args = append(args, filter.Ticker)
	}
	if filter.StartDate != "" {
		query += " AND signal_date >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		query += " AND signal_date <= ?"
		args = append(args, filter.EndDate)
	}
	if filter.Template != "" {
		query += " AND template = ?"
		args = append(args, filter.Template)
	}

	query += " ORDER BY signal_date DESC, ticker ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.TradeOutcome
	for rows.Next() {
		var o models.TradeOutcome
		var direction, exitsJSON string
		var noTrade int

		if err := rows.Scan(&o.Ticker, &o.SignalDate, &o.Template, &direction, &o.EntryTime, &o.EntryPrice, &exitsJSON, &o.PnL, &o.PnLPercent, &noTrade, &o.NoTradeReason); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}

		json.Unmarshal([]byte(exitsJSON), &o.Exits)
		o.Direction = models.Direction(direction)
		o.NoTrade = noTrade == 1
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
