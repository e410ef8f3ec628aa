// Package sqlitestore is the concrete TabularStore backed by
// modernc.org/sqlite, modeled on the pragma DSN and schema_version
// migration table pattern of the Eve-flipper example's internal/db
// package.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"signalengine/internal/store"
	"signalengine/pkg/model"
)

// Store wraps a SQLite connection implementing store.TabularStore.
type Store struct {
	db *sql.DB
}

var _ store.TabularStore = (*Store)(nil)

// Open opens (or creates) the database at path and runs migrations. Pass
// ":memory:" for an ephemeral in-process database, useful in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	var version int
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS instruments (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL,
				market     TEXT NOT NULL,
				asset_type TEXT NOT NULL,
				active     INTEGER NOT NULL DEFAULT 1
			);

			CREATE TABLE IF NOT EXISTS holdings (
				instrument_id  TEXT PRIMARY KEY REFERENCES instruments(id),
				account_class  TEXT NOT NULL,
				quantity       REAL NOT NULL,
				avg_cost       REAL NOT NULL,
				current_price  REAL NOT NULL,
				market_value   REAL NOT NULL,
				unrealized_pnl REAL NOT NULL,
				currency       TEXT NOT NULL,
				updated_at     TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS daily_prices (
				instrument_id TEXT NOT NULL,
				date          TEXT NOT NULL,
				open          REAL NOT NULL,
				high          REAL NOT NULL,
				low           REAL NOT NULL,
				close         REAL NOT NULL,
				volume        INTEGER NOT NULL,
				adj_close     REAL NOT NULL,
				PRIMARY KEY (instrument_id, date)
			);
			CREATE INDEX IF NOT EXISTS idx_daily_prices_instrument ON daily_prices(instrument_id, date);

			CREATE TABLE IF NOT EXISTS events (
				instrument_id TEXT NOT NULL,
				date          TEXT NOT NULL,
				description   TEXT NOT NULL,
				importance    INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS signal_history (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				instrument_id TEXT NOT NULL,
				action        TEXT NOT NULL,
				confidence    REAL NOT NULL,
				timestamp     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_signal_history_instrument ON signal_history(instrument_id, timestamp);

			CREATE TABLE IF NOT EXISTS notification_log (
				id            TEXT PRIMARY KEY,
				instrument_id TEXT NOT NULL,
				action        TEXT NOT NULL,
				message       TEXT NOT NULL,
				success       INTEGER NOT NULL,
				error         TEXT,
				timestamp     TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS portfolio_snapshots (
				date              TEXT PRIMARY KEY,
				total_value       REAL NOT NULL,
				daily_pnl         REAL NOT NULL,
				month_start_value REAL NOT NULL
			);

			INSERT INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpsertInstrument(ctx context.Context, in model.Instrument) error {
	active := 0
	if in.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO instruments (id, name, market, asset_type, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, market=excluded.market,
			asset_type=excluded.asset_type, active=excluded.active`,
		in.ID, in.Name, in.Market, in.AssetType, active)
	return err
}

func (s *Store) GetAllSymbols(ctx context.Context, activeOnly bool) ([]model.Instrument, error) {
	query := "SELECT id, name, market, asset_type, active FROM instruments"
	if activeOnly {
		query += " WHERE active = 1"
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var in model.Instrument
		var active int
		if err := rows.Scan(&in.ID, &in.Name, &in.Market, &in.AssetType, &active); err != nil {
			return nil, err
		}
		in.Active = active == 1
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) GetAllHoldings(ctx context.Context) ([]model.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instrument_id, account_class, quantity, avg_cost,
		current_price, market_value, unrealized_pnl, currency, updated_at FROM holdings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		var h model.Holding
		var updatedAt string
		if err := rows.Scan(&h.InstrumentID, &h.AccountClass, &h.Quantity, &h.AvgCost,
			&h.CurrentPrice, &h.MarketValue, &h.UnrealizedPnL, &h.Currency, &updatedAt); err != nil {
			return nil, err
		}
		h.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) UpsertHolding(ctx context.Context, h model.Holding) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO holdings
		(instrument_id, account_class, quantity, avg_cost, current_price, market_value, unrealized_pnl, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_id) DO UPDATE SET account_class=excluded.account_class,
			quantity=excluded.quantity, avg_cost=excluded.avg_cost, current_price=excluded.current_price,
			market_value=excluded.market_value, unrealized_pnl=excluded.unrealized_pnl,
			currency=excluded.currency, updated_at=excluded.updated_at`,
		h.InstrumentID, h.AccountClass, h.Quantity, h.AvgCost, h.CurrentPrice,
		h.MarketValue, h.UnrealizedPnL, h.Currency, h.UpdatedAt.Format(time.RFC3339))
	return err
}

func (s *Store) GetHoldingSymbolIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT instrument_id FROM holdings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) UpdateHoldingPrice(ctx context.Context, instrumentID string, price float64, at time.Time) error {
	var quantity, avgCost float64
	err := s.db.QueryRowContext(ctx, "SELECT quantity, avg_cost FROM holdings WHERE instrument_id = ?", instrumentID).
		Scan(&quantity, &avgCost)
	if err != nil {
		return err
	}
	h := model.Holding{Quantity: quantity, AvgCost: avgCost}
	h.Reprice(price, at)
	_, err = s.db.ExecContext(ctx, `UPDATE holdings SET current_price = ?, market_value = ?,
		unrealized_pnl = ?, updated_at = ? WHERE instrument_id = ?`,
		h.CurrentPrice, h.MarketValue, h.UnrealizedPnL, at.Format(time.RFC3339), instrumentID)
	return err
}

// InsertDailyPrice is an idempotent insert-or-replace keyed on
// (instrument_id, date).
func (s *Store) InsertDailyPrice(ctx context.Context, bar model.Bar) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO daily_prices
		(instrument_id, date, open, high, low, close, volume, adj_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_id, date) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume, adj_close=excluded.adj_close`,
		bar.InstrumentID, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.AdjClose)
	return err
}

func (s *Store) GetDailyPrices(ctx context.Context, instrumentID string, days int) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instrument_id, date, open, high, low, close, volume, adj_close
		FROM daily_prices WHERE instrument_id = ? ORDER BY date DESC LIMIT ?`, instrumentID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.InstrumentID, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.AdjClose); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to ascending chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) GetUpcomingEvents(ctx context.Context, horizonDays int) ([]model.Event, error) {
	cutoff := time.Now().AddDate(0, 0, horizonDays).Format("2006-01-02")
	rows, err := s.db.QueryContext(ctx, `SELECT instrument_id, date, description, importance
		FROM events WHERE date <= ? ORDER BY date ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		var date string
		if err := rows.Scan(&e.InstrumentID, &date, &e.Description, &e.Importance); err != nil {
			return nil, err
		}
		e.Date, _ = time.Parse("2006-01-02", date)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) InsertSignalHistory(ctx context.Context, d model.Decision) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO signal_history (instrument_id, action, confidence, timestamp)
		VALUES (?, ?, ?, ?)`, d.InstrumentID, d.Action, d.Confidence, d.Timestamp.Format(time.RFC3339))
	return err
}

// GetLatestSignalHistory returns the most recently inserted signal-history
// row for instrumentID. The orchestrator reads it before inserting a new
// decision and logs when the new decision differs; no write is made or
// skipped on the basis of that comparison. Returns (nil, nil) when no row
// exists yet.
func (s *Store) GetLatestSignalHistory(ctx context.Context, instrumentID string) (*model.Decision, error) {
	var d model.Decision
	var ts string
	err := s.db.QueryRowContext(ctx, `SELECT instrument_id, action, confidence, timestamp
		FROM signal_history WHERE instrument_id = ? ORDER BY id DESC LIMIT 1`, instrumentID).
		Scan(&d.InstrumentID, &d.Action, &d.Confidence, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Timestamp, _ = time.Parse(time.RFC3339, ts)
	return &d, nil
}

func (s *Store) InsertNotificationLog(ctx context.Context, log model.NotificationLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notification_log
		(id, instrument_id, action, message, success, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.InstrumentID, log.Action, log.Message, log.Success, log.Err, log.Timestamp.Format(time.RFC3339))
	return err
}

func (s *Store) SavePortfolioSnapshot(ctx context.Context, snap model.PortfolioSnapshot) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO portfolio_snapshots (date, total_value, daily_pnl, month_start_value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET total_value=excluded.total_value, daily_pnl=excluded.daily_pnl,
			month_start_value=excluded.month_start_value`,
		snap.Date, snap.TotalValue, snap.DailyPnL, snap.MonthStartValue)
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, date string) (*model.PortfolioSnapshot, error) {
	var snap model.PortfolioSnapshot
	err := s.db.QueryRowContext(ctx, `SELECT date, total_value, daily_pnl, month_start_value
		FROM portfolio_snapshots WHERE date = ?`, date).
		Scan(&snap.Date, &snap.TotalValue, &snap.DailyPnL, &snap.MonthStartValue)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) GetMonthStartValue(ctx context.Context, date string) (float64, error) {
	monthPrefix := date[:7] // YYYY-MM
	var value float64
	err := s.db.QueryRowContext(ctx, `SELECT total_value FROM portfolio_snapshots
		WHERE date LIKE ? ORDER BY date ASC LIMIT 1`, monthPrefix+"%").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return value, err
}

func (s *Store) CalculateMonthlyPnL(ctx context.Context, current float64) (float64, error) {
	today := time.Now().Format("2006-01-02")
	start, err := s.GetMonthStartValue(ctx, today)
	if err != nil {
		return 0, err
	}
	if start == 0 {
		return 0, nil
	}
	return current - start, nil
}

func (s *Store) CalculateWeeklyPnL(ctx context.Context, current float64) (float64, error) {
	weekAgo := time.Now().AddDate(0, 0, -7).Format("2006-01-02")
	var value float64
	err := s.db.QueryRowContext(ctx, `SELECT total_value FROM portfolio_snapshots
		WHERE date <= ? ORDER BY date DESC LIMIT 1`, weekAgo).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return current - value, nil
}

func (s *Store) CleanupIntradayPrices(ctx context.Context) error {
	// No intraday granularity is ever persisted (explicit non-goal), so
	// there is nothing to clean; kept as a no-op to satisfy the store
	// contract.
	return nil
}
