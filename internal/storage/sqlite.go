// Package storage persists runs and trades in SQLite and the live ledger
// state as an atomically written JSON file.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dcapilot/internal/models"
)

const (
	RunKindLive     = "live"
	RunKindBacktest = "backtest"
)

type Store struct {
	db *sql.DB
}

// RunRecord is one live session or backtest run.
type RunRecord struct {
	ID           int64
	Kind         string
	Symbol       string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	InitialValue float64
	FinalValue   sql.NullFloat64
	NetProfit    sql.NullFloat64
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("storage: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	kind          TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP,
	initial_value REAL NOT NULL,
	final_value   REAL,
	net_profit    REAL
);

CREATE TABLE IF NOT EXISTS trades (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        INTEGER NOT NULL REFERENCES runs(id),
	ts            TIMESTAMP NOT NULL,
	type          TEXT NOT NULL,
	price         REAL NOT NULL,
	quantity      REAL NOT NULL,
	usd_amount    REAL NOT NULL,
	cash_after    REAL NOT NULL,
	btc_after     REAL NOT NULL,
	secured_after REAL NOT NULL,
	realized_pnl  REAL NOT NULL,
	daily_pnl     REAL NOT NULL,
	reason        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_run_ts ON trades(run_id, ts);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("storage: init schema: %w", err)
	}
	return nil
}

// CreateRun opens a new run row and returns its id.
func (s *Store) CreateRun(ctx context.Context, kind, symbol string, startedAt time.Time, initialValue float64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (kind, symbol, started_at, initial_value) VALUES (?, ?, ?, ?)`,
		kind, symbol, startedAt.UTC(), initialValue)
	if err != nil {
		return 0, fmt.Errorf("storage: create run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: run id: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's end and outcome.
func (s *Store) FinishRun(ctx context.Context, runID int64, finishedAt time.Time, finalValue, netProfit float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, final_value = ?, net_profit = ? WHERE id = ?`,
		finishedAt.UTC(), finalValue, netProfit, runID)
	if err != nil {
		return fmt.Errorf("storage: finish run %d: %w", runID, err)
	}
	return nil
}

// InsertTrade appends one trade record to a run.
func (s *Store) InsertTrade(ctx context.Context, runID int64, rec models.TradeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (run_id, ts, type, price, quantity, usd_amount, cash_after, btc_after, secured_after, realized_pnl, daily_pnl, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Timestamp.UTC(), string(rec.Type), rec.Price, rec.Quantity, rec.USDAmount,
		rec.CashAfter, rec.BTCAfter, rec.SecuredAfter, rec.RealizedPnL, rec.DailyPnL, rec.Reason)
	if err != nil {
		return fmt.Errorf("storage: insert trade: %w", err)
	}
	return nil
}

// InsertTrades writes a batch in one transaction; a backtest result lands
// either fully or not at all.
func (s *Store) InsertTrades(ctx context.Context, runID int64, recs []models.TradeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trades (run_id, ts, type, price, quantity, usd_amount, cash_after, btc_after, secured_after, realized_pnl, daily_pnl, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("storage: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			runID, rec.Timestamp.UTC(), string(rec.Type), rec.Price, rec.Quantity, rec.USDAmount,
			rec.CashAfter, rec.BTCAfter, rec.SecuredAfter, rec.RealizedPnL, rec.DailyPnL, rec.Reason); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("storage: insert trade batch: %w", err)
		}
	}
	return tx.Commit()
}

// ListTrades returns a run's trades, oldest first.
func (s *Store) ListTrades(ctx context.Context, runID int64) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, type, price, quantity, usd_amount, cash_after, btc_after, secured_after, realized_pnl, daily_pnl, reason
		 FROM trades WHERE run_id = ? ORDER BY ts, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var rec models.TradeRecord
		var typ string
		if err := rows.Scan(&rec.Timestamp, &typ, &rec.Price, &rec.Quantity, &rec.USDAmount,
			&rec.CashAfter, &rec.BTCAfter, &rec.SecuredAfter, &rec.RealizedPnL, &rec.DailyPnL, &rec.Reason); err != nil {
			return nil, fmt.Errorf("storage: scan trade: %w", err)
		}
		rec.Type = models.Action(typ)
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate trades: %w", err)
	}
	return out, nil
}

// LatestRun returns the newest run of a kind, or sql.ErrNoRows.
func (s *Store) LatestRun(ctx context.Context, kind string) (RunRecord, error) {
	var r RunRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, symbol, started_at, finished_at, initial_value, final_value, net_profit
		 FROM runs WHERE kind = ? ORDER BY id DESC LIMIT 1`, kind).
		Scan(&r.ID, &r.Kind, &r.Symbol, &r.StartedAt, &r.FinishedAt, &r.InitialValue, &r.FinalValue, &r.NetProfit)
	if err != nil {
		return RunRecord{}, err
	}
	r.StartedAt = r.StartedAt.UTC()
	return r, nil
}
