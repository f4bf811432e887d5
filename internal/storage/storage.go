package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"binance-spot-signal-bot-go/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// Journal 是已平仓交易和强信号的追加式日志。日志写入失败只记录告警，不影响交易循环
type Journal interface {
	RecordTrade(ctx context.Context, trade models.Trade) error
	RecordSignal(ctx context.Context, sig models.Signal) error
	Close() error
}

// HistoryReader 可以回读最近记录的日志后端，最新的在前
type HistoryReader interface {
	RecentTrades(ctx context.Context, limit int) ([]models.Trade, error)
	RecentSignals(ctx context.Context, limit int) ([]models.SignalHistoryEntry, error)
}

var _ HistoryReader = (*SQLiteJournal)(nil)

// New 根据配置创建日志后端
func New(cfg models.StorageConfig) (Journal, error) {
	switch cfg.Journal {
	case "", "none":
		return NopJournal{}, nil
	case "sqlite":
		return NewSQLiteJournal(cfg.DBPath)
	case "influxdb":
		return NewInfluxJournal(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket), nil
	default:
		return nil, fmt.Errorf("未知的日志后端: %s", cfg.Journal)
	}
}

// NopJournal 丢弃所有记录
type NopJournal struct{}

func (NopJournal) RecordTrade(context.Context, models.Trade) error { return nil }
func (NopJournal) RecordSignal(context.Context, models.Signal) error { return nil }
func (NopJournal) Close() error { return nil }

// SQLiteJournal stores trades and strong signals in a local SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens the database and creates the tables if needed.
func NewSQLiteJournal(dataSourceName string) (*SQLiteJournal, error) {
	db, err := InitDB(dataSourceName)
	if err != nil {
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		fees REAL NOT NULL,
		pnl REAL NOT NULL,
		close_type TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	createSignalsTableSQL := `
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		score INTEGER NOT NULL,
		classification TEXT NOT NULL,
		confidence TEXT NOT NULL,
		price REAL NOT NULL,
		reasons TEXT NOT NULL,
		generated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createSignalsTableSQL); err != nil {
		return err
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades (closed_at);`)
	return err
}

// RecordTrade inserts a closed trade.
func (j *SQLiteJournal) RecordTrade(ctx context.Context, t models.Trade) error {
	query := `
	INSERT INTO trades (id, position_id, symbol, entry_price, exit_price, quantity, fees, pnl, close_type, opened_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		uuid.NewString(), t.PositionID, t.Symbol, t.EntryPrice, t.ExitPrice, t.Quantity, t.Fees, t.PnL,
		string(t.CloseType), t.OpenedAt.UnixMilli(), t.ClosedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", t.PositionID, err)
	}
	return nil
}

// RecordSignal inserts a strong signal.
func (j *SQLiteJournal) RecordSignal(ctx context.Context, s models.Signal) error {
	reasons := make([]string, len(s.Reasons))
	for i, r := range s.Reasons {
		reasons[i] = string(r)
	}
	query := `
	INSERT INTO signals (id, symbol, score, classification, confidence, price, reasons, generated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		uuid.NewString(), s.Symbol, s.Score, string(s.Classification), string(s.Confidence),
		s.CurrentPrice, strings.Join(reasons, ","), s.GeneratedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert signal for %s: %w", s.Symbol, err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first.
func (j *SQLiteJournal) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	query := `
	SELECT position_id, symbol, entry_price, exit_price, quantity, fees, pnl, close_type, opened_at, closed_at
	FROM trades
	ORDER BY closed_at DESC, rowid DESC
	LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var closeType string
		var openedAt, closedAt int64
		if err := rows.Scan(&t.PositionID, &t.Symbol, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&t.Fees, &t.PnL, &closeType, &openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.CloseType = models.CloseType(closeType)
		t.OpenedAt = time.UnixMilli(openedAt).UTC()
		t.ClosedAt = time.UnixMilli(closedAt).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecentSignals returns up to limit journaled signals, newest first.
func (j *SQLiteJournal) RecentSignals(ctx context.Context, limit int) ([]models.SignalHistoryEntry, error) {
	query := `
	SELECT symbol, score, classification, price, generated_at
	FROM signals
	ORDER BY generated_at DESC, rowid DESC
	LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var entries []models.SignalHistoryEntry
	for rows.Next() {
		var e models.SignalHistoryEntry
		var class string
		var ts int64
		if err := rows.Scan(&e.Symbol, &e.Score, &class, &e.Price, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		e.Signal = models.Classification(class)
		e.Time = time.UnixMilli(ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
