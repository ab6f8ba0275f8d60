package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionRepository, ports.CooldownRepository
// and ports.TradeRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/scalpbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		entry_price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		ai_confidence REAL NOT NULL DEFAULT 0,
		grade TEXT NOT NULL DEFAULT 'C',
		current_price REAL NOT NULL DEFAULT 0,
		high_price REAL NOT NULL DEFAULT 0,
		target_profit_pct REAL NOT NULL DEFAULT 0,
		trailing_stop_pct REAL NOT NULL DEFAULT 0,
		stop_loss_pct REAL NOT NULL DEFAULT 0,
		breakout_level REAL NOT NULL DEFAULT 0,
		entry_vwap REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cooldowns (
		symbol TEXT PRIMARY KEY,
		until TIMESTAMP NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		consecutive_losses INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		pnl REAL NOT NULL,
		profit_pct REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_entry_time ON trade_history (symbol, entry_time);
	CREATE INDEX IF NOT EXISTS idx_trade_history_exit_time ON trade_history (exit_time);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

// SavePosition inserts or replaces the record for the position's symbol.
func (r *Repository) SavePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT OR REPLACE INTO positions (symbol, name, entry_price, quantity, entry_time,
		score, ai_confidence, grade, current_price, high_price,
		target_profit_pct, trailing_stop_pct, stop_loss_pct,
		breakout_level, entry_vwap, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Name, pos.EntryPrice, pos.Quantity, pos.EntryTime,
		pos.Score, pos.AIConfidence, string(pos.Grade), pos.CurrentPrice, pos.HighPrice,
		pos.TargetProfitPct, pos.TrailingStopPct, pos.StopLossPct,
		pos.BreakoutLevel, pos.EntryVWAP, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save position for symbol %s: %w", pos.Symbol, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"symbol": pos.Symbol})
	return nil
}

// DeletePosition removes the record for a symbol.
func (r *Repository) DeletePosition(ctx context.Context, symbol string) error {
	const query = `DELETE FROM positions WHERE symbol = ?`
	if _, err := r.db.ExecContext(ctx, query, symbol); err != nil {
		return fmt.Errorf("failed to delete position for symbol %s: %w", symbol, err)
	}
	return nil
}

// LoadPositions returns all persisted positions.
func (r *Repository) LoadPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT symbol, name, entry_price, quantity, entry_time,
	       score, ai_confidence, grade, current_price, high_price,
	       target_profit_pct, trailing_stop_pct, stop_loss_pct,
	       breakout_level, entry_vwap, updated_at
	FROM positions ORDER BY entry_time`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		p := &domain.Position{}
		var grade string
		err := rows.Scan(
			&p.Symbol, &p.Name, &p.EntryPrice, &p.Quantity, &p.EntryTime,
			&p.Score, &p.AIConfidence, &grade, &p.CurrentPrice, &p.HighPrice,
			&p.TargetProfitPct, &p.TrailingStopPct, &p.StopLossPct,
			&p.BreakoutLevel, &p.EntryVWAP, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Grade = domain.Grade(grade)
		positions = append(positions, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- CooldownRepository Implementation ---

// SaveCooldown inserts or replaces the entry for the symbol.
func (r *Repository) SaveCooldown(ctx context.Context, entry *domain.CooldownEntry) error {
	const query = `
	INSERT OR REPLACE INTO cooldowns (symbol, until, reason, consecutive_losses)
	VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, entry.Symbol, entry.Until, entry.Reason, entry.ConsecutiveLosses)
	if err != nil {
		return fmt.Errorf("failed to save cooldown for symbol %s: %w", entry.Symbol, err)
	}
	return nil
}

// DeleteCooldown removes the entry for a symbol.
func (r *Repository) DeleteCooldown(ctx context.Context, symbol string) error {
	const query = `DELETE FROM cooldowns WHERE symbol = ?`
	if _, err := r.db.ExecContext(ctx, query, symbol); err != nil {
		return fmt.Errorf("failed to delete cooldown for symbol %s: %w", symbol, err)
	}
	return nil
}

// LoadCooldowns returns all persisted cooldown entries.
func (r *Repository) LoadCooldowns(ctx context.Context) ([]*domain.CooldownEntry, error) {
	const query = `SELECT symbol, until, reason, consecutive_losses FROM cooldowns`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query cooldowns: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.CooldownEntry, 0)
	for rows.Next() {
		e := &domain.CooldownEntry{}
		if err := rows.Scan(&e.Symbol, &e.Until, &e.Reason, &e.ConsecutiveLosses); err != nil {
			return nil, fmt.Errorf("failed to scan cooldown: %w", err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cooldown rows: %w", err)
	}
	return entries, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, name, entry_price, exit_price, quantity,
		pnl, profit_pct, entry_time, exit_time, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, trade.Name, trade.EntryPrice, trade.ExitPrice, trade.Quantity,
		trade.PNL, trade.ProfitPct, trade.EntryTime, trade.ExitTime, string(trade.Reason))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, name, entry_price, exit_price, quantity,
	       pnl, profit_pct, entry_time, exit_time, reason
	FROM trade_history
	WHERE symbol = ? ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during FindBySymbol: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// TodayTrades returns today's closed trades in exit order. Used by the
// report tool; the engine itself only needs the aggregate.
func (r *Repository) TodayTrades(ctx context.Context) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, name, entry_price, exit_price, quantity,
	       pnl, profit_pct, entry_time, exit_time, reason
	FROM trade_history
	WHERE date(exit_time) = date('now', 'localtime')
	ORDER BY exit_time`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query today's trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during TodayTrades: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating today's trade rows: %w", err)
	}
	return trades, nil
}

// TodaySummary aggregates today's closed trades.
func (r *Repository) TodaySummary(ctx context.Context) (*domain.DailySummary, error) {
	const query = `
	SELECT id, symbol, name, entry_price, exit_price, quantity,
	       pnl, profit_pct, entry_time, exit_time, reason
	FROM trade_history
	WHERE date(exit_time) = date('now', 'localtime')
	ORDER BY exit_time`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query today's trades: %w", err)
	}
	defer rows.Close()

	summary := &domain.DailySummary{Date: time.Now().Format("2006-01-02")}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during TodaySummary: %w", err)
		}
		summary.TotalTrades++
		if t.IsWin() {
			summary.Wins++
		} else {
			summary.Losses++
		}
		summary.TotalPNL += t.PNL
		summary.TotalPct += t.ProfitPct
		if summary.BestSymbol == "" || t.ProfitPct > summary.BestPct {
			summary.BestSymbol = t.Symbol
			summary.BestPct = t.ProfitPct
		}
		if summary.WorstSymbol == "" || t.ProfitPct < summary.WorstPct {
			summary.WorstSymbol = t.Symbol
			summary.WorstPct = t.ProfitPct
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating today's trade rows: %w", err)
	}
	return summary, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var reason string
	err := s.Scan(
		&t.ID, &t.Symbol, &t.Name, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
		&t.PNL, &t.ProfitPct, &t.EntryTime, &t.ExitTime, &reason)
	if err != nil {
		return nil, err
	}
	t.Reason = domain.SellReason(reason)
	return t, nil
}
