package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (creating if needed) a SQLite ledger at path.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	l := &SQLiteLedger{db: db}

	if err := l.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return l, nil
}

// Migrate runs database migrations.
func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			strategy_type TEXT NOT NULL,
			symbol TEXT NOT NULL,
			sec_type TEXT NOT NULL,
			expiry TEXT NOT NULL DEFAULT '',
			strike TEXT NOT NULL DEFAULT '0',
			opt_right TEXT NOT NULL DEFAULT '',
			contracts INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			entry_time DATETIME NOT NULL,
			exit_price TEXT,
			exit_time DATETIME,
			config_yaml BLOB,
			runtime_state BLOB,
			is_open INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions(strategy_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_is_open ON positions(is_open)`,

		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			exec_id TEXT NOT NULL,
			side INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			commission TEXT NOT NULL DEFAULT '0',
			fill_time DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_position ON fills(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id)`,
	}

	for _, migration := range migrations {
		if _, err := l.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SavePosition inserts or replaces an open position.
func (l *SQLiteLedger) SavePosition(ctx context.Context, position Position) error {
	query := `INSERT OR REPLACE INTO positions
		(id, strategy_id, strategy_type, symbol, sec_type, expiry, strike, opt_right, contracts,
		 entry_price, entry_time, config_yaml, runtime_state, is_open, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP)`

	_, err := l.db.ExecContext(ctx, query,
		position.ID,
		position.StrategyID,
		position.StrategyType,
		position.Symbol,
		string(position.SecType),
		position.Expiry,
		position.Strike.String(),
		string(position.Right),
		position.Contracts,
		position.EntryPrice.String(),
		position.EntryTime,
		position.ConfigYAML,
		position.RuntimeState,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	return nil
}

// GetOpenPositions returns all open positions.
func (l *SQLiteLedger) GetOpenPositions(ctx context.Context) ([]Position, error) {
	query := positionSelect + ` WHERE is_open = 1 ORDER BY entry_time`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return l.scanPositions(rows)
}

// GetPositionsByStrategy returns all positions, open or closed, for a strategy.
func (l *SQLiteLedger) GetPositionsByStrategy(ctx context.Context, strategyID string) ([]Position, error) {
	query := positionSelect + ` WHERE strategy_id = ? ORDER BY entry_time`

	rows, err := l.db.QueryContext(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query positions by strategy: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return l.scanPositions(rows)
}

const positionSelect = `SELECT id, strategy_id, strategy_type, symbol, sec_type, expiry, strike, opt_right, contracts,
	entry_price, entry_time, exit_price, exit_time, config_yaml, runtime_state, is_open, created_at, updated_at
	FROM positions`

func (l *SQLiteLedger) scanPositions(rows *sql.Rows) ([]Position, error) {
	var positions []Position
	for rows.Next() {
		var p Position
		var secType, right, strike, entryPrice string
		var exitPrice sql.NullString
		var exitTime sql.NullTime
		var isOpen int

		if err := rows.Scan(&p.ID, &p.StrategyID, &p.StrategyType, &p.Symbol, &secType, &p.Expiry, &strike, &right,
			&p.Contracts, &entryPrice, &p.EntryTime, &exitPrice, &exitTime, &p.ConfigYAML, &p.RuntimeState,
			&isOpen, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		p.SecType = types.SecType(secType)
		p.Right = types.Right(right)
		p.Strike, _ = decimal.NewFromString(strike)
		p.EntryPrice, _ = decimal.NewFromString(entryPrice)
		if exitPrice.Valid {
			p.ExitPrice, _ = decimal.NewFromString(exitPrice.String)
		}
		if exitTime.Valid {
			t := exitTime.Time
			p.ExitTime = &t
		}
		p.Open = isOpen == 1

		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// UpdateRuntimeState overwrites an open position's runtime-state blob.
func (l *SQLiteLedger) UpdateRuntimeState(ctx context.Context, positionID string, state []byte) error {
	query := `UPDATE positions SET runtime_state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	res, err := l.db.ExecContext(ctx, query, state, positionID)
	if err != nil {
		return fmt.Errorf("update runtime state: %w", err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update runtime state: position %s not found", positionID)
	}

	return nil
}

// ClosePosition marks a position as closed.
func (l *SQLiteLedger) ClosePosition(ctx context.Context, positionID string, exitPrice decimal.Decimal, exitTime time.Time) error {
	query := `UPDATE positions SET is_open = 0, exit_price = ?, exit_time = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	_, err := l.db.ExecContext(ctx, query, exitPrice.String(), exitTime, positionID)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	return nil
}

// SaveFill appends an execution to the audit trail.
func (l *SQLiteLedger) SaveFill(ctx context.Context, fill FillRecord) error {
	query := `INSERT INTO fills (position_id, order_id, exec_id, side, quantity, price, commission, fill_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		fill.PositionID,
		fill.OrderID,
		fill.ExecID,
		fill.Side,
		fill.Quantity.String(),
		fill.Price.String(),
		fill.Commission.String(),
		fill.Time,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}

	return nil
}

// GetFills returns a position's fills in fill order.
func (l *SQLiteLedger) GetFills(ctx context.Context, positionID string) ([]FillRecord, error) {
	query := `SELECT id, position_id, order_id, exec_id, side, quantity, price, commission, fill_time
		FROM fills WHERE position_id = ? ORDER BY fill_time`

	rows, err := l.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		var quantity, price, commission string

		if err := rows.Scan(&f.ID, &f.PositionID, &f.OrderID, &f.ExecID, &f.Side, &quantity, &price, &commission, &f.Time); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		f.Quantity, _ = decimal.NewFromString(quantity)
		f.Price, _ = decimal.NewFromString(price)
		f.Commission, _ = decimal.NewFromString(commission)

		fills = append(fills, f)
	}

	return fills, rows.Err()
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
