package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
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
	-- Linked broker accounts, credentials encrypted at rest
	CREATE TABLE IF NOT EXISTS broker_accounts (
		id TEXT PRIMARY KEY,
		broker_id TEXT NOT NULL,
		label TEXT,
		encrypted_cred TEXT NOT NULL,
		verified INTEGER DEFAULT 0,
		linked_at DATETIME NOT NULL
	);

	-- Strategy configurations
	CREATE TABLE IF NOT EXISTS strategies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		template_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		interval TEXT NOT NULL,
		params_json TEXT NOT NULL DEFAULT '{}',
		active INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (account_id) REFERENCES broker_accounts(id)
	);

	-- Order audit log
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		broker_id TEXT NOT NULL,
		strategy_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT,
		status TEXT NOT NULL,
		message TEXT,
		placed_at DATETIME NOT NULL
	);

	-- Cached historical candles
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		UNIQUE(symbol, interval, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_broker ON broker_accounts(broker_id);
	CREATE INDEX IF NOT EXISTS idx_strategies_active ON strategies(active);
	CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, placed_at);
	CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles(symbol, interval, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, account *BrokerAccount) error {
	if account.LinkedAt.IsZero() {
		account.LinkedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_accounts (id, broker_id, label, encrypted_cred, verified, linked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			broker_id = excluded.broker_id,
			label = excluded.label,
			encrypted_cred = excluded.encrypted_cred,
			verified = excluded.verified`,
		account.ID, account.BrokerID, account.Label, account.EncryptedCred,
		boolToInt(account.Verified), account.LinkedAt)
	return err
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*BrokerAccount, error) {
	var a BrokerAccount
	var verified int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, broker_id, label, encrypted_cred, verified, linked_at
		FROM broker_accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.BrokerID, &a.Label, &a.EncryptedCred, &verified, &a.LinkedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Verified = verified != 0
	return &a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, brokerID string) ([]BrokerAccount, error) {
	query := `SELECT id, broker_id, label, encrypted_cred, verified, linked_at FROM broker_accounts`
	args := []interface{}{}
	if brokerID != "" {
		query += ` WHERE broker_id = ?`
		args = append(args, brokerID)
	}
	query += ` ORDER BY linked_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []BrokerAccount
	for rows.Next() {
		var a BrokerAccount
		var verified int
		if err := rows.Scan(&a.ID, &a.BrokerID, &a.Label, &a.EncryptedCred, &verified, &a.LinkedAt); err != nil {
			return nil, err
		}
		a.Verified = verified != 0
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM broker_accounts WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SaveStrategy(ctx context.Context, record *StrategyRecord) error {
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ParamsJSON == "" {
		record.ParamsJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, template_id, account_id, interval, params_json, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			template_id = excluded.template_id,
			account_id = excluded.account_id,
			interval = excluded.interval,
			params_json = excluded.params_json,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		record.ID, record.Name, record.TemplateID, record.AccountID, string(record.Interval),
		record.ParamsJSON, boolToInt(record.Active), record.CreatedAt, record.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*StrategyRecord, error) {
	var r StrategyRecord
	var interval string
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, template_id, account_id, interval, params_json, active, created_at, updated_at
		FROM strategies WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.TemplateID, &r.AccountID, &interval, &r.ParamsJSON, &active, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrStrategyNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Interval = models.Interval(interval)
	r.Active = active != 0
	return &r, nil
}

func (s *SQLiteStore) ListStrategies(ctx context.Context, activeOnly bool) ([]StrategyRecord, error) {
	query := `SELECT id, name, template_id, account_id, interval, params_json, active, created_at, updated_at FROM strategies`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StrategyRecord
	for rows.Next() {
		var r StrategyRecord
		var interval string
		var active int
		if err := rows.Scan(&r.ID, &r.Name, &r.TemplateID, &r.AccountID, &interval, &r.ParamsJSON, &active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Interval = models.Interval(interval)
		r.Active = active != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SetStrategyActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrStrategyNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) LogOrder(ctx context.Context, record *OrderRecord) error {
	if record.PlacedAt.IsZero() {
		record.PlacedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, broker_id, strategy_id, symbol, side, quantity, price, status, message, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.AccountID, record.BrokerID, record.StrategyID, record.Symbol,
		record.Side, record.Quantity.String(), record.Price.String(), record.Status,
		record.Message, record.PlacedAt)
	return err
}

func (s *SQLiteStore) GetOrders(ctx context.Context, accountID string, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, broker_id, strategy_id, symbol, side, quantity, price, status, message, placed_at
		FROM orders WHERE account_id = ?
		ORDER BY placed_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var qty, price string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.BrokerID, &r.StrategyID, &r.Symbol,
			&r.Side, &qty, &price, &r.Status, &r.Message, &r.PlacedAt); err != nil {
			return nil, err
		}
		r.Quantity, _ = decimal.NewFromString(qty)
		r.Price, _ = decimal.NewFromString(price)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol string, interval models.Interval, candles []models.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, interval, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, string(interval), c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetCandles(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`, symbol, string(interval), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ DataStore = (*SQLiteStore)(nil)
