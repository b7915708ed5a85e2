// Package sqlite persists orders, positions, trades and engine state so a
// restart resumes exactly where the previous run left off. All money values
// are stored as integer paise.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"bntrader/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	stateKeyRealized = "total_realized_pnl"
	stateKeyEngine   = "engine_state"
	stateKeyMode     = "mode_flags"
)

// Config configures the store.
type Config struct {
	DBPath string // e.g. "data/trader.db"
}

// Store is a single-connection SQLite store in WAL mode.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, enables WAL and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id         TEXT PRIMARY KEY,
			symbol     TEXT    NOT NULL,
			side       TEXT    NOT NULL,
			qty        INTEGER NOT NULL,
			price      INTEGER NOT NULL,
			product    TEXT,
			status     TEXT    NOT NULL,
			mode       TEXT,
			tag        TEXT,
			reason     TEXT,
			ts         INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS positions (
			symbol       TEXT    NOT NULL,
			product      TEXT    NOT NULL,
			net_qty      INTEGER NOT NULL,
			avg_price    INTEGER NOT NULL,
			realized_pnl INTEGER NOT NULL,
			entry_ts     INTEGER,
			updated_ts   INTEGER NOT NULL,
			PRIMARY KEY (symbol, product)
		);

		CREATE TABLE IF NOT EXISTS trades (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol       TEXT    NOT NULL,
			qty          INTEGER NOT NULL,
			entry_price  INTEGER NOT NULL,
			exit_price   INTEGER NOT NULL,
			entry_ts     INTEGER NOT NULL,
			exit_ts      INTEGER NOT NULL,
			realized_pnl INTEGER NOT NULL,
			mode         TEXT,
			price_source TEXT
		);

		CREATE TABLE IF NOT EXISTS app_state (
			key   TEXT PRIMARY KEY,
			value TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_orders_ts ON orders(ts);
		CREATE INDEX IF NOT EXISTS idx_trades_exit ON trades(exit_ts);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveOrder inserts or updates an order record.
func (s *Store) SaveOrder(o model.Order) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO orders (id, symbol, side, qty, price, product, status, mode, tag, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Symbol, string(o.Side), o.Qty, o.Price, o.ProductType,
		string(o.Status), string(o.Mode), o.Tag, o.Reason, o.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderStatus transitions an existing order row without touching the
// rest of the record.
func (s *Store) UpdateOrderStatus(id string, status model.OrderStatus) error {
	res, err := s.db.Exec(`UPDATE orders SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update order %s: no such order", id)
	}
	return nil
}

// SavePosition upserts a position row. Flat positions are kept with qty 0 so
// their realized history survives.
func (s *Store) SavePosition(p model.Position) error {
	var entryTS int64
	if !p.EntryTime.IsZero() {
		entryTS = p.EntryTime.Unix()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO positions (symbol, product, net_qty, avg_price, realized_pnl, entry_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Symbol, p.Product, p.NetQty, p.AvgPrice, p.RealizedPnL, entryTS, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.Key(), err)
	}
	return nil
}

// SaveTrade appends a completed round trip.
func (s *Store) SaveTrade(t model.Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (symbol, qty, entry_price, exit_price, entry_ts, exit_ts, realized_pnl, mode, price_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Symbol, t.Qty, t.EntryPrice, t.ExitPrice, t.EntryTime.Unix(), t.ExitTime.Unix(),
		t.RealizedPnL, string(t.Mode), string(t.PriceSource))
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.Symbol, err)
	}
	return nil
}

// SaveRealizedPnL stores the running realized total.
func (s *Store) SaveRealizedPnL(paise int64) error {
	return s.setState(stateKeyRealized, fmt.Sprintf("%d", paise))
}

// LoadRealizedPnL returns the persisted realized total, 0 when absent.
func (s *Store) LoadRealizedPnL() (int64, error) {
	v, ok, err := s.getState(stateKeyRealized)
	if err != nil || !ok {
		return 0, err
	}
	var paise int64
	if _, err := fmt.Sscanf(v, "%d", &paise); err != nil {
		return 0, fmt.Errorf("parse realized pnl %q: %w", v, err)
	}
	return paise, nil
}

// LoadOpenPositions returns all positions with a non-zero quantity.
func (s *Store) LoadOpenPositions() ([]model.Position, error) {
	rows, err := s.db.Query(`
		SELECT symbol, product, net_qty, avg_price, realized_pnl, entry_ts
		FROM positions WHERE net_qty != 0`)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var entryTS int64
		if err := rows.Scan(&p.Symbol, &p.Product, &p.NetQty, &p.AvgPrice, &p.RealizedPnL, &entryTS); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if entryTS > 0 {
			p.EntryTime = time.Unix(entryTS, 0).UTC()
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadOrdersByDate returns orders whose timestamp falls on the given day in
// loc, oldest first.
func (s *Store) LoadOrdersByDate(day time.Time, loc *time.Location) ([]model.Order, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	rows, err := s.db.Query(`
		SELECT id, symbol, side, qty, price, product, status, mode, tag, reason, ts
		FROM orders WHERE ts >= ? AND ts < ? ORDER BY ts ASC`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var side, status, mode string
		var ts int64
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &o.Qty, &o.Price, &o.ProductType, &status, &mode, &o.Tag, &o.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = model.Side(side)
		o.Status = model.OrderStatus(status)
		o.Mode = model.Mode(mode)
		o.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// LoadTradesByDate returns trades that exited on the given day in loc.
func (s *Store) LoadTradesByDate(day time.Time, loc *time.Location) ([]model.Trade, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	rows, err := s.db.Query(`
		SELECT symbol, qty, entry_price, exit_price, entry_ts, exit_ts, realized_pnl, mode, price_source
		FROM trades WHERE exit_ts >= ? AND exit_ts < ? ORDER BY exit_ts ASC`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// LoadAllTrades returns the full trade history, oldest first.
func (s *Store) LoadAllTrades() ([]model.Trade, error) {
	rows, err := s.db.Query(`
		SELECT symbol, qty, entry_price, exit_price, entry_ts, exit_ts, realized_pnl, mode, price_source
		FROM trades ORDER BY exit_ts ASC`)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var entryTS, exitTS int64
		var mode, src string
		if err := rows.Scan(&t.Symbol, &t.Qty, &t.EntryPrice, &t.ExitPrice, &entryTS, &exitTS, &t.RealizedPnL, &mode, &src); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.EntryTime = time.Unix(entryTS, 0).UTC()
		t.ExitTime = time.Unix(exitTS, 0).UTC()
		t.Mode = model.Mode(mode)
		t.PriceSource = model.PriceSource(src)
		out = append(out, t)
	}
	return out, rows.Err()
}

// EngineState is the persisted engine posture.
type EngineState struct {
	Side       string    `json:"side"`
	Symbol     string    `json:"symbol"`
	OrderID    string    `json:"order_id"`
	LastAction time.Time `json:"last_action"`
}

// SaveEngineState stores the engine posture as a JSON blob in app_state.
func (s *Store) SaveEngineState(st EngineState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal engine state: %w", err)
	}
	return s.setState(stateKeyEngine, string(b))
}

// LoadEngineState returns the persisted posture; ok is false when none was
// saved yet.
func (s *Store) LoadEngineState() (EngineState, bool, error) {
	v, ok, err := s.getState(stateKeyEngine)
	if err != nil || !ok {
		return EngineState{}, false, err
	}
	var st EngineState
	if err := json.Unmarshal([]byte(v), &st); err != nil {
		return EngineState{}, false, fmt.Errorf("unmarshal engine state: %w", err)
	}
	return st, true, nil
}

// ModeFlags is the persisted mode controller state.
type ModeFlags struct {
	PaperMode bool `json:"paper_mode"`
	AutoTrade bool `json:"auto_trade"`
}

// SaveModeFlags persists the mode toggles.
func (s *Store) SaveModeFlags(f ModeFlags) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal mode flags: %w", err)
	}
	return s.setState(stateKeyMode, string(b))
}

// LoadModeFlags returns the persisted toggles; ok is false when absent.
func (s *Store) LoadModeFlags() (ModeFlags, bool, error) {
	v, ok, err := s.getState(stateKeyMode)
	if err != nil || !ok {
		return ModeFlags{}, false, err
	}
	var f ModeFlags
	if err := json.Unmarshal([]byte(v), &f); err != nil {
		return ModeFlags{}, false, fmt.Errorf("unmarshal mode flags: %w", err)
	}
	return f, true, nil
}

func (s *Store) setState(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO app_state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

func (s *Store) getState(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return v, true, nil
}
