// Package storage persists the signal audit trail and trade history to
// SQLite. Writers hang off the event bus so the execution path never blocks
// on disk.
package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"safe-trade-bot/internal/bus"
)

// DB wraps the SQLite database.
type DB struct {
	db *sql.DB
}

// SignalRow is one logged signal outcome.
type SignalRow struct {
	ID        int64
	SignalID  string
	TradeID   string
	Accepted  bool
	Code      string
	Message   string
	Timestamp int64
}

// TradeRow is the persisted view of a trade.
type TradeRow struct {
	TradeID     string
	EntryTxHash string
	State       string
	FailCode    string
	FailMessage string
	CreatedAt   int64
	UpdatedAt   int64
}

// ExitRow is one executed exit.
type ExitRow struct {
	ID        int64
	TradeID   string
	Reason    string
	Percent   int
	Timestamp int64
}

// NewDB opens the database, applying WAL pragmas through the DSN.
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id TEXT NOT NULL,
		trade_id TEXT,
		accepted INTEGER NOT NULL,
		code TEXT,
		message TEXT,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		trade_id TEXT PRIMARY KEY,
		entry_tx_hash TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		fail_code TEXT NOT NULL DEFAULT '',
		fail_message TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		percent INTEGER NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals(timestamp);
	CREATE INDEX IF NOT EXISTS idx_signals_signal_id ON signals(signal_id);
	CREATE INDEX IF NOT EXISTS idx_exit_events_trade ON exit_events(trade_id);
	`

	_, err := db.Exec(schema)
	return err
}

// RecordSignal logs a signal outcome.
func (d *DB) RecordSignal(signalID, tradeID string, accepted bool, code, message string) error {
	_, err := d.db.Exec(`
		INSERT INTO signals (signal_id, trade_id, accepted, code, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		signalID, tradeID, accepted, code, message, Now())
	return err
}

// RecordEntry upserts a trade as entered.
func (d *DB) RecordEntry(tradeID, entryTxHash string) error {
	now := Now()
	_, err := d.db.Exec(`
		INSERT INTO trades (trade_id, entry_tx_hash, state, created_at, updated_at)
		VALUES (?, ?, 'entered', ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET entry_tx_hash = excluded.entry_tx_hash, state = 'entered', updated_at = excluded.updated_at`,
		tradeID, entryTxHash, now, now)
	return err
}

// RecordExit logs one executed exit and the trade's resulting state.
func (d *DB) RecordExit(tradeID, reason string, percent int, state string) error {
	now := Now()
	if _, err := d.db.Exec(`
		INSERT INTO exit_events (trade_id, reason, percent, timestamp)
		VALUES (?, ?, ?, ?)`,
		tradeID, reason, percent, now); err != nil {
		return err
	}
	_, err := d.db.Exec(`UPDATE trades SET state = ?, updated_at = ? WHERE trade_id = ?`, state, now, tradeID)
	return err
}

// RecordFailure marks a trade failed, inserting it if admission never got far
// enough to record an entry.
func (d *DB) RecordFailure(tradeID, code, message string) error {
	now := Now()
	_, err := d.db.Exec(`
		INSERT INTO trades (trade_id, state, fail_code, fail_message, created_at, updated_at)
		VALUES (?, 'failed', ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET state = 'failed', fail_code = excluded.fail_code, fail_message = excluded.fail_message, updated_at = excluded.updated_at`,
		tradeID, code, message, now, now)
	return err
}

// GetTrade retrieves one trade. Nil when absent.
func (d *DB) GetTrade(tradeID string) (*TradeRow, error) {
	var t TradeRow
	err := d.db.QueryRow(`
		SELECT trade_id, entry_tx_hash, state, fail_code, fail_message, created_at, updated_at
		FROM trades WHERE trade_id = ?`, tradeID).Scan(
		&t.TradeID, &t.EntryTxHash, &t.State, &t.FailCode, &t.FailMessage, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetExits retrieves the exit events of one trade in execution order.
func (d *DB) GetExits(tradeID string) ([]*ExitRow, error) {
	rows, err := d.db.Query(`
		SELECT id, trade_id, reason, percent, timestamp
		FROM exit_events WHERE trade_id = ? ORDER BY id`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exits []*ExitRow
	for rows.Next() {
		var e ExitRow
		if err := rows.Scan(&e.ID, &e.TradeID, &e.Reason, &e.Percent, &e.Timestamp); err != nil {
			return nil, err
		}
		exits = append(exits, &e)
	}
	return exits, rows.Err()
}

// GetRecentSignals retrieves the most recent signal outcomes.
func (d *DB) GetRecentSignals(limit int) ([]*SignalRow, error) {
	rows, err := d.db.Query(`
		SELECT id, signal_id, trade_id, accepted, code, message, timestamp
		FROM signals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*SignalRow
	for rows.Next() {
		var s SignalRow
		if err := rows.Scan(&s.ID, &s.SignalID, &s.TradeID, &s.Accepted, &s.Code, &s.Message, &s.Timestamp); err != nil {
			return nil, err
		}
		signals = append(signals, &s)
	}
	return signals, rows.Err()
}

// GetTradeStats returns aggregate counts by outcome.
func (d *DB) GetTradeStats() (total, closed, failed int, err error) {
	err = d.db.QueryRow(`
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN state IN ('exited', 'stopped_out', 'expired') THEN 1 ELSE 0 END) as closed,
			SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END) as failed
		FROM trades`).Scan(&total, &closed, &failed)
	return
}

// Bind subscribes the persistence handlers to the event bus. Exit state is
// resolved by the caller-supplied lookup so the handler does not need the
// live trade store.
func (d *DB) Bind(events *bus.Bus, stateOf func(tradeID string) string) error {
	subs := map[string]any{
		bus.TopicSignalAccepted: func(signalID, tradeID string) {
			d.logged(d.RecordSignal(signalID, tradeID, true, "", ""))
		},
		bus.TopicSignalRejected: func(signalID, code, message string) {
			d.logged(d.RecordSignal(signalID, "", false, code, message))
		},
		bus.TopicTradeEntered: func(tradeID, txHash string) {
			d.logged(d.RecordEntry(tradeID, txHash))
		},
		bus.TopicTradeExited: func(tradeID, reason string, percent int) {
			state := "exited"
			if stateOf != nil {
				state = stateOf(tradeID)
			}
			d.logged(d.RecordExit(tradeID, reason, percent, state))
		},
		bus.TopicTradeFailed: func(tradeID, code, message string) {
			d.logged(d.RecordFailure(tradeID, code, message))
		},
	}
	for topic, fn := range subs {
		if err := events.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) logged(err error) {
	if err != nil {
		log.Error().Err(err).Msg("persistence write failed")
	}
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Now returns the current Unix timestamp.
func Now() int64 {
	return time.Now().Unix()
}
