// Package store persists the order journal. Every committed order
// transition is appended so a day's activity survives restarts.
package store

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
)

// Journal is an append-only record of order transitions backed by
// SQLite. It attaches to the ledger as a transition listener.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (creating if needed) the journal database at path.
func NewJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apierrors.Wrap(err, "opening journal database")
	}

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, apierrors.Wrap(err, "initializing journal schema")
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS order_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		local_id TEXT NOT NULL,
		broker_order_id TEXT,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		filled_qty INTEGER NOT NULL,
		avg_fill_price REAL NOT NULL,
		reject_reason TEXT,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_local_id ON order_transitions(local_id);
	CREATE INDEX IF NOT EXISTS idx_transitions_recorded_at ON order_transitions(recorded_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends one transition. Errors are returned for the caller to
// log; the journal never blocks order flow.
func (j *Journal) Record(order models.Order, from, to models.OrderState) error {
	_, err := j.db.Exec(`
		INSERT INTO order_transitions (
			local_id, broker_order_id, from_state, to_state,
			symbol, exchange, transaction_type, order_type,
			quantity, price, filled_qty, avg_fill_price,
			reject_reason, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.LocalID, order.BrokerOrderID, string(from), string(to),
		order.Request.Symbol, string(order.Request.Exchange),
		string(order.Request.Transaction), string(order.Request.OrderType),
		order.Request.Quantity, order.Request.Price,
		order.FilledQty, order.AvgFillPrice,
		order.RejectReason, time.Now(),
	)
	if err != nil {
		return apierrors.Wrap(err, "recording order transition")
	}
	return nil
}

// TransitionRecord is one journaled transition row.
type TransitionRecord struct {
	LocalID       string
	BrokerOrderID string
	FromState     models.OrderState
	ToState       models.OrderState
	Symbol        string
	Exchange      models.Exchange
	RejectReason  string
	RecordedAt    time.Time
}

// History returns the journaled transitions for one order, oldest first.
func (j *Journal) History(localID string) ([]TransitionRecord, error) {
	rows, err := j.db.Query(`
		SELECT local_id, broker_order_id, from_state, to_state,
		       symbol, exchange, reject_reason, recorded_at
		FROM order_transitions
		WHERE local_id = ?
		ORDER BY id ASC`, localID)
	if err != nil {
		return nil, apierrors.Wrap(err, "querying order history")
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		var from, to, exchange string
		if err := rows.Scan(&r.LocalID, &r.BrokerOrderID, &from, &to,
			&r.Symbol, &exchange, &r.RejectReason, &r.RecordedAt); err != nil {
			return nil, apierrors.Wrap(err, "scanning order history")
		}
		r.FromState = models.OrderState(from)
		r.ToState = models.OrderState(to)
		r.Exchange = models.Exchange(exchange)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
