package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver

	"zrx-ladder-bot/internal/models"
)

// Event is one journal row: the state of a position after a tick changed it.
type Event struct {
	InstanceKey string
	PositionID  string
	Status      models.PositionStatus
	Action      models.OrderAction
	Price       float64
	Amount      float64
	Hash        string
	Time        time.Time
}

// Journal records position events for later analysis. It is not read back
// by the engines; the strategy document stays the source of truth.
type Journal interface {
	Record(ctx context.Context, events []Event) error
	Close() error
}

// NopJournal discards every event.
type NopJournal struct{}

func (NopJournal) Record(context.Context, []Event) error { return nil }
func (NopJournal) Close() error                          { return nil }

// EventFor describes the current leg of a position. The price and hash
// come from the pending order if there is one, else from the latest leg.
func EventFor(p models.Position, at time.Time) Event {
	e := Event{
		InstanceKey: p.InstanceKey,
		PositionID:  p.ID,
		Status:      p.Status,
		Action:      p.Context.Action,
		Amount:      p.Amount,
		Time:        at,
	}
	switch {
	case p.PendingOrder != nil:
		e.Price, e.Hash = p.PendingOrder.Price, p.PendingOrder.OrderHash
	case p.Close != nil:
		e.Price, e.Hash = p.Close.Price, p.Close.Hash
	case p.Open != nil:
		e.Price, e.Hash = p.Open.Price, p.Open.Hash
	}
	return e
}

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	createEventsTableSQL := `
	CREATE TABLE IF NOT EXISTS position_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_key TEXT NOT NULL,
		position_id TEXT NOT NULL,
		status TEXT NOT NULL,
		action TEXT NOT NULL,
		price REAL NOT NULL,
		amount REAL NOT NULL,
		hash TEXT,
		created_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createEventsTableSQL); err != nil {
		return err
	}

	createIndexSQL := `CREATE INDEX IF NOT EXISTS idx_position_events_instance ON position_events (instance_key, created_at);`
	if _, err := db.Exec(createIndexSQL); err != nil {
		return err
	}
	return nil
}

// SQLiteJournal writes events to a sqlite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the journal database.
func NewSQLiteJournal(dataSourceName string) (*SQLiteJournal, error) {
	db, err := InitDB(dataSourceName)
	if err != nil {
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

// Record inserts all events in one transaction.
func (j *SQLiteJournal) Record(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer tx.Rollback() // Rollback on any error

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO position_events (instance_key, position_id, status, action, price, amount, hash, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.InstanceKey, e.PositionID, string(e.Status), string(e.Action),
			e.Price, e.Amount, e.Hash, e.Time.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to insert event for %s: %w", e.PositionID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal transaction: %w", err)
	}
	return nil
}

// History returns the events of an instance, oldest first.
func (j *SQLiteJournal) History(ctx context.Context, instanceKey string) ([]Event, error) {
	query := `
	SELECT instance_key, position_id, status, action, price, amount, hash, created_at
	FROM position_events
	WHERE instance_key = ?
	ORDER BY created_at, id`

	rows, err := j.db.QueryContext(ctx, query, instanceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var status, action string
		var hash sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.InstanceKey, &e.PositionID, &status, &action, &e.Price, &e.Amount, &hash, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.Status = models.PositionStatus(status)
		e.Action = models.OrderAction(action)
		e.Hash = hash.String
		e.Time = time.UnixMilli(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
