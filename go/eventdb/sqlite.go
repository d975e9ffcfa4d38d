package eventdb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // Import for register side-effects.
	log "github.com/sirupsen/logrus"
	"github.com/voltgrid/oadr2/go/event"
	"github.com/voltgrid/oadr2/go/schedule"
)

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

const createSchema = `
	CREATE TABLE IF NOT EXISTS events (
		id             TEXT PRIMARY KEY NOT NULL,
		mod_number     INTEGER NOT NULL,
		status         TEXT NOT NULL,
		priority       INTEGER NOT NULL,
		market_context TEXT NOT NULL,
		test_event     INTEGER NOT NULL,
		original_start TEXT NOT NULL,
		start_time     TEXT NOT NULL,
		end_time       TEXT,
		start_after    TEXT NOT NULL,
		cancel_offset  TEXT NOT NULL,
		targets        TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS intervals (
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		idx      INTEGER NOT NULL,
		duration TEXT NOT NULL,
		level    REAL NOT NULL,
		PRIMARY KEY (event_id, idx)
	);`

// OpenSQLite opens (creating if needed) the event database at |path|.
func OpenSQLite(path string) (*SQLite, error) {
	log.WithField("path", path).Info("opening event database")

	var db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s?_fk=true", path))
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database %q: %w", path, err)
	}
	// A single connection serializes writers and keeps interval loads from
	// deadlocking against an open events cursor.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("connecting to SQLite database %q: %w", path, err)
	}
	if _, err = db.Exec(createSchema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Add inserts a new event and its intervals.
func (s *SQLite) Add(e *event.Event) error {
	return s.withTx(func(tx *sql.Tx) error {
		return insertEvent(tx, e)
	})
}

// Update replaces a stored event and its intervals.
func (s *SQLite) Update(e *event.Event) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM events WHERE id = ?`, e.ID); err != nil {
			return fmt.Errorf("removing prior revision of event %s: %w", e.ID, err)
		}
		return insertEvent(tx, e)
	})
}

// Get returns the stored event with the given ID, or nil when absent.
func (s *SQLite) Get(id string) (*event.Event, error) {
	var row = s.db.QueryRow(`
		SELECT id, mod_number, status, priority, market_context, test_event,
			original_start, start_time, end_time, start_after, cancel_offset, targets
		FROM events WHERE id = ?`, id)

	var e, err = scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading event %s: %w", id, err)
	}
	if e.Signals, err = s.loadIntervals(e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

// Remove deletes the given events; intervals cascade.
func (s *SQLite) Remove(ids ...string) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(`DELETE FROM events WHERE id = ?`, id); err != nil {
				return fmt.Errorf("removing event %s: %w", id, err)
			}
		}
		return nil
	})
}

// Active returns all stored events ordered by start time ascending.
func (s *SQLite) Active() ([]*event.Event, error) {
	var rows, err = s.db.Query(`
		SELECT id, mod_number, status, priority, market_context, test_event,
			original_start, start_time, end_time, start_after, cancel_offset, targets
		FROM events ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		var e *event.Event
		if e, err = scanEvent(rows); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	rows.Close()

	// Intervals load after the events cursor is drained: the pool holds a
	// single connection.
	for _, e := range out {
		if e.Signals, err = s.loadIntervals(e.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLite) withTx(fn func(*sql.Tx) error) error {
	var tx, err = s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertEvent(tx *sql.Tx, e *event.Event) error {
	var targets, err = json.Marshal(e.Targets)
	if err != nil {
		return fmt.Errorf("encoding targets of event %s: %w", e.ID, err)
	}

	var end sql.NullString
	if !e.End.IsZero() {
		end = sql.NullString{String: schedule.FormatDatetime(e.End), Valid: true}
	}

	if _, err = tx.Exec(`
		INSERT INTO events (id, mod_number, status, priority, market_context, test_event,
			original_start, start_time, end_time, start_after, cancel_offset, targets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.ModNumber,
		string(e.Status),
		e.Priority,
		e.MarketContext,
		e.TestEvent,
		schedule.FormatDatetime(e.OriginalStart),
		schedule.FormatDatetime(e.Start),
		end,
		e.StartAfter,
		e.CancelOffset,
		string(targets),
	); err != nil {
		return fmt.Errorf("inserting event %s: %w", e.ID, err)
	}

	for _, sig := range e.Signals {
		if _, err = tx.Exec(`
			INSERT INTO intervals (event_id, idx, duration, level) VALUES (?, ?, ?, ?)`,
			e.ID, sig.Index, sig.Duration, sig.Level,
		); err != nil {
			return fmt.Errorf("inserting interval %d of event %s: %w", sig.Index, e.ID, err)
		}
	}
	return nil
}

func (s *SQLite) loadIntervals(id string) ([]event.Interval, error) {
	var rows, err = s.db.Query(`
		SELECT idx, duration, level FROM intervals WHERE event_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("querying intervals of event %s: %w", id, err)
	}
	defer rows.Close()

	var out []event.Interval
	for rows.Next() {
		var iv event.Interval
		if err = rows.Scan(&iv.Index, &iv.Duration, &iv.Level); err != nil {
			return nil, fmt.Errorf("scanning interval of event %s: %w", id, err)
		}
		out = append(out, iv)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("querying intervals of event %s: %w", id, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*event.Event, error) {
	var (
		e              event.Event
		status         string
		originalStart  string
		start          string
		end            sql.NullString
		encodedTargets string
	)
	if err := row.Scan(
		&e.ID,
		&e.ModNumber,
		&status,
		&e.Priority,
		&e.MarketContext,
		&e.TestEvent,
		&originalStart,
		&start,
		&end,
		&e.StartAfter,
		&e.CancelOffset,
		&encodedTargets,
	); err != nil {
		return nil, err
	}
	e.Status = event.Status(status)

	var err error
	if e.OriginalStart, err = schedule.ParseDatetime(originalStart); err != nil {
		return nil, fmt.Errorf("stored original start of event %s: %w", e.ID, err)
	}
	if e.Start, err = schedule.ParseDatetime(start); err != nil {
		return nil, fmt.Errorf("stored start of event %s: %w", e.ID, err)
	}
	if end.Valid {
		if e.End, err = schedule.ParseDatetime(end.String); err != nil {
			return nil, fmt.Errorf("stored end of event %s: %w", e.ID, err)
		}
	}
	if err = json.Unmarshal([]byte(encodedTargets), &e.Targets); err != nil {
		return nil, fmt.Errorf("decoding targets of event %s: %w", e.ID, err)
	}
	return &e, nil
}
