// Package archive provides an optional SQLite audit sink for closed alerts.
// It is write-only from the pipeline's point of view: nothing is ever loaded
// back into the engine, so a restart always begins with fresh detection
// state.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quietdesk/stillwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Archive wraps a SQLite database holding the closed-alert history.
type Archive struct {
	db      *sql.DB
	maxRows int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/stillwatch/alerts.db.
func New(maxRows int, dbPath string) (*Archive, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "stillwatch", "alerts.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	a := &Archive{db: db, maxRows: maxRows}
	if err := a.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return a, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			feed            TEXT NOT NULL,
			instrument_key  TEXT NOT NULL,
			instrument_name TEXT NOT NULL,
			exchange        TEXT,
			baseline_price  REAL NOT NULL,
			current_price   REAL NOT NULL,
			range_min       REAL NOT NULL,
			range_max       REAL NOT NULL,
			duration_ns     INTEGER NOT NULL,
			deviation       REAL NOT NULL,
			opened_at       INTEGER NOT NULL,
			closed_at       INTEGER NOT NULL,
			close_reason    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_closed_at ON alerts(closed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_instrument ON alerts(instrument_key)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append records one closed alert and enforces the row cap by close time.
func (a *Archive) Append(feed string, alert *models.AlertEvent) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO alerts
			(id, feed, instrument_key, instrument_name, exchange, baseline_price,
			 current_price, range_min, range_max, duration_ns, deviation,
			 opened_at, closed_at, close_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		alert.ID, feed, alert.InstrumentKey, alert.InstrumentName, alert.Exchange,
		alert.BaselinePrice, alert.CurrentPrice, alert.Range.Min, alert.Range.Max,
		int64(alert.Duration), alert.Deviation,
		alert.Timestamp.UnixNano(), alert.ClosedAt.UnixNano(), string(alert.CloseReason),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY closed_at DESC LIMIT ?
		)`, a.maxRows); err != nil {
		return fmt.Errorf("failed to enforce row cap: %w", err)
	}

	return tx.Commit()
}

// Recent returns up to limit archived alerts, newest close first.
func (a *Archive) Recent(limit int) ([]models.AlertEvent, error) {
	rows, err := a.db.Query(`
		SELECT id, instrument_key, instrument_name, exchange, baseline_price,
		       current_price, range_min, range_max, duration_ns, deviation,
		       opened_at, closed_at, close_reason
		FROM alerts ORDER BY closed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertEvent
	for rows.Next() {
		var ev models.AlertEvent
		var durationNs, openedAtNano, closedAtNano int64
		var reason string

		err := rows.Scan(
			&ev.ID, &ev.InstrumentKey, &ev.InstrumentName, &ev.Exchange, &ev.BaselinePrice,
			&ev.CurrentPrice, &ev.Range.Min, &ev.Range.Max, &durationNs, &ev.Deviation,
			&openedAtNano, &closedAtNano, &reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		ev.Duration = time.Duration(durationNs)
		ev.Timestamp = time.Unix(0, openedAtNano)
		ev.ClosedAt = time.Unix(0, closedAtNano)
		ev.CloseReason = models.CloseReason(reason)
		ev.Status = models.StatusClosed
		alerts = append(alerts, ev)
	}

	return alerts, rows.Err()
}

// Clear deletes every archived alert.
func (a *Archive) Clear() error {
	if _, err := a.db.Exec(`DELETE FROM alerts`); err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}
	return nil
}
