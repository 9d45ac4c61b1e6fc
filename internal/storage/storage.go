// Package storage keeps the onset log in SQLite.
package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
)

// DefaultListLimit caps ListOnsets when the caller passes no limit.
const DefaultListLimit = 100

// Onset is one persisted onset record.
type Onset struct {
	ID          int64     `json:"id"`
	Device      string    `json:"device"`
	Source      string    `json:"source"`
	Frame       int64     `json:"frame"`
	StartFrame  int64     `json:"start_frame"`
	LevelDB     float64   `json:"level_db"`
	FloorDB     float64   `json:"floor_db"`
	Sensitivity int       `json:"sensitivity"`
	OnsetGapMS  int64     `json:"onset_gap_ms"`
	DetectedAt  time.Time `json:"detected_at"`
}

// DB is the onset log.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeStorageFailed, "open %s", path)
	}
	// SQLite has a single writer; one connection also keeps :memory: coherent.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, classify(err, "initialize schema")
	}
	return &DB{db: sqlDB, path: path}, nil
}

// Path returns the database path.
func (d *DB) Path() string { return d.path }

// InsertOnsets writes records in one transaction and returns how many were stored.
func (d *DB) InsertOnsets(ctx context.Context, onsets []Onset) (int, error) {
	if len(onsets) == 0 {
		return 0, nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err, "begin insert")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO onsets (device, source, frame, start_frame, level_db, floor_db,
		                    sensitivity, onset_gap_ms, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, classify(err, "prepare insert")
	}
	defer stmt.Close()

	for _, o := range onsets {
		if _, err := stmt.ExecContext(ctx, o.Device, o.Source, o.Frame, o.StartFrame,
			o.LevelDB, o.FloorDB, o.Sensitivity, o.OnsetGapMS, o.DetectedAt.UnixMilli()); err != nil {
			return 0, classify(err, "insert onset").WithMetadata("device", o.Device)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err, "commit onsets")
	}
	return len(onsets), nil
}

// ListOnsets returns the newest onsets first, optionally for one device.
func (d *DB) ListOnsets(ctx context.Context, device string, limit int) ([]Onset, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT onset_id, device, source, frame, start_frame, level_db, floor_db,
	                 sensitivity, onset_gap_ms, detected_at
	          FROM onsets`
	args := []any{}
	if device != "" {
		query += ` WHERE device = ?`
		args = append(args, device)
	}
	query += ` ORDER BY detected_at DESC, onset_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "query onsets")
	}
	defer rows.Close()

	var out []Onset
	for rows.Next() {
		var o Onset
		var at int64
		if err := rows.Scan(&o.ID, &o.Device, &o.Source, &o.Frame, &o.StartFrame,
			&o.LevelDB, &o.FloorDB, &o.Sensitivity, &o.OnsetGapMS, &at); err != nil {
			return nil, classify(err, "scan onset")
		}
		o.DetectedAt = time.UnixMilli(at).UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate onsets")
	}
	return out, nil
}

// Count returns the number of stored onsets.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM onsets`).Scan(&n); err != nil {
		return 0, classify(err, "count onsets")
	}
	return n, nil
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return classify(err, "ping")
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// classify maps driver errors onto AppErrors; lock contention is retryable.
func classify(err error, msg string) *apperrors.AppError {
	var sqlErr *sqlite.Error
	if stderrors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return apperrors.Wrap(err, apperrors.CodeStorageBusy, msg)
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.CodeTimeout, msg)
	}
	if stderrors.Is(err, context.Canceled) {
		return apperrors.Wrap(err, apperrors.CodeCancelled, msg)
	}
	return apperrors.Wrap(err, apperrors.CodeStorageFailed, msg)
}
