package cdr

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite сохраняет записи в таблицу calls
type SQLite struct {
	db *sql.DB
}

// OpenSQLite открывает базу и создает таблицу
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cdr database: %w", err)
	}
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT NOT NULL,
			call_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			local_addr TEXT,
			remote_addr TEXT,
			destination TEXT,
			created_at DATETIME NOT NULL,
			connected_at DATETIME,
			ended_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_ended_at ON calls(ended_at)`,
	}
	for _, q := range queries {
		if _, err := db.ExecContext(ctx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create cdr table: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// Record сохраняет запись
func (s *SQLite) Record(ctx context.Context, r Record) error {
	query := `INSERT INTO calls (token, call_id, direction, local_addr, remote_addr, destination,
			  created_at, connected_at, ended_at, duration_ms, end_reason)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var connected sql.NullTime
	if !r.Connected.IsZero() {
		connected = sql.NullTime{Time: r.Connected.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query, r.Token, r.CallID, r.Direction, r.Local, r.Remote, r.Destination,
		r.Created.UTC(), connected, r.Ended.UTC(), r.Duration().Milliseconds(), r.EndReason)
	if err != nil {
		return fmt.Errorf("failed to store cdr for %s: %w", r.Token, err)
	}
	return nil
}

// Recent последние записи, новые первыми
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, call_id, direction, local_addr, remote_addr, destination,
		created_at, connected_at, ended_at, end_reason FROM calls ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cdr: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var local, remote, dest sql.NullString
		var connected sql.NullTime
		if err := rows.Scan(&r.Token, &r.CallID, &r.Direction, &local, &remote, &dest,
			&r.Created, &connected, &r.Ended, &r.EndReason); err != nil {
			return nil, fmt.Errorf("failed to scan cdr: %w", err)
		}
		r.Local, r.Remote, r.Destination = local.String, remote.String, dest.String
		if connected.Valid {
			r.Connected = connected.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close закрывает базу
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Recorder = (*SQLite)(nil)

