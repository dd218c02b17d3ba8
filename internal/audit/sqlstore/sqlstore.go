// Package sqlstore keeps the audit trail in a SQLite database.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adrianpk/gatekeeper/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq         INTEGER PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	ts          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	policy_hash TEXT NOT NULL,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL,
	body_json   TEXT NOT NULL
);`

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := New(db)
	if err := s.ApplySchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) ApplySchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Write(ctx context.Context, e audit.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_entries (seq, id, ts, kind, verdict, policy_hash, prev_hash, hash, body_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.ID, e.Time.Format(time.RFC3339Nano), e.Kind, e.Verdict, e.PolicyHash, e.PrevHash, e.Hash, string(body))
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: seq %d", audit.ErrConflict, e.Seq)
	}
	return err
}

func (s *Store) Last(ctx context.Context) (audit.Entry, bool, error) {
	var body string
	row := s.db.QueryRowContext(ctx, `SELECT body_json FROM audit_entries ORDER BY seq DESC LIMIT 1`)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Entry{}, false, nil
		}
		return audit.Entry{}, false, err
	}
	var e audit.Entry
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return audit.Entry{}, false, err
	}
	return e, true, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]audit.Entry, error) {
	query := `SELECT body_json FROM audit_entries ORDER BY seq ASC`
	args := []any{}
	if limit > 0 {
		query = `SELECT body_json FROM (SELECT seq, body_json FROM audit_entries ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
