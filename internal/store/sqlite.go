package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/interviewd/internal/session"
)

// SQLite is a single-file session.Store.
type SQLite struct {
	db      *sql.DB
	policy  session.Policy
	// writeMu serializes read-modify-write cycles to avoid SQLITE_BUSY.
	writeMu sync.Mutex
}

var _ session.Store = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS interview_sessions (
	id             TEXT PRIMARY KEY,
	owner          TEXT NOT NULL,
	config_json    TEXT NOT NULL,
	system_prompt  TEXT NOT NULL,
	transcript     TEXT NOT NULL,
	exchange_count INTEGER NOT NULL DEFAULT 0,
	question_count INTEGER NOT NULL DEFAULT 0,
	strike_count   INTEGER NOT NULL DEFAULT 0,
	redirect_count INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	ended_at       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_interview_sessions_owner ON interview_sessions(owner, created_at);
CREATE INDEX IF NOT EXISTS idx_interview_sessions_ended ON interview_sessions(ended_at) WHERE ended_at IS NOT NULL;
`

const sqliteSelect = `
	SELECT id, owner, config_json, system_prompt, transcript,
	       exchange_count, question_count, strike_count, redirect_count,
	       created_at, ended_at
	FROM interview_sessions`

// OpenSQLite opens (creating if needed) the database at dbPath.
func OpenSQLite(dbPath string, policy session.Policy) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, policy: policy}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (*session.Session, error) {
	var (
		sess                 session.Session
		configJSON, turnJSON string
		createdAt            int64
		endedAt              sql.NullInt64
	)
	err := row.Scan(
		&sess.ID, &sess.Owner, &configJSON, &sess.SystemPrompt, &turnJSON,
		&sess.Counters.Exchanges, &sess.Counters.Questions, &sess.Counters.Strikes, &sess.Counters.Redirects,
		&createdAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &sess.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(turnJSON), &sess.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	if endedAt.Valid {
		t := time.Unix(0, endedAt.Int64).UTC()
		sess.EndedAt = &t
	}
	return &sess, nil
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func (s *SQLite) Create(ctx context.Context, ns session.NewSession) (*session.Session, error) {
	sess := &session.Session{
		ID:           uuid.NewString(),
		Owner:        ns.Owner,
		Config:       ns.Config,
		SystemPrompt: ns.SystemPrompt,
		Transcript:   append([]session.Turn{}, ns.Opening...),
		CreatedAt:    time.Now().UTC(),
	}

	configJSON, err := json.Marshal(sess.Config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	turnJSON, err := json.Marshal(sess.Transcript)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interview_sessions (id, owner, config_json, system_prompt, transcript, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Owner, string(configJSON), sess.SystemPrompt, string(turnJSON), sess.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*session.Session, error) {
	return scanSQLiteSession(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id))
}

func (s *SQLite) mutate(ctx context.Context, id string, fn func(*session.Session)) (*session.Session, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := scanSQLiteSession(tx.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	fn(sess)

	turnJSON, err := json.Marshal(sess.Transcript)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE interview_sessions
		SET transcript = ?, exchange_count = ?, question_count = ?,
		    strike_count = ?, redirect_count = ?, ended_at = ?
		WHERE id = ?`,
		string(turnJSON), sess.Counters.Exchanges, sess.Counters.Questions,
		sess.Counters.Strikes, sess.Counters.Redirects, nullableNanos(sess.EndedAt), sess.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sess, nil
}

func (s *SQLite) AppendExchange(ctx context.Context, id string, ex session.Exchange) (*session.Session, error) {
	return s.mutate(ctx, id, func(sess *session.Session) {
		s.policy.ApplyExchange(sess, ex, time.Now())
	})
}

func (s *SQLite) RecordStrike(ctx context.Context, id string) (int, error) {
	sess, err := s.mutate(ctx, id, func(sess *session.Session) {
		sess.Counters.Strikes++
	})
	if err != nil {
		return 0, err
	}
	return sess.Counters.Strikes, nil
}

func (s *SQLite) ListForOwner(ctx context.Context, owner string) ([]session.Summary, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect+` WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess.Summary())
	}
	return out, rows.Err()
}

func (s *SQLite) Sweep(ctx context.Context, now time.Time) (int, error) {
	created, ended := sweepCutoffs(s.policy, now)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM interview_sessions
		WHERE created_at < ? OR (ended_at IS NOT NULL AND ended_at < ?)`,
		cutoffNanos(created), cutoffNanos(ended),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM interview_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// cutoffNanos maps the zero time to the smallest int64 so a disabled
// window matches nothing.
func cutoffNanos(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixNano()
}
