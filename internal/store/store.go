// Package store provides durable session.Store backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/interviewd/internal/session"
)

// Postgres is a session.Store backed by a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	policy session.Policy
}

var _ session.Store = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS interview_sessions (
	id             TEXT PRIMARY KEY,
	owner          TEXT NOT NULL,
	config         JSONB NOT NULL,
	system_prompt  TEXT NOT NULL,
	transcript     JSONB NOT NULL,
	exchange_count INTEGER NOT NULL DEFAULT 0,
	question_count INTEGER NOT NULL DEFAULT 0,
	strike_count   INTEGER NOT NULL DEFAULT 0,
	redirect_count INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	ended_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_interview_sessions_owner ON interview_sessions (owner, created_at DESC);
`

const selectSession = `
	SELECT id, owner, config, system_prompt, transcript,
	       exchange_count, question_count, strike_count, redirect_count,
	       created_at, ended_at
	FROM interview_sessions`

func New(ctx context.Context, databaseURL string, policy session.Policy) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{pool: pool, policy: policy}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	err := row.Scan(
		&s.ID, &s.Owner, &s.Config, &s.SystemPrompt, &s.Transcript,
		&s.Counters.Exchanges, &s.Counters.Questions, &s.Counters.Strikes, &s.Counters.Redirects,
		&s.CreatedAt, &s.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (p *Postgres) Create(ctx context.Context, ns session.NewSession) (*session.Session, error) {
	s := &session.Session{
		ID:           uuid.NewString(),
		Owner:        ns.Owner,
		Config:       ns.Config,
		SystemPrompt: ns.SystemPrompt,
		Transcript:   append([]session.Turn{}, ns.Opening...),
		CreatedAt:    time.Now().UTC(),
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO interview_sessions (id, owner, config, system_prompt, transcript, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.Owner, s.Config, s.SystemPrompt, s.Transcript, s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*session.Session, error) {
	return scanSession(p.pool.QueryRow(ctx, selectSession+` WHERE id = $1`, id))
}

// mutate applies fn to the row under SELECT ... FOR UPDATE and writes it back.
func (p *Postgres) mutate(ctx context.Context, id string, fn func(*session.Session)) (*session.Session, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx, selectSession+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	fn(s)

	_, err = tx.Exec(ctx, `
		UPDATE interview_sessions
		SET transcript = $2, exchange_count = $3, question_count = $4,
		    strike_count = $5, redirect_count = $6, ended_at = $7
		WHERE id = $1`,
		s.ID, s.Transcript, s.Counters.Exchanges, s.Counters.Questions,
		s.Counters.Strikes, s.Counters.Redirects, s.EndedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

func (p *Postgres) AppendExchange(ctx context.Context, id string, ex session.Exchange) (*session.Session, error) {
	return p.mutate(ctx, id, func(s *session.Session) {
		p.policy.ApplyExchange(s, ex, time.Now())
	})
}

func (p *Postgres) RecordStrike(ctx context.Context, id string) (int, error) {
	var strikes int
	err := p.pool.QueryRow(ctx, `
		UPDATE interview_sessions SET strike_count = strike_count + 1
		WHERE id = $1
		RETURNING strike_count`, id,
	).Scan(&strikes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, session.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record strike: %w", err)
	}
	return strikes, nil
}

func (p *Postgres) ListForOwner(ctx context.Context, owner string) ([]session.Summary, error) {
	rows, err := p.pool.Query(ctx, selectSession+` WHERE owner = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s.Summary())
	}
	return out, rows.Err()
}

func (p *Postgres) Sweep(ctx context.Context, now time.Time) (int, error) {
	created, ended := sweepCutoffs(p.policy, now)
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM interview_sessions
		WHERE created_at < $1 OR (ended_at IS NOT NULL AND ended_at < $2)`,
		created, ended,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM interview_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// sweepCutoffs converts the policy windows into absolute timestamps.
// A disabled window yields the zero time, which nothing precedes.
func sweepCutoffs(p session.Policy, now time.Time) (created, ended time.Time) {
	if p.Retention > 0 {
		created = now.Add(-p.Retention)
	}
	if p.EndGrace > 0 {
		ended = now.Add(-p.EndGrace)
	}
	return created.UTC(), ended.UTC()
}
