package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

const pgUniqueViolation = "23505"

// SessionRepository stores session state as an append-only checkpoint log.
// Each save writes the next step for the session; the primary key on
// (session_id, step) turns concurrent writers into a stale-checkpoint
// conflict instead of a silently lost update.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026021002)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS session_checkpoints (
	session_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	state JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, step)
);

CREATE INDEX IF NOT EXISTS idx_session_checkpoints_created_at ON session_checkpoints(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) Save(ctx context.Context, state domain.SessionState) (*domain.Checkpoint, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}

	createdAt := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
INSERT INTO session_checkpoints (session_id, step, state, created_at)
SELECT $1, COALESCE(MAX(step), 0) + 1, $2, $3
FROM session_checkpoints
WHERE session_id = $1
RETURNING step
`, state.SessionID, stateJSON, createdAt)

	var step int
	if err := row.Scan(&step); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.WrapError(domain.ErrStaleCheckpoint, "save checkpoint", err)
		}
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	return &domain.Checkpoint{
		SessionID: state.SessionID,
		Step:      step,
		State:     state,
		CreatedAt: createdAt,
	}, nil
}

func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	checkpoint, err := r.Latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &checkpoint.State, nil
}

func (r *SessionRepository) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT session_id, step, state, created_at
FROM session_checkpoints
WHERE session_id = $1
ORDER BY step DESC
LIMIT 1
`, sessionID)

	checkpoint, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "latest checkpoint", fmt.Errorf("session %s", sessionID))
		}
		return nil, err
	}
	return checkpoint, nil
}

func (r *SessionRepository) History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id, step, state, created_at
FROM session_checkpoints
WHERE session_id = $1
ORDER BY step ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Checkpoint, 0, 16)
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *checkpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint history: %w", err)
	}
	if len(out) == 0 {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "checkpoint history", fmt.Errorf("session %s", sessionID))
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*domain.Checkpoint, error) {
	var checkpoint domain.Checkpoint
	var stateRaw []byte

	if err := row.Scan(&checkpoint.SessionID, &checkpoint.Step, &stateRaw, &checkpoint.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	if err := json.Unmarshal(stateRaw, &checkpoint.State); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &checkpoint, nil
}
