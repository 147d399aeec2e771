package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

func newSessionRepoWithMock(t *testing.T) (*SessionRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &SessionRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestSaveAssignsNextStep(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectQuery("INSERT INTO session_checkpoints").
		WithArgs("sess-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"step"}).AddRow(4))

	state := domain.NewSessionState("sess-1")
	state.Phase = domain.PhaseReflect

	checkpoint, err := repo.Save(context.Background(), state)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if checkpoint.Step != 4 {
		t.Fatalf("expected step 4, got %d", checkpoint.Step)
	}
	if checkpoint.State.Phase != domain.PhaseReflect {
		t.Fatalf("expected saved state echoed back, got phase %s", checkpoint.State.Phase)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveMapsUniqueViolationToStaleCheckpoint(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectQuery("INSERT INTO session_checkpoints").
		WithArgs("sess-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	_, err := repo.Save(context.Background(), domain.NewSessionState("sess-1"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrStaleCheckpoint) {
		t.Fatalf("expected ErrStaleCheckpoint, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLatestReturnsSessionNotFound(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT session_id, step, state, created_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Latest(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistoryReturnsOrderedCheckpoints(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	first := domain.NewSessionState("sess-1")
	first.Phase = domain.PhaseDecide
	second := domain.NewSessionState("sess-1")
	second.Phase = domain.PhaseAnswered

	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT session_id, step, state, created_at").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "step", "state", "created_at"}).
			AddRow("sess-1", 1, firstJSON, now).
			AddRow("sess-1", 2, secondJSON, now))

	checkpoints, err := repo.History(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(checkpoints) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(checkpoints))
	}
	if checkpoints[0].Step != 1 || checkpoints[0].State.Phase != domain.PhaseDecide {
		t.Fatalf("unexpected first checkpoint: %+v", checkpoints[0])
	}
	if checkpoints[1].Step != 2 || checkpoints[1].State.Phase != domain.PhaseAnswered {
		t.Fatalf("unexpected second checkpoint: %+v", checkpoints[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistoryMapsEmptyToSessionNotFound(t *testing.T) {
	repo, mock, done := newSessionRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT session_id, step, state, created_at").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "step", "state", "created_at"}))

	_, err := repo.History(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
