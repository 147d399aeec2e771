package ports

import (
	"context"
	"io"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

// TurnRunner is the inbound contract for running and resuming orchestrated
// question-answering turns.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, query string, overrides domain.TurnOverrides) (*domain.TurnResult, error)
	Resume(ctx context.Context, sessionID string, approve bool) (*domain.TurnResult, error)
}

// SessionReader is the inbound read model for session checkpoint history.
type SessionReader interface {
	History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}
