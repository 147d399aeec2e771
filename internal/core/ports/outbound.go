package ports

import (
	"context"
	"io"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

// Generator is the black-box language-model collaborator.
type Generator interface {
	GenerateFromPrompt(ctx context.Context, prompt string) (string, error)
	GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Reranker scores query/document pairs with a cross-encoder. The returned
// slice is index-aligned with texts.
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// VectorStore indexes chunks and serves the local retrieval signals.
type VectorStore interface {
	IndexChunks(ctx context.Context, doc *domain.Document, chunks []string, vectors [][]float32) error
	Search(ctx context.Context, queryVector []float32, limit int) ([]domain.EvidenceCandidate, error)
	SearchLexical(ctx context.Context, queryText string, limit int) ([]domain.EvidenceCandidate, error)
}

// WebSearcher queries the external web search API.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.EvidenceCandidate, error)
}

// SessionStore persists session state as an ordered checkpoint log.
// Save assigns the next step for the session and returns the written
// checkpoint; Load returns the state of the latest checkpoint.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*domain.SessionState, error)
	Save(ctx context.Context, state domain.SessionState) (*domain.Checkpoint, error)
	Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error)
	History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error)
}

// DocumentRepository persists document metadata and ingestion status.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveClassification(ctx context.Context, id string, cls domain.Classification) error
}

// ObjectStorage holds the raw uploaded files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue carries document-ingested events to the worker pool.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor turns a stored document into indexable text.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// DocumentClassifier derives category, tags and a summary from extracted text.
type DocumentClassifier interface {
	Classify(ctx context.Context, text string) (domain.Classification, error)
}

// Chunker splits text into overlapping windows sized for embedding.
type Chunker interface {
	Split(text string) []string
}
