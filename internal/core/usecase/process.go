package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/agentic-search/internal/core/domain"
	"github.com/kirillkom/agentic-search/internal/core/ports"
)

// ProcessDocumentUseCase turns a stored upload into retrievable knowledge:
// extract text, classify it, split it into chunks, embed the chunks, and
// index them for hybrid retrieval.
type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	extractor  ports.TextExtractor
	classifier ports.DocumentClassifier
	chunker    ports.Chunker
	embedder   ports.Embedder
	vectorDB   ports.VectorStore
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	classifier ports.DocumentClassifier,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:       repo,
		extractor:  extractor,
		classifier: classifier,
		chunker:    chunker,
		embedder:   embedder,
		vectorDB:   vectorDB,
	}
}

// ProcessByID runs the pipeline for one document. The stored status tracks
// the outcome: processing while the pipeline runs, ready on success, failed
// with the pipeline error message otherwise.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	cls, err := uc.indexDocument(ctx, documentID)
	if err == nil {
		if saveErr := uc.repo.SaveClassification(ctx, documentID, cls); saveErr != nil {
			err = fmt.Errorf("save classification: %w", saveErr)
		}
	}
	if err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, documentID, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) indexDocument(ctx context.Context, documentID string) (domain.Classification, error) {
	var none domain.Classification

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return none, fmt.Errorf("fetch document by id: %w", err)
	}

	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return none, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return none, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("document yields no text"))
	}

	cls, err := uc.classifier.Classify(ctx, text)
	if err != nil {
		return none, fmt.Errorf("classify document: %w", err)
	}

	chunks := uc.chunker.Split(text)
	if len(chunks) == 0 {
		return none, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("no chunks produced"))
	}

	vectors, err := uc.embedder.Embed(ctx, chunks)
	if err != nil {
		return none, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return none, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)),
		)
	}

	// The indexed payload carries the classification so local evidence can be
	// filtered and cited without another metadata lookup.
	doc.Category = cls.Category
	doc.Subcategory = cls.Subcategory
	doc.Tags = cls.Tags
	doc.Confidence = cls.Confidence
	doc.Summary = cls.Summary

	if err := uc.vectorDB.IndexChunks(ctx, doc, chunks, vectors); err != nil {
		return none, fmt.Errorf("index chunks: %w", err)
	}
	return cls, nil
}
