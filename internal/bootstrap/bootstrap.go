package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/agentic-search/internal/config"
	"github.com/kirillkom/agentic-search/internal/core/ports"
	"github.com/kirillkom/agentic-search/internal/core/usecase"
	"github.com/kirillkom/agentic-search/internal/infrastructure/chunking"
	"github.com/kirillkom/agentic-search/internal/infrastructure/extractor"
	"github.com/kirillkom/agentic-search/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/agentic-search/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/agentic-search/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/agentic-search/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/agentic-search/internal/infrastructure/queue/nats"
	"github.com/kirillkom/agentic-search/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/agentic-search/internal/infrastructure/rerank/tei"
	"github.com/kirillkom/agentic-search/internal/infrastructure/resilience"
	"github.com/kirillkom/agentic-search/internal/infrastructure/search/tavily"
	"github.com/kirillkom/agentic-search/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/agentic-search/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Queue     ports.MessageQueue
	Repo      ports.DocumentRepository
	Sessions  ports.SessionReader
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	TurnUC    ports.TurnRunner

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure documents schema: %w", err)
	}
	sessionRepo := postgres.NewSessionRepository(db)
	if err := sessionRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure sessions schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryInitialBackoff:     time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:         time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		RetryMultiplier:         cfg.RetryMultiplier,
		RetryJitterRatio:        cfg.RetryJitterRatio,
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      uint32(cfg.BreakerMinRequests),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      time.Duration(cfg.BreakerOpenTimeoutSec) * time.Second,
		BreakerHalfOpenMaxCalls: uint32(cfg.BreakerHalfOpenMaxCalls),
	})

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	classifier := ollama.NewClassifier(ollamaClient)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor)
	webSearch := tavily.New(tavily.Options{
		BaseURL:           cfg.TavilyURL,
		APIKey:            cfg.TavilyKey,
		RequestsPerSecond: cfg.TavilyRPS,
		Burst:             cfg.TavilyBurst,
	}, executor)
	reranker := tei.New(cfg.RerankerURL, executor)

	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extractors := extractor.NewDispatcher(plaintext.NewExtractor(storage))
	extractors.Register("pdf", pdf.NewExtractor(storage))
	extractors.Register("xlsx", xlsx.NewExtractor(storage))

	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(repo, extractors, classifier, chunker, embedder, vectorDB)
	turnUC := usecase.NewTurnUseCase(generator, embedder, vectorDB, webSearch, reranker, sessionRepo, usecase.TurnConfig{
		VectorWeight:    cfg.VectorWeight,
		FusionTopK:      cfg.FusionTopK,
		RerankTopN:      cfg.RerankTopN,
		RetrieveLimit:   cfg.RetrieveLimit,
		MaxRefineLoops:  cfg.MaxRefineLoops,
		MaxSubQueries:   cfg.MaxSubQueries,
		MultiQuery:      cfg.MultiQuery,
		RequireApproval: cfg.RequireApproval,
		HistoryWindow:   cfg.HistoryWindow,
	})

	return &App{
		Config:   cfg,
		Queue:    queue,
		Repo:     repo,
		Sessions: sessionRepo,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		TurnUC:    turnUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
