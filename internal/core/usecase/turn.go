package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/agentic-search/internal/core/domain"
	"github.com/kirillkom/agentic-search/internal/core/ports"
)

// TurnConfig carries the orchestration tunables. Zero values fall back to the
// defaults below.
type TurnConfig struct {
	VectorWeight    float64
	FusionTopK      int
	RerankTopN      int
	RetrieveLimit   int
	MaxRefineLoops  int
	MaxSubQueries   int
	MultiQuery      bool
	RequireApproval bool
	HistoryWindow   int
}

func (c TurnConfig) normalize() TurnConfig {
	out := c
	if out.VectorWeight <= 0 || out.VectorWeight > 1 {
		out.VectorWeight = 0.6
	}
	if out.FusionTopK <= 0 {
		out.FusionTopK = 20
	}
	if out.RerankTopN <= 0 || out.RerankTopN > out.FusionTopK {
		out.RerankTopN = 5
	}
	if out.RetrieveLimit <= 0 {
		out.RetrieveLimit = 20
	}
	if out.MaxRefineLoops <= 0 {
		out.MaxRefineLoops = 3
	}
	if out.MaxSubQueries <= 0 {
		out.MaxSubQueries = 3
	}
	if out.HistoryWindow <= 0 {
		out.HistoryWindow = 10
	}
	return out
}

// TurnUseCase walks one user query through the orchestration state machine:
// decide -> (expand) -> retrieve -> reflect -> (refine loop) -> answer.
// Session state is threaded through the transition function as a value and a
// checkpoint is persisted after every step.
type TurnUseCase struct {
	generator ports.Generator
	embedder  ports.Embedder
	vectorDB  ports.VectorStore
	webSearch ports.WebSearcher
	reranker  ports.Reranker
	sessions  ports.SessionStore
	cfg       TurnConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTurnUseCase(
	generator ports.Generator,
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	webSearch ports.WebSearcher,
	reranker ports.Reranker,
	sessions ports.SessionStore,
	cfg TurnConfig,
) *TurnUseCase {
	return &TurnUseCase{
		generator: generator,
		embedder:  embedder,
		vectorDB:  vectorDB,
		webSearch: webSearch,
		reranker:  reranker,
		sessions:  sessions,
		cfg:       cfg.normalize(),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (uc *TurnUseCase) RunTurn(
	ctx context.Context,
	sessionID, query string,
	overrides domain.TurnOverrides,
) (*domain.TurnResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run turn", fmt.Errorf("session id is required"))
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run turn", fmt.Errorf("query is required"))
	}

	unlock := uc.lockSession(sessionID)
	defer unlock()

	st, err := uc.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	maxLoops := uc.cfg.MaxRefineLoops
	if overrides.MaxLoops != nil && *overrides.MaxLoops > 0 {
		maxLoops = *overrides.MaxLoops
	}
	multiQuery := uc.cfg.MultiQuery
	if overrides.MultiQuery != nil {
		multiQuery = *overrides.MultiQuery
	}
	weight := uc.cfg.VectorWeight
	if overrides.VectorWeight != nil && *overrides.VectorWeight >= 0 && *overrides.VectorWeight <= 1 {
		weight = *overrides.VectorWeight
	}

	priorHistory := st.History
	st.ResetForTurn(query, maxLoops, multiQuery, weight)
	st.History = append(st.History, domain.TurnMessage{Role: "user", Text: query})

	if len(priorHistory) > 0 {
		st.CurrentQuery = uc.rewriteFollowUp(ctx, priorHistory, query)
	}

	return uc.walk(ctx, st)
}

// Resume continues a session suspended at a retrieval branch. Approval
// re-enters the branch from the latest checkpoint; denial terminates the turn
// with a declined outcome. Resuming a session with no pending suspension is a
// rejected request.
func (uc *TurnUseCase) Resume(ctx context.Context, sessionID string, approve bool) (*domain.TurnResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resume", fmt.Errorf("session id is required"))
	}

	unlock := uc.lockSession(sessionID)
	defer unlock()

	cp, err := uc.sessions.Latest(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}

	st := cp.State
	if st.Phase != domain.PhaseAwaitingApproval {
		return nil, domain.WrapError(
			domain.ErrNoPendingApproval,
			"resume",
			fmt.Errorf("session %s is in phase %q", sessionID, st.Phase),
		)
	}

	if !approve {
		st.Phase = domain.PhaseDeclined
		st.DeclinedAtBranch = true
		st.PendingBranch = ""
		st.FinalAnswer = "Search declined."
		st.History = append(st.History, domain.TurnMessage{Role: "assistant", Text: "Search declined; no retrieval was performed."})
		saved, err := uc.sessions.Save(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
		return buildResult(saved, st), nil
	}

	st.ApprovalGranted = true
	st.PendingBranch = ""
	st.Phase = domain.PhaseRetrieve
	return uc.walk(ctx, st)
}

// walk drives the machine until a terminal phase or a suspension point. The
// routing lives in each node's returned phase; this loop only dispatches on
// the state tag and persists a checkpoint per step.
func (uc *TurnUseCase) walk(ctx context.Context, st domain.SessionState) (*domain.TurnResult, error) {
	for {
		var err error
		switch st.Phase {
		case domain.PhaseDecide:
			st, err = uc.decideSearch(ctx, st)
		case domain.PhaseExpand:
			st, err = uc.expandQuery(ctx, st)
		case domain.PhaseRetrieve:
			if uc.cfg.RequireApproval && !st.ApprovalGranted {
				st.Phase = domain.PhaseAwaitingApproval
				st.PendingBranch = st.SearchType
				saved, saveErr := uc.sessions.Save(ctx, st)
				if saveErr != nil {
					return nil, fmt.Errorf("save checkpoint: %w", saveErr)
				}
				return buildResult(saved, st), nil
			}
			st, err = uc.retrieve(ctx, st)
		case domain.PhaseReflect:
			st, err = uc.reflect(ctx, st)
		case domain.PhaseRefine:
			st, err = uc.refine(ctx, st)
		case domain.PhaseAnswer:
			st, err = uc.generateAnswer(ctx, st)
		default:
			err = fmt.Errorf("unexpected phase %q", st.Phase)
		}
		if err != nil {
			return nil, err
		}

		// A turn must not report success without a successful checkpoint write.
		saved, saveErr := uc.sessions.Save(ctx, st)
		if saveErr != nil {
			return nil, fmt.Errorf("save checkpoint: %w", saveErr)
		}
		if st.Phase.Terminal() {
			return buildResult(saved, st), nil
		}
	}
}

func (uc *TurnUseCase) loadOrCreate(ctx context.Context, sessionID string) (domain.SessionState, error) {
	existing, err := uc.sessions.Load(ctx, sessionID)
	if err != nil {
		if domain.IsKind(err, domain.ErrSessionNotFound) {
			return domain.NewSessionState(sessionID), nil
		}
		return domain.SessionState{}, fmt.Errorf("load session: %w", err)
	}
	return *existing, nil
}

func (uc *TurnUseCase) decideSearch(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	raw, err := uc.generator.GenerateJSONFromPrompt(ctx, buildDecidePrompt(st.CurrentQuery))
	decision := parseSearchDecision(raw, err)
	st.SearchType = decision.SearchType
	st.Complexity = decision.Complexity

	switch {
	case st.SearchType == domain.SearchNone:
		st.Phase = domain.PhaseAnswer
	case st.Complexity == domain.ComplexityComplex && st.MultiQuery:
		st.Phase = domain.PhaseExpand
	default:
		st.Phase = domain.PhaseRetrieve
	}
	return st, nil
}

func (uc *TurnUseCase) expandQuery(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	st.ExpandedQueries = uc.expandIntoSubQueries(ctx, st.CurrentQuery, uc.cfg.MaxSubQueries)
	st.Phase = domain.PhaseRetrieve
	return st, nil
}

// retrieve executes the branch selected by the search-type decision. Each
// expanded query is retrieved and fused independently; the per-query results
// are merged before reflection. A failing source degrades to empty evidence
// instead of failing the branch.
func (uc *TurnUseCase) retrieve(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	queries := st.ExpandedQueries
	if len(queries) == 0 {
		queries = []string{st.CurrentQuery}
	}

	local := make([]domain.EvidenceCandidate, 0)
	web := make([]domain.EvidenceCandidate, 0)
	perQuery := make([][]domain.EvidenceCandidate, 0, len(queries))

	for _, q := range queries {
		vectorHits := make([]domain.EvidenceCandidate, 0)
		lexicalHits := make([]domain.EvidenceCandidate, 0)

		if st.SearchType == domain.SearchLocal || st.SearchType == domain.SearchHybrid {
			vh, lh := uc.searchLocal(ctx, q)
			local = append(local, vh...)
			local = append(local, lh...)
			vectorHits = append(vectorHits, vh...)
			lexicalHits = append(lexicalHits, lh...)
		}
		if st.SearchType == domain.SearchWeb || st.SearchType == domain.SearchHybrid {
			wh := uc.searchWeb(ctx, q)
			web = append(web, wh...)
			vectorHits = append(vectorHits, wh...)
			lexicalHits = append(lexicalHits, scoreLexicalOverlap(q, wh)...)
		}

		perQuery = append(perQuery, fuseEvidence(vectorHits, lexicalHits, st.VectorWeight))
	}

	merged := mergeEvidence(perQuery...)
	merged = rerankEvidence(ctx, uc.reranker, st.CurrentQuery, merged, uc.cfg.FusionTopK, uc.cfg.RerankTopN)

	st.LocalEvidence = local
	st.WebEvidence = web
	st.FusedEvidence = merged
	st.Phase = domain.PhaseReflect
	return st, nil
}

// searchLocal gathers both local signals. When the embedding dependency is
// unavailable (breaker open, transient failure) the branch degrades to
// lexical-only scoring.
func (uc *TurnUseCase) searchLocal(ctx context.Context, query string) (vectorHits, lexicalHits []domain.EvidenceCandidate) {
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("local_search_vector_degraded", "error", err)
	} else {
		hits, searchErr := uc.vectorDB.Search(ctx, vector, uc.cfg.RetrieveLimit)
		if searchErr != nil {
			slog.Warn("local_search_vector_degraded", "error", searchErr)
		} else {
			vectorHits = hits
		}
	}

	hits, err := uc.vectorDB.SearchLexical(ctx, query, uc.cfg.RetrieveLimit)
	if err != nil {
		slog.Warn("local_search_lexical_degraded", "error", err)
	} else {
		lexicalHits = hits
	}
	return vectorHits, lexicalHits
}

func (uc *TurnUseCase) searchWeb(ctx context.Context, query string) []domain.EvidenceCandidate {
	hits, err := uc.webSearch.Search(ctx, query, uc.cfg.RetrieveLimit)
	if err != nil {
		slog.Warn("web_search_degraded", "error", err)
		return nil
	}
	return hits
}

// reflect asks the evaluator whether the fused evidence answers the query.
// The loop counter advances on every insufficient verdict and is hard-bounded
// by MaxLoops; exhaustion forces answer synthesis with degraded confidence.
func (uc *TurnUseCase) reflect(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	verdict := uc.evaluateEvidence(ctx, st.CurrentQuery, st.FusedEvidence)
	st.Verdict = &verdict

	if verdict.Sufficient {
		st.Phase = domain.PhaseAnswer
		return st, nil
	}

	st.LoopCount++
	if st.LoopCount >= st.MaxLoops {
		slog.Info("refine_loops_exhausted", "session_id", st.SessionID, "loops", st.LoopCount)
		st.DegradedConfidence = true
		st.Phase = domain.PhaseAnswer
		return st, nil
	}
	st.Phase = domain.PhaseRefine
	return st, nil
}

// refine rewrites the query for the next retrieval pass, preferring the
// evaluator's suggestion and synthesizing one otherwise. The branch that
// produced the insufficient evidence is re-entered unchanged.
func (uc *TurnUseCase) refine(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	refined := ""
	if st.Verdict != nil {
		refined = strings.TrimSpace(st.Verdict.RefinedQuery)
	}
	if refined == "" {
		raw, err := uc.generator.GenerateFromPrompt(ctx, buildRefinePrompt(st.CurrentQuery, st.Verdict))
		if err != nil {
			slog.Warn("refine_synthesis_degraded", "error", err)
		} else {
			refined = strings.TrimSpace(raw)
		}
	}
	if refined != "" {
		st.CurrentQuery = refined
	}

	// The refined query is retrieved directly; stale sub-queries would dilute it.
	st.ExpandedQueries = []string{}
	st.Phase = domain.PhaseRetrieve
	return st, nil
}

func (uc *TurnUseCase) generateAnswer(ctx context.Context, st domain.SessionState) (domain.SessionState, error) {
	prompt := buildAnswerPrompt(st, uc.cfg.HistoryWindow)
	answer, err := uc.generator.GenerateFromPrompt(ctx, prompt)
	if err != nil {
		return st, fmt.Errorf("generate answer: %w", err)
	}

	st.FinalAnswer = strings.TrimSpace(answer)
	st.Sources = citeSources(st.FusedEvidence)
	st.History = append(st.History, domain.TurnMessage{Role: "assistant", Text: st.FinalAnswer})
	st.Phase = domain.PhaseAnswered
	return st, nil
}

const maxExcerptChars = 240

func citeSources(evidence []domain.EvidenceCandidate) []domain.Source {
	out := make([]domain.Source, 0, len(evidence))
	for _, c := range evidence {
		excerpt := c.Text
		if runes := []rune(excerpt); len(runes) > maxExcerptChars {
			excerpt = string(runes[:maxExcerptChars])
		}
		out = append(out, domain.Source{
			ID:      c.SourceID,
			Excerpt: excerpt,
			Origin:  c.Origin,
		})
	}
	return out
}

func buildResult(cp *domain.Checkpoint, st domain.SessionState) *domain.TurnResult {
	result := &domain.TurnResult{
		SessionID:  st.SessionID,
		Step:       cp.Step,
		Answer:     st.FinalAnswer,
		Sources:    st.Sources,
		Degraded:   st.DegradedConfidence,
		SearchType: st.SearchType,
		LoopCount:  st.LoopCount,
		Declined:   st.Phase == domain.PhaseDeclined,
	}
	if st.Phase == domain.PhaseAwaitingApproval {
		result.Suspended = true
		result.PendingAction = pendingActionDescription(st.PendingBranch, st.CurrentQuery)
	}
	return result
}

func pendingActionDescription(branch domain.SearchType, query string) string {
	switch branch {
	case domain.SearchLocal:
		return fmt.Sprintf("about to search the local knowledge base for: %q", query)
	case domain.SearchWeb:
		return fmt.Sprintf("about to search the web for: %q", query)
	case domain.SearchHybrid:
		return fmt.Sprintf("about to run a hybrid (local + web) search for: %q", query)
	default:
		return fmt.Sprintf("about to run a %s search for: %q", branch, query)
	}
}

// lockSession serializes turns for one session id; different sessions proceed
// independently.
func (uc *TurnUseCase) lockSession(sessionID string) func() {
	uc.mu.Lock()
	lock, ok := uc.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		uc.locks[sessionID] = lock
	}
	uc.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
