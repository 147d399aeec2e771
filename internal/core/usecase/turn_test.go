package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

const (
	decideNone          = `{"search_type": "none", "complexity": "simple"}`
	decideLocal         = `{"search_type": "local", "complexity": "simple"}`
	decideHybrid        = `{"search_type": "hybrid", "complexity": "simple"}`
	decideHybridComplex = `{"search_type": "hybrid", "complexity": "complex"}`

	verdictSufficient   = `{"sufficient": true}`
	verdictInsufficient = `{"sufficient": false, "refined_query": "refined query", "rationale": "missing facts"}`
)

// scriptedGenerator routes prompts to canned responses by the distinctive
// instruction line each prompt template carries.
type scriptedGenerator struct {
	decideJSON  string
	decideErr   error
	expandJSON  string
	expandErr   error
	reflectJSON []string
	refineText  string
	rewriteText string
	rewriteErr  error
	answerText  string
	answerErr   error

	jsonCalls    int
	reflectCalls int
	prompts      []string
}

func (g *scriptedGenerator) GenerateFromPrompt(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	switch {
	case strings.Contains(prompt, "Rewrite the new user question"):
		return g.rewriteText, g.rewriteErr
	case strings.Contains(prompt, "returned insufficient evidence"):
		return g.refineText, nil
	default:
		if g.answerErr != nil {
			return "", g.answerErr
		}
		if g.answerText == "" {
			return "stub answer", nil
		}
		return g.answerText, nil
	}
}

func (g *scriptedGenerator) GenerateJSONFromPrompt(_ context.Context, prompt string) (string, error) {
	g.jsonCalls++
	g.prompts = append(g.prompts, prompt)
	switch {
	case strings.Contains(prompt, "search router"):
		return g.decideJSON, g.decideErr
	case strings.Contains(prompt, "Decompose the question"):
		return g.expandJSON, g.expandErr
	case strings.Contains(prompt, "retrieval quality evaluator"):
		idx := g.reflectCalls
		g.reflectCalls++
		if len(g.reflectJSON) == 0 {
			return "", errors.New("no scripted verdict")
		}
		if idx >= len(g.reflectJSON) {
			idx = len(g.reflectJSON) - 1
		}
		return g.reflectJSON[idx], nil
	}
	return "", fmt.Errorf("unscripted json prompt: %.60s", prompt)
}

type searchVectorFake struct {
	dense      []domain.EvidenceCandidate
	lexical    []domain.EvidenceCandidate
	denseErr   error
	lexicalErr error

	denseCalls   int
	lexicalCalls int
}

func (f *searchVectorFake) IndexChunks(context.Context, *domain.Document, []string, [][]float32) error {
	return nil
}

func (f *searchVectorFake) Search(context.Context, []float32, int) ([]domain.EvidenceCandidate, error) {
	f.denseCalls++
	if f.denseErr != nil {
		return nil, f.denseErr
	}
	return f.dense, nil
}

func (f *searchVectorFake) SearchLexical(context.Context, string, int) ([]domain.EvidenceCandidate, error) {
	f.lexicalCalls++
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	return f.lexical, nil
}

type webSearchFake struct {
	hits    []domain.EvidenceCandidate
	err     error
	queries []string
}

func (f *webSearchFake) Search(_ context.Context, query string, _ int) ([]domain.EvidenceCandidate, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type sessionStoreFake struct {
	checkpoints []domain.Checkpoint
	saveErr     error
	latestErr   error
}

func (f *sessionStoreFake) Load(_ context.Context, sessionID string) (*domain.SessionState, error) {
	if len(f.checkpoints) == 0 {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "load session", errors.New(sessionID))
	}
	st := f.checkpoints[len(f.checkpoints)-1].State
	return &st, nil
}

func (f *sessionStoreFake) Save(_ context.Context, state domain.SessionState) (*domain.Checkpoint, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	cp := domain.Checkpoint{
		SessionID: state.SessionID,
		Step:      len(f.checkpoints) + 1,
		State:     state,
		CreatedAt: time.Now(),
	}
	f.checkpoints = append(f.checkpoints, cp)
	return &cp, nil
}

func (f *sessionStoreFake) Latest(_ context.Context, sessionID string) (*domain.Checkpoint, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	if len(f.checkpoints) == 0 {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "latest checkpoint", errors.New(sessionID))
	}
	cp := f.checkpoints[len(f.checkpoints)-1]
	return &cp, nil
}

func (f *sessionStoreFake) History(_ context.Context, sessionID string) ([]domain.Checkpoint, error) {
	if len(f.checkpoints) == 0 {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "session history", errors.New(sessionID))
	}
	return f.checkpoints, nil
}

func (f *sessionStoreFake) lastState(t *testing.T) domain.SessionState {
	t.Helper()
	if len(f.checkpoints) == 0 {
		t.Fatalf("no checkpoints saved")
	}
	return f.checkpoints[len(f.checkpoints)-1].State
}

func denseHit(id string, score float64) domain.EvidenceCandidate {
	return domain.EvidenceCandidate{SourceID: id, Text: "text " + id, Origin: domain.OriginLocal, VectorScore: score}
}

func lexicalHit(id string, score float64) domain.EvidenceCandidate {
	return domain.EvidenceCandidate{SourceID: id, Text: "text " + id, Origin: domain.OriginLocal, LexicalScore: score}
}

func webHit(url string, score float64) domain.EvidenceCandidate {
	return domain.EvidenceCandidate{SourceID: url, Text: "web text", Origin: domain.OriginWeb, VectorScore: score}
}

func TestRunTurnRejectsBlankInputs(t *testing.T) {
	uc := NewTurnUseCase(&scriptedGenerator{}, &embedderFake{}, &searchVectorFake{}, &webSearchFake{}, nil, &sessionStoreFake{}, TurnConfig{})

	if _, err := uc.RunTurn(context.Background(), "  ", "query", domain.TurnOverrides{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("blank session id: expected invalid input, got %v", err)
	}
	if _, err := uc.RunTurn(context.Background(), "s1", "  ", domain.TurnOverrides{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("blank query: expected invalid input, got %v", err)
	}
}

func TestRunTurnAnswersDirectlyWithoutRetrieval(t *testing.T) {
	gen := &scriptedGenerator{decideJSON: decideNone, answerText: "Paris."}
	vec := &searchVectorFake{}
	web := &webSearchFake{}
	sessions := &sessionStoreFake{}
	uc := NewTurnUseCase(gen, &embedderFake{}, vec, web, nil, sessions, TurnConfig{})

	res, err := uc.RunTurn(context.Background(), "s1", "What is the capital of France?", domain.TurnOverrides{})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if res.Answer != "Paris." {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if res.SearchType != domain.SearchNone {
		t.Fatalf("expected search type none, got %q", res.SearchType)
	}
	if vec.denseCalls != 0 || vec.lexicalCalls != 0 || len(web.queries) != 0 {
		t.Fatalf("direct answer must not retrieve: dense=%d lexical=%d web=%d", vec.denseCalls, vec.lexicalCalls, len(web.queries))
	}
	if len(res.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(res.Sources))
	}
	final := sessions.lastState(t)
	if final.Phase != domain.PhaseAnswered {
		t.Fatalf("expected answered phase, got %q", final.Phase)
	}
	if res.Step != len(sessions.checkpoints) {
		t.Fatalf("result step %d does not match last checkpoint %d", res.Step, len(sessions.checkpoints))
	}
}

func TestRunTurnHybridFusesRetrievalAndCitesSources(t *testing.T) {
	gen := &scriptedGenerator{
		decideJSON:  decideHybrid,
		reflectJSON: []string{verdictSufficient},
		answerText:  "Answer grounded in [1].",
	}
	vec := &searchVectorFake{
		dense:   []domain.EvidenceCandidate{denseHit("doc-1:0", 0.9), denseHit("doc-2:0", 0.4)},
		lexical: []domain.EvidenceCandidate{lexicalHit("doc-1:0", 2.1)},
	}
	web := &webSearchFake{hits: []domain.EvidenceCandidate{webHit("https://example.com/a", 0.8)}}
	sessions := &sessionStoreFake{}
	uc := NewTurnUseCase(gen, &embedderFake{queryVec: []float32{0.1, 0.2}}, vec, web, nil, sessions, TurnConfig{})

	res, err := uc.RunTurn(context.Background(), "s1", "compare local docs with recent news", domain.TurnOverrides{})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if res.SearchType != domain.SearchHybrid {
		t.Fatalf("expected hybrid search, got %q", res.SearchType)
	}
	if vec.denseCalls != 1 || vec.lexicalCalls != 1 || len(web.queries) != 1 {
		t.Fatalf("expected one pass per signal: dense=%d lexical=%d web=%d", vec.denseCalls, vec.lexicalCalls, len(web.queries))
	}
	if gen.reflectCalls != 1 {
		t.Fatalf("expected one reflection call, got %d", gen.reflectCalls)
	}
	if res.LoopCount != 0 || res.Degraded {
		t.Fatalf("sufficient evidence must not loop or degrade: loops=%d degraded=%v", res.LoopCount, res.Degraded)
	}
	if len(res.Sources) == 0 {
		t.Fatalf("expected cited sources")
	}
	ids := make(map[string]bool, len(res.Sources))
	for _, s := range res.Sources {
		ids[s.ID] = true
		if s.Origin == "" {
			t.Fatalf("source %s carries no origin", s.ID)
		}
	}
	if !ids["doc-1:0"] || !ids["https://example.com/a"] {
		t.Fatalf("expected local and web sources, got %v", ids)
	}
}

func TestRunTurnExpandsComplexQueryIntoSubQueries(t *testing.T) {
	gen := &scriptedGenerator{
		decideJSON:  decideHybridComplex,
		expandJSON:  `{"queries": ["first aspect", "second aspect"]}`,
		reflectJSON: []string{verdictSufficient},
	}
	vec := &searchVectorFake{lexical: []domain.EvidenceCandidate{lexicalHit("doc-1:0", 1)}}
	web := &webSearchFake{hits: []domain.EvidenceCandidate{webHit("https://example.com/a", 0.7)}}
	sessions := &sessionStoreFake{}
	uc := NewTurnUseCase(gen, &embedderFake{queryVec: []float32{0.1}}, vec, web, nil, sessions, TurnConfig{})

	multi := true
	_, err := uc.RunTurn(context.Background(), "s1", "broad multi-part question", domain.TurnOverrides{MultiQuery: &multi})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if len(web.queries) != 2 || web.queries[0] != "first aspect" || web.queries[1] != "second aspect" {
		t.Fatalf("expected retrieval per sub-query, got %v", web.queries)
	}
	if vec.denseCalls != 2 || vec.lexicalCalls != 2 {
		t.Fatalf("expected local retrieval per sub-query: dense=%d lexical=%d", vec.denseCalls, vec.lexicalCalls)
	}
}

func TestRunTurnForcesAnswerAfterLoopBound(t *testing.T) {
	gen := &scriptedGenerator{
		decideJSON: decideLocal,
		refineText: "better query",
		answerText: "best effort answer",
	}
	// Empty retrieval keeps every reflection verdict insufficient.
	vec := &searchVectorFake{}
	sessions := &sessionStoreFake{}
	uc := NewTurnUseCase(gen, &embedderFake{queryVec: []float32{0.1}}, vec, &webSearchFake{}, nil, sessions, TurnConfig{})

	maxLoops := 2
	res, err := uc.RunTurn(context.Background(), "s1", "unanswerable question", domain.TurnOverrides{MaxLoops: &maxLoops})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if !res.Degraded {
		t.Fatalf("loop exhaustion must mark the answer degraded")
	}
	if res.LoopCount != maxLoops {
		t.Fatalf("expected loop count %d, got %d", maxLoops, res.LoopCount)
	}
	if res.Answer == "" {
		t.Fatalf("exhausted turn must still answer")
	}
	if vec.lexicalCalls != maxLoops {
		t.Fatalf("expected %d retrieval passes, got %d", maxLoops, vec.lexicalCalls)
	}
	if final := sessions.lastState(t); final.CurrentQuery != "better query" {
		t.Fatalf("expected refined query in final state, got %q", final.CurrentQuery)
	}
}

func TestRunTurnDegradesToLexicalOnEmbedFailure(t *testing.T) {
	gen := &scriptedGenerator{
		decideJSON:  decideLocal,
		reflectJSON: []string{verdictSufficient},
	}
	vec := &searchVectorFake{lexical: []domain.EvidenceCandidate{lexicalHit("doc-3:1", 1.5)}}
	sessions := &sessionStoreFake{}
	embedder := &embedderFake{queryErr: errors.New("embedding backend down")}
	uc := NewTurnUseCase(gen, embedder, vec, &webSearchFake{}, nil, sessions, TurnConfig{})

	res, err := uc.RunTurn(context.Background(), "s1", "question about my docs", domain.TurnOverrides{})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if vec.denseCalls != 0 {
		t.Fatalf("dense search must be skipped when embedding fails, got %d calls", vec.denseCalls)
	}
	if vec.lexicalCalls != 1 {
		t.Fatalf("expected lexical fallback, got %d calls", vec.lexicalCalls)
	}
	if len(res.Sources) != 1 || res.Sources[0].ID != "doc-3:1" {
		t.Fatalf("expected lexical evidence to be cited, got %+v", res.Sources)
	}
}

func TestRunTurnSuspendsUntilApproved(t *testing.T) {
	gen := &scriptedGenerator{
		decideJSON:  decideLocal,
		reflectJSON: []string{verdictSufficient},
		answerText:  "approved answer",
	}
	vec := &searchVectorFake{lexical: []domain.EvidenceCandidate{lexicalHit("doc-1:0", 1)}}
	sessions := &sessionStoreFake{}
	uc := NewTurnUseCase(gen, &embedderFake{queryVec: []float32{0.1}}, vec, &webSearchFake{}, nil, sessions, TurnConfig{RequireApproval: true})

	res, err := uc.RunTurn(context.Background(), "s1", "question about my docs", domain.TurnOverrides{})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if !res.Suspended {
		t.Fatalf("expected suspension before retrieval")
	}
	if !strings.Contains(res.PendingAction, "question about my docs") {
		t.Fatalf("pending action must describe the query, got %q", res.PendingAction)
	}
	if vec.denseCalls != 0 || vec.lexicalCalls != 0 {
		t.Fatalf("suspended turn must not retrieve")
	}
	if suspended := sessions.lastState(t); suspended.Phase != domain.PhaseAwaitingApproval {
		t.Fatalf("expected awaiting_approval checkpoint, got %q", suspended.Phase)
	}

	resumed, err := uc.Resume(context.Background(), "s1", true)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Suspended || resumed.Declined {
		t.Fatalf("approved resume must complete the turn: %+v", resumed)
	}
	if resumed.Answer != "approved answer" {
		t.Fatalf("unexpected answer %q", resumed.Answer)
	}
	if vec.lexicalCalls != 1 {
		t.Fatalf("approved resume must run the retrieval branch, got %d calls", vec.lexicalCalls)
	}
}

func TestResumeDeclinedTerminatesTurn(t *testing.T) {
	gen := &scriptedGenerator{decideJSON: decideLocal}
	vec := &searchVectorFake{}
	sessions := &sessionStoreFake{}
	uc := NewTurnUseCase(gen, &embedderFake{}, vec, &webSearchFake{}, nil, sessions, TurnConfig{RequireApproval: true})

	if _, err := uc.RunTurn(context.Background(), "s1", "question", domain.TurnOverrides{}); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	res, err := uc.Resume(context.Background(), "s1", false)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !res.Declined {
		t.Fatalf("expected declined result")
	}
	if res.Answer != "Search declined." {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if vec.denseCalls != 0 || vec.lexicalCalls != 0 {
		t.Fatalf("declined resume must not retrieve")
	}
	if final := sessions.lastState(t); final.Phase != domain.PhaseDeclined {
		t.Fatalf("expected declined phase, got %q", final.Phase)
	}
}

func TestResumeWithoutSuspensionIsRejected(t *testing.T) {
	answered := domain.NewSessionState("s1")
	answered.Phase = domain.PhaseAnswered
	sessions := &sessionStoreFake{checkpoints: []domain.Checkpoint{{SessionID: "s1", Step: 1, State: answered}}}
	uc := NewTurnUseCase(&scriptedGenerator{}, &embedderFake{}, &searchVectorFake{}, &webSearchFake{}, nil, sessions, TurnConfig{})

	_, err := uc.Resume(context.Background(), "s1", true)
	if !domain.IsKind(err, domain.ErrNoPendingApproval) {
		t.Fatalf("expected no pending approval error, got %v", err)
	}
}

func TestResumeUnknownSessionFails(t *testing.T) {
	uc := NewTurnUseCase(&scriptedGenerator{}, &embedderFake{}, &searchVectorFake{}, &webSearchFake{}, nil, &sessionStoreFake{}, TurnConfig{})

	_, err := uc.Resume(context.Background(), "missing", true)
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestRunTurnFailsWhenCheckpointSaveFails(t *testing.T) {
	gen := &scriptedGenerator{decideJSON: decideNone}
	sessions := &sessionStoreFake{saveErr: errors.New("database unavailable")}
	uc := NewTurnUseCase(gen, &embedderFake{}, &searchVectorFake{}, &webSearchFake{}, nil, sessions, TurnConfig{})

	res, err := uc.RunTurn(context.Background(), "s1", "question", domain.TurnOverrides{})
	if err == nil || !strings.Contains(err.Error(), "save checkpoint") {
		t.Fatalf("expected checkpoint save failure, got %v", err)
	}
	if res != nil {
		t.Fatalf("failed turn must not return a result")
	}
}

func TestRunTurnRewritesFollowUpQuery(t *testing.T) {
	prior := domain.NewSessionState("s1")
	prior.Phase = domain.PhaseAnswered
	prior.History = []domain.TurnMessage{
		{Role: "user", Text: "Tell me about the Go scheduler"},
		{Role: "assistant", Text: "It multiplexes goroutines onto OS threads."},
	}
	sessions := &sessionStoreFake{checkpoints: []domain.Checkpoint{{SessionID: "s1", Step: 1, State: prior}}}

	gen := &scriptedGenerator{
		decideJSON:  decideNone,
		rewriteText: "how does the Go scheduler handle preemption",
	}
	uc := NewTurnUseCase(gen, &embedderFake{}, &searchVectorFake{}, &webSearchFake{}, nil, sessions, TurnConfig{})

	if _, err := uc.RunTurn(context.Background(), "s1", "how does it handle preemption?", domain.TurnOverrides{}); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	final := sessions.lastState(t)
	if final.CurrentQuery != "how does the Go scheduler handle preemption" {
		t.Fatalf("expected rewritten query, got %q", final.CurrentQuery)
	}
	if len(final.History) != 4 {
		t.Fatalf("expected history to grow to 4 messages, got %d", len(final.History))
	}
}
