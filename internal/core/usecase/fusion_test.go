package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

type rerankerFake struct {
	scores []float64
	err    error
	calls  int
}

func (f *rerankerFake) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.scores != nil {
		return f.scores, nil
	}
	return make([]float64, len(texts)), nil
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFuseEvidenceNormalizesAndWeightsSignals(t *testing.T) {
	vector := []domain.EvidenceCandidate{
		denseHit("a", 0.9),
		denseHit("b", 0.1),
	}
	lexical := []domain.EvidenceCandidate{
		lexicalHit("b", 3),
		lexicalHit("c", 1),
	}

	fused := fuseEvidence(vector, lexical, 0.5)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(fused))
	}

	// a: vector-only, normalized to 1 and unpenalized for the missing signal.
	// b: vector normalized 0, lexical normalized 1, weighted at 0.5.
	// c: lexical-only, normalized to 0.
	want := []struct {
		id    string
		score float64
	}{
		{"a", 1.0},
		{"b", 0.5},
		{"c", 0.0},
	}
	for i, w := range want {
		if fused[i].SourceID != w.id {
			t.Fatalf("position %d: expected %s, got %s", i, w.id, fused[i].SourceID)
		}
		if !almostEqual(fused[i].FusedScore, w.score) {
			t.Fatalf("candidate %s: expected fused score %.3f, got %.3f", w.id, w.score, fused[i].FusedScore)
		}
	}
}

func TestFuseEvidenceScoresStayWithinUnitInterval(t *testing.T) {
	vector := []domain.EvidenceCandidate{
		denseHit("a", -5),
		denseHit("b", 0),
		denseHit("c", 10),
	}
	lexical := []domain.EvidenceCandidate{
		lexicalHit("b", 100),
		lexicalHit("d", 250),
	}

	for _, c := range fuseEvidence(vector, lexical, 0.7) {
		if c.FusedScore < 0 || c.FusedScore > 1 {
			t.Fatalf("candidate %s: fused score %.3f outside [0,1]", c.SourceID, c.FusedScore)
		}
	}
}

func TestFuseEvidenceDeterministicTieBreak(t *testing.T) {
	// A degenerate score range collapses both positives to 1, forcing a tie.
	vector := []domain.EvidenceCandidate{
		denseHit("beta", 0.5),
		denseHit("alpha", 0.5),
	}

	fused := fuseEvidence(vector, nil, 0.6)
	if len(fused) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(fused))
	}
	if fused[0].SourceID != "alpha" || fused[1].SourceID != "beta" {
		t.Fatalf("ties must break on source id: got %s, %s", fused[0].SourceID, fused[1].SourceID)
	}
}

func TestFuseEvidenceKeepsHigherDuplicateSignal(t *testing.T) {
	vector := []domain.EvidenceCandidate{
		denseHit("a", 0.9),
		denseHit("a", 0.1),
		denseHit("b", 0.5),
	}

	fused := fuseEvidence(vector, nil, 0.6)
	if len(fused) != 2 {
		t.Fatalf("duplicates must collapse, got %d candidates", len(fused))
	}
	if fused[0].SourceID != "a" || !almostEqual(fused[0].FusedScore, 1.0) {
		t.Fatalf("expected a with the higher normalized score, got %s %.3f", fused[0].SourceID, fused[0].FusedScore)
	}
}

func TestMergeEvidenceDeduplicatesKeepingHigherScore(t *testing.T) {
	first := []domain.EvidenceCandidate{
		{SourceID: "a", FusedScore: 0.9},
		{SourceID: "b", FusedScore: 0.4},
	}
	second := []domain.EvidenceCandidate{
		{SourceID: "a", FusedScore: 0.2},
		{SourceID: "c", FusedScore: 0.7},
	}

	merged := mergeEvidence(first, second)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged candidates, got %d", len(merged))
	}
	want := []struct {
		id    string
		score float64
	}{
		{"a", 0.9},
		{"c", 0.7},
		{"b", 0.4},
	}
	for i, w := range want {
		if merged[i].SourceID != w.id || !almostEqual(merged[i].FusedScore, w.score) {
			t.Fatalf("position %d: expected %s %.1f, got %s %.3f", i, w.id, w.score, merged[i].SourceID, merged[i].FusedScore)
		}
	}
}

func TestRerankEvidenceReplacesFusedOrder(t *testing.T) {
	fused := []domain.EvidenceCandidate{
		{SourceID: "a", Text: "a", FusedScore: 0.9},
		{SourceID: "b", Text: "b", FusedScore: 0.8},
		{SourceID: "c", Text: "c", FusedScore: 0.7},
	}
	reranker := &rerankerFake{scores: []float64{0.1, 0.9, 0.5}}

	out := rerankEvidence(context.Background(), reranker, "query", fused, 3, 2)
	if reranker.calls != 1 {
		t.Fatalf("expected one reranker call, got %d", reranker.calls)
	}
	if len(out) != 2 {
		t.Fatalf("expected top-2 truncation, got %d", len(out))
	}
	if out[0].SourceID != "b" || out[1].SourceID != "c" {
		t.Fatalf("expected rerank order b, c; got %s, %s", out[0].SourceID, out[1].SourceID)
	}
	if out[0].RerankScore == nil || *out[0].RerankScore != 0.9 {
		t.Fatalf("expected rerank score on candidates, got %+v", out[0].RerankScore)
	}
}

func TestRerankEvidenceFallsBackToFusedOrderOnError(t *testing.T) {
	fused := []domain.EvidenceCandidate{
		{SourceID: "a", Text: "a", FusedScore: 0.9},
		{SourceID: "b", Text: "b", FusedScore: 0.8},
		{SourceID: "c", Text: "c", FusedScore: 0.7},
	}
	reranker := &rerankerFake{err: errors.New("reranker unavailable")}

	out := rerankEvidence(context.Background(), reranker, "query", fused, 3, 2)
	if len(out) != 2 || out[0].SourceID != "a" || out[1].SourceID != "b" {
		t.Fatalf("expected fused order fallback, got %+v", out)
	}
	if out[0].RerankScore != nil {
		t.Fatalf("fallback candidates must not carry rerank scores")
	}
}

func TestRerankEvidenceLengthMismatchFallsBack(t *testing.T) {
	fused := []domain.EvidenceCandidate{
		{SourceID: "a", Text: "a", FusedScore: 0.9},
		{SourceID: "b", Text: "b", FusedScore: 0.8},
	}
	reranker := &rerankerFake{scores: []float64{0.5}}

	out := rerankEvidence(context.Background(), reranker, "query", fused, 2, 2)
	if len(out) != 2 || out[0].SourceID != "a" {
		t.Fatalf("misaligned scores must keep fused order, got %+v", out)
	}
}

func TestRerankEvidenceNilRerankerTrimsOnly(t *testing.T) {
	fused := []domain.EvidenceCandidate{
		{SourceID: "a", FusedScore: 0.9},
		{SourceID: "b", FusedScore: 0.8},
		{SourceID: "c", FusedScore: 0.7},
	}

	out := rerankEvidence(context.Background(), nil, "query", fused, 3, 1)
	if len(out) != 1 || out[0].SourceID != "a" {
		t.Fatalf("expected fused head, got %+v", out)
	}
}

func TestScoreLexicalOverlapComputesQueryTokenShare(t *testing.T) {
	hits := []domain.EvidenceCandidate{
		{SourceID: "w1", Text: "The collector in Go uses tri-color marking"},
		{SourceID: "w2", Text: "completely unrelated text"},
	}

	scored := scoreLexicalOverlap("Go garbage collector", hits)
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored hits, got %d", len(scored))
	}
	if !almostEqual(scored[0].LexicalScore, 2.0/3.0) {
		t.Fatalf("expected 2/3 overlap, got %.3f", scored[0].LexicalScore)
	}
	if scored[1].LexicalScore != 0 {
		t.Fatalf("expected zero overlap, got %.3f", scored[1].LexicalScore)
	}
}
