package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

func TestEvaluateEvidenceEmptyEvidenceSkipsEvaluator(t *testing.T) {
	gen := &scriptedGenerator{}
	uc := NewTurnUseCase(gen, &embedderFake{}, &searchVectorFake{}, &webSearchFake{}, nil, &sessionStoreFake{}, TurnConfig{})

	verdict := uc.evaluateEvidence(context.Background(), "query", nil)
	if verdict.Sufficient {
		t.Fatalf("empty evidence must be insufficient")
	}
	if gen.jsonCalls != 0 {
		t.Fatalf("empty evidence must not call the evaluator, got %d calls", gen.jsonCalls)
	}
}

func TestEvaluateEvidenceEvaluatorErrorIsInsufficient(t *testing.T) {
	// No scripted verdict makes the evaluator call fail.
	gen := &scriptedGenerator{}
	uc := NewTurnUseCase(gen, &embedderFake{}, &searchVectorFake{}, &webSearchFake{}, nil, &sessionStoreFake{}, TurnConfig{})

	verdict := uc.evaluateEvidence(context.Background(), "query", []domain.EvidenceCandidate{denseHit("a", 0.5)})
	if verdict.Sufficient {
		t.Fatalf("evaluator failure must fall back to insufficient")
	}
	if verdict.Rationale != "evaluator unavailable" {
		t.Fatalf("unexpected rationale %q", verdict.Rationale)
	}
}

func TestEvaluateEvidenceMalformedVerdictIsInsufficient(t *testing.T) {
	gen := &scriptedGenerator{reflectJSON: []string{"the evidence looks fine to me"}}
	uc := NewTurnUseCase(gen, &embedderFake{}, &searchVectorFake{}, &webSearchFake{}, nil, &sessionStoreFake{}, TurnConfig{})

	verdict := uc.evaluateEvidence(context.Background(), "query", []domain.EvidenceCandidate{denseHit("a", 0.5)})
	if verdict.Sufficient {
		t.Fatalf("unparseable verdict must fall back to insufficient")
	}
	if verdict.Rationale != "unparseable evaluator verdict" {
		t.Fatalf("unexpected rationale %q", verdict.Rationale)
	}
}

func TestParseReflectionVerdictExtractsEmbeddedJSON(t *testing.T) {
	raw := "```json\n{\"sufficient\": false, \"refined_query\": \"  narrower query \", \"rationale\": \"too broad\"}\n```"

	verdict, err := parseReflectionVerdict(raw)
	if err != nil {
		t.Fatalf("parseReflectionVerdict() error = %v", err)
	}
	if verdict.Sufficient {
		t.Fatalf("expected insufficient verdict")
	}
	if verdict.RefinedQuery != "narrower query" {
		t.Fatalf("expected trimmed refined query, got %q", verdict.RefinedQuery)
	}
	if verdict.Rationale != "too broad" {
		t.Fatalf("unexpected rationale %q", verdict.Rationale)
	}
}

func TestParseReflectionVerdictRejectsEmptyResponse(t *testing.T) {
	if _, err := parseReflectionVerdict("   "); err == nil {
		t.Fatalf("expected error for empty response")
	}
}
