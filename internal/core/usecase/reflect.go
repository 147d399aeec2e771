package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

// evaluateEvidence judges whether the fused evidence suffices to answer the
// query. Empty evidence is insufficient without a model call; a malformed or
// failed evaluator response falls back to the conservative insufficient
// verdict. The evidence is only read, never mutated, so identical inputs
// yield identical verdicts.
func (uc *TurnUseCase) evaluateEvidence(
	ctx context.Context,
	query string,
	evidence []domain.EvidenceCandidate,
) domain.ReflectionVerdict {
	if len(evidence) == 0 {
		return domain.ReflectionVerdict{
			Sufficient: false,
			Rationale:  "no evidence retrieved",
		}
	}

	raw, err := uc.generator.GenerateJSONFromPrompt(ctx, buildReflectionPrompt(query, evidence))
	if err != nil {
		slog.Warn("reflection_evaluator_degraded", "error", err)
		return domain.ReflectionVerdict{
			Sufficient: false,
			Rationale:  "evaluator unavailable",
		}
	}

	verdict, parseErr := parseReflectionVerdict(raw)
	if parseErr != nil {
		slog.Warn("reflection_verdict_unparseable", "error", parseErr)
		return domain.ReflectionVerdict{
			Sufficient: false,
			Rationale:  "unparseable evaluator verdict",
		}
	}
	return verdict
}

func parseReflectionVerdict(raw string) (domain.ReflectionVerdict, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.ReflectionVerdict{}, fmt.Errorf("empty evaluator response")
	}

	var verdict struct {
		Sufficient   bool   `json:"sufficient"`
		RefinedQuery string `json:"refined_query"`
		Rationale    string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &verdict); err != nil {
		return domain.ReflectionVerdict{}, fmt.Errorf("unmarshal verdict json: %w", err)
	}
	return domain.ReflectionVerdict{
		Sufficient:   verdict.Sufficient,
		RefinedQuery: strings.TrimSpace(verdict.RefinedQuery),
		Rationale:    strings.TrimSpace(verdict.Rationale),
	}, nil
}

func buildReflectionPrompt(query string, evidence []domain.EvidenceCandidate) string {
	var b strings.Builder
	for i, c := range evidence {
		fmt.Fprintf(&b, "[%d] id=%s origin=%s\n%s\n\n", i+1, c.SourceID, c.Origin, c.Text)
	}

	return fmt.Sprintf(`You are a retrieval quality evaluator.
Judge whether the evidence below is enough to answer the question:
1. Does it contain facts that directly answer the question?
2. Is it topically on-point rather than tangential?
3. Is the coverage complete enough for a confident answer?

Return strict JSON: {"sufficient": true|false, "refined_query": "...", "rationale": "..."}.
When insufficient, put an improved search query into refined_query.
No markdown, no extra keys.

Question:
%s

Evidence:
%s`, query, b.String())
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
