package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/agentic-search/internal/core/domain"
)

type searchDecision struct {
	SearchType domain.SearchType
	Complexity domain.QueryComplexity
}

// parseSearchDecision reads the classifier's JSON. Any failure (call error,
// malformed JSON, unknown enum values) falls back to the conservative
// default: a single hybrid retrieval pass.
func parseSearchDecision(raw string, callErr error) searchDecision {
	fallback := searchDecision{
		SearchType: domain.SearchHybrid,
		Complexity: domain.ComplexitySimple,
	}
	if callErr != nil {
		slog.Warn("search_decision_degraded", "error", callErr)
		return fallback
	}

	var decision struct {
		SearchType string `json:"search_type"`
		Complexity string `json:"complexity"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &decision); err != nil {
		slog.Warn("search_decision_unparseable", "error", err)
		return fallback
	}

	out := fallback
	switch domain.SearchType(strings.ToLower(strings.TrimSpace(decision.SearchType))) {
	case domain.SearchNone:
		out.SearchType = domain.SearchNone
	case domain.SearchLocal:
		out.SearchType = domain.SearchLocal
	case domain.SearchWeb:
		out.SearchType = domain.SearchWeb
	case domain.SearchHybrid:
		out.SearchType = domain.SearchHybrid
	default:
		slog.Warn("search_decision_unknown_type", "search_type", decision.SearchType)
	}

	if domain.QueryComplexity(strings.ToLower(strings.TrimSpace(decision.Complexity))) == domain.ComplexityComplex {
		out.Complexity = domain.ComplexityComplex
	}
	return out
}

// rewriteFollowUp resolves pronouns and ellipsis in a follow-up query using
// prior conversation turns so retrieval sees a self-contained query. On any
// failure the original query is kept.
func (uc *TurnUseCase) rewriteFollowUp(ctx context.Context, history []domain.TurnMessage, query string) string {
	raw, err := uc.generator.GenerateFromPrompt(ctx, buildRewritePrompt(history, query, uc.cfg.HistoryWindow))
	if err != nil {
		slog.Warn("follow_up_rewrite_degraded", "error", err)
		return query
	}
	rewritten := strings.TrimSpace(raw)
	if rewritten == "" {
		return query
	}
	return rewritten
}

// expandIntoSubQueries decomposes a complex query into at most maxSubQueries
// narrower sub-queries. An empty result means retrieval proceeds with the
// original query.
func (uc *TurnUseCase) expandIntoSubQueries(ctx context.Context, query string, maxSubQueries int) []string {
	raw, err := uc.generator.GenerateJSONFromPrompt(ctx, buildExpandPrompt(query, maxSubQueries))
	if err != nil {
		slog.Warn("query_expansion_degraded", "error", err)
		return []string{}
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		slog.Warn("query_expansion_unparseable", "error", err)
		return []string{}
	}

	out := make([]string, 0, maxSubQueries)
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == maxSubQueries {
			break
		}
	}
	return out
}

func buildDecidePrompt(query string) string {
	return fmt.Sprintf(`You are a search router for a question answering assistant.
Classify the user question.

search_type rules:
- "none": answerable from general knowledge or the conversation alone (definitions, math, programming questions)
- "local": about the user's own document collection
- "web": needs fresh information, news, or recent data
- "hybrid": benefits from both the document collection and the web

complexity rules:
- "simple": one retrieval pass with the question as-is suffices
- "complex": multi-faceted, needs decomposition into sub-queries

Return strict JSON: {"search_type": "none|local|web|hybrid", "complexity": "simple|complex"}.
No markdown, no extra keys.

Question:
%s`, query)
}

func buildRewritePrompt(history []domain.TurnMessage, query string, window int) string {
	lines := make([]string, 0, window)
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	for _, msg := range history[start:] {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, text))
	}
	if len(lines) == 0 {
		lines = append(lines, "(empty)")
	}

	return fmt.Sprintf(`Rewrite the new user question into a single self-contained search query.
1. Replace pronouns like "it" or "this" with the concrete subject from the conversation.
2. If the question is a follow-up, add the missing context.
3. Output only the rewritten query, no explanation.

Conversation history:
%s

New question:
%s`, strings.Join(lines, "\n"), query)
}

func buildExpandPrompt(query string, maxSubQueries int) string {
	return fmt.Sprintf(`Decompose the question into at most %d narrower search queries
that together cover its aspects. Order them from most to least central.

Return strict JSON: {"queries": ["...", "..."]}.
No markdown, no extra keys.

Question:
%s`, maxSubQueries, query)
}

func buildRefinePrompt(query string, verdict *domain.ReflectionVerdict) string {
	rationale := ""
	if verdict != nil {
		rationale = strings.TrimSpace(verdict.Rationale)
	}
	if rationale == "" {
		rationale = "the retrieved evidence did not answer the question"
	}

	return fmt.Sprintf(`The search query below returned insufficient evidence: %s.
Write one improved search query that is more likely to retrieve the missing facts.
Output only the query.

Query:
%s`, rationale, query)
}

func buildAnswerPrompt(st domain.SessionState, window int) string {
	historyLines := make([]string, 0, window)
	start := len(st.History) - window
	if start < 0 {
		start = 0
	}
	for _, msg := range st.History[start:] {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		historyLines = append(historyLines, fmt.Sprintf("%s: %s", msg.Role, text))
	}

	if st.SearchType == domain.SearchNone || len(st.FusedEvidence) == 0 {
		note := ""
		if st.SearchType != domain.SearchNone {
			note = "\nRetrieval found no supporting evidence; say so if you cannot answer confidently.\n"
		}
		return fmt.Sprintf(`Answer the user question from your knowledge and the conversation.
%s
Conversation:
%s

Question:
%s`, note, strings.Join(historyLines, "\n"), st.CurrentQuery)
	}

	var evidenceBuilder strings.Builder
	for i, c := range st.FusedEvidence {
		fmt.Fprintf(&evidenceBuilder, "[%d] id=%s origin=%s\n%s\n\n", i+1, c.SourceID, c.Origin, c.Text)
	}

	caveat := ""
	if st.DegradedConfidence {
		caveat = "\nThe evidence may be incomplete; state clearly when it does not fully cover the question.\n"
	}

	return fmt.Sprintf(`Answer the user question using only the evidence below.
Reference evidence by its [n] marker. If the evidence is insufficient, say it directly.
%s
Conversation:
%s

Question:
%s

Evidence:
%s`, caveat, strings.Join(historyLines, "\n"), st.CurrentQuery, evidenceBuilder.String())
}
