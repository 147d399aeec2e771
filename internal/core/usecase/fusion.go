package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/agentic-search/internal/core/domain"
	"github.com/kirillkom/agentic-search/internal/core/ports"
)

type fusedCandidate struct {
	candidate  domain.EvidenceCandidate
	hasVector  bool
	hasLexical bool
}

// fuseEvidence combines vector-similarity and lexically scored hits into one
// deterministic ranking. Scores are min-max normalized per signal, then
// weighted: fused = w*vector + (1-w)*lexical. A candidate present in only one
// list keeps that signal's normalized score unpenalized.
func fuseEvidence(vectorHits, lexicalHits []domain.EvidenceCandidate, vectorWeight float64) []domain.EvidenceCandidate {
	if vectorWeight < 0 {
		vectorWeight = 0
	}
	if vectorWeight > 1 {
		vectorWeight = 1
	}

	vectorScores := normalizeScores(vectorHits, func(c domain.EvidenceCandidate) float64 { return c.VectorScore })
	lexicalScores := normalizeScores(lexicalHits, func(c domain.EvidenceCandidate) float64 { return c.LexicalScore })

	acc := make(map[string]*fusedCandidate, len(vectorHits)+len(lexicalHits))
	order := make([]string, 0, len(vectorHits)+len(lexicalHits))

	for i, hit := range vectorHits {
		entry, ok := acc[hit.SourceID]
		if !ok {
			entry = &fusedCandidate{candidate: hit}
			acc[hit.SourceID] = entry
			order = append(order, hit.SourceID)
		}
		score := vectorScores[i]
		if !entry.hasVector || score > entry.candidate.VectorScore {
			entry.candidate.VectorScore = score
			entry.hasVector = true
		}
		entry.candidate = preferRicherCandidate(entry.candidate, hit)
	}
	for i, hit := range lexicalHits {
		entry, ok := acc[hit.SourceID]
		if !ok {
			entry = &fusedCandidate{candidate: hit}
			acc[hit.SourceID] = entry
			order = append(order, hit.SourceID)
		}
		score := lexicalScores[i]
		if !entry.hasLexical || score > entry.candidate.LexicalScore {
			entry.candidate.LexicalScore = score
			entry.hasLexical = true
		}
		entry.candidate = preferRicherCandidate(entry.candidate, hit)
	}

	out := make([]domain.EvidenceCandidate, 0, len(order))
	for _, key := range order {
		entry := acc[key]
		c := entry.candidate
		switch {
		case entry.hasVector && entry.hasLexical:
			c.FusedScore = vectorWeight*c.VectorScore + (1-vectorWeight)*c.LexicalScore
		case entry.hasVector:
			c.FusedScore = c.VectorScore
		default:
			c.FusedScore = c.LexicalScore
		}
		c.RerankScore = nil
		out = append(out, c)
	}

	sortByFusedScore(out)
	return out
}

// mergeEvidence unions fused candidate lists (one per expanded query),
// deduplicating by source identifier and keeping the higher fused score.
func mergeEvidence(lists ...[]domain.EvidenceCandidate) []domain.EvidenceCandidate {
	acc := make(map[string]domain.EvidenceCandidate)
	order := make([]string, 0)
	for _, list := range lists {
		for _, c := range list {
			existing, ok := acc[c.SourceID]
			if !ok {
				acc[c.SourceID] = c
				order = append(order, c.SourceID)
				continue
			}
			if c.FusedScore > existing.FusedScore {
				acc[c.SourceID] = c
			}
		}
	}

	out := make([]domain.EvidenceCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, acc[key])
	}
	sortByFusedScore(out)
	return out
}

// rerankEvidence sends the fusion top-K through the cross-encoder and
// replaces fused ordering with precision scores. If the reranker is
// unavailable the pre-rerank fused ordering is kept instead of failing the
// branch. topN truncates the final list (topN <= topK).
func rerankEvidence(
	ctx context.Context,
	reranker ports.Reranker,
	query string,
	fused []domain.EvidenceCandidate,
	topK, topN int,
) []domain.EvidenceCandidate {
	if len(fused) == 0 {
		return fused
	}
	if topK <= 0 || topK > len(fused) {
		topK = len(fused)
	}
	if topN <= 0 || topN > topK {
		topN = topK
	}

	head := make([]domain.EvidenceCandidate, topK)
	copy(head, fused[:topK])

	if reranker == nil {
		return trimCandidates(head, topN)
	}

	texts := make([]string, len(head))
	for i, c := range head {
		texts[i] = c.Text
	}

	scores, err := reranker.Score(ctx, query, texts)
	if err != nil || len(scores) != len(head) {
		slog.Warn("rerank_fallback_to_fused_order", "error", err, "candidates", len(head))
		return trimCandidates(head, topN)
	}

	for i := range head {
		score := scores[i]
		head[i].RerankScore = &score
	}

	// Stable sort keeps the pre-rerank fused order for equal rerank scores.
	sort.SliceStable(head, func(i, j int) bool {
		return *head[i].RerankScore > *head[j].RerankScore
	})

	return trimCandidates(head, topN)
}

func trimCandidates(candidates []domain.EvidenceCandidate, limit int) []domain.EvidenceCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func sortByFusedScore(candidates []domain.EvidenceCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		return candidates[i].SourceID < candidates[j].SourceID
	})
}

// normalizeScores maps each hit's raw signal into [0,1] with min-max scaling.
// A degenerate range collapses to 1 for positive scores, 0 otherwise.
func normalizeScores(hits []domain.EvidenceCandidate, score func(domain.EvidenceCandidate) float64) []float64 {
	if len(hits) == 0 {
		return nil
	}

	minScore := score(hits[0])
	maxScore := minScore
	for _, h := range hits[1:] {
		s := score(h)
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	out := make([]float64, len(hits))
	scoreRange := maxScore - minScore
	for i, h := range hits {
		s := score(h)
		if scoreRange <= 0 {
			if s > 0 {
				out[i] = 1
			}
			continue
		}
		out[i] = (s - minScore) / scoreRange
	}
	return out
}

func preferRicherCandidate(current, candidate domain.EvidenceCandidate) domain.EvidenceCandidate {
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Origin == "" && candidate.Origin != "" {
		current.Origin = candidate.Origin
	}
	return current
}

// scoreLexicalOverlap produces lexically scored copies of web hits: the share
// of query tokens present in the result text. Web results carry only the API
// relevance score, so this supplies the second fusion signal.
func scoreLexicalOverlap(query string, hits []domain.EvidenceCandidate) []domain.EvidenceCandidate {
	if len(hits) == 0 {
		return nil
	}
	queryTokens := toTokenSet(query)
	out := make([]domain.EvidenceCandidate, len(hits))
	for i, hit := range hits {
		hit.LexicalScore = tokenOverlap(queryTokens, toTokenSet(hit.Text))
		out[i] = hit
	}
	return out
}

func tokenOverlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
