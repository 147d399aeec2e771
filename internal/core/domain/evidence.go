package domain

type EvidenceOrigin string

const (
	OriginLocal EvidenceOrigin = "local"
	OriginWeb   EvidenceOrigin = "web"
)

// EvidenceCandidate is one retrieved piece of evidence. Candidates are
// produced fresh by every retrieval call and never mutated afterwards; fusion
// builds new slices instead of rewriting the inputs.
type EvidenceCandidate struct {
	SourceID string         `json:"source_id"`
	Text     string         `json:"text"`
	Origin   EvidenceOrigin `json:"origin"`

	VectorScore  float64  `json:"vector_score"`
	LexicalScore float64  `json:"lexical_score"`
	FusedScore   float64  `json:"fused_score"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`
}
