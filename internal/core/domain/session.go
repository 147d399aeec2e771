package domain

import "time"

type SearchType string

const (
	SearchNone   SearchType = "none"
	SearchLocal  SearchType = "local"
	SearchWeb    SearchType = "web"
	SearchHybrid SearchType = "hybrid"
)

type QueryComplexity string

const (
	ComplexitySimple  QueryComplexity = "simple"
	ComplexityComplex QueryComplexity = "complex"
)

// TurnPhase is the state tag of the orchestration machine. A checkpoint stores
// the phase the walk will execute next, so a suspended session resumes exactly
// where it paused.
type TurnPhase string

const (
	PhaseDecide           TurnPhase = "decide"
	PhaseExpand           TurnPhase = "expand"
	PhaseRetrieve         TurnPhase = "retrieve"
	PhaseReflect          TurnPhase = "reflect"
	PhaseRefine           TurnPhase = "refine"
	PhaseAnswer           TurnPhase = "answer"
	PhaseAwaitingApproval TurnPhase = "awaiting_approval"
	PhaseAnswered         TurnPhase = "answered"
	PhaseDeclined         TurnPhase = "declined"
)

func (p TurnPhase) Terminal() bool {
	return p == PhaseAnswered || p == PhaseDeclined
}

type TurnMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Source is one cited origin of the final answer.
type Source struct {
	ID      string         `json:"id"`
	Excerpt string         `json:"excerpt"`
	Origin  EvidenceOrigin `json:"origin"`
}

type ReflectionVerdict struct {
	Sufficient   bool   `json:"sufficient"`
	RefinedQuery string `json:"refined_query,omitempty"`
	Rationale    string `json:"rationale,omitempty"`
}

// SessionState is the full conversational and orchestration state of one
// session. It is threaded through the transition function as a value and
// snapshotted into a checkpoint after every step.
type SessionState struct {
	SessionID string        `json:"session_id"`
	History   []TurnMessage `json:"history"`

	CurrentQuery    string          `json:"current_query"`
	SearchType      SearchType      `json:"search_type"`
	Complexity      QueryComplexity `json:"complexity"`
	ExpandedQueries []string        `json:"expanded_queries"`

	LocalEvidence []EvidenceCandidate `json:"local_evidence"`
	WebEvidence   []EvidenceCandidate `json:"web_evidence"`
	FusedEvidence []EvidenceCandidate `json:"fused_evidence"`

	Verdict            *ReflectionVerdict `json:"verdict,omitempty"`
	LoopCount          int                `json:"loop_count"`
	MaxLoops           int                `json:"max_loops"`
	VectorWeight       float64            `json:"vector_weight"`
	DegradedConfidence bool               `json:"degraded_confidence"`

	Phase            TurnPhase  `json:"phase"`
	PendingBranch    SearchType `json:"pending_branch,omitempty"`
	ApprovalGranted  bool       `json:"approval_granted"`
	MultiQuery       bool       `json:"multi_query"`
	DeclinedAtBranch bool       `json:"declined_at_branch"`

	FinalAnswer string   `json:"final_answer"`
	Sources     []Source `json:"sources"`
}

// NewSessionState returns the empty state for a fresh session id. Evidence
// slices are allocated so persisted JSON never carries nulls.
func NewSessionState(sessionID string) SessionState {
	return SessionState{
		SessionID:       sessionID,
		History:         []TurnMessage{},
		ExpandedQueries: []string{},
		LocalEvidence:   []EvidenceCandidate{},
		WebEvidence:     []EvidenceCandidate{},
		FusedEvidence:   []EvidenceCandidate{},
		Sources:         []Source{},
	}
}

// ResetForTurn clears the per-turn orchestration fields while keeping the
// conversation history, so a new query starts a clean machine walk.
func (s *SessionState) ResetForTurn(query string, maxLoops int, multiQuery bool, vectorWeight float64) {
	s.CurrentQuery = query
	s.SearchType = ""
	s.Complexity = ""
	s.ExpandedQueries = []string{}
	s.LocalEvidence = []EvidenceCandidate{}
	s.WebEvidence = []EvidenceCandidate{}
	s.FusedEvidence = []EvidenceCandidate{}
	s.Verdict = nil
	s.LoopCount = 0
	s.MaxLoops = maxLoops
	s.VectorWeight = vectorWeight
	s.DegradedConfidence = false
	s.Phase = PhaseDecide
	s.PendingBranch = ""
	s.ApprovalGranted = false
	s.MultiQuery = multiQuery
	s.DeclinedAtBranch = false
	s.FinalAnswer = ""
	s.Sources = []Source{}
}

// Checkpoint is an immutable snapshot of session state at a monotonic step.
type Checkpoint struct {
	SessionID string       `json:"session_id"`
	Step      int          `json:"step"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

// TurnOverrides are the per-turn tunables a caller may set.
type TurnOverrides struct {
	MaxLoops     *int     `json:"max_loops,omitempty"`
	MultiQuery   *bool    `json:"multi_query,omitempty"`
	VectorWeight *float64 `json:"vector_weight,omitempty"`
}

// TurnResult is what a turn (or resume) invocation returns to the caller.
type TurnResult struct {
	SessionID string `json:"session_id"`
	Step      int    `json:"step"`

	Suspended     bool   `json:"suspended"`
	PendingAction string `json:"pending_action,omitempty"`
	Declined      bool   `json:"declined"`

	Answer     string     `json:"answer"`
	Sources    []Source   `json:"sources"`
	Degraded   bool       `json:"degraded"`
	SearchType SearchType `json:"search_type"`
	LoopCount  int        `json:"loop_count"`
}
