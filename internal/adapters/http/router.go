package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/agentic-search/internal/core/domain"
	"github.com/kirillkom/agentic-search/internal/core/ports"
	"github.com/kirillkom/agentic-search/internal/observability/metrics"
)

type Router struct {
	service  string
	turns    ports.TurnRunner
	sessions ports.SessionReader
	ingestUC ports.DocumentIngestor
	docs     ports.DocumentReader
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	service string,
	turns ports.TurnRunner,
	sessions ports.SessionReader,
	ingestUC ports.DocumentIngestor,
	docs ports.DocumentReader,
	serverMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		service:  service,
		turns:    turns,
		sessions: sessions,
		ingestUC: ingestUC,
		docs:     docs,
		metrics:  serverMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.getDocumentByID)
	mux.HandleFunc("/v1/sessions/", rt.sessionSubresource)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionSubresource dispatches /v1/sessions/{session_id}/{action}.
func (rt *Router) sessionSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		writeError(w, http.StatusNotFound, "unknown session resource")
		return
	}
	sessionID, action := parts[0], parts[1]

	switch action {
	case "turns":
		rt.runTurn(w, r, sessionID)
	case "resume":
		rt.resumeTurn(w, r, sessionID)
	case "history":
		rt.sessionHistory(w, r, sessionID)
	default:
		writeError(w, http.StatusNotFound, "unknown session resource")
	}
}

func (rt *Router) runTurn(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Query        string   `json:"query"`
		MaxLoops     *int     `json:"max_loops,omitempty"`
		MultiQuery   *bool    `json:"multi_query,omitempty"`
		VectorWeight *float64 `json:"vector_weight,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	start := time.Now()
	result, err := rt.turns.RunTurn(r.Context(), sessionID, req.Query, domain.TurnOverrides{
		MaxLoops:     req.MaxLoops,
		MultiQuery:   req.MultiQuery,
		VectorWeight: req.VectorWeight,
	})
	if err != nil {
		rt.recordTurn("error", nil, start)
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}

	rt.recordTurn(turnOutcome(result), result, start)
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) resumeTurn(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Approve *bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Approve == nil {
		writeError(w, http.StatusBadRequest, "approve is required")
		return
	}

	start := time.Now()
	result, err := rt.turns.Resume(r.Context(), sessionID, *req.Approve)
	if err != nil {
		rt.recordTurn("error", nil, start)
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordResume(rt.service, *req.Approve)
	}
	rt.recordTurn(turnOutcome(result), result, start)
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) sessionHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	checkpoints, err := rt.sessions.History(r.Context(), sessionID)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"checkpoints": checkpoints,
	})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	doc, err := rt.ingestUC.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	doc, err := rt.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) recordTurn(outcome string, result *domain.TurnResult, start time.Time) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordTurn(rt.service, outcome, time.Since(start))
	if result == nil {
		return
	}
	if result.Suspended {
		rt.metrics.RecordApprovalSuspension(rt.service)
		return
	}
	if !result.Declined {
		rt.metrics.RecordSearchType(rt.service, string(result.SearchType))
		rt.metrics.RecordRefineLoops(rt.service, result.LoopCount)
	}
}

func turnOutcome(result *domain.TurnResult) string {
	switch {
	case result == nil:
		return "unknown"
	case result.Suspended:
		return "suspended"
	case result.Declined:
		return "declined"
	case result.Degraded:
		return "answered_degraded"
	default:
		return "answered"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
