package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/agentic-search/internal/core/domain"
	"github.com/kirillkom/agentic-search/internal/core/ports"
)

const (
	serverName    = "agentic-search"
	serverVersion = "1.0.0"
)

// Server exposes the turn orchestrator over MCP stdio so agent hosts can ask
// questions, answer approval gates, and inspect session checkpoints.
type Server struct {
	mcp      *server.MCPServer
	turns    ports.TurnRunner
	sessions ports.SessionReader
}

func NewServer(turns ports.TurnRunner, sessions ports.SessionReader) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(serverName, serverVersion),
		turns:    turns,
		sessions: sessions,
	}
	s.mcp.AddTool(askTool(), s.handleAsk)
	s.mcp.AddTool(resumeTool(), s.handleResume)
	s.mcp.AddTool(sessionHistoryTool(), s.handleSessionHistory)
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(_ context.Context) error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}

	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}
	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	var overrides domain.TurnOverrides
	if v, ok := args["max_loops"].(float64); ok {
		maxLoops := int(v)
		overrides.MaxLoops = &maxLoops
	}
	if v, ok := args["multi_query"].(bool); ok {
		overrides.MultiQuery = &v
	}
	if v, ok := args["vector_weight"].(float64); ok {
		overrides.VectorWeight = &v
	}

	result, err := s.turns.RunTurn(ctx, sessionID, query, overrides)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("turn failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}

	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}
	approve, ok := args["approve"].(bool)
	if !ok {
		return mcp.NewToolResultError("approve parameter is required"), nil
	}

	result, err := s.turns.Resume(ctx, sessionID, approve)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleSessionHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}

	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}

	checkpoints, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history failed: %v", err)), nil
	}

	// Summarize per checkpoint; the full state payloads are too large for a
	// tool response.
	type checkpointSummary struct {
		Step      int    `json:"step"`
		Phase     string `json:"phase"`
		Query     string `json:"query"`
		LoopCount int    `json:"loop_count"`
		CreatedAt string `json:"created_at"`
	}
	summaries := make([]checkpointSummary, 0, len(checkpoints))
	for _, cp := range checkpoints {
		summaries = append(summaries, checkpointSummary{
			Step:      cp.Step,
			Phase:     string(cp.State.Phase),
			Query:     cp.State.CurrentQuery,
			LoopCount: cp.State.LoopCount,
			CreatedAt: cp.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"session_id":  sessionID,
		"checkpoints": summaries,
	})), nil
}

func formatJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(out)
}
