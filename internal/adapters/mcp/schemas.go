package mcpadapter

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func askTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask",
		Description: "Run one question-answering turn in a session. May suspend for approval before searching.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session identifier; reuse it across turns for conversational context",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The user question",
				},
				"max_loops": map[string]interface{}{
					"type":        "integer",
					"description": "Override the refinement loop bound for this turn",
				},
				"multi_query": map[string]interface{}{
					"type":        "boolean",
					"description": "Decompose complex questions into sub-queries",
				},
				"vector_weight": map[string]interface{}{
					"type":        "number",
					"description": "Vector signal weight in evidence fusion (0..1)",
				},
			},
			Required: []string{"session_id", "query"},
		},
	}
}

func resumeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "resume",
		Description: "Answer a pending search approval for a suspended session.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session identifier with a pending approval",
				},
				"approve": map[string]interface{}{
					"type":        "boolean",
					"description": "true approves the search; false declines and ends the turn",
				},
			},
			Required: []string{"session_id", "approve"},
		},
	}
}

func sessionHistoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "session_history",
		Description: "List the checkpoint log of a session (step, phase, query).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session identifier",
				},
			},
			Required: []string{"session_id"},
		},
	}
}
