// ABOUTME: MCP tool definitions and registration for the supervisor console
// ABOUTME: Exposes escalations, profiles, mediation settings and history to agent clients over stdio
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all MCP tools with the server
func RegisterTools(server *mcpserver.MCPServer, deps Deps) *Handlers {
	handlers := NewHandlers(deps)

	// 1. list_escalations - Escalations newest first, optionally filtered by status
	server.AddTool(mcp.Tool{
		Name:        "list_escalations",
		Description: "List escalation events newest first. Filter by status to find alerts still waiting for a supervisor.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Optional status filter",
					"enum":        []string{"created", "delivered", "acknowledged", "timed_out", "lost"},
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of events to return (default: 20)",
					"default":     20,
				},
			},
		},
	}, handlers.ListEscalations)

	// 2. get_escalation - One escalation with its frozen context snapshot
	server.AddTool(mcp.Tool{
		Name:        "get_escalation",
		Description: "Get one escalation event including the rationale, signals and the conversation snapshot taken when it fired.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"escalation_id": map[string]interface{}{
					"type":        "string",
					"description": "Escalation ID",
				},
			},
			Required: []string{"escalation_id"},
		},
	}, handlers.GetEscalation)

	// 3. acknowledge_escalation - Close the loop on a delivered alert
	server.AddTool(mcp.Tool{
		Name:        "acknowledge_escalation",
		Description: "Acknowledge a delivered or timed out escalation on behalf of a supervisor.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"escalation_id": map[string]interface{}{
					"type":        "string",
					"description": "Escalation ID",
				},
				"supervisor_id": map[string]interface{}{
					"type":        "string",
					"description": "Supervisor acknowledging the alert",
				},
			},
			Required: []string{"escalation_id", "supervisor_id"},
		},
	}, handlers.AcknowledgeEscalation)

	// 4. get_user_profile - Read a participant profile
	server.AddTool(mcp.Tool{
		Name:        "get_user_profile",
		Description: "Get a participant profile with interests, anxiety triggers and communication preference.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Participant user ID",
				},
			},
			Required: []string{"user_id"},
		},
	}, handlers.GetUserProfile)

	// 5. update_user_profile - Merge fields into a participant profile
	server.AddTool(mcp.Tool{
		Name:        "update_user_profile",
		Description: "Update a participant profile. Only provided fields change; list fields replace the stored lists.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Participant user ID",
				},
				"display_name": map[string]interface{}{
					"type":        "string",
					"description": "Name used in prompts",
				},
				"interests": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Special interests (e.g., 'trens', 'dinossauros')",
				},
				"anxiety_triggers": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Phrases that signal distress for this participant",
				},
				"communication": map[string]interface{}{
					"type":        "string",
					"description": "Preferred communication style",
					"enum":        []string{"direct", "detailed"},
				},
				"emergency_contact": map[string]interface{}{
					"type":        "string",
					"description": "Contact reached on the fallback channel",
				},
			},
			Required: []string{"user_id"},
		},
	}, handlers.UpdateUserProfile)

	// 6. recent_messages - Persisted conversation history
	server.AddTool(mcp.Tool{
		Name:        "recent_messages",
		Description: "Get the most recent persisted messages of a conversation, oldest first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation ID",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of messages (default: 50)",
					"default":     50,
				},
			},
			Required: []string{"conversation_id"},
		},
	}, handlers.RecentMessages)

	// 7. conversation_settings - Read or switch mediation for one conversation
	if deps.Settings != nil {
		server.AddTool(mcp.Tool{
			Name: "conversation_settings",
			Description: "Read or change whether the mediator facilitates and redirects in a conversation, and whether it guides running activities. " +
				"Safety escalation cannot be switched off. The running mediator picks changes up within PROFILE_CACHE_TTL.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"conversation_id": map[string]interface{}{
						"type":        "string",
						"description": "Conversation ID",
					},
					"mediation": map[string]interface{}{
						"type":        "boolean",
						"description": "Allow facilitation and topic redirection",
					},
					"activity_guidance": map[string]interface{}{
						"type":        "boolean",
						"description": "Allow facilitation while an activity is running",
					},
				},
				Required: []string{"conversation_id"},
			},
		}, handlers.ConversationSettings)
	}

	if deps.Audit == nil {
		return handlers
	}

	// 8. list_interactions - Audited generation calls for review
	server.AddTool(mcp.Tool{
		Name:        "list_interactions",
		Description: "List recorded generation calls newest first, including fallbacks and errors.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional conversation filter",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of records (default: 20)",
					"default":     20,
				},
			},
		},
	}, handlers.ListInteractions)

	return handlers
}
