// ABOUTME: MCP tool handler implementations for the supervisor console
// ABOUTME: Tool errors come back as error results so the agent client can show them
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harper/auticonnect-mediator/internal/llm"
	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
)

// Escalations is the escalation lifecycle the tools drive
type Escalations interface {
	Get(ctx context.Context, id string) (*models.EscalationEvent, error)
	List(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.EscalationEvent, error)
	Acknowledge(ctx context.Context, id, by string) (*models.EscalationEvent, error)
}

// Profiles reads and writes participant profiles
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, p *models.UserProfile) error
}

// History reads persisted conversation messages
type History interface {
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Turn, error)
}

// Settings reads and writes the per-conversation mediation switches
type Settings interface {
	GetConversationSettings(ctx context.Context, conversationID string) (*models.ConversationSettings, error)
	SaveConversationSettings(ctx context.Context, st *models.ConversationSettings) error
}

// Audit reads recorded generation calls
type Audit interface {
	ListInteractions(ctx context.Context, conversationID string, limit int) ([]llm.Interaction, error)
}

// Deps are the stores behind the tools; Settings and Audit are optional
type Deps struct {
	Escalations Escalations
	Profiles    Profiles
	History     History
	Settings    Settings
	Audit       Audit
}

// Handlers contains the handler functions for all MCP tools
type Handlers struct {
	escalations Escalations
	profiles    Profiles
	history     History
	settings    Settings
	audit       Audit
}

// NewHandlers creates the tool handlers
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		escalations: deps.Escalations,
		profiles:    deps.Profiles,
		history:     deps.History,
		settings:    deps.Settings,
		audit:       deps.Audit,
	}
}

// ListEscalations handles the list_escalations tool
func (h *Handlers) ListEscalations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.EscalationStatus(request.GetString("status", ""))
	if status != "" && !validStatus(status) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", status)), nil
	}
	limit := request.GetInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}

	events, err := h.escalations.List(ctx, status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list escalations: %v", err)), nil
	}

	summaries := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		summaries = append(summaries, map[string]interface{}{
			"id":              ev.ID,
			"conversation_id": ev.ConversationID,
			"status":          ev.Status,
			"trigger_score":   ev.TriggerScore,
			"rationale":       ev.Rationale,
			"created_at":      ev.CreatedAt,
			"acknowledged_by": ev.AcknowledgedBy,
		})
	}

	return jsonResult(map[string]interface{}{
		"escalations": summaries,
		"count":       len(summaries),
	})
}

// GetEscalation handles the get_escalation tool
func (h *Handlers) GetEscalation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("escalation_id")
	if err != nil {
		return mcp.NewToolResultError("escalation_id argument is required and must be a string"), nil
	}

	ev, err := h.escalations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrEscalationNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("escalation not found: %s", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to get escalation: %v", err)), nil
	}
	return jsonResult(ev)
}

// AcknowledgeEscalation handles the acknowledge_escalation tool
func (h *Handlers) AcknowledgeEscalation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("escalation_id")
	if err != nil {
		return mcp.NewToolResultError("escalation_id argument is required and must be a string"), nil
	}
	by, err := request.RequireString("supervisor_id")
	if err != nil || strings.TrimSpace(by) == "" {
		return mcp.NewToolResultError("supervisor_id argument is required and must be a string"), nil
	}

	ev, err := h.escalations.Acknowledge(ctx, id, by)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to acknowledge: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{
		"success":         true,
		"id":              ev.ID,
		"status":          ev.Status,
		"acknowledged_by": ev.AcknowledgedBy,
		"acknowledged_at": ev.AcknowledgedAt,
	})
}

// GetUserProfile handles the get_user_profile tool
func (h *Handlers) GetUserProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}

	p, err := h.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrProfileNotFound) {
			return jsonResult(map[string]interface{}{"exists": false, "user_id": userID})
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load profile: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"exists": true, "profile": p})
}

// UpdateUserProfile handles the update_user_profile tool
func (h *Handlers) UpdateUserProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil || strings.TrimSpace(userID) == "" {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}

	p, err := h.profiles.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, models.ErrProfileNotFound):
		p = &models.UserProfile{UserID: userID}
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("failed to load profile: %v", err)), nil
	}

	args, _ := request.Params.Arguments.(map[string]any)
	var updated []string
	if name, ok := args["display_name"].(string); ok {
		p.DisplayName = name
		updated = append(updated, "display_name")
	}
	if list, ok := stringList(args, "interests"); ok {
		p.Interests = list
		updated = append(updated, "interests")
	}
	if list, ok := stringList(args, "anxiety_triggers"); ok {
		p.AnxietyTriggers = list
		updated = append(updated, "anxiety_triggers")
	}
	if c, ok := args["communication"].(string); ok {
		pref := models.CommunicationPreference(c)
		if pref != models.CommunicationDirect && pref != models.CommunicationDetailed {
			return mcp.NewToolResultError(fmt.Sprintf("communication must be direct or detailed, got %q", c)), nil
		}
		p.Communication = pref
		updated = append(updated, "communication")
	}
	if contact, ok := args["emergency_contact"].(string); ok {
		p.EmergencyContact = contact
		updated = append(updated, "emergency_contact")
	}

	if err := h.profiles.SaveProfile(ctx, p); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save profile: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{
		"success": true,
		"updated": updated,
		"profile": p,
	})
}

// RecentMessages handles the recent_messages tool
func (h *Handlers) RecentMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID, err := request.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id argument is required and must be a string"), nil
	}
	limit := request.GetInt("limit", 50)

	turns, err := h.history.RecentMessages(ctx, convID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load messages: %v", err)), nil
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	return jsonResult(map[string]interface{}{
		"conversation_id": convID,
		"messages":        turns,
		"count":           len(turns),
	})
}

// ConversationSettings handles the conversation_settings tool. Without switch
// arguments it only reads the current settings.
func (h *Handlers) ConversationSettings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID, err := request.RequireString("conversation_id")
	if err != nil || strings.TrimSpace(convID) == "" {
		return mcp.NewToolResultError("conversation_id argument is required and must be a string"), nil
	}
	st, err := h.settings.GetConversationSettings(ctx, convID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load settings: %v", err)), nil
	}

	args, _ := request.Params.Arguments.(map[string]any)
	var updated []string
	if on, ok := args["mediation"].(bool); ok {
		st.Mediation = on
		updated = append(updated, "mediation")
	}
	if on, ok := args["activity_guidance"].(bool); ok {
		st.ActivityGuidance = on
		updated = append(updated, "activity_guidance")
	}
	if len(updated) > 0 {
		if err := h.settings.SaveConversationSettings(ctx, st); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to save settings: %v", err)), nil
		}
	}
	return jsonResult(map[string]interface{}{
		"settings": st,
		"updated":  updated,
	})
}

// ListInteractions handles the list_interactions tool
func (h *Handlers) ListInteractions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	convID := request.GetString("conversation_id", "")
	records, err := h.audit.ListInteractions(ctx, convID, request.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load interactions: %v", err)), nil
	}
	out := make([]map[string]interface{}, 0, len(records))
	for _, in := range records {
		out = append(out, map[string]interface{}{
			"id":              in.ID,
			"scenario":        in.Scenario,
			"conversation_id": in.ConversationID,
			"target_user_id":  in.TargetUserID,
			"response":        in.Response,
			"attempts":        in.Attempts,
			"fallback":        in.Fallback,
			"error":           in.Error,
			"latency_ms":      in.Latency.Milliseconds(),
			"created_at":      in.CreatedAt,
		})
	}
	return jsonResult(map[string]interface{}{"interactions": out, "count": len(out)})
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}

func validStatus(s models.EscalationStatus) bool {
	switch s {
	case models.StatusCreated, models.StatusDelivered, models.StatusAcknowledged, models.StatusTimedOut, models.StatusLost:
		return true
	}
	return false
}

// stringList extracts a string array argument; ok is false when the key is absent
func stringList(args map[string]any, key string) ([]string, bool) {
	raw, ok := args[key]
	if !ok {
		return nil, false
	}
	items, ok := raw.([]interface{})
	if !ok {
		if s, isStrings := raw.([]string); isStrings {
			return s, true
		}
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out, true
}
