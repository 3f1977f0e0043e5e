// ABOUTME: Tests for MCP command structure
// ABOUTME: Verifies MCP command configuration and the acknowledgment-only dispatcher

package commands

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/storage"
)

func TestNewMCPCmd(t *testing.T) {
	cmd := NewMCPCmd()

	if cmd.Use != "mcp" {
		t.Errorf("Use = %q, want %q", cmd.Use, "mcp")
	}
	if cmd.Short == "" || cmd.Long == "" || cmd.Example == "" {
		t.Error("descriptions and example should not be empty")
	}
	if !strings.Contains(cmd.Long, "MCP") || !strings.Contains(cmd.Long, "stdio") {
		t.Error("Long description should mention MCP and stdio")
	}
	if cmd.RunE == nil {
		t.Error("RunE should be set")
	}
}

func TestConsoleDispatcher(t *testing.T) {
	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer db.Close()
	st := newStores(db)
	ctx := context.Background()

	d, err := consoleDispatcher(st)
	if err != nil {
		t.Fatalf("consoleDispatcher() error = %v", err)
	}
	defer d.Close()

	ev := &models.EscalationEvent{ID: "esc_1", ConversationID: "grupo-1", Status: models.StatusDelivered, CreatedAt: time.Now()}
	if err := st.escalations.SaveEscalation(ctx, ev); err != nil {
		t.Fatalf("SaveEscalation() error = %v", err)
	}
	got, err := d.Acknowledge(ctx, "esc_1", "sup-a")
	if err != nil || got.Status != models.StatusAcknowledged {
		t.Errorf("Acknowledge() = %+v, %v", got, err)
	}
}
