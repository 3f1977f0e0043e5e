// ABOUTME: Shared utility functions for CLI commands
// ABOUTME: Output formatting plus the storage bootstrap every command shares
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/harper/auticonnect-mediator/internal/storage"
)

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// formatTime formats a time relative to now for display
func formatTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
	return t.Format("2006-01-02")
}

// printJSON writes v indented
func printJSON(w io.Writer, v interface{}) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", jsonData)
	return err
}

// stores bundles the SQL stores over one connection
type stores struct {
	db           *storage.DB
	profiles     *storage.ProfileStore
	escalations  *storage.EscalationStore
	messages     *storage.MessageStore
	interactions *storage.InteractionStore
}

// openStores opens the database named by cfg
func openStores(cfg storage.Config) (*stores, error) {
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return newStores(db), nil
}

func newStores(db *storage.DB) *stores {
	return &stores{
		db:           db,
		profiles:     storage.NewProfileStore(db),
		escalations:  storage.NewEscalationStore(db),
		messages:     storage.NewMessageStore(db),
		interactions: storage.NewInteractionStore(db),
	}
}

func (s *stores) Close() error {
	return s.db.Close()
}

// storageFromEnv reads only the database settings, for commands that do not need the engine configuration
func storageFromEnv(getenv func(string) string) (storage.Config, error) {
	driver, err := storage.ParseDriver(getenv("DB_DRIVER"))
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, DSN: getenv("DB_DSN")}, nil
}
