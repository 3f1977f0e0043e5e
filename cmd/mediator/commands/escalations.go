// ABOUTME: Escalations command lists, shows and acknowledges supervisor escalations
// ABOUTME: Reads the shared database; acknowledgment goes through the dispatcher's state machine
package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/auticonnect-mediator/internal/models"
)

var (
	escalationStatus string
	escalationLimit  int
	escalationBy     string
)

// NewEscalationsCmd creates the escalations command
func NewEscalationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "escalations",
		Aliases: []string{"esc"},
		Short:   "Review supervisor escalations",
		Long: `Review supervisor escalations.

Lists escalations recorded by "mediator serve", shows their context
snapshot and acknowledges them on behalf of a supervisor.
Uses DB_DRIVER and DB_DSN for storage.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent escalations",
		Example: `  mediator escalations list
  mediator escalations list --status delivered --limit 10`,
		Args: cobra.NoArgs,
		RunE: runEscalationsList,
	}
	list.Flags().StringVar(&escalationStatus, "status", "", "Only show this status (created, delivered, acknowledged, timed_out, lost)")
	list.Flags().IntVarP(&escalationLimit, "limit", "n", 20, "Maximum escalations to show")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <escalation_id>",
		Short: "Show an escalation with its context snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runEscalationsShow,
	})

	ack := &cobra.Command{
		Use:     "ack <escalation_id>",
		Short:   "Acknowledge an escalation",
		Example: `  mediator escalations ack esc_0b6f... --by sup-ana`,
		Args:    cobra.ExactArgs(1),
		RunE:    runEscalationsAck,
	}
	ack.Flags().StringVar(&escalationBy, "by", "", "Supervisor id (required)")
	_ = ack.MarkFlagRequired("by")
	cmd.AddCommand(ack)

	return cmd
}

func parseStatus(s string) (models.EscalationStatus, error) {
	switch st := models.EscalationStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "", models.StatusCreated, models.StatusDelivered, models.StatusAcknowledged, models.StatusTimedOut, models.StatusLost:
		return st, nil
	default:
		return "", fmt.Errorf("unknown escalation status %q", s)
	}
}

func runEscalationsList(cmd *cobra.Command, args []string) error {
	status, err := parseStatus(escalationStatus)
	if err != nil {
		return err
	}
	if escalationLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	return withStores(func(ctx context.Context, st *stores) error {
		events, err := st.escalations.ListEscalations(ctx, status, escalationLimit)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			if events == nil {
				events = []*models.EscalationEvent{}
			}
			return printJSON(cmd.OutOrStdout(), events)
		}
		if len(events) == 0 {
			if !quiet {
				fmt.Fprintln(cmd.OutOrStdout(), "No escalations")
			}
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tCONVERSATION\tSCORE\tRATIONALE\tSTATUS\tCREATED\n")
		fmt.Fprintf(w, "--\t------------\t-----\t---------\t------\t-------\n")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%.1f\t%s\t%s\t%s\n",
				truncate(ev.ID, 16), truncate(ev.ConversationID, 20), ev.TriggerScore,
				ev.Rationale, ev.Status, formatTime(ev.CreatedAt, now))
		}
		return w.Flush()
	})
}

func runEscalationsShow(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, st *stores) error {
		ev, err := st.escalations.GetEscalation(ctx, args[0])
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), ev)
		}

		out := cmd.OutOrStdout()
		now := time.Now()
		fmt.Fprintf(out, "Escalation:   %s\n", ev.ID)
		fmt.Fprintf(out, "Conversation: %s\n", ev.ConversationID)
		fmt.Fprintf(out, "Score:        %.1f (%s)\n", ev.TriggerScore, ev.Rationale)
		fmt.Fprintf(out, "Signals:      sentiment %.1f, silence %.1f, participation %.1f, trigger %.1f\n",
			ev.Signals.Sentiment, ev.Signals.Silence, ev.Signals.Participation, ev.Signals.Trigger)
		fmt.Fprintf(out, "Status:       %s\n", ev.Status)
		fmt.Fprintf(out, "Created:      %s\n", formatTime(ev.CreatedAt, now))
		if len(ev.DeliveredTo) > 0 {
			fmt.Fprintf(out, "Delivered:    %s via %s\n", strings.Join(ev.DeliveredTo, ", "), ev.Channel)
		}
		if ev.AcknowledgedBy != "" {
			fmt.Fprintf(out, "Acknowledged: %s (%s)\n", ev.AcknowledgedBy, formatTime(ev.AcknowledgedAt, now))
		}
		if ev.Summary != "" {
			fmt.Fprintf(out, "\n%s\n", ev.Summary)
		}
		if len(ev.ContextSnapshot) > 0 {
			fmt.Fprintln(out, "\nContext:")
			for _, t := range ev.ContextSnapshot {
				fmt.Fprintf(out, "  [%s] %s: %s\n", t.Timestamp.Format("15:04:05"), t.SpeakerID, t.Text)
			}
		}
		return nil
	})
}

func runEscalationsAck(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, st *stores) error {
		dispatcher, err := consoleDispatcher(st)
		if err != nil {
			return err
		}
		defer dispatcher.Close()

		ev, err := dispatcher.Acknowledge(ctx, args[0], escalationBy)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), ev)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s acknowledged by %s\n", ev.ID, ev.AcknowledgedBy)
		}
		return nil
	})
}
