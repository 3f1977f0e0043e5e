// ABOUTME: Profiles command manages the user directory, supervisor assignments and mediation switches
// ABOUTME: Imports and exports YAML seed files and lists stored profiles
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/storage"
)

var profilesOut string

// NewProfilesCmd creates the profiles command
func NewProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage user profiles and supervisors",
		Long: `Manage user profiles and supervisor assignments.

Profiles hold interests, anxiety triggers and communication preferences.
Supervisors are assigned per conversation and receive escalations.
Uses DB_DRIVER and DB_DSN for storage.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored profiles",
		Args:  cobra.NoArgs,
		RunE:  runProfilesList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <user_id>",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfilesShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "import <seed.yaml>",
		Short:   "Import profiles and supervisors from a seed file",
		Example: `  mediator profiles import ./seed.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE:    runProfilesImport,
	})
	export := &cobra.Command{
		Use:   "export",
		Short: "Export the directory as a seed file",
		Args:  cobra.NoArgs,
		RunE:  runProfilesExport,
	}
	export.Flags().StringVarP(&profilesOut, "out", "o", "", "Write to file instead of stdout")
	cmd.AddCommand(export)
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <user_id>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfilesDelete,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "assign <conversation_id> <supervisor_id>",
		Short: "Assign a supervisor to a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(ctx context.Context, st *stores) error {
				if err := st.profiles.AddSupervisor(ctx, args[0], args[1]); err != nil {
					return err
				}
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "✓ %s supervises %s\n", args[1], args[0])
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unassign <conversation_id> <supervisor_id>",
		Short: "Remove a supervisor from a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(ctx context.Context, st *stores) error {
				if err := st.profiles.RemoveSupervisor(ctx, args[0], args[1]); err != nil {
					return err
				}
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "✓ %s no longer supervises %s\n", args[1], args[0])
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "mediation <conversation_id> [on|off]",
		Short: "Show or switch facilitation and redirection for a conversation",
		Long: `Show or switch facilitation and topic redirection for a conversation.
Safety escalation is never switched off.`,
		Example: `  mediator profiles mediation grupo-arte off`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationSwitch(cmd, args, func(st *models.ConversationSettings, on bool) { st.Mediation = on })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "guidance <conversation_id> [on|off]",
		Short:   "Show or switch activity guidance for a conversation",
		Example: `  mediator profiles guidance grupo-arte on`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationSwitch(cmd, args, func(st *models.ConversationSettings, on bool) { st.ActivityGuidance = on })
		},
	})

	return cmd
}

// runConversationSwitch prints the settings of args[0], applying set first when args[1] is given
func runConversationSwitch(cmd *cobra.Command, args []string, set func(*models.ConversationSettings, bool)) error {
	var on bool
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "on", "true", "yes":
			on = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
	}

	return withStores(func(ctx context.Context, st *stores) error {
		settings, err := st.profiles.GetConversationSettings(ctx, args[0])
		if err != nil {
			return err
		}
		if len(args) == 2 {
			set(settings, on)
			if err := st.profiles.SaveConversationSettings(ctx, settings); err != nil {
				return err
			}
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), settings)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: mediation %s, activity guidance %s\n",
				settings.ConversationID, onOff(settings.Mediation), onOff(settings.ActivityGuidance))
		}
		return nil
	})
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// withStores opens storage from the environment for the duration of fn
func withStores(fn func(ctx context.Context, st *stores) error) error {
	cfg, err := storageFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, st *stores) error {
		profiles, err := st.profiles.ListProfiles(ctx)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			if profiles == nil {
				profiles = []models.UserProfile{}
			}
			return printJSON(cmd.OutOrStdout(), profiles)
		}
		if len(profiles) == 0 {
			if !quiet {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles")
			}
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "USER\tNAME\tSTYLE\tINTERESTS\tTRIGGERS\n")
		fmt.Fprintf(w, "----\t----\t-----\t---------\t--------\n")
		for _, p := range profiles {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				p.UserID, truncate(p.DisplayName, 20), p.Communication,
				truncate(strings.Join(p.Interests, ", "), 30), len(p.AnxietyTriggers))
		}
		return w.Flush()
	})
}

func runProfilesShow(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, st *stores) error {
		p, err := st.profiles.GetProfile(ctx, args[0])
		if err != nil {
			if errors.Is(err, models.ErrProfileNotFound) {
				return fmt.Errorf("no profile for %s", args[0])
			}
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), p)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User:          %s\n", p.UserID)
		fmt.Fprintf(out, "Name:          %s\n", p.DisplayName)
		if p.AgeBand != "" {
			fmt.Fprintf(out, "Age band:      %s\n", p.AgeBand)
		}
		fmt.Fprintf(out, "Communication: %s\n", p.Communication)
		fmt.Fprintf(out, "Interests:     %s\n", strings.Join(p.Interests, ", "))
		fmt.Fprintf(out, "Triggers:      %s\n", strings.Join(p.AnxietyTriggers, ", "))
		if p.EmergencyContact != "" {
			fmt.Fprintf(out, "Emergency:     %s\n", p.EmergencyContact)
		}
		return nil
	})
}

func runProfilesImport(cmd *cobra.Command, args []string) error {
	seed, err := storage.LoadSeed(args[0])
	if err != nil {
		return err
	}
	return withStores(func(ctx context.Context, st *stores) error {
		profiles, supervisors, err := st.profiles.Import(ctx, seed)
		if err != nil {
			return fmt.Errorf("import stopped after %d profiles: %w", profiles, err)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d profiles and %d supervisor assignments\n", profiles, supervisors)
		}
		return nil
	})
}

func runProfilesExport(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, st *stores) error {
		seed, err := st.profiles.Export(ctx)
		if err != nil {
			return err
		}
		data, err := seed.Marshal()
		if err != nil {
			return err
		}
		if profilesOut == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(profilesOut, data, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", profilesOut, err)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d profiles to %s\n", len(seed.Profiles), profilesOut)
		}
		return nil
	})
}

func runProfilesDelete(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, st *stores) error {
		if err := st.profiles.DeleteProfile(ctx, args[0]); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s\n", args[0])
		}
		return nil
	})
}
