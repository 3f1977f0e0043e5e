// ABOUTME: Root command and global flags for the mediator CLI
// ABOUTME: Loads .env before any subcommand runs and wires the subcommand tree
package commands

import (
	"io"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	verbose      bool
	quiet        bool
	outputFormat string
)

const banner = `
 █████╗ ██╗   ██╗████████╗██╗
██╔══██╗██║   ██║╚══██╔══╝██║
███████║██║   ██║   ██║   ██║
██╔══██║██║   ██║   ██║   ██║
██║  ██║╚██████╔╝   ██║   ██║
╚═╝  ╚═╝ ╚═════╝    ╚═╝   ╚═╝  connect mediator`

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediator",
		Short: "Conversation mediation and escalation engine",
		Long: banner + `

Watches group and direct conversations, scores their tension, sends
supportive interventions and escalates to human supervisors when a
conversation crosses the alert threshold.

Configuration is read from the environment (and a .env file when present).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && verbose {
				log.Printf("No .env file loaded: %v", err)
			}
			if quiet {
				log.SetOutput(io.Discard)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress informational output")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "auto", "Output format (auto, json)")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(
		NewServeCmd(),
		NewMCPCmd(),
		NewScoreCmd(),
		NewTemplatesCmd(),
		NewProfilesCmd(),
		NewEscalationsCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
