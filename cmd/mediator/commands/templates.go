// ABOUTME: Templates command lists, shows, checks and exports the scenario templates
// ABOUTME: Reads TEMPLATES_PATH (or --file) and falls back to the embedded defaults
package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harper/auticonnect-mediator/internal/prompt"
)

var templatesFile string

// NewTemplatesCmd creates the templates command
func NewTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect the intervention prompt templates",
		Long: `Inspect the intervention prompt templates.

Without a subcommand, lists the scenarios of the active template set:
the file named by --file or TEMPLATES_PATH, or the embedded defaults.`,
		Args: cobra.NoArgs,
		RunE: runTemplatesList,
	}
	cmd.PersistentFlags().StringVar(&templatesFile, "file", "", "Templates file (default: TEMPLATES_PATH or embedded)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <scenario>",
		Short: "Print one scenario template",
		Args:  cobra.ExactArgs(1),
		RunE:  runTemplatesShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "check <path>",
		Short:   "Validate a templates file",
		Example: `  mediator templates check ./templates.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE:    runTemplatesCheck,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Write the embedded default templates to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(prompt.DefaultTemplatesYAML())
			return err
		},
	})

	return cmd
}

func activeTemplates() (*prompt.TemplateSet, string, error) {
	path := templatesFile
	if path == "" {
		path = os.Getenv("TEMPLATES_PATH")
	}
	ts, err := prompt.LoadTemplates(path)
	if path == "" {
		path = "embedded"
	}
	return ts, path, err
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	ts, source, err := activeTemplates()
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"source":    source,
			"version":   ts.Version,
			"scenarios": ts.Names(),
		})
	}

	out := cmd.OutOrStdout()
	if !quiet {
		fmt.Fprintf(out, "Templates: %s (version %s)\n\n", source, ts.Version)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SCENARIO\tINSTRUCTIONS\tSYSTEM\n")
	fmt.Fprintf(w, "--------\t------------\t------\n")
	for _, name := range ts.Names() {
		t := ts.Templates[prompt.Scenario(name)]
		fmt.Fprintf(w, "%s\t%d\t%s\n", name, len(t.Instructions), truncate(strings.Join(strings.Fields(t.System), " "), 60))
	}
	return w.Flush()
}

func runTemplatesShow(cmd *cobra.Command, args []string) error {
	ts, _, err := activeTemplates()
	if err != nil {
		return err
	}
	t, err := ts.Lookup(prompt.Scenario(args[0]))
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), t)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", strings.TrimSpace(t.System))
	for _, line := range t.Instructions {
		fmt.Fprintf(out, "- %s\n", line)
	}
	return nil
}

func runTemplatesCheck(cmd *cobra.Command, args []string) error {
	ts, err := prompt.LoadTemplates(args[0])
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d scenarios, version %s\n", args[0], len(ts.Templates), ts.Version)
	}
	return nil
}
