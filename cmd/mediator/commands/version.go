// ABOUTME: Version command to display build information
// ABOUTME: Prints version, commit and build date, or just the version with --short
package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionInfo = VersionInfo{
	Version: "dev",
	Commit:  "none",
	Date:    "unknown",
}

// VersionInfo contains build information
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// SetVersion sets the version information (called from main)
func SetVersion(version, commit, date string) {
	versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
}

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, build date and Go runtime of the mediator.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			switch {
			case short:
				fmt.Fprintln(out, versionInfo.Version)
			case outputFormat == "json":
				_ = printJSON(out, versionInfo)
			default:
				fmt.Fprintf(out, "AutiConnect mediator %s\n", versionInfo.Version)
				fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
				fmt.Fprintf(out, "Built:  %s\n", versionInfo.Date)
				fmt.Fprintf(out, "Go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			}
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version")
	return cmd
}
