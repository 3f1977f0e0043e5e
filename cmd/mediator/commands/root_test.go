// ABOUTME: Tests for root CLI command and global flags
// ABOUTME: Verifies command structure, subcommands, and flag handling

package commands

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()

	if cmd.Use != "mediator" {
		t.Errorf("Use = %q, want %q", cmd.Use, "mediator")
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("root command needs short and long descriptions")
	}
	if !strings.Contains(cmd.Long, "███") {
		t.Error("Long description should contain ASCII banner")
	}
	if !cmd.SilenceUsage {
		t.Error("SilenceUsage should be true to prevent usage on errors")
	}
}

func TestRootCmd_GlobalFlags(t *testing.T) {
	cmd := NewRootCmd()

	tests := []struct {
		flagName  string
		shorthand string
		defValue  string
	}{
		{"verbose", "v", "false"},
		{"quiet", "q", "false"},
		{"format", "", "auto"},
	}

	for _, tt := range tests {
		t.Run(tt.flagName, func(t *testing.T) {
			flag := cmd.PersistentFlags().Lookup(tt.flagName)
			if flag == nil {
				t.Fatalf("--%s flag not found", tt.flagName)
			}
			if tt.shorthand != "" && flag.Shorthand != tt.shorthand {
				t.Errorf("--%s shorthand = %q, want %q", tt.flagName, flag.Shorthand, tt.shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("--%s default = %q, want %q", tt.flagName, flag.DefValue, tt.defValue)
			}
		})
	}
}

func TestRootCmd_MutuallyExclusiveFlags(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{"verbose only", []string{"--verbose", "version"}, false},
		{"quiet only", []string{"--quiet", "version"}, false},
		{"verbose and quiet", []string{"--verbose", "--quiet", "version"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCmd()
			var output bytes.Buffer
			cmd.SetOut(&output)
			cmd.SetErr(&output)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.expectError && err == nil {
				t.Error("Expected error for mutually exclusive flags, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"serve", "mcp", "score", "templates", "profiles", "escalations", "version"} {
		t.Run(name, func(t *testing.T) {
			for _, sub := range cmd.Commands() {
				if sub.Name() == name {
					return
				}
			}
			t.Errorf("Subcommand %q not found", name)
		})
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	cmd := NewRootCmd()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs([]string{"--help"})

	_ = cmd.Execute()

	for _, want := range []string{"Usage:", "Available Commands:", "Flags:", "escalations"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("help output should contain %q", want)
		}
	}
}

func TestRootCmd_LoadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("MEDIATOR_TEST_FROM_DOTENV=sim\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("MEDIATOR_TEST_FROM_DOTENV", "")
	os.Unsetenv("MEDIATOR_TEST_FROM_DOTENV")

	if _, err := runCLI(t, "version", "--short"); err != nil {
		t.Fatalf("version error = %v", err)
	}
	if got := os.Getenv("MEDIATOR_TEST_FROM_DOTENV"); got != "sim" {
		t.Errorf("MEDIATOR_TEST_FROM_DOTENV = %q, want the .env value", got)
	}
}

func TestRootCmd_QuietSilencesLog(t *testing.T) {
	original := log.Writer()
	t.Cleanup(func() { log.SetOutput(original) })

	if _, err := runCLI(t, "--quiet", "version"); err != nil {
		t.Fatalf("version error = %v", err)
	}
	if log.Writer() != io.Discard {
		t.Error("--quiet should route the standard logger to io.Discard")
	}
}
