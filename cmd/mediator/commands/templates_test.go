// ABOUTME: Tests for the templates command
// ABOUTME: Lists, shows, checks and exports the embedded and file-based template sets

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harper/auticonnect-mediator/internal/prompt"
)

// runCLI executes the root command with args and returns what it printed
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTemplatesList(t *testing.T) {
	t.Setenv("TEMPLATES_PATH", "")

	out, err := runCLI(t, "templates")
	if err != nil {
		t.Fatalf("templates error = %v", err)
	}
	if !strings.Contains(out, "embedded") {
		t.Errorf("output should name the embedded source:\n%s", out)
	}
	for _, s := range prompt.Scenarios {
		if !strings.Contains(out, string(s)) {
			t.Errorf("output missing scenario %s", s)
		}
	}
}

func TestTemplatesShow(t *testing.T) {
	t.Setenv("TEMPLATES_PATH", "")
	ts, err := prompt.DefaultTemplates()
	if err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "templates", "show", string(prompt.ScenarioSupport))
	if err != nil {
		t.Fatalf("templates show error = %v", err)
	}
	want := strings.TrimSpace(ts.Templates[prompt.ScenarioSupport].System)
	if !strings.Contains(out, want) {
		t.Errorf("output = %s, want the support system text", out)
	}

	if _, err := runCLI(t, "templates", "show", "dancing"); err == nil {
		t.Error("unknown scenario should fail")
	}
}

func TestTemplatesCheckAndExport(t *testing.T) {
	t.Setenv("TEMPLATES_PATH", "")
	dir := t.TempDir()

	exported, err := runCLI(t, "templates", "export")
	if err != nil {
		t.Fatalf("templates export error = %v", err)
	}
	good := filepath.Join(dir, "templates.yaml")
	if err := os.WriteFile(good, []byte(exported), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "templates", "check", good)
	if err != nil {
		t.Fatalf("check of exported defaults error = %v", err)
	}
	if !strings.Contains(out, "✓") {
		t.Errorf("check output = %q", out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("version: \"1\"\ntemplates:\n  support:\n    system: oi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "templates", "check", bad); err == nil || !strings.Contains(err.Error(), "missing template") {
		t.Errorf("check of incomplete file error = %v", err)
	}

	t.Setenv("TEMPLATES_PATH", good)
	out, err = runCLI(t, "templates")
	if err != nil || !strings.Contains(out, good) {
		t.Errorf("list with TEMPLATES_PATH = %q, %v", out, err)
	}
}
