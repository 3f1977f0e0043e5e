// ABOUTME: Scenario templates for prompt composition, loaded from YAML
// ABOUTME: Embedded defaults with an optional override file; every scenario must be present
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/harper/auticonnect-mediator/internal/models"
	"gopkg.in/yaml.v3"
)

// Scenario selects a template
type Scenario string

const (
	ScenarioFacilitation     Scenario = "facilitation"
	ScenarioRedirection      Scenario = "redirection"
	ScenarioSupport          Scenario = "support"
	ScenarioActivityGuidance Scenario = "activity_guidance"
	ScenarioAlertContext     Scenario = "alert_context"
)

// Scenarios lists every scenario a template set must define
var Scenarios = []Scenario{
	ScenarioFacilitation,
	ScenarioRedirection,
	ScenarioSupport,
	ScenarioActivityGuidance,
	ScenarioAlertContext,
}

// Frequency is the deployment-wide intervention frequency
type Frequency string

const (
	FrequencyLow    Frequency = "low"
	FrequencyMedium Frequency = "medium"
	FrequencyHigh   Frequency = "high"
)

// ParseFrequency validates a frequency name; empty means medium
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FrequencyMedium, nil
	case FrequencyLow, FrequencyMedium, FrequencyHigh:
		return f, nil
	default:
		return "", models.ConfigError("intervention frequency must be low, medium or high, got %q", s)
	}
}

// Template is one scenario script
type Template struct {
	System       string   `yaml:"system" json:"system"`
	Instructions []string `yaml:"instructions" json:"instructions"`
}

// TemplateSet is the parsed templates file
type TemplateSet struct {
	Version   string                `yaml:"version"`
	Templates map[Scenario]Template `yaml:"templates"`
	Frequency map[Frequency]string  `yaml:"frequency"`
	Request   string                `yaml:"request"`
}

//go:embed templates.yaml
var defaultTemplates []byte

// DefaultTemplates returns the embedded template set
func DefaultTemplates() (*TemplateSet, error) {
	return ParseTemplates(defaultTemplates)
}

// DefaultTemplatesYAML returns a copy of the embedded templates file
func DefaultTemplatesYAML() []byte {
	return append([]byte(nil), defaultTemplates...)
}

// LoadTemplates reads a template file, or the embedded defaults when path is empty
func LoadTemplates(path string) (*TemplateSet, error) {
	if path == "" {
		return DefaultTemplates()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.ConfigError("failed to read templates %s: %v", path, err)
	}
	ts, err := ParseTemplates(data)
	if err != nil {
		return nil, fmt.Errorf("templates %s: %w", path, err)
	}
	return ts, nil
}

// ParseTemplates parses and validates a template set
func ParseTemplates(data []byte) (*TemplateSet, error) {
	var ts TemplateSet
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, models.ConfigError("failed to parse templates: %v", err)
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return &ts, nil
}

// Validate fails when any scenario or frequency line is missing
func (ts *TemplateSet) Validate() error {
	for _, s := range Scenarios {
		t, ok := ts.Templates[s]
		if !ok {
			return models.ConfigError("missing template for scenario %q", s)
		}
		if strings.TrimSpace(t.System) == "" {
			return models.ConfigError("template %q has no system text", s)
		}
	}
	for _, f := range []Frequency{FrequencyLow, FrequencyMedium, FrequencyHigh} {
		if strings.TrimSpace(ts.Frequency[f]) == "" {
			return models.ConfigError("missing frequency line %q", f)
		}
	}
	if strings.TrimSpace(ts.Request) == "" {
		return models.ConfigError("templates need a request line")
	}
	return nil
}

// Lookup returns the template for a scenario. Unknown scenarios are configuration errors.
func (ts *TemplateSet) Lookup(s Scenario) (Template, error) {
	t, ok := ts.Templates[s]
	if !ok {
		return Template{}, models.ConfigError("unknown scenario %q", s)
	}
	return t, nil
}

// Names returns the defined scenario names, sorted
func (ts *TemplateSet) Names() []string {
	names := make([]string, 0, len(ts.Templates))
	for s := range ts.Templates {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return names
}
