package templates

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"
)

// Template is the static per-poll-type configuration governing option
// mutation policy, chart shape, and required custom fields.
type Template struct {
	Label                string   `yaml:"label"`
	ChartType            string   `yaml:"chart_type"`
	CanAddOptions        bool     `yaml:"can_add_options"`
	CanRemoveOptions     bool     `yaml:"can_remove_options"`
	MustHaveOptions      bool     `yaml:"must_have_options"`
	SingleChoice         bool     `yaml:"single_choice"`
	HasVariableScore     bool     `yaml:"has_variable_score"`
	TranslateOptionName  bool     `yaml:"translate_option_name"`
	DatesAsOptions       bool     `yaml:"dates_as_options"`
	RequiredCustomFields []string `yaml:"required_custom_fields"`
	DefaultOptions       []string `yaml:"poll_options"`
}

const (
	ChartTypeBar      = "bar"
	ChartTypePie      = "pie"
	ChartTypeProgress = "progress"
	ChartTypeMatrix   = "matrix"
)

// Registry is the immutable poll-type lookup resolved once at process start.
type Registry struct {
	templates map[string]Template
}

// Default returns the built-in template set.
func Default() Registry {
	return Registry{templates: map[string]Template{
		"proposal": {
			Label:               "Proposal",
			ChartType:           ChartTypePie,
			SingleChoice:        true,
			MustHaveOptions:     true,
			TranslateOptionName: true,
			DefaultOptions:      []string{"agree", "abstain", "disagree", "block"},
		},
		"poll": {
			Label:            "Poll",
			ChartType:        ChartTypeBar,
			SingleChoice:     true,
			CanAddOptions:    true,
			CanRemoveOptions: true,
			MustHaveOptions:  true,
		},
		"count": {
			Label:               "Count",
			ChartType:           ChartTypeProgress,
			SingleChoice:        true,
			MustHaveOptions:     true,
			TranslateOptionName: true,
			DefaultOptions:      []string{"yes", "no"},
		},
		"dot_vote": {
			Label:                "Dot vote",
			ChartType:            ChartTypeBar,
			CanAddOptions:        true,
			CanRemoveOptions:     true,
			MustHaveOptions:      true,
			HasVariableScore:     true,
			RequiredCustomFields: []string{"dots_per_person"},
		},
		"ranked_choice": {
			Label:            "Ranked choice",
			ChartType:        ChartTypeBar,
			CanAddOptions:    true,
			CanRemoveOptions: true,
			MustHaveOptions:  true,
			HasVariableScore: true,
		},
		"meeting": {
			Label:                "Time poll",
			ChartType:            ChartTypeMatrix,
			CanAddOptions:        true,
			CanRemoveOptions:     true,
			MustHaveOptions:      true,
			DatesAsOptions:       true,
			RequiredCustomFields: []string{"time_zone"},
		},
	}}
}

// Load reads a template mapping from a YAML file. The file fully replaces the
// built-in set so deployments control the available poll types.
func Load(path string) (Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("read poll templates: %w", err)
	}
	parsed := map[string]Template{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return Registry{}, fmt.Errorf("parse poll templates: %w", err)
	}
	if len(parsed) == 0 {
		return Registry{}, fmt.Errorf("poll templates file %s defines no poll types", path)
	}
	return Registry{templates: parsed}, nil
}

// Get resolves the template for a poll type.
func (r Registry) Get(pollType string) (Template, bool) {
	template, ok := r.templates[pollType]
	return template, ok
}

// Types lists the known poll types in stable order.
func (r Registry) Types() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
