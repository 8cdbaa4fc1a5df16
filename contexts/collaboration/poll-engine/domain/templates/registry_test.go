package templates

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultRegistryTypes(t *testing.T) {
	registry := Default()

	want := []string{"count", "dot_vote", "meeting", "poll", "proposal", "ranked_choice"}
	if !reflect.DeepEqual(registry.Types(), want) {
		t.Fatalf("expected types %v, got %v", want, registry.Types())
	}

	proposal, ok := registry.Get("proposal")
	if !ok {
		t.Fatalf("proposal template missing")
	}
	if proposal.CanAddOptions || proposal.CanRemoveOptions {
		t.Fatalf("proposal options are locked: %+v", proposal)
	}
	if !reflect.DeepEqual(proposal.DefaultOptions, []string{"agree", "abstain", "disagree", "block"}) {
		t.Fatalf("unexpected proposal defaults %v", proposal.DefaultOptions)
	}

	meeting, ok := registry.Get("meeting")
	if !ok {
		t.Fatalf("meeting template missing")
	}
	if meeting.ChartType != ChartTypeMatrix || !meeting.DatesAsOptions {
		t.Fatalf("unexpected meeting template %+v", meeting)
	}
}

func TestGetUnknownType(t *testing.T) {
	if _, ok := Default().Get("quadratic"); ok {
		t.Fatalf("unknown poll type must not resolve")
	}
}

func TestLoadReplacesBuiltinSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yml")
	content := []byte(`
score:
  label: Score
  chart_type: bar
  can_add_options: true
  can_remove_options: true
  must_have_options: true
  has_variable_score: true
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write templates: %v", err)
	}

	registry, err := Load(path)
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}

	if !reflect.DeepEqual(registry.Types(), []string{"score"}) {
		t.Fatalf("file must fully replace the built-in set, got %v", registry.Types())
	}
	score, ok := registry.Get("score")
	if !ok {
		t.Fatalf("score template missing")
	}
	if !score.HasVariableScore || score.Label != "Score" {
		t.Fatalf("unexpected score template %+v", score)
	}
	if _, ok := registry.Get("proposal"); ok {
		t.Fatalf("built-in proposal must not survive a file load")
	}
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yml")
	if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
		t.Fatalf("write templates: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("empty template file must fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("missing template file must fail")
	}
}
