package workflow_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

const sampleCatalog = `
workflows:
  - name: ingest
    steps:
      - fetch
      - name: shape
        task: transform
        queue: heavy
      - task: load
  - name: reindex
    steps: [index]
`

func TestParseCatalog(t *testing.T) {
	c, err := workflow.ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if got := c.Names(); len(got) != 2 || got[0] != "ingest" || got[1] != "reindex" {
		t.Fatalf("Names = %v, want [ingest reindex]", got)
	}

	def, err := c.Get("ingest")
	if err != nil {
		t.Fatal(err)
	}
	want := []workflow.StepDef{
		{Name: "fetch", Task: "fetch"},
		{Name: "shape", Task: "transform", Queue: "heavy"},
		{Name: "load", Task: "load"},
	}
	if len(def.Steps) != len(want) {
		t.Fatalf("ingest has %d steps, want %d", len(def.Steps), len(want))
	}
	for i := range want {
		if def.Steps[i] != want[i] {
			t.Errorf("step %d = %+v, want %+v", i, def.Steps[i], want[i])
		}
	}

	if _, err := c.Get("missing"); !errors.Is(err, conductor.ErrUnknownDefinition) {
		t.Fatalf("Get(missing) = %v, want %v", err, conductor.ErrUnknownDefinition)
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no workflows key", "pipelines: []\n"},
		{"empty steps", "workflows:\n  - name: a\n    steps: []\n"},
		{"unknown field", "workflows:\n  - name: a\n    steps: [fetch]\n    retries: 3\n"},
		{"step without task", "workflows:\n  - name: a\n    steps:\n      - name: x\n"},
		{"duplicate step", "workflows:\n  - name: a\n    steps: [fetch, fetch]\n"},
		{"duplicate workflow", "workflows:\n  - name: a\n    steps: [fetch]\n  - name: a\n    steps: [load]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := workflow.ParseCatalog([]byte(tt.doc))
			if !errors.Is(err, conductor.ErrInvalidDefinition) {
				t.Fatalf("ParseCatalog = %v, want %v", err, conductor.ErrInvalidDefinition)
			}
		})
	}
}

func TestLoadCatalogAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := workflow.LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	reg := task.NewRegistry()
	for _, name := range []string{"fetch", "transform", "load"} {
		task.RegisterFunc(reg, name, noopHandler)
	}
	if err := c.Validate(reg); !errors.Is(err, conductor.ErrInvalidDefinition) {
		t.Fatalf("Validate without index = %v, want %v", err, conductor.ErrInvalidDefinition)
	}
	task.RegisterFunc(reg, "index", noopHandler)
	if err := c.Validate(reg); err != nil {
		t.Fatalf("Validate = %v, want nil", err)
	}

	if _, err := workflow.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadCatalog(missing) succeeded")
	}
}
