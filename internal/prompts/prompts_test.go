package prompts_test

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"signsync/internal/prompts"
	"signsync/internal/services"
)

const sample = `{
  "sections": [
    {
      "name": "greetings",
      "mainPrompts": [
        {"key": "hello", "prompt": "Hello", "resourcePath": "img/hello.png"},
        {"key": "bye", "prompt": "Goodbye"}
      ],
      "tutorialPrompts": [
        {"key": "wave", "prompt": "Wave", "resourcePath": "img/wave.png"}
      ]
    },
    {
      "name": "numbers",
      "mainPrompts": [
        {"key": "one", "resourcePath": "img/hello.png"}
      ]
    }
  ]
}`

func TestParseValidCollection(t *testing.T) {
	collection, err := prompts.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := collection.SectionNames(); len(got) != 2 || got[0] != "greetings" || got[1] != "numbers" {
		t.Fatalf("unexpected sections %v", got)
	}
	paths := collection.ResourcePaths()
	if len(paths) != 2 || paths[0] != "img/hello.png" || paths[1] != "img/wave.png" {
		t.Fatalf("unexpected resource paths %v", paths)
	}
	section, ok := collection.Section("greetings")
	if !ok || len(section.Prompts(true)) != 1 || len(section.Prompts(false)) != 2 {
		t.Fatalf("unexpected greetings section %+v", section)
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"not json":                  `{"sections": [`,
		"missing sections":   `{}`,
		"prompt without key": `{"sections":[{"name":"a","mainPrompts":[{"prompt":"x"}]}]}`,
		"empty name":                 `{"sections":[{"name":"","mainPrompts":[]}]}`,
		"duplicate section":   `{"sections":[{"name":"a","mainPrompts":[]},{"name":"a","mainPrompts":[]}]}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := prompts.Parse([]byte(input))
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := prompts.LoadFile(filepath.Join(t.TempDir(), "prompts.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestReconcileDropsAndInitializesSections(t *testing.T) {
	collection, err := prompts.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	progress := prompts.Progress{
		"greetings": {MainIndex: 5, TutorialIndex: 1},
		"retired":   {MainIndex: 3},
	}
	got := prompts.Reconcile(progress, collection)
	if _, ok := got["retired"]; ok {
		t.Fatalf("unknown section kept: %v", got)
	}
	if got["greetings"].MainIndex != 2 || got["greetings"].TutorialIndex != 1 {
		t.Fatalf("greetings not clamped: %+v", got["greetings"])
	}
	if got["numbers"] != (prompts.SectionProgress{}) {
		t.Fatalf("new section should start at zero: %+v", got["numbers"])
	}
	if progress["greetings"].MainIndex != 5 {
		t.Fatalf("input progress mutated")
	}
}

func TestAdvanceByMode(t *testing.T) {
	collection, err := prompts.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	progress := prompts.Reconcile(nil, collection)

	next, err := prompts.Advance(progress, collection, "greetings", false)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	next, err = prompts.Advance(next, collection, "greetings", true)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	next, err = prompts.Advance(next, collection, "greetings", true)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next["greetings"].MainIndex != 1 || next["greetings"].TutorialIndex != 1 {
		t.Fatalf("unexpected progress %+v", next["greetings"])
	}
	if progress["greetings"].MainIndex != 0 {
		t.Fatalf("Advance mutated its input")
	}

	if _, err := prompts.Advance(progress, collection, "missing", false); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
