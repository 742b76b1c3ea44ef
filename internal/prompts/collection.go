package prompts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"signsync/internal/services"
)

//go:embed prompts.schema.json
var schemaJSON []byte

const schemaURL = "signsync://prompts.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add prompts schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Prompt is one thing the user is asked to sign.
type Prompt struct {
	Key          string `json:"key"`
	Text         string `json:"prompt,omitempty"`
	ResourcePath string `json:"resourcePath,omitempty"`
}

// Section groups prompts recorded together.
type Section struct {
	Name            string   `json:"name"`
	MainPrompts     []Prompt `json:"mainPrompts"`
	TutorialPrompts []Prompt `json:"tutorialPrompts,omitempty"`
}

// Prompts returns the list used in the given mode.
func (s Section) Prompts(tutorial bool) []Prompt {
	if tutorial {
		return s.TutorialPrompts
	}
	return s.MainPrompts
}

// Collection is the full prompt data for one user.
type Collection struct {
	Sections []Section `json:"sections"`
}

// Parse validates data against the prompts schema and decodes it.
func Parse(data []byte) (*Collection, error) {
	compiled, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, services.Wrap(services.ErrValidation, "prompts", "parse", "prompts are not valid JSON", err)
	}
	if err := compiled.Validate(instance); err != nil {
		return nil, services.Wrap(services.ErrValidation, "prompts", "parse", "prompts do not match schema", err)
	}

	var collection Collection
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, services.Wrap(services.ErrValidation, "prompts", "parse", "decode prompts", err)
	}
	seen := make(map[string]struct{}, len(collection.Sections))
	for _, section := range collection.Sections {
		if _, dup := seen[section.Name]; dup {
			return nil, services.Wrap(services.ErrValidation, "prompts", "parse",
				fmt.Sprintf("duplicate section %q", section.Name), nil)
		}
		seen[section.Name] = struct{}{}
	}
	return &collection, nil
}

// LoadFile reads and parses a prompts file. A missing file is reported with
// an error satisfying errors.Is(err, fs.ErrNotExist).
func LoadFile(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return Parse(data)
}

// Section looks up a section by name.
func (c *Collection) Section(name string) (Section, bool) {
	if c == nil {
		return Section{}, false
	}
	for _, section := range c.Sections {
		if section.Name == name {
			return section, true
		}
	}
	return Section{}, false
}

// SectionNames lists sections in collection order.
func (c *Collection) SectionNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Sections))
	for _, section := range c.Sections {
		names = append(names, section.Name)
	}
	return names
}

// ResourcePaths returns the distinct resource paths referenced by any prompt,
// sorted.
func (c *Collection) ResourcePaths() []string {
	if c == nil {
		return nil
	}
	set := map[string]struct{}{}
	for _, section := range c.Sections {
		for _, list := range [][]Prompt{section.MainPrompts, section.TutorialPrompts} {
			for _, prompt := range list {
				if path := strings.TrimSpace(prompt.ResourcePath); path != "" {
					set[path] = struct{}{}
				}
			}
		}
	}
	paths := make([]string, 0, len(set))
	for path := range set {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
