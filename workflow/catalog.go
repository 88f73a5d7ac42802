package workflow

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
	"gopkg.in/yaml.v3"

	"github.com/xraph/conductor"
)

//go:embed catalog.schema.json
var catalogSchemaSource string

var (
	catalogSchemaOnce sync.Once
	catalogSchema     *jsonschema.Schema
	catalogSchemaErr  error
)

func compiledCatalogSchema() (*jsonschema.Schema, error) {
	catalogSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource("catalog.schema.json", strings.NewReader(catalogSchemaSource)); err != nil {
			catalogSchemaErr = err
			return
		}
		catalogSchema, catalogSchemaErr = c.Compile("catalog.schema.json")
	})
	return catalogSchema, catalogSchemaErr
}

// Catalog is a set of named definitions.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewCatalog creates a catalog holding defs. Duplicate names are rejected.
func NewCatalog(defs ...*Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a definition.
func (c *Catalog) Add(def *Definition) error {
	if def == nil || def.Name == "" {
		return &conductor.DefinitionError{Reason: "name is empty"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.defs[def.Name]; dup {
		return &conductor.DefinitionError{Definition: def.Name, Reason: "defined twice"}
	}
	c.defs[def.Name] = def
	return nil
}

// Get returns the named definition or conductor.ErrUnknownDefinition.
func (c *Catalog) Get(name string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", conductor.ErrUnknownDefinition, name)
	}
	return d, nil
}

// Names returns the definition names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.defs))
	for n := range c.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks every definition against reg.
func (c *Catalog) Validate(reg StepRegistry) error {
	for _, name := range c.Names() {
		d, _ := c.Get(name)
		if err := d.Validate(reg); err != nil {
			return err
		}
	}
	return nil
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog parses a YAML catalog document:
//
//	workflows:
//	  - name: ingest
//	    steps:
//	      - fetch
//	      - name: index
//	        task: build_index
//	        queue: heavy
//
// A step written as a bare string uses the task identifier as its name.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := validateCatalogDocument(raw); err != nil {
		return nil, err
	}

	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	defs := make([]*Definition, len(doc.Workflows))
	for i, w := range doc.Workflows {
		steps := make([]StepDef, len(w.Steps))
		for j, s := range w.Steps {
			steps[j] = StepDef(s)
		}
		defs[i] = &Definition{Name: w.Name, Steps: steps}
		if err := defs[i].Validate(nil); err != nil {
			return nil, err
		}
	}
	return NewCatalog(defs...)
}

// validateCatalogDocument checks the decoded YAML against the embedded
// schema. The document goes through JSON so numbers reach the validator in
// the representation it expects.
func validateCatalogDocument(raw any) error {
	schema, err := compiledCatalogSchema()
	if err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("catalog is not a JSON-compatible document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode catalog document: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", conductor.ErrInvalidDefinition, err)
	}
	return nil
}

type catalogDoc struct {
	Workflows []struct {
		Name  string        `yaml:"name"`
		Steps []catalogStep `yaml:"steps"`
	} `yaml:"workflows"`
}

type catalogStep StepDef

func (s *catalogStep) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Name = node.Value
		s.Task = node.Value
		return nil
	}
	var full StepDef
	if err := node.Decode(&full); err != nil {
		return err
	}
	if full.Name == "" {
		full.Name = full.Task
	}
	*s = catalogStep(full)
	return nil
}
