package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/srinidhi621/knowledge-atlas/models"
)

type entry struct {
	tool   Tool
	def    models.ToolDefinition
	schema *jsonschema.Schema
}

// Registry holds the tools available to a deployment. Registration happens at startup;
// after Seal the registry only serves lookups.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
	sealed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds t under its definition name. The parameter schema is compiled once here.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return ErrToolNameEmpty
	}
	compiled, err := compileSchema(def.Name, def.ParameterSchema)
	if err != nil {
		return fmt.Errorf("tool %s: %w", def.Name, err)
	}
	def.ParameterSchema = models.CloneArguments(def.ParameterSchema)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.entries[def.Name]; exists {
		return &DuplicateToolError{Name: def.Name}
	}
	r.entries[def.Name] = &entry{tool: t, def: def, schema: compiled}
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister registers every tool and panics on the first failure.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Seal closes registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether registration is closed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the tool registered under name. An unknown name is not an error.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Definition returns the registered definition for name.
func (r *Registry) Definition(name string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return models.ToolDefinition{}, false
	}
	return cloneDefinition(e.def), true
}

// List returns tool definitions in registration order.
func (r *Registry) List() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, cloneDefinition(r.entries[name].def))
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ValidateArguments checks args against the parameter schema of the named tool.
func (r *Registry) ValidateArguments(name string, args map[string]interface{}) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	doc, err := normalizeArguments(args)
	if err != nil {
		return &SchemaError{Tool: name, Err: err}
	}
	if err := e.schema.Validate(doc); err != nil {
		return &SchemaError{Tool: name, Err: err}
	}
	return nil
}

// Checksum returns a deterministic hash of the ordered catalog. Traces record it so a
// replay can tell whether the tool set changed since the run.
func (r *Registry) Checksum() (string, error) {
	defs := r.List()
	payload := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		payload = append(payload, map[string]interface{}{
			"name":             d.Name,
			"description":      d.Description,
			"parameter_schema": d.ParameterSchema,
			"repairable":       d.Repairable,
		})
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

func cloneDefinition(d models.ToolDefinition) models.ToolDefinition {
	d.ParameterSchema = models.CloneArguments(d.ParameterSchema)
	return d
}
