// Package toolexec implements the Tool Registry and Tool Executor described
// in spec.md §4.5: name/description/schema/handler registration, and
// timeout-bounded invocation under a caller-managed concurrency cap.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler runs a tool given its raw JSON arguments and an invocation
// context. ctx carries taskId, dataDir, and memoryDir when present (see
// WithInvocationContext).
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Definition describes one registrable tool.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	Handler     Handler
}

// LLMTool is the shape the LLM function-calling API expects, exported by
// Registry.Export.
type LLMTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Registry maps tool name to Definition.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register adds or replaces a tool definition by name.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
}

// RegisterMany registers every definition in defs.
func (r *Registry) RegisterMany(defs []Definition) {
	for _, d := range defs {
		r.Register(d)
	}
}

// Get returns the definition for name and whether it was found.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Names returns every registered tool name in a stable, sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Export returns the tool set in the shape the LLM expects for function
// calling, in stable name order.
func (r *Registry) Export() []LLMTool {
	names := r.Names()
	out := make([]LLMTool, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		def := r.tools[name]
		out = append(out, LLMTool{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}
	return out
}

// errUnknownTool builds the error that Execute reports in-band via
// Result.Error, never thrown, when called with an unregistered tool name.
func errUnknownTool(name string) error {
	return fmt.Errorf("unknown tool: %s", name)
}

var schemaCache sync.Map

// compileSchema compiles and caches def.Parameters by tool name, so a hot
// tool isn't recompiled on every call. A tool with no declared schema always
// validates.
func compileSchema(toolName string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if cached, ok := schemaCache.Load(toolName); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(toolName+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(toolName, compiled)
	return compiled, nil
}

// validateArgs checks args against def's declared JSON Schema, if any.
func validateArgs(def Definition, args json.RawMessage) error {
	schema, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}
	if schema == nil {
		return nil
	}
	var decoded any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return fmt.Errorf("decode arguments: %w", err)
		}
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments invalid: %w", err)
	}
	return nil
}
