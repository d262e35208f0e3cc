package tools

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Gate errors. The HTTP layer maps ErrUnknownTool to 404 and the other two
// to 400; handler failures are reported in the response body instead.
var (
	ErrUnknownTool          = errors.New("unknown tool")
	ErrNetworkDisabled      = errors.New("network tools are disabled")
	ErrConfirmationRequired = errors.New("tool requires confirmation")
)

// Definition is the schema-bearing description of a tool, served verbatim by
// GET /tools.
type Definition struct {
	ToolID               string         `json:"tool_id"`
	Description          string         `json:"description"`
	InputSchema          map[string]any `json:"input_schema"`
	OutputSchema         map[string]any `json:"output_schema"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	RequiresNetwork      bool           `json:"requires_network"`
}

// Handler executes a tool against the sandbox.
type Handler func(ctx context.Context, rt *Context, input map[string]any) (map[string]any, error)

type tool struct {
	def     Definition
	handler Handler
}

// Registry holds the built-in tools. Registration order is preserved so
// GET /tools is stable.
type Registry struct {
	rt *Context

	mu    sync.RWMutex
	order []string
	tools map[string]*tool
}

// NewRegistry builds a registry with all built-in tools registered.
func NewRegistry(rt *Context) *Registry {
	r := &Registry{
		rt:    rt,
		tools: make(map[string]*tool),
	}
	r.registerFilesystemTools()
	r.registerGitTools()
	r.registerSQLTools()
	r.registerCommandTools()
	return r
}

func (r *Registry) register(def Definition, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.ToolID]; exists {
		return
	}
	r.order = append(r.order, def.ToolID)
	r.tools[def.ToolID] = &tool{def: def, handler: handler}
}

// Definitions returns the tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		defs = append(defs, r.tools[id].def)
	}
	return defs
}

// Run executes a tool after the gate checks: unknown tool, network gating,
// then confirmation gating, then the handler.
func (r *Registry) Run(ctx context.Context, toolID string, input map[string]any, confirmed bool) (map[string]any, error) {
	r.mu.RLock()
	entry, ok := r.tools[toolID]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTool, "%s", toolID)
	}
	if entry.def.RequiresNetwork && !r.rt.AllowNetwork {
		return nil, errors.Wrapf(ErrNetworkDisabled, "%s", toolID)
	}
	if entry.def.RequiresConfirmation && !confirmed {
		return nil, errors.Wrapf(ErrConfirmationRequired, "%s", toolID)
	}
	if input == nil {
		input = map[string]any{}
	}
	return entry.handler(ctx, r.rt, input)
}

// Input accessors. Tool inputs arrive as decoded JSON, so numbers are
// float64 and everything needs a type check.

func stringArg(input map[string]any, key string) string {
	if value, ok := input[key].(string); ok {
		return value
	}
	return ""
}

func boolArg(input map[string]any, key string) bool {
	if value, ok := input[key].(bool); ok {
		return value
	}
	return false
}

func intArg(input map[string]any, key string, defaultValue int) int {
	switch value := input[key].(type) {
	case float64:
		if value > 0 {
			return int(value)
		}
	case int:
		if value > 0 {
			return value
		}
	}
	return defaultValue
}

func stringSliceArg(input map[string]any, key string) []string {
	raw, ok := input[key].([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}
	return values
}
