// Package tools is the catalog of capabilities the agent can invoke, local
// or provider-backed, and the dispatch path that executes them.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gaialab/gaia/errors"
)

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Tool is any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	Parameters() []ParamSpec
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Default truncation sizes for results folded into conversation state.
const (
	// TruncateThreshold is the serialized size above which a result is
	// truncated before entering the conversation log.
	TruncateThreshold = 3000
	// TruncateTarget is the maximum size of the truncated form.
	TruncateTarget = 2000
)

// Result is the structured outcome of one dispatch. Errors never propagate
// past this type; the agent loop always continues.
type Result struct {
	// Content is the full, untruncated output for the immediate caller.
	Content string
	// Stored is the (possibly truncated) form destined for conversation
	// state.
	Stored string
	// Err is one of the typed dispatch errors, or nil.
	Err error
}

// OK reports whether the dispatch succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Registry maps tool names to tools. Registration happens at composition
// time; dispatch is read-heavy, so lookups take a read lock only.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	order     []string
	threshold int
	target    int
}

// NewRegistry creates an empty registry with default truncation sizes.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		threshold: TruncateThreshold,
		target:    TruncateTarget,
	}
}

// SetTruncation overrides the truncation sizes. Zero values keep defaults.
func (r *Registry) SetTruncation(threshold, target int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if threshold > 0 {
		r.threshold = threshold
	}
	if target > 0 {
		r.target = target
	}
}

// Register adds a tool. A duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return errors.New("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute dispatches one tool call. Missing tools, missing required
// arguments and handler failures all come back as typed errors inside the
// Result, never as panics or bare errors.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	threshold, target := r.threshold, r.target
	r.mu.RUnlock()

	if !ok {
		return Result{Err: &NotFoundError{Tool: name}}
	}

	if missing := missingRequired(t, args); len(missing) > 0 {
		return Result{Err: &MissingArgumentsError{Tool: name, Missing: missing}}
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		return Result{Err: &ExecutionError{Tool: name, Err: err}}
	}

	stored := out
	if len(out) > threshold {
		stored = Truncate(out, target)
	}
	return Result{Content: out, Stored: stored}
}

func missingRequired(t Tool, args map[string]any) []string {
	var missing []string
	for _, p := range t.Parameters() {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

type descriptorParam struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

type descriptor struct {
	Description string                     `json:"description"`
	Parameters  map[string]descriptorParam `json:"parameters"`
}

// DescriptorJSON renders the catalog in the form the model is prompted
// with: {"<name>": {"description": ..., "parameters": {...}}}.
func (r *Registry) DescriptorJSON() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]descriptor, len(r.tools))
	for name, t := range r.tools {
		params := make(map[string]descriptorParam)
		for _, p := range t.Parameters() {
			params[p.Name] = descriptorParam{
				Type:        p.Type,
				Required:    p.Required,
				Description: p.Description,
			}
		}
		out[name] = descriptor{Description: t.Description(), Parameters: params}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize tool descriptors")
	}
	return string(data), nil
}
