package jsfunc

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/infrastructure/llm"
)

// Registry holds the named function set and its enabled subset. Names
// are unique; adding a function whose name collides replaces the old
// record atomically, including its enabled state.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Function
	enabled map[string]bool
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byName:  make(map[string]*Function),
		enabled: make(map[string]bool),
		logger:  logger.With(zap.String("component", "jsfunc")),
	}
}

// AddSource parses source and registers every function it defines under
// one group. A name collision replaces the previous record. New
// functions start enabled.
func (r *Registry) AddSource(source, groupID string) ([]*Function, error) {
	fns, err := ParseAll(source)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fn := range fns {
		fn.GroupID = groupID
		if prev, ok := r.byName[fn.Name]; ok {
			r.logger.Debug("Replacing function",
				zap.String("name", fn.Name),
				zap.String("old_group", prev.GroupID),
				zap.String("new_group", groupID),
			)
		}
		r.byName[fn.Name] = fn
		r.enabled[fn.Name] = true
	}
	return fns, nil
}

// Remove deletes one function by name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return false
	}
	delete(r.byName, name)
	delete(r.enabled, name)
	return true
}

// RemoveGroup deletes every function belonging to groupID and returns
// the removed names.
func (r *Registry) RemoveGroup(groupID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for name, fn := range r.byName {
		if fn.GroupID == groupID {
			delete(r.byName, name)
			delete(r.enabled, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// SetEnabled flips a function's enabled flag.
func (r *Registry) SetEnabled(name string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return chat.NewError(chat.KindUsage, fmt.Sprintf("unknown function %q", name))
	}
	r.enabled[name] = on
	return nil
}

// Get returns the function record for name.
func (r *Registry) Get(name string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byName[name]
	return fn, ok
}

// List returns all registered functions sorted by name.
func (r *Registry) List() []*Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Function, 0, len(r.byName))
	for _, fn := range r.byName {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnabledNames returns the names of enabled callable functions, sorted.
func (r *Registry) EnabledNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, fn := range r.byName {
		if fn.Callable && r.enabled[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ToolSchemas renders the enabled callable functions as chat-completions
// tool declarations, ordered by name so requests are stable.
func (r *Registry) ToolSchemas() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, fn := range r.byName {
		if fn.Callable && r.enabled[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tools := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		fn := r.byName[name]
		properties := make(map[string]any, len(fn.Parameters))
		var required []string
		for _, p := range fn.Parameters {
			prop := map[string]any{"type": p.Type}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}
		params := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			params["required"] = required
		}
		tools = append(tools, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}
