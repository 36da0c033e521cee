// Package prompt manages the prompt library: user prompts, curated
// default prompts, a selection set, and the composed system prompt fed
// to the chat engine.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/models"
	"github.com/hackare/hackare/internal/infrastructure/eventbus"
)

// Prompt is one named prompt. Default prompts come from the curated
// catalog; user prompts are created locally or arrive in a share link.
type Prompt struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Content      string `json:"content"`
	IsDefault    bool   `json:"isDefault"`
	IsFilePrompt bool   `json:"isFilePrompt"`
	IsMCPPrompt  bool   `json:"isMcpPrompt"`
	Selected     bool   `json:"isSelected"`
}

// ToolInfo is the slice of function metadata the library needs to build
// the auto-generated function-library prompt.
type ToolInfo struct {
	Name        string
	Description string
}

// Estimate is the context-budget accounting for the composed prompt.
type Estimate struct {
	Tokens      int     `json:"tokens"`
	ContextSize int     `json:"contextSize"`
	Percentage  float64 `json:"percentage"`
}

// Library holds prompts and the selection set. Composition order is
// selected user prompts in creation order, then selected default
// prompts in catalog order.
type Library struct {
	mu        sync.RWMutex
	byID      map[string]*Prompt
	userOrder []string
	defOrder  []string
	tools     []ToolInfo
	composed  string

	bus    eventbus.Bus
	logger *zap.Logger
}

func NewLibrary(bus eventbus.Bus, logger *zap.Logger) *Library {
	l := &Library{
		byID:   make(map[string]*Prompt),
		bus:    bus,
		logger: logger.With(zap.String("component", "prompt")),
	}
	for _, d := range defaultCatalog {
		p := d
		p.ID = uuid.NewString()
		p.IsDefault = true
		l.byID[p.ID] = &p
		l.defOrder = append(l.defOrder, p.ID)
	}
	return l
}

// AddUserPrompt creates a user prompt, unselected.
func (l *Library) AddUserPrompt(name, content string) *Prompt {
	l.mu.Lock()
	p := &Prompt{
		ID:      uuid.NewString(),
		Name:    name,
		Content: content,
	}
	l.byID[p.ID] = p
	l.userOrder = append(l.userOrder, p.ID)
	l.mu.Unlock()
	return p
}

// Remove deletes a user prompt. Default prompts cannot be removed, only
// deselected.
func (l *Library) Remove(id string) bool {
	l.mu.Lock()
	p, ok := l.byID[id]
	if !ok || p.IsDefault {
		l.mu.Unlock()
		return false
	}
	delete(l.byID, id)
	for i, uid := range l.userOrder {
		if uid == id {
			l.userOrder = append(l.userOrder[:i], l.userOrder[i+1:]...)
			break
		}
	}
	changed := l.recompose()
	l.mu.Unlock()

	l.publishIfChanged(changed)
	return true
}

// SetSelected flips a prompt's membership in the selection set.
func (l *Library) SetSelected(id string, on bool) error {
	l.mu.Lock()
	p, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("unknown prompt %q", id)
	}
	p.Selected = on
	changed := l.recompose()
	l.mu.Unlock()

	l.publishIfChanged(changed)
	return nil
}

// SetTools replaces the function metadata used for the auto-generated
// function-library prompt.
func (l *Library) SetTools(tools []ToolInfo) {
	l.mu.Lock()
	l.tools = append([]ToolInfo(nil), tools...)
	changed := l.recompose()
	l.mu.Unlock()

	l.publishIfChanged(changed)
}

// ReplaceUserPrompts swaps the entire user prompt set, as applied from a
// share payload. Existing user prompts are dropped, not merged. The
// selection set is rebuilt from selectedIDs, matched against both new
// prompt ids and names so share payloads can reference either.
func (l *Library) ReplaceUserPrompts(prompts map[string]string, selectedIDs []string) {
	l.mu.Lock()
	for _, id := range l.userOrder {
		delete(l.byID, id)
	}
	l.userOrder = nil

	names := make([]string, 0, len(prompts))
	for name := range prompts {
		names = append(names, name)
	}
	sort.Strings(names)

	selected := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = true
	}

	for _, name := range names {
		p := &Prompt{
			ID:       uuid.NewString(),
			Name:     name,
			Content:  prompts[name],
			Selected: selected[name],
		}
		l.byID[p.ID] = p
		l.userOrder = append(l.userOrder, p.ID)
	}
	changed := l.recompose()
	l.mu.Unlock()

	l.publishIfChanged(changed)
}

// List returns all prompts, user prompts first.
func (l *Library) List() []*Prompt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Prompt, 0, len(l.byID))
	for _, id := range l.userOrder {
		out = append(out, l.byID[id])
	}
	for _, id := range l.defOrder {
		out = append(out, l.byID[id])
	}
	return out
}

// FindByName returns the first prompt with the given name.
func (l *Library) FindByName(name string) (*Prompt, bool) {
	for _, p := range l.List() {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Composed returns the current effective system prompt.
func (l *Library) Composed() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.composed
}

// EstimateTokens sizes the composed prompt against model's context
// window using the 4-chars-per-token heuristic.
func (l *Library) EstimateTokens(registry *models.Registry, model string) Estimate {
	l.mu.RLock()
	composed := l.composed
	l.mu.RUnlock()

	tokens := (len(composed) + 3) / 4
	window := registry.ContextWindow(model)
	pct := 0.0
	if window > 0 {
		pct = float64(tokens) / float64(window) * 100
	}
	return Estimate{Tokens: tokens, ContextSize: window, Percentage: pct}
}

// recompose rebuilds the composed prompt under the write lock and
// reports whether it changed.
func (l *Library) recompose() bool {
	var parts []string
	for _, id := range l.userOrder {
		if p := l.byID[id]; p.Selected && p.Content != "" {
			parts = append(parts, p.Content)
		}
	}
	for _, id := range l.defOrder {
		if p := l.byID[id]; p.Selected && p.Content != "" {
			parts = append(parts, p.Content)
		}
	}
	if fl := functionLibraryPrompt(l.tools); fl != "" {
		parts = append(parts, fl)
	}

	next := strings.Join(parts, "\n\n")
	if next == l.composed {
		return false
	}
	l.composed = next
	return true
}

func (l *Library) publishIfChanged(changed bool) {
	if !changed {
		return
	}
	l.logger.Debug("System prompt recomposed")
	l.bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventSystemPromptUpdated, l.Composed()))
}

// functionLibraryPrompt enumerates the enabled tools for the model so it
// knows what it can call and why.
func functionLibraryPrompt(tools []ToolInfo) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You have access to the following functions:\n")
	for _, t := range tools {
		desc := t.Description
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, desc)
	}
	b.WriteString("Call them when they help answer the user's request.")
	return b.String()
}

// defaultCatalog is the curated default prompt tree, in catalog order.
var defaultCatalog = []Prompt{
	{
		Name:    "Concise responses",
		Content: "Keep responses short and to the point. Prefer plain language over filler.",
	},
	{
		Name:    "Code-focused assistant",
		Content: "You are a programming assistant. When showing code, include only the relevant excerpt and state the language.",
	},
	{
		Name:    "Privacy aware",
		Content: "Do not ask the user for personal data. Treat everything in the conversation as confidential.",
	},
	{
		Name:    "Step-by-step reasoning",
		Content: "Work through problems step by step before giving a final answer.",
	},
}
