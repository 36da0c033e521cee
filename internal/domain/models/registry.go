// Package models holds the static catalog of known providers and their
// models. The context-window table here is authoritative for token-budget
// accounting; unknown models fall back to DefaultContextWindow.
package models

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// DefaultContextWindow is assumed for models absent from the catalog.
const DefaultContextWindow = 4096

// Model is a single catalog entry.
type Model struct {
	ID              string   `yaml:"id"`
	Provider        string   `yaml:"-"`
	DisplayName     string   `yaml:"display_name"`
	ContextWindow   int      `yaml:"context_window"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	Capabilities    []string `yaml:"capabilities"`
	IsDefault       bool     `yaml:"default"`
}

// HasCapability reports whether the model declares the capability.
func (m Model) HasCapability(name string) bool {
	for _, c := range m.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Provider groups the catalog entries of one endpoint vendor.
type Provider struct {
	ID          string  `yaml:"id"`
	DisplayName string  `yaml:"display_name"`
	BaseURL     string  `yaml:"base_url"`
	Local       bool    `yaml:"local"`
	Models      []Model `yaml:"models"`
}

type catalog struct {
	Providers []Provider `yaml:"providers"`
}

// Registry is the loaded catalog with index structures.
type Registry struct {
	providers []Provider
	byID      map[string]Model
}

var (
	loadOnce sync.Once
	loaded   *Registry
	loadErr  error
)

// Load parses the embedded catalog once and returns the shared registry.
func Load() (*Registry, error) {
	loadOnce.Do(func() {
		var cat catalog
		if err := yaml.Unmarshal(catalogYAML, &cat); err != nil {
			loadErr = fmt.Errorf("parse model catalog: %w", err)
			return
		}
		r := &Registry{byID: make(map[string]Model)}
		for _, p := range cat.Providers {
			for i := range p.Models {
				p.Models[i].Provider = p.ID
				r.byID[p.Models[i].ID] = p.Models[i]
			}
			r.providers = append(r.providers, p)
		}
		loaded = r
	})
	return loaded, loadErr
}

// Lookup finds a model by id. ok is false for models outside the catalog.
func (r *Registry) Lookup(id string) (Model, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// ContextWindow returns the context window for a model id, falling back
// to DefaultContextWindow for unknown models.
func (r *Registry) ContextWindow(id string) int {
	if m, ok := r.byID[id]; ok && m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return DefaultContextWindow
}

// Providers lists all catalog providers in declaration order.
func (r *Registry) Providers() []Provider {
	return r.providers
}

// Provider finds a provider by id, case-insensitive.
func (r *Registry) Provider(id string) (Provider, bool) {
	for _, p := range r.providers {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Provider{}, false
}

// ModelsFor lists the models of one provider.
func (r *Registry) ModelsFor(providerID string) []Model {
	p, ok := r.Provider(providerID)
	if !ok {
		return nil
	}
	return p.Models
}

// DefaultFor returns the default model of a provider, or the first model
// when none is flagged, or false for providers without catalog models.
func (r *Registry) DefaultFor(providerID string) (Model, bool) {
	p, ok := r.Provider(providerID)
	if !ok || len(p.Models) == 0 {
		return Model{}, false
	}
	for _, m := range p.Models {
		if m.IsDefault {
			return m, true
		}
	}
	return p.Models[0], true
}

// BaseURLFor returns the canonical base URL of a provider.
func (r *Registry) BaseURLFor(providerID string) string {
	p, ok := r.Provider(providerID)
	if !ok {
		return ""
	}
	return p.BaseURL
}

// IsLocalProvider reports whether the provider serves from the local
// machine by default.
func (r *Registry) IsLocalProvider(providerID string) bool {
	p, ok := r.Provider(providerID)
	return ok && p.Local
}
