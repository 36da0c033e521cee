// Package config holds the effective client configuration and the single
// update path through which it changes. Merge order, lowest to highest:
// built-in defaults → persisted store → HACKARE_* environment → share-link
// payload → CLI flags. Offline mode set on the command line wins
// unconditionally.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/models"
	"github.com/hackare/hackare/internal/infrastructure/egress"
	"github.com/hackare/hackare/internal/infrastructure/eventbus"
	"github.com/hackare/hackare/internal/infrastructure/share"
	"github.com/hackare/hackare/internal/infrastructure/storage"
)

const (
	envPrefix = "HACKARE"

	// DefaultLocalBaseURL is forced when offline mode localhosts the
	// transport.
	DefaultLocalBaseURL = "http://localhost:11434/v1"

	storeKeyConfig = "config"
)

// Config is the effective configuration snapshot. Copies are handed out;
// mutation happens only through Manager.Update.
type Config struct {
	Provider     string  `json:"provider" mapstructure:"provider"`
	BaseURL      string  `json:"baseUrl" mapstructure:"base_url"`
	APIKey       string  `json:"apiKey" mapstructure:"api_key"`
	Model        string  `json:"model" mapstructure:"model"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"maxTokens" mapstructure:"max_tokens"`
	StreamMode   bool    `json:"streamMode" mapstructure:"stream_mode"`
	YoloMode     bool    `json:"yoloMode" mapstructure:"yolo_mode"`
	SystemPrompt string  `json:"systemPrompt" mapstructure:"system_prompt"`
	Theme        string  `json:"theme" mapstructure:"theme"`
	Namespace    string  `json:"namespace" mapstructure:"-"`

	OfflineMode           bool `json:"offlineMode" mapstructure:"offline"`
	AllowRemoteMCP        bool `json:"allowRemoteMcp" mapstructure:"allow_remote_mcp"`
	AllowRemoteEmbeddings bool `json:"allowRemoteEmbeddings" mapstructure:"allow_remote_embeddings"`

	Port           int    `json:"port" mapstructure:"port"`
	WelcomeMessage string `json:"welcomeMessage" mapstructure:"-"`

	// ForcedLocal marks that a share payload's transport fields were
	// overridden to localhost defaults by the egress policy.
	ForcedLocal bool `json:"-" mapstructure:"-"`
}

// Egress derives the active egress policy from the config.
func (c Config) Egress() egress.Policy {
	return egress.Policy{
		OfflineMode:           c.OfflineMode,
		AllowRemoteMCP:        c.AllowRemoteMCP,
		AllowRemoteEmbeddings: c.AllowRemoteEmbeddings,
	}
}

// Manager owns the live configuration. Update serializes mutations
// through a mutex; change events are published outside the lock so
// subscribers may call back into the manager.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	bus    eventbus.Bus
	logger *zap.Logger

	// offlinePinned records that --offline was given on the command
	// line; later layers may not clear it.
	offlinePinned bool

	// envSet marks config keys supplied through HACKARE_* variables.
	// The store layer sits below the environment in the merge order, so
	// ApplyStore must leave these fields alone.
	envSet map[string]bool
}

// NewManager builds a manager seeded with built-in defaults, the optional
// ~/.hackare/config.yaml file, and HACKARE_* environment variables.
func NewManager(bus eventbus.Bus, logger *zap.Logger) (*Manager, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".hackare"))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	bindEnvAliases(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &Manager{cfg: cfg, bus: bus, logger: logger, envSet: envOverrides()}, nil
}

// envOverrides records which documented variables are present, set or
// empty, at startup.
func envOverrides() map[string]bool {
	vars := map[string]string{
		"provider":      "HACKARE_PROVIDER",
		"base_url":      "HACKARE_BASE_URL",
		"api_key":       "HACKARE_API_KEY",
		"model":         "HACKARE_MODEL",
		"system_prompt": "HACKARE_SYSTEM_PROMPT",
		"offline":       "HACKARE_OFFLINE",
		"port":          "HACKARE_PORT",
	}
	set := make(map[string]bool, len(vars))
	for key, name := range vars {
		if _, ok := os.LookupEnv(name); ok {
			set[key] = true
		}
	}
	return set
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "openai")
	v.SetDefault("base_url", "https://api.openai.com/v1")
	v.SetDefault("model", "gpt-4o-mini")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 0)
	v.SetDefault("stream_mode", true)
	v.SetDefault("yolo_mode", false)
	v.SetDefault("port", 8080)
}

// bindEnvAliases maps the documented flat environment names onto the
// config keys (AutomaticEnv alone would expect HACKARE_BASE_URL to match
// the mapstructure key exactly, which it does, but explicit binding keeps
// the contract visible).
func bindEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("api_key", "HACKARE_API_KEY")
	_ = v.BindEnv("base_url", "HACKARE_BASE_URL")
	_ = v.BindEnv("model", "HACKARE_MODEL")
	_ = v.BindEnv("provider", "HACKARE_PROVIDER")
	_ = v.BindEnv("system_prompt", "HACKARE_SYSTEM_PROMPT")
	_ = v.BindEnv("offline", "HACKARE_OFFLINE")
	_ = v.BindEnv("port", "HACKARE_PORT")
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Update applies mutator to the config under the lock and publishes one
// config_changed event per changed field after releasing it.
func (m *Manager) Update(mutator func(*Config)) {
	m.mu.Lock()
	before := m.cfg
	mutator(&m.cfg)
	if m.offlinePinned {
		m.cfg.OfflineMode = true
	}
	after := m.cfg
	m.mu.Unlock()

	for _, change := range diff(before, after) {
		m.bus.Publish(context.Background(), eventbus.NewEvent(
			eventbus.EventConfigChanged, change,
		))
	}
}

func diff(before, after Config) []eventbus.ConfigChangedPayload {
	var changes []eventbus.ConfigChangedPayload
	add := func(field string, old, new any) {
		if old != new {
			changes = append(changes, eventbus.ConfigChangedPayload{Field: field, Old: old, New: new})
		}
	}
	add("provider", before.Provider, after.Provider)
	add("baseUrl", before.BaseURL, after.BaseURL)
	add("apiKey", before.APIKey, after.APIKey)
	add("model", before.Model, after.Model)
	add("temperature", before.Temperature, after.Temperature)
	add("maxTokens", before.MaxTokens, after.MaxTokens)
	add("streamMode", before.StreamMode, after.StreamMode)
	add("yoloMode", before.YoloMode, after.YoloMode)
	add("systemPrompt", before.SystemPrompt, after.SystemPrompt)
	add("theme", before.Theme, after.Theme)
	add("namespace", before.Namespace, after.Namespace)
	add("offlineMode", before.OfflineMode, after.OfflineMode)
	add("allowRemoteMcp", before.AllowRemoteMCP, after.AllowRemoteMCP)
	add("allowRemoteEmbeddings", before.AllowRemoteEmbeddings, after.AllowRemoteEmbeddings)
	add("port", before.Port, after.Port)
	return changes
}

// ApplyStore overlays persisted values from the namespaced store. The
// store ranks below the environment, so fields already supplied through
// HACKARE_* variables keep their environment values.
func (m *Manager) ApplyStore(store *storage.Store) {
	var persisted Config
	if !store.Get(storeKeyConfig, &persisted) {
		m.Update(func(c *Config) { c.Namespace = store.Namespace() })
		return
	}
	m.Update(func(c *Config) {
		if persisted.Provider != "" && !m.envSet["provider"] {
			c.Provider = persisted.Provider
		}
		if persisted.BaseURL != "" && !m.envSet["base_url"] {
			c.BaseURL = persisted.BaseURL
		}
		if persisted.APIKey != "" && !m.envSet["api_key"] {
			c.APIKey = persisted.APIKey
		}
		if persisted.Model != "" && !m.envSet["model"] {
			c.Model = persisted.Model
		}
		if persisted.SystemPrompt != "" && !m.envSet["system_prompt"] {
			c.SystemPrompt = persisted.SystemPrompt
		}
		if persisted.Theme != "" {
			c.Theme = persisted.Theme
		}
		c.Namespace = store.Namespace()
	})
}

// Persist writes the durable subset of the config back to the store.
func (m *Manager) Persist(store *storage.Store) error {
	cfg := m.Get()
	return store.Set(storeKeyConfig, Config{
		Provider:     cfg.Provider,
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Theme:        cfg.Theme,
	})
}

// ApplyShare overlays a decrypted share payload. Transport fields the
// egress policy forbids are overridden to localhost defaults and the
// result is marked forced-local. Returns warnings for the caller to
// surface; extraction itself has already succeeded.
func (m *Manager) ApplyShare(payload *share.Payload, registry *models.Registry) []share.Warning {
	var warnings []share.Warning

	baseURL := payload.BaseURL
	if baseURL == "" && payload.BaseURLProvider != "" && registry != nil {
		baseURL = registry.BaseURLFor(payload.BaseURLProvider)
	}

	if payload.Model != "" && registry != nil {
		if _, known := registry.Lookup(payload.Model); !known {
			warnings = append(warnings, share.Warning{
				Reason: "unknown-model",
				Detail: fmt.Sprintf("model %q is not in the local catalog; keeping it as-is", payload.Model),
			})
		}
	}

	forcedLocal := false
	if baseURL != "" {
		if err := m.Get().Egress().Permit(baseURL); err != nil {
			forcedLocal = true
			warnings = append(warnings, share.Warning{
				Reason: "forced-local",
				Detail: fmt.Sprintf("payload transport %q denied by egress policy; using %s", baseURL, DefaultLocalBaseURL),
			})
		}
	}

	m.Update(func(c *Config) {
		if payload.BaseURLProvider != "" {
			c.Provider = payload.BaseURLProvider
		}
		if baseURL != "" {
			if forcedLocal {
				c.BaseURL = DefaultLocalBaseURL
				c.ForcedLocal = true
			} else {
				c.BaseURL = baseURL
			}
		}
		if payload.APIKey != "" && !forcedLocal {
			c.APIKey = payload.APIKey
		}
		if payload.Model != "" {
			c.Model = payload.Model
		}
		if payload.SystemPrompt != "" {
			c.SystemPrompt = payload.SystemPrompt
		}
		if payload.Theme != "" {
			c.Theme = payload.Theme
		}
		if payload.WelcomeMessage != "" {
			c.WelcomeMessage = payload.WelcomeMessage
		}
	})

	for _, w := range warnings {
		m.bus.Publish(context.Background(), eventbus.NewEvent(
			eventbus.EventShareWarning,
			eventbus.ShareWarningPayload{Reason: w.Reason, Detail: w.Detail},
		))
	}
	return warnings
}

// PinOffline enables offline mode from the command line: it wins over
// every other layer, forces the base URL to a localhost default, and
// blanks an API key pointing at a non-local provider.
func (m *Manager) PinOffline(registry *models.Registry) {
	m.mu.Lock()
	m.offlinePinned = true
	m.mu.Unlock()

	m.Update(func(c *Config) {
		c.OfflineMode = true
		if !egress.IsLoopback(c.BaseURL) {
			c.BaseURL = DefaultLocalBaseURL
			if registry == nil || !registry.IsLocalProvider(c.Provider) {
				c.APIKey = ""
			}
		}
	})
	m.logger.Info("Offline mode pinned", zap.String("base_url", m.Get().BaseURL))
}
