package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/models"
	"github.com/hackare/hackare/internal/infrastructure/eventbus"
	"github.com/hackare/hackare/internal/infrastructure/share"
	"github.com/hackare/hackare/internal/infrastructure/storage"
)

func newTestManager(t *testing.T) (*Manager, *eventbus.InMemoryBus) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 64)
	t.Cleanup(bus.Close)
	mgr, err := NewManager(bus, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr, bus
}

func TestDefaults(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := mgr.Get()

	if cfg.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", cfg.Provider)
	}
	if cfg.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if !cfg.StreamMode {
		t.Error("StreamMode = false, want true by default")
	}
	if cfg.YoloMode {
		t.Error("YoloMode = true, want false by default")
	}
	if cfg.OfflineMode {
		t.Error("OfflineMode = true, want false by default")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("HACKARE_MODEL", "llama-3.3-70b-versatile")
	t.Setenv("HACKARE_API_KEY", "sk-env")
	mgr, _ := newTestManager(t)

	cfg := mgr.Get()
	if cfg.Model != "llama-3.3-70b-versatile" {
		t.Errorf("Model = %q, want env value", cfg.Model)
	}
	if cfg.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want env value", cfg.APIKey)
	}
}

func TestStoreLayerSitsBelowEnvironment(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 64)
	t.Cleanup(bus.Close)

	db, err := storage.Open(filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	store := storage.New(db, bus, zap.NewNop())
	if err := store.Set(storeKeyConfig, Config{
		Provider: "groq",
		Model:    "persisted-model",
	}); err != nil {
		t.Fatalf("store.Set() error = %v", err)
	}

	t.Setenv("HOME", dir)
	t.Setenv("HACKARE_MODEL", "env-model")
	mgr, err := NewManager(bus, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	mgr.ApplyStore(store)

	cfg := mgr.Get()
	// The environment outranks the store for keys it sets.
	if cfg.Model != "env-model" {
		t.Errorf("Model = %q, want env-model", cfg.Model)
	}
	// Keys the environment leaves alone still come from the store.
	if cfg.Provider != "groq" {
		t.Errorf("Provider = %q, want groq from the store", cfg.Provider)
	}
	if cfg.Namespace != store.Namespace() {
		t.Errorf("Namespace = %q, want %q", cfg.Namespace, store.Namespace())
	}
}

func TestUpdatePublishesPerFieldEvents(t *testing.T) {
	mgr, bus := newTestManager(t)

	events := make(chan eventbus.ConfigChangedPayload, 8)
	bus.Subscribe(eventbus.EventConfigChanged, func(ctx context.Context, e eventbus.Event) {
		if p, ok := e.Payload().(eventbus.ConfigChangedPayload); ok {
			events <- p
		}
	})

	mgr.Update(func(c *Config) {
		c.Model = "gpt-4o"
		c.Temperature = 0.2
	})

	got := map[string]eventbus.ConfigChangedPayload{}
	for len(got) < 2 {
		select {
		case p := <-events:
			got[p.Field] = p
		case <-time.After(time.Second):
			t.Fatalf("received %d change events, want 2", len(got))
		}
	}
	if p := got["model"]; p.Old != "gpt-4o-mini" || p.New != "gpt-4o" {
		t.Errorf("model change = %+v", p)
	}
	if _, ok := got["temperature"]; !ok {
		t.Error("no temperature change event")
	}

	// No-op updates publish nothing.
	mgr.Update(func(c *Config) { c.Model = "gpt-4o" })
	select {
	case p := <-events:
		t.Errorf("unexpected event for unchanged config: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyShareOverlaysTransport(t *testing.T) {
	mgr, _ := newTestManager(t)
	registry, err := models.Load()
	if err != nil {
		t.Fatalf("models.Load() error = %v", err)
	}

	warnings := mgr.ApplyShare(&share.Payload{
		BaseURLProvider: "groq",
		APIKey:          "sk-shared",
		Model:           "llama-3.3-70b-versatile",
		SystemPrompt:    "be brief",
	}, registry)
	if len(warnings) != 0 {
		t.Errorf("warnings = %+v, want none", warnings)
	}

	cfg := mgr.Get()
	if cfg.Provider != "groq" {
		t.Errorf("Provider = %q, want groq", cfg.Provider)
	}
	if cfg.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("BaseURL = %q, want groq catalog URL", cfg.BaseURL)
	}
	if cfg.APIKey != "sk-shared" || cfg.Model != "llama-3.3-70b-versatile" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SystemPrompt != "be brief" {
		t.Errorf("SystemPrompt = %q", cfg.SystemPrompt)
	}
}

func TestApplyShareUnknownModelWarns(t *testing.T) {
	mgr, _ := newTestManager(t)
	registry, err := models.Load()
	if err != nil {
		t.Fatalf("models.Load() error = %v", err)
	}

	warnings := mgr.ApplyShare(&share.Payload{Model: "mystery-9000"}, registry)
	if len(warnings) != 1 || warnings[0].Reason != "unknown-model" {
		t.Fatalf("warnings = %+v, want one unknown-model warning", warnings)
	}
	// The model is kept; the warning is advisory.
	if got := mgr.Get().Model; got != "mystery-9000" {
		t.Errorf("Model = %q, want mystery-9000", got)
	}
}

func TestApplyShareForcedLocalUnderOffline(t *testing.T) {
	mgr, _ := newTestManager(t)
	registry, err := models.Load()
	if err != nil {
		t.Fatalf("models.Load() error = %v", err)
	}
	mgr.PinOffline(registry)

	warnings := mgr.ApplyShare(&share.Payload{
		BaseURL: "https://api.openai.com/v1",
		APIKey:  "sk-remote",
		Model:   "gpt-4o-mini",
	}, registry)

	var forced bool
	for _, w := range warnings {
		if w.Reason == "forced-local" {
			forced = true
		}
	}
	if !forced {
		t.Fatalf("warnings = %+v, want forced-local", warnings)
	}

	cfg := mgr.Get()
	if cfg.BaseURL != DefaultLocalBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultLocalBaseURL)
	}
	if !cfg.ForcedLocal {
		t.Error("ForcedLocal = false, want true")
	}
	// The remote key never lands in a localhost config.
	if cfg.APIKey == "sk-remote" {
		t.Error("remote API key applied despite forced-local transport")
	}
}

func TestPinOfflineWinsOverLaterLayers(t *testing.T) {
	mgr, _ := newTestManager(t)
	registry, err := models.Load()
	if err != nil {
		t.Fatalf("models.Load() error = %v", err)
	}

	mgr.PinOffline(registry)
	cfg := mgr.Get()
	if !cfg.OfflineMode {
		t.Fatal("OfflineMode = false after PinOffline")
	}
	if cfg.BaseURL != DefaultLocalBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultLocalBaseURL)
	}
	if cfg.APIKey != "" {
		t.Errorf("APIKey = %q, want blanked for non-local provider", cfg.APIKey)
	}

	// A later layer cannot clear the pin.
	mgr.Update(func(c *Config) { c.OfflineMode = false })
	if !mgr.Get().OfflineMode {
		t.Error("pinned offline mode was cleared by a later update")
	}
}

func TestPinOfflineKeepsLoopbackBaseURL(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Update(func(c *Config) {
		c.Provider = "lmstudio"
		c.BaseURL = "http://localhost:1234/v1"
		c.APIKey = "local-key"
	})

	registry, err := models.Load()
	if err != nil {
		t.Fatalf("models.Load() error = %v", err)
	}
	mgr.PinOffline(registry)

	cfg := mgr.Get()
	if cfg.BaseURL != "http://localhost:1234/v1" {
		t.Errorf("BaseURL = %q, loopback URL should survive the pin", cfg.BaseURL)
	}
	if cfg.APIKey != "local-key" {
		t.Errorf("APIKey = %q, want kept for a loopback endpoint", cfg.APIKey)
	}
}
