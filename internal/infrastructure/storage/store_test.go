package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/infrastructure/eventbus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 64)
	t.Cleanup(bus.Close)
	return New(db, bus, zap.NewNop())
}

func TestSetGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	type model struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	in := model{Name: "x", N: 3}
	if err := store.Set("settings", in); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var out model
	if !store.Get("settings", &out) {
		t.Fatal("Get() = false after Set")
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	if store.Get("missing", &out) {
		t.Error("Get() of absent key = true")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set("greeting", "hello"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	defaultNS := store.Namespace()

	if err := store.SetWorkspace("Team", "dev"); err != nil {
		t.Fatalf("SetWorkspace() error = %v", err)
	}
	if store.Namespace() == defaultNS {
		t.Fatal("workspace switch did not change the namespace")
	}
	if store.Title() != "Team" || store.Subtitle() != "dev" {
		t.Errorf("workspace = %q/%q", store.Title(), store.Subtitle())
	}

	var got string
	if store.Get("greeting", &got) {
		t.Error("value from another namespace is visible")
	}

	if err := store.Set("greeting", "hej"); err != nil {
		t.Fatalf("Set() in new namespace error = %v", err)
	}

	// Switching back restores the original partition untouched.
	if err := store.SetWorkspace("", ""); err != nil {
		t.Fatalf("SetWorkspace() back error = %v", err)
	}
	if store.Namespace() != defaultNS {
		t.Errorf("namespace = %q, want %q", store.Namespace(), defaultNS)
	}
	if !store.Get("greeting", &got) || got != "hello" {
		t.Errorf("original value = %q, want hello", got)
	}
}

func TestWorkspaceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 64)
	defer bus.Close()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first := New(db, bus, zap.NewNop())
	if err := first.SetWorkspace("Team", "dev"); err != nil {
		t.Fatalf("SetWorkspace() error = %v", err)
	}
	wantNS := first.Namespace()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	second := New(db2, bus, zap.NewNop())
	if second.Namespace() != wantNS {
		t.Errorf("namespace after reopen = %q, want %q", second.Namespace(), wantNS)
	}
}

func TestKeysListsActiveNamespaceOnly(t *testing.T) {
	store := newTestStore(t)
	for _, k := range []string{"alpha", "beta"} {
		if err := store.Set(k, k); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}
	if err := store.SetWorkspace("other", ""); err != nil {
		t.Fatalf("SetWorkspace() error = %v", err)
	}
	if err := store.Set("gamma", "g"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "gamma" {
		t.Errorf("Keys() = %v, want [gamma]", keys)
	}

	if err := store.SetWorkspace("", ""); err != nil {
		t.Fatalf("SetWorkspace() back error = %v", err)
	}
	keys, err = store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "beta" {
		t.Errorf("Keys() = %v, want [alpha beta]", keys)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set("k", 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Remove("k"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	var out int
	if store.Get("k", &out) {
		t.Error("Get() after Remove = true")
	}
}

func TestMasterKeyGuardsValues(t *testing.T) {
	store := newTestStore(t)

	store.SetMasterKey([]byte("0123456789abcdef0123456789abcdef"))
	if store.UsingFallbackKey() {
		t.Error("UsingFallbackKey() = true after SetMasterKey")
	}
	if err := store.Set("secret", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var out string
	if !store.Get("secret", &out) || out != "v" {
		t.Errorf("Get() under master key = %q", out)
	}

	// A different session key cannot open the value.
	store.SetMasterKey([]byte("ffffffffffffffffffffffffffffffff"))
	if store.Get("secret", &out) {
		t.Error("Get() with wrong master key = true")
	}
}

func TestFallbackAccessPublishesEvent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 64)
	defer bus.Close()

	events := make(chan eventbus.FallbackNamespacePayload, 8)
	bus.Subscribe(eventbus.EventFallbackNamespace, func(ctx context.Context, e eventbus.Event) {
		if p, ok := e.Payload().(eventbus.FallbackNamespacePayload); ok {
			events <- p
		}
	})

	store := New(db, bus, zap.NewNop())
	if !store.UsingFallbackKey() {
		t.Fatal("fresh store should start on the fallback key")
	}
	if err := store.Set("k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	select {
	case p := <-events:
		if !p.Write || p.Key != "k" || p.Namespace != store.Namespace() {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no fallback-namespace event within 1s")
	}
}
