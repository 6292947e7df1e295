package adwoodcrm

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPreferencesDefaults(t *testing.T) {
	h := newHarness(t)
	tb := h.openTab(testConfig())

	prefs := tb.engine.Preferences(context.Background())
	if !prefs.SidebarOpen || prefs.DarkMode {
		t.Fatalf("defaults = %+v", prefs)
	}
}

func TestPreferencesKeepOtherPersistedState(t *testing.T) {
	h := newHarness(t)
	tb := h.openTab(testConfig())
	ctx := context.Background()

	seeded := `{"state":{"contacts":[{"id":"c1"}],"sidebarOpen":true},"version":3}`
	if err := tb.storage.Set(ctx, defaultPreferencesKey, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := tb.engine.SavePreferences(ctx, Preferences{SidebarOpen: false, DarkMode: true}); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	raw, _, _ := tb.storage.Get(ctx, defaultPreferencesKey)
	var blob struct {
		State   map[string]json.RawMessage `json:"state"`
		Version int                        `json:"version"`
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		t.Fatalf("stored blob: %v", err)
	}
	if blob.Version != 3 || string(blob.State["contacts"]) != `[{"id":"c1"}]` {
		t.Fatalf("other state lost: %s", raw)
	}

	other := h.openTab(testConfig())
	prefs := other.engine.Preferences(ctx)
	if prefs.SidebarOpen || !prefs.DarkMode {
		t.Fatalf("read back = %+v", prefs)
	}
}

func TestPreferencesCorruptBlob(t *testing.T) {
	h := newHarness(t)
	tb := h.openTab(testConfig())
	ctx := context.Background()
	_ = tb.storage.Set(ctx, defaultPreferencesKey, "{not json")

	if prefs := tb.engine.Preferences(ctx); !prefs.SidebarOpen || prefs.DarkMode {
		t.Fatalf("corrupt blob = %+v", prefs)
	}
	if err := tb.engine.SavePreferences(ctx, Preferences{DarkMode: true}); err != nil {
		t.Fatalf("SavePreferences over corrupt blob: %v", err)
	}
	if prefs := tb.engine.Preferences(ctx); prefs.SidebarOpen || !prefs.DarkMode {
		t.Fatalf("after save = %+v", prefs)
	}
}
