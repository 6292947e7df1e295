package adwoodcrm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Alijah8/adwood-crm/storage"
)

// The preference blob is shared with the CRM data store, which persists its
// whole state as {"state": {...}, "version": n}. Only the two UI keys are
// read or written here; every other key is carried through untouched.
type persistedBlob struct {
	State   map[string]json.RawMessage `json:"state"`
	Version int                        `json:"version"`
}

func defaultPreferences() Preferences {
	return Preferences{SidebarOpen: true}
}

// Preferences reads the UI preferences. It needs no session, so login and MFA
// screens can use it. A missing or unreadable blob yields the defaults.
func (e *Engine) Preferences(ctx context.Context) Preferences {
	prefs := defaultPreferences()
	if e == nil || e.storage == nil {
		return prefs
	}
	blob, ok := e.loadPreferences(ctx)
	if !ok {
		return prefs
	}
	if raw, ok := blob.State["sidebarOpen"]; ok {
		_ = json.Unmarshal(raw, &prefs.SidebarOpen)
	}
	if raw, ok := blob.State["darkMode"]; ok {
		_ = json.Unmarshal(raw, &prefs.DarkMode)
	}
	return prefs
}

// SavePreferences writes the UI preferences, keeping any other persisted state.
func (e *Engine) SavePreferences(ctx context.Context, prefs Preferences) error {
	if e == nil || e.storage == nil {
		return ErrEngineNotReady
	}
	blob, ok := e.loadPreferences(ctx)
	if !ok {
		blob = persistedBlob{}
	}
	if blob.State == nil {
		blob.State = make(map[string]json.RawMessage, 2)
	}
	blob.State["sidebarOpen"] = json.RawMessage(fmt.Sprintf("%t", prefs.SidebarOpen))
	blob.State["darkMode"] = json.RawMessage(fmt.Sprintf("%t", prefs.DarkMode))

	raw, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	if err := e.storage.Set(ctx, e.config.Storage.PreferencesKey, string(raw)); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (e *Engine) loadPreferences(ctx context.Context) (persistedBlob, bool) {
	raw, ok, err := e.storage.Get(ctx, e.config.Storage.PreferencesKey)
	if err != nil {
		e.warn("preferences.read", err)
		return persistedBlob{}, false
	}
	if !ok {
		return persistedBlob{}, false
	}
	var blob persistedBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		e.warn("preferences.decode", err)
		return persistedBlob{}, false
	}
	return blob, true
}
