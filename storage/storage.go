// Package storage models the device-local key/value storage shared by every
// tab of one browser profile: the lockout record, the UI preference blob and
// the identity provider's token blob all live here.
//
// Two backends are provided. [Memory] keeps everything in process and hands
// out per-tab views with [Memory.Tab]. [Redis] keeps values in Redis and
// publishes changes over pub/sub so tabs in other processes see them.
//
// A tab never receives its own writes from [Watcher.Watch], matching how
// browsers deliver storage events only to other documents.
package storage

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the storage backend could not be reached.
var ErrUnavailable = errors.New("storage unavailable")

// Storage is a string key/value store.
type Storage interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Change describes a write made by another tab.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Origin  string `json:"origin"`
}

// Watcher streams changes made by other tabs.
type Watcher interface {
	// Watch returns a channel of changes to key made by other tabs. An empty
	// key watches every key. The channel is closed when ctx is done.
	Watch(ctx context.Context, key string) (<-chan Change, error)
}

// Shared is storage that other tabs can observe.
type Shared interface {
	Storage
	Watcher
}
