// Package tabsync carries logout between tabs of the same browser profile.
//
// The protocol has one message: the token key was removed. A tab receiving it
// clears its own session state directly. It never calls logout, because the
// tab that removed the key already signed out remotely.
package tabsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Alijah8/adwood-crm/storage"
)

// MessageType identifies a cross-tab message.
type MessageType string

// TokenKeyRemoved is sent when another tab removed the token key.
const TokenKeyRemoved MessageType = "token-key-removed"

// Message is a cross-tab notification.
type Message struct {
	Type MessageType
	Key  string
}

// Channel delivers messages published by other tabs.
type Channel interface {
	// Subscribe returns a stream of messages that closes when ctx is done.
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// StorageChannel derives messages from device storage changes. A removed key
// or a key set to the empty string both count as removal.
type StorageChannel struct {
	Watcher storage.Watcher
	Key     string
}

// Subscribe implements [Channel].
func (c StorageChannel) Subscribe(ctx context.Context) (<-chan Message, error) {
	if c.Watcher == nil {
		return nil, errors.New("tabsync: nil watcher")
	}
	changes, err := c.Watcher.Watch(ctx, c.Key)
	if err != nil {
		return nil, err
	}

	out := make(chan Message, 1)
	go func() {
		defer close(out)
		for change := range changes {
			if !change.Removed && change.Value != "" {
				continue
			}
			select {
			case out <- Message{Type: TokenKeyRemoved, Key: change.Key}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Listener invokes a callback when the watched token key is removed by
// another tab.
type Listener struct {
	channel   Channel
	key       string
	onRemoved func()
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener returns a stopped listener.
func NewListener(channel Channel, key string, onRemoved func(), logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		channel:   channel,
		key:       key,
		onRemoved: onRemoved,
		logger:    logger,
	}
}

// Start subscribes and begins dispatching. Starting a running listener is a
// no-op.
func (l *Listener) Start(ctx context.Context) error {
	if l == nil || l.channel == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	msgs, err := l.channel.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		for msg := range msgs {
			if msg.Type != TokenKeyRemoved || msg.Key != l.key {
				continue
			}
			l.logger.Info("tabsync: token key removed by another tab", "key", msg.Key)
			if l.onRemoved != nil {
				l.onRemoved()
			}
		}
	}()
	return nil
}

// Stop cancels the subscription and waits for the dispatch goroutine.
func (l *Listener) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the listener is subscribed.
func (l *Listener) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}
