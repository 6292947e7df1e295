package adwoodcrm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	internalaudit "github.com/Alijah8/adwood-crm/internal/audit"
	"github.com/Alijah8/adwood-crm/internal/inactivity"
	"github.com/Alijah8/adwood-crm/internal/limiters"
	internalmetrics "github.com/Alijah8/adwood-crm/internal/metrics"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/session"
	"github.com/Alijah8/adwood-crm/storage"
	"github.com/Alijah8/adwood-crm/tabsync"
)

// Builder assembles an [Engine]. Configure it once, call Build once.
type Builder struct {
	config Config

	identity IdentityProvider
	profiles ProfileStore
	reloader DataReloader
	storage  storage.Storage
	channel  tabsync.Channel
	routes   *permission.RouteTable
	clock    clockwork.Clock
	logger   *slog.Logger

	auditSink AuditSink

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentityProvider sets the hosted identity provider client.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identity = p
	return b
}

// WithProfileStore sets where staff profiles are read and written.
func (b *Builder) WithProfileStore(p ProfileStore) *Builder {
	b.profiles = p
	return b
}

// WithDataReloader sets the bulk CRM reload run after every sign-in.
func (b *Builder) WithDataReloader(r DataReloader) *Builder {
	b.reloader = r
	return b
}

// WithStorage sets the device storage. If s can also be watched it doubles
// as the cross-tab channel unless WithTabChannel is used.
func (b *Builder) WithStorage(s storage.Storage) *Builder {
	b.storage = s
	return b
}

// WithTabChannel sets the cross-tab channel explicitly.
func (b *Builder) WithTabChannel(ch tabsync.Channel) *Builder {
	b.channel = ch
	return b
}

// WithRouteTable replaces the default role/route table.
func (b *Builder) WithRouteTable(t *permission.RouteTable) *Builder {
	b.routes = t
	return b
}

// WithClock sets the clock used by timers and lockout arithmetic.
func (b *Builder) WithClock(c clockwork.Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger sets the structured logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the provider latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready engine. The engine
// starts in the loading state; call [Engine.Initialize] next.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identity == nil {
		return nil, errors.New("identity provider required")
	}
	if b.profiles == nil {
		return nil, errors.New("profile store required")
	}
	if b.storage == nil {
		return nil, errors.New("device storage required")
	}

	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	routes := b.routes
	if routes == nil {
		routes = permission.DefaultRouteTable()
	}

	channel := b.channel
	if channel == nil {
		if w, ok := b.storage.(storage.Watcher); ok {
			channel = tabsync.StorageChannel{Watcher: w, Key: cfg.Storage.TokenKey}
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   cfg,
		logger:   logger,
		clock:    clock,
		identity: b.identity,
		profiles: b.profiles,
		reloader: b.reloader,
		storage:  b.storage,
		routes:   routes,
		store:    session.NewStore(),
		lockout: limiters.NewLockout(b.storage, limiters.LockoutConfig{
			MaxAttempts: cfg.Lockout.MaxAttempts,
			Base:        cfg.Lockout.Base,
			Cap:         cfg.Lockout.Cap,
			Key:         cfg.Storage.LockoutKey,
		}, clock),
		resets: limiters.NewResetThrottle(limiters.ResetConfig{
			Enabled: cfg.Reset.Enabled,
			Every:   cfg.Reset.Every,
			Burst:   cfg.Reset.Burst,
		}),
		metrics: internalmetrics.New(internalmetrics.Config{
			Enabled:                 cfg.Metrics.Enabled,
			EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
		}),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
		notices:  make(map[uint64]func(Notice)),
	}

	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = internalaudit.NewSlogSink(logger)
		}
		e.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink)
	}

	if cfg.Inactivity.Timeout > 0 {
		e.monitor = inactivity.New(inactivity.Config{
			Timeout: cfg.Inactivity.Timeout,
			Warning: cfg.Inactivity.Warning,
		}, clock, e.onInactivityWarning, e.onInactivityExpired)
	}
	if channel != nil {
		e.listener = tabsync.NewListener(channel, cfg.Storage.TokenKey, e.onTokenRemovedElsewhere, logger)
	}

	e.unsubscribeStore = e.store.Subscribe(e.onStateChange)
	e.unsubscribeProvider = e.identity.OnAuthStateChange(e.handleAuthChange)

	b.built = true
	return e, nil
}
