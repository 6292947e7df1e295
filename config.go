package adwoodcrm

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/Alijah8/adwood-crm/internal/inactivity"
)

// Config groups every tunable of the [Engine] by concern.
type Config struct {
	App        AppConfig
	Storage    StorageConfig
	Lockout    LockoutConfig
	Inactivity InactivityConfig
	MFA        MFAConfig
	Reset      ResetConfig
	Refresh    RefreshConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
APP CONFIG
====================================
*/

// AppConfig names the routes the guard redirects to and the public base URL
// used for e-mail links.
type AppConfig struct {
	URL       string
	LoginPath string
	MFAPath   string
	// ResetPath is appended to URL to build the password-reset redirect.
	ResetPath string
}

// ResetRedirect returns the absolute reset-password link target.
func (c AppConfig) ResetRedirect() string {
	return strings.TrimRight(c.URL, "/") + c.ResetPath
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig names the device storage keys the engine owns or observes.
type StorageConfig struct {
	// TokenKey is the identity provider's token blob. The engine only removes
	// it, and watches it for removals made by other tabs.
	TokenKey       string
	PreferencesKey string
	LockoutKey     string
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the per-device login backoff policy.
type LockoutConfig struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// InactivityConfig controls the idle timeout. A zero Timeout disables it.
type InactivityConfig struct {
	Timeout time.Duration
	Warning time.Duration
}

// MFAConfig controls the step-up gate.
type MFAConfig struct {
	// Enforce routes a session to the MFA page whenever the provider reports
	// a higher assurance level is available.
	Enforce bool
}

// ResetConfig throttles password-reset e-mails per address.
type ResetConfig struct {
	Enabled bool
	Every   time.Duration
	Burst   int
}

// RefreshConfig controls proactive token refresh.
type RefreshConfig struct {
	AutoRefresh bool
	// Margin is how long before expiry the refresh fires.
	Margin time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

const (
	defaultTokenKey       = "sb-kddkibsrdgtcorhrtjip-auth-token"
	defaultPreferencesKey = "adwood-crm-storage"
	defaultLockoutKey     = "adwood-crm-login-lockout"
)

func defaultConfig() Config {
	return Config{
		App: AppConfig{
			URL:       "http://localhost:5173",
			LoginPath: "/login",
			MFAPath:   "/mfa-verify",
			ResetPath: "/reset-password",
		},
		Storage: StorageConfig{
			TokenKey:       defaultTokenKey,
			PreferencesKey: defaultPreferencesKey,
			LockoutKey:     defaultLockoutKey,
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Base:        5 * time.Minute,
			Cap:         5 * time.Hour,
		},
		Inactivity: InactivityConfig{
			Timeout: 30 * time.Minute,
			Warning: 5 * time.Minute,
		},
		MFA: MFAConfig{
			Enforce: true,
		},
		Reset: ResetConfig{
			Enabled: true,
			Every:   time.Minute,
			Burst:   3,
		},
		Refresh: RefreshConfig{
			AutoRefresh: true,
			Margin:      time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	if c.App.URL != "" {
		u, err := url.Parse(c.App.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("App URL must be an absolute URL")
		}
	}
	for _, p := range []string{c.App.LoginPath, c.App.MFAPath} {
		if !strings.HasPrefix(p, "/") {
			return errors.New("App LoginPath and MFAPath must start with /")
		}
	}
	if c.App.LoginPath == c.App.MFAPath {
		return errors.New("App LoginPath and MFAPath must differ")
	}

	if c.Storage.TokenKey == "" || c.Storage.PreferencesKey == "" || c.Storage.LockoutKey == "" {
		return errors.New("Storage keys must be set")
	}
	if c.Storage.TokenKey == c.Storage.LockoutKey || c.Storage.TokenKey == c.Storage.PreferencesKey ||
		c.Storage.LockoutKey == c.Storage.PreferencesKey {
		return errors.New("Storage keys must be distinct")
	}

	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("Lockout MaxAttempts must be > 0")
	}
	if c.Lockout.Base <= 0 {
		return errors.New("Lockout Base must be > 0")
	}
	if c.Lockout.Cap < c.Lockout.Base {
		return errors.New("Lockout Cap must be >= Base")
	}

	if c.Inactivity.Timeout > 0 {
		if err := (inactivity.Config{Timeout: c.Inactivity.Timeout, Warning: c.Inactivity.Warning}).Validate(); err != nil {
			return err
		}
	} else if c.Inactivity.Timeout < 0 {
		return errors.New("Inactivity Timeout must be >= 0")
	}

	if c.Reset.Enabled {
		if c.Reset.Every <= 0 {
			return errors.New("Reset Every must be > 0 when enabled")
		}
		if c.Reset.Burst <= 0 {
			return errors.New("Reset Burst must be > 0 when enabled")
		}
	}

	if c.Refresh.AutoRefresh && c.Refresh.Margin < 0 {
		return errors.New("Refresh Margin must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
