package adwoodcrm

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Lockout.MaxAttempts != 5 || cfg.Lockout.Base != 5*time.Minute || cfg.Lockout.Cap != 5*time.Hour {
		t.Fatalf("lockout defaults = %+v", cfg.Lockout)
	}
	if cfg.Inactivity.Timeout != 30*time.Minute || cfg.Inactivity.Warning != 5*time.Minute {
		t.Fatalf("inactivity defaults = %+v", cfg.Inactivity)
	}
	if got := cfg.App.ResetRedirect(); got != "http://localhost:5173/reset-password" {
		t.Fatalf("ResetRedirect() = %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "inactivity disabled",
			mutate:    func(c *Config) { c.Inactivity.Timeout = 0 },
			wantValid: true,
		},
		{
			name:      "inactivity negative",
			mutate:    func(c *Config) { c.Inactivity.Timeout = -time.Second },
			wantValid: false,
		},
		{
			name:      "warning longer than timeout",
			mutate:    func(c *Config) { c.Inactivity.Warning = time.Hour },
			wantValid: false,
		},
		{
			name:      "lockout attempts zero",
			mutate:    func(c *Config) { c.Lockout.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "lockout cap below base",
			mutate:    func(c *Config) { c.Lockout.Cap = time.Minute },
			wantValid: false,
		},
		{
			name:      "storage keys collide",
			mutate:    func(c *Config) { c.Storage.LockoutKey = c.Storage.TokenKey },
			wantValid: false,
		},
		{
			name:      "storage key empty",
			mutate:    func(c *Config) { c.Storage.PreferencesKey = "" },
			wantValid: false,
		},
		{
			name:      "login path relative",
			mutate:    func(c *Config) { c.App.LoginPath = "login" },
			wantValid: false,
		},
		{
			name:      "login and mfa path equal",
			mutate:    func(c *Config) { c.App.MFAPath = c.App.LoginPath },
			wantValid: false,
		},
		{
			name:      "app url not absolute",
			mutate:    func(c *Config) { c.App.URL = "localhost" },
			wantValid: false,
		},
		{
			name:      "reset throttle without burst",
			mutate:    func(c *Config) { c.Reset.Burst = 0 },
			wantValid: false,
		},
		{
			name: "reset throttle disabled ignores burst",
			mutate: func(c *Config) {
				c.Reset.Enabled = false
				c.Reset.Burst = 0
			},
			wantValid: true,
		},
		{
			name: "audit buffer zero when enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name:      "refresh margin negative",
			mutate:    func(c *Config) { c.Refresh.Margin = -time.Second },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultConfig()
	cfg.Lockout.MaxAttempts = 0

	_, err := New().
		WithConfig(cfg).
		WithIdentityProvider(h.backend.Client(h.device.Tab(), "", nil)).
		WithProfileStore(h.backend).
		WithStorage(h.device.Tab()).
		Build()
	if err == nil {
		t.Fatal("expected Build to fail")
	}
}

func TestBuildRequiresCollaborators(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected Build without identity provider to fail")
	}

	h := newHarness(t)
	b := New().
		WithIdentityProvider(h.backend.Client(h.device.Tab(), "", nil)).
		WithProfileStore(h.backend).
		WithStorage(h.device.Tab())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestLoadConfigOverlaysKeys(t *testing.T) {
	v := viper.New()
	v.Set("lockout.max_attempts", 3)
	v.Set("lockout.base", "1m")
	v.Set("inactivity.timeout", "15m")
	v.Set("inactivity.warning", "2m")
	v.Set("mfa.enforce", false)
	v.Set("app.url", "https://crm.adwood.test")

	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Lockout.MaxAttempts != 3 || cfg.Lockout.Base != time.Minute || cfg.Lockout.Cap != 5*time.Hour {
		t.Fatalf("lockout = %+v", cfg.Lockout)
	}
	if cfg.Inactivity.Timeout != 15*time.Minute || cfg.Inactivity.Warning != 2*time.Minute {
		t.Fatalf("inactivity = %+v", cfg.Inactivity)
	}
	if cfg.MFA.Enforce {
		t.Fatal("mfa.enforce not applied")
	}
	if got := cfg.App.ResetRedirect(); got != "https://crm.adwood.test/reset-password" {
		t.Fatalf("ResetRedirect() = %q", got)
	}
	if cfg.Storage.TokenKey != defaultTokenKey {
		t.Fatalf("token key = %q", cfg.Storage.TokenKey)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	v := viper.New()
	v.Set("lockout.cap", "1s")
	if _, err := LoadConfig(v); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CRMAUTH_LOCKOUT_MAX_ATTEMPTS", "7")
	t.Setenv("CRMAUTH_INACTIVITY_TIMEOUT", "0s")
	t.Setenv("CRMAUTH_AUDIT_ENABLED", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Lockout.MaxAttempts != 7 {
		t.Fatalf("max attempts = %d", cfg.Lockout.MaxAttempts)
	}
	if cfg.Inactivity.Timeout != 0 {
		t.Fatalf("inactivity timeout = %s", cfg.Inactivity.Timeout)
	}
	if !cfg.Audit.Enabled || cfg.Audit.BufferSize != 256 {
		t.Fatalf("audit = %+v", cfg.Audit)
	}
}
