package adwoodcrm

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by [LoadConfigFromEnv].
const EnvPrefix = "CRMAUTH"

// LoadConfigFromEnv reads CRMAUTH_* variables (and a .env file in the
// working directory, if present) on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return LoadConfig(v)
}

// LoadConfig overlays the keys present in v onto the defaults and validates
// the result. Keys are dotted group paths such as "lockout.max_attempts".
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := defaultConfig()

	setDefaults(v, cfg)

	cfg.App.URL = v.GetString("app.url")
	cfg.App.LoginPath = v.GetString("app.login_path")
	cfg.App.MFAPath = v.GetString("app.mfa_path")
	cfg.App.ResetPath = v.GetString("app.reset_path")

	cfg.Storage.TokenKey = v.GetString("storage.token_key")
	cfg.Storage.PreferencesKey = v.GetString("storage.preferences_key")
	cfg.Storage.LockoutKey = v.GetString("storage.lockout_key")

	cfg.Lockout.MaxAttempts = v.GetInt("lockout.max_attempts")
	cfg.Lockout.Base = v.GetDuration("lockout.base")
	cfg.Lockout.Cap = v.GetDuration("lockout.cap")

	cfg.Inactivity.Timeout = v.GetDuration("inactivity.timeout")
	cfg.Inactivity.Warning = v.GetDuration("inactivity.warning")

	cfg.MFA.Enforce = v.GetBool("mfa.enforce")

	cfg.Reset.Enabled = v.GetBool("reset.enabled")
	cfg.Reset.Every = v.GetDuration("reset.every")
	cfg.Reset.Burst = v.GetInt("reset.burst")

	cfg.Refresh.AutoRefresh = v.GetBool("refresh.auto_refresh")
	cfg.Refresh.Margin = v.GetDuration("refresh.margin")

	cfg.Audit.Enabled = v.GetBool("audit.enabled")
	cfg.Audit.BufferSize = v.GetInt("audit.buffer_size")
	cfg.Audit.DropIfFull = v.GetBool("audit.drop_if_full")

	cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	cfg.Metrics.EnableLatencyHistograms = v.GetBool("metrics.latency_histograms")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("app.url", cfg.App.URL)
	v.SetDefault("app.login_path", cfg.App.LoginPath)
	v.SetDefault("app.mfa_path", cfg.App.MFAPath)
	v.SetDefault("app.reset_path", cfg.App.ResetPath)

	v.SetDefault("storage.token_key", cfg.Storage.TokenKey)
	v.SetDefault("storage.preferences_key", cfg.Storage.PreferencesKey)
	v.SetDefault("storage.lockout_key", cfg.Storage.LockoutKey)

	v.SetDefault("lockout.max_attempts", cfg.Lockout.MaxAttempts)
	v.SetDefault("lockout.base", cfg.Lockout.Base)
	v.SetDefault("lockout.cap", cfg.Lockout.Cap)

	v.SetDefault("inactivity.timeout", cfg.Inactivity.Timeout)
	v.SetDefault("inactivity.warning", cfg.Inactivity.Warning)

	v.SetDefault("mfa.enforce", cfg.MFA.Enforce)

	v.SetDefault("reset.enabled", cfg.Reset.Enabled)
	v.SetDefault("reset.every", cfg.Reset.Every)
	v.SetDefault("reset.burst", cfg.Reset.Burst)

	v.SetDefault("refresh.auto_refresh", cfg.Refresh.AutoRefresh)
	v.SetDefault("refresh.margin", cfg.Refresh.Margin)

	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.buffer_size", cfg.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", cfg.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.latency_histograms", cfg.Metrics.EnableLatencyHistograms)
}
