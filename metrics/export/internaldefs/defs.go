package internaldefs

import (
	adwoodcrm "github.com/Alijah8/adwood-crm"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   adwoodcrm.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   adwoodcrm.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: adwoodcrm.MetricLoginSuccess, Name: "crmauth_login_success_total", Help: "Successful logins."},
	{ID: adwoodcrm.MetricLoginFailure, Name: "crmauth_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: adwoodcrm.MetricLoginLocked, Name: "crmauth_login_locked_total", Help: "Logins refused while the device was locked out."},
	{ID: adwoodcrm.MetricLoginDeactivated, Name: "crmauth_login_deactivated_total", Help: "Logins of deactivated accounts."},
	{ID: adwoodcrm.MetricLoginInvalidInput, Name: "crmauth_login_invalid_input_total", Help: "Logins rejected by form validation."},
	{ID: adwoodcrm.MetricLockoutEngaged, Name: "crmauth_lockout_engaged_total", Help: "Failures that started or extended a lockout."},
	{ID: adwoodcrm.MetricRefreshSuccess, Name: "crmauth_refresh_success_total", Help: "Successful session refreshes."},
	{ID: adwoodcrm.MetricRefreshFailure, Name: "crmauth_refresh_failure_total", Help: "Failed session refreshes."},
	{ID: adwoodcrm.MetricSessionRestored, Name: "crmauth_session_restored_total", Help: "Sessions restored at startup."},
	{ID: adwoodcrm.MetricSessionCleared, Name: "crmauth_session_cleared_total", Help: "Sessions cleared for any reason."},
	{ID: adwoodcrm.MetricLogout, Name: "crmauth_logout_total", Help: "User-initiated logouts."},
	{ID: adwoodcrm.MetricRemoteSignOutFailure, Name: "crmauth_remote_sign_out_failure_total", Help: "Provider sign-outs that failed and fell back to local teardown."},
	{ID: adwoodcrm.MetricInactivityWarning, Name: "crmauth_inactivity_warning_total", Help: "Inactivity warnings shown."},
	{ID: adwoodcrm.MetricInactivityExpired, Name: "crmauth_inactivity_expired_total", Help: "Sessions ended by inactivity."},
	{ID: adwoodcrm.MetricTabSyncLogout, Name: "crmauth_tab_sync_logout_total", Help: "Sessions ended because another tab signed out."},
	{ID: adwoodcrm.MetricProfileUpdateSuccess, Name: "crmauth_profile_update_success_total", Help: "Successful profile updates."},
	{ID: adwoodcrm.MetricProfileUpdateFailure, Name: "crmauth_profile_update_failure_total", Help: "Failed profile updates."},
	{ID: adwoodcrm.MetricPasswordResetRequest, Name: "crmauth_password_reset_request_total", Help: "Password reset e-mails requested."},
	{ID: adwoodcrm.MetricPasswordResetRateLimited, Name: "crmauth_password_reset_rate_limited_total", Help: "Password reset requests refused by the throttle."},
	{ID: adwoodcrm.MetricPasswordUpdate, Name: "crmauth_password_update_total", Help: "Password changes."},
	{ID: adwoodcrm.MetricMFAChallenge, Name: "crmauth_mfa_challenge_total", Help: "Second-factor challenges issued."},
	{ID: adwoodcrm.MetricMFASuccess, Name: "crmauth_mfa_success_total", Help: "Accepted second-factor codes."},
	{ID: adwoodcrm.MetricMFAFailure, Name: "crmauth_mfa_failure_total", Help: "Rejected second-factor codes."},
	{ID: adwoodcrm.MetricMFAEnrolled, Name: "crmauth_mfa_enrolled_total", Help: "Authenticator enrollments started."},
	{ID: adwoodcrm.MetricMFAUnenrolled, Name: "crmauth_mfa_unenrolled_total", Help: "Authenticator factors removed."},
	{ID: adwoodcrm.MetricStepUpRequired, Name: "crmauth_step_up_required_total", Help: "Navigations redirected to second-factor verification."},
	{ID: adwoodcrm.MetricRouteDenied, Name: "crmauth_route_denied_total", Help: "Navigations redirected home for lack of role."},
	{ID: adwoodcrm.MetricDataReloadFailure, Name: "crmauth_data_reload_failure_total", Help: "Failed business-data reloads after login."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: adwoodcrm.MetricProviderLatency, Name: "crmauth_provider_latency_seconds", Help: "Identity provider call latency."},
}

// HistogramBounds are the finite upper bounds, in seconds, of the engine's
// eight latency buckets. The last bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters
// without native histogram support.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
