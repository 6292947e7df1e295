package security

import (
	"fmt"
	"time"
)

// Severity ranks a [Finding].
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Finding is one observation about the configured posture.
type Finding struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// LockoutReport summarizes the login backoff policy.
type LockoutReport struct {
	MaxAttempts int           `json:"max_attempts"`
	Base        time.Duration `json:"base"`
	Cap         time.Duration `json:"cap"`
	// Windows lists the lock after each failure from MaxAttempts until the
	// cap is reached.
	Windows      []time.Duration `json:"windows"`
	DeviceScoped bool            `json:"device_scoped"`
}

// Report is the posture of one engine configuration.
type Report struct {
	Lockout           LockoutReport `json:"lockout"`
	InactivityTimeout time.Duration `json:"inactivity_timeout"`
	InactivityWarning time.Duration `json:"inactivity_warning"`
	StepUpEnforced    bool          `json:"step_up_enforced"`
	AutoRefresh       bool          `json:"auto_refresh"`
	ResetThrottled    bool          `json:"reset_throttled"`
	CrossTabSync      bool          `json:"cross_tab_sync"`
	SharedStorage     string        `json:"shared_storage"`
	AuditEnabled      bool          `json:"audit_enabled"`
	MetricsEnabled    bool          `json:"metrics_enabled"`
	RoutesProtected   int           `json:"routes_protected"`
	AdminOnlyRoutes   []string      `json:"admin_only_routes,omitempty"`
	Findings          []Finding     `json:"findings,omitempty"`
}

// ReportInput is the configuration facts the report is built from.
type ReportInput struct {
	LockoutMaxAttempts int
	LockoutBase        time.Duration
	LockoutCap         time.Duration
	LockoutWindow      func(attempts int) time.Duration

	InactivityTimeout time.Duration
	InactivityWarning time.Duration

	StepUpEnforced bool
	AutoRefresh    bool
	ResetThrottled bool
	CrossTabSync   bool
	StorageKind    string
	AuditEnabled   bool
	MetricsEnabled bool

	RoutesProtected int
	AdminOnlyRoutes []string
}

// maxWindows bounds the lockout schedule listed in a report.
const maxWindows = 16

// BuildReport evaluates input.
func BuildReport(input ReportInput) Report {
	r := Report{
		Lockout: LockoutReport{
			MaxAttempts:  input.LockoutMaxAttempts,
			Base:         input.LockoutBase,
			Cap:          input.LockoutCap,
			DeviceScoped: true,
		},
		InactivityTimeout: input.InactivityTimeout,
		InactivityWarning: input.InactivityWarning,
		StepUpEnforced:    input.StepUpEnforced,
		AutoRefresh:       input.AutoRefresh,
		ResetThrottled:    input.ResetThrottled,
		CrossTabSync:      input.CrossTabSync,
		SharedStorage:     input.StorageKind,
		AuditEnabled:      input.AuditEnabled,
		MetricsEnabled:    input.MetricsEnabled,
		RoutesProtected:   input.RoutesProtected,
		AdminOnlyRoutes:   append([]string(nil), input.AdminOnlyRoutes...),
	}

	if input.LockoutWindow != nil && input.LockoutMaxAttempts > 0 {
		for n := input.LockoutMaxAttempts; len(r.Lockout.Windows) < maxWindows; n++ {
			w := input.LockoutWindow(n)
			r.Lockout.Windows = append(r.Lockout.Windows, w)
			if w >= input.LockoutCap {
				break
			}
		}
	}

	r.Findings = append(r.Findings, Finding{
		Code:     "lockout_device_scoped",
		Severity: SeverityWarning,
		Message:  "login lockout is counted per device; a second device or cleared storage starts from zero, so the server must rate-limit too",
	})
	r.Findings = append(r.Findings, Finding{
		Code:     "client_side_authorization",
		Severity: SeverityInfo,
		Message:  "route authorization here only shapes the UI; the data backend must enforce the same role table",
	})
	if input.InactivityTimeout <= 0 {
		r.Findings = append(r.Findings, Finding{
			Code:     "inactivity_disabled",
			Severity: SeverityWarning,
			Message:  "idle sessions never expire",
		})
	}
	if !input.StepUpEnforced {
		r.Findings = append(r.Findings, Finding{
			Code:     "step_up_disabled",
			Severity: SeverityWarning,
			Message:  "users with a verified authenticator are not asked for it",
		})
	}
	if !input.CrossTabSync {
		r.Findings = append(r.Findings, Finding{
			Code:     "cross_tab_sync_off",
			Severity: SeverityWarning,
			Message:  "logging out in one tab leaves other tabs signed in",
		})
	}
	if !input.ResetThrottled {
		r.Findings = append(r.Findings, Finding{
			Code:     "reset_unthrottled",
			Severity: SeverityInfo,
			Message:  "password reset e-mails are only limited by the provider",
		})
	}
	if input.LockoutCap > 0 && input.LockoutBase > 0 && input.LockoutCap/input.LockoutBase > 1<<20 {
		r.Findings = append(r.Findings, Finding{
			Code:     "lockout_cap_extreme",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("lockout cap %s is far above base %s", input.LockoutCap, input.LockoutBase),
		})
	}
	return r
}

// Warnings counts findings of warning severity.
func (r Report) Warnings() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityWarning {
			n++
		}
	}
	return n
}
