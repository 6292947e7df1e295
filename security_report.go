package adwoodcrm

import (
	"slices"

	"github.com/Alijah8/adwood-crm/internal/limiters"
	"github.com/Alijah8/adwood-crm/internal/security"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/storage"
)

type (
	// SecurityReport describes the protections the engine runs with.
	SecurityReport = security.Report
	// SecurityFinding is one entry of [SecurityReport.Findings].
	SecurityFinding = security.Finding
)

// SecurityReport summarizes the effective security posture.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	lockout := limiters.LockoutConfig{
		MaxAttempts: e.config.Lockout.MaxAttempts,
		Base:        e.config.Lockout.Base,
		Cap:         e.config.Lockout.Cap,
	}

	var adminOnly []string
	for _, rule := range e.routes.Rules() {
		if slices.Equal(rule.Roles, []permission.Role{permission.RoleAdmin}) {
			adminOnly = append(adminOnly, rule.Path)
		}
	}

	return security.BuildReport(security.ReportInput{
		LockoutMaxAttempts: lockout.MaxAttempts,
		LockoutBase:        lockout.Base,
		LockoutCap:         lockout.Cap,
		LockoutWindow:      lockout.Window,
		InactivityTimeout:  e.config.Inactivity.Timeout,
		InactivityWarning:  e.config.Inactivity.Warning,
		StepUpEnforced:     e.config.MFA.Enforce,
		AutoRefresh:        e.config.Refresh.AutoRefresh,
		ResetThrottled:     e.config.Reset.Enabled,
		CrossTabSync:       e.listener != nil,
		StorageKind:        storageKind(e.storage),
		AuditEnabled:       e.audit != nil,
		MetricsEnabled:     e.config.Metrics.Enabled,
		RoutesProtected:    len(e.routes.Rules()),
		AdminOnlyRoutes:    adminOnly,
	})
}

func storageKind(s storage.Storage) string {
	switch s.(type) {
	case *storage.Redis:
		return "redis"
	case *storage.Memory, *storage.MemoryTab:
		return "memory"
	case nil:
		return ""
	}
	return "custom"
}
