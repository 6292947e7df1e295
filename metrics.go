package adwoodcrm

import internalmetrics "github.com/Alijah8/adwood-crm/internal/metrics"

// MetricID identifies one engine counter.
type MetricID = internalmetrics.MetricID

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricLoginSuccess             = internalmetrics.MetricLoginSuccess
	MetricLoginFailure             = internalmetrics.MetricLoginFailure
	MetricLoginLocked              = internalmetrics.MetricLoginLocked
	MetricLoginDeactivated         = internalmetrics.MetricLoginDeactivated
	MetricLoginInvalidInput        = internalmetrics.MetricLoginInvalidInput
	MetricLockoutEngaged           = internalmetrics.MetricLockoutEngaged
	MetricRefreshSuccess           = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure           = internalmetrics.MetricRefreshFailure
	MetricSessionRestored          = internalmetrics.MetricSessionRestored
	MetricSessionCleared           = internalmetrics.MetricSessionCleared
	MetricLogout                   = internalmetrics.MetricLogout
	MetricRemoteSignOutFailure     = internalmetrics.MetricRemoteSignOutFailure
	MetricInactivityWarning        = internalmetrics.MetricInactivityWarning
	MetricInactivityExpired        = internalmetrics.MetricInactivityExpired
	MetricTabSyncLogout            = internalmetrics.MetricTabSyncLogout
	MetricProfileUpdateSuccess     = internalmetrics.MetricProfileUpdateSuccess
	MetricProfileUpdateFailure     = internalmetrics.MetricProfileUpdateFailure
	MetricPasswordResetRequest     = internalmetrics.MetricPasswordResetRequest
	MetricPasswordResetRateLimited = internalmetrics.MetricPasswordResetRateLimited
	MetricPasswordUpdate           = internalmetrics.MetricPasswordUpdate
	MetricMFAChallenge             = internalmetrics.MetricMFAChallenge
	MetricMFASuccess               = internalmetrics.MetricMFASuccess
	MetricMFAFailure               = internalmetrics.MetricMFAFailure
	MetricMFAEnrolled              = internalmetrics.MetricMFAEnrolled
	MetricMFAUnenrolled            = internalmetrics.MetricMFAUnenrolled
	MetricStepUpRequired           = internalmetrics.MetricStepUpRequired
	MetricRouteDenied              = internalmetrics.MetricRouteDenied
	MetricDataReloadFailure        = internalmetrics.MetricDataReloadFailure
	MetricProviderLatency          = internalmetrics.MetricProviderLatency
	MetricIDCount                  = internalmetrics.MetricIDCount
)
