// Package prometheus publishes engine counters through client_golang.
//
// [Collector] implements prometheus.Collector over a metrics source (an
// [adwoodcrm.Engine], or anything aggregating several of them) and reads a
// fresh snapshot on every scrape. Counter names are crmauth_*_total; provider
// latency is the crmauth_provider_latency_seconds histogram.
//
// # What this package must NOT do
//
//   - Register into the global default registry; callers pass a Registerer.
//   - Mutate engine state.
package prometheus
