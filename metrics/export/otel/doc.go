// Package otel binds engine counters to OpenTelemetry observable instruments.
//
// [NewExporter] registers one Int64ObservableCounter per crmauth_* counter
// and one Int64ObservableGauge per provider-latency bucket. A single
// callback reads the source snapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
