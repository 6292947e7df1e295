package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	adwoodcrm "github.com/Alijah8/adwood-crm"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot adwoodcrm.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() adwoodcrm.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := adwoodcrm.MetricsSnapshot{
		Counters:   make(map[adwoodcrm.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[adwoodcrm.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: adwoodcrm.MetricsSnapshot{
			Counters: map[adwoodcrm.MetricID]uint64{
				adwoodcrm.MetricInactivityExpired: 3,
			},
			Histograms: map[adwoodcrm.MetricID][]uint64{
				adwoodcrm.MetricProviderLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(provider.Meter("crmauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	values := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				values[m.Name] = data.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				values[m.Name] = data.DataPoints[0].Value
			}
		}
	}
	if values["crmauth_inactivity_expired_total"] != 3 {
		t.Fatalf("inactivity expired = %d", values["crmauth_inactivity_expired_total"])
	}
	if values["crmauth_provider_latency_seconds_count"] != 8 {
		t.Fatalf("latency count = %d", values["crmauth_provider_latency_seconds_count"])
	}
	if values["crmauth_provider_latency_seconds_bucket_le_0_01"] != 2 {
		t.Fatalf("second bucket = %d", values["crmauth_provider_latency_seconds_bucket_le_0_01"])
	}
	if values["crmauth_audit_dropped_total"] != 1 {
		t.Fatalf("audit dropped = %d", values["crmauth_audit_dropped_total"])
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()
	if _, err := NewExporter(provider.Meter("crmauth-test"), nil); err != ErrNilSource {
		t.Fatalf("nil source: %v", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("nil meter: %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: adwoodcrm.MetricsSnapshot{
			Counters: map[adwoodcrm.MetricID]uint64{adwoodcrm.MetricLoginSuccess: 1},
		},
	}

	exp, err := NewExporter(provider.Meter("crmauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[adwoodcrm.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
