package main

import (
	"net/http"
	"sort"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	adwoodcrm "github.com/Alijah8/adwood-crm"
)

// tabTotals sums the metrics of every open tab. Counters of closed tabs are
// dropped with them.
type tabTotals struct {
	srv *server
}

func (t tabTotals) MetricsSnapshot() adwoodcrm.MetricsSnapshot {
	out := adwoodcrm.MetricsSnapshot{
		Counters:   make(map[adwoodcrm.MetricID]uint64),
		Histograms: make(map[adwoodcrm.MetricID][]uint64),
	}
	for _, e := range t.srv.engines() {
		snap := e.MetricsSnapshot()
		for id, v := range snap.Counters {
			out.Counters[id] += v
		}
		for id, buckets := range snap.Histograms {
			sum := out.Histograms[id]
			if len(sum) < len(buckets) {
				grown := make([]uint64, len(buckets))
				copy(grown, sum)
				sum = grown
			}
			for i, v := range buckets {
				sum[i] += v
			}
			out.Histograms[id] = sum
		}
	}
	return out
}

func (t tabTotals) AuditDropped() uint64 {
	var n uint64
	for _, e := range t.srv.engines() {
		n += e.AuditDropped()
	}
	return n
}

// otelDump serves the current OpenTelemetry readings as flat JSON.
func otelDump(reader *sdkmetric.ManualReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(r.Context(), &rm); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		type point struct {
			Name  string `json:"name"`
			Value int64  `json:"value"`
		}
		var points []point
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				switch data := m.Data.(type) {
				case metricdata.Sum[int64]:
					for _, dp := range data.DataPoints {
						points = append(points, point{m.Name, dp.Value})
					}
				case metricdata.Gauge[int64]:
					for _, dp := range data.DataPoints {
						points = append(points, point{m.Name, dp.Value})
					}
				}
			}
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Name < points[j].Name })
		writeJSON(w, http.StatusOK, points)
	}
}
