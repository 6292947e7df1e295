package internaldefs

import (
	"strings"
	"testing"

	adwoodcrm "github.com/Alijah8/adwood-crm"
)

func TestEveryMetricHasOneDefinition(t *testing.T) {
	seen := make(map[adwoodcrm.MetricID]string)
	names := make(map[string]bool)
	for _, def := range CounterDefs {
		if prev, ok := seen[def.ID]; ok {
			t.Fatalf("metric %d defined twice: %s and %s", def.ID, prev, def.Name)
		}
		if names[def.Name] || !strings.HasPrefix(def.Name, "crmauth_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		seen[def.ID] = def.Name
		names[def.Name] = true
	}
	for _, def := range HistogramDefs {
		if _, ok := seen[def.ID]; ok {
			t.Fatalf("histogram %s also defined as a counter", def.Name)
		}
		seen[def.ID] = def.Name
	}
	for id := adwoodcrm.MetricID(0); id < adwoodcrm.MetricIDCount; id++ {
		if _, ok := seen[id]; !ok {
			t.Fatalf("metric %d has no exported definition", id)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 0, 2}))
	want := [8]uint64{1, 1, 3, 3, 3, 3, 3, 3}
	if got != want {
		t.Fatalf("CumulativeBuckets() = %v, want %v", got, want)
	}
	if len(HistogramBounds)+1 != len(HistogramBoundSuffix) {
		t.Fatal("bucket bounds and suffixes disagree")
	}
}
