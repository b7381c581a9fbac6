package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFleetMetricsUnmarshalTracksPresence(t *testing.T) {
	var m FleetMetrics
	payload := `{"total_sources":5,"active_sources":0,"system_health_score":0,"refresh_interval_seconds":20}`
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !m.Reported.TotalSources || !m.Reported.ActiveSources || !m.Reported.SystemHealthScore {
		t.Fatalf("present fields not marked reported: %+v", m.Reported)
	}
	if m.Reported.AverageUptime || m.Reported.AverageResponseTimeMs {
		t.Fatalf("omitted fields marked reported: %+v", m.Reported)
	}
	if m.ActiveSources != 0 || m.TotalSources != 5 || m.RefreshIntervalSeconds != 20 {
		t.Fatalf("values lost in decode: %+v", m)
	}
}

func TestHealthScore(t *testing.T) {
	cases := []struct {
		name string
		rec  SourceHealthRecord
		want float64
	}{
		{"offline is zero", SourceHealthRecord{Status: SourceOffline, Uptime: 99}, 0},
		{"maintenance is fixed", SourceHealthRecord{Status: SourceMaintenance, Uptime: 99}, 60},
		{"online follows uptime", SourceHealthRecord{Status: SourceOnline, Uptime: 97.5}, 97.5},
		{"degraded follows uptime", SourceHealthRecord{Status: SourceDegraded, Uptime: 42}, 42},
		{"uptime clamped high", SourceHealthRecord{Status: SourceOnline, Uptime: 140}, 100},
		{"uptime clamped low", SourceHealthRecord{Status: SourceOnline, Uptime: -3}, 0},
	}
	for _, tc := range cases {
		if got := tc.rec.HealthScore(); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	quota := int64(500)
	rec := SourceHealthRecord{
		SourceID:          "src-1",
		DependsOn:         []string{"upstream"},
		HealthHistory:     []HealthSample{{Status: SourceOnline, Uptime: 99}},
		APIQuotaRemaining: &quota,
	}
	clone := rec.Clone()

	clone.DependsOn[0] = "changed"
	clone.HealthHistory[0].Uptime = 1
	*clone.APIQuotaRemaining = 7

	if rec.DependsOn[0] != "upstream" {
		t.Fatal("DependsOn shared between clone and original")
	}
	if rec.HealthHistory[0].Uptime != 99 {
		t.Fatal("HealthHistory shared between clone and original")
	}
	if *rec.APIQuotaRemaining != 500 {
		t.Fatal("quota pointer shared between clone and original")
	}
}

func TestSortedRecords(t *testing.T) {
	snap := HealthSnapshot{
		Sources: map[string]SourceHealthRecord{
			"charlie": {SourceID: "charlie"},
			"alpha":   {SourceID: "alpha"},
			"bravo":   {}, // id only in the key
		},
	}
	records := snap.SortedRecords()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i, id := range want {
		if records[i].SourceID != id {
			t.Fatalf("position %d: got %q, want %q", i, records[i].SourceID, id)
		}
	}
}

func TestHealthHistoryBound(t *testing.T) {
	if MaxHealthHistory != 8 {
		t.Fatalf("history bound changed to %d", MaxHealthHistory)
	}
	now := time.Now()
	var rec SourceHealthRecord
	for i := 0; i < MaxHealthHistory+4; i++ {
		rec.AppendSample(HealthSample{Timestamp: now, Uptime: float64(i)})
	}
	if len(rec.HealthHistory) != MaxHealthHistory {
		t.Fatalf("history length %d, want %d", len(rec.HealthHistory), MaxHealthHistory)
	}
	if rec.HealthHistory[0].Uptime != 4 {
		t.Fatal("oldest samples should be evicted first")
	}
}
