package testutil

import (
	"fmt"
	"time"

	"sourcewatch/models"
)

// HealthFixtures provides canned payloads for telemetry client tests.
type HealthFixtures struct{}

// NewHealthFixtures creates a new fixtures helper.
func NewHealthFixtures() *HealthFixtures {
	return &HealthFixtures{}
}

// Record creates one valid health record with the given id.
func (f *HealthFixtures) Record(sourceID string) models.SourceHealthRecord {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return models.SourceHealthRecord{
		SourceID:       sourceID,
		Name:           "Source " + sourceID,
		Category:       "feed",
		Status:         models.SourceOnline,
		Uptime:         99.5,
		ResponseTimeMs: 120,
		ErrorRate:      0.4,
		Credibility:    92,
		HealthTrend:    models.TrendStable,
		LastUpdate:     now,
		DataFreshness:  now.Add(-30 * time.Second),
		HealthHistory: []models.HealthSample{{
			Timestamp:      now.Add(-time.Minute),
			Status:         models.SourceOnline,
			Uptime:         99,
			ResponseTimeMs: 118,
		}},
	}
}

// Snapshot creates a valid snapshot with n sources named src-0..src-n-1.
func (f *HealthFixtures) Snapshot(n int) *models.HealthSnapshot {
	sources := make(map[string]models.SourceHealthRecord, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("src-%d", i)
		sources[id] = f.Record(id)
	}
	return &models.HealthSnapshot{
		Sources: sources,
		Metrics: models.FleetMetrics{
			TotalSources:           n,
			ActiveSources:          n,
			RefreshIntervalSeconds: 30,
		},
		LastUpdated: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// SnapshotWithMismatchedID creates a snapshot whose record id contradicts its
// map key, which sanity checks must reject.
func (f *HealthFixtures) SnapshotWithMismatchedID() *models.HealthSnapshot {
	snap := f.Snapshot(1)
	rec := snap.Sources["src-0"]
	rec.SourceID = "someone-else"
	snap.Sources["src-0"] = rec
	return snap
}

// SnapshotWithBadUptime creates a snapshot with an out-of-range uptime.
func (f *HealthFixtures) SnapshotWithBadUptime() *models.HealthSnapshot {
	snap := f.Snapshot(1)
	rec := snap.Sources["src-0"]
	rec.Uptime = 150
	snap.Sources["src-0"] = rec
	return snap
}
