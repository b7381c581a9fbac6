package telemetry

import (
	"time"

	"sourcewatch/models"
	"sourcewatch/monitoring"
)

// FallbackSupplier produces a synthetic last-known-good snapshot so the UI is
// never empty. It is a constructed instance owned by the facade rather than
// package-level data, so independent clients (and tests) never share state.
// Supplied snapshots are pure data; the facade tags them as mock and that tag
// is always surfaced to consumers.
type FallbackSupplier struct {
	now func() time.Time
}

// NewFallbackSupplier creates a supplier using wall-clock time.
func NewFallbackSupplier() *FallbackSupplier {
	return &FallbackSupplier{now: time.Now}
}

// Supply returns an internally consistent synthetic fleet. Timestamps are
// relative to the supply time so the data reads as recent, and the fleet
// metrics are recomputed from the records so nothing contradicts.
func (f *FallbackSupplier) Supply() models.HealthSnapshot {
	now := f.now()

	sources := map[string]models.SourceHealthRecord{
		"newswire-global": {
			SourceID:       "newswire-global",
			Name:           "Global Newswire",
			Category:       "news",
			Status:         models.SourceOnline,
			Uptime:         99.6,
			ResponseTimeMs: 182,
			ErrorRate:      0.4,
			Credibility:    94,
			HealthTrend:    models.TrendStable,
			LastUpdate:     now.Add(-45 * time.Second),
			DataFreshness:  now.Add(-45 * time.Second),
			HealthHistory:  history(now, models.SourceOnline, 99.6, 182),
		},
		"market-data-primary": {
			SourceID:          "market-data-primary",
			Name:              "Primary Market Data",
			Category:          "financial",
			Status:            models.SourceOnline,
			Uptime:            99.9,
			ResponseTimeMs:    95,
			ErrorRate:         0.1,
			Credibility:       98,
			HealthTrend:       models.TrendStable,
			LastUpdate:        now.Add(-30 * time.Second),
			DataFreshness:     now.Add(-30 * time.Second),
			APIQuotaRemaining: quota(46500),
			APIQuotaLimit:     quota(50000),
			HealthHistory:     history(now, models.SourceOnline, 99.9, 95),
		},
		"social-sentiment": {
			SourceID:       "social-sentiment",
			Name:           "Social Sentiment Feed",
			Category:       "social",
			Status:         models.SourceDegraded,
			Uptime:         96.2,
			ResponseTimeMs: 640,
			ErrorRate:      3.1,
			Credibility:    71,
			HealthTrend:    models.TrendDegrading,
			LastUpdate:     now.Add(-3 * time.Minute),
			DataFreshness:  now.Add(-5 * time.Minute),
			DependsOn:      []string{"newswire-global"},
			HealthHistory:  history(now, models.SourceDegraded, 96.2, 640),
		},
		"gov-filings": {
			SourceID:       "gov-filings",
			Name:           "Government Filings",
			Category:       "regulatory",
			Status:         models.SourceOnline,
			Uptime:         99.1,
			ResponseTimeMs: 420,
			ErrorRate:      0.8,
			Credibility:    99,
			HealthTrend:    models.TrendImproving,
			LastUpdate:     now.Add(-2 * time.Minute),
			DataFreshness:  now.Add(-2 * time.Minute),
			HealthHistory:  history(now, models.SourceOnline, 99.1, 420),
		},
		"web-crawler": {
			SourceID:       "web-crawler",
			Name:           "Web Crawler Pool",
			Category:       "web",
			Status:         models.SourceMaintenance,
			Uptime:         92.0,
			ResponseTimeMs: 0,
			ErrorRate:      0,
			Credibility:    80,
			HealthTrend:    models.TrendStable,
			LastUpdate:     now.Add(-20 * time.Minute),
			DataFreshness:  now.Add(-20 * time.Minute),
			DependsOn:      []string{"newswire-global", "gov-filings"},
			HealthHistory:  history(now, models.SourceMaintenance, 92.0, 0),
		},
	}

	metrics := monitoring.ComputeFleetMetrics(models.FleetMetrics{
		RefreshIntervalSeconds: 30,
	}, sources)

	return models.HealthSnapshot{
		Sources:     sources,
		Metrics:     metrics,
		LastUpdated: now,
	}
}

func quota(n int64) *int64 { return &n }

// history builds a short flat history ending at the current values, enough
// for trend sparklines to render.
func history(now time.Time, status models.SourceStatus, uptime, responseMs float64) []models.HealthSample {
	samples := make([]models.HealthSample, 0, models.MaxHealthHistory)
	for i := models.MaxHealthHistory - 1; i >= 0; i-- {
		samples = append(samples, models.HealthSample{
			Timestamp:      now.Add(-time.Duration(i) * time.Minute),
			Status:         status,
			Uptime:         uptime,
			ResponseTimeMs: responseMs,
		})
	}
	return samples
}
