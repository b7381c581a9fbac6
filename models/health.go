package models

import (
	"encoding/json"
	"sort"
	"time"
)

// SourceStatus is the reported operational state of one upstream data source.
type SourceStatus string

const (
	SourceOnline      SourceStatus = "online"
	SourceDegraded    SourceStatus = "degraded"
	SourceOffline     SourceStatus = "offline"
	SourceMaintenance SourceStatus = "maintenance"
)

// HealthTrend describes the recent direction of a source's health.
type HealthTrend string

const (
	TrendImproving HealthTrend = "improving"
	TrendStable    HealthTrend = "stable"
	TrendDegrading HealthTrend = "degrading"
)

// HealthSample is one point in a source's bounded health history.
type HealthSample struct {
	Timestamp      time.Time    `json:"timestamp"`
	Status         SourceStatus `json:"status"`
	Uptime         float64      `json:"uptime"`
	ResponseTimeMs float64      `json:"response_time_ms"`
}

// MaxHealthHistory caps the per-record health history kept for trend display.
const MaxHealthHistory = 8

// SourceHealthRecord describes the health of one upstream data source.
// Records are replaced wholesale on every accepted snapshot, never mutated
// field by field, so a reader can never observe a half-applied update.
type SourceHealthRecord struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Category string `json:"category"`

	Status         SourceStatus `json:"status"`
	Uptime         float64      `json:"uptime"`
	ResponseTimeMs float64      `json:"response_time"`
	ErrorRate      float64      `json:"error_rate"`
	Credibility    float64      `json:"credibility"`
	HealthTrend    HealthTrend  `json:"health_trend"`

	LastUpdate    time.Time `json:"last_update"`
	DataFreshness time.Time `json:"data_freshness"`

	APIQuotaRemaining *int64 `json:"api_quota_remaining,omitempty"`
	APIQuotaLimit     *int64 `json:"api_quota_limit,omitempty"`

	// DependsOn lists upstream source ids this source's health is contingent
	// on. Reference only; the records themselves are owned by the snapshot.
	DependsOn []string `json:"depends_on,omitempty"`

	HealthHistory []HealthSample `json:"health_history,omitempty"`
}

// HealthScore maps the record onto a 0-100 scalar used when the backend does
// not report a fleet-wide system_health_score. Uptime already expresses the
// availability dimension; offline and maintenance override it.
func (r SourceHealthRecord) HealthScore() float64 {
	switch r.Status {
	case SourceOffline:
		return 0
	case SourceMaintenance:
		return 60
	}
	score := r.Uptime
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// AppendSample records one trend sample, evicting the oldest beyond
// MaxHealthHistory.
func (r *SourceHealthRecord) AppendSample(sample HealthSample) {
	r.HealthHistory = append(r.HealthHistory, sample)
	if len(r.HealthHistory) > MaxHealthHistory {
		r.HealthHistory = r.HealthHistory[len(r.HealthHistory)-MaxHealthHistory:]
	}
}

// Clone returns a deep copy, so callers can hand records to consumers without
// sharing slices.
func (r SourceHealthRecord) Clone() SourceHealthRecord {
	out := r
	if r.DependsOn != nil {
		out.DependsOn = append([]string(nil), r.DependsOn...)
	}
	if r.HealthHistory != nil {
		out.HealthHistory = append([]HealthSample(nil), r.HealthHistory...)
	}
	if r.APIQuotaRemaining != nil {
		v := *r.APIQuotaRemaining
		out.APIQuotaRemaining = &v
	}
	if r.APIQuotaLimit != nil {
		v := *r.APIQuotaLimit
		out.APIQuotaLimit = &v
	}
	return out
}

// FleetMetrics is the fleet-wide summary derived from the current record set
// plus server-reported fields. Recomputed per snapshot, never stored apart
// from its records.
type FleetMetrics struct {
	TotalSources           int     `json:"total_sources"`
	ActiveSources          int     `json:"active_sources"`
	AverageUptime          float64 `json:"average_uptime"`
	AverageResponseTimeMs  float64 `json:"average_response_time"`
	SystemHealthScore      float64 `json:"system_health_score"`
	RefreshIntervalSeconds int     `json:"refresh_interval_seconds"`

	// Reported marks which summary fields the server actually sent. A field
	// the server reported keeps its value even at zero (every source offline
	// is a legitimate active_sources of 0); absent fields are derived locally.
	Reported FleetReported `json:"-"`
}

// FleetReported tracks wire-level presence of the fleet summary fields.
type FleetReported struct {
	TotalSources          bool
	ActiveSources         bool
	AverageUptime         bool
	AverageResponseTimeMs bool
	SystemHealthScore     bool
}

// UnmarshalJSON decodes the summary while distinguishing fields the payload
// carried from fields it omitted.
func (m *FleetMetrics) UnmarshalJSON(data []byte) error {
	var wire struct {
		TotalSources           *int     `json:"total_sources"`
		ActiveSources          *int     `json:"active_sources"`
		AverageUptime          *float64 `json:"average_uptime"`
		AverageResponseTimeMs  *float64 `json:"average_response_time"`
		SystemHealthScore      *float64 `json:"system_health_score"`
		RefreshIntervalSeconds int      `json:"refresh_interval_seconds"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*m = FleetMetrics{RefreshIntervalSeconds: wire.RefreshIntervalSeconds}
	if wire.TotalSources != nil {
		m.TotalSources = *wire.TotalSources
		m.Reported.TotalSources = true
	}
	if wire.ActiveSources != nil {
		m.ActiveSources = *wire.ActiveSources
		m.Reported.ActiveSources = true
	}
	if wire.AverageUptime != nil {
		m.AverageUptime = *wire.AverageUptime
		m.Reported.AverageUptime = true
	}
	if wire.AverageResponseTimeMs != nil {
		m.AverageResponseTimeMs = *wire.AverageResponseTimeMs
		m.Reported.AverageResponseTimeMs = true
	}
	if wire.SystemHealthScore != nil {
		m.SystemHealthScore = *wire.SystemHealthScore
		m.Reported.SystemHealthScore = true
	}
	return nil
}

// HealthSnapshot is a complete replacement set of source records and fleet
// metrics, the unit delivered by both the poll endpoint and the push stream.
type HealthSnapshot struct {
	Sources     map[string]SourceHealthRecord `json:"sources"`
	Metrics     FleetMetrics                  `json:"metrics"`
	LastUpdated time.Time                     `json:"last_updated"`
}

// SortedRecords returns the snapshot's records ordered by source id so
// consumers render a stable list across refreshes.
func (s HealthSnapshot) SortedRecords() []SourceHealthRecord {
	out := make([]SourceHealthRecord, 0, len(s.Sources))
	for key, rec := range s.Sources {
		r := rec.Clone()
		if r.SourceID == "" {
			r.SourceID = key
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}
