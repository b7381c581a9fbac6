package monitoring

import "sourcewatch/models"

// ComputeFleetMetrics fills derived fleet-wide fields from the record set.
// Server-reported values win, including a reported zero; only fields the
// payload omitted are computed locally, so applying the same snapshot twice
// yields the same metrics.
func ComputeFleetMetrics(metrics models.FleetMetrics, sources map[string]models.SourceHealthRecord) models.FleetMetrics {
	if len(sources) == 0 {
		return metrics
	}

	if metrics.TotalSources == 0 && !metrics.Reported.TotalSources {
		metrics.TotalSources = len(sources)
	}

	var active int
	var uptimeSum, responseSum, scoreSum float64
	for _, rec := range sources {
		if rec.Status == models.SourceOnline {
			active++
		}
		uptimeSum += rec.Uptime
		responseSum += rec.ResponseTimeMs
		scoreSum += rec.HealthScore()
	}

	n := float64(len(sources))
	if metrics.ActiveSources == 0 && !metrics.Reported.ActiveSources {
		metrics.ActiveSources = active
	}
	if metrics.AverageUptime == 0 && !metrics.Reported.AverageUptime {
		metrics.AverageUptime = uptimeSum / n
	}
	if metrics.AverageResponseTimeMs == 0 && !metrics.Reported.AverageResponseTimeMs {
		metrics.AverageResponseTimeMs = responseSum / n
	}
	if metrics.SystemHealthScore == 0 && !metrics.Reported.SystemHealthScore {
		// Equal-weight mean of per-record health.
		metrics.SystemHealthScore = scoreSum / n
	}
	return metrics
}
