// Package storage keeps a log of provider requests and aggregates it.
package storage

import (
	"sort"
	"time"

	"github.com/shaneisley/placeahead/pkg/metrics"
)

// maxTopQueries bounds AggregatedStats.TopQueries
const maxTopQueries = 10

// StoredRequest is one row of the request log
type StoredRequest struct {
	ID     int64                 `json:"id"`
	Metric metrics.RequestMetric `json:"metric"`
}

// AggregatedStats represents aggregated statistics over a time period
type AggregatedStats struct {
	TimeRange       TimeRange     `json:"time_range"`
	TotalRequests   int           `json:"total_requests"`
	Delivered       int           `json:"delivered"`
	Failed          int           `json:"failed"`
	Cancelled       int           `json:"cancelled"`
	RateLimited     int           `json:"rate_limited"`
	FailureRate     float64       `json:"failure_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	AverageResults  float64       `json:"average_results"`
	TopQueries      []QueryStats  `json:"top_queries"`
	HourlyBreakdown []HourlyStats `json:"hourly_breakdown"`
}

// TimeRange represents a time range for aggregation
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// QueryStats represents statistics for one normalized query
type QueryStats struct {
	QueryHash   string        `json:"query_hash"`
	Example     string        `json:"example"`
	Count       int           `json:"count"`
	FailureRate float64       `json:"failure_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// HourlyStats represents statistics for a specific hour
type HourlyStats struct {
	Hour          time.Time `json:"hour"`
	TotalRequests int       `json:"total_requests"`
	Failed        int       `json:"failed"`
}

// Aggregate folds request rows into AggregatedStats. Cancelled requests count
// towards totals but not towards latency, results or failure rate.
func Aggregate(rows []StoredRequest, start, end time.Time) *AggregatedStats {
	stats := &AggregatedStats{
		TimeRange: TimeRange{Start: start, End: end},
	}
	if len(rows) == 0 {
		return stats
	}

	var totalDuration time.Duration
	var totalResults int
	queryStats := make(map[string]*QueryStats)
	queryDurations := make(map[string]time.Duration)
	queryCompleted := make(map[string]int)
	hourlyStats := make(map[int64]*HourlyStats)

	for _, row := range rows {
		m := row.Metric
		stats.TotalRequests++

		switch m.Outcome {
		case metrics.OutcomeDelivered:
			stats.Delivered++
		case metrics.OutcomeFailed:
			stats.Failed++
		case metrics.OutcomeCancelled:
			stats.Cancelled++
		}
		if m.StatusCode == 429 || m.StatusCode == 503 {
			stats.RateLimited++
		}
		completed := m.Outcome != metrics.OutcomeCancelled
		if completed {
			totalDuration += m.Duration
			totalResults += m.Results
		}

		hash := m.QueryHash
		if hash == "" {
			hash = metrics.QueryHash(m.Query)
		}
		qs, exists := queryStats[hash]
		if !exists {
			qs = &QueryStats{QueryHash: hash, Example: m.Query}
			queryStats[hash] = qs
		}
		qs.Count++
		if completed {
			queryCompleted[hash]++
			queryDurations[hash] += m.Duration
			if m.Outcome == metrics.OutcomeFailed {
				qs.FailureRate++
			}
		}

		hour := m.Timestamp.Truncate(time.Hour)
		hs, exists := hourlyStats[hour.Unix()]
		if !exists {
			hs = &HourlyStats{Hour: hour}
			hourlyStats[hour.Unix()] = hs
		}
		hs.TotalRequests++
		if m.Outcome == metrics.OutcomeFailed {
			hs.Failed++
		}
	}

	if completed := stats.Delivered + stats.Failed; completed > 0 {
		stats.FailureRate = float64(stats.Failed) / float64(completed)
		stats.AverageDuration = totalDuration / time.Duration(completed)
		stats.AverageResults = float64(totalResults) / float64(completed)
	}

	for hash, qs := range queryStats {
		if n := queryCompleted[hash]; n > 0 {
			qs.FailureRate /= float64(n)
			qs.AvgDuration = queryDurations[hash] / time.Duration(n)
		}
	}

	stats.TopQueries = sortQueryStats(queryStats)
	stats.HourlyBreakdown = sortHourlyStats(hourlyStats)
	return stats
}

// sortQueryStats converts query stats map to sorted slice
func sortQueryStats(queryStats map[string]*QueryStats) []QueryStats {
	var stats []QueryStats
	for _, stat := range queryStats {
		stats = append(stats, *stat)
	}

	// Sort by count (descending), then hash for a stable order
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].QueryHash < stats[j].QueryHash
	})

	if len(stats) > maxTopQueries {
		stats = stats[:maxTopQueries]
	}

	return stats
}

// sortHourlyStats converts hourly stats map to sorted slice
func sortHourlyStats(hourlyStats map[int64]*HourlyStats) []HourlyStats {
	var stats []HourlyStats
	for _, stat := range hourlyStats {
		stats = append(stats, *stat)
	}

	// Sort by hour (ascending)
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Hour.Before(stats[j].Hour)
	})

	return stats
}
