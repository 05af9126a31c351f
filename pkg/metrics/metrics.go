package metrics

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Outcome is how a provider call ended
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// maxTrackedRequests bounds the per-request history kept by a session
const maxTrackedRequests = 256

// RequestMetric represents metrics for a single provider call
type RequestMetric struct {
	Token      string        `json:"token"`
	Query      string        `json:"query"`
	QueryHash  string        `json:"query_hash"`
	Duration   time.Duration `json:"-"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Results    int           `json:"results"`
	Timestamp  time.Time     `json:"timestamp"`
}

// DurationSeconds returns the duration in seconds as a float64
func (r *RequestMetric) DurationSeconds() float64 {
	return float64(r.Duration) / float64(time.Second)
}

// MarshalJSON implements custom JSON marshaling for RequestMetric
func (r *RequestMetric) MarshalJSON() ([]byte, error) {
	type Alias RequestMetric
	return json.Marshal(&struct {
		DurationSeconds float64 `json:"duration_seconds"`
		*Alias
	}{
		DurationSeconds: r.DurationSeconds(),
		Alias:           (*Alias)(r),
	})
}

// Recorder receives one metric per finished provider call
type Recorder interface {
	RecordRequest(metric RequestMetric)
}

// MultiRecorder fans a metric out to several recorders
type MultiRecorder []Recorder

// RecordRequest forwards metric to every non-nil recorder
func (m MultiRecorder) RecordRequest(metric RequestMetric) {
	for _, r := range m {
		if r != nil {
			r.RecordRequest(metric)
		}
	}
}

// SessionMetrics counts what one input session did
type SessionMetrics struct {
	mu              sync.Mutex
	issued          int
	delivered       int
	applied         int
	stale           int
	cancelled       int
	failed          int
	suppressedTicks int
	requests        []RequestMetric
	startTime       time.Time
}

// Summary is a point-in-time view of SessionMetrics
type Summary struct {
	Issued               int             `json:"issued"`
	Delivered            int             `json:"delivered"`
	Applied              int             `json:"applied"`
	Stale                int             `json:"stale"`
	Cancelled            int             `json:"cancelled"`
	Failed               int             `json:"failed"`
	SuppressedTicks      int             `json:"suppressed_ticks"`
	AverageLatencySecond float64         `json:"average_latency_seconds"`
	UptimeSeconds        float64         `json:"uptime_seconds"`
	Requests             []RequestMetric `json:"requests"`
}

// NewSessionMetrics creates a new SessionMetrics instance
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{startTime: time.Now()}
}

// RecordIssued counts a request handed to the executor
func (s *SessionMetrics) RecordIssued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
}

// RecordRequest implements Recorder
func (s *SessionMetrics) RecordRequest(metric RequestMetric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch metric.Outcome {
	case OutcomeDelivered:
		s.delivered++
	case OutcomeFailed:
		s.failed++
	case OutcomeCancelled:
		s.cancelled++
	}

	if metric.QueryHash == "" {
		metric.QueryHash = QueryHash(metric.Query)
	}
	s.requests = append(s.requests, metric)
	if len(s.requests) > maxTrackedRequests {
		s.requests = s.requests[len(s.requests)-maxTrackedRequests:]
	}
}

// RecordApplied counts a response that reached visible state
func (s *SessionMetrics) RecordApplied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied++
}

// RecordStale counts a delivered response discarded for a superseded token
func (s *SessionMetrics) RecordStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale++
}

// RecordSuppressedTick counts a tick that would have fired but was held back
func (s *SessionMetrics) RecordSuppressedTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressedTicks++
}

// Summary returns a copy of the current counters
func (s *SessionMetrics) Summary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests := make([]RequestMetric, len(s.requests))
	copy(requests, s.requests)

	var total time.Duration
	var timed int
	for _, r := range requests {
		if r.Outcome != OutcomeCancelled {
			total += r.Duration
			timed++
		}
	}
	var avg float64
	if timed > 0 {
		avg = float64(total) / float64(timed) / float64(time.Second)
	}

	return &Summary{
		Issued:               s.issued,
		Delivered:            s.delivered,
		Applied:              s.applied,
		Stale:                s.stale,
		Cancelled:            s.cancelled,
		Failed:               s.failed,
		SuppressedTicks:      s.suppressedTicks,
		AverageLatencySecond: avg,
		UptimeSeconds:        time.Since(s.startTime).Seconds(),
		Requests:             requests,
	}
}

// QueryHash creates a consistent short hash for a query
func QueryHash(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	hash := sha256.Sum256([]byte(normalized))
	// First 8 characters of hex representation
	return fmt.Sprintf("%x", hash)[:8]
}
