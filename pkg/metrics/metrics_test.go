package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMetrics_Counts(t *testing.T) {
	// Given a session that issued three requests
	m := NewSessionMetrics()
	m.RecordIssued()
	m.RecordIssued()
	m.RecordIssued()

	// When the executor reports their outcomes
	m.RecordRequest(RequestMetric{Query: "Lis", Outcome: OutcomeCancelled})
	m.RecordRequest(RequestMetric{Query: "Lisb", Outcome: OutcomeDelivered, Duration: 200 * time.Millisecond, Results: 5})
	m.RecordRequest(RequestMetric{Query: "Lisbo", Outcome: OutcomeFailed, Duration: 400 * time.Millisecond, StatusCode: 503})
	m.RecordApplied()
	m.RecordStale()
	m.RecordSuppressedTick()

	// Then the summary reflects every counter
	s := m.Summary()
	assert.Equal(t, 3, s.Issued)
	assert.Equal(t, 1, s.Delivered)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, 1, s.Applied)
	assert.Equal(t, 1, s.Stale)
	assert.Equal(t, 1, s.SuppressedTicks)
	assert.InDelta(t, 0.3, s.AverageLatencySecond, 1e-9)
	require.Len(t, s.Requests, 3)
	assert.Equal(t, QueryHash("Lis"), s.Requests[0].QueryHash)
}

func TestSessionMetrics_BoundedHistory(t *testing.T) {
	m := NewSessionMetrics()
	for i := 0; i < maxTrackedRequests+10; i++ {
		m.RecordRequest(RequestMetric{Query: "Par", Outcome: OutcomeDelivered})
	}

	s := m.Summary()
	assert.Len(t, s.Requests, maxTrackedRequests)
	assert.Equal(t, maxTrackedRequests+10, s.Delivered)
}

func TestRequestMetric_JSON(t *testing.T) {
	// Given a request metric
	metric := RequestMetric{
		Token:    "tok",
		Query:    "Lisbon",
		Duration: 1500 * time.Millisecond,
		Outcome:  OutcomeDelivered,
		Results:  2,
	}

	// When serializing to JSON
	data, err := json.Marshal(&metric)
	require.NoError(t, err)

	// Then duration is expressed in seconds
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1.5, decoded["duration_seconds"])
	assert.Equal(t, "delivered", decoded["outcome"])
	assert.Equal(t, "Lisbon", decoded["query"])
	assert.NotContains(t, decoded, "Duration")
}

func TestQueryHash(t *testing.T) {
	hash1 := QueryHash("Lisbon Portugal")
	hash2 := QueryHash("  lisbon   portugal ")
	hash3 := QueryHash("Porto")

	assert.Len(t, hash1, 8)
	assert.Equal(t, hash1, hash2)
	assert.NotEqual(t, hash1, hash3)
}

func TestMultiRecorder(t *testing.T) {
	a := NewSessionMetrics()
	b := NewSessionMetrics()
	multi := MultiRecorder{a, nil, b}

	multi.RecordRequest(RequestMetric{Query: "Par", Outcome: OutcomeFailed})

	assert.Equal(t, 1, a.Summary().Failed)
	assert.Equal(t, 1, b.Summary().Failed)
}
