package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lisbonResponse = `[
  {"place_id": 1, "display_name": "Lisbon, Portugal", "lat": "38.7077507", "lon": "-9.1365919", "type": "city", "class": "place", "importance": 0.8},
  {"display_name": "Lisboa, Portugal", "lat": "38.7", "lon": "not-a-number", "type": "administrative", "class": "boundary"},
  {"display_name": "", "lat": "1", "lon": "1", "type": "x", "class": "y"}
]`

func newTestClient(t *testing.T, handler http.HandlerFunc, ttl time.Duration) *Nominatim {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewNominatim(Config{
		Endpoint:       server.URL + "/search",
		UserAgent:      "placeahead-test",
		Limit:          5,
		Timeout:        2 * time.Second,
		RequestsPerSec: 1000,
		CacheTTL:       ttl,
	})
}

func TestNominatim_SendsQueryParameters(t *testing.T) {
	// Given a provider endpoint that records the request
	var got *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`[]`))
	}, 0)

	// When searching
	suggestions, err := client.Search(context.Background(), "Lis")

	// Then the request carries the provider parameters
	require.NoError(t, err)
	assert.Empty(t, suggestions)
	require.NotNil(t, got)
	assert.Equal(t, "/search", got.URL.Path)
	assert.Equal(t, "Lis", got.URL.Query().Get("q"))
	assert.Equal(t, "json", got.URL.Query().Get("format"))
	assert.Equal(t, "5", got.URL.Query().Get("limit"))
	assert.Equal(t, "1", got.URL.Query().Get("addressdetails"))
	assert.Equal(t, "placeahead-test", got.Header.Get("User-Agent"))
}

func TestNominatim_ParsesSuggestions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(lisbonResponse))
	}, 0)

	suggestions, err := client.Search(context.Background(), "Lis")

	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	first := suggestions[0]
	assert.Equal(t, "Lisbon, Portugal", first.DisplayText)
	assert.Equal(t, "place/city", first.Metadata)
	assert.Len(t, first.ID, 8)
	require.NotNil(t, first.Coordinates)
	assert.InDelta(t, -9.1365919, first.Coordinates.Lon, 1e-9)
	assert.InDelta(t, 38.7077507, first.Coordinates.Lat, 1e-9)

	second := suggestions[1]
	assert.Equal(t, "boundary/administrative", second.Metadata)
	assert.Nil(t, second.Coordinates)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestNominatim_NonSuccessStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}, 0)

	_, err := client.Search(context.Background(), "Lis")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	assert.Equal(t, 7*time.Second, statusErr.RetryAfter)
	assert.True(t, statusErr.RateLimited())
	assert.Contains(t, statusErr.Error(), "429")
}

func TestNominatim_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "not an array"`))
	}, 0)

	_, err := client.Search(context.Background(), "Lis")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode search response")
}

func TestNominatim_CachesByNormalizedQuery(t *testing.T) {
	// Given a caching client
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(lisbonResponse))
	}, time.Minute)

	// When searching twice for equivalent queries
	first, err := client.Search(context.Background(), "Lisbon  Port")
	require.NoError(t, err)
	second, err := client.Search(context.Background(), "lisbon port")
	require.NoError(t, err)

	// Then the endpoint was hit once and both results match
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first, second)
}

func TestNominatim_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 0)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Search(ctx, "Lis")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNominatim_Defaults(t *testing.T) {
	client := NewNominatim(Config{})

	assert.Equal(t, DefaultEndpoint, client.endpoint)
	assert.Equal(t, DefaultLimit, client.config.Limit)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
	assert.Nil(t, client.cache)
}

func TestNominatim_WithHTTPClient(t *testing.T) {
	// Given a TLS endpoint only its own client trusts
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(lisbonResponse))
	}))
	defer server.Close()

	client := NewNominatim(Config{Endpoint: server.URL + "/search", RequestsPerSec: 1000}).
		WithHTTPClient(server.Client())

	// When searching through the injected client
	suggestions, err := client.Search(context.Background(), "Lisbon")

	// Then the request succeeds
	require.NoError(t, err)
	assert.NotEmpty(t, suggestions)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, maxRetryAfter, parseRetryAfter("9223372036854775807", now))
	assert.Equal(t, maxRetryAfter, parseRetryAfter("99999999999999999999", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-99999999999999999999", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}

func TestFuncAndEmpty(t *testing.T) {
	called := ""
	p := Func(func(ctx context.Context, query string) ([]Suggestion, error) {
		called = query
		return nil, nil
	})

	_, err := p.Search(context.Background(), "Par")
	require.NoError(t, err)
	assert.Equal(t, "Par", called)

	res, err := Empty.Search(context.Background(), "Par")
	require.NoError(t, err)
	assert.Empty(t, res)
}
