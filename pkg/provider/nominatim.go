package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint  = "https://nominatim.openstreetmap.org/search"
	DefaultLimit     = 5
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 1.0

	// responses larger than this are treated as malformed
	maxBodySize = 2 * 1024 * 1024
)

// Config configures a Nominatim client
type Config struct {
	Endpoint       string
	UserAgent      string
	Limit          int
	Timeout        time.Duration
	RequestsPerSec float64
	CacheTTL       time.Duration
}

// Nominatim is a Provider for OSM Nominatim compatible search endpoints
type Nominatim struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache.Cache
	config     Config
}

// NewNominatim creates a new search client
func NewNominatim(config Config) *Nominatim {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Limit <= 0 {
		config.Limit = DefaultLimit
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RequestsPerSec <= 0 {
		config.RequestsPerSec = DefaultRateLimit
	}
	if config.UserAgent == "" {
		config.UserAgent = "placeahead"
	}

	n := &Nominatim{
		endpoint: config.Endpoint,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSec), 1),
		config:  config,
	}
	if config.CacheTTL > 0 {
		n.cache = cache.New(config.CacheTTL, 2*config.CacheTTL)
	}
	return n
}

// WithHTTPClient replaces the HTTP client
func (n *Nominatim) WithHTTPClient(client *http.Client) *Nominatim {
	n.httpClient = client
	return n
}

// Search returns up to Limit suggestions for query
func (n *Nominatim) Search(ctx context.Context, query string) ([]Suggestion, error) {
	key := cacheKey(query)
	if n.cache != nil {
		if val, found := n.cache.Get(key); found {
			return cloneSuggestions(val.([]Suggestion)), nil
		}
	}

	// Third-party rate limit
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := n.newRequest(ctx, query)
	if err != nil {
		return nil, err
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &StatusError{
			Code:       resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	var places []place
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&places); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	suggestions := make([]Suggestion, 0, len(places))
	for _, p := range places {
		if p.DisplayName == "" {
			continue
		}
		suggestions = append(suggestions, p.toSuggestion())
	}

	if n.cache != nil {
		n.cache.Set(key, suggestions, cache.DefaultExpiration)
	}
	return cloneSuggestions(suggestions), nil
}

func (n *Nominatim) newRequest(ctx context.Context, query string) (*http.Request, error) {
	params := url.Values{
		"q":              {query},
		"format":         {"json"},
		"limit":          {strconv.Itoa(n.config.Limit)},
		"addressdetails": {"1"},
	}

	sep := "?"
	if strings.Contains(n.endpoint, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+sep+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("User-Agent", n.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func cacheKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func cloneSuggestions(in []Suggestion) []Suggestion {
	out := make([]Suggestion, len(in))
	copy(out, in)
	return out
}
