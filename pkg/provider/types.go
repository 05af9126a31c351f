// Package provider queries a remote geocoding search endpoint for place suggestions.
package provider

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Coordinates is a (lon, lat) pair in degrees
type Coordinates struct {
	Lon float64 `json:"lon" msgpack:"lon"`
	Lat float64 `json:"lat" msgpack:"lat"`
}

// Suggestion is one ranked place match. Suggestions are never mutated after
// they are returned.
type Suggestion struct {
	ID          string       `json:"id" msgpack:"id"`
	DisplayText string       `json:"display_text" msgpack:"d"`
	Coordinates *Coordinates `json:"coordinates,omitempty" msgpack:"c,omitempty"`
	Metadata    string       `json:"metadata" msgpack:"m"`
}

// Provider searches for place suggestions
type Provider interface {
	Search(ctx context.Context, query string) ([]Suggestion, error)
}

// Func adapts a function to the Provider interface
type Func func(ctx context.Context, query string) ([]Suggestion, error)

// Search calls f
func (f Func) Search(ctx context.Context, query string) ([]Suggestion, error) {
	return f(ctx, query)
}

// Empty is a provider that always returns no suggestions
var Empty Provider = Func(func(ctx context.Context, query string) ([]Suggestion, error) {
	return []Suggestion{}, nil
})

// StatusError is returned for non-2xx provider responses
type StatusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider returned HTTP %d (retry after %s)", e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("provider returned HTTP %d", e.Code)
}

// RateLimited reports whether the provider asked us to slow down
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusServiceUnavailable
}

// place is the subset of a search result we read
type place struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Type        string `json:"type"`
	Class       string `json:"class"`
}

func (p place) toSuggestion() Suggestion {
	s := Suggestion{
		ID:          suggestionID(p.DisplayName, p.Lat, p.Lon),
		DisplayText: p.DisplayName,
		Metadata:    metadata(p.Class, p.Type),
	}

	lat, latErr := strconv.ParseFloat(p.Lat, 64)
	lon, lonErr := strconv.ParseFloat(p.Lon, 64)
	if latErr == nil && lonErr == nil {
		s.Coordinates = &Coordinates{Lon: lon, Lat: lat}
	}
	return s
}

func metadata(class, typ string) string {
	switch {
	case class == "" && typ == "":
		return ""
	case class == "":
		return typ
	case typ == "":
		return class
	}
	return class + "/" + typ
}

// suggestionID creates a stable short id for a place
func suggestionID(displayName, lat, lon string) string {
	hash := sha256.Sum256([]byte(strings.Join([]string{displayName, lat, lon}, "|")))
	return fmt.Sprintf("%x", hash)[:8]
}

// maxRetryAfter bounds absurd Retry-After values before conversion
const maxRetryAfter = 24 * time.Hour

// parseRetryAfter reads a Retry-After header as seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if seconds <= 0 {
			return 0
		}
		if seconds > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := when.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
