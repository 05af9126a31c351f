package backoff

import (
	"sync"
	"time"
)

// HTTPAware honours a server-specified Retry-After and falls back to another
// strategy when the server gave none.
type HTTPAware struct {
	fallbackStrategy Strategy
	maxRetryAfter    time.Duration

	mu             sync.Mutex
	lastRetryAfter time.Duration
}

// NewHTTPAware creates a new HTTP-aware backoff strategy
// fallback is the strategy to use when no Retry-After is known
// maxRetryAfter caps the delay taken from responses (0 means no cap)
func NewHTTPAware(fallback Strategy, maxRetryAfter time.Duration) *HTTPAware {
	return &HTTPAware{
		fallbackStrategy: fallback,
		maxRetryAfter:    maxRetryAfter,
	}
}

// Delay returns the server-specified delay if one was observed, otherwise
// the fallback delay
func (h *HTTPAware) Delay(failures int) time.Duration {
	h.mu.Lock()
	retryAfter := h.lastRetryAfter
	h.mu.Unlock()

	if retryAfter > 0 {
		return retryAfter
	}
	if h.fallbackStrategy == nil {
		return 0
	}
	return h.fallbackStrategy.Delay(failures)
}

// ObserveRetryAfter records the Retry-After of the latest failed response.
// Zero clears it.
func (h *HTTPAware) ObserveRetryAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastRetryAfter = h.capDelay(d)
}

// SetFallbackStrategy sets the fallback strategy
func (h *HTTPAware) SetFallbackStrategy(strategy Strategy) {
	h.fallbackStrategy = strategy
}

func (h *HTTPAware) capDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if h.maxRetryAfter > 0 && d > h.maxRetryAfter {
		return h.maxRetryAfter
	}
	return d
}
