// Package backoff computes how long the scheduler holds requests after the
// provider fails.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy defines the interface for backoff strategies
type Strategy interface {
	// Delay returns the duration to wait before the next request.
	// failures is 1-based (1 after the first consecutive failure).
	Delay(failures int) time.Duration
}

// Fixed implements a fixed delay strategy
type Fixed struct {
	Duration time.Duration
}

// NewFixed creates a new Fixed backoff strategy
func NewFixed(duration time.Duration) *Fixed {
	return &Fixed{
		Duration: duration,
	}
}

// Delay returns the fixed duration for any failure count
func (f *Fixed) Delay(failures int) time.Duration {
	return f.Duration
}

// Exponential implements an exponential backoff strategy
type Exponential struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// NewExponential creates a new Exponential backoff strategy
// baseDelay is the initial delay, multiplier is the factor to increase by each failure
// maxDelay is the maximum delay (0 means no limit)
func NewExponential(baseDelay time.Duration, multiplier float64, maxDelay time.Duration) *Exponential {
	return &Exponential{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
	}
}

// Delay returns the exponentially increasing delay for the given failure count
func (e *Exponential) Delay(failures int) time.Duration {
	if failures <= 0 {
		return e.BaseDelay
	}

	// baseDelay * multiplier^(failures-1)
	delay := float64(e.BaseDelay) * math.Pow(e.Multiplier, float64(failures-1))

	// Guard against float overflow before converting
	if e.MaxDelay > 0 && delay > float64(e.MaxDelay) {
		return e.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// Jitter implements full-jitter exponential backoff
type Jitter struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// NewJitter creates a new Jitter backoff strategy
func NewJitter(baseDelay time.Duration, multiplier float64, maxDelay time.Duration) *Jitter {
	return &Jitter{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
	}
}

// Delay returns a random delay between 0 and the exponential delay
func (j *Jitter) Delay(failures int) time.Duration {
	ceiling := NewExponential(j.BaseDelay, j.Multiplier, j.MaxDelay).Delay(failures)
	return time.Duration(rand.Float64() * float64(ceiling))
}

// New builds a strategy by name. An unknown or "none" name returns nil.
func New(name string, base, maxDelay time.Duration) Strategy {
	switch name {
	case "fixed":
		return NewFixed(base)
	case "exponential":
		return NewExponential(base, 2.0, maxDelay)
	case "jitter":
		return NewJitter(base, 2.0, maxDelay)
	default:
		return nil
	}
}
