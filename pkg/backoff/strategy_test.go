package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixed_Delay(t *testing.T) {
	// Given a fixed backoff strategy with 1200ms delay
	fixed := NewFixed(1200 * time.Millisecond)

	// When Delay() is called for different failure counts
	delay1 := fixed.Delay(1)
	delay2 := fixed.Delay(2)
	delay3 := fixed.Delay(3)

	// Then all delays should be the same
	assert.Equal(t, 1200*time.Millisecond, delay1)
	assert.Equal(t, 1200*time.Millisecond, delay2)
	assert.Equal(t, 1200*time.Millisecond, delay3)
}

func TestExponential_DelayIncreasesCorrectly(t *testing.T) {
	// Given an exponential backoff strategy with 100ms base delay
	exponential := NewExponential(100*time.Millisecond, 2.0, 0)

	// Then delays should increase exponentially: 100ms, 200ms, 400ms, 800ms
	assert.Equal(t, 100*time.Millisecond, exponential.Delay(1))
	assert.Equal(t, 200*time.Millisecond, exponential.Delay(2))
	assert.Equal(t, 400*time.Millisecond, exponential.Delay(3))
	assert.Equal(t, 800*time.Millisecond, exponential.Delay(4))
}

func TestExponential_WithMaxDelay(t *testing.T) {
	// Given an exponential backoff with max delay cap
	exponential := NewExponential(100*time.Millisecond, 2.0, 300*time.Millisecond)

	// Then delays should be capped at max delay
	assert.Equal(t, 100*time.Millisecond, exponential.Delay(1))
	assert.Equal(t, 200*time.Millisecond, exponential.Delay(2))
	assert.Equal(t, 300*time.Millisecond, exponential.Delay(3))
	assert.Equal(t, 300*time.Millisecond, exponential.Delay(4))
}

func TestExponential_EdgeCases(t *testing.T) {
	exponential := NewExponential(100*time.Millisecond, 2.0, 0)

	// Zero and negative failure counts return the base delay
	assert.Equal(t, 100*time.Millisecond, exponential.Delay(0))
	assert.Equal(t, 100*time.Millisecond, exponential.Delay(-1))

	// Huge failure counts do not overflow into negative durations
	assert.True(t, exponential.Delay(500) > 0)
}

func TestJitter_StaysWithinCeiling(t *testing.T) {
	jitter := NewJitter(100*time.Millisecond, 2.0, time.Second)

	for failures := 1; failures <= 8; failures++ {
		ceiling := NewExponential(100*time.Millisecond, 2.0, time.Second).Delay(failures)
		for i := 0; i < 20; i++ {
			d := jitter.Delay(failures)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, ceiling)
		}
	}
}

func TestNew_ByName(t *testing.T) {
	assert.IsType(t, &Fixed{}, New("fixed", time.Second, 0))
	assert.IsType(t, &Exponential{}, New("exponential", time.Second, 30*time.Second))
	assert.IsType(t, &Jitter{}, New("jitter", time.Second, 30*time.Second))
	assert.Nil(t, New("none", time.Second, 0))
	assert.Nil(t, New("", time.Second, 0))
}
