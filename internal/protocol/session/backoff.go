package session

import (
	"math"
	"math/rand"
	"time"
)

// Delay returns the wait before reconnect attempt N (1-based). A nil rng
// with Jitter set applies the midpoint factor.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return b.InitialDelay
	}
	mult := math.Max(b.Multiplier, 1.0)
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 1.0
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
