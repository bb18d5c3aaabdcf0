package session

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig spaces out connect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter scales each delay by a factor in [0.5, 1.5), never past MaxDelay.
	Jitter bool
}

// Delay returns the wait before retrying after failed attempt n (1-based).
// A nil rng applies the low end of the jitter range.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := max(b.Multiplier, 1.0)
	d := float64(b.InitialDelay)
	if n > 1 {
		d *= math.Pow(growth, float64(n-1))
	}
	if b.Jitter {
		factor := 0.5
		if rng != nil {
			factor += rng.Float64()
		}
		d *= factor
	}
	if b.MaxDelay > 0 {
		d = math.Min(d, float64(b.MaxDelay))
	}
	return time.Duration(d)
}
