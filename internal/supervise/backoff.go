package supervise

import (
	rand "math/rand/v2"
	"time"
)

// jitterBackoff returns the next restart delay using decorrelated jitter with a cap.
//
//	next = min(cap, base + rand[0, prev*mult-base))
//
// prev <= 0 starts from base; mult < 1 means no growth; cap < base returns cap.
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	spread := time.Duration(float64(prev)*mult) - base
	if spread <= 0 {
		spread = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(spread))
	} else {
		jitter = rand.Int64N(int64(spread)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// newRetryRNG returns a seeded RNG for deterministic tests, or nil for seed 0
// so callers fall back to the package-level generator.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}
