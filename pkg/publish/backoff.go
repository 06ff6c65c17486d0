package publish

import (
	"math/rand"
	"time"
)

// Backoff computes capped exponential retry delays with jitter. Jitter
// spreads retry storms from concurrent workers hitting the same stalled
// gate.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // fraction of the delay randomized, 0..1
}

// DefaultBackoff mirrors the retry posture used against the ingestion gate:
// quick first retry, capped well under the decision deadline.
var DefaultBackoff = Backoff{
	Base:   50 * time.Millisecond,
	Max:    2 * time.Second,
	Factor: 2,
	Jitter: 0.2,
}

// Delay returns the wait before retry attempt n (first retry is n=1). The
// jitter is additive on top of the capped delay, uniform in
// [0, Jitter*delay), so the deterministic delay is a floor, not a midpoint.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	if b.Jitter > 0 {
		d += rand.Float64() * b.Jitter * d
	}
	return time.Duration(d)
}
