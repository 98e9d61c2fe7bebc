// Package backoff computes the wait before an automatic retry of a
// failed export job. The delay is a pure function of the persisted retry
// count so that every worker process schedules the same next_run_at.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

// NewPolicy returns the production policy: exponential growth from base,
// capped at max, with jitter enabled to spread concurrent re-claims.
func NewPolicy(base, max time.Duration, factor float64) *Policy {
	return &Policy{
		Base:   base,
		Max:    max,
		Factor: factor,
		Jitter: true,
	}
}

// Default mirrors the historical schedule: 1s, 2s, 4s, ... capped at 5m.
func Default() *Policy {
	return NewPolicy(time.Second, 5*time.Minute, 2.0)
}

// Delay returns the wait before attempt retryCount. retryCount 1 is the
// first retry. With jitter the result is scaled into [0.5, 1.0] of the
// exponential value; it never exceeds Max.
func (p *Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.Base
	}

	d := float64(p.Base) * math.Pow(p.Factor, float64(retryCount-1))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}

	if p.Jitter {
		d = d * (0.5 + rand.Float64()*0.5)
	}

	return time.Duration(d)
}
