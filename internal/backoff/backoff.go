package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy controls retry budget and delay growth for the processing pipeline.
// Construct once (usually from config), validate, and pass by value.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterRatio   float64
}

// DefaultPolicy returns the stock policy: 3 retries, 500ms initial delay,
// 10s cap, doubling, ±20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterRatio:   0.4,
	}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("backoff: max retries must be >= 1, got %d", p.MaxRetries)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("backoff: initial delay must be positive, got %s", p.InitialDelay)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("backoff: max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	}
	if p.BackoffFactor < 1 {
		return fmt.Errorf("backoff: factor must be >= 1, got %g", p.BackoffFactor)
	}
	if p.JitterRatio < 0 || p.JitterRatio > 1 {
		return fmt.Errorf("backoff: jitter ratio must be in [0,1], got %g", p.JitterRatio)
	}
	return nil
}

// Delay returns the jittered delay before retry attempt `attempt` (1-based).
// The base is min(maxDelay, initialDelay * factor^(attempt-1)); jitter
// multiplies it by a uniform factor in [1-jitter/2, 1+jitter/2] so
// concurrently-failing messages do not retry in lockstep. MaxDelay bounds
// the result even after jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.base(attempt)
	if p.JitterRatio == 0 {
		return base
	}
	factor := 1 - p.JitterRatio/2 + rand.Float64()*p.JitterRatio
	d := time.Duration(float64(base) * factor)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}
