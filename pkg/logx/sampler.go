package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Sampler bounds how often a noisy call site may log.
//
// A nil *Sampler allows everything.
type Sampler struct {
	lim     *rate.Limiter
	dropped atomic.Uint64
}

// NewSampler allows perSec events per second with the given burst.
func NewSampler(perSec float64, burst int) *Sampler {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Sampler{lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (s *Sampler) Allow() bool {
	if s == nil || s.lim == nil {
		return true
	}
	return s.lim.Allow()
}

// Dropped reports how many log calls were suppressed.
func (s *Sampler) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

func (s *Sampler) noteDropped() {
	if s != nil {
		s.dropped.Add(1)
	}
}
