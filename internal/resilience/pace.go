package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a fixed pause between sequential calls to an external
// service. The pause is measured from the end of one item to the start of
// the next, so slow items never eat into it. The first Wait returns
// immediately.
type Pacer struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// NewPacer creates a Pacer. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{interval: interval, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next item may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Done marks the end of the current item. The next Wait blocks for the full
// interval counted from now.
func (p *Pacer) Done() {
	if p.interval <= 0 {
		return
	}
	lim := rate.NewLimiter(rate.Every(p.interval), 1)
	lim.Allow()
	p.limiter = lim
}
