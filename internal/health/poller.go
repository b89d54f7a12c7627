package health

import (
	"context"
	"time"

	"github.com/jmallek/svcpilot/internal/svcerr"
)

// Poller repeats a probe at a fixed interval until it succeeds or the
// attempt budget is exhausted. Total wall clock is bounded by
// MaxAttempts * Interval plus one probe timeout.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

// Wait blocks until the prober reports healthy, the attempt budget
// runs out (svcerr.ErrHealthCheckTimedOut), or ctx is canceled.
// Exactly one probe is issued per attempt. onAttempt, if non-nil, is
// called before each probe with the attempt number (1-based) and the
// budget consumed as a percentage; it must not block.
func (p Poller) Wait(ctx context.Context, pr Prober, onAttempt func(attempt, percent int)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onAttempt != nil {
			onAttempt(attempt, attempt*100/max)
		}
		pctx, cancel := clampTimeout(ctx, interval)
		err := pr.Probe(pctx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == max {
			break
		}
		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return svcerr.ErrHealthCheckTimedOut
}
