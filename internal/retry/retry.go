// Package retry is the single retry policy helper. Call sites never hand-roll
// backoff loops; they wrap the operation in a Policy instead.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/errs"
)

// Policy describes a capped exponential backoff.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default matches the aggregator contract: 3 attempts, 500ms base, 4s cap.
var Default = Policy{MaxAttempts: 3, Base: 500 * time.Millisecond, Cap: 4 * time.Second}

// Do runs fn, retrying while the returned error is retriable per the error
// taxonomy. The delay before attempt n+1 is Base*2^(n-1), capped at Cap.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !errs.IsRetriable(err) {
			return err
		}

		delay := p.Delay(attempt)
		log.Debug().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("retrying")
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

// Delay returns the backoff before the attempt following attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// WithSleep returns a copy of the policy with a custom sleeper; tests only.
func (p Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
