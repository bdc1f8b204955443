// Package timer derives observer countdowns from a round's server-recorded
// creation time. No client-local timer start is ever trusted: an observer
// joining mid-round, reconnecting, or suffering clock drift re-derives the
// same remaining time as everyone else from the shared CreatedAt.
package timer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oddsworks/spindle/go/internal/models"
)

// RemainingSeconds returns the countdown value at the given instant, clamped
// to [0, duration]. Any round no longer ACTIVE reads as 0.
func RemainingSeconds(round *models.Round, now time.Time) int {
	if round.Status != models.RoundStatusActive || !round.Timed() {
		return 0
	}
	elapsed := int(now.Sub(round.CreatedAt) / time.Second)
	remaining := round.DurationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > round.DurationSeconds {
		return round.DurationSeconds
	}
	return remaining
}

// Countdown ticks an observer's countdown for one round, re-deriving the
// remaining time from CreatedAt on every tick rather than decrementing a
// local counter. onTick fires once per second including the final 0, after
// which Run returns.
type Countdown struct {
	clock clockwork.Clock
	round *models.Round
}

func NewCountdown(clock clockwork.Clock, round *models.Round) *Countdown {
	return &Countdown{clock: clock, round: round}
}

func (c *Countdown) Run(ctx context.Context, onTick func(remaining int)) error {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	onTick(RemainingSeconds(c.round, c.clock.Now()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			remaining := RemainingSeconds(c.round, c.clock.Now())
			onTick(remaining)
			if remaining == 0 {
				return nil
			}
		}
	}
}
