package repair

import (
	"time"

	"github.com/signetai/signet/internal/types"
)

// limiter tracks one action's run history. The hour window is fixed from
// the first run inside it rather than sliding, which keeps the state to
// three fields and makes budget resets predictable.
type limiter struct {
	lastRunAt   time.Time
	hourlyCount int
	hourResetAt time.Time
}

// admit checks the cooldown and hourly budget against now, and records
// the run when admitted. Denials return a rate_limited error and leave
// the state untouched.
func (l *limiter) admit(now time.Time, cooldown time.Duration, budget int) error {
	if now.After(l.hourResetAt) {
		l.hourlyCount = 0
		l.hourResetAt = now.Add(time.Hour)
	}
	if cooldown > 0 && !l.lastRunAt.IsZero() {
		if since := now.Sub(l.lastRunAt); since < cooldown {
			return types.Ef(types.KindRateLimited,
				"cooldown active (retry in %s)", (cooldown - since).Round(time.Second))
		}
	}
	if budget > 0 && l.hourlyCount >= budget {
		return types.Ef(types.KindRateLimited,
			"hourly budget of %d exhausted (resets %s)", budget, l.hourResetAt.Format(time.RFC3339))
	}
	l.lastRunAt = now
	l.hourlyCount++
	return nil
}
