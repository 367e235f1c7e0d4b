// Package breaker implements the per-candidate EMA circuit breaker. It is
// pure state-transition logic: the store owns the rows and the clock, and
// calls in here to advance them. Keeping the arithmetic store-free means the
// exact same transitions run against the in-memory, badger, and postgres
// backends.
package breaker

import (
	"time"

	"github.com/voidmaw/regrip/api/schemas"
)

// Params are the breaker tuning knobs. Zero values are not usable; start
// from Defaults() and override from config.
type Params struct {
	Alpha         float64       // EMA smoothing factor for the failure estimate.
	MinSamples    int           // Minimum attempts before the breaker may trip.
	FailThreshold float64       // EMA level at which a CLOSED breaker opens.
	Cooldown      time.Duration // Quarantine duration once opened.
}

// Defaults returns the tuning used in production.
func Defaults() Params {
	return Params{
		Alpha:         0.25,
		MinSamples:    5,
		FailThreshold: 0.5,
		Cooldown:      30 * time.Second,
	}
}

// failureWeights grades how badly each outcome counts against a candidate.
// A misclick or state mismatch is a full failure; a timeout is half of one,
// since the element may simply have been slow.
var failureWeights = map[schemas.Outcome]float64{
	schemas.OutcomeSuccess:       0.0,
	schemas.OutcomeTimeout:       0.5,
	schemas.OutcomeNotFound:      0.7,
	schemas.OutcomeMisclick:      1.0,
	schemas.OutcomeStateMismatch: 1.0,
}

// Weight returns the failure weight for an outcome. Unknown outcomes return
// false; callers validate before reaching this point.
func Weight(o schemas.Outcome) (float64, bool) {
	w, ok := failureWeights[o]
	return w, ok
}

// Refresh performs the lazy OPEN -> HALF_OPEN transition. It must be called
// with the current time on every read or write of a row before the row is
// interpreted; there is deliberately no background timer doing this.
// It reports whether the row is open after the refresh.
func (p Params) Refresh(row *schemas.BreakerRow, now time.Time) bool {
	if row.Phase == schemas.BreakerOpen && !now.Before(row.OpenUntil) {
		row.Phase = schemas.BreakerHalfOpen
	}
	return row.Phase == schemas.BreakerOpen
}

// Apply folds one outcome into the row and runs the state machine. The
// caller is responsible for persisting the mutated row in the same
// transaction as the paired stats update.
func (p Params) Apply(row *schemas.BreakerRow, outcome schemas.Outcome, now time.Time) {
	p.Refresh(row, now)

	weight, ok := failureWeights[outcome]
	if !ok {
		// Validated upstream; an unknown outcome here is a bug, not data.
		panic("breaker: unknown outcome " + string(outcome))
	}

	row.EMAFail = p.Alpha*weight + (1-p.Alpha)*row.EMAFail
	row.Attempts++

	switch row.Phase {
	case schemas.BreakerClosed:
		if row.EMAFail >= p.FailThreshold && row.Attempts >= p.MinSamples {
			row.Phase = schemas.BreakerOpen
			row.OpenUntil = now.Add(p.Cooldown)
		}
	case schemas.BreakerHalfOpen:
		// One probe decides: a clean success closes the breaker and wipes
		// the estimate; anything failure-grade reopens it for a fresh
		// cooldown. Soft outcomes below the 0.5 line leave it half-open.
		if outcome == schemas.OutcomeSuccess {
			row.Phase = schemas.BreakerClosed
			row.EMAFail = 0
			row.Attempts = 0
		} else if weight >= 0.5 {
			row.Phase = schemas.BreakerOpen
			row.OpenUntil = now.Add(p.Cooldown)
		}
	case schemas.BreakerOpen:
		// Outcomes reported while open (a caller raced the quarantine) still
		// feed the EMA but cannot change phase until the cooldown runs out.
	}
}
