package cooldown

import (
	"time"

	"github.com/mcoot/pxcanvas/internal/model"
)

// DefaultDuration is the minimum interval between one user's placements
const DefaultDuration = 20 * time.Second

// Policy decides when a user may place again. It is pure: stores call it
// inside their commit so the check and the update happen atomically.
type Policy struct {
	Duration time.Duration
}

// New creates a Policy. A zero duration disables the cooldown.
func New(d time.Duration) Policy {
	if d < 0 {
		d = 0
	}
	return Policy{Duration: d}
}

// CheckEligible reports whether the user may place at now
func (p Policy) CheckEligible(state model.PlacementState, now time.Time) bool {
	return state.NextEligibleAt == nil || !state.NextEligibleAt.After(now)
}

// RecordPlacement returns the state after a successful placement at now
func (p Policy) RecordPlacement(state model.PlacementState, now time.Time) model.PlacementState {
	next := now.Add(p.Duration)
	return model.PlacementState{
		UserID:         state.UserID,
		NextEligibleAt: &next,
		TotalPlaced:    state.TotalPlaced + 1,
	}
}

// RetryAfter is how long until the user may place; zero when eligible
func (p Policy) RetryAfter(state model.PlacementState, now time.Time) time.Duration {
	if p.CheckEligible(state, now) {
		return 0
	}
	return state.NextEligibleAt.Sub(now)
}

// Reject builds the error returned to an ineligible caller
func (p Policy) Reject(state model.PlacementState, now time.Time) *model.OnCooldownError {
	err := &model.OnCooldownError{
		RetryAfter:  p.RetryAfter(state, now),
		TotalPlaced: state.TotalPlaced,
	}
	if state.NextEligibleAt != nil {
		err.NextEligibleAt = *state.NextEligibleAt
	}
	return err
}

// DurationMillis is the cooldown in milliseconds, for stores that evaluate
// the policy server-side
func (p Policy) DurationMillis() int64 {
	return p.Duration.Milliseconds()
}
