package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Common errors used across the application
var (
	// Player errors
	ErrPlayerNotFound = errors.New("player not found")

	// Placement errors
	ErrOutOfBounds      = errors.New("coordinate is outside the canvas")
	ErrInvalidColor     = errors.New("invalid color")
	ErrInvalidCoordKey  = errors.New("invalid coordinate key")
	ErrOnCooldown       = errors.New("user is on cooldown")
	ErrStoreUnavailable = errors.New("canvas store unavailable")

	// Canvas errors
	ErrCellNotFound    = errors.New("cell not found")
	ErrRevisionTooOld  = errors.New("revision is no longer in the delta log")
	ErrRevisionAhead   = errors.New("revision is ahead of the store")
	ErrPaletteTooLarge = errors.New("palette has too many colors")

	// Subscription errors
	ErrSubscriptionLost = errors.New("subscription lost")
)

// OnCooldownError is returned when a user places before their cooldown ends
type OnCooldownError struct {
	NextEligibleAt time.Time
	RetryAfter     time.Duration
	TotalPlaced    int64
}

func (e *OnCooldownError) Error() string {
	return fmt.Sprintf("on cooldown, retry after %ds", e.RetryAfterSeconds())
}

// Is makes errors.Is(err, ErrOnCooldown) match
func (e *OnCooldownError) Is(target error) bool {
	return target == ErrOnCooldown
}

// RetryAfterSeconds rounds the remaining cooldown up to whole seconds
func (e *OnCooldownError) RetryAfterSeconds() int {
	return CeilSeconds(e.RetryAfter)
}

// CeilSeconds rounds a positive duration up to whole seconds, never below 1
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
