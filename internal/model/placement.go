package model

import "time"

// UserID identifies a user placing cells. It is issued by the identity
// provider and opaque to the canvas.
type UserID string

// Identity is an authenticated caller as reported by the identity provider
type Identity struct {
	UserID      UserID
	DisplayName string
}

// PlacementState is a user's cooldown record.
// A nil NextEligibleAt means the user may place immediately.
type PlacementState struct {
	UserID         UserID
	NextEligibleAt *time.Time
	TotalPlaced    int64
}

// PlacementCommit is everything the store needs to apply one placement
type PlacementCommit struct {
	Identity Identity
	Coord    Coord
	Color    Color
	Now      time.Time
}

// PlacementOutcome is the result of a committed placement
type PlacementOutcome struct {
	Delta Delta
	State PlacementState
}
