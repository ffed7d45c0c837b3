package model

import "time"

// Player is a local account known to the built-in identity provider
type Player struct {
	ID          UserID
	DisplayName string
	IsGuest     bool // true for unregistered players
	CreatedAt   time.Time
}

// Identity returns the canvas identity for this player
func (p *Player) Identity() Identity {
	return Identity{UserID: p.ID, DisplayName: p.DisplayName}
}

// RegisteredPlayer extends Player with authentication data
// Stored separately for security (password never in memory with session)
type RegisteredPlayer struct {
	PlayerID     UserID
	Username     string // login username (immutable)
	PasswordHash string // bcrypt hash
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
