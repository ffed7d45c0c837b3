package request

// CreateGuestRequest is the request body for creating a guest player
type CreateGuestRequest struct {
	DisplayName string `json:"display_name"`
}

// RegisterRequest is the request body for registering a player
type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PlaceRequest is the request body for placing a cell.
// ClientTimestamp is accepted for compatibility and ignored.
type PlaceRequest struct {
	X               *int   `json:"x"`
	Y               *int   `json:"y"`
	Color           string `json:"color"`
	ClientTimestamp *int64 `json:"client_timestamp,omitempty"`
}

// PaletteRequest is the request body for replacing a user's palette
type PaletteRequest struct {
	Colors []string `json:"colors"`
}
