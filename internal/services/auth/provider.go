package auth

import (
	"context"

	"github.com/mcoot/pxcanvas/internal/model"
)

// IdentityProvider turns a bearer token into the caller's identity.
// Tokens are issued elsewhere; the canvas only verifies them.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (*model.Identity, error)
}
