package auth

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go"
	firebaseauth "firebase.google.com/go/auth"
	"google.golang.org/api/option"

	"github.com/mcoot/pxcanvas/internal/model"
)

// tokenVerifier is the part of the Firebase Auth client the provider uses
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseProvider verifies Firebase ID tokens
type FirebaseProvider struct {
	verifier tokenVerifier
}

// Ensure FirebaseProvider implements IdentityProvider
var _ IdentityProvider = (*FirebaseProvider)(nil)

// NewFirebaseProvider creates a provider for a Firebase project. If
// credentialsFile is empty, application default credentials are used.
func NewFirebaseProvider(ctx context.Context, projectID, credentialsFile string) (*FirebaseProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase auth client: %w", err)
	}

	return &FirebaseProvider{verifier: client}, nil
}

// Authenticate verifies an ID token and maps its claims to an identity
func (p *FirebaseProvider) Authenticate(ctx context.Context, token string) (*model.Identity, error) {
	verified, err := p.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return &model.Identity{
		UserID:      model.UserID(verified.UID),
		DisplayName: displayNameFromClaims(verified),
	}, nil
}

// displayNameFromClaims prefers the profile name, then the email's local
// part, then the uid
func displayNameFromClaims(token *firebaseauth.Token) string {
	if name, ok := token.Claims["name"].(string); ok && name != "" {
		return name
	}
	if email, ok := token.Claims["email"].(string); ok && email != "" {
		local, _, _ := strings.Cut(email, "@")
		return local
	}
	return token.UID
}
