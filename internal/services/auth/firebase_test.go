package auth

import (
	"context"
	"errors"
	"testing"

	firebaseauth "firebase.google.com/go/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/pxcanvas/internal/model"
)

type stubVerifier struct {
	token *firebaseauth.Token
	err   error
}

func (v *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*firebaseauth.Token, error) {
	return v.token, v.err
}

func TestFirebaseProviderAuthenticate(t *testing.T) {
	tests := []struct {
		name     string
		claims   map[string]interface{}
		wantName string
	}{
		{name: "profile name", claims: map[string]interface{}{"name": "Ada", "email": "ada@example.com"}, wantName: "Ada"},
		{name: "email fallback", claims: map[string]interface{}{"email": "grace@example.com"}, wantName: "grace"},
		{name: "uid fallback", claims: map[string]interface{}{}, wantName: "uid-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &FirebaseProvider{verifier: &stubVerifier{
				token: &firebaseauth.Token{UID: "uid-1", Claims: tt.claims},
			}}

			identity, err := provider.Authenticate(context.Background(), "id-token")
			require.NoError(t, err)
			assert.Equal(t, model.Identity{UserID: "uid-1", DisplayName: tt.wantName}, *identity)
		})
	}
}

func TestFirebaseProviderRejectsInvalidToken(t *testing.T) {
	provider := &FirebaseProvider{verifier: &stubVerifier{err: errors.New("token expired")}}

	_, err := provider.Authenticate(context.Background(), "id-token")
	assert.ErrorIs(t, err, ErrInvalidSession)
}
