package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guardianlink/internal/storage"
)

func TestIssueParse(t *testing.T) {
	signer := NewSigner("secret", time.Hour)

	u := storage.User{
		ID:             "user-1",
		Role:           storage.RoleTeacher,
		OrganizationID: "org-1",
	}

	token, err := signer.Issue(u)
	require.NoError(t, err)

	claims, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, storage.RoleTeacher, claims.Role)
	require.Equal(t, "org-1", claims.OrganizationID)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := NewSigner("secret", time.Hour).Issue(storage.User{ID: "user-1"})
	require.NoError(t, err)

	_, err = NewSigner("other", time.Hour).Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpired(t *testing.T) {
	token, err := NewSigner("secret", -time.Minute).Issue(storage.User{ID: "user-1"})
	require.NoError(t, err)

	_, err = NewSigner("secret", time.Hour).Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := NewSigner("secret", time.Hour).Parse("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
