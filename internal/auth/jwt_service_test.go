package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestJWT(t *testing.T, secret string, clock func() time.Time) *JWTService {
	t.Helper()
	svc, err := NewJWTService(JWTConfig{
		Secret:         secret,
		Issuer:         "paydesk",
		AccessTokenTTL: time.Hour,
		Clock:          clock,
	})
	require.NoError(t, err)
	return svc
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestJWT(t, "super-secret", func() time.Time { return current })

	inputMeta := map[string]any{"role": "manager"}
	token, err := svc.GenerateAccessToken(AccessTokenInput{
		PrincipalID: "principal-123",
		SessionID:   "session-456",
		Audience:    []string{"api"},
		Metadata:    inputMeta,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Mutating the caller's map after issuing must not alter the claims.
	inputMeta["role"] = "viewer"

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "principal-123", claims.PrincipalID)
	require.Equal(t, "session-456", claims.SessionID)
	require.Equal(t, "paydesk", claims.Issuer)
	require.Equal(t, jwt.ClaimStrings{"api"}, claims.Audience)
	require.Equal(t, "manager", claims.Metadata["role"])
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestValidateAccessTokenRejectsForeignSignature(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC) }
	issuer := newTestJWT(t, "issuer-secret", clock)
	verifier := newTestJWT(t, "other-secret", clock)

	token, err := issuer.GenerateAccessToken(AccessTokenInput{PrincipalID: "principal-123"})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestValidateAccessTokenExpired(t *testing.T) {
	current := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	svc := newTestJWT(t, "secret", func() time.Time { return current })

	token, err := svc.GenerateAccessToken(AccessTokenInput{PrincipalID: "principal-123"})
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)

	_, err = svc.ValidateAccessToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestSecretLength(t *testing.T) {
	svc := newTestJWT(t, "0123456789", nil)
	require.Equal(t, 10, svc.SecretLength())
}
