package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/database/testutil"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/pkg/crypto"
	apperrors "github.com/finovant/paydesk/pkg/errors"
)

func TestLoginVerifiesPasswordAndRecordsMetadata(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	principal := createTestPrincipal(t, db, "mgr")

	tokens, session, err := svc.Login(context.Background(), "mgr", "password", SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
	})
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.Equal(t, principal.ID, session.PrincipalID)
	require.Equal(t, "10.0.0.1", session.IPAddress)

	var reloaded models.Principal
	require.NoError(t, db.Take(&reloaded, "id = ?", principal.ID).Error)
	require.NotNil(t, reloaded.LastLoginAt)
	require.True(t, reloaded.LastLoginAt.Equal(clock.Now()))
	require.Equal(t, "10.0.0.1", reloaded.LastLoginIP)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	createTestPrincipal(t, db, "mgr")

	_, _, wrongPassword := svc.Login(context.Background(), "mgr", "nope", SessionMetadata{})
	_, _, unknownUser := svc.Login(context.Background(), "ghost", "password", SessionMetadata{})

	require.ErrorIs(t, wrongPassword, apperrors.ErrUnauthorized)
	require.ErrorIs(t, unknownUser, apperrors.ErrUnauthorized)
}

func TestLoginRejectsDisabledPrincipal(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	principal := createTestPrincipal(t, db, "gone")

	now := clock.Now()
	require.NoError(t, db.Model(principal).Update("disabled_at", &now).Error)

	_, _, err := svc.Login(context.Background(), "gone", "password", SessionMetadata{})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestCreateSessionGeneratesTokens(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	principal := createTestPrincipal(t, db, "mgr")

	tokens, session, err := svc.CreateSession(principal.ID, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
		Claims:    map[string]any{"role": "manager"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotNil(t, session)
	require.Equal(t, principal.ID, session.PrincipalID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "unit-test", session.UserAgent)

	var reloaded models.PrincipalSession
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, tokens.RefreshToken, reloaded.RefreshToken)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	principal := createTestPrincipal(t, db, "mgr")

	tokens, session, err := svc.CreateSession(principal.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	newTokens, updatedSession, err := svc.RefreshSession(tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, newTokens.RefreshToken)
	require.NotEqual(t, tokens.AccessToken, newTokens.AccessToken)

	require.Equal(t, session.ID, updatedSession.ID)
	require.Equal(t, newTokens.RefreshToken, updatedSession.RefreshToken)
	require.True(t, updatedSession.LastUsedAt.Equal(clock.Now()))

	// The old token died with the rotation.
	_, _, err = svc.RefreshSession(tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	principal := createTestPrincipal(t, db, "mgr")

	tokens, session, err := svc.CreateSession(principal.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.PrincipalSession{}).
		Where("id = ?", session.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, _, err = svc.RefreshSession(tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevokeSessionPreventsRefresh(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	principal := createTestPrincipal(t, db, "mgr")

	tokens, session, err := svc.CreateSession(principal.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(session.ID))

	err = svc.RevokeSession("non-existent")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = svc.RefreshSession(tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	var stored models.PrincipalSession
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.NotNil(t, stored.RevokedAt)
}

func TestRevokePrincipalSessionsEndsStandingAccess(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	principal := createTestPrincipal(t, db, "mgr")

	first, _, err := svc.CreateSession(principal.ID, SessionMetadata{})
	require.NoError(t, err)
	second, _, err := svc.CreateSession(principal.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokePrincipalSessions(principal.ID))

	_, _, err = svc.RefreshSession(first.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
	_, _, err = svc.RefreshSession(second.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestCleanupExpiredDropsDeadSessions(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	principal := createTestPrincipal(t, db, "mgr")

	_, expired, err := svc.CreateSession(principal.ID, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.PrincipalSession{}).
		Where("id = ?", expired.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, live, err := svc.CreateSession(principal.ID, SessionMetadata{})
	require.NoError(t, err)

	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.PrincipalSession
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, live.ID, remaining[0].ID)
}

func setupSessionService(t *testing.T) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	sessionService, err := NewSessionService(db, jwtService, SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestPrincipal(t *testing.T, db *gorm.DB, username string) *models.Principal {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	principal := &models.Principal{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
	}
	require.NoError(t, db.Create(principal).Error)
	return principal
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
