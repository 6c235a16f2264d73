package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/database/testutil"
	"github.com/finovant/paydesk/internal/models"
)

type resumeFixture struct {
	db        *gorm.DB
	evaluator *ResumeEvaluator
	current   *time.Time
}

func newResumeFixture(t *testing.T) *resumeFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	evaluator, err := NewResumeEvaluator(db)
	require.NoError(t, err)

	current := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	evaluator.WithClock(func() time.Time { return current })

	return &resumeFixture{db: db, evaluator: evaluator, current: &current}
}

func (f *resumeFixture) principal(t *testing.T, mutate func(*models.Principal)) *models.Principal {
	t.Helper()

	principal := &models.Principal{
		Username: "mgr", Email: "mgr@example.com", Password: "hashed",
	}
	if mutate != nil {
		mutate(principal)
	}
	require.NoError(t, f.db.Create(principal).Error)
	return principal
}

func (f *resumeFixture) session(t *testing.T, principalID string, mutate func(*models.PrincipalSession)) *models.PrincipalSession {
	t.Helper()

	session := &models.PrincipalSession{
		PrincipalID:  principalID,
		RefreshToken: "token-" + principalID,
		ExpiresAt:    f.current.Add(time.Hour),
		LastUsedAt:   *f.current,
	}
	if mutate != nil {
		mutate(session)
	}
	require.NoError(t, f.db.Create(session).Error)
	return session
}

func TestResumeExpiredBeatsEverything(t *testing.T) {
	f := newResumeFixture(t)
	principal := f.principal(t, func(p *models.Principal) {
		p.PasswordChangeRequired = true
		p.TOTPEnrolled = true
	})

	state, err := f.evaluator.Evaluate(context.Background(), principal, nil)
	require.NoError(t, err)
	require.Equal(t, ResumeExpired, state)

	dead := f.session(t, principal.ID, func(s *models.PrincipalSession) {
		s.ExpiresAt = f.current.Add(-time.Minute)
	})
	state, err = f.evaluator.Evaluate(context.Background(), principal, dead)
	require.NoError(t, err)
	require.Equal(t, ResumeExpired, state)

	now := *f.current
	revoked := f.session(t, principal.ID, func(s *models.PrincipalSession) {
		s.RefreshToken = "revoked"
		s.RevokedAt = &now
	})
	state, err = f.evaluator.Evaluate(context.Background(), principal, revoked)
	require.NoError(t, err)
	require.Equal(t, ResumeExpired, state)
}

func TestResumePasswordGateEvaluatedBeforeSecondFactor(t *testing.T) {
	f := newResumeFixture(t)
	principal := f.principal(t, func(p *models.Principal) {
		p.PasswordChangeRequired = true
		p.TOTPEnrolled = true
	})
	session := f.session(t, principal.ID, nil)

	state, err := f.evaluator.Evaluate(context.Background(), principal, session)
	require.NoError(t, err)
	require.Equal(t, ResumePasswordChange, state)
}

func TestResumeChallengedUntilFreshVerification(t *testing.T) {
	f := newResumeFixture(t)
	principal := f.principal(t, func(p *models.Principal) { p.TOTPEnrolled = true })
	session := f.session(t, principal.ID, nil)

	state, err := f.evaluator.Evaluate(context.Background(), principal, session)
	require.NoError(t, err)
	require.Equal(t, ResumeChallenged, state)

	require.NoError(t, f.db.Create(&models.StepUpSession{
		PrincipalID: principal.ID,
		Method:      "totp",
		IssuedAt:    *f.current,
		ExpiresAt:   f.current.Add(5 * time.Minute),
	}).Error)

	state, err = f.evaluator.Evaluate(context.Background(), principal, session)
	require.NoError(t, err)
	require.Equal(t, ResumeVerified, state)

	// The window lapsing drops the principal back to challenged.
	*f.current = f.current.Add(10 * time.Minute)
	session.ExpiresAt = f.current.Add(time.Hour)

	state, err = f.evaluator.Evaluate(context.Background(), principal, session)
	require.NoError(t, err)
	require.Equal(t, ResumeChallenged, state)
}

func TestResumeVerifiedWithoutEnrollment(t *testing.T) {
	f := newResumeFixture(t)
	principal := f.principal(t, nil)
	session := f.session(t, principal.ID, nil)

	state, err := f.evaluator.Evaluate(context.Background(), principal, session)
	require.NoError(t, err)
	require.Equal(t, ResumeVerified, state)
}

func TestResumeDisabledPrincipalIsExpired(t *testing.T) {
	f := newResumeFixture(t)
	now := *f.current
	principal := f.principal(t, func(p *models.Principal) { p.DisabledAt = &now })
	session := f.session(t, principal.ID, nil)

	state, err := f.evaluator.Evaluate(context.Background(), principal, session)
	require.NoError(t, err)
	require.Equal(t, ResumeExpired, state)
}
