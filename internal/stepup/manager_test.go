package stepup

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/database/testutil"
	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
)

type managerFixture struct {
	db        *gorm.DB
	manager   *Manager
	principal *models.Principal
	secret    string
	current   *time.Time
}

func newManagerFixture(t *testing.T, cfg Config) *managerFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	principal := createPrincipal(t, db, "fresh-user")

	current := time.Now()
	service, err := NewTOTPService(db, testEncryptionKey)
	require.NoError(t, err)

	enrollment, err := service.BeginEnrollment(principal.ID, principal.Username)
	require.NoError(t, err)
	secret := enrollmentSecret(t, enrollment)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, service.ActivateEnrollment(principal.ID, enrollment.Token, code))

	manager, err := NewManager(db, service, cfg)
	require.NoError(t, err)
	manager.WithClock(func() time.Time { return current })

	return &managerFixture{
		db:        db,
		manager:   manager,
		principal: principal,
		secret:    secret,
		current:   &current,
	}
}

func (f *managerFixture) code(t *testing.T) string {
	t.Helper()

	code, err := totp.GenerateCode(f.secret, time.Now())
	require.NoError(t, err)
	return code
}

func TestChallengeVerifyRoundTrip(t *testing.T) {
	f := newManagerFixture(t, Config{Window: 300 * time.Second})

	ctx := context.Background()
	challenge, err := f.manager.Challenge(ctx, f.principal.ID, "")
	require.NoError(t, err)
	require.NotEmpty(t, challenge.ID)

	fresh, err := f.manager.IsFresh(ctx, f.principal.ID)
	require.NoError(t, err)
	require.False(t, fresh)

	session, err := f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.NoError(t, err)
	require.Equal(t, "totp", session.Method)
	require.Equal(t, 300*time.Second, session.ExpiresAt.Sub(session.IssuedAt))

	fresh, err = f.manager.IsFresh(ctx, f.principal.ID)
	require.NoError(t, err)
	require.True(t, fresh)

	// One tick past the window the freshness is gone; no revoke path needed.
	*f.current = f.current.Add(300*time.Second + time.Second)

	fresh, err = f.manager.IsFresh(ctx, f.principal.ID)
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestChallengeRequiresActivatedEnrollment(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	principal := createPrincipal(t, db, "unenrolled")

	service, err := NewTOTPService(db, testEncryptionKey)
	require.NoError(t, err)
	manager, err := NewManager(db, service, Config{})
	require.NoError(t, err)

	_, err = manager.Challenge(context.Background(), principal.ID, "")
	require.Error(t, err)
}

func TestVerifyWrongCodeThenRateLimit(t *testing.T) {
	f := newManagerFixture(t, Config{MaxAttempts: 3})

	ctx := context.Background()
	challenge, err := f.manager.Challenge(ctx, f.principal.ID, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.manager.Verify(ctx, challenge.ID, "000000")
		require.ErrorIs(t, err, apperrors.ErrInvalidCode)
	}

	// Budget exhausted: even the correct code is refused now.
	_, err = f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.ErrorIs(t, err, apperrors.ErrRateLimited)

	// A new challenge restores the path.
	challenge, err = f.manager.Challenge(ctx, f.principal.ID, "")
	require.NoError(t, err)
	_, err = f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.NoError(t, err)
}

func TestVerifyExpiredChallenge(t *testing.T) {
	f := newManagerFixture(t, Config{ChallengeTTL: 2 * time.Minute})

	ctx := context.Background()
	challenge, err := f.manager.Challenge(ctx, f.principal.ID, "")
	require.NoError(t, err)

	*f.current = f.current.Add(3 * time.Minute)

	_, err = f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.ErrorIs(t, err, apperrors.ErrChallengeExpired)
}

func TestVerifyConsumedChallengeIsDead(t *testing.T) {
	f := newManagerFixture(t, Config{})

	ctx := context.Background()
	challenge, err := f.manager.Challenge(ctx, f.principal.ID, "")
	require.NoError(t, err)

	_, err = f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.NoError(t, err)

	_, err = f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.ErrorIs(t, err, apperrors.ErrChallengeExpired)
}

func TestVerifyUnknownChallenge(t *testing.T) {
	f := newManagerFixture(t, Config{})

	_, err := f.manager.Verify(context.Background(), "00000000-0000-0000-0000-000000000000", "123456")
	require.ErrorIs(t, err, apperrors.ErrChallengeExpired)
}

func TestTenantWindowIsClamped(t *testing.T) {
	f := newManagerFixture(t, Config{})

	tenant := &models.Tenant{Name: "acme", Slug: "acme", StepUpWindowSeconds: 30}
	require.NoError(t, f.db.Create(tenant).Error)

	ctx := context.Background()
	challenge, err := f.manager.Challenge(ctx, f.principal.ID, tenant.ID)
	require.NoError(t, err)

	session, err := f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.NoError(t, err)
	require.Equal(t, MinWindow, session.ExpiresAt.Sub(session.IssuedAt))
}

func TestSuperAdminWindowIsForced(t *testing.T) {
	f := newManagerFixture(t, Config{SuperAdminWindow: 120 * time.Second})

	require.NoError(t, f.db.Model(f.principal).Update("is_super_admin", true).Error)

	// Tenant configures a long window; the forced platform window wins.
	tenant := &models.Tenant{Name: "acme", Slug: "acme", StepUpWindowSeconds: 900}
	require.NoError(t, f.db.Create(tenant).Error)

	ctx := context.Background()
	challenge, err := f.manager.Challenge(ctx, f.principal.ID, tenant.ID)
	require.NoError(t, err)

	session, err := f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.NoError(t, err)
	require.Equal(t, 120*time.Second, session.ExpiresAt.Sub(session.IssuedAt))
}

func TestPurgeExpired(t *testing.T) {
	f := newManagerFixture(t, Config{})

	ctx := context.Background()
	challenge, err := f.manager.Challenge(ctx, f.principal.ID, "")
	require.NoError(t, err)
	_, err = f.manager.Verify(ctx, challenge.ID, f.code(t))
	require.NoError(t, err)

	*f.current = f.current.Add(48 * time.Hour)

	removed, err := f.manager.PurgeExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)
}
