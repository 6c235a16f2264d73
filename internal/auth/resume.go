package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/models"
)

// ResumeState is the single disposition of a session-resume evaluation. The
// console branches on this once per resume instead of re-checking password
// and second-factor state at every entry point.
type ResumeState string

const (
	// ResumeExpired means there is no usable session; the principal must log in.
	ResumeExpired ResumeState = "expired"
	// ResumePasswordChange blocks everything until the password is rotated.
	ResumePasswordChange ResumeState = "password_change_required"
	// ResumeChallenged means the principal holds an activated authenticator
	// but no fresh verification; sensitive surfaces will demand a challenge.
	ResumeChallenged ResumeState = "challenged"
	// ResumeVerified is the fully usable state.
	ResumeVerified ResumeState = "verified"
)

// ResumeEvaluator computes the resume state machine:
// Unverified → Challenged → Verified/Expired, with the password-change gate
// evaluated first as an orthogonal condition.
type ResumeEvaluator struct {
	db  *gorm.DB
	now func() time.Time
}

// NewResumeEvaluator constructs a ResumeEvaluator.
func NewResumeEvaluator(db *gorm.DB) (*ResumeEvaluator, error) {
	if db == nil {
		return nil, errors.New("auth: db is required")
	}
	return &ResumeEvaluator{db: db, now: time.Now}, nil
}

// WithClock overrides the evaluation clock, primarily for testing.
func (e *ResumeEvaluator) WithClock(now func() time.Time) *ResumeEvaluator {
	if now != nil {
		e.now = now
	}
	return e
}

// Evaluate determines the resume state for a principal and their login
// session. Order matters: a dead session beats everything, then the password
// gate, then second-factor freshness.
func (e *ResumeEvaluator) Evaluate(ctx context.Context, principal *models.Principal, session *models.PrincipalSession) (ResumeState, error) {
	if principal == nil {
		return ResumeExpired, errors.New("auth: principal is required")
	}

	now := e.now()

	if session == nil || session.RevokedAt != nil || !session.ExpiresAt.After(now) {
		return ResumeExpired, nil
	}
	if principal.Disabled() {
		return ResumeExpired, nil
	}

	if principal.PasswordChangeRequired {
		return ResumePasswordChange, nil
	}

	if !principal.TOTPEnrolled {
		return ResumeVerified, nil
	}

	var fresh int64
	err := e.db.WithContext(ctx).
		Model(&models.StepUpSession{}).
		Where("principal_id = ? AND expires_at > ?", principal.ID, now).
		Count(&fresh).Error
	if err != nil {
		return ResumeExpired, fmt.Errorf("auth: count verification sessions: %w", err)
	}

	if fresh == 0 {
		return ResumeChallenged, nil
	}
	return ResumeVerified, nil
}
