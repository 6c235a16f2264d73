package approvals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/audit"
	"github.com/finovant/paydesk/internal/database/testutil"
	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
)

type approvalFixture struct {
	db      *gorm.DB
	service *Service
	ledger  *audit.Ledger
	current *time.Time
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	ledger, err := audit.NewLedger(db)
	require.NoError(t, err)

	service, err := NewService(db, ledger)
	require.NoError(t, err)

	current := time.Now().UTC().Truncate(time.Second)
	service.WithClock(func() time.Time { return current })

	return &approvalFixture{db: db, service: service, ledger: ledger, current: &current}
}

func TestCreateAndListPending(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	request, created, err := f.service.Create(ctx, CreateInput{
		TenantID:    "tenant-1",
		ActionType:  "payouts.create",
		Payload:     map[string]any{"amount_minor": int64(250000), "currency": "EUR"},
		RequestedBy: "manager-1",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.ApprovalPending, request.Status)
	require.NotEmpty(t, request.PayloadDigest)

	requests, err := f.service.List(ctx, ListInput{TenantID: "tenant-1", Status: models.ApprovalPending})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Equal(t, request.ID, requests[0].ID)

	var entry models.AuditEntry
	require.NoError(t, f.db.First(&entry, "action = ?", "approval.create").Error)
	require.Equal(t, request.ID, entry.Target)
}

func TestCreateDeduplicatesIdenticalPending(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	input := CreateInput{
		TenantID:    "tenant-1",
		ActionType:  "payouts.create",
		Payload:     map[string]any{"currency": "EUR", "amount_minor": int64(250000)},
		RequestedBy: "manager-1",
	}

	first, created, err := f.service.Create(ctx, input)
	require.NoError(t, err)
	require.True(t, created)

	// Same payload with keys in another order resolves to the same request.
	input.Payload = map[string]any{"amount_minor": int64(250000), "currency": "EUR"}
	second, created, err := f.service.Create(ctx, input)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	// A different payload opens its own request.
	input.Payload = map[string]any{"amount_minor": int64(990000), "currency": "EUR"}
	third, created, err := f.service.Create(ctx, input)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ID, third.ID)
}

func TestDecideApproveRunsExecuteInTransaction(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	request, _, err := f.service.Create(ctx, CreateInput{
		TenantID:    "tenant-1",
		ActionType:  "refunds.create",
		Payload:     map[string]any{"payment_id": "pay-9"},
		RequestedBy: "finance-1",
	})
	require.NoError(t, err)

	executed := false
	decided, err := f.service.Decide(ctx, "tenant-1", request.ID, "owner-1", DecisionApprove, "looks right",
		func(ctx context.Context, tx *gorm.DB, got *models.ApprovalRequest) error {
			executed = true
			require.Equal(t, request.ID, got.ID)
			return nil
		})
	require.NoError(t, err)
	require.True(t, executed)
	require.Equal(t, models.ApprovalApproved, decided.Status)
	require.Equal(t, "owner-1", *decided.DecidedBy)
	require.Equal(t, "looks right", decided.DecisionComment)

	var entry models.AuditEntry
	require.NoError(t, f.db.First(&entry, "action = ?", "approval.decide").Error)
	require.Equal(t, request.ID, entry.Target)
}

func TestDecideExecuteFailureRollsBackStatus(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	request, _, err := f.service.Create(ctx, CreateInput{
		TenantID:    "tenant-1",
		ActionType:  "refunds.create",
		Payload:     map[string]any{"payment_id": "pay-9"},
		RequestedBy: "finance-1",
	})
	require.NoError(t, err)

	_, err = f.service.Decide(ctx, "tenant-1", request.ID, "owner-1", DecisionApprove, "",
		func(ctx context.Context, tx *gorm.DB, got *models.ApprovalRequest) error {
			return apperrors.ErrInternalServer
		})
	require.Error(t, err)

	reloaded, err := f.service.Get(ctx, "tenant-1", request.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalPending, reloaded.Status)
}

func TestDecideRejectsSelfDecision(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	request, _, err := f.service.Create(ctx, CreateInput{
		TenantID:    "tenant-1",
		ActionType:  "payouts.create",
		Payload:     map[string]any{"amount_minor": int64(100)},
		RequestedBy: "manager-1",
	})
	require.NoError(t, err)

	_, err = f.service.Decide(ctx, "tenant-1", request.ID, "manager-1", DecisionApprove, "", nil)
	require.ErrorIs(t, err, apperrors.ErrSelfDecision)

	reloaded, err := f.service.Get(ctx, "tenant-1", request.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalPending, reloaded.Status)
}

func TestDecideSecondDeciderLosesRace(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	request, _, err := f.service.Create(ctx, CreateInput{
		TenantID:    "tenant-1",
		ActionType:  "payouts.create",
		Payload:     map[string]any{"amount_minor": int64(100)},
		RequestedBy: "manager-1",
	})
	require.NoError(t, err)

	_, err = f.service.Decide(ctx, "tenant-1", request.ID, "owner-1", DecisionReject, "too large", nil)
	require.NoError(t, err)

	_, err = f.service.Decide(ctx, "tenant-1", request.ID, "owner-2", DecisionApprove, "", nil)
	require.ErrorIs(t, err, apperrors.ErrAlreadyDecided)

	reloaded, err := f.service.Get(ctx, "tenant-1", request.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalRejected, reloaded.Status)
	require.Equal(t, "too large", reloaded.DecisionComment)
}

func TestDecideUnknownRequestAndForeignTenant(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	request, _, err := f.service.Create(ctx, CreateInput{
		TenantID:    "tenant-1",
		ActionType:  "payouts.create",
		Payload:     map[string]any{"amount_minor": int64(100)},
		RequestedBy: "manager-1",
	})
	require.NoError(t, err)

	_, err = f.service.Decide(ctx, "tenant-1", "missing-id", "owner-1", DecisionApprove, "", nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// A decider from another tenant cannot even observe the request.
	_, err = f.service.Decide(ctx, "tenant-2", request.ID, "owner-9", DecisionApprove, "", nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDecideRejectsUnknownDecision(t *testing.T) {
	f := newApprovalFixture(t)

	_, err := f.service.Decide(context.Background(), "tenant-1", "any", "owner-1", "maybe", "", nil)
	require.Error(t, err)
	require.Equal(t, 400, apperrors.FromError(err).StatusCode)
}
