package approvals

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/audit"
	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/metrics"
)

// Decision values accepted by Decide.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// CreateInput describes a deferred dual-control action.
type CreateInput struct {
	TenantID    string
	ActionType  string
	Payload     map[string]any
	RequestedBy string
}

// ListInput filters approval listings.
type ListInput struct {
	TenantID string
	Status   models.ApprovalStatus
	Limit    int
}

// Service owns the dual-control approval state machine:
// pending → approved | rejected, both terminal, decided exactly once.
type Service struct {
	db     *gorm.DB
	ledger *audit.Ledger
	now    func() time.Time
}

// NewService constructs an approval Service.
func NewService(db *gorm.DB, ledger *audit.Ledger) (*Service, error) {
	if db == nil {
		return nil, errors.New("approvals: db is required")
	}
	if ledger == nil {
		return nil, errors.New("approvals: audit ledger is required")
	}
	return &Service{db: db, ledger: ledger, now: time.Now}, nil
}

// WithClock overrides the service clock, primarily for testing.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Create opens a pending request for the deferred action. When an identical
// pending request already exists for the same payload, its id is returned
// with created=false: a retry of the same action never forks a second
// approval.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.ApprovalRequest, bool, error) {
	ctx = ensureContext(ctx)

	input.TenantID = strings.TrimSpace(input.TenantID)
	input.ActionType = strings.TrimSpace(input.ActionType)
	input.RequestedBy = strings.TrimSpace(input.RequestedBy)
	if input.TenantID == "" || input.ActionType == "" || input.RequestedBy == "" {
		return nil, false, apperrors.NewBadRequest("tenant, action type and requester are required")
	}

	digest, encoded, err := digestPayload(input.ActionType, input.Payload)
	if err != nil {
		return nil, false, err
	}

	if existing, err := s.FindPending(ctx, input.TenantID, input.ActionType, input.Payload); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	request := models.ApprovalRequest{
		TenantID:      input.TenantID,
		ActionType:    input.ActionType,
		ActionPayload: datatypes.JSON(encoded),
		PayloadDigest: digest,
		RequestedBy:   input.RequestedBy,
		Status:        models.ApprovalPending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&request).Error; err != nil {
			return fmt.Errorf("approvals: create request: %w", err)
		}

		_, err := s.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &request.TenantID,
			ActorID:  &request.RequestedBy,
			Action:   "approval.create",
			Target:   request.ID,
			Result:   models.AuditResultSuccess,
			After: map[string]any{
				"action_type": request.ActionType,
				"status":      string(models.ApprovalPending),
			},
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return &request, true, nil
}

// FindPending returns the pending request matching (tenant, action, payload),
// or nil when none exists.
func (s *Service) FindPending(ctx context.Context, tenantID, actionType string, payload map[string]any) (*models.ApprovalRequest, error) {
	ctx = ensureContext(ctx)

	digest, _, err := digestPayload(actionType, payload)
	if err != nil {
		return nil, err
	}

	var request models.ApprovalRequest
	err = s.db.WithContext(ctx).
		First(&request, "tenant_id = ? AND payload_digest = ? AND status = ?",
			tenantID, digest, models.ApprovalPending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approvals: find pending: %w", err)
	}
	return &request, nil
}

// Get loads a request by id scoped to a tenant. Missing and foreign rows are
// indistinguishable to the caller.
func (s *Service) Get(ctx context.Context, tenantID, requestID string) (*models.ApprovalRequest, error) {
	ctx = ensureContext(ctx)

	var request models.ApprovalRequest
	err := s.db.WithContext(ctx).
		First(&request, "id = ? AND tenant_id = ?", requestID, tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approvals: load request: %w", err)
	}
	return &request, nil
}

// List returns requests for the tenant, optionally filtered by status,
// newest first.
func (s *Service) List(ctx context.Context, input ListInput) ([]models.ApprovalRequest, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.TenantID) == "" {
		return nil, apperrors.NewBadRequest("tenant is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Where("tenant_id = ?", input.TenantID)
	if input.Status != "" {
		query = query.Where("status = ?", input.Status)
	}

	var requests []models.ApprovalRequest
	if err := query.Order("created_at DESC").Limit(limit).Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("approvals: list requests: %w", err)
	}
	return requests, nil
}

// Decide transitions a pending request to its terminal state. The transition
// is a single conditional update guarded on status = pending: of two racing
// approvers exactly one wins and the loser observes AlreadyDecided. The
// deferred execution on approve is the gate's business; execute runs inside
// the same transaction as the status flip so they commit atomically.
func (s *Service) Decide(ctx context.Context, tenantID, requestID, deciderID, decision, comment string, execute func(ctx context.Context, tx *gorm.DB, request *models.ApprovalRequest) error) (*models.ApprovalRequest, error) {
	ctx = ensureContext(ctx)

	if decision != DecisionApprove && decision != DecisionReject {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown decision %q", decision))
	}

	request, err := s.Get(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}

	if request.RequestedBy == deciderID {
		return nil, apperrors.ErrSelfDecision
	}
	if request.Decided() {
		metrics.ApprovalDecisions.WithLabelValues("race_lost").Inc()
		return nil, apperrors.ErrAlreadyDecided
	}

	status := models.ApprovalApproved
	if decision == DecisionReject {
		status = models.ApprovalRejected
	}
	now := s.now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.ApprovalRequest{}).
			Where("id = ? AND status = ?", request.ID, models.ApprovalPending).
			Updates(map[string]any{
				"status":           status,
				"decided_by":       deciderID,
				"decided_at":       &now,
				"decision_comment": strings.TrimSpace(comment),
			})
		if claim.Error != nil {
			return fmt.Errorf("approvals: decide request: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return apperrors.ErrAlreadyDecided
		}

		if status == models.ApprovalApproved && execute != nil {
			if err := execute(ctx, tx, request); err != nil {
				return err
			}
		}

		_, err := s.ledger.WithTx(tx).Append(ctx, audit.Entry{
			TenantID: &request.TenantID,
			ActorID:  &deciderID,
			Action:   "approval.decide",
			Target:   request.ID,
			Result:   models.AuditResultSuccess,
			Before:   map[string]any{"status": string(models.ApprovalPending)},
			After: map[string]any{
				"status":      string(status),
				"action_type": request.ActionType,
			},
		})
		return err
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrAlreadyDecided) {
			metrics.ApprovalDecisions.WithLabelValues("race_lost").Inc()
		}
		return nil, err
	}

	metrics.ApprovalDecisions.WithLabelValues(string(status)).Inc()

	request.Status = status
	request.DecidedBy = &deciderID
	request.DecidedAt = &now
	request.DecisionComment = strings.TrimSpace(comment)
	return request, nil
}

// digestPayload canonicalises the payload so equal payloads share a digest
// regardless of key order.
func digestPayload(actionType string, payload map[string]any) (string, []byte, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", nil, fmt.Errorf("approvals: encode payload: %w", err)
	}

	sum := sha256.Sum256(append([]byte(actionType+"\x00"), canonical...))
	return hex.EncodeToString(sum[:]), canonical, nil
}

// encoding/json marshals map keys in sorted order at every nesting level,
// which is exactly the canonical form the digest needs.
func canonicalJSON(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	return json.Marshal(payload)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
