package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/auditctx"
	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/metrics"
)

// denialSampleRate keeps one in N high-volume denial entries. Sampling is a
// deliberate trade-off for NotAuthorized/NotMember storms; sampled-out
// entries are counted, never silently dropped.
const denialSampleRate = 20

// Entry captures a single audit event to persist.
type Entry struct {
	TenantID *string
	ActorID  *string
	Action   string
	Target   string
	Result   string
	Before   map[string]any
	After    map[string]any

	IPAddress string
	UserAgent string
}

// Filters encapsulates optional filters when querying the ledger.
type Filters struct {
	TenantID string
	ActorID  string
	Action   string
	Result   string
	Target   string
	Since    *time.Time
	Until    *time.Time
}

// ListOptions controls pagination and filtering for ledger queries.
type ListOptions struct {
	Page     int
	PageSize int
	Filters  Filters
}

// Ledger persists and retrieves append-only audit entries. Append failures
// propagate: an action that cannot be recorded must not happen.
type Ledger struct {
	db          *gorm.DB
	now         func() time.Time
	denialCount atomic.Uint64
}

// NewLedger constructs a Ledger using the provided database handle.
func NewLedger(db *gorm.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("audit: db is required")
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// WithTx returns a Ledger bound to the supplied transaction handle, so an
// action and its audit entry commit or roll back together.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx, now: l.now}
}

// WithClock overrides the ledger clock, primarily for testing.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// Append writes one entry and returns its id. Actor network metadata is
// filled from the request context when the entry leaves it empty. A storage
// failure is returned as ErrPersistenceUnavailable so the triggering action
// aborts.
func (l *Ledger) Append(ctx context.Context, entry Entry) (string, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return "", errors.New("audit: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return "", errors.New("audit: result is required")
	}

	record := models.AuditEntry{
		Action:    strings.TrimSpace(entry.Action),
		Target:    strings.TrimSpace(entry.Target),
		Result:    strings.TrimSpace(entry.Result),
		IPAddress: strings.TrimSpace(entry.IPAddress),
		UserAgent: strings.TrimSpace(entry.UserAgent),
		CreatedAt: l.now(),
	}

	if entry.TenantID != nil && strings.TrimSpace(*entry.TenantID) != "" {
		id := strings.TrimSpace(*entry.TenantID)
		record.TenantID = &id
	}
	if entry.ActorID != nil && strings.TrimSpace(*entry.ActorID) != "" {
		id := strings.TrimSpace(*entry.ActorID)
		record.ActorID = &id
	}

	if actor, ok := auditctx.FromContext(ctx); ok {
		if record.ActorID == nil && actor.PrincipalID != "" {
			id := actor.PrincipalID
			record.ActorID = &id
		}
		if record.IPAddress == "" {
			record.IPAddress = actor.IPAddress
		}
		if record.UserAgent == "" {
			record.UserAgent = actor.UserAgent
		}
		if record.TenantID == nil && actor.TenantID != "" {
			id := actor.TenantID
			record.TenantID = &id
		}
	}

	var err error
	if record.Before, err = marshalSnapshot(entry.Before); err != nil {
		return "", fmt.Errorf("audit: marshal before snapshot: %w", err)
	}
	if record.After, err = marshalSnapshot(entry.After); err != nil {
		return "", fmt.Errorf("audit: marshal after snapshot: %w", err)
	}

	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		metrics.AuditAppendFailures.Inc()
		return "", apperrors.ErrPersistenceUnavailable.WithInternal(err)
	}

	return record.ID, nil
}

// AppendDenial records a denial entry, sampling the high-volume
// NotAuthorized/NotMember classes. Sampling is deterministic per process,
// never random, so a sustained denial stream always leaves a trace.
func (l *Ledger) AppendDenial(ctx context.Context, entry Entry, reason string) (string, error) {
	entry.Result = models.AuditResultDenied
	if entry.After == nil {
		entry.After = map[string]any{}
	}
	entry.After["reason"] = reason

	if reason == apperrors.ErrNotAuthorized.Code || reason == apperrors.ErrNotMember.Code {
		if l.denialCount.Add(1)%denialSampleRate != 1 {
			return "", nil
		}
		entry.After["sampled"] = denialSampleRate
	}

	return l.Append(ctx, entry)
}

// Query returns matching entries, newest first, with redaction applied before
// anything leaves the ledger boundary.
func (l *Ledger) Query(ctx context.Context, filters Filters, limit int) ([]models.AuditEntry, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []models.AuditEntry
	query := applyFilters(l.db.WithContext(ctx).Model(&models.AuditEntry{}), filters)
	if err := query.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}

	redactEntries(entries)
	return entries, nil
}

// List returns paginated entries ordered by creation time descending,
// redacted like Query.
func (l *Ledger) List(ctx context.Context, opts ListOptions) ([]models.AuditEntry, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		entries []models.AuditEntry
		total   int64
	)

	query := applyFilters(l.db.WithContext(ctx).Model(&models.AuditEntry{}), opts.Filters)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit: count entries: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("audit: list entries: %w", err)
	}

	redactEntries(entries)
	return entries, total, nil
}

// CountActions aggregates matching actions inside a trailing window. Used by
// the alert evaluator; results are raw counts, no redaction concern.
func (l *Ledger) CountActions(ctx context.Context, tenantID, action string, since time.Time, actorID *string) (int64, error) {
	ctx = ensureContext(ctx)

	query := l.db.WithContext(ctx).
		Model(&models.AuditEntry{}).
		Where("tenant_id = ? AND action = ? AND result = ? AND created_at >= ?",
			tenantID, action, models.AuditResultSuccess, since)
	if actorID != nil {
		query = query.Where("actor_id = ?", *actorID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("audit: count actions: %w", err)
	}
	return count, nil
}

// ActorTotals returns per-actor success counts for one action within the
// window, for rules scoped to a single actor.
func (l *Ledger) ActorTotals(ctx context.Context, tenantID, action string, since time.Time) (map[string]int64, error) {
	ctx = ensureContext(ctx)

	type row struct {
		ActorID *string
		Total   int64
	}

	var rows []row
	err := l.db.WithContext(ctx).
		Model(&models.AuditEntry{}).
		Select("actor_id, COUNT(*) AS total").
		Where("tenant_id = ? AND action = ? AND result = ? AND created_at >= ?",
			tenantID, action, models.AuditResultSuccess, since).
		Group("actor_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("audit: actor totals: %w", err)
	}

	totals := make(map[string]int64, len(rows))
	for _, r := range rows {
		if r.ActorID != nil {
			totals[*r.ActorID] = r.Total
		}
	}
	return totals, nil
}

// PurgeOlderThan removes entries past the retention window (in days). This is
// the single sanctioned deletion path, driven by the maintenance sweeper.
func (l *Ledger) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit: retentionDays must be positive")
	}

	cutoff := l.now().AddDate(0, 0, -retentionDays)
	result := l.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit: purge entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func applyFilters(query *gorm.DB, filters Filters) *gorm.DB {
	if filters.TenantID != "" {
		query = query.Where("tenant_id = ?", filters.TenantID)
	}
	if filters.ActorID != "" {
		query = query.Where("actor_id = ?", filters.ActorID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Target != "" {
		query = query.Where("target = ?", filters.Target)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

func redactEntries(entries []models.AuditEntry) {
	for i := range entries {
		entries[i].Before = redactJSON(entries[i].Before)
		entries[i].After = redactJSON(entries[i].After)
	}
}

func marshalSnapshot(snapshot map[string]any) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
