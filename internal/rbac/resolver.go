package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/cache"
	"github.com/finovant/paydesk/internal/models"
	apperrors "github.com/finovant/paydesk/pkg/errors"
)

// Scope names surfaced in resolutions for non tenant-scoped standings.
const (
	ScopeSuperAdmin = "super_admin"
	ScopePartner    = "partner"
)

const defaultCacheTTL = 30 * time.Second

// Resolution is the effective standing of a principal within one tenant.
type Resolution struct {
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`

	// Impersonating is true when the resolution was filtered to read-only
	// because an active view-as session exists for the principal.
	Impersonating bool `json:"impersonating"`
}

// Has reports whether the resolution carries the permission.
func (r *Resolution) Has(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Allows is the authorization answer every enforcement point must use: the
// carried permission set, plus the owner floor. Owners always hold the floor
// set even if the static table is narrowed later, unless the resolution was
// filtered to read-only by impersonation.
func (r *Resolution) Allows(perm Permission) bool {
	if r.Has(perm) {
		return true
	}
	return r.Role == string(models.RoleOwner) && !r.Impersonating && OwnerFloor(perm)
}

// Option customises the Resolver.
type Option func(*Resolver)

// WithCache attaches a short-lived resolution cache.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(r *Resolver) {
		if store != nil {
			r.store = store
		}
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// Resolver answers "what may this principal do in this tenant right now".
// It is stateless over the database apart from the optional TTL cache.
type Resolver struct {
	db       *gorm.DB
	store    cache.Store
	cacheTTL time.Duration
	now      func() time.Time
}

// NewResolver constructs a Resolver backed by the provided database.
func NewResolver(db *gorm.DB, opts ...Option) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("rbac: db is required")
	}

	resolver := &Resolver{
		db:       db,
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(resolver)
	}
	return resolver, nil
}

// Resolve returns the effective role and permission set, failing with
// ErrNotMember when the principal has no standing in the tenant. Super-admin
// resolutions are never cached: impersonation state changes between calls.
func (r *Resolver) Resolve(ctx context.Context, principalID, tenantID string) (*Resolution, error) {
	ctx = ensureContext(ctx)

	principalID = strings.TrimSpace(principalID)
	tenantID = strings.TrimSpace(tenantID)
	if principalID == "" || tenantID == "" {
		return nil, apperrors.NewBadRequest("principal and tenant are required")
	}

	var principal models.Principal
	if err := r.db.WithContext(ctx).First(&principal, "id = ?", principalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotMember
		}
		return nil, fmt.Errorf("rbac: load principal: %w", err)
	}
	if principal.Disabled() {
		return nil, apperrors.ErrNotMember
	}

	if principal.IsSuperAdmin {
		return r.resolveSuperAdmin(ctx, principalID)
	}

	if res, ok := r.cached(ctx, principalID, tenantID); ok {
		return res, nil
	}

	res, err := r.resolveTenantStanding(ctx, &principal, tenantID)
	if err != nil {
		return nil, err
	}

	r.cacheResolution(ctx, principalID, tenantID, res)
	return res, nil
}

// HasPermission reports whether the principal may exercise the permission in
// the tenant. A principal without standing simply lacks every permission; the
// answer never distinguishes missing membership from missing capability.
func (r *Resolver) HasPermission(ctx context.Context, principalID, tenantID string, perm Permission) (bool, error) {
	res, err := r.Resolve(ctx, principalID, tenantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotMember) {
			return false, nil
		}
		return false, err
	}

	return res.Allows(perm), nil
}

// Invalidate drops any cached resolution for the (principal, tenant) pair.
// Role-assignment mutations must call this before returning.
func (r *Resolver) Invalidate(ctx context.Context, principalID, tenantID string) {
	if r.store == nil {
		return
	}
	_ = r.store.Delete(ensureContext(ctx), resolutionCacheKey(principalID, tenantID))
}

func (r *Resolver) resolveSuperAdmin(ctx context.Context, principalID string) (*Resolution, error) {
	active, err := r.activeImpersonation(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if active {
		return &Resolution{
			Role:          ScopeSuperAdmin,
			Permissions:   filterReadOnly(allPermissions),
			Impersonating: true,
		}, nil
	}

	return &Resolution{
		Role:        ScopeSuperAdmin,
		Permissions: RolePermissions(models.RoleOwner),
	}, nil
}

func (r *Resolver) resolveTenantStanding(ctx context.Context, principal *models.Principal, tenantID string) (*Resolution, error) {
	var assignment models.RoleAssignment
	err := r.db.WithContext(ctx).
		First(&assignment, "principal_id = ? AND tenant_id = ?", principal.ID, tenantID).Error
	if err == nil {
		return &Resolution{
			Role:        string(assignment.Role),
			Permissions: RolePermissions(assignment.Role),
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("rbac: load assignment: %w", err)
	}

	if principal.IsPartner {
		var grant models.PartnerGrant
		err := r.db.WithContext(ctx).
			First(&grant, "principal_id = ? AND tenant_id = ? AND revoked_at IS NULL", principal.ID, tenantID).Error
		if err == nil {
			perms := partnerReadPermissions
			if grant.Access == models.PartnerAccessReadWrite {
				perms = partnerReadWritePermissions
			}
			out := make([]Permission, len(perms))
			copy(out, perms)
			return &Resolution{Role: ScopePartner, Permissions: out}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("rbac: load partner grant: %w", err)
		}
	}

	return nil, apperrors.ErrNotMember
}

// activeImpersonation reports whether an unexpired, unstopped view-as session
// exists for the principal. Expiry is evaluated lazily here; force-stopping
// and its audit entry belong to the sweeper.
func (r *Resolver) activeImpersonation(ctx context.Context, principalID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ImpersonationSession{}).
		Where("super_admin_id = ? AND stopped_at IS NULL AND expires_at > ?", principalID, r.now()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("rbac: check impersonation: %w", err)
	}
	return count > 0, nil
}

func (r *Resolver) cached(ctx context.Context, principalID, tenantID string) (*Resolution, bool) {
	if r.store == nil {
		return nil, false
	}

	raw, ok, err := r.store.Get(ctx, resolutionCacheKey(principalID, tenantID))
	if err != nil || !ok {
		return nil, false
	}

	var res Resolution
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (r *Resolver) cacheResolution(ctx context.Context, principalID, tenantID string, res *Resolution) {
	if r.store == nil {
		return
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = r.store.Set(ctx, resolutionCacheKey(principalID, tenantID), raw, r.cacheTTL)
}

func resolutionCacheKey(principalID, tenantID string) string {
	return "rbac:" + principalID + ":" + tenantID
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
