package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/rbac"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/response"
)

// MemberHandler manages tenant role assignments and partner grants. All
// mutations go through the membership service, which commits each change
// atomically with its audit entry and invalidates the resolver cache.
type MemberHandler struct {
	db         *gorm.DB
	membership *rbac.MembershipService
}

func NewMemberHandler(db *gorm.DB, membership *rbac.MembershipService) *MemberHandler {
	return &MemberHandler{db: db, membership: membership}
}

// GET /api/tenants/:tenantId/members
func (h *MemberHandler) List(c *gin.Context) {
	var assignments []models.RoleAssignment
	if err := h.db.WithContext(requestContext(c)).
		Preload("Principal").
		Where("tenant_id = ?", c.Param("tenantId")).
		Order("created_at ASC").
		Find(&assignments).Error; err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	members := make([]gin.H, 0, len(assignments))
	for _, assignment := range assignments {
		entry := gin.H{"principal_id": assignment.PrincipalID, "role": assignment.Role}
		if assignment.Principal != nil {
			entry["username"] = assignment.Principal.Username
		}
		members = append(members, entry)
	}

	response.Success(c, http.StatusOK, members)
}

type assignRoleRequest struct {
	PrincipalID string `json:"principal_id" validate:"required"`
	Role        string `json:"role" validate:"required"`
}

// PUT /api/tenants/:tenantId/members
func (h *MemberHandler) Assign(c *gin.Context) {
	var req assignRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	principalID := strings.TrimSpace(req.PrincipalID)

	var principal models.Principal
	if err := h.db.WithContext(ctx).Take(&principal, "id = ?", principalID).Error; err != nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	assignment, err := h.membership.AssignRole(ctx, principalID, c.Param("tenantId"),
		models.Role(strings.TrimSpace(req.Role)), c.GetString(middleware.CtxPrincipalIDKey))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"principal_id": assignment.PrincipalID, "role": assignment.Role})
}

// DELETE /api/tenants/:tenantId/members/:principalId
func (h *MemberHandler) Remove(c *gin.Context) {
	if err := h.membership.RevokeRole(requestContext(c), c.Param("principalId"), c.Param("tenantId")); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

type grantPartnerRequest struct {
	PrincipalID string `json:"principal_id" validate:"required"`
	Access      string `json:"access" validate:"required,oneof=read read_write"`
}

// PUT /api/tenants/:tenantId/partners
func (h *MemberHandler) GrantPartner(c *gin.Context) {
	var req grantPartnerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.membership.GrantPartner(requestContext(c), strings.TrimSpace(req.PrincipalID),
		c.Param("tenantId"), models.PartnerAccess(req.Access), c.GetString(middleware.CtxPrincipalIDKey))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"principal_id": grant.PrincipalID, "access": grant.Access})
}

// DELETE /api/tenants/:tenantId/partners/:principalId
func (h *MemberHandler) RevokePartner(c *gin.Context) {
	if err := h.membership.RevokePartnerGrant(requestContext(c), c.Param("principalId"), c.Param("tenantId")); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
