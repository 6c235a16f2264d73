package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/security"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/response"
)

// SecurityHandler exposes the platform security self-audit to super admins.
type SecurityHandler struct {
	db    *gorm.DB
	audit *security.AuditService
}

func NewSecurityHandler(db *gorm.DB, audit *security.AuditService) *SecurityHandler {
	return &SecurityHandler{db: db, audit: audit}
}

// GET /api/security/audit
func (h *SecurityHandler) Run(c *gin.Context) {
	ctx := requestContext(c)

	var principal models.Principal
	err := h.db.WithContext(ctx).
		Where("id = ? AND disabled_at IS NULL", c.GetString(middleware.CtxPrincipalIDKey)).
		Take(&principal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, apperrors.ErrUnauthorized)
			return
		}
		response.Error(c, apperrors.ErrInternalServer)
		return
	}
	if !principal.IsSuperAdmin {
		response.Error(c, apperrors.ErrNotAuthorized)
		return
	}

	response.Success(c, http.StatusOK, h.audit.Run(ctx))
}
