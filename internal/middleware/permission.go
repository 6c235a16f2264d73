package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/rbac"
	apperrors "github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/metrics"
	"github.com/finovant/paydesk/pkg/response"
)

// CtxResolutionKey carries the tenant permission resolution for the request.
const CtxResolutionKey = "rbacResolution"

// RequirePermission resolves the authenticated principal's standing in the
// tenant named by the :tenantId route parameter and rejects the request
// unless the resolution carries the given permission. Permission denials are
// surfaced identically whether the principal is a stranger or an
// under-privileged member.
func RequirePermission(resolver *rbac.Resolver, perm rbac.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		principalID := c.GetString(CtxPrincipalIDKey)
		if principalID == "" {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		tenantID := c.Param("tenantId")
		if tenantID == "" {
			response.Error(c, apperrors.ErrBadRequest)
			c.Abort()
			return
		}

		res, err := resolver.Resolve(c.Request.Context(), principalID, tenantID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotMember) {
				metrics.PermissionChecks.WithLabelValues(string(perm), "denied").Inc()
				response.Error(c, apperrors.ErrNotAuthorized)
				c.Abort()
				return
			}
			metrics.PermissionChecks.WithLabelValues(string(perm), "error").Inc()
			response.Error(c, apperrors.ErrInternalServer)
			c.Abort()
			return
		}

		// Allows applies the owner floor on top of the carried set, the same
		// answer the resolver and the gate give.
		if !res.Allows(perm) {
			metrics.PermissionChecks.WithLabelValues(string(perm), "denied").Inc()
			response.Error(c, apperrors.ErrNotAuthorized)
			c.Abort()
			return
		}

		metrics.PermissionChecks.WithLabelValues(string(perm), "allowed").Inc()
		c.Set(CtxResolutionKey, res)
		c.Next()
	}
}
