package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/auditctx"
)

// ActorContext copies the authenticated principal and client metadata into the
// request context so service layers can attribute audit entries without
// reaching back into the HTTP layer. Must run after Auth.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := auditctx.Actor{
			PrincipalID: c.GetString(CtxPrincipalIDKey),
			IPAddress:   c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
			TenantID:    c.Param("tenantId"),
		}
		ctx := auditctx.WithActor(c.Request.Context(), actor)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
