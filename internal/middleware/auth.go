package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/pkg/errors"
	"github.com/finovant/paydesk/pkg/response"
)

// Context keys written by Auth and read by handlers further down the chain.
const (
	CtxClaimsKey      = "authClaims"
	CtxPrincipalIDKey = "principalID"
	CtxSessionIDKey   = "sessionID"
)

// Auth requires a valid bearer token on every request it guards. Validation
// failures all collapse to a plain 401 so callers cannot distinguish expired
// from forged tokens.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			abortUnauthorized(c)
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxPrincipalIDKey, claims.PrincipalID)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func abortUnauthorized(c *gin.Context) {
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}
