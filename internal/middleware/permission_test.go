package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	testutil "github.com/finovant/paydesk/internal/database/testutil"
	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/internal/rbac"
)

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	resolver, err := rbac.NewResolver(db)
	require.NoError(t, err)

	tenant := models.Tenant{Name: "Acme", Slug: "acme"}
	require.NoError(t, db.Create(&tenant).Error)

	viewer := models.Principal{Username: "viewer", Email: "viewer@example.com", Password: "x"}
	manager := models.Principal{Username: "manager", Email: "manager@example.com", Password: "x"}
	require.NoError(t, db.Create(&viewer).Error)
	require.NoError(t, db.Create(&manager).Error)
	require.NoError(t, db.Create(&models.RoleAssignment{PrincipalID: viewer.ID, TenantID: tenant.ID, Role: models.RoleViewer}).Error)
	require.NoError(t, db.Create(&models.RoleAssignment{PrincipalID: manager.ID, TenantID: tenant.ID, Role: models.RoleManager}).Error)

	r := gin.New()
	inject := func(principalID string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if principalID != "" {
				c.Set(CtxPrincipalIDKey, principalID)
			}
		}
	}
	routeFor := func(name, principalID string) {
		r.GET("/"+name+"/:tenantId", inject(principalID), RequirePermission(resolver, rbac.PermRefundsCreate), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
	}
	routeFor("anon", "")
	routeFor("viewer", viewer.ID)
	routeFor("manager", manager.ID)

	get := func(path string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusUnauthorized, get("/anon/"+tenant.ID))
	require.Equal(t, http.StatusForbidden, get("/viewer/"+tenant.ID))
	require.Equal(t, http.StatusOK, get("/manager/"+tenant.ID))
}
