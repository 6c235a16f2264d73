package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finovant/paydesk/internal/handlers/testutil"
	"github.com/finovant/paydesk/internal/models"
)

func TestLoginReturnsTokensAndPrincipal(t *testing.T) {
	env := testutil.NewEnv(t)

	principal := env.CreatePrincipal("correct horse battery staple")
	result := env.Login(principal.Username, "correct horse battery staple")

	require.Equal(t, principal.ID, result.Principal.ID)
	require.Equal(t, principal.Username, result.Principal.Username)
	require.False(t, result.Principal.TOTPEnrolled)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := testutil.NewEnv(t)

	principal := env.CreatePrincipal("correct horse battery staple")

	w := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": principal.Username,
		"password":   "wrong",
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestMeReportsMemberships(t *testing.T) {
	env := testutil.NewEnv(t)

	tenant := env.CreateTenant()
	principal := env.CreatePrincipal("correct horse battery staple")
	env.AssignRole(principal, tenant, models.RoleFinance)

	result := env.Login(principal.Username, "correct horse battery staple")

	w := env.Request(http.MethodGet, "/api/auth/me", nil, result.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var me struct {
		ID          string `json:"id"`
		Memberships []struct {
			TenantID   string `json:"tenant_id"`
			Role       string `json:"role"`
			TenantName string `json:"tenant_name"`
		} `json:"memberships"`
	}
	resp := testutil.DecodeResponse(t, w)
	testutil.DecodeInto(t, resp.Data, &me)

	require.Equal(t, principal.ID, me.ID)
	require.Len(t, me.Memberships, 1)
	require.Equal(t, tenant.ID, me.Memberships[0].TenantID)
	require.Equal(t, string(models.RoleFinance), me.Memberships[0].Role)
	require.Equal(t, tenant.Name, me.Memberships[0].TenantName)
}

func TestRefreshRotatesTokens(t *testing.T) {
	env := testutil.NewEnv(t)

	principal := env.CreatePrincipal("correct horse battery staple")
	result := env.Login(principal.Username, "correct horse battery staple")

	w := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": result.Tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rotated testutil.TokenPair
	resp := testutil.DecodeResponse(t, w)
	testutil.DecodeInto(t, resp.Data, &rotated)
	require.NotEmpty(t, rotated.AccessToken)
	require.NotEmpty(t, rotated.RefreshToken)
	require.NotEqual(t, result.Tokens.RefreshToken, rotated.RefreshToken)

	// the consumed refresh token no longer works
	w = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": result.Tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	env := testutil.NewEnv(t)

	principal := env.CreatePrincipal("correct horse battery staple")
	result := env.Login(principal.Username, "correct horse battery staple")

	w := env.Request(http.MethodPost, "/api/auth/logout", nil, result.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": result.Tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResumeReportsVerifiedState(t *testing.T) {
	env := testutil.NewEnv(t)

	principal := env.CreatePrincipal("correct horse battery staple")
	result := env.Login(principal.Username, "correct horse battery staple")

	w := env.Request(http.MethodGet, "/api/auth/resume", nil, result.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var state struct {
		State string `json:"state"`
	}
	resp := testutil.DecodeResponse(t, w)
	testutil.DecodeInto(t, resp.Data, &state)
	require.Equal(t, "verified", state.State)
}
