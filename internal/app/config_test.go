package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/internal/stepup"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)

	require.NotEmpty(t, cfg.Security.EncryptionKey)
	require.Equal(t, "aes-256-gcm", cfg.Security.Algorithm)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "paydesk-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 1440*time.Hour, cfg.Auth.Session.RefreshTTL)
	require.Equal(t, 64, cfg.Auth.Session.RefreshLength)

	require.Equal(t, 10*time.Minute, cfg.StepUp.Window)
	require.Equal(t, 3*time.Minute, cfg.StepUp.SuperAdminWindow)
	require.Equal(t, 90*time.Second, cfg.StepUp.ChallengeTTL)
	require.Equal(t, 3, cfg.StepUp.MaxAttempts)

	require.Equal(t, 180, cfg.Audit.RetentionDays)
	require.Equal(t, 20*time.Minute, cfg.Impersonation.MaxDuration)
	require.Equal(t, "@every 30s", cfg.Alerts.Schedule)
}

func TestConfigValidateRejectsOutOfRangeWindow(t *testing.T) {
	cfg := Config{
		StepUp: StepUpConfig{
			Window:           time.Minute,
			SuperAdminWindow: time.Minute,
			ChallengeTTL:     2 * time.Minute,
			MaxAttempts:      5,
		},
		Audit:         AuditConfig{RetentionDays: 365},
		Impersonation: ImpersonationConfig{MaxDuration: 30 * time.Minute},
	}
	require.Error(t, cfg.Validate())

	cfg.StepUp.Window = 5 * time.Minute
	cfg.StepUp.SuperAdminWindow = 5 * time.Minute
	require.NoError(t, cfg.Validate())

	cfg.StepUp.SuperAdminWindow = 10 * time.Minute
	require.Error(t, cfg.Validate())
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret: "secret",
				Issuer: "issuer",
				TTL:    30 * time.Minute,
			},
			Session: SessionSettings{
				RefreshTTL:    10 * time.Hour,
				RefreshLength: 32,
			},
		},
		StepUp: StepUpConfig{
			Window:           5 * time.Minute,
			SuperAdminWindow: 3 * time.Minute,
			ChallengeTTL:     2 * time.Minute,
			MaxAttempts:      4,
		},
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, jwtCfg)

	sessionCfg := cfg.Auth.SessionServiceConfig()
	require.Equal(t, auth.SessionConfig{
		RefreshTokenTTL: 10 * time.Hour,
		RefreshLength:   32,
	}, sessionCfg)

	managerCfg := cfg.StepUp.ManagerConfig()
	require.Equal(t, stepup.Config{
		Window:           5 * time.Minute,
		SuperAdminWindow: 3 * time.Minute,
		ChallengeTTL:     2 * time.Minute,
		MaxAttempts:      4,
	}, managerCfg)
}

func TestAuthConfigAdaptersFallback(t *testing.T) {
	var cfg AuthConfig

	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)

	sessionCfg := cfg.SessionServiceConfig()
	require.Equal(t, auth.DefaultRefreshTokenTTL, sessionCfg.RefreshTokenTTL)
	require.Equal(t, 48, sessionCfg.RefreshLength)
}
