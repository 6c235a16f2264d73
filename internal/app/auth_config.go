package app

import (
	"github.com/finovant/paydesk/internal/auth"
	"github.com/finovant/paydesk/internal/stepup"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}

	length := c.Session.RefreshLength
	if length <= 0 {
		length = 48
	}

	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   length,
	}
}

// ManagerConfig converts StepUpConfig into step-up manager parameters.
func (c StepUpConfig) ManagerConfig() stepup.Config {
	return stepup.Config{
		Window:           c.Window,
		SuperAdminWindow: c.SuperAdminWindow,
		ChallengeTTL:     c.ChallengeTTL,
		MaxAttempts:      c.MaxAttempts,
	}
}
