// Package hardening refuses to start in production-like environments with
// insecure transport or wildcard CORS settings.
package hardening

import (
	"fmt"
	"strings"
)

type Options struct {
	Service               string
	Environment           string
	StrictProdSecurity    string
	DatabaseRequireTLS    string
	RedisAddr             string
	RedisRequireTLS       string
	RedisTLSInsecure      string
	RedisAllowInsecureTLS string
	CORSAllowedOrigins    string
	AuthMode              string
	AuthSecret            string
}

// ValidateProduction is a no-op outside production-like environments and
// when STRICT_PROD_SECURITY is explicitly disabled.
func ValidateProduction(o Options) error {
	if !isProductionLikeEnv(o.Environment) || !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}

	checks := []func(Options, string) error{
		checkDatabaseTLS,
		checkRedisTLS,
		checkAuthSecret,
		checkCORSOrigins,
	}
	for _, check := range checks {
		if err := check(o, service); err != nil {
			return err
		}
	}
	return nil
}

func checkDatabaseTLS(o Options, service string) error {
	if !isTrue(o.DatabaseRequireTLS, false) {
		return fmt.Errorf("%s: strict production hardening requires DATABASE_REQUIRE_TLS=true", service)
	}
	return nil
}

// Redis checks only apply when Redis is configured at all; the service runs
// degraded without it.
func checkRedisTLS(o Options, service string) error {
	if strings.TrimSpace(o.RedisAddr) == "" {
		return nil
	}
	if !isTrue(o.RedisRequireTLS, false) {
		return fmt.Errorf("%s: strict production hardening requires REDIS_REQUIRE_TLS=true", service)
	}
	if isTrue(o.RedisTLSInsecure, false) || isTrue(o.RedisAllowInsecureTLS, false) {
		return fmt.Errorf("%s: strict production hardening forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS", service)
	}
	return nil
}

func checkAuthSecret(o Options, service string) error {
	mode := strings.ToLower(strings.TrimSpace(o.AuthMode))
	if mode == "oidc_hs256" && strings.TrimSpace(o.AuthSecret) == "" {
		return fmt.Errorf("%s: strict production hardening requires OIDC_HS256_SECRET", service)
	}
	return nil
}

func checkCORSOrigins(o Options, service string) error {
	seen := 0
	for _, part := range strings.Split(o.CORSAllowedOrigins, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		seen++
		if err := checkOrigin(origin, service); err != nil {
			return err
		}
	}
	if seen == 0 {
		return fmt.Errorf("%s: strict production hardening requires explicit CORS_ALLOWED_ORIGINS", service)
	}
	return nil
}

func checkOrigin(origin, service string) error {
	lower := strings.ToLower(origin)
	switch {
	case lower == "*":
		return fmt.Errorf("%s: strict production hardening forbids CORS wildcard origin", service)
	case isLoopbackOrigin(lower):
		return fmt.Errorf("%s: strict production hardening forbids localhost CORS origin %q", service, origin)
	case !strings.HasPrefix(lower, "https://"):
		return fmt.Errorf("%s: strict production hardening requires HTTPS CORS origin, got %q", service, origin)
	}
	return nil
}

func isLoopbackOrigin(lower string) bool {
	for _, prefix := range []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
