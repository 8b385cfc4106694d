// Package security provides the secret handling and audit facilities shared by
// the token manager and the client registration manager.
//
// # Secrets
//
// Secret wraps client secrets and access tokens. It renders as [REDACTED] through
// fmt, slog and encoding/json, so configuration and credential values can be
// logged without leaking:
//
//	creds := auth.ClientCredentials{ClientID: "peer", ClientSecret: security.NewSecret("s3cr3t")}
//	logger.Info("provisioned", "credentials", creds) // client_secret=[REDACTED]
//
// # Audit Logging
//
// Auditor writes security events (token issued, client registered or deleted,
// common credentials handed out, authentication failures) through slog. Resource
// identifiers are hashed before logging.
//
// # Registration Throttling
//
// RegistrationLimiter is a token bucket in front of the identity provider's
// registration endpoint:
//
//	limiter := security.NewRegistrationLimiter(5, 10, logger)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package security
