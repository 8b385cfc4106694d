package oidc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Relative endpoint paths of a Keycloak realm, joined onto the issuer URL.
const (
	AuthorizationPath = "protocol/openid-connect/auth"
	TokenPath         = "protocol/openid-connect/token"
	RegistrationPath  = "clients-registrations/openid-connect"
)

// ErrMissingTrailingSlash is returned for issuer URLs whose path does not end in "/".
// Joining relative endpoint paths onto such a URL would replace its last segment.
var ErrMissingTrailingSlash = errors.New("issuer URL must end with a slash")

// ValidateIssuerURL checks that issuerURL is an absolute http(s) URL whose
// path ends in a slash.
//
// Private and loopback addresses are allowed: the identity provider usually
// runs next to the control plane inside the same network.
func ValidateIssuerURL(issuerURL string) error {
	u, err := url.Parse(issuerURL)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	return validateIssuer(u)
}

func validateIssuer(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("issuer URL is required")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("issuer URL must use http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("issuer URL must have a hostname")
	}
	if !strings.HasSuffix(u.Path, "/") {
		return fmt.Errorf("%w: %s", ErrMissingTrailingSlash, u.String())
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("issuer URL must not contain a query or fragment")
	}
	return nil
}

// Endpoints are the URLs derived from an issuer.
type Endpoints struct {
	Authorization *url.URL
	Token         *url.URL
	Registration  *url.URL
}

// DeriveEndpoints joins the Keycloak endpoint paths onto issuer. It fails
// when issuer does not satisfy ValidateIssuerURL, before any network access.
func DeriveEndpoints(issuer *url.URL) (Endpoints, error) {
	if err := validateIssuer(issuer); err != nil {
		return Endpoints{}, err
	}

	var endpoints Endpoints
	for _, e := range []struct {
		path string
		dst  **url.URL
	}{
		{AuthorizationPath, &endpoints.Authorization},
		{TokenPath, &endpoints.Token},
		{RegistrationPath, &endpoints.Registration},
	} {
		ref, err := url.Parse(e.path)
		if err != nil {
			return Endpoints{}, fmt.Errorf("invalid endpoint path %q: %w", e.path, err)
		}
		*e.dst = issuer.ResolveReference(ref)
	}
	return endpoints, nil
}

// ValidateScopes validates OAuth scopes.
//
// Example:
//
//	scopes := []string{"openid", "profile", "email"}
//	if err := ValidateScopes(scopes); err != nil {
//	    return fmt.Errorf("invalid scopes: %w", err)
//	}
func ValidateScopes(scopes []string) error {
	if len(scopes) > 50 {
		return fmt.Errorf("too many scopes (max 50, got %d)", len(scopes))
	}

	for i, scope := range scopes {
		if scope == "" {
			return fmt.Errorf("scope at index %d is empty", i)
		}
		if len(scope) > 256 {
			return fmt.Errorf("scope at index %d exceeds maximum length of 256 characters", i)
		}
		if strings.ContainsAny(scope, " \t\n\",\\") {
			return fmt.Errorf("scope at index %d contains invalid characters", i)
		}
	}

	return nil
}
