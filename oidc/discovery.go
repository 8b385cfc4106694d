package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxDiscoveryBytes bounds the discovery document read from the identity provider
const maxDiscoveryBytes = 1 << 20

// ErrIssuerMismatch is returned when the discovery document names a different issuer
var ErrIssuerMismatch = errors.New("discovery document issuer does not match configured issuer")

// DiscoveryDocument represents an OIDC discovery document.
// It contains the OpenID Connect provider metadata as defined in RFC 8414.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSUri                           string   `json:"jwks_uri,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// SupportsGrantType reports whether the provider advertises grantType.
// An empty grant_types_supported list means the RFC 8414 default
// (authorization_code and implicit).
func (d *DiscoveryDocument) SupportsGrantType(grantType string) bool {
	if len(d.GrantTypesSupported) == 0 {
		return grantType == "authorization_code" || grantType == "implicit"
	}
	for _, g := range d.GrantTypesSupported {
		if g == grantType {
			return true
		}
	}
	return false
}

// cachedDocument holds a discovery document with its fetch timestamp.
type cachedDocument struct {
	document  *DiscoveryDocument
	fetchedAt time.Time
}

// DiscoveryClient fetches and caches OIDC discovery documents.
//
// The client is thread-safe and can be used concurrently from multiple goroutines.
type DiscoveryClient struct {
	httpClient *http.Client
	cache      sync.Map // issuerURL -> *cachedDocument
	cacheTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewDiscoveryClient creates a new OIDC discovery client.
//
// Parameters:
//   - httpClient: HTTP client to use for requests, usually one built by the trust
//     package (nil uses a default client with 10s timeout)
//   - cacheTTL: Time-to-live for cached discovery documents (0 uses default 1 hour,
//     negative disables caching)
//   - logger: Logger for debug/info messages (nil uses default logger)
func NewDiscoveryClient(httpClient *http.Client, cacheTTL time.Duration, logger *slog.Logger) *DiscoveryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cacheTTL == 0 {
		cacheTTL = 1 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DiscoveryClient{
		httpClient: httpClient,
		cacheTTL:   cacheTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Discover fetches the OIDC discovery document for an issuer and caches it.
// The issuer URL must satisfy ValidateIssuerURL.
//
// Example:
//
//	doc, err := client.Discover(ctx, "https://keycloak/realms/opendut/")
//	if err != nil {
//	    return fmt.Errorf("discovery failed: %w", err)
//	}
func (c *DiscoveryClient) Discover(ctx context.Context, issuerURL string) (*DiscoveryDocument, error) {
	if err := ValidateIssuerURL(issuerURL); err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}

	if cached, ok := c.cache.Load(issuerURL); ok {
		doc := cached.(*cachedDocument)
		if c.now().Sub(doc.fetchedAt) < c.cacheTTL {
			c.logger.Debug("OIDC discovery cache hit", "issuer", issuerURL)
			return doc.document, nil
		}
		c.logger.Debug("OIDC discovery cache expired", "issuer", issuerURL)
	}

	discoveryURL := issuerURL + ".well-known/openid-configuration"

	c.logger.Debug("Fetching OIDC discovery document", "url", discoveryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery failed with status %d", resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscoveryBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if err := validateDocument(issuerURL, &doc); err != nil {
		return nil, fmt.Errorf("invalid discovery document: %w", err)
	}

	if c.cacheTTL > 0 {
		c.cache.Store(issuerURL, &cachedDocument{
			document:  &doc,
			fetchedAt: c.now(),
		})
	}

	c.logger.Info("OIDC discovery successful",
		"issuer", issuerURL,
		"token_endpoint", doc.TokenEndpoint,
		"registration_endpoint", doc.RegistrationEndpoint)

	return &doc, nil
}

// validateDocument checks the issuer claim and that endpoints use HTTPS.
func validateDocument(issuerURL string, doc *DiscoveryDocument) error {
	if doc.Issuer == "" {
		return fmt.Errorf("issuer is required but missing")
	}
	// Keycloak advertises the realm issuer without the trailing slash
	if strings.TrimSuffix(doc.Issuer, "/") != strings.TrimSuffix(issuerURL, "/") {
		return fmt.Errorf("%w: got %s", ErrIssuerMismatch, doc.Issuer)
	}

	if doc.TokenEndpoint == "" {
		return fmt.Errorf("token_endpoint is required but missing")
	}

	endpoints := []struct {
		name string
		url  string
	}{
		{"token_endpoint", doc.TokenEndpoint},
		{"authorization_endpoint", doc.AuthorizationEndpoint},
		{"userinfo_endpoint", doc.UserInfoEndpoint},
		{"jwks_uri", doc.JWKSUri},
		{"registration_endpoint", doc.RegistrationEndpoint},
	}

	for _, endpoint := range endpoints {
		if endpoint.url != "" && !strings.HasPrefix(endpoint.url, "https://") {
			return fmt.Errorf("%s must use HTTPS: %s", endpoint.name, endpoint.url)
		}
	}

	return nil
}

// ClearCache clears the discovery document cache.
func (c *DiscoveryClient) ClearCache() {
	count := 0
	c.cache.Range(func(key, _ any) bool {
		c.cache.Delete(key)
		count++
		return true
	})
	c.logger.Debug("OIDC discovery cache cleared", "entries_removed", count)
}
