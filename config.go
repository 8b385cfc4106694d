package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/opendut/carl-auth/internal/util"
	"github.com/opendut/carl-auth/oidc"
	"github.com/opendut/carl-auth/security"
	"github.com/opendut/carl-auth/settings"
)

// Settings is the configuration source read by the FromSettings constructors.
// *viper.Viper satisfies it.
type Settings interface {
	IsSet(key string) bool
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
}

// ControlPlaneURL is the public base URL of the control plane. Registered
// clients point back to it through their client URI.
type ControlPlaneURL struct {
	base *url.URL
}

// NewControlPlaneURL parses an absolute http(s) URL
func NewControlPlaneURL(raw string) (ControlPlaneURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ControlPlaneURL{}, fmt.Errorf("invalid control plane URL: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return ControlPlaneURL{}, fmt.Errorf("control plane URL must be an absolute http(s) URL: %s", raw)
	}
	return ControlPlaneURL{base: u}, nil
}

// ControlPlaneURLFromSettings builds https://<network.remote.host>:<network.remote.port>.
func ControlPlaneURLFromSettings(s Settings) (ControlPlaneURL, error) {
	if !s.IsSet(settings.KeyRemoteHost) || s.GetString(settings.KeyRemoteHost) == "" {
		return ControlPlaneURL{}, fmt.Errorf("no configuration found for %s", settings.KeyRemoteHost)
	}
	if !s.IsSet(settings.KeyRemotePort) {
		return ControlPlaneURL{}, fmt.Errorf("no configuration found for %s", settings.KeyRemotePort)
	}
	port := s.GetInt(settings.KeyRemotePort)
	if port <= 0 || port > 65535 {
		return ControlPlaneURL{}, fmt.Errorf("%s out of range: %d", settings.KeyRemotePort, port)
	}
	host := net.JoinHostPort(s.GetString(settings.KeyRemoteHost), strconv.Itoa(port))
	return NewControlPlaneURL("https://" + host)
}

// IsZero reports whether the URL is unset
func (c ControlPlaneURL) IsZero() bool { return c.base == nil }

func (c ControlPlaneURL) String() string {
	if c.base == nil {
		return ""
	}
	return c.base.String()
}

// ResourceURL returns <base>/resources/<id> with id escaped as a single path
// segment. The path replaces any path of the base URL.
func (c ControlPlaneURL) ResourceURL(id ResourceID) (*url.URL, error) {
	if c.base == nil {
		return nil, fmt.Errorf("control plane URL is not configured")
	}
	if id == "" {
		return nil, fmt.Errorf("resource id is empty")
	}
	if id == "." || id == ".." {
		return nil, fmt.Errorf("resource id %q is not a path segment", id)
	}
	// the id is one escaped segment, "/" in it cannot leave /resources/
	ref := &url.URL{
		Path:    "/resources/" + id.String(),
		RawPath: "/resources/" + url.PathEscape(id.String()),
	}
	return c.base.ResolveReference(ref), nil
}

// IdentityProviderConfig describes the control plane's own client at the
// identity provider. It is treated as immutable once built.
type IdentityProviderConfig struct {
	ClientID     string
	ClientSecret security.Secret

	// IssuerURL is the realm URL reachable from the control plane. It must end with "/".
	IssuerURL *url.URL

	// IssuerRemoteURL is the realm URL as seen by peers
	IssuerRemoteURL *url.URL

	// IssuerCA is the PEM encoded trust anchor for IssuerURL
	IssuerCA []byte

	Scopes []string

	// CommonPeerCredentials, when set, are handed to every peer instead of
	// registering a client per resource
	CommonPeerCredentials *ClientCredentials

	ControlPlaneURL ControlPlaneURL
}

// Validate checks the fields both managers depend on. It does not touch the network.
func (c IdentityProviderConfig) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, fmt.Errorf("client id is required"))
	}
	if c.ClientSecret.IsEmpty() {
		errs = append(errs, fmt.Errorf("client secret is required"))
	}
	if c.IssuerURL == nil {
		errs = append(errs, fmt.Errorf("issuer URL is required"))
	} else if err := oidc.ValidateIssuerURL(c.IssuerURL.String()); err != nil {
		errs = append(errs, err)
	}
	if err := oidc.ValidateScopes(c.Scopes); err != nil {
		errs = append(errs, err)
	}
	if p := c.CommonPeerCredentials; p != nil && (p.ClientID == "" || p.ClientSecret.IsEmpty()) {
		errs = append(errs, fmt.Errorf("common peer credentials need both id and secret"))
	}
	return errors.Join(errs...)
}

// LogValue implements slog.LogValuer. The client secret is never rendered.
func (c IdentityProviderConfig) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("client_id", c.ClientID),
		slog.Any("client_secret", c.ClientSecret),
		slog.Any("scopes", c.Scopes),
		slog.Bool("common_peer_credentials", c.CommonPeerCredentials != nil),
	}
	if c.IssuerURL != nil {
		attrs = append(attrs, slog.String("issuer_url", c.IssuerURL.String()))
	}
	if c.IssuerRemoteURL != nil {
		attrs = append(attrs, slog.String("issuer_remote_url", c.IssuerRemoteURL.String()))
	}
	if !c.ControlPlaneURL.IsZero() {
		attrs = append(attrs, slog.String("control_plane_url", c.ControlPlaneURL.String()))
	}
	return slog.GroupValue(attrs...)
}

// IdentityProviderConfigFromSettings reads the network.oidc.client.* keys.
// The CA is not loaded here; the FromSettings constructors resolve it through
// the trust package. The issuer remote URL defaults to the issuer URL and the
// control plane URL is only read when network.remote.host is set.
func IdentityProviderConfigFromSettings(s Settings) (IdentityProviderConfig, error) {
	required := func(key string) (string, error) {
		if !s.IsSet(key) || s.GetString(key) == "" {
			return "", fmt.Errorf("failed to find configuration for `%s`", key)
		}
		return s.GetString(key), nil
	}

	clientID, err := required(settings.KeyClientID)
	if err != nil {
		return IdentityProviderConfig{}, err
	}
	clientSecret, err := required(settings.KeyClientSecret)
	if err != nil {
		return IdentityProviderConfig{}, err
	}
	issuer, err := required(settings.KeyIssuerURL)
	if err != nil {
		return IdentityProviderConfig{}, err
	}
	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return IdentityProviderConfig{}, fmt.Errorf("failed to parse issuer URL: %w", err)
	}

	issuerRemoteURL := issuerURL
	if remote := s.GetString(settings.KeyIssuerRemoteURL); remote != "" {
		issuerRemoteURL, err = url.Parse(remote)
		if err != nil {
			return IdentityProviderConfig{}, fmt.Errorf("failed to parse issuer remote URL: %w", err)
		}
	}

	cfg := IdentityProviderConfig{
		ClientID:        clientID,
		ClientSecret:    security.NewSecret(clientSecret),
		IssuerURL:       issuerURL,
		IssuerRemoteURL: issuerRemoteURL,
		Scopes:          ParseScopes(clientID, s.GetString(settings.KeyScopes)),
	}

	peerID, peerSecret := s.GetString(settings.KeyPeerID), s.GetString(settings.KeyPeerSecret)
	if peerID != "" && peerSecret != "" {
		slog.Debug("Using common peer credentials for all peers", "client_id", peerID)
		creds := NewClientCredentials(peerID, peerSecret)
		cfg.CommonPeerCredentials = &creds
	}

	if s.IsSet(settings.KeyRemoteHost) && s.GetString(settings.KeyRemoteHost) != "" {
		cfg.ControlPlaneURL, err = ControlPlaneURLFromSettings(s)
		if err != nil {
			return IdentityProviderConfig{}, err
		}
	}

	return cfg, nil
}

// ParseScopes splits a comma or whitespace separated scope list.
func ParseScopes(clientID, raw string) []string {
	scopes := util.SplitList(raw)
	slog.Debug("Parsed OIDC scopes", "client_id", clientID, "scopes", scopes)
	return scopes
}
