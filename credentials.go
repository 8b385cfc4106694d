package auth

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/opendut/carl-auth/security"
)

// ResourceID identifies the peer resource a client is registered for. It is
// used as the client name and in the client URI.
type ResourceID string

// NewResourceID returns a random UUID based resource id
func NewResourceID() ResourceID {
	return ResourceID(uuid.NewString())
}

// ResourceIDFromUUID converts a peer UUID
func ResourceIDFromUUID(id uuid.UUID) ResourceID {
	return ResourceID(id.String())
}

// ParseResourceID validates a resource id read from user input.
func ParseResourceID(raw string) (ResourceID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("resource id is empty")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, "/?#") {
		return "", fmt.Errorf("resource id %q contains reserved characters", id)
	}
	return ResourceID(id), nil
}

func (r ResourceID) String() string { return string(r) }

// ClientCredentials are the client id and secret a peer authenticates with.
type ClientCredentials struct {
	ClientID     string
	ClientSecret security.Secret
}

// NewClientCredentials wraps a plain secret
func NewClientCredentials(clientID, clientSecret string) ClientCredentials {
	return ClientCredentials{ClientID: clientID, ClientSecret: security.NewSecret(clientSecret)}
}

// IsZero reports whether neither field is set
func (c ClientCredentials) IsZero() bool {
	return c.ClientID == "" && c.ClientSecret.IsEmpty()
}

// LogValue implements slog.LogValuer
func (c ClientCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_id", c.ClientID),
		slog.Any("client_secret", c.ClientSecret),
	)
}

// Token is a bearer access token handed to callers. Each call to
// AuthenticationManager.GetToken returns a fresh copy.
type Token struct {
	Value security.Secret
}

// IsEmpty reports whether the token has no value
func (t Token) IsEmpty() bool { return t.Value.IsEmpty() }

// AuthorizationHeader returns the value for an HTTP Authorization header
func (t Token) AuthorizationHeader() string {
	return "Bearer " + t.Value.Reveal()
}
