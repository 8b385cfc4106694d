package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrClientNotFound is returned when no client is recorded for an id
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidCredentials is returned when a client id and secret do not match.
	// Unknown clients and wrong secrets produce the same error.
	ErrInvalidCredentials = errors.New("invalid client credentials")

	// ErrResourceConflict is returned when a resource already has a different client recorded
	ErrResourceConflict = errors.New("resource already has a registered client")
)

// dummyHash is compared against for unknown clients so that lookups of
// unknown and known ids take the same time (bcrypt hash of "test").
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ClientStore records the peer clients the control plane registered.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient records a client. A resource can have one client at a time;
	// saving a second client id for the same resource returns ErrResourceConflict.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by client id
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// GetClientByResource retrieves the client registered for a resource
	GetClientByResource(ctx context.Context, resourceID string) (*Client, error)

	// ValidateClientSecret checks a secret against the recorded hash
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// DeleteClient removes a client and its resource mapping
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients lists all recorded clients
	ListClients(ctx context.Context) ([]*Client, error)
}

// Client is a peer client registered at the identity provider on behalf of a resource.
type Client struct {
	ClientID         string
	ResourceID       string
	ClientSecretHash string // bcrypt hash of the hex SHA-256 digest
	ClientName       string
	ClientURI        string
	CreatedAt        time.Time
}

// HashClientSecret returns the bcrypt hash of the SHA-256 digest of secret.
// bcrypt only reads 72 bytes, identity providers issue longer secrets.
func HashClientSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("client secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword(digest(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}

// CompareClientSecret checks secret against client's hash. A nil client
// is compared against a dummy hash and always fails.
func CompareClientSecret(client *Client, secret string) error {
	hash := dummyHash
	if client != nil && client.ClientSecretHash != "" {
		hash = client.ClientSecretHash
	}

	// always run bcrypt, found or not
	err := bcrypt.CompareHashAndPassword([]byte(hash), digest(secret))
	if client == nil || err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func digest(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:]))
}

// ValidateClient checks the fields every store requires.
func ValidateClient(client *Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}
	if client.ResourceID == "" {
		return fmt.Errorf("client %s has no resource id", client.ClientID)
	}
	if client.ClientSecretHash == "" {
		return fmt.Errorf("client %s has no secret hash", client.ClientID)
	}
	return nil
}
