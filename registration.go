package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/opendut/carl-auth/internal/util"
)

const (
	// DeviceRedirectURL is the redirect URI of every registered peer client.
	// Peers use the client credentials grant only; the URI is never visited.
	DeviceRedirectURL = "http://localhost:12345/device"

	// GrantTypeClientCredentials is the only grant registered peer clients may use
	GrantTypeClientCredentials = "client_credentials"

	// maxRegistrationResponseBytes bounds registration responses (1MB)
	maxRegistrationResponseBytes = 1 << 20
)

// clientRegistrationRequest is the RFC 7591 client metadata sent for a peer.
type clientRegistrationRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	ClientName   string   `json:"client_name"`
	ClientURI    string   `json:"client_uri"`
}

// clientRegistrationResponse holds the fields of an RFC 7591 registration
// response this package reads.
type clientRegistrationResponse struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret,omitempty"`
	ClientSecretExpiresAt   int64  `json:"client_secret_expires_at,omitempty"`
	RegistrationClientURI   string `json:"registration_client_uri,omitempty"`
	RegistrationAccessToken string `json:"registration_access_token,omitempty"` //nolint:gosec // field name, not a credential
}

// registrationErrorBody is the RFC 7591 section 3.2.2 error response
type registrationErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func newClientRegistrationRequest(id ResourceID, clientURI *url.URL) clientRegistrationRequest {
	return clientRegistrationRequest{
		RedirectURIs: []string{DeviceRedirectURL},
		GrantTypes:   []string{GrantTypeClientCredentials},
		ClientName:   id.String(),
		ClientURI:    clientURI.String(),
	}
}

// postRegistration submits request to the registration endpoint. A non-success
// status is returned as *RegistrationError.
func postRegistration(ctx context.Context, client *http.Client, endpoint *url.URL, bearer Token, request clientRegistrationRequest) (*clientRegistrationResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", bearer.AuthorizationHeader())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistrationResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, newRegistrationError(resp.StatusCode, data)
	}

	var registered clientRegistrationResponse
	if err := json.Unmarshal(data, &registered); err != nil {
		return nil, fmt.Errorf("failed to decode registration response: %w", err)
	}
	return &registered, nil
}

// deleteRegistration removes a client through the client configuration
// endpoint <registration endpoint>/<client id> (RFC 7592).
func deleteRegistration(ctx context.Context, client *http.Client, endpoint *url.URL, bearer Token, clientID string) error {
	target := endpoint.JoinPath(clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", bearer.AuthorizationHeader())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxRegistrationResponseBytes))
	return newRegistrationError(resp.StatusCode, data)
}

func newRegistrationError(status int, body []byte) *RegistrationError {
	regErr := &RegistrationError{StatusCode: status}

	var parsed registrationErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		regErr.Code = parsed.Error
		regErr.Description = util.SafeTruncate(parsed.ErrorDescription, maxErrorBodyLength)
		return regErr
	}
	regErr.Description = util.SafeTruncate(strings.TrimSpace(string(body)), maxErrorBodyLength)
	return regErr
}
