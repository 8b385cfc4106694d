package testutil

import (
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// DefaultRealmPath is the realm prefix served by IdentityProvider.
const DefaultRealmPath = "/realms/opendut/"

// Reply is a canned HTTP response.
type Reply struct {
	Status      int
	ContentType string
	Body        any // marshalled as JSON unless it is a string
}

// RegistrationRequest captures what the mock received at the registration endpoint.
type RegistrationRequest struct {
	Authorization string
	Body          map[string]any
}

// TokenRequest captures what the mock received at the token endpoint.
type TokenRequest struct {
	BasicUser     string
	BasicPassword string
	Form          url.Values
}

// IdentityProvider is an httptest TLS server imitating the Keycloak endpoints
// used by the control plane.
type IdentityProvider struct {
	Server *httptest.Server

	mu              sync.Mutex
	tokenReply      func(r *http.Request) Reply
	registerReply   func(body map[string]any) Reply
	deleteStatus    int
	tokenRequests   []TokenRequest
	registrations   []RegistrationRequest
	deletedClients  []string
	discoveryHits   atomic.Int64
	tokenCount      atomic.Int64
	registerCount   atomic.Int64
	deleteCount     atomic.Int64
	discoveryIssuer string
}

// NewIdentityProvider starts a mock identity provider. It is closed on test cleanup.
//
// Defaults: the token endpoint returns {"access_token":"abc","expires_in":3600},
// the registration endpoint returns 201 with client_id "p-<client_name>" and
// client_secret "sec", deletes return 204.
func NewIdentityProvider(t *testing.T) *IdentityProvider {
	t.Helper()

	idp := &IdentityProvider{
		tokenReply: func(*http.Request) Reply {
			return Reply{Status: http.StatusOK, Body: map[string]any{
				"access_token": "abc",
				"token_type":   "Bearer",
				"expires_in":   3600,
			}}
		},
		registerReply: func(body map[string]any) Reply {
			name, _ := body["client_name"].(string)
			return Reply{Status: http.StatusCreated, Body: map[string]any{
				"client_id":     "p-" + name,
				"client_secret": "sec",
			}}
		},
		deleteStatus: http.StatusNoContent,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DefaultRealmPath+"protocol/openid-connect/token", idp.handleToken)
	mux.HandleFunc(DefaultRealmPath+"clients-registrations/openid-connect", idp.handleRegistration)
	mux.HandleFunc(DefaultRealmPath+"clients-registrations/openid-connect/", idp.handleDelete)
	mux.HandleFunc(DefaultRealmPath+".well-known/openid-configuration", idp.handleDiscovery)

	idp.Server = httptest.NewTLSServer(mux)
	t.Cleanup(idp.Server.Close)

	return idp
}

// IssuerURL returns the realm issuer URL including the trailing slash.
func (p *IdentityProvider) IssuerURL() string {
	return p.Server.URL + DefaultRealmPath
}

// CAPEM returns the PEM encoded certificate of the TLS server, usable as trust anchor.
func (p *IdentityProvider) CAPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.Server.Certificate().Raw})
}

// SetTokenReply replaces the token endpoint behaviour.
func (p *IdentityProvider) SetTokenReply(fn func(r *http.Request) Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenReply = fn
}

// SetRegistrationReply replaces the registration endpoint behaviour.
func (p *IdentityProvider) SetRegistrationReply(fn func(body map[string]any) Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registerReply = fn
}

// SetDeleteStatus sets the status returned by the client delete endpoint.
func (p *IdentityProvider) SetDeleteStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteStatus = status
}

// SetDiscoveryIssuer overrides the issuer advertised in the discovery document.
func (p *IdentityProvider) SetDiscoveryIssuer(issuer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryIssuer = issuer
}

// TokenRequests returns the number of token endpoint hits.
func (p *IdentityProvider) TokenRequests() int64 { return p.tokenCount.Load() }

// RegistrationRequests returns the number of registration endpoint hits.
func (p *IdentityProvider) RegistrationRequests() int64 { return p.registerCount.Load() }

// DeleteRequests returns the number of delete endpoint hits.
func (p *IdentityProvider) DeleteRequests() int64 { return p.deleteCount.Load() }

// DiscoveryRequests returns the number of discovery endpoint hits.
func (p *IdentityProvider) DiscoveryRequests() int64 { return p.discoveryHits.Load() }

// LastTokenRequest returns the most recent token request.
func (p *IdentityProvider) LastTokenRequest() TokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokenRequests) == 0 {
		return TokenRequest{}
	}
	return p.tokenRequests[len(p.tokenRequests)-1]
}

// LastRegistration returns the most recent registration request.
func (p *IdentityProvider) LastRegistration() RegistrationRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.registrations) == 0 {
		return RegistrationRequest{}
	}
	return p.registrations[len(p.registrations)-1]
}

// DeletedClients returns the client ids deleted so far.
func (p *IdentityProvider) DeletedClients() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deletedClients...)
}

func (p *IdentityProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.tokenCount.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()
	user, pass, _ := r.BasicAuth()

	p.mu.Lock()
	p.tokenRequests = append(p.tokenRequests, TokenRequest{BasicUser: user, BasicPassword: pass, Form: r.PostForm})
	reply := p.tokenReply
	p.mu.Unlock()

	writeReply(w, reply(r))
}

func (p *IdentityProvider) handleRegistration(w http.ResponseWriter, r *http.Request) {
	p.registerCount.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeReply(w, Reply{Status: http.StatusBadRequest, Body: map[string]any{
			"error":             "invalid_client_metadata",
			"error_description": "malformed JSON",
		}})
		return
	}

	p.mu.Lock()
	p.registrations = append(p.registrations, RegistrationRequest{
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	reply := p.registerReply
	p.mu.Unlock()

	writeReply(w, reply(body))
}

func (p *IdentityProvider) handleDelete(w http.ResponseWriter, r *http.Request) {
	p.deleteCount.Add(1)
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clientID := strings.TrimPrefix(r.URL.Path, DefaultRealmPath+"clients-registrations/openid-connect/")

	p.mu.Lock()
	status := p.deleteStatus
	if status/100 == 2 {
		p.deletedClients = append(p.deletedClients, clientID)
	}
	p.mu.Unlock()

	w.WriteHeader(status)
}

func (p *IdentityProvider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	p.discoveryHits.Add(1)

	p.mu.Lock()
	issuer := p.discoveryIssuer
	p.mu.Unlock()
	if issuer == "" {
		issuer = strings.TrimSuffix(p.IssuerURL(), "/")
	}

	base := p.IssuerURL()
	writeReply(w, Reply{Status: http.StatusOK, Body: map[string]any{
		"issuer":                   issuer,
		"authorization_endpoint":   base + "protocol/openid-connect/auth",
		"token_endpoint":           base + "protocol/openid-connect/token",
		"jwks_uri":                 base + "protocol/openid-connect/certs",
		"registration_endpoint":    base + "clients-registrations/openid-connect",
		"response_types_supported": []string{"code"},
		"grant_types_supported":    []string{"authorization_code", "client_credentials"},
	}})
}

func writeReply(w http.ResponseWriter, reply Reply) {
	contentType := reply.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	switch body := reply.Body.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(body))
	default:
		_ = json.NewEncoder(w).Encode(body)
	}
}
