package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/opendut/carl-auth/instrumentation"
	"github.com/opendut/carl-auth/oidc"
	"github.com/opendut/carl-auth/security"
	"github.com/opendut/carl-auth/settings"
	"github.com/opendut/carl-auth/storage"
	"github.com/opendut/carl-auth/trust"
)

// ClientManager provisions peer clients at the identity provider, either by
// dynamic client registration or by handing out common peer credentials.
// It is safe for concurrent use.
type ClientManager struct {
	clientID        string
	issuerURL       *url.URL
	issuerRemoteURL *url.URL
	endpoints       oidc.Endpoints
	controlPlane    ControlPlaneURL
	common          *ClientCredentials

	// registrar token exchange, never cached and without scopes
	oauth      *clientcredentials.Config
	httpClient *http.Client

	store     storage.ClientStore
	limiter   *security.RegistrationLimiter
	discovery *oidc.DiscoveryClient

	now     func() time.Time
	logger  *slog.Logger
	auditor *security.Auditor
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// NewClientManager validates cfg and derives the identity provider endpoints.
// It fails with a ClientManagerInvalidConfiguration error, before any network
// access, when the issuer URL does not end with "/".
func NewClientManager(cfg IdentityProviderConfig, opts ...Option) (*ClientManager, error) {
	o := newOptions(opts)

	if cfg.IssuerURL == nil || !strings.HasSuffix(cfg.IssuerURL.Path, "/") {
		return nil, &ClientManagerError{
			Kind:    ClientManagerInvalidConfiguration,
			Message: fmt.Sprintf("issuer URL must end with a slash: %v", cfg.IssuerURL),
			Cause:   oidc.ErrMissingTrailingSlash,
		}
	}
	endpoints, err := oidc.DeriveEndpoints(cfg.IssuerURL)
	if err != nil {
		return nil, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "invalid endpoint URL", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "invalid identity provider configuration", Cause: err}
	}
	if cfg.CommonPeerCredentials == nil && cfg.ControlPlaneURL.IsZero() {
		return nil, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "control plane URL is required for dynamic client registration"}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient, err = trust.NewHTTPClientFromPEM(cfg.IssuerCA, trust.WithTimeout(DefaultHTTPTimeout))
		if err != nil {
			return nil, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "failed to load certificate authority", Cause: err}
		}
	}

	issuerRemoteURL := cfg.IssuerRemoteURL
	if issuerRemoteURL == nil {
		issuerRemoteURL = cfg.IssuerURL
	}

	var common *ClientCredentials
	if cfg.CommonPeerCredentials != nil {
		c := *cfg.CommonPeerCredentials
		common = &c
	}

	logger := o.logger.With("component", "client_manager")
	return &ClientManager{
		clientID:        cfg.ClientID,
		issuerURL:       cfg.IssuerURL,
		issuerRemoteURL: issuerRemoteURL,
		endpoints:       endpoints,
		controlPlane:    cfg.ControlPlaneURL,
		common:          common,
		oauth:           newClientCredentialsConfig(cfg.ClientID, cfg.ClientSecret.Reveal(), endpoints.Token, nil),
		httpClient:      httpClient,
		store:           o.store,
		limiter:         o.limiter,
		discovery:       oidc.NewDiscoveryClient(httpClient, o.discoveryTTL, logger),
		now:             o.clock,
		logger:          logger,
		auditor:         o.auditor,
		metrics:         o.instrumentation.Metrics(),
		tracer:          o.instrumentation.Tracer("registration"),
	}, nil
}

// ClientManagerFromSettings builds a ClientManager from configuration. It
// returns (nil, nil) when OIDC is disabled. A registration limiter is created
// from registration.rate and registration.burst unless one is passed in.
func ClientManagerFromSettings(s Settings, opts ...Option) (*ClientManager, error) {
	o := newOptions(opts)

	if !s.IsSet(settings.KeyOIDCEnabled) {
		return nil, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "no configuration found for " + settings.KeyOIDCEnabled}
	}
	if !s.GetBool(settings.KeyOIDCEnabled) {
		o.logger.Debug("OIDC is disabled, peer clients are not registered")
		return nil, nil
	}

	cfg, err := IdentityProviderConfigFromSettings(s)
	if err != nil {
		return nil, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "incomplete OIDC client configuration", Cause: err}
	}

	if o.httpClient == nil {
		resolver := trust.Resolver{Settings: s, ProjectRoot: o.projectRoot, Logger: o.logger}
		ca, err := resolver.Resolve()
		if err != nil {
			return nil, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "failed to load certificate authority", Cause: err}
		}
		cfg.IssuerCA = ca.PEM
	}

	if o.limiter == nil && s.IsSet(settings.KeyRegistrationRate) {
		rate, err := strconv.ParseFloat(s.GetString(settings.KeyRegistrationRate), 64)
		if err != nil {
			return nil, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "invalid " + settings.KeyRegistrationRate, Cause: err}
		}
		if rate > 0 {
			opts = append(opts, WithRegistrationLimiter(security.NewRegistrationLimiter(rate, s.GetInt(settings.KeyRegistrationBurst), o.logger)))
		}
	}

	return NewClientManager(cfg, opts...)
}

// IssuerURL returns the issuer as reachable from the control plane
func (m *ClientManager) IssuerURL() *url.URL { return cloneURL(m.issuerURL) }

// IssuerRemoteURL returns the issuer as reachable from peers
func (m *ClientManager) IssuerRemoteURL() *url.URL { return cloneURL(m.issuerRemoteURL) }

// RegistrationURL returns the dynamic client registration endpoint
func (m *ClientManager) RegistrationURL() *url.URL { return cloneURL(m.endpoints.Registration) }

// TokenURL returns the token endpoint
func (m *ClientManager) TokenURL() *url.URL { return cloneURL(m.endpoints.Token) }

// UsesCommonCredentials reports whether peers share one configured client
func (m *ClientManager) UsesCommonCredentials() bool { return m.common != nil }

// RegisterNewClient provisions credentials for the resource. With common peer
// credentials configured they are returned unchanged without network access.
// Otherwise the registrar authenticates once with client credentials and
// registers a confidential client named after the resource.
func (m *ClientManager) RegisterNewClient(ctx context.Context, resourceID ResourceID) (ClientCredentials, error) {
	ctx, span := m.tracer.Start(ctx, "auth.RegisterNewClient")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResourceID, resourceID.String()))

	if m.common != nil {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrMode, instrumentation.RegistrationModeCommon))
		m.logger.Debug("Using common peer credentials", "client_id", m.common.ClientID, "resource_id", resourceID)
		m.auditor.LogCommonCredentialsUsed(m.common.ClientID, resourceID.String())
		m.metrics.RecordClientRegistration(ctx, instrumentation.RegistrationModeCommon, 0, nil)
		instrumentation.SetSpanSuccess(span)
		return *m.common, nil
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrMode, instrumentation.RegistrationModeDynamic))

	start := m.now()
	creds, err := m.registerDynamically(ctx, resourceID)
	m.metrics.RecordClientRegistration(ctx, instrumentation.RegistrationModeDynamic, float64(m.now().Sub(start).Milliseconds()), err)
	if err != nil {
		instrumentation.RecordError(span, err)
		if errors.Is(err, ErrRequest) {
			m.auditor.LogAuthFailure(m.clientID, err.Error())
		}
		m.auditor.LogRegistrationFailed(resourceID.String(), err.Error())
		return ClientCredentials{}, err
	}

	instrumentation.AddClientAttributes(span, creds.ClientID, "")
	instrumentation.SetSpanSuccess(span)
	m.auditor.LogClientRegistered(creds.ClientID, resourceID.String())
	m.logger.Info("Registered peer client", "client_id", creds.ClientID, "resource_id", resourceID)
	return creds, nil
}

func (m *ClientManager) registerDynamically(ctx context.Context, resourceID ResourceID) (ClientCredentials, error) {
	if resourceID == "" {
		return ClientCredentials{}, &ClientManagerError{Kind: ClientManagerRegistration, Message: "resource id is empty"}
	}
	clientURI, err := m.controlPlane.ResourceURL(resourceID)
	if err != nil {
		return ClientCredentials{}, &ClientManagerError{Kind: ClientManagerRegistration, Message: "failed to build client URI", Cause: err}
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return ClientCredentials{}, &ClientManagerError{Kind: ClientManagerRegistration, Message: "registration throttled", Cause: err}
	}

	bearer, err := m.registrarToken(ctx)
	if err != nil {
		return ClientCredentials{}, err
	}

	registered, err := postRegistration(ctx, m.httpClient, m.endpoints.Registration, bearer, newClientRegistrationRequest(resourceID, clientURI))
	if err != nil {
		return ClientCredentials{}, &ClientManagerError{Kind: ClientManagerRegistration, Message: "registration request rejected", Cause: err}
	}
	if registered.ClientID == "" {
		return ClientCredentials{}, &ClientManagerError{Kind: ClientManagerRegistration, Message: "registration response has no client_id"}
	}
	if registered.ClientSecret == "" {
		m.logger.Error("Identity provider registered a public client, a confidential client is required",
			"client_id", registered.ClientID, "resource_id", resourceID)
		return ClientCredentials{}, &ClientManagerError{
			Kind:    ClientManagerRegistration,
			Message: fmt.Sprintf("registration response for client %s has no client_secret", registered.ClientID),
			Cause:   ErrConfidentialClientRequired,
		}
	}

	creds := NewClientCredentials(registered.ClientID, registered.ClientSecret)
	if err := m.record(ctx, bearer, resourceID, clientURI, creds); err != nil {
		m.logger.Error("Failed to record registered client, removing it again", "client_id", creds.ClientID, "error", err)
		if delErr := deleteRegistration(ctx, m.httpClient, m.endpoints.Registration, bearer, creds.ClientID); delErr != nil {
			m.logger.Error("Failed to remove unrecorded client", "client_id", creds.ClientID, "error", delErr)
		}
		return ClientCredentials{}, &ClientManagerError{Kind: ClientManagerRegistration, Message: "failed to record registered client", Cause: err}
	}
	return creds, nil
}

func (m *ClientManager) record(ctx context.Context, bearer Token, resourceID ResourceID, clientURI *url.URL, creds ClientCredentials) error {
	if m.store == nil {
		return nil
	}
	hash, err := storage.HashClientSecret(creds.ClientSecret.Reveal())
	if err != nil {
		return err
	}
	if err := m.replacePrevious(ctx, bearer, resourceID, creds.ClientID); err != nil {
		return err
	}
	return m.store.SaveClient(ctx, &storage.Client{
		ClientID:         creds.ClientID,
		ResourceID:       resourceID.String(),
		ClientSecretHash: hash,
		ClientName:       resourceID.String(),
		ClientURI:        clientURI.String(),
		CreatedAt:        m.now(),
	})
}

// replacePrevious removes the client recorded for resourceID, unless it is
// clientID itself, at the identity provider and from the store. Failing to
// delete it at the identity provider only logs.
func (m *ClientManager) replacePrevious(ctx context.Context, bearer Token, resourceID ResourceID, clientID string) error {
	previous, err := m.store.GetClientByResource(ctx, resourceID.String())
	if errors.Is(err, storage.ErrClientNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up previous client: %w", err)
	}
	if previous.ClientID == clientID {
		return nil
	}

	if err := deleteRegistration(ctx, m.httpClient, m.endpoints.Registration, bearer, previous.ClientID); err != nil {
		m.logger.Warn("Failed to delete replaced client at identity provider",
			"client_id", previous.ClientID, "resource_id", resourceID, "error", err)
	} else {
		m.auditor.LogClientDeleted(previous.ClientID)
	}
	if err := m.store.DeleteClient(ctx, previous.ClientID); err != nil && !errors.Is(err, storage.ErrClientNotFound) {
		return fmt.Errorf("failed to remove replaced client %s: %w", previous.ClientID, err)
	}

	m.logger.Info("Replacing peer client", "previous_client_id", previous.ClientID, "client_id", clientID, "resource_id", resourceID)
	return nil
}

// registrarToken performs one uncached client-credentials exchange for the
// control plane's own client.
func (m *ClientManager) registrarToken(ctx context.Context) (Token, error) {
	start := m.now()
	tok, err := exchangeClientCredentials(ctx, m.oauth, m.httpClient)
	elapsed := float64(m.now().Sub(start).Milliseconds())
	m.metrics.RecordTokenExchange(ctx, "registration", elapsed, err)
	if err != nil {
		return Token{}, &ClientManagerError{Kind: ClientManagerRequestError, Message: "failed to obtain registrar token", Cause: err}
	}
	return Token{Value: security.NewSecret(tok.AccessToken)}, nil
}

// DeleteClient removes a dynamically registered peer client at the identity
// provider and from the client store. The common peer client cannot be deleted.
func (m *ClientManager) DeleteClient(ctx context.Context, clientID string) (err error) {
	ctx, span := m.tracer.Start(ctx, "auth.DeleteClient")
	defer span.End()
	instrumentation.AddClientAttributes(span, clientID, "")
	defer func() {
		m.metrics.RecordClientDeletion(ctx, err)
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	if clientID == "" {
		return &ClientManagerError{Kind: ClientManagerRegistration, Message: "client id is empty"}
	}
	if m.common != nil && m.common.ClientID == clientID {
		return &ClientManagerError{Kind: ClientManagerRegistration, Message: "refusing to delete client " + clientID, Cause: ErrCommonCredentials}
	}

	bearer, err := m.registrarToken(ctx)
	if err != nil {
		return err
	}
	if err := deleteRegistration(ctx, m.httpClient, m.endpoints.Registration, bearer, clientID); err != nil {
		return &ClientManagerError{Kind: ClientManagerRegistration, Message: "failed to delete client " + clientID, Cause: err}
	}

	if m.store != nil {
		if err := m.store.DeleteClient(ctx, clientID); err != nil && !errors.Is(err, storage.ErrClientNotFound) {
			m.logger.Warn("Client deleted at identity provider but not from store", "client_id", clientID, "error", err)
		}
	}

	m.auditor.LogClientDeleted(clientID)
	m.logger.Info("Deleted peer client", "client_id", clientID)
	return nil
}

// VerifyPeerCredentials checks credentials presented by a peer against the
// common credentials or the client store. Unknown clients and wrong secrets
// both yield storage.ErrInvalidCredentials.
func (m *ClientManager) VerifyPeerCredentials(ctx context.Context, creds ClientCredentials) error {
	if m.common != nil && creds.ClientID == m.common.ClientID {
		if creds.ClientSecret.Equal(m.common.ClientSecret) {
			return nil
		}
		m.auditor.LogAuthFailure(creds.ClientID, "secret mismatch")
		return storage.ErrInvalidCredentials
	}
	if m.store == nil {
		return &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "no client store configured"}
	}
	if err := m.store.ValidateClientSecret(ctx, creds.ClientID, creds.ClientSecret.Reveal()); err != nil {
		m.auditor.LogAuthFailure(creds.ClientID, "secret mismatch")
		return err
	}
	return nil
}

// HealthCheck fetches the issuer's discovery document and checks that the
// identity provider supports what the manager needs.
func (m *ClientManager) HealthCheck(ctx context.Context) (*oidc.DiscoveryDocument, error) {
	doc, err := m.discovery.Discover(ctx, m.issuerURL.String())
	if err != nil {
		return nil, &ClientManagerError{Kind: ClientManagerRequestError, Message: "OIDC discovery failed", Cause: err}
	}
	if !doc.SupportsGrantType(GrantTypeClientCredentials) {
		return doc, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "identity provider does not support the client_credentials grant"}
	}
	if m.common == nil && doc.RegistrationEndpoint == "" {
		return doc, &ClientManagerError{Kind: ClientManagerInvalidConfiguration, Message: "identity provider does not advertise a registration endpoint"}
	}
	return doc, nil
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
