package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/opendut/carl-auth/instrumentation"
	"github.com/opendut/carl-auth/oidc"
	"github.com/opendut/carl-auth/security"
	"github.com/opendut/carl-auth/settings"
	"github.com/opendut/carl-auth/trust"
)

const refreshKey = "token"

// cachedToken is replaced as a whole on every refresh
type cachedToken struct {
	accessToken security.Secret
	expiresAt   time.Time
}

// AuthenticationManager obtains and caches the access token of the control
// plane's own client. It is safe for concurrent use.
type AuthenticationManager struct {
	clientID   string
	scopes     []string
	endpoints  oidc.Endpoints
	oauth      *clientcredentials.Config
	httpClient *http.Client

	mu    sync.RWMutex
	state *cachedToken

	// concurrent refreshes share one exchange
	refresh singleflight.Group

	now     func() time.Time
	logger  *slog.Logger
	auditor *security.Auditor
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// NewAuthenticationManager validates cfg and builds a manager. A nil
// httpClient is built from cfg.IssuerCA.
func NewAuthenticationManager(cfg IdentityProviderConfig, httpClient *http.Client, opts ...Option) (*AuthenticationManager, error) {
	o := newOptions(opts)

	if err := cfg.Validate(); err != nil {
		return nil, &ManagerError{Message: "invalid identity provider configuration", Cause: err}
	}
	endpoints, err := oidc.DeriveEndpoints(cfg.IssuerURL)
	if err != nil {
		return nil, &ManagerError{Message: "invalid issuer URL", Cause: err}
	}

	if httpClient == nil {
		httpClient = o.httpClient
	}
	if httpClient == nil {
		httpClient, err = trust.NewHTTPClientFromPEM(cfg.IssuerCA, trust.WithTimeout(DefaultHTTPTimeout))
		if err != nil {
			return nil, &ManagerError{Message: "failed to build HTTP client for the issuer", Cause: err}
		}
	}

	return &AuthenticationManager{
		clientID:   cfg.ClientID,
		scopes:     append([]string(nil), cfg.Scopes...),
		endpoints:  endpoints,
		oauth:      newClientCredentialsConfig(cfg.ClientID, cfg.ClientSecret.Reveal(), endpoints.Token, cfg.Scopes),
		httpClient: httpClient,
		now:        o.clock,
		logger:     o.logger.With("component", "authentication_manager"),
		auditor:    o.auditor,
		metrics:    o.instrumentation.Metrics(),
		tracer:     o.instrumentation.Tracer("token"),
	}, nil
}

// FromSettings builds a manager from configuration. It returns (nil, nil)
// when OIDC is disabled and a *ManagerError when the enabled flag is missing
// or the configuration is incomplete.
func FromSettings(s Settings, opts ...Option) (*AuthenticationManager, error) {
	o := newOptions(opts)

	if !s.IsSet(settings.KeyOIDCEnabled) {
		return nil, &ManagerError{Message: "no configuration found for " + settings.KeyOIDCEnabled}
	}
	if !s.GetBool(settings.KeyOIDCEnabled) {
		o.logger.Debug("OIDC is disabled")
		return nil, nil
	}

	cfg, err := IdentityProviderConfigFromSettings(s)
	if err != nil {
		return nil, &ManagerError{Message: "incomplete OIDC client configuration", Cause: err}
	}
	o.logger.Debug("OIDC configuration loaded", "config", cfg)

	httpClient := o.httpClient
	if httpClient == nil {
		resolver := trust.Resolver{Settings: s, ProjectRoot: o.projectRoot, Logger: o.logger}
		ca, err := resolver.Resolve()
		if err != nil {
			return nil, &ManagerError{Message: "failed to load issuer CA", Cause: err}
		}
		cfg.IssuerCA = ca.PEM
		httpClient, err = trust.NewHTTPClient(ca, trust.WithTimeout(DefaultHTTPTimeout))
		if err != nil {
			return nil, &ManagerError{Message: "failed to build HTTP client for the issuer", Cause: err}
		}
	}

	return NewAuthenticationManager(cfg, httpClient, opts...)
}

// GetToken returns a valid access token, exchanging client credentials when
// the cached token is missing or expired. A token is valid while the current
// time is strictly before its expiry.
func (m *AuthenticationManager) GetToken(ctx context.Context) (Token, error) {
	ctx, span := m.tracer.Start(ctx, "auth.GetToken")
	defer span.End()
	instrumentation.AddClientAttributes(span, m.clientID, strings.Join(m.scopes, " "))

	if tok, ok := m.cached(); ok {
		m.metrics.RecordCacheHit(ctx)
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCacheHit, true))
		instrumentation.SetSpanSuccess(span)
		return tok, nil
	}
	m.metrics.RecordCacheMiss(ctx)
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCacheHit, false))

	// the flight outlives a caller that gives up, others may still be waiting on it
	flightCtx := context.WithoutCancel(ctx)
	ch := m.refresh.DoChan(refreshKey, func() (any, error) {
		return m.refreshToken(flightCtx)
	})

	select {
	case <-ctx.Done():
		err := &AuthError{Kind: AuthErrorFailedToGetToken, Message: "gave up waiting for token refresh", Cause: ctx.Err()}
		instrumentation.RecordError(span, err)
		return Token{}, err
	case res := <-ch:
		if res.Err != nil {
			instrumentation.RecordError(span, res.Err)
			return Token{}, res.Err
		}
		instrumentation.SetSpanSuccess(span)
		return res.Val.(Token), nil
	}
}

// CheckLogin reports whether a non-empty token can be obtained.
func (m *AuthenticationManager) CheckLogin(ctx context.Context) (bool, error) {
	tok, err := m.GetToken(ctx)
	if err != nil {
		return false, err
	}
	return !tok.IsEmpty(), nil
}

// InvalidateToken drops the cached token so that the next GetToken refreshes.
func (m *AuthenticationManager) InvalidateToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
}

// TokenExpiry returns the expiry of the cached token, if any.
func (m *AuthenticationManager) TokenExpiry() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return time.Time{}, false
	}
	return m.state.expiresAt, true
}

// TokenURL returns the token endpoint derived from the issuer
func (m *AuthenticationManager) TokenURL() *url.URL {
	u := *m.endpoints.Token
	return &u
}

// TokenSource adapts the manager to oauth2.TokenSource, e.g. for oauth2.NewClient.
// ctx is used for every refresh.
func (m *AuthenticationManager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, manager: m}
}

type managerTokenSource struct {
	ctx     context.Context
	manager *AuthenticationManager
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.manager.GetToken(s.ctx)
	if err != nil {
		return nil, err
	}
	expiry, _ := s.manager.TokenExpiry()
	return &oauth2.Token{
		AccessToken: tok.Value.Reveal(),
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}

func (m *AuthenticationManager) cached() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil || !m.now().Before(m.state.expiresAt) {
		return Token{}, false
	}
	return Token{Value: m.state.accessToken}, true
}

// refreshToken runs inside the single flight. The exchange happens without
// holding the lock; only installing the result takes the write lock.
func (m *AuthenticationManager) refreshToken(ctx context.Context) (Token, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	ctx, span := m.tracer.Start(ctx, "auth.RefreshToken")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, "client_credentials"))

	m.logger.Debug("Fetching access token", "token_url", m.oauth.TokenURL)

	start := m.now()
	oauthToken, err := exchangeClientCredentials(ctx, m.oauth, m.httpClient)
	elapsed := float64(m.now().Sub(start).Milliseconds())
	if err != nil {
		m.metrics.RecordTokenExchange(ctx, "login", elapsed, err)
		reason := ParseOAuthRequestError(err)
		m.logger.Warn("Fetching access token failed", "error", reason)
		m.auditor.LogAuthFailure(m.clientID, reason)

		authErr := &AuthError{Kind: AuthErrorFailedToGetToken, Message: "fetching authentication token failed", Cause: err}
		instrumentation.RecordError(span, authErr)
		return Token{}, authErr
	}

	lifetime, ok := expiresIn(oauthToken)
	if !ok {
		authErr := &AuthError{Kind: AuthErrorExpirationFieldMissing, Message: "no expires_in in token response"}
		m.metrics.RecordTokenExchange(ctx, "login", elapsed, authErr)
		m.logger.Error("Identity provider returned a token without lifetime")
		instrumentation.RecordError(span, authErr)
		return Token{}, authErr
	}
	m.metrics.RecordTokenExchange(ctx, "login", elapsed, nil)

	entry := &cachedToken{
		accessToken: security.NewSecret(oauthToken.AccessToken),
		expiresAt:   m.now().Add(lifetime),
	}
	m.mu.Lock()
	m.state = entry
	m.mu.Unlock()

	instrumentation.SetSpanAttributes(span, attribute.Int64(instrumentation.AttrExpiresIn, int64(lifetime.Seconds())))
	instrumentation.SetSpanSuccess(span)
	m.auditor.LogTokenIssued(m.clientID, lifetime)
	m.logger.Debug("Access token refreshed", "expires_at", entry.expiresAt)

	return Token{Value: entry.accessToken}, nil
}
