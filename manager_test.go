package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opendut/carl-auth/internal/testutil"
	"github.com/opendut/carl-auth/oidc"
	"github.com/opendut/carl-auth/security"
	"github.com/opendut/carl-auth/settings"
	"github.com/opendut/carl-auth/trust"
)

func newTestManager(t *testing.T, idp *testutil.IdentityProvider, clock *testutil.MockTime, opts ...Option) *AuthenticationManager {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m, err := NewAuthenticationManager(testConfig(t, idp), nil, opts...)
	if err != nil {
		t.Fatalf("NewAuthenticationManager() error = %v", err)
	}
	return m
}

func TestGetToken_CachesUntilExpiry(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	clock := testutil.NewMockTime(testEpoch)
	m := newTestManager(t, idp, clock)
	ctx := context.Background()

	tok, err := m.GetToken(ctx)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if tok.Value.Reveal() != "abc" {
		t.Errorf("token = %q, want abc", tok.Value.Reveal())
	}
	if got := idp.TokenRequests(); got != 1 {
		t.Fatalf("token requests = %d, want 1", got)
	}
	expiry, ok := m.TokenExpiry()
	if !ok {
		t.Fatal("no token cached")
	}
	testutil.AssertTimeEqual(t, expiry, testEpoch.Add(3600*time.Second), 0)

	// cached and unexpired: no network
	for i := 0; i < 3; i++ {
		if _, err := m.GetToken(ctx); err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
	}
	clock.Advance(3599 * time.Second)
	if _, err := m.GetToken(ctx); err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got := idp.TokenRequests(); got != 1 {
		t.Fatalf("token requests = %d, want 1 while cached", got)
	}

	// at expires_at the token is no longer valid
	clock.Advance(time.Second)
	if _, err := m.GetToken(ctx); err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got := idp.TokenRequests(); got != 2 {
		t.Fatalf("token requests = %d, want exactly one refresh", got)
	}
	expiry, _ = m.TokenExpiry()
	testutil.AssertTimeEqual(t, expiry, clock.Now().Add(3600*time.Second), 0)
}

func TestGetToken_SendsClientCredentials(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	cfg := testConfig(t, idp)
	cfg.Scopes = []string{"openid", "carl"}

	m, err := NewAuthenticationManager(cfg, nil)
	require.NoError(t, err)
	_, err = m.GetToken(context.Background())
	require.NoError(t, err)

	req := idp.LastTokenRequest()
	assert.Equal(t, "c", req.BasicUser)
	assert.Equal(t, "s", req.BasicPassword)
	assert.Equal(t, "client_credentials", req.Form.Get("grant_type"))
	assert.Equal(t, "openid carl", req.Form.Get("scope"))
	assert.Empty(t, req.Form.Get("client_secret"), "secret must only travel in the Authorization header")
}

func TestGetToken_FormEncodedResponse(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	idp.SetTokenReply(func(*http.Request) testutil.Reply {
		return testutil.Reply{
			ContentType: "application/x-www-form-urlencoded",
			Body:        "access_token=xyz&token_type=bearer&expires_in=60",
		}
	})
	clock := testutil.NewMockTime(testEpoch)
	m := newTestManager(t, idp, clock)

	tok, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok.Value.Reveal())

	expiry, ok := m.TokenExpiry()
	require.True(t, ok)
	testutil.AssertTimeEqual(t, expiry, testEpoch.Add(time.Minute), 0)
}

func TestGetToken_MissingExpiry(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"absent", map[string]any{"access_token": "abc", "token_type": "Bearer"}},
		{"zero", map[string]any{"access_token": "abc", "token_type": "Bearer", "expires_in": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := testutil.NewIdentityProvider(t)
			idp.SetTokenReply(func(*http.Request) testutil.Reply {
				return testutil.Reply{Body: tt.body}
			})
			m := newTestManager(t, idp, testutil.NewMockTime(testEpoch))

			_, err := m.GetToken(context.Background())
			if !errors.Is(err, ErrExpirationFieldMissing) {
				t.Fatalf("GetToken() error = %v, want ErrExpirationFieldMissing", err)
			}
			if errors.Is(err, ErrFailedToGetToken) {
				t.Error("missing expiry must not be reported as a failed exchange")
			}
			if _, ok := m.TokenExpiry(); ok {
				t.Error("cache must stay empty")
			}

			// not cached, so the next call asks again
			_, _ = m.GetToken(context.Background())
			if got := idp.TokenRequests(); got != 2 {
				t.Errorf("token requests = %d, want 2", got)
			}
		})
	}
}

func TestGetToken_ExchangeFailure(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	idp.SetTokenReply(func(*http.Request) testutil.Reply {
		return testutil.Reply{Status: http.StatusUnauthorized, Body: map[string]any{
			"error":             "invalid_client",
			"error_description": "Invalid client credentials",
		}}
	})
	cfg := testConfig(t, idp)
	cfg.ClientSecret = security.NewSecret("super-secret-value")
	m, err := NewAuthenticationManager(cfg, nil)
	require.NoError(t, err)

	_, err = m.GetToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailedToGetToken)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthErrorFailedToGetToken, authErr.Kind)

	var tokenErr *TokenRequestError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, TokenErrorServerResponse, tokenErr.Kind)
	assert.Equal(t, "invalid_client", tokenErr.Code)
	assert.Equal(t, http.StatusUnauthorized, tokenErr.StatusCode)

	assert.Contains(t, err.Error(), "invalid_client")
	assert.NotContains(t, err.Error(), "super-secret-value")
	assert.NotContains(t, fmt.Sprintf("%+v", err), "super-secret-value")

	_, cached := m.TokenExpiry()
	assert.False(t, cached)
}

func TestGetToken_ConcurrentCallersShareOneExchange(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	release := make(chan struct{})
	idp.SetTokenReply(func(*http.Request) testutil.Reply {
		<-release
		return testutil.Reply{Body: map[string]any{"access_token": "abc", "expires_in": 3600}}
	})
	m := newTestManager(t, idp, testutil.NewMockTime(testEpoch))

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.GetToken(context.Background())
			if err == nil && tok.Value.Reveal() != "abc" {
				err = fmt.Errorf("unexpected token %q", tok.Value.Reveal())
			}
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return idp.TokenRequests() == 1 }, 5*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), idp.TokenRequests())
}

func TestGetToken_CallerCancellation(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	release := make(chan struct{})
	idp.SetTokenReply(func(*http.Request) testutil.Reply {
		<-release
		return testutil.Reply{Body: map[string]any{"access_token": "abc", "expires_in": 3600}}
	})
	m := newTestManager(t, idp, testutil.NewMockTime(testEpoch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.GetToken(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return idp.TokenRequests() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrFailedToGetToken)

	// the exchange itself completes and fills the cache
	close(release)
	require.Eventually(t, func() bool {
		_, ok := m.TokenExpiry()
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	tok, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Value.Reveal())
	assert.Equal(t, int64(1), idp.TokenRequests())
}

func TestCheckLogin(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	m := newTestManager(t, idp, testutil.NewMockTime(testEpoch))

	ok, err := m.CheckLogin(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	idp.SetTokenReply(func(*http.Request) testutil.Reply {
		return testutil.Reply{Status: http.StatusServiceUnavailable, Body: "maintenance"}
	})
	m.InvalidateToken()

	ok, err = m.CheckLogin(context.Background())
	assert.False(t, ok)
	var tokenErr *TokenRequestError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, TokenErrorParse, tokenErr.Kind)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestInvalidateToken(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	m := newTestManager(t, idp, testutil.NewMockTime(testEpoch))
	ctx := context.Background()

	_, err := m.GetToken(ctx)
	require.NoError(t, err)
	m.InvalidateToken()
	_, cached := m.TokenExpiry()
	assert.False(t, cached)

	_, err = m.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), idp.TokenRequests())
}

func TestTokenSource(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	m := newTestManager(t, idp, testutil.NewMockTime(testEpoch))

	tok, err := m.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(testEpoch.Add(time.Hour)))
}

func TestToken_Redacted(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	m := newTestManager(t, idp, testutil.NewMockTime(testEpoch))

	tok, err := m.GetToken(context.Background())
	require.NoError(t, err)
	for _, rendered := range []string{fmt.Sprint(tok), fmt.Sprintf("%+v", tok), fmt.Sprintf("%#v", tok)} {
		assert.NotContains(t, rendered, "abc")
	}
	assert.Equal(t, "Bearer abc", tok.AuthorizationHeader())
}

func TestAuthenticationManager_Metrics(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	inst, reader := testInstrumentation(t)
	m := newTestManager(t, idp, testutil.NewMockTime(testEpoch), WithInstrumentation(inst))

	for i := 0; i < 3; i++ {
		_, err := m.GetToken(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), testutil.CounterValue(t, reader, "carl.auth.token.cache.misses"))
	assert.Equal(t, int64(2), testutil.CounterValue(t, reader, "carl.auth.token.cache.hits"))
	assert.Equal(t, int64(1), testutil.CounterValue(t, reader, "carl.auth.token.exchanges",
		attribute.String("purpose", "login"), attribute.String("result", "success")))
	assert.Equal(t, uint64(1), testutil.HistogramCount(t, reader, "carl.auth.token.exchange.duration"))
}

func TestAuthenticationManager_AuditsIssuedTokens(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	var buf strings.Builder
	logger := newBufferLogger(&buf)
	m := newTestManager(t, idp, testutil.NewMockTime(testEpoch), WithAuditor(security.NewAuditor(logger, true)))

	_, err := m.GetToken(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, security.EventTokenIssued)
	assert.NotContains(t, out, "abc")
}

func TestNewAuthenticationManager_InvalidConfiguration(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)

	tests := []struct {
		name   string
		mutate func(*IdentityProviderConfig)
		is     error
	}{
		{
			name: "issuer without trailing slash",
			mutate: func(c *IdentityProviderConfig) {
				c.IssuerURL = mustParseURL(t, strings.TrimSuffix(idp.IssuerURL(), "/"))
			},
			is: oidc.ErrMissingTrailingSlash,
		},
		{
			name:   "missing secret",
			mutate: func(c *IdentityProviderConfig) { c.ClientSecret = security.Secret{} },
		},
		{
			name:   "missing client id",
			mutate: func(c *IdentityProviderConfig) { c.ClientID = "" },
		},
		{
			name:   "invalid CA",
			mutate: func(c *IdentityProviderConfig) { c.IssuerCA = []byte("not a certificate") },
			is:     trust.ErrNotPEM,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, idp)
			tt.mutate(&cfg)

			_, err := NewAuthenticationManager(cfg, nil)
			var managerErr *ManagerError
			require.ErrorAs(t, err, &managerErr)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	assert.Zero(t, idp.TokenRequests(), "construction must not touch the network")
}

func TestFromSettings(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	dir := t.TempDir()
	caPath := testutil.WriteFile(t, dir, "idp-ca.pem", idp.CAPEM())

	enabled := func() testutil.MapSettings {
		return testutil.MapSettings{
			settings.KeyOIDCEnabled:  true,
			settings.KeyClientID:     "c",
			settings.KeyClientSecret: "s",
			settings.KeyIssuerURL:    idp.IssuerURL(),
			settings.KeyScopes:       "openid",
			settings.KeyOIDCCA:       caPath,
		}
	}

	t.Run("enabled", func(t *testing.T) {
		m, err := FromSettings(enabled(), WithProjectRoot(dir))
		require.NoError(t, err)
		require.NotNil(t, m)

		tok, err := m.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", tok.Value.Reveal())
		assert.Equal(t, "openid", idp.LastTokenRequest().Form.Get("scope"))
		assert.Equal(t, idp.IssuerURL()+"protocol/openid-connect/token", m.TokenURL().String())
	})

	t.Run("generic CA fallback", func(t *testing.T) {
		s := enabled()
		delete(s, settings.KeyOIDCCA)
		s[settings.KeyTLSCA] = "idp-ca.pem"

		m, err := FromSettings(s, WithProjectRoot(dir))
		require.NoError(t, err)
		_, err = m.GetToken(context.Background())
		require.NoError(t, err)
	})

	t.Run("disabled", func(t *testing.T) {
		m, err := FromSettings(testutil.MapSettings{settings.KeyOIDCEnabled: false})
		assert.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("flag missing", func(t *testing.T) {
		_, err := FromSettings(testutil.MapSettings{})
		var managerErr *ManagerError
		require.ErrorAs(t, err, &managerErr)
		assert.Contains(t, err.Error(), settings.KeyOIDCEnabled)
	})

	t.Run("secret missing", func(t *testing.T) {
		s := enabled()
		delete(s, settings.KeyClientSecret)
		_, err := FromSettings(s, WithProjectRoot(dir))
		var managerErr *ManagerError
		require.ErrorAs(t, err, &managerErr)
		assert.Contains(t, err.Error(), settings.KeyClientSecret)
	})

	t.Run("no CA", func(t *testing.T) {
		s := enabled()
		delete(s, settings.KeyOIDCCA)
		_, err := FromSettings(s, WithProjectRoot(dir))
		var cfgErr *trust.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})
}
