package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/opendut/carl-auth"
	"github.com/opendut/carl-auth/internal/testutil"
)

// testEnvPrefix keeps the developer's environment out of the tests
const testEnvPrefix = "CARL_AUTH_CLI_TEST"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-prefix", testEnvPrefix}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func idpArgs(t *testing.T, idp *testutil.IdentityProvider) []string {
	t.Helper()
	caPath := testutil.WriteFile(t, t.TempDir(), "ca.pem", idp.CAPEM())
	set := func(key, value string) []string { return []string{"--set", key + "=" + value} }

	var args []string
	for _, kv := range [][2]string{
		{"network.oidc.enabled", "true"},
		{"network.oidc.client.id", "c"},
		{"network.oidc.client.secret", "s"},
		{"network.oidc.client.issuer.url", idp.IssuerURL()},
		{"network.tls.ca", caPath},
		{"network.remote.host", "carl"},
		{"network.remote.port", "443"},
	} {
		args = append(args, set(kv[0], kv[1])...)
	}
	return args
}

func TestConfigCmd_RedactsSecrets(t *testing.T) {
	out, err := run(t, "--set", "network.oidc.client.secret=topsecret", "config")
	require.NoError(t, err)

	assert.Contains(t, out, "network.oidc.client.secret = redacted\n")
	assert.Contains(t, out, "network.oidc.enabled = false\n")
	assert.NotContains(t, out, "topsecret")
}

func TestTokenCmd(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)

	out, err := run(t, append(idpArgs(t, idp), "token", "--reveal")...)
	require.NoError(t, err)
	assert.Equal(t, "abc\n", out)

	out, err = run(t, append(idpArgs(t, idp), "token")...)
	require.NoError(t, err)
	assert.Contains(t, out, "token:      [REDACTED]")
	assert.Contains(t, out, "expires_at: ")
	assert.NotContains(t, out, "abc")
}

func TestCheckCmd(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)

	out, err := run(t, append(idpArgs(t, idp), "check")...)
	require.NoError(t, err)
	assert.Equal(t, "login ok\n", out)
}

func TestRegisterAndDeleteCmd(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)

	out, err := run(t, append(idpArgs(t, idp), "register", "42")...)
	require.NoError(t, err)
	assert.Contains(t, out, "client_id:     p-42\n")
	assert.Contains(t, out, "client_secret: [REDACTED]\n")
	assert.Equal(t, "https://carl:443/resources/42", idp.LastRegistration().Body["client_uri"])

	out, err = run(t, append(idpArgs(t, idp), "register", "43", "--reveal")...)
	require.NoError(t, err)
	assert.Contains(t, out, "client_secret: sec\n")

	out, err = run(t, append(idpArgs(t, idp), "delete", "p-42")...)
	require.NoError(t, err)
	assert.Equal(t, "deleted p-42\n", out)
	assert.Equal(t, []string{"p-42"}, idp.DeletedClients())
}

func TestClientsCmd_WithRegistry(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	redis := miniredis.RunT(t)
	registry := []string{"--set", "storage.valkey.address=" + redis.Addr()}

	_, err := run(t, append(append(idpArgs(t, idp), registry...), "register", "42")...)
	require.NoError(t, err)

	out, err := run(t, append(registry, "clients")...)
	require.NoError(t, err)
	assert.Contains(t, out, "CLIENT ID")
	assert.Contains(t, out, "p-42")

	_, err = run(t, append(append(idpArgs(t, idp), registry...), "delete", "p-42")...)
	require.NoError(t, err)

	out, err = run(t, append(registry, "clients")...)
	require.NoError(t, err)
	assert.NotContains(t, out, "p-42")
}

func TestClientsCmd_WithoutRegistry(t *testing.T) {
	_, err := run(t, "clients")
	require.Error(t, err)
	assert.Equal(t, ExitCodeConfiguration, exitCode(err))
}

func TestDiscoverCmd(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)

	out, err := run(t, append(idpArgs(t, idp), "discover")...)
	require.NoError(t, err)
	assert.Contains(t, out, idp.IssuerURL()+"clients-registrations/openid-connect")
}

func TestCmd_Errors(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)

	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{
			name:     "OIDC disabled",
			args:     []string{"token"},
			wantCode: ExitCodeConfiguration,
		},
		{
			name:     "malformed override",
			args:     []string{"--set", "novalue", "config"},
			wantCode: ExitCodeConfiguration,
		},
		{
			name:     "missing settings file",
			args:     []string{"--config", "/does/not/exist.toml", "config"},
			wantCode: ExitCodeConfiguration,
		},
		{
			name:     "issuer without trailing slash",
			args:     append(idpArgs(t, idp), "--set", "network.oidc.client.issuer.url="+strings.TrimSuffix(idp.IssuerURL(), "/"), "register", "42"),
			wantCode: ExitCodeConfiguration,
		},
		{
			name:     "invalid resource id",
			args:     append(idpArgs(t, idp), "register", "a/b"),
			wantCode: ExitCodeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, exitCode(err))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&auth.AuthError{Kind: auth.AuthErrorFailedToGetToken, Message: "m"}, ExitCodeAuthFailed},
		{&auth.ClientManagerError{Kind: auth.ClientManagerRegistration, Message: "m"}, ExitCodeAuthFailed},
		{&auth.ClientManagerError{Kind: auth.ClientManagerInvalidConfiguration, Message: "m"}, ExitCodeConfiguration},
		{fmt.Errorf("wrapped: %w", &auth.ManagerError{Message: "m"}), ExitCodeConfiguration},
		{errors.New("anything"), ExitCodeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}
