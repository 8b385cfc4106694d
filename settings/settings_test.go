package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v, err := Load(Options{EnvPrefix: "CARL_AUTH_TEST_DEFAULTS"})
	require.NoError(t, err)

	assert.False(t, v.GetBool(KeyOIDCEnabled))
	assert.True(t, v.IsSet(KeyOIDCEnabled))
	assert.Equal(t, "opendut-carl-client", v.GetString(KeyClientID))
	assert.Equal(t, "https://keycloak/realms/opendut/", v.GetString(KeyIssuerURL))
	assert.Equal(t, 443, v.GetInt(KeyRemotePort))
	assert.False(t, v.IsSet(KeyPeerID), "common peer id has no default")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "carl.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[network.oidc]
enabled = true

[network.oidc.client]
id = "carl"
secret = "s3cr3t"
`), 0o600))

	v, err := Load(Options{ConfigFile: path, EnvPrefix: "CARL_AUTH_TEST_FILE"})
	require.NoError(t, err)

	assert.True(t, v.GetBool(KeyOIDCEnabled))
	assert.Equal(t, "carl", v.GetString(KeyClientID))
	assert.Equal(t, "s3cr3t", v.GetString(KeyClientSecret))
	// untouched defaults survive the merge
	assert.Equal(t, "localhost", v.GetString(KeyRemoteHost))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CARL_AUTH_TEST_ENV_NETWORK_OIDC_CLIENT_ID", "from-env")
	t.Setenv("CARL_AUTH_TEST_ENV_NETWORK_OIDC_CLIENT_PEER_ID", "peer")
	t.Setenv("CARL_AUTH_TEST_ENV_NETWORK_OIDC_CLIENT_PEER_SECRET", "peer-secret")

	v, err := Load(Options{EnvPrefix: "CARL_AUTH_TEST_ENV"})
	require.NoError(t, err)

	assert.Equal(t, "from-env", v.GetString(KeyClientID))
	assert.True(t, v.IsSet(KeyPeerID))
	assert.Equal(t, "peer", v.GetString(KeyPeerID))
	assert.Equal(t, "peer-secret", v.GetString(KeyPeerSecret))
}

func TestLoad_Overrides(t *testing.T) {
	v, err := Load(Options{
		EnvPrefix: "CARL_AUTH_TEST_OVERRIDES",
		Overrides: map[string]any{KeyRemotePort: 8443},
	})
	require.NoError(t, err)
	assert.Equal(t, 8443, v.GetInt(KeyRemotePort))
}

func TestRedacted(t *testing.T) {
	t.Setenv("CARL_AUTH_TEST_REDACT_NETWORK_OIDC_CLIENT_PEER_SECRET", "peer-secret")

	v, err := Load(Options{
		EnvPrefix: "CARL_AUTH_TEST_REDACT",
		Overrides: map[string]any{KeyClientSecret: "s3cr3t", KeyStorePassword: "valkey-pw"},
	})
	require.NoError(t, err)

	out := Redacted(v)
	assert.Equal(t, RedactedValue, out[KeyClientSecret])
	assert.Equal(t, RedactedValue, out[KeyPeerSecret])
	assert.Equal(t, RedactedValue, out[KeyStorePassword])
	assert.Equal(t, "carl:", out[KeyStorePrefix])
	assert.Equal(t, "opendut-carl-client", out[KeyClientID])

	for _, value := range out {
		assert.NotEqual(t, "s3cr3t", value)
		assert.NotEqual(t, "peer-secret", value)
		assert.NotEqual(t, "valkey-pw", value)
	}

	keys := SortedKeys(out)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}

func TestRedacted_EmptySecretStaysEmpty(t *testing.T) {
	v, err := Load(Options{EnvPrefix: "CARL_AUTH_TEST_EMPTY"})
	require.NoError(t, err)

	assert.Equal(t, "", Redacted(v)[KeyClientSecret])
}
