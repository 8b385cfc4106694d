// Package settings loads the control plane configuration with viper.
//
// Values are layered: embedded TOML defaults, an optional TOML file, then
// environment variables. Environment variable names are the upper-cased key
// with dots replaced by underscores and the prefix prepended, e.g.
// OPENDUT_CARL_NETWORK_OIDC_CLIENT_SECRET for network.oidc.client.secret.
package settings

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix is the prefix of environment variable overrides
const DefaultEnvPrefix = "OPENDUT_CARL"

// RedactedValue replaces secret values in Redacted output
const RedactedValue = "redacted"

// Configuration keys
const (
	KeyOIDCEnabled       = "network.oidc.enabled"
	KeyClientID          = "network.oidc.client.id"
	KeyClientSecret      = "network.oidc.client.secret"
	KeyPeerID            = "network.oidc.client.peer.id"
	KeyPeerSecret        = "network.oidc.client.peer.secret"
	KeyIssuerURL         = "network.oidc.client.issuer.url"
	KeyIssuerRemoteURL   = "network.oidc.client.issuer.remote.url"
	KeyScopes            = "network.oidc.client.scopes"
	KeyOIDCCA            = "network.oidc.client.ca"
	KeyTLSCA             = "network.tls.ca"
	KeyRemoteHost        = "network.remote.host"
	KeyRemotePort        = "network.remote.port"
	KeyRegistrationRate  = "registration.rate"
	KeyRegistrationBurst = "registration.burst"
	KeyStoreAddress      = "storage.valkey.address"
	KeyStorePassword     = "storage.valkey.password"
	KeyStoreDB           = "storage.valkey.db"
	KeyStorePrefix       = "storage.valkey.prefix"
)

// SecretKeys are replaced by RedactedValue in Redacted
var SecretKeys = []string{KeyClientSecret, KeyPeerSecret, KeyStorePassword}

// optionalKeys have no default but may come from the environment
var optionalKeys = []string{KeyPeerID, KeyPeerSecret}

//go:embed defaults.toml
var defaultsTOML []byte

// Options configures Load
type Options struct {
	// ConfigFile is an optional TOML file merged over the defaults
	ConfigFile string

	// EnvPrefix overrides DefaultEnvPrefix
	EnvPrefix string

	// Overrides are applied last, e.g. from command line flags
	Overrides map[string]any
}

// Load builds the layered configuration.
func Load(opts Options) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if err := v.ReadConfig(bytes.NewReader(defaultsTOML)); err != nil {
		return nil, fmt.Errorf("failed to read default settings: %w", err)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", opts.ConfigFile, err)
		}
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range optionalKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	return v, nil
}

// Redacted returns every setting as a flat key/value map with secrets replaced.
func Redacted(v *viper.Viper) map[string]any {
	out := make(map[string]any)
	for _, key := range v.AllKeys() {
		out[key] = v.Get(key)
	}
	for _, key := range SecretKeys {
		if value, ok := out[key]; ok && value != nil && value != "" {
			out[key] = RedactedValue
		}
	}
	return out
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
