package trust

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/opendut/carl-auth/internal/project"
)

// Configuration keys naming CA certificate files.
const (
	ConfigKeyOIDCCA    = "network.oidc.client.ca"
	ConfigKeyGenericCA = "network.tls.ca"
)

// DefaultCandidates is the lookup order used when resolving the identity provider's CA.
var DefaultCandidates = []string{ConfigKeyOIDCCA, ConfigKeyGenericCA}

// Settings is the subset of the configuration source the resolver reads.
type Settings interface {
	IsSet(key string) bool
	GetString(key string) string
}

// CertificateAuthority is a single parsed CA certificate together with its PEM encoding.
type CertificateAuthority struct {
	Certificate *x509.Certificate
	PEM         []byte
	Path        string
}

// ParseCertificateAuthority parses exactly one PEM encoded certificate.
func ParseCertificateAuthority(data []byte) (*CertificateAuthority, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyCertificate
	}

	block, rest := pem.Decode(data)
	if block == nil {
		return nil, ErrNotPEM
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
	if next, _ := pem.Decode(rest); next != nil {
		return nil, ErrMultipleCertificates
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateAuthority{
		Certificate: cert,
		PEM:         pem.EncodeToMemory(block),
	}, nil
}

// LoadCertificateAuthority reads and parses the PEM file at path.
// Every failure is reported as *CertificateLoadError.
func LoadCertificateAuthority(path string) (*CertificateAuthority, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, &CertificateLoadError{Path: path, Cause: err}
	}

	ca, err := ParseCertificateAuthority(data)
	if err != nil {
		return nil, &CertificateLoadError{Path: path, Cause: err}
	}
	ca.Path = path
	return ca, nil
}

// ClientOption configures NewHTTPClient
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
}

// WithTimeout sets an overall request timeout on the client. By default the
// client has none and callers control deadlines through their contexts.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// NewHTTPClient returns a client trusting only ca that does not follow redirects.
func NewHTTPClient(ca *CertificateAuthority, opts ...ClientOption) (*http.Client, error) {
	if ca == nil || ca.Certificate == nil {
		return nil, &CertificateLoadError{Cause: errors.New("certificate authority is nil")}
	}

	options := clientOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	pool := x509.NewCertPool()
	pool.AddCert(ca.Certificate)

	var transport *http.Transport
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = base.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   options.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// NewHTTPClientFromPEM parses pemData and builds a client trusting it.
func NewHTTPClientFromPEM(pemData []byte, opts ...ClientOption) (*http.Client, error) {
	ca, err := ParseCertificateAuthority(pemData)
	if err != nil {
		return nil, &CertificateLoadError{Cause: err}
	}
	return NewHTTPClient(ca, opts...)
}

// Resolver locates the CA certificate through an ordered list of configuration keys.
type Resolver struct {
	// Settings provides the configured file paths (required)
	Settings Settings

	// ProjectRoot is the base for relative paths. Empty uses project.Root().
	ProjectRoot string

	// Candidates are tried in order. Nil uses DefaultCandidates.
	Candidates []string

	// Logger for debug messages (nil uses slog.Default())
	Logger *slog.Logger
}

// Resolve returns the first certificate authority that can be loaded.
func (r *Resolver) Resolve() (*CertificateAuthority, error) {
	candidates := r.Candidates
	if candidates == nil {
		candidates = DefaultCandidates
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var causes []error
	for _, key := range candidates {
		ca, err := r.load(key)
		if err != nil {
			logger.Debug("CA certificate candidate not usable", "key", key, "error", err)
			causes = append(causes, err)
			continue
		}
		logger.Debug("Loaded CA certificate", "key", key, "path", ca.Path, "subject", ca.Certificate.Subject.String())
		return ca, nil
	}

	return nil, &ConfigurationError{Keys: append([]string(nil), candidates...), Cause: errors.Join(causes...)}
}

// HTTPClient resolves the CA and builds a client trusting it.
func (r *Resolver) HTTPClient(opts ...ClientOption) (*http.Client, error) {
	ca, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	return NewHTTPClient(ca, opts...)
}

func (r *Resolver) load(key string) (*CertificateAuthority, error) {
	if r.Settings == nil || !r.Settings.IsSet(key) || r.Settings.GetString(key) == "" {
		return nil, fmt.Errorf("no configuration found for %s", key)
	}

	path, err := project.MakePathAbsolute(r.ProjectRoot, r.Settings.GetString(key))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	ca, err := LoadCertificateAuthority(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return ca, nil
}
