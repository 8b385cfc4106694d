package trust

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyCertificate is returned for files without any content
	ErrEmptyCertificate = errors.New("certificate file is empty")

	// ErrNotPEM is returned when no PEM block could be decoded
	ErrNotPEM = errors.New("no PEM encoded certificate found")

	// ErrMultipleCertificates is returned when more than one PEM block is present
	ErrMultipleCertificates = errors.New("expected exactly one certificate")
)

// CertificateLoadError reports a certificate file that exists in configuration
// but could not be read or parsed.
type CertificateLoadError struct {
	Path  string
	Cause error
}

// Error implements the error interface
func (e *CertificateLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to load custom certificate authority: %v", e.Cause)
	}
	return fmt.Sprintf("failed to load custom certificate authority from %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying cause
func (e *CertificateLoadError) Unwrap() error {
	return e.Cause
}

// ConfigurationError reports that none of the attempted configuration keys
// yielded a certificate authority.
type ConfigurationError struct {
	Keys  []string
	Cause error
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("could not find any CA certificate in configuration (tried %s)", strings.Join(e.Keys, ", "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}
