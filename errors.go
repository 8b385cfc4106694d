package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	// ErrFailedToGetToken matches *AuthError of kind AuthErrorFailedToGetToken
	ErrFailedToGetToken = errors.New("failed to get token")

	// ErrExpirationFieldMissing matches *AuthError of kind AuthErrorExpirationFieldMissing
	ErrExpirationFieldMissing = errors.New("token response has no expires_in")

	// ErrConfidentialClientRequired is the cause of a registration whose response
	// carries no client secret
	ErrConfidentialClientRequired = errors.New("identity provider did not return a client secret, confidential client required")

	// ErrInvalidConfiguration matches *ClientManagerError of kind ClientManagerInvalidConfiguration
	ErrInvalidConfiguration = errors.New("invalid client manager configuration")

	// ErrRequest matches *ClientManagerError of kind ClientManagerRequestError
	ErrRequest = errors.New("identity provider request failed")

	// ErrRegistration matches *ClientManagerError of kind ClientManagerRegistration
	ErrRegistration = errors.New("client registration failed")

	// ErrCommonCredentials is returned when deleting the shared peer client
	ErrCommonCredentials = errors.New("common peer credentials are not managed per resource")
)

// AuthErrorKind distinguishes token acquisition failures
type AuthErrorKind int

const (
	AuthErrorFailedToGetToken AuthErrorKind = iota + 1
	AuthErrorExpirationFieldMissing
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthErrorFailedToGetToken:
		return "FailedToGetToken"
	case AuthErrorExpirationFieldMissing:
		return "ExpirationFieldMissing"
	default:
		return "Unknown"
	}
}

// AuthError is returned by AuthenticationManager when no token could be produced.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s cause: %s.", e.Kind, e.Message, ParseOAuthRequestError(e.Cause))
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Is matches the kind sentinels
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrFailedToGetToken:
		return e.Kind == AuthErrorFailedToGetToken
	case ErrExpirationFieldMissing:
		return e.Kind == AuthErrorExpirationFieldMissing
	}
	return false
}

// ManagerError is returned when an AuthenticationManager cannot be built from configuration.
type ManagerError struct {
	Message string
	Cause   error
}

// Error implements the error interface
func (e *ManagerError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("failed to load OIDC configuration: %s", e.Message)
	}
	return fmt.Sprintf("failed to load OIDC configuration: %s cause: %v", e.Message, e.Cause)
}

func (e *ManagerError) Unwrap() error { return e.Cause }

// ClientManagerErrorKind distinguishes ClientManager failures
type ClientManagerErrorKind int

const (
	ClientManagerInvalidConfiguration ClientManagerErrorKind = iota + 1
	ClientManagerRequestError
	ClientManagerRegistration
)

func (k ClientManagerErrorKind) String() string {
	switch k {
	case ClientManagerInvalidConfiguration:
		return "InvalidConfiguration"
	case ClientManagerRequestError:
		return "RequestError"
	case ClientManagerRegistration:
		return "Registration"
	default:
		return "Unknown"
	}
}

// ClientManagerError is returned by ClientManager.
type ClientManagerError struct {
	Kind    ClientManagerErrorKind
	Message string
	Cause   error
}

// Error implements the error interface
func (e *ClientManagerError) Error() string {
	var prefix string
	switch e.Kind {
	case ClientManagerInvalidConfiguration:
		prefix = "invalid configuration"
	case ClientManagerRequestError:
		prefix = "failed request"
	case ClientManagerRegistration:
		prefix = "failed to register new client"
	default:
		prefix = "client manager error"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
}

func (e *ClientManagerError) Unwrap() error { return e.Cause }

// Is matches the kind sentinels
func (e *ClientManagerError) Is(target error) bool {
	switch target {
	case ErrInvalidConfiguration:
		return e.Kind == ClientManagerInvalidConfiguration
	case ErrRequest:
		return e.Kind == ClientManagerRequestError
	case ErrRegistration:
		return e.Kind == ClientManagerRegistration
	}
	return false
}

// RegistrationError is a non-success response of the registration or client
// configuration endpoint. Code and Description follow RFC 7591 section 3.2.2
// when the body could be parsed; otherwise Description holds the truncated body.
type RegistrationError struct {
	StatusCode  int
	Code        string
	Description string
}

// Error implements the error interface
func (e *RegistrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "identity provider responded with status %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}
	return b.String()
}
