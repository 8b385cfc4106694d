package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/opendut/carl-auth/internal/util"
)

// maxErrorBodyLength bounds identity provider response bodies quoted in errors
const maxErrorBodyLength = 256

// TokenErrorKind is the shape of a failed token request
type TokenErrorKind int

const (
	// TokenErrorServerResponse means the identity provider answered with an OAuth error code
	TokenErrorServerResponse TokenErrorKind = iota + 1
	// TokenErrorRequest means the HTTP exchange itself failed
	TokenErrorRequest
	// TokenErrorParse means the response could not be interpreted
	TokenErrorParse
	// TokenErrorOther covers everything else
	TokenErrorOther
)

func (k TokenErrorKind) String() string {
	switch k {
	case TokenErrorServerResponse:
		return "ServerResponse"
	case TokenErrorRequest:
		return "Request"
	case TokenErrorParse:
		return "Parse"
	case TokenErrorOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// TokenRequestError is a classified failure of a client-credentials exchange.
type TokenRequestError struct {
	Kind        TokenErrorKind
	Code        string // OAuth error code, ServerResponse only
	Description string // OAuth error_description, ServerResponse only
	StatusCode  int    // 0 when no response was received
	Cause       error
}

// Error implements the error interface
func (e *TokenRequestError) Error() string {
	return ParseOAuthRequestError(e)
}

func (e *TokenRequestError) Unwrap() error { return e.Cause }

// ClassifyTokenError maps an error returned by golang.org/x/oauth2 onto one
// of the four TokenErrorKind shapes. It returns nil for nil.
func ClassifyTokenError(err error) *TokenRequestError {
	if err == nil {
		return nil
	}

	var classified *TokenRequestError
	if errors.As(err, &classified) {
		return classified
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode != "" {
			return &TokenRequestError{
				Kind:        TokenErrorServerResponse,
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
				StatusCode:  status,
				Cause:       err,
			}
		}
		// non-2xx without an OAuth error body
		return &TokenRequestError{Kind: TokenErrorParse, StatusCode: status, Cause: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &TokenRequestError{Kind: TokenErrorRequest, Cause: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &TokenRequestError{Kind: TokenErrorRequest, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TokenRequestError{Kind: TokenErrorRequest, Cause: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "oauth2: cannot parse"),
		strings.Contains(msg, "server response missing access_token"):
		return &TokenRequestError{Kind: TokenErrorParse, Cause: err}
	case strings.Contains(msg, "oauth2: cannot fetch token"):
		return &TokenRequestError{Kind: TokenErrorRequest, Cause: err}
	}

	return &TokenRequestError{Kind: TokenErrorOther, Cause: err}
}

// ParseOAuthRequestError renders any token request failure as one line.
// It never returns an empty string for a non-nil error and never includes
// credentials.
func ParseOAuthRequestError(err error) string {
	if err == nil {
		return ""
	}
	e := ClassifyTokenError(err)

	switch e.Kind {
	case TokenErrorServerResponse:
		if e.Description != "" {
			return fmt.Sprintf("%s: %s", e.Code, e.Description)
		}
		return e.Code
	case TokenErrorParse:
		var retrieveErr *oauth2.RetrieveError
		if errors.As(e.Cause, &retrieveErr) {
			body := util.SafeTruncate(strings.TrimSpace(string(retrieveErr.Body)), maxErrorBodyLength)
			if body == "" {
				return fmt.Sprintf("unexpected response with status %d", e.StatusCode)
			}
			return fmt.Sprintf("unexpected response with status %d: %s", e.StatusCode, body)
		}
		return describeCause(e)
	default:
		return describeCause(e)
	}
}

func describeCause(e *TokenRequestError) string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Cause.Error()
}

// newClientCredentialsConfig builds the exchange configuration. Credentials are
// sent with HTTP Basic authentication so that exactly one request is made per
// exchange.
func newClientCredentialsConfig(clientID, clientSecret string, tokenURL *url.URL, scopes []string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL.String(),
		Scopes:       append([]string(nil), scopes...),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
}

// exchangeClientCredentials performs one client-credentials grant through httpClient.
// Failures are returned as *TokenRequestError.
func exchangeClientCredentials(ctx context.Context, cfg *clientcredentials.Config, httpClient *http.Client) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, ClassifyTokenError(err)
	}
	return tok, nil
}

// expiresIn reads the lifetime the identity provider declared in the token
// response. Zero or negative lifetimes count as missing.
func expiresIn(tok *oauth2.Token) (time.Duration, bool) {
	if tok == nil {
		return 0, false
	}

	var seconds int64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		seconds = int64(v)
	case int64:
		seconds = v
	case int:
		seconds = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		seconds = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		seconds = n
	default:
		return 0, false
	}

	if seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
