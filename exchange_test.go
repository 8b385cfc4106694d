package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestClassifyTokenError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind TokenErrorKind
		wantText string
	}{
		{
			name: "server declared error",
			err: &oauth2.RetrieveError{
				Response:         &http.Response{StatusCode: http.StatusUnauthorized},
				ErrorCode:        "invalid_client",
				ErrorDescription: "Invalid client credentials",
			},
			wantKind: TokenErrorServerResponse,
			wantText: "invalid_client: Invalid client credentials",
		},
		{
			name: "server declared error without description",
			err: &oauth2.RetrieveError{
				Response:  &http.Response{StatusCode: http.StatusBadRequest},
				ErrorCode: "unauthorized_client",
			},
			wantKind: TokenErrorServerResponse,
			wantText: "unauthorized_client",
		},
		{
			name: "non-OAuth error body",
			err: &oauth2.RetrieveError{
				Response: &http.Response{StatusCode: http.StatusBadGateway},
				Body:     []byte("<html>bad gateway</html>"),
			},
			wantKind: TokenErrorParse,
			wantText: "unexpected response with status 502: <html>bad gateway</html>",
		},
		{
			name: "empty error body",
			err: &oauth2.RetrieveError{
				Response: &http.Response{StatusCode: http.StatusInternalServerError},
			},
			wantKind: TokenErrorParse,
			wantText: "unexpected response with status 500",
		},
		{
			name:     "transport failure",
			err:      &url.Error{Op: "Post", URL: "https://idp/token", Err: errors.New("connection refused")},
			wantKind: TokenErrorRequest,
			wantText: "connection refused",
		},
		{
			name:     "deadline",
			err:      context.DeadlineExceeded,
			wantKind: TokenErrorRequest,
			wantText: "deadline exceeded",
		},
		{
			name:     "unparsable JSON",
			err:      errors.New("oauth2: cannot parse json: unexpected end of JSON input"),
			wantKind: TokenErrorParse,
			wantText: "cannot parse json",
		},
		{
			name:     "missing access token",
			err:      errors.New("oauth2: server response missing access_token"),
			wantKind: TokenErrorParse,
			wantText: "missing access_token",
		},
		{
			name:     "body read failure",
			err:      errors.New("oauth2: cannot fetch token: unexpected EOF"),
			wantKind: TokenErrorRequest,
			wantText: "cannot fetch token",
		},
		{
			name:     "anything else",
			err:      errors.New("boom"),
			wantKind: TokenErrorOther,
			wantText: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyTokenError(tt.err)
			if got == nil {
				t.Fatal("ClassifyTokenError() = nil")
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error does not wrap the original")
			}

			text := ParseOAuthRequestError(tt.err)
			if text == "" {
				t.Fatal("ParseOAuthRequestError() returned empty string")
			}
			if !strings.Contains(text, tt.wantText) {
				t.Errorf("ParseOAuthRequestError() = %q, want it to contain %q", text, tt.wantText)
			}
		})
	}
}

func TestClassifyTokenError_Nil(t *testing.T) {
	if got := ClassifyTokenError(nil); got != nil {
		t.Errorf("ClassifyTokenError(nil) = %v", got)
	}
	if got := ParseOAuthRequestError(nil); got != "" {
		t.Errorf("ParseOAuthRequestError(nil) = %q", got)
	}
}

func TestClassifyTokenError_AlreadyClassified(t *testing.T) {
	original := &TokenRequestError{Kind: TokenErrorParse, Cause: errors.New("x")}
	wrapped := &AuthError{Kind: AuthErrorFailedToGetToken, Message: "m", Cause: original}

	if got := ClassifyTokenError(wrapped); got != original {
		t.Errorf("ClassifyTokenError() = %v, want the wrapped classification", got)
	}
}

func TestExpiresIn(t *testing.T) {
	tests := []struct {
		name  string
		extra any
		want  time.Duration
		ok    bool
	}{
		{"JSON number", map[string]any{"expires_in": float64(3600)}, time.Hour, true},
		{"form value", url.Values{"expires_in": {"60"}}, time.Minute, true},
		{"numeric string", map[string]any{"expires_in": "120"}, 2 * time.Minute, true},
		{"missing", map[string]any{}, 0, false},
		{"zero", map[string]any{"expires_in": float64(0)}, 0, false},
		{"negative", map[string]any{"expires_in": float64(-5)}, 0, false},
		{"garbage", map[string]any{"expires_in": "soon"}, 0, false},
		{"wrong type", map[string]any{"expires_in": true}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := (&oauth2.Token{AccessToken: "abc"}).WithExtra(tt.extra)
			got, ok := expiresIn(tok)
			if ok != tt.ok || got != tt.want {
				t.Errorf("expiresIn() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}

	if _, ok := expiresIn(nil); ok {
		t.Error("expiresIn(nil) reported a lifetime")
	}
}
