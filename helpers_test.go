package auth

import (
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/opendut/carl-auth/instrumentation"
	"github.com/opendut/carl-auth/internal/testutil"
	"github.com/opendut/carl-auth/security"
)

const testControlPlane = "https://carl.opendut.local"

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", raw, err)
	}
	return u
}

// testConfig returns a configuration for client "c" with secret "s" pointing at idp.
func testConfig(t *testing.T, idp *testutil.IdentityProvider) IdentityProviderConfig {
	t.Helper()
	controlPlane, err := NewControlPlaneURL(testControlPlane)
	if err != nil {
		t.Fatalf("NewControlPlaneURL() error = %v", err)
	}
	issuer := mustParseURL(t, idp.IssuerURL())
	return IdentityProviderConfig{
		ClientID:        "c",
		ClientSecret:    security.NewSecret("s"),
		IssuerURL:       issuer,
		IssuerRemoteURL: issuer,
		IssuerCA:        idp.CAPEM(),
		ControlPlaneURL: controlPlane,
	}
}

func testInstrumentation(t *testing.T) (*instrumentation.Instrumentation, *sdkmetric.ManualReader) {
	t.Helper()
	reader, provider := testutil.NewMetricReader()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MeterProvider: provider})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	return inst, reader
}

func newBufferLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
