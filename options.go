package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/opendut/carl-auth/instrumentation"
	"github.com/opendut/carl-auth/security"
	"github.com/opendut/carl-auth/storage"
)

// DefaultHTTPTimeout is the request timeout of clients built by the
// FromSettings constructors.
const DefaultHTTPTimeout = 30 * time.Second

// Option configures AuthenticationManager and ClientManager. Options that do
// not apply to a manager are ignored by it.
type Option func(*options)

type options struct {
	clock           func() time.Time
	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
	auditor         *security.Auditor
	httpClient      *http.Client
	projectRoot     string
	store           storage.ClientStore
	limiter         *security.RegistrationLimiter
	discoveryTTL    time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.instrumentation == nil {
		o.instrumentation = instrumentation.NewNoop()
	}
	return o
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithLogger sets the logger (default slog.Default())
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithInstrumentation enables metrics and traces
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(o *options) {
		o.instrumentation = inst
	}
}

// WithAuditor enables security audit logging
func WithAuditor(auditor *security.Auditor) Option {
	return func(o *options) {
		o.auditor = auditor
	}
}

// WithHTTPClient overrides the client built from the configured CA.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithProjectRoot sets the base for relative CA paths in FromSettings constructors
func WithProjectRoot(root string) Option {
	return func(o *options) {
		o.projectRoot = root
	}
}

// WithClientStore records registered clients (ClientManager only)
func WithClientStore(store storage.ClientStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRegistrationLimiter throttles registrations (ClientManager only)
func WithRegistrationLimiter(limiter *security.RegistrationLimiter) Option {
	return func(o *options) {
		o.limiter = limiter
	}
}

// WithDiscoveryCacheTTL sets how long HealthCheck caches the discovery
// document (ClientManager only). Negative disables caching.
func WithDiscoveryCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.discoveryTTL = ttl
	}
}
