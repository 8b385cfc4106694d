package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Result attribute values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Registration modes
const (
	RegistrationModeDynamic = "dynamic"
	RegistrationModeCommon  = "common"
)

// Metrics holds all metric instruments
type Metrics struct {
	// Token cache
	TokenCacheHits   metric.Int64Counter
	TokenCacheMisses metric.Int64Counter

	// Client-credentials exchanges against the token endpoint
	TokenExchanges        metric.Int64Counter
	TokenExchangeDuration metric.Float64Histogram

	// Client registration
	ClientRegistrations  metric.Int64Counter
	RegistrationDuration metric.Float64Histogram
	ClientDeletions      metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	tokenMeter := inst.Meter("token")
	registrationMeter := inst.Meter("registration")

	var err error
	m.TokenCacheHits, err = tokenMeter.Int64Counter(
		"carl.auth.token.cache.hits",
		metric.WithDescription("Number of token requests served from the cache"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.cache.hits counter: %w", err)
	}

	m.TokenCacheMisses, err = tokenMeter.Int64Counter(
		"carl.auth.token.cache.misses",
		metric.WithDescription("Number of token requests that required a refresh"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.cache.misses counter: %w", err)
	}

	m.TokenExchanges, err = tokenMeter.Int64Counter(
		"carl.auth.token.exchanges",
		metric.WithDescription("Number of client-credentials exchanges with the identity provider"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.exchanges counter: %w", err)
	}

	m.TokenExchangeDuration, err = tokenMeter.Float64Histogram(
		"carl.auth.token.exchange.duration",
		metric.WithDescription("Client-credentials exchange duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.exchange.duration histogram: %w", err)
	}

	m.ClientRegistrations, err = registrationMeter.Int64Counter(
		"carl.auth.client.registrations",
		metric.WithDescription("Number of peer client registrations"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registrations counter: %w", err)
	}

	m.RegistrationDuration, err = registrationMeter.Float64Histogram(
		"carl.auth.client.registration.duration",
		metric.WithDescription("Dynamic client registration duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registration.duration histogram: %w", err)
	}

	m.ClientDeletions, err = registrationMeter.Int64Counter(
		"carl.auth.client.deletions",
		metric.WithDescription("Number of peer client deletions"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.deletions counter: %w", err)
	}

	return m, nil
}

// RecordCacheHit records a token served from the cache
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	m.TokenCacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a token request that found no valid cache entry
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	m.TokenCacheMisses.Add(ctx, 1)
}

// RecordTokenExchange records a client-credentials exchange
func (m *Metrics) RecordTokenExchange(ctx context.Context, purpose string, durationMs float64, err error) {
	attrs := metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.String("result", resultOf(err)),
	)
	m.TokenExchanges.Add(ctx, 1, attrs)
	m.TokenExchangeDuration.Record(ctx, durationMs, attrs)
}

// RecordClientRegistration records a peer registration. durationMs is only
// recorded for dynamic registrations.
func (m *Metrics) RecordClientRegistration(ctx context.Context, mode string, durationMs float64, err error) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("result", resultOf(err)),
	)
	m.ClientRegistrations.Add(ctx, 1, attrs)
	if mode == RegistrationModeDynamic {
		m.RegistrationDuration.Record(ctx, durationMs, attrs)
	}
}

// RecordClientDeletion records a peer client deletion
func (m *Metrics) RecordClientDeletion(ctx context.Context, err error) {
	m.ClientDeletions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", resultOf(err)),
	))
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
