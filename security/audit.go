// Package security provides secret handling, audit logging and client-side
// throttling for the identity provider integration.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventTokenIssued           = "token_issued"
	EventClientRegistered      = "client_registered"
	EventClientDeleted         = "client_deleted"
	EventCommonCredentialsUsed = "common_credentials_used"
	EventAuthFailure           = "auth_failure"
	EventRegistrationFailed    = "registration_failed"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// Event represents a security audit event
type Event struct {
	Type       string
	ClientID   string
	ResourceID string
	Details    map[string]any
	Timestamp  time.Time
}

// LogEvent logs a security event. Resource identifiers are hashed.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"resource_id_hash", hashForLogging(event.ResourceID),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when the identity provider issued a token to this process.
func (a *Auditor) LogTokenIssued(clientID string, expiresIn time.Duration) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		ClientID: clientID,
		Details: map[string]any{
			"expires_in": expiresIn.String(),
		},
	})
}

// LogClientRegistered logs when a new peer client was registered
func (a *Auditor) LogClientRegistered(clientID, resourceID string) {
	a.LogEvent(Event{
		Type:       EventClientRegistered,
		ClientID:   clientID,
		ResourceID: resourceID,
	})
}

// LogClientDeleted logs when a peer client was deleted at the identity provider
func (a *Auditor) LogClientDeleted(clientID string) {
	a.LogEvent(Event{
		Type:     EventClientDeleted,
		ClientID: clientID,
	})
}

// LogCommonCredentialsUsed logs when the shared peer credentials were handed out
func (a *Auditor) LogCommonCredentialsUsed(clientID, resourceID string) {
	a.LogEvent(Event{
		Type:       EventCommonCredentialsUsed,
		ClientID:   clientID,
		ResourceID: resourceID,
	})
}

// LogAuthFailure logs an authentication failure against the identity provider
func (a *Auditor) LogAuthFailure(clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventAuthFailure,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRegistrationFailed logs a peer client registration that did not complete
func (a *Auditor) LogRegistrationFailed(resourceID, reason string) {
	a.LogEvent(Event{
		Type:       EventRegistrationFailed,
		ResourceID: resourceID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
