// Package storage defines the registry of peer clients provisioned at the identity provider.
//
// The registry is optional for the registration manager. When configured,
// every successful dynamic registration is recorded with a bcrypt hash of the
// issued secret, so that credentials presented later by a peer can be verified
// and clients can be looked up by resource.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory registry for tests and single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible registry shared between control plane instances
package storage
