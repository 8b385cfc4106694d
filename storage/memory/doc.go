// Package memory provides an in-memory implementation of storage.ClientStore.
//
// It keeps client records in maps guarded by a sync.RWMutex and is suitable
// for tests and single-instance deployments. Records are lost on restart; use
// storage/valkey when several control plane instances share one registry.
//
// Example usage:
//
//	store := memory.New()
//	manager, err := auth.NewClientManager(cfg, auth.WithClientStore(store))
package memory
