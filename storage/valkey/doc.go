// Package valkey provides a Valkey backed storage.ClientStore.
//
// Valkey is wire-compatible with Redis. Use this backend when several control
// plane instances register peers against the same identity provider and must
// agree on which client belongs to which resource.
//
// # Key Schema
//
// All keys use a configurable prefix (default "carl:"):
//
//	{prefix}client:{clientID}       -> JSON(Client)
//	{prefix}resource:{resourceID}   -> clientID
//
// The resource mapping is claimed with SET NX, so a second client for the
// same resource is rejected with storage.ErrResourceConflict.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{Address: "valkey:6379"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package valkey
