// Package auth connects the control plane to its OIDC identity provider.
//
// AuthenticationManager obtains access tokens for the control plane's own
// client with the client credentials grant and caches them until they
// expire. Concurrent callers that find the cache empty share one exchange.
//
//	manager, err := auth.FromSettings(v)
//	if err != nil {
//	    return err
//	}
//	token, err := manager.GetToken(ctx)
//
// ClientManager provisions clients for peers. Each peer resource gets its own
// confidential client through OIDC dynamic client registration, unless common
// peer credentials are configured, in which case every peer receives those.
//
//	clients, err := auth.NewClientManager(cfg, auth.WithClientStore(store))
//	creds, err := clients.RegisterNewClient(ctx, auth.ResourceIDFromUUID(peerID))
//
// Both managers talk to the identity provider through an HTTP client that
// trusts only the configured CA (see the trust package) and never follows
// redirects. Failed token requests are classified by ClassifyTokenError and
// rendered by ParseOAuthRequestError.
package auth
