// Package oidc provides the OpenID Connect utilities shared by the token
// manager and the client registration manager.
//
// It derives the Keycloak realm endpoints from an issuer URL, validates
// issuers and scopes, and fetches (and caches) discovery documents, which the
// registration manager uses as its health check.
//
// # Example Usage
//
//	endpoints, err := oidc.DeriveEndpoints(issuer) // issuer must end with "/"
//	if err != nil {
//	    return err
//	}
//
//	client := oidc.NewDiscoveryClient(httpClient, time.Hour, logger)
//	doc, err := client.Discover(ctx, issuer.String())
//	if err != nil {
//	    return err
//	}
//	if !doc.SupportsGrantType("client_credentials") {
//	    return errors.New("identity provider does not allow client credentials")
//	}
package oidc
