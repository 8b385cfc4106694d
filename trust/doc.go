// Package trust builds HTTP clients that trust exactly one certificate authority.
//
// The identity provider of the control plane usually runs behind a private CA.
// Clients created here use that CA as their only trust anchor (the system trust
// store is not consulted) and never follow redirects, since OAuth2 responses give
// 3xx statuses a meaning of their own.
//
// # Resolving the CA from settings
//
// Resolver walks an ordered list of configuration keys, each naming a PEM file.
// The first key that is set and loads successfully wins:
//
//	resolver := trust.Resolver{Settings: settings}
//	client, err := resolver.HTTPClient()
//	if err != nil {
//	    var cfgErr *trust.ConfigurationError
//	    if errors.As(err, &cfgErr) {
//	        // none of cfgErr.Keys produced a usable certificate
//	    }
//	}
//
// DefaultCandidates tries the OIDC specific key before the network wide one.
package trust
