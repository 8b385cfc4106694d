// Package testutil provides testing utilities for the carl-auth module: a
// controllable clock, throwaway certificate authorities and a mock identity
// provider serving the token, registration and discovery endpoints.
package testutil
