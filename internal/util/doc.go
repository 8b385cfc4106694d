// Package util provides small string helpers shared across the module.
//
// Key utilities:
//   - SafeTruncate: truncates identity provider responses before they are logged or wrapped
//   - SplitList: splits comma or whitespace separated configuration lists
package util
