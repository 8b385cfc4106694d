package util

import (
	"strings"
	"unicode"
)

// SafeTruncate safely truncates a string to maxLen bytes without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen bytes. Used to bound identity provider response bodies
// before they end up in error messages.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-error-body", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)               // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// SplitList splits a comma and/or whitespace separated list, trimming entries
// and dropping empty ones. Order is preserved.
//
// Example:
//
//	SplitList("openid, profile  email") // Returns: ["openid", "profile", "email"]
func SplitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
