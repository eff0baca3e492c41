// Package util provides small shared helpers that don't fit into
// domain-specific packages.
package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging sensitive data like tokens, where only a
// prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing
// slashes, so configured and presented redirect URIs compare equal when
// they differ only in a trailing slash.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
