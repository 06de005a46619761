// Package util provides small shared helpers that don't belong to any
// domain-specific package.
package util

import "strings"

// SafeTruncate truncates a string to maxLen characters without panicking.
// Used when logging sensitive values like tokens, where only a prefix should
// ever appear in the log stream.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeBase trims trailing slashes from a base URL so endpoint paths can
// be appended without doubling separators.
func NormalizeBase(url string) string {
	return strings.TrimRight(url, "/")
}
