package util

import "strings"

// NormalizeAddr returns the canonical (upper case, trimmed) form of a radio address
func NormalizeAddr(a string) string {
	return strings.ToUpper(strings.TrimSpace(a))
}

// ValidAddr reports whether an address can be carried in a scan token
func ValidAddr(a string) bool {
	return a != "" && !strings.Contains(a, TokenDelimiter)
}
