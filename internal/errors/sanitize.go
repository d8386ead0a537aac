package errors

import (
	"regexp"
)

// Patterns that should be redacted from error messages returned to clients
var sensitivePatterns = []*regexp.Regexp{
	// File paths (Unix and Windows)
	regexp.MustCompile(`(?i)(/home/[^\s:]+|/Users/[^\s:]+|/root/[^\s:]+|/etc/[^\s:]+|/var/[^\s:]+|/tmp/[^\s:]+)`),
	regexp.MustCompile(`(?i)([A-Z]:\\[^\s:]+)`),

	// Tokens and keys in URLs or strings
	regexp.MustCompile(`(?i)(password|secret|api[_-]?key|token|bearer)[=:]["']?[^\s"'&]+`),

	// Phone numbers of emergency contacts
	regexp.MustCompile(`\+?[1-9]\d{6,14}`),
}

// SanitizeError removes sensitive information from error messages
// for display to clients. Internal logging should use the original error.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString removes sensitive information from a string
func SanitizeString(s string) string {
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}
