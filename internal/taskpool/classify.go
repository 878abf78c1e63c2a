package taskpool

import "strings"

// RetriablePatterns centralizes the fixed, case-insensitive transient-error
// pattern set: matching by message string is the only classification
// channel available from a generic injected operation, so the pattern list
// is centralized here and exported for callers that want to extend it.
var RetriablePatterns = []string{
	"ETIMEDOUT",
	"ECONNRESET",
	"ENOTFOUND",
	"rate limit",
	"temporary failure",
	"try again",
	"gateway timeout",
	"service unavailable",
}

// IsRetriable reports whether err's message matches a known transient
// failure pattern, matched case-insensitively.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range RetriablePatterns {
		if strings.Contains(msg, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
