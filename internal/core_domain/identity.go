package core_domain

import (
	"regexp"
	"strings"
)

var (
	personalIDPattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)
	gatewayIDPattern  = regexp.MustCompile(`^\*[A-Z0-9]{7}$`)
	messageIDPattern  = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

// IsPersonalID reports whether s is a well-formed personal gateway
// identity (8 uppercase alphanumerics).
func IsPersonalID(s string) bool {
	return personalIDPattern.MatchString(s)
}

// IsGatewayID reports whether s is a well-formed gateway (service)
// identity (leading star plus 7 uppercase alphanumerics).
func IsGatewayID(s string) bool {
	return gatewayIDPattern.MatchString(s)
}

// IsIdentity reports whether s is either a personal or a gateway
// identity.
func IsIdentity(s string) bool {
	return IsPersonalID(s) || IsGatewayID(s)
}

// CanonicalMessageID lowercases a hex message id; the empty string is
// returned when the id is not 16 hex chars.
func CanonicalMessageID(s string) string {
	id := strings.ToLower(s)
	if !messageIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// CensorString masks all but the last charsLeave characters with '*'.
// Used by the debug log so identifying context stays readable without
// exposing the full value.
func CensorString(s string, charsLeave int) string {
	length := len(s) - charsLeave
	if length <= 0 {
		return s
	}
	return strings.Repeat("*", length) + s[length:]
}
