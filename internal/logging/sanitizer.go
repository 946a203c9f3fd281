package logging

import (
	"regexp"
	"strings"
)

// sensitiveFieldPatterns names the field/key substrings that mark a value as
// secret: token fingerprints, secret bundle entries, audit tokens, and the
// platform credentials that flow through the assessment/apiclient/secrets
// components.
var sensitiveFieldPatterns = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"access_key", "accesskey", "secret_key", "private_key", "credential",
	"authorization", "auth_token", "bearer", "session", "cookie",
	"ciphertext", "iv", "auth_tag", "master_key", "encryption_key",
	"d1_token", "workers_token", "account_id", "client_secret",
}

var sensitiveValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^Bearer\s+[a-zA-Z0-9\-._~+/]+=*$`),
	regexp.MustCompile(`(?i)^[0-9a-f]{32,}$`),
	regexp.MustCompile(`(?i)^[a-zA-Z0-9_\-]{32,}\.[a-zA-Z0-9_\-]{10,}\.[a-zA-Z0-9_\-]{10,}$`), // jwt-shaped
}

const redacted = "***REDACTED***"

// IsSensitiveField reports whether a field name looks like it carries a
// secret: the lowercased name contains one of sensitiveFieldPatterns.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range sensitiveFieldPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// SanitizeValue redacts a value if it looks like a secret by shape, even
// when its field name didn't flag it.
func SanitizeValue(value string) string {
	for _, pattern := range sensitiveValuePatterns {
		if pattern.MatchString(value) {
			return redacted
		}
	}
	return value
}

// SanitizeMap returns a copy of m with every sensitive key's value replaced
// and every remaining string value pattern-checked. Used before any map is
// written to an audit record or report artifact.
func SanitizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if IsSensitiveField(k) {
			out[k] = redacted
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = SanitizeValue(val)
		case map[string]interface{}:
			out[k] = SanitizeMap(val)
		case map[string]string:
			nested := make(map[string]interface{}, len(val))
			for nk, nv := range val {
				nested[nk] = nv
			}
			out[k] = SanitizeMap(nested)
		default:
			out[k] = v
		}
	}
	return out
}

// SanitizeStringMap is the map[string]string convenience variant used for
// secret bundles and token metadata.
func SanitizeStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if IsSensitiveField(k) {
			out[k] = redacted
			continue
		}
		out[k] = SanitizeValue(v)
	}
	return out
}
