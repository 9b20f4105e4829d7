package util

import (
	"encoding/json"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in logs and in the console panel.
const RedactedValue = "[REDACTED]"

// RedactSensitiveJSON attempts to redact sensitive fields from a JSON payload.
// If the payload is not valid JSON, it returns the original bytes.
func RedactSensitiveJSON(body []byte) []byte {
	trim := strings.TrimSpace(string(body))
	if trim == "" {
		return body
	}
	if !strings.HasPrefix(trim, "{") && !strings.HasPrefix(trim, "[") {
		return body
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	out, err := json.Marshal(redactValue(v))
	if err != nil {
		return body
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if IsSensitiveKey(k) {
				t[k] = RedactedValue
				continue
			}
			t[k] = redactValue(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactValue(t[i])
		}
		return t
	default:
		return v
	}
}

// IsSensitiveKey reports whether a JSON member, form field or query
// parameter name carries a credential. The playground shows token values on
// purpose in its result panels, but never in logs.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.Contains(k, "authorization") && !strings.Contains(k, "authorization_details") && !strings.Contains(k, "endpoint"),
		strings.Contains(k, "cookie"),
		strings.Contains(k, "secret"),
		strings.Contains(k, "password"),
		strings.Contains(k, "assertion"),
		strings.Contains(k, "verifier"),
		k == "code" || k == "device_code",
		strings.HasSuffix(k, "token") && k != "token_type" && k != "token_type_hint":
		return true
	default:
		return false
	}
}

// MaskSensitiveQuery masks credential values in a raw query string.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	changed := false
	for k := range values {
		if IsSensitiveKey(k) {
			values[k] = []string{RedactedValue}
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return values.Encode()
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
