// Package masking redacts contact details and secrets before they are
// written to the audit trail or the logs.
package masking

import "strings"

const maskToken = "****"

// sensitiveKeys are metadata keys whose values are always redacted.
var sensitiveKeys = map[string]func(string) string{
	"email":           MaskEmail,
	"phone":           MaskSecret,
	"emergency_phone": MaskSecret,
	"address":         func(string) string { return maskToken },
	"token":           MaskSecret,
	"nonce":           MaskSecret,
	"client_secret":   MaskSecret,
}

// Field masks value when key names a sensitive field and reports whether
// it did.
func Field(key, value string) (string, bool) {
	mask, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return value, false
	}
	return mask(value), true
}

// MaskSecret redacts a value while keeping its last four characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskEmail keeps the first letter of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	local, domain, ok := strings.Cut(trimmed, "@")
	if !ok || local == "" {
		return MaskSecret(trimmed)
	}
	return local[:1] + maskToken + "@" + domain
}

// MaskJSON returns a copy of input with sensitive keys redacted, recursing
// into nested objects and lists.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(strings.ToLower(trimmedKey), value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if mask, ok := sensitiveKeys[key]; ok {
			return mask(cast)
		}
		return cast
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
