package approval

import (
	"fmt"
	"strings"

	"github.com/policyshield/policyshield/internal/domain/detectors"
	"github.com/policyshield/policyshield/internal/domain/pii"
)

// externalStringCap is the truncation length applied to every string
// value before an approval request is exposed to an external channel
// (chat message, REST listing) — spec §4.6.
const externalStringCap = 200

// SanitizeForExternal truncates string values to externalStringCap and
// redacts PII and secret-pattern matches, returning a copy safe to hand
// to an external channel. It is shared by every Backend's listing path
// so the same redaction rule applies regardless of storage.
func SanitizeForExternal(args map[string]any, detector *pii.Detector, secrets detectors.Pack) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = sanitizeValue(v, detector, secrets)
	}
	return out
}

func sanitizeValue(v any, detector *pii.Detector, secrets detectors.Pack) any {
	switch t := v.(type) {
	case string:
		return sanitizeString(t, detector, secrets)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sanitizeValue(val, detector, secrets)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val, detector, secrets)
		}
		return out
	default:
		return v
	}
}

func sanitizeString(s string, detector *pii.Detector, secrets detectors.Pack) string {
	if len(s) > externalStringCap {
		s = s[:externalStringCap]
	}
	redacted, _ := detector.Redact(s)
	// Secrets may still overlap each other; scan-and-replace until clean.
	for {
		match, name, ok := secrets.Scan(redacted)
		if !ok {
			break
		}
		redacted = strings.Replace(redacted, match, fmt.Sprintf("[REDACTED_%s]", name), 1)
	}
	return redacted
}
