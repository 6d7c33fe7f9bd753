package pii

import (
	"fmt"
	"regexp"
	"sort"
)

// maxCustomPatternChars bounds custom PII pattern compilation cost,
// mirroring the 500-char budget used for rule regexes (see
// internal/domain/rule for the sibling implementation — duplicated rather
// than imported to keep pii dependency-free of the rule package).
const maxCustomPatternChars = 500

// customPattern is an operator-supplied PII kind compiled with the same
// budget as built-ins.
type customPattern struct {
	kind Kind
	re   *regexp.Regexp
}

// Detector classifies substrings into named PII kinds and redacts them.
// Safe for concurrent use once constructed; it holds no mutable state.
type Detector struct {
	custom []customPattern
}

// NewDetector builds a Detector from the fixed built-in kinds plus any
// operator-supplied custom kind/pattern pairs.
func NewDetector(customKinds map[Kind]string) (*Detector, error) {
	d := &Detector{}
	// sort for deterministic compile order (and deterministic detect order)
	kinds := make([]Kind, 0, len(customKinds))
	for k := range customKinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, k := range kinds {
		pattern := customKinds[k]
		if len(pattern) > maxCustomPatternChars {
			return nil, fmt.Errorf("pii: custom pattern %q exceeds %d char budget", k, maxCustomPatternChars)
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("pii: custom pattern %q: %w", k, err)
		}
		d.custom = append(d.custom, customPattern{kind: k, re: re})
	}
	return d, nil
}

// Detect returns the set of PII kinds found in text, first-match-wins per
// kind (a kind is reported once it has one validated match).
func (d *Detector) Detect(text string) map[Kind]bool {
	found := make(map[Kind]bool)
	for _, p := range builtinPatterns {
		if firstValidMatch(p, text) != "" {
			found[p.kind] = true
		}
	}
	for _, p := range d.custom {
		if p.re.MatchString(text) {
			found[p.kind] = true
		}
	}
	return found
}

// Redact replaces every validated match with a deterministic `[KIND]`
// token and returns the redacted text plus the set of kinds found.
// Redaction is idempotent: redacting already-redacted text is a no-op
// because `[KIND]` tokens don't match any PII pattern.
func (d *Detector) Redact(text string) (string, map[Kind]bool) {
	found := make(map[Kind]bool)
	out := text
	for _, p := range builtinPatterns {
		out, found = replaceValidated(out, p, found)
	}
	for _, p := range d.custom {
		if p.re.MatchString(out) {
			found[p.kind] = true
			out = p.re.ReplaceAllString(out, "["+string(p.kind)+"]")
		}
	}
	return out, found
}

// DetectValue recursively scans every string leaf within a nested
// map/slice/scalar structure (args or a tool result) for PII, returning
// the union of kinds found.
func (d *Detector) DetectValue(v any) map[Kind]bool {
	found := make(map[Kind]bool)
	d.detectValue(v, found)
	return found
}

func (d *Detector) detectValue(v any, found map[Kind]bool) {
	switch t := v.(type) {
	case string:
		for k := range d.Detect(t) {
			found[k] = true
		}
	case map[string]any:
		for _, val := range t {
			d.detectValue(val, found)
		}
	case []any:
		for _, val := range t {
			d.detectValue(val, found)
		}
	}
}

// RedactValue recursively redacts string values found anywhere within a
// nested map/slice/scalar structure (args or a tool result), returning the
// redacted structure and the union of kinds found across all strings.
func (d *Detector) RedactValue(v any) (any, map[Kind]bool) {
	found := make(map[Kind]bool)
	return d.redactValue(v, found), found
}

func (d *Detector) redactValue(v any, found map[Kind]bool) any {
	switch t := v.(type) {
	case string:
		redacted, kinds := d.Redact(t)
		for k := range kinds {
			found[k] = true
		}
		return redacted
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = d.redactValue(val, found)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = d.redactValue(val, found)
		}
		return out
	default:
		return v
	}
}

func firstValidMatch(p builtinPattern, text string) string {
	matches := p.re.FindAllString(text, -1)
	for _, m := range matches {
		if p.validator == nil || p.validator(m) {
			return m
		}
	}
	return ""
}

func replaceValidated(text string, p builtinPattern, found map[Kind]bool) (string, map[Kind]bool) {
	if p.validator == nil {
		if p.re.MatchString(text) {
			found[p.kind] = true
			text = p.re.ReplaceAllString(text, "["+string(p.kind)+"]")
		}
		return text, found
	}
	// Validator present: only replace matches that pass it.
	result := p.re.ReplaceAllStringFunc(text, func(m string) string {
		if p.validator(m) {
			found[p.kind] = true
			return "[" + string(p.kind) + "]"
		}
		return m
	})
	return result, found
}
