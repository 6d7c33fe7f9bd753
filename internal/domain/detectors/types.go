// Package detectors provides named, severity-tagged security pattern packs
// (path traversal, injection, SSRF, secrets) applied by the sanitizer.
package detectors

import "regexp"

// Severity labels the risk level of a detector pack.
type Severity string

const (
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// CompiledPattern is one named pattern within a pack.
type CompiledPattern struct {
	Name string
	Re   *regexp.Regexp
}

// Pack is a named, severity-tagged list of compiled patterns. Scan returns
// the first match, truncated by the caller to 100 chars per spec §4.4.
type Pack struct {
	Name     string
	Severity Severity
	Patterns []CompiledPattern
}

// Scan returns the matched substring and pattern name of the first pattern
// in the pack that matches text, or ("", "", false) if none match.
func (p Pack) Scan(text string) (match string, patternName string, ok bool) {
	for _, cp := range p.Patterns {
		if loc := cp.Re.FindString(text); loc != "" {
			return loc, cp.Name, true
		}
	}
	return "", "", false
}

// Registry is the named collection of detector packs consulted by the
// sanitizer, in a fixed evaluation order.
type Registry struct {
	packs []Pack
}

// Packs returns the registered packs in evaluation order.
func (r *Registry) Packs() []Pack { return r.packs }

// Pack returns the named pack and whether it is registered.
func (r *Registry) Pack(name string) (Pack, bool) {
	for _, p := range r.packs {
		if p.Name == name {
			return p, true
		}
	}
	return Pack{}, false
}
