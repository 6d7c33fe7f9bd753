package sanitizer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/policyshield/policyshield/internal/domain/detectors"
	"github.com/policyshield/policyshield/internal/domain/rule"
)

// Sanitizer runs the four-stage pre-rule input check over tool-call
// arguments: security detector packs, operator blocked_patterns, Unicode
// normalization/stripping, then structural limits. The first stage to
// reject wins; later stages never run once a rejection has occurred.
type Sanitizer struct {
	registry *detectors.Registry
	cfg      Config
}

// New builds a Sanitizer from a detector registry and the sanitizer
// config carried on the active rule set.
func New(registry *detectors.Registry, cfg Config) *Sanitizer {
	return &Sanitizer{registry: registry, cfg: cfg}
}

// Run sanitizes args against the given compiled rule set's
// blocked_patterns, returning either the normalized args or a rejection.
// A nil Rejection means the call passed all four stages.
func (s *Sanitizer) Run(args map[string]any, rs *rule.CompiledRuleSet) (map[string]any, *Rejection) {
	if rej := s.scanDetectors(args); rej != nil {
		return nil, rej
	}
	if rej := s.scanBlockedPatterns(args, rs); rej != nil {
		return nil, rej
	}

	normalized, _ := normalizeValue(args, s.cfg).(map[string]any)

	if rej := s.checkLimits(normalized); rej != nil {
		return nil, rej
	}
	return normalized, nil
}

func (s *Sanitizer) scanDetectors(v any) *Rejection {
	var rej *Rejection
	walkStrings(v, func(str string) bool {
		for _, pack := range s.registry.Packs() {
			if match, name, ok := pack.Scan(str); ok {
				rej = &Rejection{
					Stage: "detector",
					Name:  fmt.Sprintf("%s/%s", pack.Name, name),
					Reason: fmt.Sprintf("matched %s pattern %q on %q", pack.Name, name,
						truncate(match)),
				}
				return false
			}
		}
		return true
	})
	return rej
}

func (s *Sanitizer) scanBlockedPatterns(v any, rs *rule.CompiledRuleSet) *Rejection {
	if rs == nil {
		return nil
	}
	var rej *Rejection
	walkStrings(v, func(str string) bool {
		if name := rs.BlockedPatternMatch(str); name != "" {
			rej = &Rejection{
				Stage:  "blocked_pattern",
				Name:   name,
				Reason: fmt.Sprintf("matched blocked_pattern %q on %q", name, truncate(str)),
			}
			return false
		}
		return true
	})
	return rej
}

// walkStrings visits every string leaf in a nested map/slice structure,
// stopping early if visit returns false.
func walkStrings(v any, visit func(string) bool) bool {
	switch t := v.(type) {
	case string:
		return visit(t)
	case map[string]any:
		for _, val := range t {
			if !walkStrings(val, visit) {
				return false
			}
		}
	case []any:
		for _, val := range t {
			if !walkStrings(val, visit) {
				return false
			}
		}
	}
	return true
}

// normalizeValue applies NFKC Unicode normalization and control-byte
// stripping to every string leaf, optionally trimming whitespace.
func normalizeValue(v any, cfg Config) any {
	switch t := v.(type) {
	case string:
		return normalizeString(t, cfg)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val, cfg)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val, cfg)
		}
		return out
	default:
		return v
	}
}

func normalizeString(s string, cfg Config) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, s)
	if cfg.TrimWhitespace {
		s = strings.TrimSpace(s)
	}
	return s
}

// checkLimits enforces max_string_length, max_args_depth, and
// max_total_keys over the normalized structure.
func (s *Sanitizer) checkLimits(v any) *Rejection {
	totalKeys := 0
	var walk func(val any, depth int) *Rejection
	walk = func(val any, depth int) *Rejection {
		if s.cfg.MaxArgsDepth > 0 && depth > s.cfg.MaxArgsDepth {
			return &Rejection{
				Stage:  "structural_limit",
				Name:   "max_args_depth",
				Reason: fmt.Sprintf("nesting depth exceeds %d", s.cfg.MaxArgsDepth),
			}
		}
		switch t := val.(type) {
		case string:
			if s.cfg.MaxStringLength > 0 && len(t) > s.cfg.MaxStringLength {
				return &Rejection{
					Stage:  "structural_limit",
					Name:   "max_string_length",
					Reason: fmt.Sprintf("string length %d exceeds %d", len(t), s.cfg.MaxStringLength),
				}
			}
		case map[string]any:
			for _, val := range t {
				totalKeys++
				if s.cfg.MaxTotalKeys > 0 && totalKeys > s.cfg.MaxTotalKeys {
					return &Rejection{
						Stage:  "structural_limit",
						Name:   "max_total_keys",
						Reason: fmt.Sprintf("total key count exceeds %d", s.cfg.MaxTotalKeys),
					}
				}
				if rej := walk(val, depth+1); rej != nil {
					return rej
				}
			}
		case []any:
			for _, item := range t {
				if rej := walk(item, depth+1); rej != nil {
					return rej
				}
			}
		}
		return nil
	}
	return walk(v, 0)
}
