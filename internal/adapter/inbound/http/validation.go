package http

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// toolNamePattern matches the spec-mandated tool_name shape: word
// characters plus dot, dash, and colon (for namespaced tool names like
// "fs:read_file").
var toolNamePattern = regexp.MustCompile(`^[\w.\-:]+$`)

const (
	maxToolNameLength = 256
	maxArgsNestDepth  = 10
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validateToolName enforces the exact regex/length rule the spec names,
// which a generic struct tag can't express as precisely.
func validateToolName(name string) error {
	if name == "" {
		return errors.New("tool_name is required")
	}
	if len(name) > maxToolNameLength {
		return fmt.Errorf("tool_name exceeds %d characters", maxToolNameLength)
	}
	if !toolNamePattern.MatchString(name) {
		return errors.New("tool_name must match ^[\\w.\\-:]+$")
	}
	return nil
}

// validateArgsDepth walks args and rejects nesting beyond maxArgsNestDepth,
// independent of any rule-configured sanitizer depth limit: this is a
// boundary-level DoS guard, not a policy decision.
func validateArgsDepth(args map[string]any) error {
	if depthOf(args, 0) > maxArgsNestDepth {
		return fmt.Errorf("args nesting exceeds %d levels", maxArgsNestDepth)
	}
	return nil
}

func depthOf(v any, current int) int {
	if current > maxArgsNestDepth {
		return current
	}
	switch t := v.(type) {
	case map[string]any:
		max := current
		for _, child := range t {
			if d := depthOf(child, current+1); d > max {
				max = d
			}
		}
		return max
	case []any:
		max := current
		for _, child := range t {
			if d := depthOf(child, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}

// validateStruct runs go-playground/validator's tag-based checks
// (session_id/sender/request_id length caps) and reformats the first
// failure into a short, debug-gated-safe message.
func validateStruct(v any) error {
	if err := structValidator.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%s failed validation: %s", strings.ToLower(e.Field()), e.Tag())
		}
		return err
	}
	return nil
}

// requireJSONContentType enforces spec.md §4.10 point 1: mutating
// endpoints reject anything but application/json with 415.
func requireJSONContentType(contentType string) error {
	ct := strings.TrimSpace(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if !strings.EqualFold(ct, "application/json") {
		return errUnsupportedMediaType
	}
	return nil
}

var errUnsupportedMediaType = errors.New("Content-Type must be application/json")
