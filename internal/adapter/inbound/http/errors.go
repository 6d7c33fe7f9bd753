package http

import (
	"encoding/json"
	"net/http"

	"github.com/policyshield/policyshield/internal/domain/rule"
	"github.com/policyshield/policyshield/internal/engine"
)

// errorEnvelope is the JSON shape every non-2xx response carries
// (spec.md §7): kind identifies the failure class, message is a generic
// operator-facing string, and verdict is present only on 5xx responses,
// derived from the engine's configured fail mode.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Verdict string `json:"verdict,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string, failMode *engine.FailMode) {
	env := errorEnvelope{Error: kind, Message: message}
	if status >= 500 && failMode != nil {
		if *failMode == engine.FailOpen {
			env.Verdict = string(rule.Allow)
		} else {
			env.Verdict = string(rule.Block)
		}
	}
	writeJSON(w, status, env)
}

// writeErrorWithVerdict writes the error envelope with an explicit verdict,
// for 5xx responses whose verdict is a fixed policy decision (overload,
// lifecycle timeout) rather than a function of the engine's fail mode.
func writeErrorWithVerdict(w http.ResponseWriter, status int, kind, message, verdict string) {
	writeJSON(w, status, errorEnvelope{Error: kind, Message: message, Verdict: verdict})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
