// Package auth verifies the two bearer tokens PolicyShield accepts: a
// primary API token for /api/v1/check and friends, and an admin token
// (falling back to the primary token when unconfigured) for reload, kill,
// resume, and approval-respond (spec.md §4.10.4, §6).
package auth

// Scope identifies which bearer token a request authenticated with.
type Scope string

const (
	// ScopeAPI is the primary token, accepted on every authenticated route.
	ScopeAPI Scope = "api"

	// ScopeAdmin is the elevated token required on admin-only routes.
	ScopeAdmin Scope = "admin"
)
