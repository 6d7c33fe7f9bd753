package rule

import "errors"

var (
	// ErrCompileFailed wraps any failure encountered while compiling a
	// RuleSet: a bad regex, an unknown matcher op, a rule missing all of
	// tool/args_match/session/chain, or a duplicate rule id. Load is
	// all-or-nothing — a single bad rule fails the whole compile.
	ErrCompileFailed = errors.New("rule: compile failed")

	// ErrDuplicateID is returned when two rules share the same id.
	ErrDuplicateID = errors.New("rule: duplicate id")

	// ErrEmptyRule is returned when a rule specifies none of
	// tool/args_match/session/chain.
	ErrEmptyRule = errors.New("rule: at least one of tool, args_match, session, chain must be specified")

	// ErrPatternTooLong is returned when a regex source exceeds the
	// 500-character compilation budget.
	ErrPatternTooLong = errors.New("rule: pattern exceeds 500 source character budget")

	// ErrUnknownOp is returned for an unrecognized argument matcher operator.
	ErrUnknownOp = errors.New("rule: unknown matcher op")
)

// maxPatternSourceChars bounds regex compilation cost and rejects
// catastrophic patterns outright, per spec §3.
const maxPatternSourceChars = 500
