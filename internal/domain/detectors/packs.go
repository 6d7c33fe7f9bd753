package detectors

import "regexp"

func pattern(name, source string) CompiledPattern {
	return CompiledPattern{Name: name, Re: regexp.MustCompile("(?i)" + source)}
}

// NewDefaultRegistry builds the six built-in security detector packs named
// in spec §4.3.
func NewDefaultRegistry() *Registry {
	return &Registry{packs: []Pack{
		{
			Name:     "path_traversal",
			Severity: SeverityHigh,
			Patterns: []CompiledPattern{
				pattern("dotdot_slash", `\.\./`),
				pattern("dotdot_backslash", `\.\.\\`),
				pattern("encoded_dotdot", `%2e%2e(%2f|%5c)`),
				pattern("absolute_etc", `(^|[\s"'=])/etc/(passwd|shadow|hosts)\b`),
			},
		},
		{
			Name:     "shell_injection",
			Severity: SeverityCritical,
			Patterns: []CompiledPattern{
				pattern("chained_command", `[;&|]{1,2}\s*(rm|curl|wget|nc|bash|sh|chmod|chown)\b`),
				pattern("command_substitution", "`[^`]+`|\\$\\([^)]+\\)"),
				pattern("redirect_to_device", `>\s*/dev/(tcp|udp)/`),
			},
		},
		{
			Name:     "sql_injection",
			Severity: SeverityCritical,
			Patterns: []CompiledPattern{
				pattern("union_select", `\bunion\b[\s\S]{0,40}\bselect\b`),
				pattern("or_tautology", `\bor\b\s+['"]?\d+['"]?\s*=\s*['"]?\d+['"]?`),
				pattern("stacked_query", `;\s*(drop|delete|update|insert)\b`),
				pattern("comment_terminator", `(--|#|/\*)\s*$`),
			},
		},
		{
			Name:     "ssrf",
			Severity: SeverityCritical,
			Patterns: []CompiledPattern{
				pattern("link_local_metadata", `169\.254\.169\.254`),
				pattern("loopback_host", `\b(localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1\])\b`),
				pattern("internal_rfc1918", `\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b|\b192\.168\.\d{1,3}\.\d{1,3}\b|\b172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}\b`),
			},
		},
		{
			Name:     "url_schemes",
			Severity: SeverityHigh,
			Patterns: []CompiledPattern{
				pattern("file_scheme", `\bfile://`),
				pattern("gopher_scheme", `\bgopher://`),
				pattern("dict_scheme", `\bdict://`),
				pattern("data_scheme", `\bdata:[a-z]+/[a-z0-9.+-]+;base64,`),
			},
		},
		{
			Name:     "secret_detection",
			Severity: SeverityCritical,
			Patterns: []CompiledPattern{
				pattern("aws_access_key", `\bAKIA[0-9A-Z]{16}\b`),
				pattern("openai_key", `\bsk-[A-Za-z0-9]{20,}\b`),
				pattern("github_token", `\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
				pattern("jwt", `\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
				pattern("private_key_block", `-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`),
				pattern("slack_token", `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
			},
		},
	}}
}
