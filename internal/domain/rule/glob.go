package rule

import "path"

// globMatch matches a tool name against a glob pattern using path.Match's
// single-segment wildcard semantics (`*` matches any run of characters other
// than `/`; tool names never contain `/`, so this reduces to simple
// wildcard matching). No example repo in the corpus imports a third-party
// glob library, so this stays on the standard library.
func globMatch(pattern, name string) (bool, error) {
	return path.Match(pattern, name)
}
