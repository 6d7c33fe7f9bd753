package rule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRuleSetFromFile reads and parses a YAML rule file at path. It does
// not compile the result; callers compile (and, on reload, swap) it
// themselves so a malformed file never touches the active rule set.
func LoadRuleSetFromFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("rule: read %s: %w", path, err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("rule: parse %s: %w", path, err)
	}
	return rs, nil
}
