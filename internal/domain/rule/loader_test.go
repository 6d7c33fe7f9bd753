package rule

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRuleSetFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	yaml := `
default_verdict: ALLOW
rules:
  - tool:
      name: delete_file
    then: BLOCK
honeypots:
  - drop_table
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rs, err := LoadRuleSetFromFile(path)
	if err != nil {
		t.Fatalf("LoadRuleSetFromFile: %v", err)
	}
	if rs.DefaultVerdict != Allow {
		t.Errorf("DefaultVerdict = %q, want ALLOW", rs.DefaultVerdict)
	}
	if len(rs.Rules) != 1 || rs.Rules[0].Tool.Name != "delete_file" {
		t.Fatalf("Rules = %+v", rs.Rules)
	}
	if len(rs.Honeypots) != 1 || rs.Honeypots[0] != "drop_table" {
		t.Fatalf("Honeypots = %+v", rs.Honeypots)
	}
}

func TestLoadRuleSetFromFileMissing(t *testing.T) {
	_, err := LoadRuleSetFromFile("/nonexistent/rules.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRuleSetFromFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadRuleSetFromFile(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
