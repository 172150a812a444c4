package watchitems

import "testing"

func identityExpand(pattern string) ([]string, error) { return []string{pattern}, nil }

func TestParseDocument_MissingVersion(t *testing.T) {
	doc := &Document{WatchItems: map[string]RuleConfig{}}
	if _, err := parseDocument(doc, identityExpand); err == nil {
		t.Error("expected error for missing Version")
	}
}

func TestParseDocument_EmptyPathsRejected(t *testing.T) {
	doc := &Document{
		Version: "1",
		WatchItems: map[string]RuleConfig{
			"rule_one": {Paths: nil},
		},
	}
	if _, err := parseDocument(doc, identityExpand); err == nil {
		t.Error("expected error for empty Paths")
	}
}

func TestParseDocument_DataRuleExpandsOnePolicyPerPath(t *testing.T) {
	doc := &Document{
		Version: "1",
		WatchItems: map[string]RuleConfig{
			"protect_etc": {
				Paths: []PathEntry{{Path: "/etc/passwd"}, {Path: "/etc/shadow"}},
				Options: OptionsConfig{
					RuleType: "PathsWithAllowedProcesses",
				},
			},
		},
	}
	parsed, err := parseDocument(doc, identityExpand)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed.dataPolicies) != 2 {
		t.Fatalf("got %d data policies, want 2", len(parsed.dataPolicies))
	}
	// Default AuditOnly is true per spec.md §4.1.
	if !parsed.dataPolicies[0].AuditOnly {
		t.Error("AuditOnly should default to true")
	}
}

func TestParseDocument_ProcessRuleCarriesAllPaths(t *testing.T) {
	doc := &Document{
		Version: "1",
		WatchItems: map[string]RuleConfig{
			"browser_sandbox": {
				Paths: []PathEntry{{Path: "/Users/*/Downloads", IsPrefix: true}},
				Processes: []ProcessConfig{
					{SigningID: "com.example.browser", TeamID: "ABCD123456"},
				},
				Options: OptionsConfig{RuleType: "ProcessesWithAllowedPaths"},
			},
		},
	}
	parsed, err := parseDocument(doc, identityExpand)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed.processPolicies) != 1 {
		t.Fatalf("got %d process policies, want 1", len(parsed.processPolicies))
	}
	if len(parsed.processPolicies[0].PathTypePairs) != 1 {
		t.Errorf("expected the single process policy to carry all paths for the rule")
	}
}

func TestParseDocument_InvertProcessExceptionsDeprecatedMapping(t *testing.T) {
	doc := &Document{
		Version: "1",
		WatchItems: map[string]RuleConfig{
			"legacy_rule": {
				Paths:   []PathEntry{{Path: "/opt/app"}},
				Options: OptionsConfig{InvertProcessExceptions: boolPtr(true)},
			},
		},
	}
	parsed, err := parseDocument(doc, identityExpand)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.dataPolicies[0].RuleType != PathsWithDeniedProcesses {
		t.Errorf("InvertProcessExceptions=true should map to PathsWithDeniedProcesses, got %v", parsed.dataPolicies[0].RuleType)
	}
}

func boolPtr(b bool) *bool { return &b }
