package watchitems

import (
	"sort"
	"testing"
	"time"
)

func docWithPaths(paths ...string) *Document {
	entries := make([]PathEntry, len(paths))
	for i, p := range paths {
		entries[i] = PathEntry{Path: p}
	}
	return &Document{
		Version: "1",
		WatchItems: map[string]RuleConfig{
			"rule": {Paths: entries, Options: OptionsConfig{RuleType: "PathsWithAllowedProcesses"}},
		},
	}
}

func TestCreate_RejectsBothSourcesSet(t *testing.T) {
	if _, err := Create("/tmp/x.yaml", &Document{}, 15*time.Second, nil); err == nil {
		t.Error("expected error when both configPath and configDict are set")
	}
}

func TestCreate_RejectsIntervalBelowFloor(t *testing.T) {
	if _, err := Create("", &Document{Version: "1"}, 14*time.Second, nil); err == nil {
		t.Error("expected error for reapplyInterval < 15s")
	}
}

func TestReload_DeltaCallback(t *testing.T) {
	s, err := Create("", docWithPaths("/a", "/b"), 15*time.Second, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	type delta struct {
		count        int
		added, removed []string
	}
	ch := make(chan delta, 1)
	s.RegisterDataWatchItemsUpdatedCallback(func(count int, added, removed []string) {
		ch <- delta{count, added, removed}
	})

	if err := s.SetConfig(docWithPaths("/b", "/c")); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	select {
	case d := <-ch:
		sort.Strings(d.added)
		sort.Strings(d.removed)
		if d.count != 2 {
			t.Errorf("count = %d, want 2", d.count)
		}
		if len(d.added) != 1 || d.added[0] != "/c" {
			t.Errorf("added = %v, want [/c]", d.added)
		}
		if len(d.removed) != 1 || d.removed[0] != "/a" {
			t.Errorf("removed = %v, want [/a]", d.removed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data-update callback")
	}
}

func TestReload_NoSwapWhenConfigUnchanged(t *testing.T) {
	s, err := Create("", docWithPaths("/a"), 15*time.Second, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fired := false
	s.RegisterDataWatchItemsUpdatedCallback(func(int, []string, []string) { fired = true })

	if err := s.SetConfig(docWithPaths("/a")); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if fired {
		t.Error("callback should not fire when the new config is identical to the current one")
	}
}

func TestFindPoliciesForTargets_LongestPrefix(t *testing.T) {
	doc := &Document{
		Version: "1",
		WatchItems: map[string]RuleConfig{
			"prefix_rule": {
				Paths:   []PathEntry{{Path: "/usr/local", IsPrefix: true}},
				Options: OptionsConfig{RuleType: "PathsWithAllowedProcesses"},
			},
		},
	}
	s, err := Create("", doc, 15*time.Second, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var found *DataWatchItemPolicy
	s.FindPoliciesForTargets(func(lookup LookupFunc) {
		p, ok := lookup("/usr/local/bin/tool")
		if ok {
			found = p
		}
	})
	if found == nil {
		t.Fatal("expected a prefix match for /usr/local/bin/tool")
	}
	if found.Path != "/usr/local" {
		t.Errorf("matched policy path = %q, want /usr/local", found.Path)
	}
}

func TestMalformedConfig_StateUnchanged(t *testing.T) {
	s, err := Create("", docWithPaths("/a"), 15*time.Second, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := s.State()

	// Missing Version is rejected; state must not change.
	bad := &Document{WatchItems: map[string]RuleConfig{}}
	if err := s.SetConfig(bad); err == nil {
		t.Fatal("expected parse error for missing Version")
	}
	after := s.State()
	if before.Version != after.Version || before.RuleCount != after.RuleCount {
		t.Errorf("state changed after malformed reload: before=%+v after=%+v", before, after)
	}
}
