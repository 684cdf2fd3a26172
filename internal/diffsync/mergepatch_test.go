package diffsync

import "testing"

func TestApplyMergePatchSetsScalar(t *testing.T) {
	t.Parallel()
	doc := map[string]any{"a": 1.0}
	got := applyMergePatch(doc, map[string]any{"a": 2.0}).(map[string]any)
	if got["a"] != 2.0 {
		t.Fatalf("got %v, want 2.0", got["a"])
	}
}

func TestApplyMergePatchNullRemovesKey(t *testing.T) {
	t.Parallel()
	doc := map[string]any{"a": 1.0, "b": 2.0}
	got := applyMergePatch(doc, map[string]any{"a": nil}).(map[string]any)
	if _, ok := got["a"]; ok {
		t.Fatal("expected key a to be removed")
	}
	if got["b"] != 2.0 {
		t.Fatalf("expected b untouched, got %v", got["b"])
	}
}

func TestApplyMergePatchRecursesIntoObjects(t *testing.T) {
	t.Parallel()
	doc := map[string]any{"account": map[string]any{"balance": 100.0, "margin": 5.0}}
	patch := map[string]any{"account": map[string]any{"balance": 150.0}}
	got := applyMergePatch(doc, patch).(map[string]any)
	account := got["account"].(map[string]any)
	if account["balance"] != 150.0 {
		t.Fatalf("got balance %v, want 150.0", account["balance"])
	}
	if account["margin"] != 5.0 {
		t.Fatalf("expected margin untouched, got %v", account["margin"])
	}
}

func TestApplyMergePatchNonObjectPatchReplacesWhole(t *testing.T) {
	t.Parallel()
	doc := map[string]any{"a": 1.0}
	got := applyMergePatch(doc, "replacement")
	if got != "replacement" {
		t.Fatalf("got %v, want replacement", got)
	}
}

func TestPruneEmptyRemovesEmptySubobjects(t *testing.T) {
	t.Parallel()
	doc := map[string]any{
		"account": map[string]any{},
		"trade":   map[string]any{"orders": map[string]any{}},
		"quote":   map[string]any{"ins_list": "BTC-USD"},
	}
	got := pruneEmpty(doc).(map[string]any)
	if _, ok := got["account"]; ok {
		t.Fatal("expected empty account to be pruned")
	}
	if _, ok := got["trade"]; ok {
		t.Fatal("expected trade (now empty after its only child was pruned) to be pruned")
	}
	if _, ok := got["quote"]; !ok {
		t.Fatal("expected non-empty quote to survive")
	}
}

func TestDeepCopyJSONIsIndependent(t *testing.T) {
	t.Parallel()
	orig := map[string]any{"a": map[string]any{"b": 1.0}}
	copied := deepCopyJSON(orig).(map[string]any)
	copied["a"].(map[string]any)["b"] = 2.0
	if orig["a"].(map[string]any)["b"] != 1.0 {
		t.Fatal("expected deep copy to be independent of original")
	}
}
