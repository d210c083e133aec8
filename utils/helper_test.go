package utils

import (
	"context"
	"reflect"
	"testing"
)

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]string{"b", "a", "b", "c", "a"})
	if !reflect.DeepEqual(got, []string{"b", "a", "c"}) {
		t.Fatalf("unexpected %v", got)
	}
}

func TestEnsureCorrelationId(t *testing.T) {
	ctx, id := EnsureCorrelationId(context.Background())
	if id == "" {
		t.Fatalf("expected generated id")
	}
	_, again := EnsureCorrelationId(ctx)
	if again != id {
		t.Fatalf("expected existing id %s, got %s", id, again)
	}
	if IsDryRun(ctx) {
		t.Fatalf("dry run should default to false")
	}
	if !IsDryRun(SetDryRunInContext(ctx, true)) {
		t.Fatalf("expected dry run")
	}
}
