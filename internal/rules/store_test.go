package rules

import (
	"context"
	"path/filepath"
	"testing"

	"citadel.dev/internal/roommodel"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "rules.db"), 2)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	uid := roommodel.UserID(1)

	empty, err := store.Load(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no rules for a fresh user, got %v", empty)
	}

	rs := []Rule{
		{Active: true, Field: FieldSubject, Compare: CompareContains, Text: "foo", Action: ActionDiscard, Final: FinalStop},
	}
	if err := store.Save(ctx, uid, rs); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != rs[0] {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rs)
	}
}

func TestVacationStatePersists(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "rules.db"), 2)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	uid := roommodel.UserID(7)

	empty, err := store.LoadVacationState(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.LastSent) != 0 {
		t.Fatalf("expected no vacation history for a fresh user, got %v", empty.LastSent)
	}

	if err := store.RecordVacationSent(ctx, uid, "sender@example.com", 1000); err != nil {
		t.Fatal(err)
	}
	got, err := store.LoadVacationState(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSent["sender@example.com"] != 1000 {
		t.Fatalf("expected persisted LastSent 1000, got %v", got.LastSent)
	}

	if err := store.RecordVacationSent(ctx, uid, "sender@example.com", 2000); err != nil {
		t.Fatal(err)
	}
	got, err = store.LoadVacationState(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSent["sender@example.com"] != 2000 {
		t.Fatalf("expected RecordVacationSent to overwrite, got %v", got.LastSent)
	}
}
