package roommodel

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "rooms.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRoom(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRoom(ctx, &Room{Name: "Tech Support"})
	if err != nil {
		t.Fatal(err)
	}
	r, err := s.GetRoom(ctx, "Tech Support")
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != id {
		t.Fatalf("ID mismatch: %d != %d", r.ID, id)
	}
}

func TestSLRPClampsToHighest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRoom(ctx, &Room{Name: "Clamped"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.TouchRoom(ctx, id, 5); err != nil {
		t.Fatal(err)
	}
	got, err := s.SLRP(ctx, 1, id, 9999)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Fatalf("expected SLRP to clamp to highest message 5, got %d", got)
	}
}

func TestKillRoomThenRecreateBumpsGeneration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRoom(ctx, &Room{Name: "Ephemeral"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.KillRoom(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRoom(ctx, "Ephemeral"); err != ErrNotFound {
		t.Fatalf("expected a killed room to be unreachable by name, got %v", err)
	}

	id2, err := s.CreateRoom(ctx, &Room{Name: "Ephemeral"})
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Fatalf("reviving a killed room must reuse its RoomID: got %d want %d", id2, id)
	}
	r, err := s.GetRoom(ctx, "Ephemeral")
	if err != nil {
		t.Fatal(err)
	}
	if r.Generation != 2 {
		t.Fatalf("reviving a killed room must bump Generation: got %d want 2", r.Generation)
	}
	if r.Dead {
		t.Fatal("revived room must not still read as Dead")
	}
}

func TestCreateRoomRejectsDuplicateLiveName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateRoom(ctx, &Room{Name: "Lobby2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateRoom(ctx, &Room{Name: "Lobby2"}); err == nil {
		t.Fatal("expected creating a room with an already-live name to fail")
	}
}

func TestUserRegisterAndAuthenticate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateUser(ctx, "aide", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	u, err := s.GetUserByName(ctx, "aide")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != id {
		t.Fatalf("ID mismatch %d != %d", u.ID, id)
	}
	if !u.CheckPassword("hunter2") {
		t.Fatal("expected correct password to authenticate")
	}
	if u.CheckPassword("wrong") {
		t.Fatal("expected wrong password to fail")
	}
}

func TestSoftDeletedUserNeverAuthenticates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateUser(ctx, "gone", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SoftDelete(ctx, id); err != nil {
		t.Fatal(err)
	}
	u, err := s.GetUserByName(ctx, "gone")
	if err != nil {
		t.Fatal(err)
	}
	if u.CheckPassword("secret") {
		t.Fatal("soft-deleted user must never authenticate")
	}
}
