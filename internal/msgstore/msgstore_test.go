package msgstore

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"citadel.dev/internal/ctdlmsg"
	"citadel.dev/internal/roommodel"
)

func openTestStores(t *testing.T) (*roommodel.Store, *Store) {
	t.Helper()
	dir := t.TempDir()
	rooms, err := roommodel.Open(filepath.Join(dir, "rooms.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rooms.Close() })
	msgs, err := Open(filepath.Join(dir, "msgs.db"), 4, rooms)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { msgs.Close() })
	return rooms, msgs
}

func TestEnterMonotonicNumbers(t *testing.T) {
	rooms, msgs := openTestStores(t)
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, &roommodel.Room{Name: "Lobby2"})
	if err != nil {
		t.Fatal(err)
	}

	var last int64
	for i := 0; i < 5; i++ {
		m := ctdlmsg.New()
		m.Set(ctdlmsg.FieldSubject, "hi")
		n, err := msgs.Enter(ctx, roomID, false, m)
		if err != nil {
			t.Fatal(err)
		}
		if n <= last {
			t.Fatalf("message numbers must strictly increase: %d <= %d", n, last)
		}
		last = n
	}
}

func TestEnterUpsertByEUID(t *testing.T) {
	rooms, msgs := openTestStores(t)
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, &roommodel.Room{Name: "Mailbox1", Flags: roommodel.RoomFlagMailbox})
	if err != nil {
		t.Fatal(err)
	}

	m1 := ctdlmsg.New()
	m1.Set(ctdlmsg.FieldEUID, "event-42")
	m1.Set(ctdlmsg.FieldSubject, "first")
	n1, err := msgs.Enter(ctx, roomID, true, m1)
	if err != nil {
		t.Fatal(err)
	}

	m2 := ctdlmsg.New()
	m2.Set(ctdlmsg.FieldEUID, "event-42")
	m2.Set(ctdlmsg.FieldSubject, "second")
	n2, err := msgs.Enter(ctx, roomID, true, m2)
	if err != nil {
		t.Fatal(err)
	}
	if n2 <= n1 {
		t.Fatalf("upsert replacement must get a new, larger number: %d <= %d", n2, n1)
	}

	var seen []string
	err = msgs.MSGS(ctx, roomID, KindAll, "", 0, func(line string) error {
		seen = append(seen, line)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly one visible message after upsert, got %d: %v", len(seen), seen)
	}

	got, err := msgs.EUID(ctx, roomID, "event-42")
	if err != nil {
		t.Fatal(err)
	}
	if got != n2 {
		t.Fatalf("EUID lookup should resolve to the latest message: got %d want %d", got, n2)
	}
}

func TestEUIDIcsSuffixRetry(t *testing.T) {
	rooms, msgs := openTestStores(t)
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, &roommodel.Room{Name: "Calendar1"})
	if err != nil {
		t.Fatal(err)
	}
	m := ctdlmsg.New()
	m.Set(ctdlmsg.FieldEUID, "event-42")
	if _, err := msgs.Enter(ctx, roomID, false, m); err != nil {
		t.Fatal(err)
	}
	n, err := msgs.EUID(ctx, roomID, "event-42.ics")
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("expected .ics suffix to be stripped and retried")
	}
}

func TestEnterWikiKeepsRevisionHistory(t *testing.T) {
	rooms, msgs := openTestStores(t)
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, &roommodel.Room{Name: "Wiki1", DefaultView: roommodel.ViewWiki})
	if err != nil {
		t.Fatal(err)
	}

	m1 := ctdlmsg.New()
	m1.Set(ctdlmsg.FieldEUID, "page-home")
	m1.Set(ctdlmsg.FieldSubject, "v1")
	n1, err := msgs.EnterWiki(ctx, roomID, m1)
	if err != nil {
		t.Fatal(err)
	}

	m2 := ctdlmsg.New()
	m2.Set(ctdlmsg.FieldEUID, "page-home")
	m2.Set(ctdlmsg.FieldSubject, "v2")
	n2, err := msgs.EnterWiki(ctx, roomID, m2)
	if err != nil {
		t.Fatal(err)
	}
	if n2 <= n1 {
		t.Fatalf("revisions must strictly increase: %d <= %d", n2, n1)
	}

	got, err := msgs.EUID(ctx, roomID, "page-home")
	if err != nil {
		t.Fatal(err)
	}
	if got != n2 {
		t.Fatalf("EUID must resolve to the newest revision: got %d want %d", got, n2)
	}

	history, err := msgs.History(ctx, roomID, "page-home")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0] != n2 || history[1] != n1 {
		t.Fatalf("expected both revisions newest-first, got %v", history)
	}

	m2fetched, err := msgs.Fetch(ctx, n2, false)
	if err != nil {
		t.Fatal(err)
	}
	if refs, _ := m2fetched.Get(ctdlmsg.FieldReferences); refs != strconv.FormatInt(n1, 10) {
		t.Fatalf("revision 2 should reference revision 1: got %q", refs)
	}
}

func TestExpungeRoomHidesAllMessages(t *testing.T) {
	rooms, msgs := openTestStores(t)
	ctx := context.Background()
	roomID, err := rooms.CreateRoom(ctx, &roommodel.Room{Name: "Doomed"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := msgs.Enter(ctx, roomID, false, ctdlmsg.New()); err != nil {
			t.Fatal(err)
		}
	}
	if err := msgs.ExpungeRoom(ctx, roomID); err != nil {
		t.Fatal(err)
	}
	var seen []string
	err = msgs.MSGS(ctx, roomID, KindAll, "", 0, func(line string) error {
		seen = append(seen, line)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 0 {
		t.Fatalf("expected no visible messages after ExpungeRoom, got %v", seen)
	}
}

func TestMoveKeepsNumberCopyAssignsNew(t *testing.T) {
	rooms, msgs := openTestStores(t)
	ctx := context.Background()
	src, err := rooms.CreateRoom(ctx, &roommodel.Room{Name: "Src"})
	if err != nil {
		t.Fatal(err)
	}
	dst, err := rooms.CreateRoom(ctx, &roommodel.Room{Name: "Dst"})
	if err != nil {
		t.Fatal(err)
	}
	m := ctdlmsg.New()
	n, err := msgs.Enter(ctx, src, false, m)
	if err != nil {
		t.Fatal(err)
	}

	moved, err := msgs.Move(ctx, n, dst, false)
	if err != nil {
		t.Fatal(err)
	}
	if moved != n {
		t.Fatalf("move must keep message number: got %d want %d", moved, n)
	}

	n2, err := msgs.Enter(ctx, src, false, ctdlmsg.New())
	if err != nil {
		t.Fatal(err)
	}
	copied, err := msgs.Move(ctx, n2, dst, true)
	if err != nil {
		t.Fatal(err)
	}
	if copied == n2 {
		t.Fatalf("copy must assign a new number, got same as source %d", n2)
	}
}
