package ctdlproto

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"citadel.dev/internal/metrics"
	"citadel.dev/internal/msgstore"
	"citadel.dev/internal/roommodel"
	"citadel.dev/internal/rules"
	"citadel.dev/internal/wire"
)

type fakeRulesStore struct{}

func (fakeRulesStore) Load(ctx context.Context, userID roommodel.UserID) ([]rules.Rule, error) {
	return nil, nil
}
func (fakeRulesStore) Save(ctx context.Context, userID roommodel.UserID, rs []rules.Rule) error {
	return nil
}
func (fakeRulesStore) LoadVacationState(ctx context.Context, userID roommodel.UserID) (*rules.VacationState, error) {
	return &rules.VacationState{}, nil
}
func (fakeRulesStore) RecordVacationSent(ctx context.Context, userID roommodel.UserID, sender string, sentAt int64) error {
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	rooms, err := roommodel.Open(filepath.Join(dir, "rooms.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rooms.Close() })
	msgs, err := msgstore.Open(filepath.Join(dir, "msgs.db"), 4, rooms)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { msgs.Close() })

	ctx := context.Background()
	if _, err := rooms.CreateUser(ctx, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}

	return &Server{
		NodeName:       "testnode",
		Rooms:          rooms,
		Msgs:           msgs,
		Rules:          fakeRulesStore{},
		Throttle:       &Throttle{},
		Metrics:        metrics.Noop{},
		SessionTimeout: 2 * time.Second,
		Logf:           func(string, ...interface{}) {},
	}
}

func serveOnPipe(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	client, serverSide := net.Pipe()
	t.Cleanup(func() { client.Close() })
	sess := &Session{
		ID:     "t1",
		server: srv,
		conn:   wire.NewConn(serverSide),
		state:  StateUnauth,
		Logf:   func(string, ...interface{}) {},
	}
	go sess.serve()
	return client
}

func TestCanDeletePermissioning(t *testing.T) {
	const caller roommodel.UserID = 42
	const other roommodel.UserID = 99

	tests := []struct {
		name string
		room roommodel.Room
		want bool
	}{
		{"room aide may delete", roommodel.Room{RoomAideID: caller}, true},
		{"non-aide in plain room may not delete", roommodel.Room{RoomAideID: other}, false},
		{
			"mailbox owner may delete own mailbox",
			roommodel.Room{RoomAideID: other, Flags: roommodel.RoomFlagMailbox, Name: "42.MAIL"},
			true,
		},
		{
			"non-owner may not delete someone else's mailbox",
			roommodel.Room{RoomAideID: other, Flags: roommodel.RoomFlagMailbox, Name: "99.MAIL"},
			false,
		},
		{
			"collaborative-delete flag allows any occupant",
			roommodel.Room{RoomAideID: other, Flags: roommodel.RoomFlagCollabDelete},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := tt.room
			s := &Session{userID: caller, room: &room}
			if got := canDelete(s); got != tt.want {
				t.Errorf("canDelete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoginAndGoto(t *testing.T) {
	srv := newTestServer(t)
	client := serveOnPipe(t, srv)
	r := bufio.NewReader(client)

	readLine := func() string {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		return line
	}

	readLine() // greeting

	client.Write([]byte("USER alice\n"))
	if got := readLine(); got[:3] != "300" {
		t.Fatalf("expected 3xx after USER, got %q", got)
	}

	client.Write([]byte("PASS hunter2\n"))
	if got := readLine(); got[:3] != "200" {
		t.Fatalf("expected 2xx after PASS, got %q", got)
	}

	client.Write([]byte("GOTO Lobby\n"))
	if got := readLine(); got[:3] != "200" {
		t.Fatalf("expected 2xx after GOTO, got %q", got)
	}

	client.Write([]byte("NOOP\n"))
	if got := readLine(); got[:3] != "200" {
		t.Fatalf("expected 2xx after NOOP, got %q", got)
	}

	client.Write([]byte("QUIT\n"))
	readLine()
}
