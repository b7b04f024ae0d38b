// Package roommodel implements the room and user data model (C5): rooms
// with flags, floor, and expiry policy; users with access level and
// per-(user,room) last-seen pointers. It is grounded on the teacher's
// spillbox ID-type convention (XID int64 + String()/parseID) and its
// sqlite schema/query idiom.
package roommodel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// AccessLevel is the user tier ordinal from §3: deleted < new < problem <
// local < network < preferred < aide.
type AccessLevel int

const (
	AccessDeleted AccessLevel = iota
	AccessNew
	AccessProblem
	AccessLocal
	AccessNetwork
	AccessPreferred
	AccessAide
)

// User flag bits.
const (
	UserFlagExpert = 1 << iota
	UserFlagPaginator
	UserFlagFloors
	UserFlagColor
	UserFlagInternetMail
	UserFlagRegistered
)

// Room flag bits.
const (
	RoomFlagMailbox = 1 << iota
	RoomFlagPrivate
	RoomFlagDirectory
	RoomFlagNetworkShared
	RoomFlagCollabDelete
)

// ExpiryMode selects a room's message expiry policy.
type ExpiryMode int

const (
	ExpiryDefault ExpiryMode = iota
	ExpiryNever
	ExpiryByCount
	ExpiryByAge
)

// DefaultView enumerates a room's rendering mode.
type DefaultView int

const (
	ViewBulletin DefaultView = iota
	ViewMailbox
	ViewAddressBook
	ViewCalendar
	ViewTasks
	ViewNotes
	ViewWiki
	ViewJournal
	ViewBlog
)

// UserID and RoomID follow the teacher's int64-id-with-prefixed-String
// convention (spillbox.ConvoID etc.), minus the prefix, since the line
// protocol addresses rooms by name and users by display name, not by id
// string.
type UserID int64
type RoomID int64

// User is one row of the Users table.
type User struct {
	ID             UserID
	Name           string
	PasswordHash   string
	AccessLevel    AccessLevel
	Flags          int
	TimesCalled    int
	MessagesPosted int
	LastLogin      time.Time
	PurgeDays      int
	Addresses      []string
}

// Room is one row of the Rooms table.
type Room struct {
	ID             RoomID
	Name           string
	Password       string
	RoomAideID     UserID
	HighestMessage int64
	Generation     int64
	Flags          int
	DirectoryName  string
	InfoMsgNum     int64
	FloorID        int64
	LastWrite      time.Time
	ExpiryMode     ExpiryMode
	ExpiryValue    int64
	SortOrder      int
	DefaultView    DefaultView
	Dead           bool // set by KillRoom; a dead room's name can be revived by CreateRoom
}

// IsMailbox reports whether the room is a per-user mailbox room, whose
// name must begin with the owning user's numeric id (§3 invariant).
func (r *Room) IsMailbox() bool { return r.Flags&RoomFlagMailbox != 0 }

// IsWiki reports whether the room's default view is "wiki", which
// changes ENT0's upsert behavior from soft-delete-and-replace to
// revision history (§3: "revision/history semantics (wiki rooms)").
func (r *Room) IsWiki() bool { return r.DefaultView == ViewWiki }

// OwnedBy reports whether r is a mailbox room belonging to userID, per §3's
// invariant "if flag mailbox is set, the room name begins with the owning
// user's numeric id" — used by DELE's permissioning rule (§4.4).
func (r *Room) OwnedBy(userID UserID) bool {
	if !r.IsMailbox() {
		return false
	}
	return strings.HasPrefix(r.Name, strconv.FormatInt(int64(userID), 10))
}

// CollabDelete reports whether r's collaborative-delete flag is set,
// letting any occupant delete messages regardless of aide/ownership
// (§4.4's third Permissioning clause).
func (r *Room) CollabDelete() bool { return r.Flags&RoomFlagCollabDelete != 0 }

// MailboxOwnerID parses the owning user's numeric id from the leading
// digits of a mailbox room's name, the inverse of the §3 naming
// invariant OwnedBy checks against. ok is false if r is not a mailbox
// room or its name doesn't start with a number.
func (r *Room) MailboxOwnerID() (id UserID, ok bool) {
	if !r.IsMailbox() {
		return 0, false
	}
	i := 0
	for i < len(r.Name) && r.Name[i] >= '0' && r.Name[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(r.Name[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	return UserID(n), true
}

// KnownState is the Room-Known relation for one (user, room) pair.
type KnownState struct {
	Known    bool
	Zapped   bool
	LastSeen int64
	SkipFlag bool
}

// Store wraps the sqlite pool backing rooms, users, floors, and the
// room-known relation, following the teacher's Box{PoolRO,PoolRW} split so
// reads never block behind the single writer connection.
type Store struct {
	PoolRW *sqlitex.Pool
	PoolRO *sqlitex.Pool
	Logf   func(format string, v ...interface{})
}

// Open creates (if needed) and opens the room/user database at dbfile.
func Open(dbfile string, poolSize int) (*Store, error) {
	base := sqlite.SQLITE_OPEN_SHAREDCACHE | sqlite.SQLITE_OPEN_WAL | sqlite.SQLITE_OPEN_URI
	rw, err := sqlitex.Open(dbfile, base|sqlite.SQLITE_OPEN_READWRITE|sqlite.SQLITE_OPEN_CREATE, 1)
	if err != nil {
		return nil, fmt.Errorf("roommodel: open rw pool: %v", err)
	}
	ro, err := sqlitex.Open(dbfile, base|sqlite.SQLITE_OPEN_READONLY, poolSize)
	if err != nil {
		rw.Close()
		return nil, fmt.Errorf("roommodel: open ro pool: %v", err)
	}

	conn := rw.Get(context.Background())
	defer rw.Put(conn)
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		rw.Close()
		ro.Close()
		return nil, fmt.Errorf("roommodel: init schema: %v", err)
	}

	return &Store{PoolRW: rw, PoolRO: ro, Logf: func(string, ...interface{}) {}}, nil
}

// Close releases both connection pools.
func (s *Store) Close() error {
	err1 := s.PoolRW.Close()
	err2 := s.PoolRO.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// GetRoom loads a room by name, matching GOTO's lookup.
func (s *Store) GetRoom(ctx context.Context, name string) (*Room, error) {
	conn := s.PoolRO.Get(ctx)
	defer s.PoolRO.Put(conn)

	stmt := conn.Prep(`SELECT RoomID, Name, Password, RoomAideID, HighestMessage, Generation,
		Flags, DirectoryName, InfoMsgNum, FloorID, LastWrite, ExpiryMode, ExpiryValue,
		SortOrder, DefaultView, Dead FROM Rooms WHERE Name = $name AND Dead = 0;`)
	stmt.SetText("$name", name)
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Reset()
		return nil, ErrNotFound
	}
	r := scanRoom(stmt)
	return r, stmt.Reset()
}

func scanRoom(stmt *sqlite.Stmt) *Room {
	return &Room{
		ID:             RoomID(stmt.GetInt64("RoomID")),
		Name:           stmt.GetText("Name"),
		Password:       stmt.GetText("Password"),
		RoomAideID:     UserID(stmt.GetInt64("RoomAideID")),
		HighestMessage: stmt.GetInt64("HighestMessage"),
		Generation:     stmt.GetInt64("Generation"),
		Flags:          int(stmt.GetInt64("Flags")),
		DirectoryName:  stmt.GetText("DirectoryName"),
		InfoMsgNum:     stmt.GetInt64("InfoMsgNum"),
		FloorID:        stmt.GetInt64("FloorID"),
		LastWrite:      time.Unix(stmt.GetInt64("LastWrite"), 0),
		ExpiryMode:     ExpiryMode(stmt.GetInt64("ExpiryMode")),
		ExpiryValue:    stmt.GetInt64("ExpiryValue"),
		SortOrder:      int(stmt.GetInt64("SortOrder")),
		DefaultView:    DefaultView(stmt.GetInt64("DefaultView")),
		Dead:           stmt.GetInt64("Dead") != 0,
	}
}

// CreateRoom inserts a new room (the teacher-grounded CREATE/EDIT path). If
// a room by this name already exists but was destroyed by KillRoom, its row
// is revived in place and Generation is bumped, matching §3's "generation
// number (monotonic, bumped on zap/recreate)" instead of erroring on the
// Name UNIQUE constraint or leaving an orphaned dead row behind.
func (s *Store) CreateRoom(ctx context.Context, r *Room) (RoomID, error) {
	if len(r.Name) == 0 || len(r.Name) > 128 {
		return 0, fmt.Errorf("roommodel: room name length out of range")
	}
	conn := s.PoolRW.Get(ctx)
	defer s.PoolRW.Put(conn)
	defer sqlitex.Save(conn)(nil)

	find := conn.Prep(`SELECT RoomID, Generation, Dead FROM Rooms WHERE Name = $name;`)
	find.SetText("$name", r.Name)
	hasRow, err := find.Step()
	if err != nil {
		return 0, err
	}
	if hasRow {
		existingID := find.GetInt64("RoomID")
		nextGen := find.GetInt64("Generation") + 1
		dead := find.GetInt64("Dead") != 0
		if err := find.Reset(); err != nil {
			return 0, err
		}
		if !dead {
			return 0, fmt.Errorf("roommodel: room %q already exists", r.Name)
		}
		revive := conn.Prep(`UPDATE Rooms SET Password=$password, RoomAideID=$aide, Flags=$flags,
			DirectoryName=$dir, FloorID=$floor, ExpiryMode=$expmode, ExpiryValue=$expval,
			SortOrder=$sort, DefaultView=$view, LastWrite=$now, HighestMessage=0,
			Generation=$gen, Dead=0 WHERE RoomID=$id;`)
		revive.SetText("$password", r.Password)
		revive.SetInt64("$aide", int64(r.RoomAideID))
		revive.SetInt64("$flags", int64(r.Flags))
		revive.SetText("$dir", r.DirectoryName)
		revive.SetInt64("$floor", r.FloorID)
		revive.SetInt64("$expmode", int64(r.ExpiryMode))
		revive.SetInt64("$expval", r.ExpiryValue)
		revive.SetInt64("$sort", int64(r.SortOrder))
		revive.SetInt64("$view", int64(r.DefaultView))
		revive.SetInt64("$now", time.Now().Unix())
		revive.SetInt64("$gen", nextGen)
		revive.SetInt64("$id", existingID)
		if _, err := revive.Step(); err != nil {
			return 0, err
		}
		return RoomID(existingID), nil
	}
	if err := find.Reset(); err != nil {
		return 0, err
	}

	stmt := conn.Prep(`INSERT INTO Rooms (Name, Password, RoomAideID, Flags, DirectoryName,
		FloorID, ExpiryMode, ExpiryValue, SortOrder, DefaultView, LastWrite)
		VALUES ($name, $password, $aide, $flags, $dir, $floor, $expmode, $expval, $sort, $view, $now);`)
	stmt.SetText("$name", r.Name)
	stmt.SetText("$password", r.Password)
	stmt.SetInt64("$aide", int64(r.RoomAideID))
	stmt.SetInt64("$flags", int64(r.Flags))
	stmt.SetText("$dir", r.DirectoryName)
	stmt.SetInt64("$floor", r.FloorID)
	stmt.SetInt64("$expmode", int64(r.ExpiryMode))
	stmt.SetInt64("$expval", r.ExpiryValue)
	stmt.SetInt64("$sort", int64(r.SortOrder))
	stmt.SetInt64("$view", int64(r.DefaultView))
	stmt.SetInt64("$now", time.Now().Unix())
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	return RoomID(conn.LastInsertRowID()), nil
}

// TouchRoom bumps a room's HighestMessage (if n is larger) and LastWrite,
// matching §3's invariant that HighestMessage >= all message numbers and
// that any posting bumps mtime. Both fields publish atomically under the
// room's implicit row lock (the UPDATE statement itself).
func (s *Store) TouchRoom(ctx context.Context, id RoomID, n int64) error {
	conn := s.PoolRW.Get(ctx)
	defer s.PoolRW.Put(conn)
	stmt := conn.Prep(`UPDATE Rooms SET HighestMessage = MAX(HighestMessage, $n), LastWrite = $now WHERE RoomID = $id;`)
	stmt.SetInt64("$n", n)
	stmt.SetInt64("$now", time.Now().Unix())
	stmt.SetInt64("$id", int64(id))
	_, err := stmt.Step()
	return err
}

// KillRoom implements KILL: marks the room Dead so GetRoom/GOTO can no
// longer reach it, matching §3's "destroyed by KILL (soft-deletes
// messages first)". It does not delete the Rooms row outright — keeping
// it lets CreateRoom revive the name later with Generation bumped
// instead of either erroring on the Name UNIQUE constraint or losing the
// generation lineage the spec's data model names as an invariant. The
// caller is responsible for expunging the room's messages first (via
// msgstore.Store.ExpungeRoom) under its own per-room lock.
func (s *Store) KillRoom(ctx context.Context, id RoomID) error {
	conn := s.PoolRW.Get(ctx)
	defer s.PoolRW.Put(conn)
	stmt := conn.Prep(`UPDATE Rooms SET Dead = 1 WHERE RoomID = $id;`)
	stmt.SetInt64("$id", int64(id))
	_, err := stmt.Step()
	return err
}

// LKRA streams "name|flags|floor|order|flags2|ra|cur-view|def-view|mtime"
// lines for every room the user knows or can access, matching §4.5.
func (s *Store) LKRA(ctx context.Context, userID UserID, emit func(line string) error) error {
	conn := s.PoolRO.Get(ctx)
	defer s.PoolRO.Put(conn)

	stmt := conn.Prep(`SELECT r.Name, r.Flags, r.FloorID, r.SortOrder, r.DefaultView, r.LastWrite,
		COALESCE(k.Known,0), COALESCE(k.Zapped,0)
		FROM Rooms r LEFT JOIN RoomKnown k ON k.RoomID = r.RoomID AND k.UserID = $uid
		WHERE COALESCE(k.Zapped,0) = 0 AND r.Dead = 0
		ORDER BY r.SortOrder, r.Name;`)
	stmt.SetInt64("$uid", int64(userID))
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			return nil
		}
		line := strings.Join([]string{
			stmt.GetText("Name"),
			strconv.FormatInt(stmt.GetInt64("Flags"), 10),
			strconv.FormatInt(stmt.GetInt64("FloorID"), 10),
			strconv.FormatInt(stmt.GetInt64("SortOrder"), 10),
			"0", // flags2, reserved
			strconv.FormatInt(stmt.GetInt64("Known"), 10),
			strconv.FormatInt(stmt.GetInt64("DefaultView"), 10),
			strconv.FormatInt(stmt.GetInt64("DefaultView"), 10),
			strconv.FormatInt(stmt.GetInt64("LastWrite"), 10),
		}, "|")
		if err := emit(line); err != nil {
			return err
		}
	}
}

// GotoResult is the status tuple returned by GOTO.
type GotoResult struct {
	Name          string
	NewCount      int64
	Total         int64
	InfoNeeded    bool
	Flags         int
	Highest       int64
	LastSeen      int64
	IsMailbox     bool
	IsAide        bool
	FloorID       int64
	CurView       DefaultView
	DefView       DefaultView
	IsTrash       bool
	Flags2        int
	LastWrite     time.Time
}

// Goto implements §4.5 GOTO: entering a room computes the status tuple
// from the room row and the caller's known-state, and never mutates the
// session's current room on failure (enforced by the caller, which only
// commits the new current-room pointer after Goto returns successfully).
func (s *Store) Goto(ctx context.Context, userID UserID, roomName string) (*GotoResult, error) {
	room, err := s.GetRoom(ctx, roomName)
	if err != nil {
		return nil, err
	}
	known, err := s.GetKnown(ctx, userID, room.ID)
	if err != nil {
		return nil, err
	}
	lastSeen := known.LastSeen
	if lastSeen > room.HighestMessage {
		lastSeen = room.HighestMessage // §9 mandates clamping
	}
	return &GotoResult{
		Name:       room.Name,
		NewCount:   room.HighestMessage - lastSeen,
		Total:      room.HighestMessage,
		InfoNeeded: room.InfoMsgNum != 0,
		Flags:      room.Flags,
		Highest:    room.HighestMessage,
		LastSeen:   lastSeen,
		IsMailbox:  room.IsMailbox(),
		IsAide:     room.RoomAideID == userID,
		FloorID:    room.FloorID,
		CurView:    room.DefaultView,
		DefView:    room.DefaultView,
		LastWrite:  room.LastWrite,
	}, nil
}

// GetKnown reads the Room-Known row for (userID, roomID), defaulting to an
// unknown/un-zapped state if absent.
func (s *Store) GetKnown(ctx context.Context, userID UserID, roomID RoomID) (*KnownState, error) {
	conn := s.PoolRO.Get(ctx)
	defer s.PoolRO.Put(conn)
	stmt := conn.Prep(`SELECT Known, Zapped, LastSeen, SkipFlag FROM RoomKnown WHERE UserID=$uid AND RoomID=$rid;`)
	stmt.SetInt64("$uid", int64(userID))
	stmt.SetInt64("$rid", int64(roomID))
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Reset()
		return &KnownState{}, nil
	}
	k := &KnownState{
		Known:    stmt.GetInt64("Known") != 0,
		Zapped:   stmt.GetInt64("Zapped") != 0,
		LastSeen: stmt.GetInt64("LastSeen"),
		SkipFlag: stmt.GetInt64("SkipFlag") != 0,
	}
	return k, stmt.Reset()
}

// SLRP sets the caller's last-seen pointer, clamping to the room's
// highest message number per §9's mandated clamp (an explicit resolution
// of the spec's Open Question).
func (s *Store) SLRP(ctx context.Context, userID UserID, roomID RoomID, n int64) (int64, error) {
	room, err := s.roomByID(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if n > room.HighestMessage {
		n = room.HighestMessage
	}
	conn := s.PoolRW.Get(ctx)
	defer s.PoolRW.Put(conn)
	stmt := conn.Prep(`INSERT INTO RoomKnown (UserID, RoomID, Known, LastSeen) VALUES ($uid, $rid, 1, $n)
		ON CONFLICT(UserID, RoomID) DO UPDATE SET LastSeen = $n, Known = 1;`)
	stmt.SetInt64("$uid", int64(userID))
	stmt.SetInt64("$rid", int64(roomID))
	stmt.SetInt64("$n", n)
	_, err = stmt.Step()
	return n, err
}

func (s *Store) roomByID(ctx context.Context, id RoomID) (*Room, error) {
	conn := s.PoolRO.Get(ctx)
	defer s.PoolRO.Put(conn)
	stmt := conn.Prep(`SELECT RoomID, Name, Password, RoomAideID, HighestMessage, Generation,
		Flags, DirectoryName, InfoMsgNum, FloorID, LastWrite, ExpiryMode, ExpiryValue,
		SortOrder, DefaultView, Dead FROM Rooms WHERE RoomID = $id;`)
	stmt.SetInt64("$id", int64(id))
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Reset()
		return nil, ErrNotFound
	}
	r := scanRoom(stmt)
	return r, stmt.Reset()
}

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = fmt.Errorf("roommodel: not found")
