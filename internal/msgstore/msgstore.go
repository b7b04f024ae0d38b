// Package msgstore implements the message store (C4): per-room ordered
// message numbers, EUID index, and the MSGS/MSG0/MSG2/MSG4/ENT0/DELE/MOVE/
// EUID operations from spec.md §4.4. It is grounded on the teacher's
// spillbox sqlite schema idiom and on webcit-ng's room_functions.c for the
// operations' observable semantics (get_msglist, json_stat).
package msgstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"citadel.dev/internal/ctdlmsg"
	"citadel.dev/internal/roommodel"
)

// Kind selects MSGS's listing mode.
type Kind int

const (
	KindAll Kind = iota
	KindOld
	KindNew
	KindLast
	KindFirst
	KindGreaterThan
	KindLessThan
	KindSearch
	_
	KindMailboxSummary
)

// Store persists messages, serializing each room's append path with a
// per-room lock (§5: "each room's append path is serialized by a per-room
// lock; reads use an ordered snapshot ... taken under the lock and then
// released").
type Store struct {
	pool *sqlitex.Pool

	mu        sync.Mutex
	roomLocks map[roommodel.RoomID]*sync.Mutex

	rooms *roommodel.Store
	Logf  func(format string, v ...interface{})
}

// Open creates (if needed) and opens the message database at dbfile.
func Open(dbfile string, poolSize int, rooms *roommodel.Store) (*Store, error) {
	base := sqlite.SQLITE_OPEN_SHAREDCACHE | sqlite.SQLITE_OPEN_WAL | sqlite.SQLITE_OPEN_URI
	pool, err := sqlitex.Open(dbfile, base|sqlite.SQLITE_OPEN_READWRITE|sqlite.SQLITE_OPEN_CREATE, poolSize)
	if err != nil {
		return nil, fmt.Errorf("msgstore: open: %v", err)
	}
	conn := pool.Get(context.Background())
	defer pool.Put(conn)
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("msgstore: init schema: %v", err)
	}
	return &Store{
		pool:      pool,
		roomLocks: make(map[roommodel.RoomID]*sync.Mutex),
		rooms:     rooms,
		Logf:      func(string, ...interface{}) {},
	}, nil
}

func (s *Store) Close() error { return s.pool.Close() }

func (s *Store) lockFor(roomID roommodel.RoomID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.roomLocks[roomID] = l
	}
	return l
}

// ErrNotFound is returned when a message or EUID lookup finds no row.
var ErrNotFound = fmt.Errorf("msgstore: not found")

// ErrPrecondition is returned by Move when no message with the given
// number exists. Move itself checks neither that the destination room
// exists nor that the caller may post there.
var ErrPrecondition = fmt.Errorf("msgstore: precondition failed")

// Enter implements ENT0: insert a new message into roomID. If the room is
// a mailbox room and msg carries an EUID matching a live message, the
// prior message is soft-deleted first (upsert), per §4.4 and §3. Wiki
// rooms instead keep every revision live and chain the new message's
// References field to the prior one's message number, so EUID lookups
// keep resolving to the newest revision (it has the highest MsgNum)
// while History can still walk the chain back.
func (s *Store) Enter(ctx context.Context, roomID roommodel.RoomID, isMailbox bool, msg *ctdlmsg.Message) (int64, error) {
	return s.enter(ctx, roomID, isMailbox, false, msg)
}

// EnterWiki implements ENT0 into a wiki-view room: same as Enter but
// preserves revision history instead of soft-deleting the prior EUID
// match, per §3's "revision/history semantics (wiki rooms)".
func (s *Store) EnterWiki(ctx context.Context, roomID roommodel.RoomID, msg *ctdlmsg.Message) (int64, error) {
	return s.enter(ctx, roomID, false, true, msg)
}

func (s *Store) enter(ctx context.Context, roomID roommodel.RoomID, isMailbox, isWiki bool, msg *ctdlmsg.Message) (int64, error) {
	lock := s.lockFor(roomID)
	lock.Lock()
	defer lock.Unlock()

	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(nil)

	euid, hasEUID := msg.EUID()
	if isMailbox && hasEUID {
		if prior, err := s.euidLocked(conn, roomID, euid); err == nil {
			if err := s.expungeLocked(conn, prior); err != nil {
				return 0, err
			}
		} else if err != ErrNotFound {
			return 0, err
		}
	}
	if isWiki && hasEUID {
		if prior, err := s.euidLocked(conn, roomID, euid); err == nil {
			if _, has := msg.Get(ctdlmsg.FieldReferences); !has {
				msg.Set(ctdlmsg.FieldReferences, strconv.FormatInt(prior, 10))
			}
		} else if err != ErrNotFound {
			return 0, err
		}
	}

	get := func(f ctdlmsg.Field) string { v, _ := msg.Get(f); return v }
	ts := msg.Fields[ctdlmsg.FieldTimestamp]
	tsVal := time.Now().Unix()
	if ts != "" {
		if v, err := strconv.ParseInt(ts, 10, 64); err == nil {
			tsVal = v
		}
	}

	stmt := conn.Prep(`INSERT INTO Msgs (RoomID, EUID, Author, FromAddr, Node, Subject, MessageID,
		References_, Timestamp, FormatType, HeadersAll, Body)
		VALUES ($roomID, $euid, $author, $from, $node, $subject, $msgid, $refs, $ts, $format, $headers, $body);`)
	stmt.SetInt64("$roomID", int64(roomID))
	if hasEUID {
		stmt.SetText("$euid", euid)
	} else {
		stmt.SetNull("$euid")
	}
	stmt.SetText("$author", get(ctdlmsg.FieldAuthor))
	stmt.SetText("$from", get(ctdlmsg.FieldRFC822From))
	stmt.SetText("$node", get(ctdlmsg.FieldNode))
	stmt.SetText("$subject", get(ctdlmsg.FieldSubject))
	stmt.SetText("$msgid", get(ctdlmsg.FieldMessageID))
	stmt.SetText("$refs", get(ctdlmsg.FieldReferences))
	stmt.SetInt64("$ts", tsVal)
	stmt.SetInt64("$format", 1)
	stmt.SetText("$headers", "")
	stmt.SetBytes("$body", msg.Flat)
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	msgNum := conn.LastInsertRowID()

	fts := conn.Prep(`INSERT INTO MsgSearch (rowid, Subject, Body) VALUES ($id, $subject, $body);`)
	fts.SetInt64("$id", msgNum)
	fts.SetText("$subject", get(ctdlmsg.FieldSubject))
	fts.SetText("$body", string(msg.Flat))
	if _, err := fts.Step(); err != nil {
		return 0, err
	}

	if s.rooms != nil {
		if err := s.rooms.TouchRoom(ctx, roomID, msgNum); err != nil {
			return 0, err
		}
	}
	return msgNum, nil
}

// euidLocked resolves euid within roomID to its newest live message
// number. Wiki rooms keep multiple live rows sharing one EUID (each a
// revision); ORDER BY MsgNum DESC ensures EUID always addresses the
// latest revision, matching §3's wiki history semantics.
func (s *Store) euidLocked(conn *sqlite.Conn, roomID roommodel.RoomID, euid string) (int64, error) {
	stmt := conn.Prep(`SELECT MsgNum FROM Msgs WHERE RoomID = $roomID AND EUID = $euid AND Expunged = 0
		ORDER BY MsgNum DESC LIMIT 1;`)
	stmt.SetInt64("$roomID", int64(roomID))
	stmt.SetText("$euid", euid)
	hasRow, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	if !hasRow {
		stmt.Reset()
		return 0, ErrNotFound
	}
	n := stmt.GetInt64("MsgNum")
	return n, stmt.Reset()
}

func (s *Store) expungeLocked(conn *sqlite.Conn, msgNum int64) error {
	stmt := conn.Prep(`UPDATE Msgs SET Expunged = 1 WHERE MsgNum = $n;`)
	stmt.SetInt64("$n", msgNum)
	_, err := stmt.Step()
	return err
}

// EUID implements the EUID command: resolve an external id to a message
// number in roomID. A ".ics" suffix is retried stripped, preserving the
// original's ad-hoc client accommodation verbatim per §9's Open Question.
func (s *Store) EUID(ctx context.Context, roomID roommodel.RoomID, euid string) (int64, error) {
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	n, err := s.euidLocked(conn, roomID, euid)
	if err == ErrNotFound && strings.HasSuffix(euid, ".ics") {
		return s.euidLocked(conn, roomID, strings.TrimSuffix(euid, ".ics"))
	}
	return n, err
}

// MSGS implements the MSGS listing operation, streaming message numbers
// (or, for KindMailboxSummary, full summary lines) via emit, ascending.
func (s *Store) MSGS(ctx context.Context, roomID roommodel.RoomID, kind Kind, arg string, lastSeen int64, emit func(line string) error) error {
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)

	var query string
	switch kind {
	case KindAll:
		query = `SELECT MsgNum FROM Msgs WHERE RoomID=$r AND Expunged=0 ORDER BY MsgNum;`
	case KindOld:
		query = `SELECT MsgNum FROM Msgs WHERE RoomID=$r AND Expunged=0 AND MsgNum<=$arg ORDER BY MsgNum;`
	case KindNew:
		query = `SELECT MsgNum FROM Msgs WHERE RoomID=$r AND Expunged=0 AND MsgNum>$arg ORDER BY MsgNum;`
	case KindGreaterThan:
		query = `SELECT MsgNum FROM Msgs WHERE RoomID=$r AND Expunged=0 AND MsgNum>$arg ORDER BY MsgNum;`
	case KindLessThan:
		query = `SELECT MsgNum FROM Msgs WHERE RoomID=$r AND Expunged=0 AND MsgNum<$arg ORDER BY MsgNum;`
	case KindLast:
		query = `SELECT MsgNum FROM (SELECT MsgNum FROM Msgs WHERE RoomID=$r AND Expunged=0 ORDER BY MsgNum DESC LIMIT $n) ORDER BY MsgNum;`
	case KindFirst:
		query = `SELECT MsgNum FROM Msgs WHERE RoomID=$r AND Expunged=0 ORDER BY MsgNum LIMIT $n;`
	case KindSearch:
		return s.searchMSGS(ctx, conn, roomID, arg, emit)
	case KindMailboxSummary:
		return s.summaryMSGS(ctx, conn, roomID, emit)
	default:
		query = `SELECT MsgNum FROM Msgs WHERE RoomID=$r AND Expunged=0 ORDER BY MsgNum;`
	}

	stmt := conn.Prep(query)
	stmt.SetInt64("$r", int64(roomID))
	if strings.Contains(query, "$arg") {
		if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
			stmt.SetInt64("$arg", n)
		} else {
			stmt.SetInt64("$arg", lastSeen)
		}
	}
	if strings.Contains(query, "$n") {
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			n = 1
		}
		stmt.SetInt64("$n", n)
	}
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			return nil
		}
		if err := emit(strconv.FormatInt(stmt.GetInt64("MsgNum"), 10)); err != nil {
			return err
		}
	}
}

// searchMSGS implements MSGS's search kind: a case-insensitive substring
// match over subject/body via the FTS5 index, limited to non-expunged
// messages ("visible messages" per §4.4).
func (s *Store) searchMSGS(ctx context.Context, conn *sqlite.Conn, roomID roommodel.RoomID, needle string, emit func(line string) error) error {
	stmt := conn.Prep(`SELECT m.MsgNum FROM Msgs m JOIN MsgSearch fts ON fts.rowid = m.MsgNum
		WHERE m.RoomID = $r AND m.Expunged = 0 AND MsgSearch MATCH $needle ORDER BY m.MsgNum;`)
	stmt.SetInt64("$r", int64(roomID))
	stmt.SetText("$needle", needle)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			return nil
		}
		if err := emit(strconv.FormatInt(stmt.GetInt64("MsgNum"), 10)); err != nil {
			return err
		}
	}
}

// summaryMSGS implements MSGS kind=9: each line is
// "msgnum|time|author|node|rfca|subject|msgid-hash|references".
func (s *Store) summaryMSGS(ctx context.Context, conn *sqlite.Conn, roomID roommodel.RoomID, emit func(line string) error) error {
	stmt := conn.Prep(`SELECT MsgNum, Timestamp, Author, Node, FromAddr, Subject, MessageID, References_
		FROM Msgs WHERE RoomID = $r AND Expunged = 0 ORDER BY MsgNum;`)
	stmt.SetInt64("$r", int64(roomID))
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			return nil
		}
		line := strings.Join([]string{
			strconv.FormatInt(stmt.GetInt64("MsgNum"), 10),
			strconv.FormatInt(stmt.GetInt64("Timestamp"), 10),
			stmt.GetText("Author"),
			stmt.GetText("Node"),
			stmt.GetText("FromAddr"),
			stmt.GetText("Subject"),
			stmt.GetText("MessageID"),
			stmt.GetText("References_"),
		}, "|")
		if err := emit(line); err != nil {
			return err
		}
	}
}

// Fetch implements MSG0/MSG2: retrieve a message's fields and body.
// headersOnly corresponds to mode=1.
func (s *Store) Fetch(ctx context.Context, msgNum int64, headersOnly bool) (*ctdlmsg.Message, error) {
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT EUID, Author, FromAddr, Node, Subject, MessageID, References_, Timestamp, Body
		FROM Msgs WHERE MsgNum = $n AND Expunged = 0;`)
	stmt.SetInt64("$n", msgNum)
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Reset()
		return nil, ErrNotFound
	}
	m := ctdlmsg.New()
	m.MsgNum = msgNum
	if euid := stmt.GetText("EUID"); euid != "" {
		m.Set(ctdlmsg.FieldEUID, euid)
	}
	m.Set(ctdlmsg.FieldAuthor, stmt.GetText("Author"))
	m.Set(ctdlmsg.FieldRFC822From, stmt.GetText("FromAddr"))
	m.Set(ctdlmsg.FieldNode, stmt.GetText("Node"))
	m.Set(ctdlmsg.FieldSubject, stmt.GetText("Subject"))
	m.Set(ctdlmsg.FieldMessageID, stmt.GetText("MessageID"))
	m.Set(ctdlmsg.FieldReferences, stmt.GetText("References_"))
	m.Set(ctdlmsg.FieldTimestamp, strconv.FormatInt(stmt.GetInt64("Timestamp"), 10))
	if !headersOnly {
		body := make([]byte, stmt.GetLen("Body"))
		stmt.GetBytes("Body", body)
		m.Flat = body
	}
	return m, stmt.Reset()
}

// History implements a wiki room's revision listing: every live message
// number sharing euid in roomID, newest first, walking the References
// chain EnterWiki built.
func (s *Store) History(ctx context.Context, roomID roommodel.RoomID, euid string) ([]int64, error) {
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	stmt := conn.Prep(`SELECT MsgNum FROM Msgs WHERE RoomID = $r AND EUID = $euid AND Expunged = 0 ORDER BY MsgNum DESC;`)
	stmt.SetInt64("$r", int64(roomID))
	stmt.SetText("$euid", euid)
	var nums []int64
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			return nums, nil
		}
		nums = append(nums, stmt.GetInt64("MsgNum"))
	}
}

// Delete implements DELE, soft-deleting a message (Expunged=1). The
// caller is responsible for the permission check in §4.4's "Permissioning"
// paragraph (room aide, mailbox owner, or collaborative-delete flag).
func (s *Store) Delete(ctx context.Context, roomID roommodel.RoomID, msgNum int64) error {
	lock := s.lockFor(roomID)
	lock.Lock()
	defer lock.Unlock()

	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	stmt := conn.Prep(`UPDATE Msgs SET Expunged = 1 WHERE MsgNum = $n AND RoomID = $r;`)
	stmt.SetInt64("$n", msgNum)
	stmt.SetInt64("$r", int64(roomID))
	_, err := stmt.Step()
	return err
}

// ExpungeRoom soft-deletes every live message in roomID, the message-side
// half of KILL: the messages are soft-deleted first, and the room record
// is then marked Dead by roommodel's KillRoom (the row is kept).
func (s *Store) ExpungeRoom(ctx context.Context, roomID roommodel.RoomID) error {
	lock := s.lockFor(roomID)
	lock.Lock()
	defer lock.Unlock()

	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	stmt := conn.Prep(`UPDATE Msgs SET Expunged = 1 WHERE RoomID = $r AND Expunged = 0;`)
	stmt.SetInt64("$r", int64(roomID))
	_, err := stmt.Step()
	return err
}

// Move implements MOVE: relocate (or, if copy is true, duplicate) a
// message into targetRoomID. A moved message keeps its number; a copied
// message is assigned a fresh number and no EUID unless the caller
// re-supplies one, matching §4.4's invariants.
func (s *Store) Move(ctx context.Context, msgNum int64, targetRoomID roommodel.RoomID, copy bool) (int64, error) {
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(nil)

	check := conn.Prep(`SELECT count(*) FROM Msgs WHERE MsgNum = $n;`)
	check.SetInt64("$n", msgNum)
	hasRow, err := check.Step()
	if err != nil {
		return 0, err
	}
	exists := hasRow && check.ColumnInt(0) > 0
	check.Reset()
	if !exists {
		return 0, ErrPrecondition
	}

	if !copy {
		stmt := conn.Prep(`UPDATE Msgs SET RoomID = $r WHERE MsgNum = $n;`)
		stmt.SetInt64("$r", int64(targetRoomID))
		stmt.SetInt64("$n", msgNum)
		if _, err := stmt.Step(); err != nil {
			return 0, err
		}
		if s.rooms != nil {
			s.rooms.TouchRoom(ctx, targetRoomID, msgNum)
		}
		return msgNum, nil
	}

	stmt := conn.Prep(`INSERT INTO Msgs (RoomID, Author, FromAddr, Node, Subject, MessageID,
		References_, Timestamp, FormatType, HeadersAll, Body)
		SELECT $r, Author, FromAddr, Node, Subject, MessageID, References_, Timestamp, FormatType, HeadersAll, Body
		FROM Msgs WHERE MsgNum = $n;`)
	stmt.SetInt64("$r", int64(targetRoomID))
	stmt.SetInt64("$n", msgNum)
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	newNum := conn.LastInsertRowID()
	if s.rooms != nil {
		s.rooms.TouchRoom(ctx, targetRoomID, newNum)
	}
	return newNum, nil
}
