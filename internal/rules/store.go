package rules

import (
	"context"
	"fmt"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"citadel.dev/internal/roommodel"
)

const createSQL = `
CREATE TABLE IF NOT EXISTS UserRules (
	UserID INTEGER PRIMARY KEY,
	Payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS VacationLog (
	UserID   INTEGER NOT NULL,
	Sender   TEXT NOT NULL,
	LastSent INTEGER NOT NULL,
	PRIMARY KEY (UserID, Sender)
);
`

// Store persists each user's rule set as their GIBR/PIBR payload, one row
// per user keyed by user id.
type Store struct {
	pool *sqlitex.Pool
}

// Open creates (if needed) and opens the rules database at dbfile.
func Open(dbfile string, poolSize int) (*Store, error) {
	base := sqlite.SQLITE_OPEN_SHAREDCACHE | sqlite.SQLITE_OPEN_WAL | sqlite.SQLITE_OPEN_URI
	pool, err := sqlitex.Open(dbfile, base|sqlite.SQLITE_OPEN_READWRITE|sqlite.SQLITE_OPEN_CREATE, poolSize)
	if err != nil {
		return nil, fmt.Errorf("rules: open: %v", err)
	}
	conn := pool.Get(context.Background())
	defer pool.Put(conn)
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rules: init schema: %v", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error { return s.pool.Close() }

// Load returns the user's rule set, or an empty set if none is stored.
func (s *Store) Load(ctx context.Context, userID roommodel.UserID) ([]Rule, error) {
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	stmt := conn.Prep(`SELECT Payload FROM UserRules WHERE UserID = $uid;`)
	stmt.SetInt64("$uid", int64(userID))
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Reset()
		return nil, nil
	}
	payload := stmt.GetText("Payload")
	if err := stmt.Reset(); err != nil {
		return nil, err
	}
	if payload == "" {
		return nil, nil
	}
	return DecodeAll(strings.Split(payload, "\n"))
}

// Save replaces the user's stored rule set with rs.
func (s *Store) Save(ctx context.Context, userID roommodel.UserID, rs []Rule) error {
	payload := strings.Join(EncodeAll(rs), "\n")
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	stmt := conn.Prep(`INSERT INTO UserRules (UserID, Payload) VALUES ($uid, $payload)
		ON CONFLICT(UserID) DO UPDATE SET Payload = $payload;`)
	stmt.SetInt64("$uid", int64(userID))
	stmt.SetText("$payload", payload)
	_, err := stmt.Step()
	return err
}

// LoadVacationState returns userID's persisted per-sender vacation-reply
// history, used to enforce §4.8's "at most once per unique sender per N
// days" before Evaluate fires a vacation disposition.
func (s *Store) LoadVacationState(ctx context.Context, userID roommodel.UserID) (*VacationState, error) {
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	stmt := conn.Prep(`SELECT Sender, LastSent FROM VacationLog WHERE UserID = $uid;`)
	stmt.SetInt64("$uid", int64(userID))
	v := &VacationState{LastSent: make(map[string]int64)}
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			return v, nil
		}
		v.LastSent[stmt.GetText("Sender")] = stmt.GetInt64("LastSent")
	}
}

// RecordVacationSent persists that a vacation reply was sent to sender on
// userID's behalf at sentAt (unix seconds), so the dedup window survives
// process restarts.
func (s *Store) RecordVacationSent(ctx context.Context, userID roommodel.UserID, sender string, sentAt int64) error {
	conn := s.pool.Get(ctx)
	defer s.pool.Put(conn)
	stmt := conn.Prep(`INSERT INTO VacationLog (UserID, Sender, LastSent) VALUES ($uid, $sender, $t)
		ON CONFLICT(UserID, Sender) DO UPDATE SET LastSent = $t;`)
	stmt.SetInt64("$uid", int64(userID))
	stmt.SetText("$sender", sender)
	stmt.SetInt64("$t", sentAt)
	_, err := stmt.Step()
	return err
}
