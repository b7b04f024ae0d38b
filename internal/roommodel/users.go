package roommodel

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CreateUser registers a new user with the given plaintext password,
// hashed with bcrypt (the teacher's go.mod already carries
// golang.org/x/crypto for this purpose).
func (s *Store) CreateUser(ctx context.Context, name, password string) (UserID, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("roommodel: hash password: %v", err)
	}
	conn := s.PoolRW.Get(ctx)
	defer s.PoolRW.Put(conn)
	stmt := conn.Prep(`INSERT INTO Users (Name, PasswordHash, AccessLevel, LastLogin) VALUES ($name, $hash, $level, $now);`)
	stmt.SetText("$name", name)
	stmt.SetText("$hash", string(hash))
	stmt.SetInt64("$level", int64(AccessNew))
	stmt.SetInt64("$now", time.Now().Unix())
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	return UserID(conn.LastInsertRowID()), nil
}

// GetUserByName is the first half of the USER/PASS two-step: it resolves
// the name (USER's "3xx" follow-on), and CheckPassword validates the
// subsequent PASS.
func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	conn := s.PoolRO.Get(ctx)
	defer s.PoolRO.Put(conn)
	stmt := conn.Prep(`SELECT UserID, Name, PasswordHash, AccessLevel, Flags, TimesCalled,
		MessagesPosted, LastLogin, PurgeDays FROM Users WHERE Name = $name;`)
	stmt.SetText("$name", name)
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Reset()
		return nil, ErrNotFound
	}
	u := &User{
		ID:             UserID(stmt.GetInt64("UserID")),
		Name:           stmt.GetText("Name"),
		PasswordHash:   stmt.GetText("PasswordHash"),
		AccessLevel:    AccessLevel(stmt.GetInt64("AccessLevel")),
		Flags:          int(stmt.GetInt64("Flags")),
		TimesCalled:    int(stmt.GetInt64("TimesCalled")),
		MessagesPosted: int(stmt.GetInt64("MessagesPosted")),
		LastLogin:      time.Unix(stmt.GetInt64("LastLogin"), 0),
		PurgeDays:      int(stmt.GetInt64("PurgeDays")),
	}
	return u, stmt.Reset()
}

// GetUserByID resolves a user by numeric id, with their Internet email
// addresses populated from UserAddresses in Seq order — the shape C8's
// evaluator needs to know which addresses are "known" to the mailbox
// owner (§4.8).
func (s *Store) GetUserByID(ctx context.Context, id UserID) (*User, error) {
	conn := s.PoolRO.Get(ctx)
	defer s.PoolRO.Put(conn)
	stmt := conn.Prep(`SELECT UserID, Name, PasswordHash, AccessLevel, Flags, TimesCalled,
		MessagesPosted, LastLogin, PurgeDays FROM Users WHERE UserID = $id;`)
	stmt.SetInt64("$id", int64(id))
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		stmt.Reset()
		return nil, ErrNotFound
	}
	u := &User{
		ID:             UserID(stmt.GetInt64("UserID")),
		Name:           stmt.GetText("Name"),
		PasswordHash:   stmt.GetText("PasswordHash"),
		AccessLevel:    AccessLevel(stmt.GetInt64("AccessLevel")),
		Flags:          int(stmt.GetInt64("Flags")),
		TimesCalled:    int(stmt.GetInt64("TimesCalled")),
		MessagesPosted: int(stmt.GetInt64("MessagesPosted")),
		LastLogin:      time.Unix(stmt.GetInt64("LastLogin"), 0),
		PurgeDays:      int(stmt.GetInt64("PurgeDays")),
	}
	if err := stmt.Reset(); err != nil {
		return nil, err
	}

	addrStmt := conn.Prep(`SELECT Address FROM UserAddresses WHERE UserID = $id ORDER BY Seq;`)
	addrStmt.SetInt64("$id", int64(id))
	for {
		hasRow, err := addrStmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		u.Addresses = append(u.Addresses, addrStmt.GetText("Address"))
	}
	return u, nil
}

// CheckPassword reports whether password matches the user's stored hash.
// A deleted account (AccessDeleted) never authenticates, matching the
// soft-delete lifecycle in §3.
func (u *User) CheckPassword(password string) bool {
	if u.AccessLevel == AccessDeleted {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// RecordLogin bumps TimesCalled and LastLogin on a successful PASS.
func (s *Store) RecordLogin(ctx context.Context, id UserID) error {
	conn := s.PoolRW.Get(ctx)
	defer s.PoolRW.Put(conn)
	stmt := conn.Prep(`UPDATE Users SET TimesCalled = TimesCalled + 1, LastLogin = $now WHERE UserID = $id;`)
	stmt.SetInt64("$now", time.Now().Unix())
	stmt.SetInt64("$id", int64(id))
	_, err := stmt.Step()
	return err
}

// SoftDelete sets AccessDeleted without physically removing the row,
// matching §3's "never physically removed until a purge sweep".
func (s *Store) SoftDelete(ctx context.Context, id UserID) error {
	conn := s.PoolRW.Get(ctx)
	defer s.PoolRW.Put(conn)
	stmt := conn.Prep(`UPDATE Users SET AccessLevel = $deleted WHERE UserID = $id;`)
	stmt.SetInt64("$deleted", int64(AccessDeleted))
	stmt.SetInt64("$id", int64(id))
	_, err := stmt.Step()
	return err
}
