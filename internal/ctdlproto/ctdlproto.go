// Package ctdlproto implements the line protocol engine (C6): the
// request/response dispatcher and session state machine described in
// §4.6, grounded on imap/imapserver's accept loop, bounded connection
// set, and per-connection bufio handling, generalized from IMAP's
// tagged-command shape to Citadel's status-class reply shape.
package ctdlproto

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base32"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"crawshaw.io/iox"
	"golang.org/x/sync/semaphore"

	"citadel.dev/internal/metrics"
	"citadel.dev/internal/msgstore"
	"citadel.dev/internal/roommodel"
	"citadel.dev/internal/rules"
	"citadel.dev/internal/wire"
)

var ErrServerClosed = errors.New("ctdlproto: server closed")

// Server holds everything an accepted connection needs to dispatch
// commands: the room/message stores, a buffer filer for attachment
// staging, and the bounded connection set, the same shape as
// imapserver.Server.
type Server struct {
	NodeName  string
	MaxConns  int
	TLSConfig *tls.Config
	Filer     *iox.Filer
	Logf      func(format string, v ...interface{})

	Rooms *roommodel.Store
	Msgs  *msgstore.Store
	Rules RulesStore

	// ConfVals backs the CONF command: the fixed enumerated key set from
	// §6 ("default_header_charset", "EnableSplice", "ZLibCompressionRatio",
	// "HTTP_PORT", "HTTPS_PORT", ...).
	ConfVals map[string]string

	Metrics metrics.Collector

	Throttle *Throttle

	SessionTimeout time.Duration // default SLEEPING=180s per §4.6

	ln net.Listener

	shutdown         chan struct{}
	shutdownCtx      context.Context
	shutdownComplete chan struct{}

	// sem bounds concurrent sessions at MaxConns, acquired by the accept
	// loop before spawning serveConn and released when the session ends
	// — the generalization of imapserver.ServeTLS's connsCond-gated wait
	// to a weighted semaphore.
	sem *semaphore.Weighted

	connsMu sync.Mutex
	conns   map[*Session]struct{}
}

// RulesStore persists and retrieves a user's rule set, backing the
// GIBR/PIBR commands (C8's evaluator operates on the in-memory
// []rules.Rule this returns/accepts), plus the vacation-action dedup
// state consulted on every inbound delivery (§4.8).
type RulesStore interface {
	Load(ctx context.Context, userID roommodel.UserID) ([]rules.Rule, error)
	Save(ctx context.Context, userID roommodel.UserID, rs []rules.Rule) error
	LoadVacationState(ctx context.Context, userID roommodel.UserID) (*rules.VacationState, error)
	RecordVacationSent(ctx context.Context, userID roommodel.UserID, sender string, sentAt int64) error
}

// Serve runs the accept loop on ln until Shutdown is called, following
// imapserver.ServeTLS's temporary-error backoff and bounded-connection
// wait.
func (s *Server) Serve(ln net.Listener) error {
	if s.MaxConns == 0 {
		s.MaxConns = 1 << 12
	}
	if s.SessionTimeout == 0 {
		s.SessionTimeout = 180 * time.Second
	}
	if s.Metrics == nil {
		s.Metrics = metrics.Noop{}
	}

	s.sem = semaphore.NewWeighted(int64(s.MaxConns))
	s.connsMu.Lock()
	s.conns = make(map[*Session]struct{})
	s.connsMu.Unlock()

	s.shutdown = make(chan struct{})
	s.shutdownComplete = make(chan struct{})
	s.ln = ln
	defer func() {
		ln.Close()
		close(s.shutdownComplete)
	}()

	var tempDelay time.Duration

acceptLoop:
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				break acceptLoop
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				}
				tempDelay *= 2
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.Logf("ctdlproto: accept: %v", err)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			conn.Close()
			continue
		}
		go s.serveConn(conn)
	}

	for {
		select {
		case <-s.shutdownCtx.Done():
			s.connsMu.Lock()
			for c := range s.conns {
				c.closeLocked()
			}
			s.connsMu.Unlock()
			return ErrServerClosed
		default:
			s.connsMu.Lock()
			n := len(s.conns)
			s.connsMu.Unlock()
			if n == 0 {
				return ErrServerClosed
			}
			select {
			case <-s.shutdownCtx.Done():
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

// Shutdown stops the accept loop and waits for in-flight sessions to
// finish their current command.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownCtx = ctx
	close(s.shutdown)
	s.ln.Close()
	<-s.shutdownComplete
	return nil
}

func (s *Server) genSessionID() string {
	b := make([]byte, 10)
	io.ReadFull(rand.Reader, b)
	return base32.StdEncoding.EncodeToString(b)
}

func (s *Server) serveConn(netConn net.Conn) {
	sessID := s.genSessionID()
	sess := &Session{
		ID:     sessID,
		server: s,
		conn:   wire.NewConn(netConn),
		state:  StateUnauth,
		Logf: func(format string, v ...interface{}) {
			s.Logf("session("+sessID+"): "+format, v...)
		},
	}

	s.connsMu.Lock()
	s.conns[sess] = struct{}{}
	s.connsMu.Unlock()

	s.Metrics.SessionOpened()
	sess.serve()
	s.Metrics.SessionClosed()

	s.connsMu.Lock()
	delete(s.conns, sess)
	s.connsMu.Unlock()
	s.sem.Release(1)
}
