package ctdlproto

import (
	"fmt"
	"io"
	"strings"
	"time"

	"citadel.dev/internal/roommodel"
	"citadel.dev/internal/wire"
)

// State is the session's position in the §4.6 state machine:
// UNAUTH -> (USER/PASS) -> AUTH -> (GOTO) -> IN-ROOM.
type State int

const (
	StateUnauth State = iota
	StateAuth
	StateInRoom
)

// StreamState is the orthogonal sub-state a session may be in while a
// single command's multi-line follow-on is in flight. Only one may be
// active at a time; per §4.6 issuing a command while another is active
// is a protocol violation.
type StreamState int

const (
	StreamNone StreamState = iota
	StreamListing
	StreamUploading
	StreamDownloading
	StreamTLSNegotiating
)

// Status is a three-digit reply code; its hundreds digit is the
// outcome class from §4.6's table.
type Status int

const (
	StatusOK              Status = 200
	StatusOKAsync         Status = 201
	StatusListing         Status = 100
	StatusMoreData        Status = 300
	StatusSendListing     Status = 800
	StatusTransientErr    Status = 400
	StatusPermanentErr    Status = 500
	StatusBinaryFollows   Status = 600
	StatusBinaryUnbounded Status = 700
)

// Session is one accepted connection: its buffered line I/O, its
// position in the state machine, and the identity/room context that
// position carries.
type Session struct {
	ID     string
	server *Server
	conn   *wire.Conn
	Logf   func(format string, v ...interface{})

	state  State
	stream StreamState

	userID   roommodel.UserID
	username string
	pendingUser string // set by USER, consumed by PASS

	room *roommodel.Room

	// preferredMIME is the renderable MIME type list declared by MSGP;
	// nil means the client never issued MSGP (render text/plain by default).
	preferredMIME []string

	lastActivity time.Time
	closed       bool
}

// rendersMIME reports whether the client declared (via MSGP) that it can
// render contentType inline. A client that never issued MSGP is assumed
// to want text/plain only, matching the default before any negotiation.
func (s *Session) rendersMIME(contentType string) bool {
	for _, t := range s.preferredMIME {
		if strings.EqualFold(strings.TrimSpace(t), contentType) {
			return true
		}
	}
	return false
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Close()
}

// reply writes one status line: "<code> <text>".
func (s *Session) reply(code Status, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return s.conn.WriteLine(fmt.Sprintf("%d %s", code, msg))
}

func (s *Session) replyFlush(code Status, format string, args ...interface{}) error {
	if err := s.reply(code, format, args...); err != nil {
		return err
	}
	return s.conn.Flush()
}

// serve runs the command loop until the connection closes or QUIT/DOWN
// ends the session, matching imapserver.Conn.serve's per-connection
// read-dispatch-reply cycle generalized to Citadel's line-at-a-time
// command shape instead of IMAP's tagged commands.
func (s *Session) serve() {
	defer s.closeLocked()

	if err := s.sendGreeting(); err != nil {
		return
	}

	for {
		if s.server.SessionTimeout > 0 {
			s.conn.NetConn.SetReadDeadline(time.Now().Add(s.server.SessionTimeout))
		}
		line, err := s.conn.ReadLine()
		if err != nil {
			if err != io.EOF {
				s.Logf("read error: %v", err)
			}
			return
		}
		s.lastActivity = time.Now()

		cmd, arg := splitCommand(line)
		if cmd == "" {
			continue
		}
		cmdUpper := strings.ToUpper(cmd)
		h, ok := commandTable[cmdUpper]
		if !ok {
			s.replyFlush(StatusPermanentErr, "Illegal command")
			continue
		}
		s.server.Metrics.CommandProcessed(cmdUpper)
		if err := h(s, arg); err != nil {
			if err == errQuit {
				return
			}
			s.Logf("command %s failed: %v", cmd, err)
			return
		}
		if err := s.conn.Flush(); err != nil {
			return
		}
	}
}

func splitCommand(line string) (cmd, arg string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], line[i+1:]
}

func (s *Session) sendGreeting() error {
	return s.replyFlush(StatusOK, "Citadel server ready (node %s)", s.server.NodeName)
}

var errQuit = fmt.Errorf("ctdlproto: session ended")
