// Package sessionpool implements the session pool (C7): it adapts
// stateless HTTP requests to the stateful line protocol without opening
// one connection per request, grounded directly on
// webcit-ng/server/ctdlclient.c's connect_to_citadel/login_to_citadel/
// disconnect_from_citadel.
package sessionpool

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Record is one pooled connection to the line protocol server, the Go
// shape of struct ctdlsession from ctdlclient.c.
type Record struct {
	bound              bool
	conn               net.Conn
	br                 *bufio.Reader
	bw                 *bufio.Writer
	auth               string // base64 "user:password", "" for anonymous
	whoami             string
	currentRoom        string
	lastAccess         time.Time
	numRequestsHandled int
	roomMtime          int64
}

// Pool is the process-wide list of Records, guarded by a single mutex
// exactly as cpool_mutex guards the C linked list.
type Pool struct {
	SocketPath string
	DialFunc   func() (net.Conn, error) // overridable for tests; defaults to dialing SocketPath

	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	records []*Record
}

// New creates a pool that dials the Citadel UDS socket at socketPath,
// wrapped in a circuit breaker so a dead or overloaded backend fails
// fast instead of hanging every HTTP request behind it.
func New(socketPath string) *Pool {
	p := &Pool{SocketPath: socketPath}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sessionpool",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return p
}

func (p *Pool) dial() (net.Conn, error) {
	if p.DialFunc != nil {
		return p.DialFunc()
	}
	return net.Dial("unix", p.SocketPath)
}

// Acquire implements the acquire algorithm from §4.7: scan under the
// single mutex for the first unbound record whose auth matches, else
// allocate a new one; then verify (or establish) liveness outside the
// mutex, since a round-trip to the backend must not block every other
// HTTP request.
func (p *Pool) Acquire(ctx context.Context, auth string) (*Record, error) {
	p.mu.Lock()
	var rec *Record
	for _, r := range p.records {
		if !r.bound && r.auth == auth {
			rec = r
			break
		}
	}
	isNew := false
	if rec == nil {
		rec = &Record{auth: auth}
		p.records = append(p.records, rec)
		isNew = true
	}
	rec.bound = true
	p.mu.Unlock()

	if !isNew && rec.conn != nil {
		if !p.probeLive(rec) {
			rec.conn.Close()
			rec.conn = nil
		}
	}

	if rec.conn == nil {
		if _, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.connect(rec)
		}); err != nil {
			p.Release(rec)
			return nil, fmt.Errorf("sessionpool: connect: %w", err)
		}
	}

	rec.bw.WriteString("NOOP\n")
	rec.bw.Flush()
	rec.br.ReadString('\n')
	rec.lastAccess = time.Now()
	rec.numRequestsHandled++
	return rec, nil
}

// probeLive sends NOOP and reads one line; failure of either means the
// connection is dead and must be redialed, per §4.7's liveness rule.
func (p *Pool) probeLive(rec *Record) bool {
	rec.conn.SetDeadline(time.Now().Add(2 * time.Second))
	defer rec.conn.SetDeadline(time.Time{})
	if _, err := rec.bw.WriteString("NOOP\n"); err != nil {
		return false
	}
	if err := rec.bw.Flush(); err != nil {
		return false
	}
	if _, err := rec.br.ReadString('\n'); err != nil {
		return false
	}
	return true
}

// connect dials the UDS socket, consumes the greeting, and logs in if
// rec.auth is non-empty, re-encoding auth to the canonical whoami form
// on success exactly as login_to_citadel does.
func (p *Pool) connect(rec *Record) error {
	conn, err := p.dial()
	if err != nil {
		return err
	}
	rec.conn = conn
	rec.br = bufio.NewReader(conn)
	rec.bw = bufio.NewWriter(conn)
	rec.currentRoom = ""

	if _, err := rec.br.ReadString('\n'); err != nil { // greeting
		return err
	}

	if rec.auth == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(rec.auth)
	if err != nil {
		return fmt.Errorf("sessionpool: malformed auth")
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("sessionpool: malformed auth")
	}
	username, password := parts[0], parts[1]

	fmt.Fprintf(rec.bw, "USER %s\n", username)
	rec.bw.Flush()
	line, err := rec.br.ReadString('\n')
	if err != nil {
		return err
	}
	if len(line) == 0 || line[0] != '3' {
		return fmt.Errorf("sessionpool: no such user")
	}

	fmt.Fprintf(rec.bw, "PASS %s\n", password)
	rec.bw.Flush()
	line, err = rec.br.ReadString('\n')
	if err != nil {
		return err
	}
	if len(line) == 0 || line[0] != '2' {
		return fmt.Errorf("sessionpool: login failed")
	}
	fields := strings.SplitN(strings.TrimSpace(line[4:]), "|", 2)
	rec.whoami = fields[0]

	newAuth := rec.whoami + ":" + password
	rec.auth = base64.StdEncoding.EncodeToString([]byte(newAuth))
	return nil
}

// Release clears bound, making rec eligible for reuse by a matching
// request. The HTTP layer's request timeout may call this best-effort
// without waiting for an in-flight server reply, per §4.7's cancellation
// note.
func (p *Pool) Release(rec *Record) {
	p.mu.Lock()
	rec.bound = false
	p.mu.Unlock()
}

// Goto switches rec's current room, tracking it so callers can skip a
// redundant GOTO when the HTTP request targets the same room.
func (p *Pool) Goto(rec *Record, room string) error {
	fmt.Fprintf(rec.bw, "GOTO %s\n", room)
	if err := rec.bw.Flush(); err != nil {
		return err
	}
	line, err := rec.br.ReadString('\n')
	if err != nil {
		return err
	}
	if len(line) == 0 || line[0] != '2' {
		return fmt.Errorf("sessionpool: no such room")
	}
	rec.currentRoom = room
	return nil
}

// CurrentRoom reports rec's last-GOTO room, empty if none yet.
func (rec *Record) CurrentRoom() string { return rec.currentRoom }

// Writer and Reader expose the buffered line protocol I/O so gateway
// handlers can issue arbitrary commands through an acquired record.
func (rec *Record) Writer() *bufio.Writer { return rec.bw }
func (rec *Record) Reader() *bufio.Reader { return rec.br }
