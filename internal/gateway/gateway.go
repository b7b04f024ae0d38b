// Package gateway implements the HTTP/REST surface (C10, a supplement
// grounded in the original's webcit-ng/server/http.c and
// room_functions.c): stateless HTTP requests translated into line
// protocol commands over a pooled connection (C7).
package gateway

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"citadel.dev/internal/htmlsafe"
	"citadel.dev/internal/sessionpool"
)

// Gateway wires chi routes to the session pool.
type Gateway struct {
	Pool *sessionpool.Pool
}

// NewRouter builds the chi router for the /ctdl/ prefix described in §6.
func (g *Gateway) NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(noCacheMiddleware)
	r.Route("/ctdl/r", func(r chi.Router) {
		r.Get("/", g.listRooms)
		r.Get("/{room}", g.roomStatus)
		r.Method("OPTIONS", "/{room}", http.HandlerFunc(g.roomOptions))
		r.Method("PROPFIND", "/{room}", http.HandlerFunc(g.propfind))
		r.Method("REPORT", "/{room}", http.HandlerFunc(g.report))
		r.Get("/{room}/msgs.{filter}", g.msgsFilter)
		r.Get("/{room}/mailbox", g.mailbox)
		r.Get("/{room}/slrp", g.slrp)
		r.Get("/{room}/{msgnum}/json", g.getObjectJSON)
		r.Get("/{room}/{object}", g.getObject)
		r.Put("/{room}/{object}", g.putObject)
		r.Delete("/{room}/{object}", g.deleteObject)
		r.Method("MOVE", "/{room}/{object}", http.HandlerFunc(g.moveOrCopyObject(false)))
		r.Method("COPY", "/{room}/{object}", http.HandlerFunc(g.moveOrCopyObject(true)))
	})
	return r
}

func noCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		next.ServeHTTP(w, r)
	})
}

// authFromRequest implements extract_auth from ctdlclient.c: HTTP Basic
// takes priority, then the wcauth cookie.
func authFromRequest(r *http.Request) string {
	if user, pass, ok := r.BasicAuth(); ok {
		return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	}
	if c, err := r.Cookie("wcauth"); err == nil {
		return c.Value
	}
	return ""
}

// setAuthCookie refreshes the wcauth cookie on any authenticated
// response, per §6: "Set-Cookie: wcauth=…; Path=/ctdl/; Expires=<+30d>".
func setAuthCookie(w http.ResponseWriter, auth string) {
	http.SetCookie(w, &http.Cookie{
		Name:    "wcauth",
		Value:   auth,
		Path:    "/ctdl/",
		Expires: time.Now().Add(30 * 24 * time.Hour),
	})
}

func (g *Gateway) acquire(w http.ResponseWriter, r *http.Request) (*sessionpool.Record, bool) {
	auth := authFromRequest(r)
	rec, err := g.Pool.Acquire(r.Context(), auth)
	if err != nil {
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return nil, false
	}
	if auth != "" {
		setAuthCookie(w, auth)
	}
	return rec, true
}

// gotoRoom issues GOTO unless rec is already sitting in room, matching
// webcit's per-record current_room tracking to skip redundant GOTOs.
func gotoRoom(g *Gateway, rec *sessionpool.Record, room string) error {
	if rec.CurrentRoom() == room {
		return nil
	}
	return g.Pool.Goto(rec, room)
}

func (g *Gateway) listRooms(w http.ResponseWriter, r *http.Request) {
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)

	fmt.Fprintf(rec.Writer(), "LKRA\n")
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '1' {
		http.Error(w, "LKRA failed", http.StatusBadGateway)
		return
	}
	var rooms []string
	for {
		line, err := rec.Reader().ReadString('\n')
		if err != nil {
			http.Error(w, "backend error", http.StatusBadGateway)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "000" {
			break
		}
		rooms = append(rooms, strings.SplitN(line, "|", 2)[0])
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSONArray(w, rooms)
}

func (g *Gateway) roomStatus(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)

	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"room":%q}`, room)
}

func (g *Gateway) roomOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, PUT, DELETE, MOVE, COPY, OPTIONS, PROPFIND, REPORT")
	w.Header().Set("DAV", "1, calendar-access, addressbook")
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) propfind(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(207) // Multi-Status
	fmt.Fprintf(w, `<?xml version="1.0"?><D:multistatus xmlns:D="DAV:"><D:response><D:href>/ctdl/r/%s</D:href></D:response></D:multistatus>`, room)
}

// report implements REPORT for calendar rooms: a multistatus body that
// enumerates every message in the room as one D:response whose href is
// /ctdl/r/<room>/<msgnum>.ics and whose getetag is the msgnum. The href is
// built from the message number; the message's EUID is not used, and no
// D:response for the room itself is emitted.
func (g *Gateway) report(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}

	fmt.Fprintf(rec.Writer(), "MSGS ALL||9\n")
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '1' {
		http.Error(w, "MSGS failed", http.StatusBadGateway)
		return
	}
	var responses strings.Builder
	for {
		line, err := rec.Reader().ReadString('\n')
		if err != nil {
			http.Error(w, "backend error", http.StatusBadGateway)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "000" {
			break
		}
		fields := strings.Split(line, "|")
		msgnum := fields[0]
		fmt.Fprintf(&responses, `<D:response><D:href>/ctdl/r/%s/%s.ics</D:href><D:propstat><D:prop><D:getetag>%s</D:getetag></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>`,
			room, msgnum, msgnum)
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(207)
	fmt.Fprintf(w, `<?xml version="1.0"?><D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">%s</D:multistatus>`, responses.String())
}

// getObjectJSON implements "GET /ctdl/r/<room>/<msgnum>/json": the
// server-rendered JSON view of one message.
func (g *Gateway) getObjectJSON(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	msgnumStr := chi.URLParam(r, "msgnum")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	msgNum, err := resolveObject(g, rec, msgnumStr)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	fmt.Fprintf(rec.Writer(), "MSG0 %d|3\n", msgNum)
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '1' {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	fields := map[string]string{}
	var body strings.Builder
	pastText := false
	for {
		line, err := rec.Reader().ReadString('\n')
		if err != nil {
			http.Error(w, "backend error", http.StatusBadGateway)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "000" {
			break
		}
		if !pastText {
			if line == "text" {
				pastText = true
				continue
			}
			if k, v, ok := strings.Cut(line, "="); ok {
				fields[k] = v
			}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	bodyText := body.String()
	if htmlsafe.LooksLikeHTML(bodyText) {
		bodyText = htmlsafe.StripTags(bodyText)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"msgnum":%d,"subject":%q,"author":%q,"body":%q}`,
		msgNum, fields["U"], fields["A"], bodyText)
}

func (g *Gateway) msgsFilter(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	filter := chi.URLParam(r, "filter")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}

	kind := strings.ToUpper(filter)
	fmt.Fprintf(rec.Writer(), "MSGS %s\n", kind)
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '1' {
		http.Error(w, "MSGS failed", http.StatusBadGateway)
		return
	}
	var nums []string
	for {
		line, err := rec.Reader().ReadString('\n')
		if err != nil {
			http.Error(w, "backend error", http.StatusBadGateway)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "000" {
			break
		}
		nums = append(nums, line)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSONArray(w, nums)
}

func (g *Gateway) mailbox(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	fmt.Fprintf(rec.Writer(), "MSGS ALL||9\n")
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '1' {
		http.Error(w, "MSGS failed", http.StatusBadGateway)
		return
	}
	var lines []string
	for {
		line, err := rec.Reader().ReadString('\n')
		if err != nil {
			http.Error(w, "backend error", http.StatusBadGateway)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "000" {
			break
		}
		lines = append(lines, line)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSONArray(w, lines)
}

func (g *Gateway) slrp(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	last := r.URL.Query().Get("last")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	fmt.Fprintf(rec.Writer(), "SLRP %s\n", last)
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '2' {
		http.Error(w, "SLRP failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) getObject(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	object := chi.URLParam(r, "object")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}

	msgNum, err := resolveObject(g, rec, object)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	fmt.Fprintf(rec.Writer(), "MSG0 %d\n", msgNum)
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '1' {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(msgNum, 10))
	var body strings.Builder
	pastText := false
	for {
		line, err := rec.Reader().ReadString('\n')
		if err != nil {
			http.Error(w, "backend error", http.StatusBadGateway)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "000" {
			break
		}
		if !pastText {
			if line == "text" {
				pastText = true
			}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	w.Write([]byte(body.String()))
}

// resolveObject treats object as a message number if numeric, else as
// an EUID to be resolved via the EUID command.
func resolveObject(g *Gateway, rec *sessionpool.Record, object string) (int64, error) {
	if n, err := strconv.ParseInt(object, 10, 64); err == nil {
		return n, nil
	}
	fmt.Fprintf(rec.Writer(), "EUID %s\n", object)
	rec.Writer().Flush()
	line, err := rec.Reader().ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 4 || line[0] != '2' {
		return 0, fmt.Errorf("gateway: EUID miss")
	}
	return strconv.ParseInt(strings.TrimSpace(line[4:]), 10, 64)
}

func (g *Gateway) putObject(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}

	fmt.Fprintf(rec.Writer(), "ENT0 1|0|0\n")
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '8' {
		http.Error(w, "ENT0 rejected", http.StatusBadGateway)
		return
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Body.Read(buf)
		if n > 0 {
			rec.Writer().Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	fmt.Fprintf(rec.Writer(), "\n000\n")
	rec.Writer().Flush()
	result, err := rec.Reader().ReadString('\n')
	if err != nil || len(result) == 0 || result[0] != '2' {
		http.Error(w, "ENT0 failed", http.StatusBadGateway)
		return
	}
	num := strings.TrimSpace(result[4:])
	w.Header().Set("ETag", num)
	w.WriteHeader(http.StatusCreated)
}

func (g *Gateway) deleteObject(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	object := chi.URLParam(r, "object")
	rec, ok := g.acquire(w, r)
	if !ok {
		return
	}
	defer g.Pool.Release(rec)
	if err := gotoRoom(g, rec, room); err != nil {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}
	msgNum, err := resolveObject(g, rec, object)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	fmt.Fprintf(rec.Writer(), "DELE %d\n", msgNum)
	rec.Writer().Flush()
	status, err := rec.Reader().ReadString('\n')
	if err != nil || len(status) == 0 || status[0] != '2' {
		http.Error(w, "delete failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) moveOrCopyObject(copy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "room")
		object := chi.URLParam(r, "object")
		dest := r.Header.Get("Destination")
		if dest == "" {
			http.Error(w, "Destination header required", http.StatusPreconditionFailed)
			return
		}
		destRoom := strings.TrimPrefix(dest, "/ctdl/r/")

		rec, ok := g.acquire(w, r)
		if !ok {
			return
		}
		defer g.Pool.Release(rec)
		if err := gotoRoom(g, rec, room); err != nil {
			http.Error(w, "no such room", http.StatusNotFound)
			return
		}
		msgNum, err := resolveObject(g, rec, object)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		copyFlag := "0"
		if copy {
			copyFlag = "1"
		}
		fmt.Fprintf(rec.Writer(), "MOVE %d|%s|%s\n", msgNum, destRoom, copyFlag)
		rec.Writer().Flush()
		status, err := rec.Reader().ReadString('\n')
		if err != nil || len(status) == 0 {
			http.Error(w, "backend error", http.StatusBadGateway)
			return
		}
		if status[0] != '2' {
			http.Error(w, "precondition failed", http.StatusPreconditionFailed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSONArray(w http.ResponseWriter, items []string) {
	w.Write([]byte("["))
	for i, s := range items {
		if i > 0 {
			w.Write([]byte(","))
		}
		fmt.Fprintf(w, "%q", s)
	}
	w.Write([]byte("]"))
}
