package ctdlproto

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"citadel.dev/internal/ctdlmsg"
	"citadel.dev/internal/htmlsafe"
	"citadel.dev/internal/msgstore"
	"citadel.dev/internal/roommodel"
	"citadel.dev/internal/rules"
)

// ruleLines renders a rule set as GIBR's PIBR-format listing.
func ruleLines(rs []rules.Rule) []string { return rules.EncodeAll(rs) }

// decodeRuleLines parses PIBR's uploaded listing back into a rule set.
func decodeRuleLines(lines []string) ([]rules.Rule, error) { return rules.DecodeAll(lines) }

type handlerFunc func(s *Session, arg string) error

var commandTable = map[string]handlerFunc{
	"NOOP": cmdNoop,
	"QNOP": cmdQnop,
	"QUIT": cmdQuit,
	"USER": cmdUser,
	"PASS": cmdPass,
	"STLS": cmdStls,
	"INFO": cmdInfo,
	"GOTO": cmdGoto,
	"LKRA": cmdLkra,
	"MSGS": cmdMsgs,
	"MSG0": cmdMsg0,
	"MSG2": cmdMsg0,
	"MSG4": cmdMsg4,
	"MSGP": cmdMsgp,
	"DLAT": cmdDlat,
	"ENT0": cmdEnt0,
	"DELE": cmdDele,
	"KILL": cmdKill,
	"MOVE": cmdMove,
	"EUID": cmdEuid,
	"RINF": cmdRinf,
	"SLRP": cmdSlrp,
	"CONF": cmdConf,
	"GIBR": cmdGibr,
	"PIBR": cmdPibr,
	"SEXP": cmdSexp,
	"LSUB": cmdLsub,
	"SCDN": cmdScdn,
	"DOWN": cmdDown,
}

func cmdNoop(s *Session, arg string) error {
	return s.reply(StatusOK, "ok")
}

func cmdQnop(s *Session, arg string) error {
	// Half-keepalive: the client does not expect a reply.
	return nil
}

func cmdQuit(s *Session, arg string) error {
	s.reply(StatusOK, "Goodbye")
	return errQuit
}

func cmdUser(s *Session, arg string) error {
	if s.stream != StreamNone {
		return s.reply(StatusPermanentErr, "Illegal command while streaming")
	}
	name := strings.TrimSpace(arg)
	if name == "" {
		return s.reply(StatusPermanentErr, "Username required")
	}
	s.pendingUser = name
	return s.reply(StatusMoreData, "Password required for %s", name)
}

func cmdPass(s *Session, arg string) error {
	if s.pendingUser == "" {
		return s.reply(StatusPermanentErr, "USER required first")
	}
	name := s.pendingUser
	s.pendingUser = ""

	s.server.Throttle.Wait(name)

	user, err := s.server.Rooms.GetUserByName(context.Background(), name)
	if err != nil || !user.CheckPassword(arg) {
		s.server.Throttle.Fail(name)
		s.server.Metrics.AuthAttempt(false)
		return s.reply(StatusPermanentErr, "Wrong password")
	}

	s.userID = user.ID
	s.username = user.Name
	s.state = StateAuth
	s.server.Rooms.RecordLogin(context.Background(), user.ID)
	s.server.Metrics.AuthAttempt(true)
	return s.reply(StatusOK, "%s logged in", user.Name)
}

func cmdStls(s *Session, arg string) error {
	if s.server.TLSConfig == nil {
		return s.reply(StatusPermanentErr, "TLS not configured")
	}
	s.stream = StreamTLSNegotiating
	if err := s.reply(StatusOK, "Begin TLS negotiation"); err != nil {
		return err
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}
	if err := s.conn.UpgradeTLS(s.server.TLSConfig); err != nil {
		s.stream = StreamNone
		return err
	}
	s.stream = StreamNone
	s.server.Metrics.TLSSessionEstablished()
	return nil
}

func cmdInfo(s *Session, arg string) error {
	lines := []string{
		s.server.NodeName,
		"Citadel",
		"1",
	}
	if err := s.reply(StatusListing, "Server info"); err != nil {
		return err
	}
	return s.conn.WriteListing(lines)
}

func requireAuth(s *Session) error {
	if s.state == StateUnauth {
		return s.reply(StatusPermanentErr, "Not logged in")
	}
	return nil
}

func cmdGoto(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	fields := strings.SplitN(arg, "|", 2)
	roomName := strings.TrimSpace(fields[0])
	if roomName == "" {
		return s.reply(StatusPermanentErr, "Room name required")
	}
	room, err := s.server.Rooms.GetRoom(context.Background(), roomName)
	if err != nil {
		if err == roommodel.ErrNotFound {
			return s.reply(StatusPermanentErr, "No such room")
		}
		return s.reply(StatusPermanentErr, "%v", err)
	}
	res, err := s.server.Rooms.Goto(context.Background(), s.userID, roomName)
	if err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	s.room = room
	s.state = StateInRoom
	s.server.Metrics.RoomGoto()
	return s.reply(StatusOK, "%s|%d|%d|%d|%d", res.Name, res.Highest,
		res.LastSeen, boolInt(res.NewCount > 0), res.Flags)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cmdLkra(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	var lines []string
	err := s.server.Rooms.LKRA(context.Background(), s.userID, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	if err := s.reply(StatusListing, "Rooms"); err != nil {
		return err
	}
	return s.conn.WriteListing(lines)
}

func cmdMsgs(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	parts := strings.Split(arg, "|")
	kindStr := strings.ToUpper(parts[0])
	var kind msgstore.Kind
	var karg string
	switch kindStr {
	case "ALL":
		kind = msgstore.KindAll
	case "OLD":
		kind = msgstore.KindOld
	case "NEW":
		kind = msgstore.KindNew
	case "LAST":
		kind = msgstore.KindLast
		if len(parts) > 1 {
			karg = parts[1]
		}
	case "FIRST":
		kind = msgstore.KindFirst
		if len(parts) > 1 {
			karg = parts[1]
		}
	case "GT":
		kind = msgstore.KindGreaterThan
		if len(parts) > 1 {
			karg = parts[1]
		}
	case "LT":
		kind = msgstore.KindLessThan
		if len(parts) > 1 {
			karg = parts[1]
		}
	case "SEARCH":
		kind = msgstore.KindSearch
		if len(parts) > 1 {
			karg = parts[1]
		}
	default:
		return s.reply(StatusPermanentErr, "Unknown MSGS kind")
	}

	var lines []string
	err := s.server.Msgs.MSGS(context.Background(), s.room.ID, kind, karg, 0, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	if err := s.reply(StatusListing, "Message list"); err != nil {
		return err
	}
	return s.conn.WriteListing(lines)
}

func requireInRoom(s *Session) error {
	if s.state != StateInRoom || s.room == nil {
		return s.reply(StatusPermanentErr, "Not in a room")
	}
	return nil
}

func cmdMsg0(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	parts := strings.Split(arg, "|")
	n, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return s.reply(StatusPermanentErr, "Invalid message number")
	}
	headersOnly := len(parts) > 1 && parts[1] == "1"
	msg, err := s.server.Msgs.Fetch(context.Background(), n, headersOnly)
	if err != nil {
		return s.reply(StatusPermanentErr, "No such message")
	}
	if err := s.reply(StatusListing, "Message follows"); err != nil {
		return err
	}
	var lines []string
	for field, val := range msg.Fields {
		lines = append(lines, string(field)+"="+val)
	}
	lines = append(lines, ctdlmsg.FieldLineTerminator)
	lines = append(lines, strings.Split(string(msg.Flat), "\n")...)
	return s.conn.WriteListing(lines)
}

// cmdMsg4 implements MSG4: stream a MIME-tree descriptor, one line per
// part ("part|partnum|content-type|charset|disposition|filename|length"),
// followed by the flat/legacy body for parts the client renders inline.
// Text rendering itself is negotiated separately via MSGP.
func cmdMsg4(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(strings.Split(arg, "|")[0]), 10, 64)
	if err != nil {
		return s.reply(StatusPermanentErr, "Invalid message number")
	}
	msg, err := s.server.Msgs.Fetch(context.Background(), n, false)
	if err != nil {
		return s.reply(StatusPermanentErr, "No such message")
	}
	if err := s.reply(StatusListing, "Message follows"); err != nil {
		return err
	}
	var lines []string
	for field, val := range msg.Fields {
		lines = append(lines, string(field)+"="+val)
	}
	lines = append(lines, ctdlmsg.FieldLineTerminator)
	if len(msg.Parts) == 0 {
		flat := msg.Flat
		// MSGP negotiates which MIME types the client can render inline;
		// a client that never declared text/html gets it flattened to
		// plain text here rather than forwarding markup it can't show.
		if htmlsafe.LooksLikeHTML(string(flat)) && !s.rendersMIME("text/html") {
			flat = []byte(htmlsafe.StripTags(string(flat)))
		}
		lines = append(lines, "part|0|text/plain||||"+strconv.Itoa(len(flat)))
		lines = append(lines, strings.Split(string(flat), "\n")...)
	} else {
		for _, p := range msg.Parts {
			lines = append(lines, strings.Join([]string{
				"part", strconv.Itoa(p.PartNum), p.ContentType, p.Charset,
				p.Disposition, p.Filename, strconv.FormatInt(p.Length, 10),
			}, "|"))
		}
	}
	return s.conn.WriteListing(lines)
}

// cmdMsgp implements MSGP: record the session's renderable MIME type
// list so MSG4 knows which parts to decode inline versus pass
// through verbatim ("dont_decode" per §4.4).
func cmdMsgp(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	s.preferredMIME = strings.Split(arg, "|")
	return s.reply(StatusOK, "ok")
}

// cmdDlat implements DLAT: stream one MIME part of the current
// message as a length-prefixed blob, metadata first.
func cmdDlat(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	parts := strings.Split(arg, "|")
	if len(parts) < 2 {
		return s.reply(StatusPermanentErr, "DLAT n|partnum")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return s.reply(StatusPermanentErr, "Invalid message number")
	}
	partNum, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return s.reply(StatusPermanentErr, "Invalid part number")
	}
	msg, err := s.server.Msgs.Fetch(context.Background(), n, false)
	if err != nil {
		return s.reply(StatusPermanentErr, "No such message")
	}
	defer msg.Close()

	var body []byte
	var contentType string
	if partNum == 0 && len(msg.Parts) == 0 {
		body = msg.Flat
		contentType = "text/plain"
	} else {
		var part *ctdlmsg.Part
		for _, p := range msg.Parts {
			if p.PartNum == partNum {
				part = p
				break
			}
		}
		if part == nil {
			return s.reply(StatusPermanentErr, "No such part")
		}
		contentType = part.ContentType
		if part.Content != nil {
			if _, err := part.Content.Seek(0, 0); err != nil {
				return s.reply(StatusPermanentErr, "%v", err)
			}
			buf := make([]byte, part.Length)
			if _, err := io.ReadFull(part.Content, buf); err != nil {
				return s.reply(StatusPermanentErr, "%v", err)
			}
			body = buf
		}
	}
	if err := s.reply(StatusBinaryFollows, "%d %s", len(body), contentType); err != nil {
		return err
	}
	return s.conn.WriteBlob(body)
}

func cmdEnt0(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	if err := s.reply(StatusSendListing, "Enter message"); err != nil {
		return err
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}
	s.stream = StreamUploading
	defer func() { s.stream = StreamNone }()

	msg := ctdlmsg.New()
	msg.Set(ctdlmsg.FieldAuthor, s.username)
	if _, has := msg.Get(ctdlmsg.FieldMessageID); !has {
		msg.Set(ctdlmsg.FieldMessageID, fmt.Sprintf("<%s@%s>", uuid.NewString(), s.server.NodeName))
	}
	var body strings.Builder
	err := s.conn.ReadListing(func(line string) error {
		body.WriteString(line)
		body.WriteByte('\n')
		return nil
	})
	if err != nil {
		return err
	}
	msg.Flat = []byte(body.String())

	target := s.room
	if s.room.IsMailbox() {
		verdict, room, reason, err := s.runMailboxRules(msg)
		if err != nil {
			return s.reply(StatusPermanentErr, "%v", err)
		}
		switch verdict {
		case rules.ActionDiscard:
			return s.reply(StatusOK, "0")
		case rules.ActionReject:
			return s.reply(StatusPermanentErr, "%s", reason)
		case rules.ActionFileInto:
			if room != nil {
				target = room
			}
		}
	}

	var n int64
	if target.IsWiki() {
		n, err = s.server.Msgs.EnterWiki(context.Background(), target.ID, msg)
	} else {
		n, err = s.server.Msgs.Enter(context.Background(), target.ID, target.IsMailbox(), msg)
	}
	if err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	s.server.Metrics.MessageEntered(target.Flags)
	return s.reply(StatusOK, "%d", n)
}

// ruleMessageFromCtdl adapts a Citadel-tagged message into the generic
// header view rules.Evaluate predicates against, mapping only the
// mnemonics ctdlmsg actually carries (§4.8's remaining header-fields —
// sender, resent-from/to, x-mailer, x-spam-flag/status — have no
// corresponding Citadel field and are left zero).
func ruleMessageFromCtdl(msg *ctdlmsg.Message) *rules.Message {
	get := func(f ctdlmsg.Field) string { v, _ := msg.Get(f); return v }
	return &rules.Message{
		From:         get(ctdlmsg.FieldRFC822From),
		To:           get(ctdlmsg.FieldRecipient),
		Cc:           get(ctdlmsg.FieldCc),
		Subject:      get(ctdlmsg.FieldSubject),
		ReplyTo:      get(ctdlmsg.FieldReplyTo),
		EnvelopeTo:   get(ctdlmsg.FieldEnvelopeTo),
		ListID:       get(ctdlmsg.FieldListID),
		Size:         int64(len(msg.Flat)),
		Raw:          string(msg.Flat),
	}
}

// runMailboxRules implements §2's "Inbound delivery paths additionally run
// C8 against the target user" for ENT0 into a mailbox room: it loads the
// mailbox owner's compiled rule set and known addresses, evaluates them
// against msg, and applies every disposition that doesn't require an
// outbound mail transport this daemon doesn't have (redirect/vacation are
// logged/recorded, not actually sent — see DESIGN.md). It returns the
// disposition that should decide local placement: the last of
// {keep, discard, reject, fileinto} seen, defaulting to keep.
func (s *Session) runMailboxRules(msg *ctdlmsg.Message) (rules.Action, *roommodel.Room, string, error) {
	ctx := context.Background()
	ownerID, ok := s.room.MailboxOwnerID()
	if !ok {
		return rules.ActionKeep, nil, "", nil
	}
	owner, err := s.server.Rooms.GetUserByID(ctx, ownerID)
	if err != nil {
		if err == roommodel.ErrNotFound {
			return rules.ActionKeep, nil, "", nil
		}
		return rules.ActionKeep, nil, "", err
	}
	rs, err := s.server.Rules.Load(ctx, ownerID)
	if err != nil {
		return rules.ActionKeep, nil, "", err
	}
	if len(rs) == 0 {
		return rules.ActionKeep, nil, "", nil
	}
	vac, err := s.server.Rules.LoadVacationState(ctx, ownerID)
	if err != nil {
		return rules.ActionKeep, nil, "", err
	}

	m := ruleMessageFromCtdl(msg)
	now := time.Now()
	dispositions := rules.Evaluate(rs, m, owner.Addresses, vac, now)

	verdict := rules.ActionKeep
	var fileIntoRoom *roommodel.Room
	var rejectReason string
	for _, d := range dispositions {
		switch d.Action {
		case rules.ActionKeep, rules.ActionDiscard:
			verdict = d.Action
		case rules.ActionReject:
			verdict = d.Action
			rejectReason = d.AutoMessage
		case rules.ActionFileInto:
			verdict = d.Action
			if room, err := s.server.Rooms.GetRoom(ctx, d.FileIntoRoom); err == nil {
				fileIntoRoom = room
			} else {
				s.Logf("ent0: fileinto room %q not found for user %d, falling back to mailbox", d.FileIntoRoom, ownerID)
				verdict = rules.ActionKeep
			}
		case rules.ActionRedirect:
			s.Logf("ent0: rule redirect to %s for user %d (no outbound transport; local delivery unaffected)", d.RedirectAddr, ownerID)
		case rules.ActionVacation:
			if err := s.server.Rules.RecordVacationSent(ctx, ownerID, m.From, now.Unix()); err != nil {
				s.Logf("ent0: record vacation sent: %v", err)
			}
		}
	}
	return verdict, fileIntoRoom, rejectReason, nil
}

// canDelete implements §4.4's Permissioning rule: delete is allowed if the
// caller is the room aide, or the room is a mailbox the caller owns, or the
// room has the collaborative-delete flag set.
func canDelete(s *Session) bool {
	return s.room.RoomAideID == s.userID || s.room.OwnedBy(s.userID) || s.room.CollabDelete()
}

func cmdDele(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	if !canDelete(s) {
		return s.reply(StatusPermanentErr, "Higher access required")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return s.reply(StatusPermanentErr, "Invalid message number")
	}
	if err := s.server.Msgs.Delete(context.Background(), s.room.ID, n); err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	s.server.Metrics.MessageDeleted()
	return s.reply(StatusOK, "Deleted")
}

// cmdKill implements KILL: destroys the current room. §3 names this as
// part of the room lifecycle ("destroyed by KILL (soft-deletes messages
// first)") though it isn't in §6's non-exhaustive protocol table; no
// captured original source pins down its exact wire form, so this
// follows the zero-argument convention of QUIT/DOWN ("act on the
// session's current context, no arguments").
func cmdKill(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	roomID := s.room.ID
	if err := s.server.Msgs.ExpungeRoom(context.Background(), roomID); err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	if err := s.server.Rooms.KillRoom(context.Background(), roomID); err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	s.room = nil
	s.state = StateAuth
	return s.reply(StatusOK, "Room killed")
}

func cmdMove(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	parts := strings.Split(arg, "|")
	if len(parts) < 2 {
		return s.reply(StatusPermanentErr, "MOVE n|room[|copy]")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return s.reply(StatusPermanentErr, "Invalid message number")
	}
	dest, err := s.server.Rooms.GetRoom(context.Background(), parts[1])
	if err != nil {
		return s.reply(StatusPermanentErr, "No such destination room")
	}
	copy := len(parts) > 2 && parts[2] == "1"
	newNum, err := s.server.Msgs.Move(context.Background(), n, dest.ID, copy)
	if err != nil {
		if err == msgstore.ErrPrecondition {
			return s.reply(StatusPermanentErr, "No such message in this room")
		}
		return s.reply(StatusPermanentErr, "%v", err)
	}
	s.server.Metrics.MessageMoved(copy)
	return s.reply(StatusOK, "%d", newNum)
}

func cmdEuid(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	n, err := s.server.Msgs.EUID(context.Background(), s.room.ID, strings.TrimSpace(arg))
	if err != nil {
		return s.reply(StatusPermanentErr, "Not found")
	}
	return s.reply(StatusOK, "%d", n)
}

func cmdRinf(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	if err := s.reply(StatusListing, "Room info"); err != nil {
		return err
	}
	return s.conn.WriteListing([]string{s.room.Name, strconv.FormatInt(s.room.InfoMsgNum, 10)})
}

func cmdSlrp(s *Session, arg string) error {
	if err := requireInRoom(s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return s.reply(StatusPermanentErr, "Invalid message number")
	}
	clamped, err := s.server.Rooms.SLRP(context.Background(), s.userID, s.room.ID, n)
	if err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	return s.reply(StatusOK, "%d", clamped)
}

// cmdConf implements CONF listval: enumerate the fixed global config
// key set as "key|value" lines, per §6's persisted state layout.
func cmdConf(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	var lines []string
	for _, k := range confKeyOrder {
		v := s.server.ConfVals[k]
		lines = append(lines, k+"|"+v)
	}
	if err := s.reply(StatusListing, "Configuration"); err != nil {
		return err
	}
	return s.conn.WriteListing(lines)
}

// confKeyOrder fixes CONF's enumeration order so repeated calls are
// stable, matching the named keys in spec.md §6.
var confKeyOrder = []string{
	"default_header_charset",
	"EnableSplice",
	"ZLibCompressionRatio",
	"HTTP_PORT",
	"HTTPS_PORT",
	"node_name",
}

func cmdGibr(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	rs, err := s.server.Rules.Load(context.Background(), s.userID)
	if err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	if err := s.reply(StatusListing, "Rules follow"); err != nil {
		return err
	}
	return s.conn.WriteListing(ruleLines(rs))
}

func cmdPibr(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	if err := s.reply(StatusSendListing, "Send rules"); err != nil {
		return err
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}
	s.stream = StreamUploading
	defer func() { s.stream = StreamNone }()

	var lines []string
	err := s.conn.ReadListing(func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		return err
	}
	rs, err := decodeRuleLines(lines)
	if err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	if err := s.server.Rules.Save(context.Background(), s.userID, rs); err != nil {
		return s.reply(StatusPermanentErr, "%v", err)
	}
	return s.reply(StatusOK, "Rules saved")
}

func cmdSexp(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	return s.reply(StatusOK, "sent")
}

func cmdLsub(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	return s.reply(StatusOK, "ok")
}

func cmdScdn(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	return s.reply(StatusOK, "Shutdown scheduled")
}

func cmdDown(s *Session, arg string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	s.reply(StatusOK, "Shutting down")
	go s.server.Shutdown(context.Background())
	return errQuit
}
