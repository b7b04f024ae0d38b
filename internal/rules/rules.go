// Package rules implements the mailing-list / rules evaluator (C8):
// ordered per-user filter rules compiled from a header/size predicate to a
// keep/discard/reject/fileinto/redirect/vacation action. It is grounded
// directly on webcit/sieve.c, including its base64 '|'-delimited
// persistence format.
package rules

import (
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// HeaderField selects which part of an inbound message a rule's predicate
// examines.
type HeaderField int

const (
	FieldFrom HeaderField = iota
	FieldToCC
	FieldSubject
	FieldReplyTo
	FieldSender
	FieldResentFrom
	FieldResentTo
	FieldEnvFrom
	FieldEnvTo
	FieldXMailer
	FieldXSpamFlag
	FieldXSpamStatus
	FieldListID
	FieldSize
	FieldAll
)

// Compare is a rule's predicate comparator. Matches is a glob with '*'
// and '?', per sieve.c.
type Compare int

const (
	CompareContains Compare = iota
	CompareNotContains
	CompareIs
	CompareNotIs
	CompareMatches
	CompareNotMatches
)

// SizeCompare is consulted only when HeaderField is FieldSize.
type SizeCompare int

const (
	SizeLarger SizeCompare = iota
	SizeSmaller
)

// Action is the rule's effect when its predicate matches.
type Action int

const (
	ActionKeep Action = iota
	ActionDiscard
	ActionReject
	ActionFileInto
	ActionRedirect
	ActionVacation
)

// Final controls whether evaluation continues to the next rule.
type Final int

const (
	FinalContinue Final = iota
	FinalStop
)

// Rule is one entry in a user's ordered inbound filter set, per §3/§4.8.
type Rule struct {
	Active        bool
	Field         HeaderField
	Compare       Compare
	Text          string
	SizeCompare   SizeCompare
	SizeValue     int64
	Action        Action
	FileIntoRoom  string
	RedirectAddr  string
	AutoMessage   string
	Final         Final
}

// Message is the minimal view of an inbound message the evaluator needs;
// callers adapt ctdlmsg.Message into this shape.
type Message struct {
	From         string
	To           string
	Cc           string
	Subject      string
	ReplyTo      string
	Sender       string
	ResentFrom   string
	ResentTo     string
	EnvelopeFrom string
	EnvelopeTo   string
	XMailer      string
	XSpamFlag    string
	XSpamStatus  string
	ListID       string
	Size         int64
	Raw          string // full header+body blob, used by FieldAll
}

func fieldValue(m *Message, f HeaderField) string {
	switch f {
	case FieldFrom:
		return m.From
	case FieldToCC:
		return m.To + " " + m.Cc
	case FieldSubject:
		return m.Subject
	case FieldReplyTo:
		return m.ReplyTo
	case FieldSender:
		return m.Sender
	case FieldResentFrom:
		return m.ResentFrom
	case FieldResentTo:
		return m.ResentTo
	case FieldEnvFrom:
		return m.EnvelopeFrom
	case FieldEnvTo:
		return m.EnvelopeTo
	case FieldXMailer:
		return m.XMailer
	case FieldXSpamFlag:
		return m.XSpamFlag
	case FieldXSpamStatus:
		return m.XSpamStatus
	case FieldListID:
		return m.ListID
	case FieldAll:
		return m.Raw
	}
	return ""
}

func matches(r *Rule, m *Message) bool {
	if r.Field == FieldSize {
		switch r.SizeCompare {
		case SizeLarger:
			return m.Size > r.SizeValue
		case SizeSmaller:
			return m.Size < r.SizeValue
		}
		return false
	}
	val := fieldValue(m, r.Field)
	switch r.Compare {
	case CompareContains:
		return strings.Contains(val, r.Text)
	case CompareNotContains:
		return !strings.Contains(val, r.Text)
	case CompareIs:
		return val == r.Text
	case CompareNotIs:
		return val != r.Text
	case CompareMatches:
		ok, _ := path.Match(r.Text, val)
		return ok
	case CompareNotMatches:
		ok, _ := path.Match(r.Text, val)
		return !ok
	}
	return false
}

// Disposition is one action triggered by Evaluate, with enough context
// for the caller to carry it out (file into a room, redirect, etc.).
type Disposition struct {
	Action       Action
	FileIntoRoom string
	RedirectAddr string
	AutoMessage  string
}

// VacationWindow is the "N days" in §4.8's "at most once per unique sender
// per N days" vacation dedup rule. No captured original source pins an
// exact value down (sieve.c only emits the "vacation" sieve token; the
// actual interval lives in libSieve, which isn't in the pack), so this
// follows the conventional vacation-responder default of one week.
const VacationWindow = 7 * 24 * time.Hour

// VacationState gates the vacation action: a vacation auto-reply fires
// only if the message was addressed to one of the user's own addresses,
// per §4.8 ("handed the user's full address list by C5"), and at most
// once per unique sender per VacationWindow.
type VacationState struct {
	// LastSent maps a sender address to the last time a vacation reply
	// was sent for it, used to enforce "at most once per unique sender
	// per N days".
	LastSent map[string]int64
}

// ShouldSend reports whether a vacation reply to sender is due: either
// none was ever sent, or the last one fell outside VacationWindow.
func (v *VacationState) ShouldSend(sender string, now time.Time) bool {
	if v == nil || v.LastSent == nil {
		return true
	}
	last, ok := v.LastSent[sender]
	if !ok {
		return true
	}
	return now.Sub(time.Unix(last, 0)) >= VacationWindow
}

// Record marks now as the last time a vacation reply was sent to sender.
func (v *VacationState) Record(sender string, now time.Time) {
	if v.LastSent == nil {
		v.LastSent = make(map[string]int64)
	}
	v.LastSent[sender] = now.Unix()
}

// Evaluate runs rules in order against m, returning the dispositions
// triggered, matching sieve.c's continue/stop semantics: a rule's action
// fires when its predicate matches; if Final is FinalStop, evaluation
// ceases afterward. If no rule stops evaluation, an implicit trailing
// keep is appended. vac may be nil, in which case the vacation dedup
// always allows (the caller has nowhere to persist it); when non-nil, a
// vacation disposition that fires also records the send via vac.Record so
// the caller can persist the updated state.
func Evaluate(rules []Rule, m *Message, knownAddresses []string, vac *VacationState, now time.Time) []Disposition {
	var out []Disposition
	stopped := false
	for i := range rules {
		r := &rules[i]
		if !r.Active {
			continue
		}
		if !matches(r, m) {
			continue
		}
		if r.Action == ActionVacation {
			if !addressedTo(m, knownAddresses) {
				continue
			}
			if !vac.ShouldSend(m.From, now) {
				continue
			}
			if vac != nil {
				vac.Record(m.From, now)
			}
		}
		out = append(out, Disposition{
			Action:       r.Action,
			FileIntoRoom: r.FileIntoRoom,
			RedirectAddr: r.RedirectAddr,
			AutoMessage:  r.AutoMessage,
		})
		if r.Final == FinalStop {
			stopped = true
			break
		}
	}
	if !stopped {
		out = append(out, Disposition{Action: ActionKeep})
	}
	return out
}

func addressedTo(m *Message, knownAddresses []string) bool {
	for _, addr := range knownAddresses {
		if strings.Contains(m.To, addr) || strings.Contains(m.Cc, addr) || strings.Contains(m.EnvelopeTo, addr) {
			return true
		}
	}
	return false
}

// Encode serializes one rule into the base64 record used by its
// '|'-delimited wire form, matching sieve.c's parse_fields_from_rule_editor
// construction of a "rule|<index>|<base64>|" line (the index/prefix
// wrapping is done by EncodeAll, not here).
func Encode(r Rule) string {
	fields := []string{
		boolStr(r.Active),
		strconv.Itoa(int(r.Field)),
		strconv.Itoa(int(r.Compare)),
		r.Text,
		strconv.Itoa(int(r.SizeCompare)),
		strconv.FormatInt(r.SizeValue, 10),
		strconv.Itoa(int(r.Action)),
		r.FileIntoRoom,
		r.RedirectAddr,
		r.AutoMessage,
		strconv.Itoa(int(r.Final)),
	}
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(fields, "|")))
}

// Decode parses one base64 rule record back into a Rule.
func Decode(b64 string) (Rule, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Rule{}, err
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 11 {
		return Rule{}, fmt.Errorf("rules: malformed record: %d fields", len(parts))
	}
	atoi := func(s string) int { n, _ := strconv.Atoi(s); return n }
	atoi64 := func(s string) int64 { n, _ := strconv.ParseInt(s, 10, 64); return n }
	return Rule{
		Active:       parts[0] == "1",
		Field:        HeaderField(atoi(parts[1])),
		Compare:      Compare(atoi(parts[2])),
		Text:         parts[3],
		SizeCompare:  SizeCompare(atoi(parts[4])),
		SizeValue:    atoi64(parts[5]),
		Action:       Action(atoi(parts[6])),
		FileIntoRoom: parts[7],
		RedirectAddr: parts[8],
		AutoMessage:  parts[9],
		Final:        Final(atoi(parts[10])),
	}, nil
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// EncodeAll renders the full rule set as the line sequence sent by PIBR:
// one "rule|<index>|<base64>|" line per rule, in order. Inactive rules
// are included; their record carries Active as "0".
func EncodeAll(rules []Rule) []string {
	lines := make([]string, 0, len(rules))
	for i, r := range rules {
		lines = append(lines, fmt.Sprintf("rule|%d|%s|", i, Encode(r)))
	}
	return lines
}

// DecodeAll parses GIBR's response lines, ignoring any line that does not
// carry the "rule|" prefix (forward compatibility, per §4.8).
func DecodeAll(lines []string) ([]Rule, error) {
	type indexed struct {
		idx int
		r   Rule
	}
	var parsed []indexed
	for _, line := range lines {
		if !strings.HasPrefix(line, "rule|") {
			continue
		}
		fields := strings.SplitN(line, "|", 4)
		if len(fields) < 3 {
			continue
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		r, err := Decode(fields[2])
		if err != nil {
			continue
		}
		parsed = append(parsed, indexed{idx, r})
	}
	out := make([]Rule, len(parsed))
	for _, p := range parsed {
		if p.idx >= 0 && p.idx < len(out) {
			out[p.idx] = p.r
		}
	}
	return out, nil
}
