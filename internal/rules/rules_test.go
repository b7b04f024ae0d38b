package rules

import (
	"testing"
	"time"
)

func TestEvaluateFileIntoStops(t *testing.T) {
	rs := []Rule{
		{
			Active: true, Field: FieldListID, Compare: CompareContains, Text: "citadel-announce",
			Action: ActionFileInto, FileIntoRoom: "Announcements", Final: FinalStop,
		},
	}
	m := &Message{ListID: "<citadel-announce.x>"}
	disp := Evaluate(rs, m, nil, nil, time.Now())
	if len(disp) != 1 {
		t.Fatalf("expected exactly one disposition, got %d", len(disp))
	}
	if disp[0].Action != ActionFileInto || disp[0].FileIntoRoom != "Announcements" {
		t.Fatalf("unexpected disposition: %+v", disp[0])
	}
}

func TestEvaluateImplicitKeep(t *testing.T) {
	rs := []Rule{
		{Active: true, Field: FieldSubject, Compare: CompareContains, Text: "nomatch", Action: ActionDiscard, Final: FinalStop},
	}
	m := &Message{Subject: "hello world"}
	disp := Evaluate(rs, m, nil, nil, time.Now())
	if len(disp) != 1 || disp[0].Action != ActionKeep {
		t.Fatalf("expected implicit keep, got %+v", disp)
	}
}

func TestVacationRequiresKnownAddress(t *testing.T) {
	rs := []Rule{
		{Active: true, Field: FieldAll, Compare: CompareContains, Text: "", Action: ActionVacation, AutoMessage: "away", Final: FinalContinue},
	}
	m := &Message{To: "someone-else@example.com"}
	disp := Evaluate(rs, m, []string{"me@example.com"}, nil, time.Now())
	for _, d := range disp {
		if d.Action == ActionVacation {
			t.Fatal("vacation must not fire when message is not addressed to a known address")
		}
	}

	m2 := &Message{To: "me@example.com"}
	disp2 := Evaluate(rs, m2, []string{"me@example.com"}, nil, time.Now())
	found := false
	for _, d := range disp2 {
		if d.Action == ActionVacation {
			found = true
		}
	}
	if !found {
		t.Fatal("vacation should fire when addressed to a known address")
	}
}

func TestVacationFiresOnceWithinWindow(t *testing.T) {
	rs := []Rule{
		{Active: true, Field: FieldAll, Compare: CompareContains, Text: "", Action: ActionVacation, AutoMessage: "away", Final: FinalContinue},
	}
	m := &Message{To: "me@example.com", From: "sender@example.com"}
	vac := &VacationState{}
	now := time.Now()

	disp := Evaluate(rs, m, []string{"me@example.com"}, vac, now)
	if !hasAction(disp, ActionVacation) {
		t.Fatal("expected vacation to fire on first message from sender")
	}

	disp = Evaluate(rs, m, []string{"me@example.com"}, vac, now.Add(time.Hour))
	if hasAction(disp, ActionVacation) {
		t.Fatal("vacation must not fire twice for the same sender inside the dedup window")
	}

	disp = Evaluate(rs, m, []string{"me@example.com"}, vac, now.Add(VacationWindow+time.Hour))
	if !hasAction(disp, ActionVacation) {
		t.Fatal("vacation must fire again once the dedup window has elapsed")
	}
}

func hasAction(disp []Disposition, a Action) bool {
	for _, d := range disp {
		if d.Action == a {
			return true
		}
	}
	return false
}

func TestRuleEncodeDecodeRoundTrip(t *testing.T) {
	r := Rule{
		Active: true, Field: FieldSubject, Compare: CompareIs, Text: "hi",
		SizeCompare: SizeLarger, SizeValue: 1024, Action: ActionRedirect,
		RedirectAddr: "a@b.com", Final: FinalStop,
	}
	got, err := Decode(Encode(r))
	if err != nil {
		t.Fatal(err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, r)
	}
}

func TestDecodeAllIgnoresUnknownLines(t *testing.T) {
	r := Rule{Active: true, Action: ActionKeep}
	lines := []string{"garbage", "rule|0|" + Encode(r) + "|", "also garbage"}
	got, err := DecodeAll(lines)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != r {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	rs := []Rule{
		{Active: true, Field: FieldSubject, Compare: CompareContains, Text: "x", Action: ActionDiscard, Final: FinalStop},
	}
	m := &Message{Subject: "xyz"}
	a := Evaluate(rs, m, nil, nil, time.Now())
	b := Evaluate(rs, m, nil, nil, time.Now())
	if len(a) != len(b) || a[0].Action != b[0].Action {
		t.Fatalf("evaluation must be deterministic: %+v vs %+v", a, b)
	}
}
