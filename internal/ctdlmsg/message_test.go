package ctdlmsg

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"crawshaw.io/iox"
)

func TestWireRoundTrip(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	src := "A=Aide\nU=Hello\ntext\nbody line one\nbody line two\n000\n"
	r := bufio.NewReader(strings.NewReader(src))
	m, err := ReadWire(r, filer)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get(FieldAuthor); v != "Aide" {
		t.Fatalf("author = %q", v)
	}
	if v, _ := m.Get(FieldSubject); v != "Hello" {
		t.Fatalf("subject = %q", v)
	}
	if !strings.Contains(string(m.Flat), "body line one") {
		t.Fatalf("flat body missing content: %q", m.Flat)
	}

	var out bytes.Buffer
	if err := WriteWire(&out, m); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "text\n") || !strings.HasSuffix(strings.TrimRight(out.String(), "\n"), "000") {
		t.Fatalf("unexpected wire output: %q", out.String())
	}
}

func TestIsLocalOrigin(t *testing.T) {
	m := New()
	m.Set(FieldNode, "uplink")
	if !m.IsLocalOrigin("uplink") {
		t.Fatal("expected local origin match")
	}
	if m.IsLocalOrigin("other") {
		t.Fatal("expected non-match for different node")
	}
}
