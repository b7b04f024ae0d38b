package hashlist

import "testing"

func TestPutGetUnique(t *testing.T) {
	h := New(true, nil)
	h.Put([]byte("a"), 1, nil)
	h.Put([]byte("a"), 2, nil)
	v, ok := h.Get([]byte("a"))
	if !ok || v.(int) != 2 {
		t.Fatalf("got %v,%v want 2,true", v, ok)
	}
	if h.Len() != 1 {
		t.Fatalf("expected unique replace to keep len 1, got %d", h.Len())
	}
}

func TestPutGetNonUnique(t *testing.T) {
	h := New(false, nil)
	h.Put([]byte("a"), 1, nil)
	h.Put([]byte("a"), 2, nil)
	if h.Len() != 2 {
		t.Fatalf("expected both entries kept, got %d", h.Len())
	}
}

func TestTaintRoundTrip(t *testing.T) {
	h := New(true, nil)
	h.Put([]byte("b"), 1, nil)
	h.Put([]byte("a"), 2, nil)
	if h.Tainted() {
		t.Fatal("fresh container must not be tainted")
	}
	h.SortByKey()
	if !h.Tainted() {
		t.Fatal("SortByKey must taint")
	}
	if _, ok := h.Get([]byte("a")); !ok {
		t.Fatal("lookup must still succeed while tainted")
	}
	h.SortByHash()
	if h.Tainted() {
		t.Fatal("SortByHash must clear taint")
	}
}

func TestIterateDirection(t *testing.T) {
	h := New(true, Flathash)
	h.Put(i64key(1), "one", nil)
	h.Put(i64key(2), "two", nil)
	h.Put(i64key(3), "three", nil)
	var forward []any
	h.Iterate(1, Forward, func(k []byte, p any) bool { forward = append(forward, p); return true })
	var reverse []any
	h.Iterate(1, Reverse, func(k []byte, p any) bool { reverse = append(reverse, p); return true })
	if len(forward) != 3 || len(reverse) != 3 {
		t.Fatalf("expected 3 entries each direction, got %d/%d", len(forward), len(reverse))
	}
	if forward[0] == reverse[0] {
		t.Fatal("forward and reverse should start from opposite ends")
	}
}

func TestDestructorInvokedOnReplaceAndDelete(t *testing.T) {
	h := New(true, nil)
	var destroyed []any
	destroy := func(p any) { destroyed = append(destroyed, p) }
	h.Put([]byte("k"), "first", destroy)
	h.Put([]byte("k"), "second", destroy)
	if len(destroyed) != 1 || destroyed[0] != "first" {
		t.Fatalf("expected destructor called on replace with old value, got %v", destroyed)
	}
	h.Delete([]byte("k"))
	if len(destroyed) != 2 || destroyed[1] != "second" {
		t.Fatalf("expected destructor called on delete, got %v", destroyed)
	}
}

func TestMSetParseRoundTrip(t *testing.T) {
	s := "1,5:10,20:*"
	m := ParseMSet(s)
	if m.Len() != 3 {
		t.Fatalf("expected 3 ranges, got %d", m.Len())
	}
	if got := m.String(); got != s {
		t.Fatalf("round trip mismatch: got %q want %q", got, s)
	}
}

func TestMSetMembership(t *testing.T) {
	m := ParseMSet("1,5:10,20:*")
	cases := map[int64]bool{
		1:  true,
		2:  false,
		5:  true,
		7:  true,
		10: true,
		11: false,
		20: true,
		999999: true,
	}
	for n, want := range cases {
		if got := m.IsInMSetList(n); got != want {
			t.Errorf("IsInMSetList(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestMSetNoCoalesce(t *testing.T) {
	m := NewMSet()
	m.Add(1, 5)
	m.Add(3, 8)
	if m.Len() != 2 {
		t.Fatalf("overlapping ranges must not coalesce, got len %d", m.Len())
	}
}
