package hashlist

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Open is the sentinel end-value for a range that extends through the
// highest message currently present, the Go analogue of libcitadel's
// LONG_MAX sentinel stored as an MSet range's end.
const Open int64 = math.MaxInt64

// MSet is a compact set of message numbers, represented as a comma
// separated list of start[:end] ranges. It is backed directly by a
// HashList keyed by each range's start value, exactly as libcitadel builds
// MSet support functions on top of its hash container.
type MSet struct {
	h *HashList
}

// NewMSet constructs an empty message set.
func NewMSet() *MSet {
	return &MSet{h: New(false, flathash64)}
}

// flathash64 keys an MSet's HashList by the 64-bit range-start value
// packed into the key bytes, rather than hashing a string representation.
func flathash64(key []byte) uint32 {
	v := binary.BigEndian.Uint64(key)
	return uint32(v ^ (v >> 32))
}

func i64key(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// ParseMSet parses a comma-separated list of start[:end] ranges (with
// end == "*" for Open) into an MSet. Each parsed range becomes its own
// hash entry; overlapping or adjacent ranges are never coalesced, matching
// libcitadel's ParseMSet — later callers rely on the original range count
// surviving round-trip.
func ParseMSet(s string) *MSet {
	m := NewMSet()
	if s == "" {
		return m
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start, end := part, part
		if i := strings.IndexByte(part, ':'); i >= 0 {
			start, end = part[:i], part[i+1:]
		}
		sv, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			continue
		}
		var ev int64
		if end == "*" {
			ev = Open
		} else {
			ev, err = strconv.ParseInt(end, 10, 64)
			if err != nil {
				continue
			}
		}
		m.h.Put(i64key(sv), ev, nil)
	}
	return m
}

// Add inserts a new range [start, end] into the set without coalescing
// it against any existing range.
func (m *MSet) Add(start, end int64) {
	m.h.Put(i64key(start), end, nil)
}

// DeleteMSet removes the range whose start equals start, matching
// libcitadel's DeleteMSet.
func (m *MSet) DeleteMSet(start int64) bool {
	return m.h.Delete(i64key(start))
}

type msetRange struct {
	start, end int64
}

func (m *MSet) ranges() []msetRange {
	var out []msetRange
	m.h.Iterate(1, Forward, func(key []byte, payload any) bool {
		out = append(out, msetRange{start: int64(binary.BigEndian.Uint64(key)), end: payload.(int64)})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// IsInMSetList reports whether n falls within any range of the set,
// matching libcitadel's IsInMSetList linear OR-scan over ranges.
func (m *MSet) IsInMSetList(n int64) bool {
	found := false
	m.h.Iterate(1, Forward, func(key []byte, payload any) bool {
		start := int64(binary.BigEndian.Uint64(key))
		end := payload.(int64)
		if n >= start && (end == Open || n <= end) {
			found = true
			return false
		}
		return true
	})
	return found
}

// String renders the set back to its comma-separated start[:end] form,
// ranges ordered ascending by start, round-tripping through ParseMSet.
func (m *MSet) String() string {
	ranges := m.ranges()
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if r.start == r.end {
			parts = append(parts, strconv.FormatInt(r.start, 10))
			continue
		}
		endStr := "*"
		if r.end != Open {
			endStr = strconv.FormatInt(r.end, 10)
		}
		parts = append(parts, strconv.FormatInt(r.start, 10)+":"+endStr)
	}
	return strings.Join(parts, ",")
}

// Len reports the number of distinct ranges currently stored.
func (m *MSet) Len() int { return m.h.Len() }
