// Package hashlist implements the ordered, pluggable-hash associative
// container used throughout the server for rooms, users, and message-set
// ranges. It is a direct translation of libcitadel's HashList: entries are
// kept in insertion/hash order until a key- or payload-sort taints that
// order, at which point lookups fall back to a linear scan until SortByHash
// restores it.
package hashlist

import "sort"

// HashFunc computes the ordering key for a raw byte-string key. The default
// is Jenkins' one-at-a-time; FourHash and Flathash variants are provided
// for keys that are small fixed-width codes or little-endian integers.
type HashFunc func(key []byte) uint32

// Destructor is invoked on an entry's payload when it is replaced or
// removed from the list.
type Destructor func(payload any)

type entry struct {
	hash    uint32
	key     []byte
	payload any
	destroy Destructor
}

// HashList is an ordered key/value container keyed by an opaque byte
// string, hashed through a pluggable HashFunc. It is not safe for
// concurrent use; callers needing concurrency wrap it in their own lock
// (see roommodel and sessionpool).
type HashList struct {
	hashFunc HashFunc
	unique   bool
	entries  []*entry
	tainted  bool
}

// New constructs an empty HashList. uniq selects the collision policy:
// true replaces a colliding key's payload (invoking its destructor);
// false keeps both entries, with the later insertion comparing greater.
func New(uniq bool, hf HashFunc) *HashList {
	if hf == nil {
		hf = Jenkins
	}
	return &HashList{hashFunc: hf, unique: uniq}
}

// Jenkins is the default one-at-a-time hash, matching libcitadel's hashlittle
// fallback for variable-length keys.
func Jenkins(key []byte) uint32 {
	var h uint32
	for _, b := range key {
		h += uint32(b)
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}

// Flathash treats the first 4 bytes of key as a little-endian uint32,
// matching libcitadel's flathash (keys that are already small integers
// encoded as raw bytes, e.g. room numbers).
func Flathash(key []byte) uint32 {
	var h uint32
	for i := 0; i < 4 && i < len(key); i++ {
		h |= uint32(key[i]) << (8 * uint(i))
	}
	return h
}

// FourHash treats up to 4 bytes of key as a case-normalized packed code,
// matching libcitadel's fourhash (used for short mnemonic keys like MIME
// field tags).
func FourHash(key []byte) uint32 {
	var h uint32
	for i := 0; i < 4; i++ {
		h <<= 8
		if i < len(key) {
			c := key[i]
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			h |= uint32(c)
		}
	}
	return h
}

// Len reports the number of entries, including non-unique duplicates.
func (h *HashList) Len() int { return len(h.entries) }

// Tainted reports whether the container is currently in linear-scan mode
// (a prior SortByKey or SortByPayload has not been undone by SortByHash).
func (h *HashList) Tainted() bool { return h.tainted }

// Put inserts or replaces the value for key. If the container is unique
// and an entry with the same hash and key already exists, its payload is
// replaced and its destructor (if any) is invoked on the old value first.
func (h *HashList) Put(key []byte, payload any, destroy Destructor) {
	hv := h.hashFunc(key)
	if h.unique {
		if idx := h.findExact(hv, key); idx >= 0 {
			old := h.entries[idx]
			if old.destroy != nil {
				old.destroy(old.payload)
			}
			old.payload = payload
			old.destroy = destroy
			return
		}
	}
	e := &entry{hash: hv, key: append([]byte(nil), key...), payload: payload, destroy: destroy}
	if h.tainted {
		h.entries = append(h.entries, e)
		return
	}
	// A non-unique collision must sort after every existing entry with the
	// same hash (libcitadel's Put calls InsertHashItem(Hash, HashAt + 1, ...)
	// on the collision branch), so find the first hash strictly greater
	// rather than the first hash greater-or-equal.
	i := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].hash > hv })
	h.entries = append(h.entries, nil)
	copy(h.entries[i+1:], h.entries[i:])
	h.entries[i] = e
}

// Get returns the payload for key and whether it was found. When unique is
// false and multiple entries share a key, the first (earliest-sorted) match
// is returned.
func (h *HashList) Get(key []byte) (any, bool) {
	hv := h.hashFunc(key)
	idx := h.findExact(hv, key)
	if idx < 0 {
		return nil, false
	}
	return h.entries[idx].payload, true
}

func (h *HashList) findExact(hv uint32, key []byte) int {
	if h.tainted {
		return h.findTainted(hv, key)
	}
	return h.findSorted(hv, key)
}

// findSorted performs a bisecting search over the hash-ordered table,
// matching libcitadel's FindInHash: O(log n) while untainted.
func (h *HashList) findSorted(hv uint32, key []byte) int {
	lo := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].hash >= hv })
	for i := lo; i < len(h.entries) && h.entries[i].hash == hv; i++ {
		if keysEqual(h.entries[i].key, key) {
			return i
		}
	}
	return -1
}

// findTainted performs a linear scan, matching libcitadel's
// FindInTaintedHash used once the lookup table's sort order no longer
// matches the hash order.
func (h *HashList) findTainted(hv uint32, key []byte) int {
	for i, e := range h.entries {
		if e.hash == hv && keysEqual(e.key, key) {
			return i
		}
	}
	return -1
}

func keysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Delete removes the first entry matching key, invoking its destructor.
// It reports whether an entry was removed.
func (h *HashList) Delete(key []byte) bool {
	hv := h.hashFunc(key)
	idx := h.findExact(hv, key)
	if idx < 0 {
		return false
	}
	e := h.entries[idx]
	if e.destroy != nil {
		e.destroy(e.payload)
	}
	h.entries = append(h.entries[:idx], h.entries[idx+1:]...)
	return true
}

// Clear removes all entries, invoking each destructor.
func (h *HashList) Clear() {
	for _, e := range h.entries {
		if e.destroy != nil {
			e.destroy(e.payload)
		}
	}
	h.entries = nil
	h.tainted = false
}

// SortByKey reorders entries by raw key bytes. This taints the container:
// subsequent Get/Delete calls fall back to a linear scan until SortByHash
// is called.
func (h *HashList) SortByKey() {
	sort.SliceStable(h.entries, func(i, j int) bool {
		return string(h.entries[i].key) < string(h.entries[j].key)
	})
	h.tainted = true
}

// SortByPayload reorders entries using cmp, a caller-supplied comparator
// over payloads. This taints the container identically to SortByKey.
func (h *HashList) SortByPayload(cmp func(a, b any) int) {
	sort.SliceStable(h.entries, func(i, j int) bool {
		return cmp(h.entries[i].payload, h.entries[j].payload) < 0
	})
	h.tainted = true
}

// SortByHash restores hash order (insertion order for equal hashes) and
// clears the taint flag, re-enabling bisecting lookup.
func (h *HashList) SortByHash() {
	sort.SliceStable(h.entries, func(i, j int) bool { return h.entries[i].hash < h.entries[j].hash })
	h.tainted = false
}

// Direction controls Iterate's walk order.
type Direction int

const (
	Forward Direction = 1
	Reverse Direction = -1
)

// Iterate walks the container, calling fn with each key and payload in
// the requested direction and step width, matching libcitadel's HashPos
// iterator with a signed StepWidth. Iteration stops early if fn returns
// false.
func (h *HashList) Iterate(step int, dir Direction, fn func(key []byte, payload any) bool) {
	if step <= 0 {
		step = 1
	}
	n := len(h.entries)
	if dir == Forward {
		for i := 0; i < n; i += step {
			if !fn(h.entries[i].key, h.entries[i].payload) {
				return
			}
		}
		return
	}
	for i := n - 1; i >= 0; i -= step {
		if !fn(h.entries[i].key, h.entries[i].payload) {
			return
		}
	}
}
