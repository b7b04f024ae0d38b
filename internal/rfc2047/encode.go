package rfc2047

import (
	"encoding/base64"
	"strings"
)

// EncodeWord renders text as a single RFC-2047 base64 encoded-word using
// charset, the inverse operation exercised by the round-trip property:
// decoding EncodeWord(charset, s) with the same charset recovers s.
func EncodeWord(charset, text string) string {
	var b strings.Builder
	b.WriteString("=?")
	b.WriteString(charset)
	b.WriteString("?B?")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(text)))
	b.WriteString("?=")
	return b.String()
}
