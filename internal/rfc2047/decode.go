// Package rfc2047 decodes RFC-2047 encoded-word header atoms
// (=?charset?encoding?text?=) into UTF-8, matching libcitadel's
// utf8ify_rfc822_string: adjacent encoded words separated only by
// whitespace are merged, unknown charsets degrade to "(unreadable)", and
// decoding is bounded at 20 passes to terminate on malformed input.
package rfc2047

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// encodingCache memoizes htmlindex's charset-name lookup: message
// traffic repeats the same handful of charset tokens (utf-8, iso-8859-1,
// windows-1252, ...) across many headers, and htmlindex.Get does a
// table scan per call. Caching the resolved encoding.Encoding is safe to
// share across goroutines; a fresh Decoder is still made per call below,
// since encoding.Decoder carries per-transform state that isn't safe to
// reuse concurrently.
var encodingCache, _ = lru.New[string, encoding.Encoding](64)

// maxPasses bounds repeated decoding of nested/chained encoded-words,
// matching decode.c's `if (passes > 20) return;`.
const maxPasses = 20

var encodedWord = regexp.MustCompile(`=\?([^?]+)\?([bBqQ])\?([^?]*)\?=`)

// mergeGaps collapses whitespace runs that separate two adjacent
// encoded-words into nothing, per RFC 2047 section 6.2: such whitespace is
// not meaningful and must be elided before decoding.
var mergeGaps = regexp.MustCompile(`(=\?[^?]+\?[bBqQ]\?[^?]*\?=)[ \t]+(?:\r?\n[ \t]+)*(=\?[^?]+\?[bBqQ]\?[^?]*\?=)`)

// Decode converts a raw header value, possibly containing RFC-2047
// encoded-words and/or raw 8-bit bytes, into a UTF-8 string.
func Decode(raw string) string {
	s := raw
	for pass := 0; pass < maxPasses; pass++ {
		for mergeGaps.MatchString(s) {
			s = mergeGaps.ReplaceAllString(s, "$1$2")
		}
		if !encodedWord.MatchString(s) {
			break
		}
		next := encodedWord.ReplaceAllStringFunc(s, decodeWord)
		if next == s {
			break
		}
		s = next
	}
	return transcodeStray8Bit(s)
}

func decodeWord(match string) string {
	m := encodedWord.FindStringSubmatch(match)
	if m == nil {
		return match
	}
	charsetName, enc, text := m[1], strings.ToUpper(m[2]), m[3]

	var raw []byte
	switch enc {
	case "B":
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(text)
			if err != nil {
				return "(unreadable)"
			}
		}
		raw = decoded
	case "Q":
		raw = decodeQuotedPrintableWord(text)
	default:
		return "(unreadable)"
	}

	dec, err := charsetDecoder(charsetName)
	if err != nil {
		return "(unreadable)"
	}
	if dec == nil {
		return string(raw)
	}
	out, err := dec.Bytes(raw)
	if err != nil {
		return "(unreadable)"
	}
	return string(out)
}

// decodeQuotedPrintableWord decodes the Q-encoding variant used inside
// encoded-words, where '_' stands for a literal space (unlike body
// quoted-printable, which passes the space through unescaped).
func decodeQuotedPrintableWord(s string) []byte {
	var out bytes.Buffer
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '_':
			out.WriteByte(' ')
		case '=':
			if i+2 < len(s) {
				hi, okHi := hexVal(s[i+1])
				lo, okLo := hexVal(s[i+2])
				if okHi && okLo {
					out.WriteByte(byte(hi<<4 | lo))
					i += 2
					continue
				}
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

// charsetDecoder resolves an RFC-2047 charset token to a
// golang.org/x/text/encoding.Decoder. It returns (nil, nil) for
// charsets that are already UTF-8/US-ASCII (no transcoding needed), and
// an error for anything htmlindex cannot resolve, which the caller turns
// into "(unreadable)" exactly as decode.c does for an unrecognized iconv
// target.
func charsetDecoder(name string) (*encoding.Decoder, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	switch norm {
	case "us-ascii", "ascii", "utf-8", "utf8":
		return nil, nil
	}
	enc, ok := encodingCache.Get(norm)
	if !ok {
		var err error
		enc, err = htmlindex.Get(norm)
		if err != nil {
			return nil, err
		}
		encodingCache.Add(norm, enc)
	}
	return enc.NewDecoder(), nil
}

// transcodeStray8Bit heuristically reinterprets any remaining non-ASCII
// byte outside of an encoded-word as ISO-8859-1, matching decode.c's
// fallback for raw 8-bit header bytes seen outside RFC-2047 atoms.
func transcodeStray8Bit(s string) string {
	hasHighByte := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			hasHighByte = true
			break
		}
	}
	if !hasHighByte {
		return s
	}
	if out, err := charmap.ISO8859_1.NewDecoder().String(s); err == nil {
		return out
	}
	return s
}
