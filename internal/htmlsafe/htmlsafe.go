// Package htmlsafe reduces an HTML message body to plain text, for
// callers that need a safe textual projection of a message without
// rendering markup (the JSON gateway view, search indexing). It is a
// narrowed cousin of the teacher's html/htmlsafe package: that one
// filtered a document down to an allowed tag/attribute subset for
// display in an email client; Citadel never renders HTML at all, so
// this keeps the same tokenizer-driven walk but discards every tag,
// keeping only text and collapsing run-together block elements onto
// their own line.
package htmlsafe

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockAtoms forces a newline before/after the tag so stripped text
// doesn't run paragraphs and list items together.
var blockAtoms = map[atom.Atom]bool{
	atom.P:  true,
	atom.Br: true,
	atom.Div: true,
	atom.Li: true,
	atom.Tr: true,
	atom.H1: true,
	atom.H2: true,
	atom.H3: true,
	atom.H4: true,
	atom.H5: true,
	atom.H6: true,
}

// StripTags parses s as HTML and returns its text content, with block
// elements (p, div, li, tr, br, headings) forcing line breaks. Script
// and style element bodies are discarded entirely. Malformed input is
// best-effort parsed the way golang.org/x/net/html always does — it
// never returns an error for ill-formed markup.
func StripTags(s string) string {
	var out strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	var skipDepth int // inside <script> or <style>
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(collapseBlankLines(out.String()))
		case html.TextToken:
			if skipDepth == 0 {
				out.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style {
				if z.Token().Type == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if blockAtoms[a] {
				out.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockAtoms[a] {
				out.WriteByte('\n')
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var kept []string
	blank := true
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// LooksLikeHTML is a cheap heuristic for deciding whether a flat
// message body is HTML that needs StripTags before being embedded in
// a non-HTML context (e.g. the JSON gateway's "body" field).
func LooksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") || strings.Contains(lower, "<p>") || strings.Contains(lower, "<br")
}
