// Package normalize turns raw listing markup and date text into canonical
// plain text and ISO calendar dates.
package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// breakElements start and end on their own line in normalized text.
var breakElements = map[atom.Atom]bool{
	atom.P:          true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Br:         true,
	atom.Div:        true,
	atom.Tr:         true,
	atom.Blockquote: true,
	atom.Section:    true,
	atom.Article:    true,
}

// Content converts raw HTML into canonical plain text: script and style
// blocks are dropped, block boundaries become line breaks, entities are
// decoded, whitespace collapses to single spaces within a line and anything
// outside printable ASCII is removed.
func Content(rawMarkup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawMarkup))
	if err != nil {
		// Only reader errors surface here; a strings.Reader never fails.
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()

	var b strings.Builder
	for _, n := range doc.Nodes {
		writeText(&b, n)
	}
	return joinLines(b.String())
}

// Line canonicalizes single-line plain text such as titles.
func Line(text string) string {
	return collapse(text)
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		// Source newlines are plain whitespace; only elements break lines.
		b.WriteString(strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return ' '
			}
			return r
		}, n.Data))
		return
	case html.CommentNode, html.DoctypeNode:
		return
	}
	isBreak := n.Type == html.ElementNode && breakElements[n.DataAtom]
	if isBreak {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if isBreak {
		b.WriteByte('\n')
	}
}

func joinLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = collapse(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// collapse maps whitespace (including NBSP) to spaces, drops non-printable
// or non-ASCII characters and squeezes runs of spaces.
func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v' || r == '\u00a0':
			space = true
		case r >= 0x21 && r <= 0x7e:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
