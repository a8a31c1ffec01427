package html

import (
	"strings"
	"unicode"

	css "github.com/andybalholm/cascadia"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Subtrees whose text never reaches a reader of the rendered page.
var nonContent = css.MustCompile("head, script, style, template")

// breaks maps elements to the number of line breaks that separate them from
// surrounding text: 1 for line-level elements, 2 for paragraph-level ones.
var breaks = map[atom.Atom]int{
	atom.Br:         1,
	atom.Div:        1,
	atom.Li:         1,
	atom.Tr:         1,
	atom.Dt:         1,
	atom.Dd:         1,
	atom.Hr:         2,
	atom.P:          2,
	atom.H1:         2,
	atom.H2:         2,
	atom.H3:         2,
	atom.H4:         2,
	atom.H5:         2,
	atom.H6:         2,
	atom.Ul:         2,
	atom.Ol:         2,
	atom.Dl:         2,
	atom.Table:      2,
	atom.Blockquote: 2,
	atom.Pre:        2,
	atom.Section:    2,
	atom.Article:    2,
	atom.Header:     2,
	atom.Footer:     2,
}

// PlainText strips the markup from s and returns the text a reader would
// see. Entities are decoded, whitespace is collapsed the way a browser
// would (except inside pre and textarea, which are kept verbatim), and
// block-level elements start new lines.
func PlainText(s string) string {
	doc, err := nethtml.Parse(strings.NewReader(s))
	// Parse only fails if reading fails, and a strings.Reader doesn't
	if err != nil {
		return s
	}

	for _, n := range nonContent.MatchAll(doc) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	var w textWriter
	w.walk(doc)
	return w.b.String()
}

// textWriter accumulates text with collapsed whitespace. Line breaks are
// deferred until there's more text to write so we never emit trailing
// blank lines.
type textWriter struct {
	b       strings.Builder
	pending int  // line breaks owed before the next word
	space   bool // a space is owed before the next word
	pre     int  // depth of elements whose whitespace is kept
}

func (w *textWriter) walk(n *nethtml.Node) {
	switch n.Type {
	case nethtml.TextNode:
		w.text(n.Data)
		return
	case nethtml.CommentNode, nethtml.DoctypeNode:
		return
	}

	b := breaks[n.DataAtom]
	keep := n.Type == nethtml.ElementNode &&
		(n.DataAtom == atom.Pre || n.DataAtom == atom.Textarea)
	if n.Type == nethtml.ElementNode {
		w.lineBreak(b)
	}
	if keep {
		w.pre++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if keep {
		w.pre--
	}
	if n.Type == nethtml.ElementNode {
		w.lineBreak(b)
	}
}

func (w *textWriter) lineBreak(n int) {
	if n > w.pending {
		w.pending = n
	}
}

func (w *textWriter) text(s string) {
	if w.pre > 0 {
		w.verbatim(s)
		return
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		if s != "" {
			w.space = true
		}
		return
	}
	if strings.TrimLeftFunc(s, unicode.IsSpace) != s {
		w.space = true
	}
	for _, word := range words {
		switch {
		case w.b.Len() == 0:
		case w.pending > 0:
			w.b.WriteString(strings.Repeat("\n", w.pending))
		case w.space:
			w.b.WriteByte(' ')
		}
		w.pending = 0
		w.b.WriteString(word)
		w.space = true
	}
	w.space = strings.TrimRightFunc(s, unicode.IsSpace) != s
}

func (w *textWriter) verbatim(s string) {
	if s == "" {
		return
	}
	if w.b.Len() > 0 {
		switch {
		case w.pending > 0:
			w.b.WriteString(strings.Repeat("\n", w.pending))
		case w.space:
			w.b.WriteByte(' ')
		}
	}
	w.pending = 0
	w.space = false
	w.b.WriteString(s)
}

// StripTags removes tags and comments from s and leaves everything else,
// including whitespace and entities, as it was. It suits markup formats
// other than HTML, whose line structure carries meaning.
func StripTags(s string) string {
	var b strings.Builder
	z := nethtml.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			// The only error a strings.Reader produces is io.EOF
			return b.String()
		case nethtml.TextToken:
			b.Write(z.Raw())
		}
	}
}
