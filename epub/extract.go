package epub

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockAtoms are elements that terminate a paragraph of flowing text.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Blockquote: true, atom.Pre: true, atom.Td: true, atom.Th: true,
	atom.Figcaption: true, atom.Dt: true, atom.Dd: true, atom.Hr: true, atom.Br: true,
}

var skipAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Head: true, atom.Template: true, atom.Noscript: true,
}

// extractParagraphs flattens an XHTML spine document into text paragraphs.
// Block level boundaries split paragraphs, inline markup collapses into its
// text. Empty paragraphs are dropped - locations address readable text only.
func extractParagraphs(data []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to parse spine document: %w", err)
	}

	var paragraphs []string
	var current strings.Builder

	flush := func() {
		if text := collapseSpace(current.String()); text != "" {
			paragraphs = append(paragraphs, text)
		}
		current.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			current.WriteString(n.Data)
			return
		case html.ElementNode:
			if skipAtoms[n.DataAtom] {
				return
			}
			if blockAtoms[n.DataAtom] {
				flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
			flush()
		}
	}
	walk(doc)
	flush()

	return paragraphs, nil
}
