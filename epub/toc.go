package epub

import (
	"strings"

	"github.com/beevik/etree"

	"epr/utils/debug"
)

// parseTOC builds the navigation tree, preferring the EPUB3 nav document and
// falling back to NCX. A missing or broken TOC is not fatal - plenty of books
// in the wild have none worth showing.
func (b *Book) parseTOC() {
	if entries := b.parseNav(); len(entries) > 0 {
		b.TOC = entries
		return
	}
	b.TOC = b.parseNCX()
}

func (b *Book) parseNav() []TOCEntry {
	var navItem *ManifestItem
	for _, item := range b.Manifest {
		if strings.Contains(item.Properties, "nav") {
			it := item
			navItem = &it
			break
		}
	}
	if navItem == nil {
		return nil
	}
	data, ok := b.entries[navItem.Href]
	if !ok {
		return nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		b.log.Debug("Unable to parse nav document, falling back to NCX")
		return nil
	}
	for _, nav := range doc.FindElements("//nav") {
		typ := nav.SelectAttrValue("epub:type", nav.SelectAttrValue("type", ""))
		if typ != "" && typ != "toc" {
			continue
		}
		if ol := nav.SelectElement("ol"); ol != nil {
			return b.parseNavList(ol)
		}
	}
	return nil
}

func (b *Book) parseNavList(ol *etree.Element) []TOCEntry {
	var entries []TOCEntry
	for _, li := range ol.SelectElements("li") {
		var e TOCEntry
		if a := li.SelectElement("a"); a != nil {
			e.Title = collapseSpace(allText(a))
			e.Href = b.resolveHref(a.SelectAttrValue("href", ""))
		} else if span := li.SelectElement("span"); span != nil {
			e.Title = collapseSpace(allText(span))
		}
		if sub := li.SelectElement("ol"); sub != nil {
			e.Children = b.parseNavList(sub)
		}
		if e.Title != "" || len(e.Children) > 0 {
			entries = append(entries, e)
		}
	}
	return entries
}

func (b *Book) parseNCX() []TOCEntry {
	var ncxHref string
	for _, item := range b.Manifest {
		if strings.EqualFold(item.MediaType, "application/x-dtbncx+xml") {
			ncxHref = item.Href
			break
		}
	}
	if ncxHref == "" {
		return nil
	}
	data, ok := b.entries[ncxHref]
	if !ok {
		return nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		b.log.Debug("Unable to parse NCX document")
		return nil
	}
	navMap := doc.FindElement("//navMap")
	if navMap == nil {
		return nil
	}
	return b.parseNavPoints(navMap)
}

func (b *Book) parseNavPoints(parent *etree.Element) []TOCEntry {
	var entries []TOCEntry
	for _, np := range parent.SelectElements("navPoint") {
		var e TOCEntry
		if lbl := np.FindElement("navLabel/text"); lbl != nil {
			e.Title = collapseSpace(lbl.Text())
		}
		if c := np.SelectElement("content"); c != nil {
			e.Href = b.resolveHref(c.SelectAttrValue("src", ""))
		}
		e.Children = b.parseNavPoints(np)
		if e.Title != "" || e.Href != "" {
			entries = append(entries, e)
		}
	}
	return entries
}

func allText(el *etree.Element) string {
	var sb strings.Builder
	sb.WriteString(el.Text())
	for _, child := range el.ChildElements() {
		sb.WriteString(allText(child))
		sb.WriteString(child.Tail())
	}
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DumpTOC renders the navigation tree for diagnostics.
func (b *Book) DumpTOC() string {
	tw := debug.NewTreeWriter()
	tw.Line(0, "TOC: %s", b.Meta.Title)
	var walk func(depth int, entries []TOCEntry)
	walk = func(depth int, entries []TOCEntry) {
		for _, e := range entries {
			if e.Href != "" {
				tw.Line(depth, "%s -> %s", e.Title, e.Href)
			} else {
				tw.Line(depth, "%s", e.Title)
			}
			walk(depth+1, e.Children)
		}
	}
	walk(1, b.TOC)
	return tw.String()
}
