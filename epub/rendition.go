package epub

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"epr/common"
	"epr/css"
)

// DisplayOptions is the viewport geometry and theming a rendition flows
// text into. Width is columns, Height is lines. FontScale above 1 shrinks
// the effective viewport the way larger glyphs would.
type DisplayOptions struct {
	Width      int
	Height     int
	FontScale  float64
	FontFamily string
	Theme      common.ThemeMode
}

func (o DisplayOptions) effective() (cols, lines int) {
	scale := o.FontScale
	if scale <= 0 {
		scale = 1
	}
	cols = int(float64(o.Width) / scale)
	lines = int(float64(o.Height) / scale)
	if cols < 10 {
		cols = 10
	}
	if lines < 4 {
		lines = 4
	}
	return cols, lines
}

// page is one laid out viewport worth of text.
type page struct {
	start point
	lines []string
}

// Rendition is a paginated view of a book under fixed display options.
// Re-flowing (SetDisplayOptions) preserves the reading position by CFI.
type Rendition struct {
	book *Book
	opts DisplayOptions

	pages     []page
	current   int
	direction common.PageDirection
	families  []string

	onRelocated func(Location)
	lastCFI     string

	destroyed bool
	log       *zap.Logger
}

// NewRendition lays the whole book out for the given display options.
// Publication stylesheets are consulted for direction and font hints before
// the package document's own progression direction is applied.
func NewRendition(b *Book, opts DisplayOptions, log *zap.Logger) (*Rendition, error) {
	if b == nil || b.closed {
		return nil, fmt.Errorf("unable to render: container is not open")
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := &Rendition{
		book:      b,
		opts:      opts,
		direction: b.Direction,
		log:       log.Named("rendition"),
	}
	r.applyStyleHints()
	if err := r.reflow(); err != nil {
		return nil, err
	}
	r.log.Debug("Rendition ready",
		zap.Int("pages", len(r.pages)),
		zap.Stringer("direction", r.direction),
		zap.Strings("fonts", r.families))
	return r, nil
}

// applyStyleHints scans publication CSS for flow direction and declared font
// families. The package document wins over stylesheets for direction, the
// sheets only upgrade an unspecified LTR to RTL.
func (r *Rendition) applyStyleHints() {
	parser := css.NewParser(r.log)
	for _, data := range r.book.Stylesheets() {
		sheet := parser.Parse(data)
		if r.direction == common.PageDirectionLTR && sheet.Direction() == "rtl" {
			r.direction = common.PageDirectionRTL
			r.log.Debug("Stylesheet pins right to left flow")
		}
		r.families = append(r.families, sheet.FontFamilies()...)
	}
}

func (r *Rendition) reflow() error {
	cols, lines := r.opts.effective()

	var pages []page
	for si, item := range r.book.Spine {
		data, ok := r.book.Entry(item.Href)
		if !ok {
			r.log.Warn("Spine item has no content, skipping", zap.String("href", item.Href))
			continue
		}
		paragraphs, err := extractParagraphs(data)
		if err != nil {
			return fmt.Errorf("spine item %q: %w", item.Href, err)
		}
		pages = append(pages, paginate(si, paragraphs, cols, lines)...)
	}
	if len(pages) == 0 {
		// an empty but valid book still has one navigable page
		pages = []page{{start: point{}}}
	}
	r.pages = pages
	return nil
}

// paginate flows one spine item's paragraphs into fixed geometry pages,
// recording the (paragraph, offset) start point of every page for CFI
// generation.
func paginate(spine int, paragraphs []string, cols, lines int) []page {
	var pages []page
	cur := page{start: point{spine: spine}}

	emit := func(next point) {
		pages = append(pages, cur)
		cur = page{start: next}
	}

	for pi, para := range paragraphs {
		offset := 0
		for _, line := range wrap(para, cols) {
			if len(cur.lines) >= lines {
				emit(point{spine: spine, para: pi, offset: offset})
			}
			cur.lines = append(cur.lines, line)
			offset += utf8.RuneCountInString(line)
			if offset < utf8.RuneCountInString(para) {
				offset++ // the space the wrap consumed
			}
		}
	}
	if len(cur.lines) > 0 || len(pages) == 0 {
		pages = append(pages, cur)
	}
	return pages
}

// wrap greedily breaks text into lines of at most width runes. Words longer
// than the viewport are split hard.
func wrap(text string, width int) []string {
	var result []string
	var line []rune
	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		for len(runes) > width {
			if len(line) > 0 {
				result = append(result, string(line))
				line = nil
			}
			result = append(result, string(runes[:width]))
			runes = runes[width:]
		}
		switch {
		case len(line) == 0:
			line = runes
		case len(line)+1+len(runes) <= width:
			line = append(append(line, ' '), runes...)
		default:
			result = append(result, string(line))
			line = runes
		}
	}
	if len(line) > 0 {
		result = append(result, string(line))
	}
	if len(result) == 0 {
		result = []string{""}
	}
	return result
}

// Display moves the rendition to the page containing cfi. An empty cfi
// displays the first page. An unresolvable cfi is an error, the current page
// does not change.
func (r *Rendition) Display(cfi string) error {
	if r.destroyed {
		return fmt.Errorf("rendition is destroyed")
	}
	idx := 0
	if cfi != "" {
		pt, err := parseCFI(cfi)
		if err != nil {
			return err
		}
		found, err := r.findPage(pt)
		if err != nil {
			return err
		}
		idx = found
	}
	r.current = idx
	r.relocated()
	return nil
}

// findPage returns the index of the page whose range contains pt.
func (r *Rendition) findPage(pt point) (int, error) {
	if len(r.book.Spine) > 0 && pt.spine >= len(r.book.Spine) {
		return 0, fmt.Errorf("location points past the end of the book")
	}
	found := -1
	for i, pg := range r.pages {
		if compareCFI(pg.start, pt) <= 0 {
			found = i
			continue
		}
		break
	}
	if found < 0 {
		return 0, fmt.Errorf("location precedes book content")
	}
	return found, nil
}

// Next advances one page in reading order. At the last page it is a no-op.
func (r *Rendition) Next() {
	if r.destroyed || r.current >= len(r.pages)-1 {
		return
	}
	r.current++
	r.relocated()
}

// Prev steps one page back in reading order. At the first page it is a no-op.
func (r *Rendition) Prev() {
	if r.destroyed || r.current == 0 {
		return
	}
	r.current--
	r.relocated()
}

// CurrentLocation reports where the rendition is displayed right now.
func (r *Rendition) CurrentLocation() Location {
	return Location{
		CFI:     makeCFI(r.pages[r.current].start),
		AtStart: r.current == 0,
		AtEnd:   r.current == len(r.pages)-1,
	}
}

// Progress is the fraction of pages behind the current one, in [0, 1].
func (r *Rendition) Progress() float64 {
	if len(r.pages) <= 1 {
		return 0
	}
	return float64(r.current) / float64(len(r.pages)-1)
}

// PageText returns the lines of the currently displayed page.
func (r *Rendition) PageText() []string {
	return r.pages[r.current].lines
}

// PageCount returns the total number of pages under current display options.
func (r *Rendition) PageCount() int {
	return len(r.pages)
}

// Direction is the effective reading progression, package document and
// stylesheet hints combined.
func (r *Rendition) Direction() common.PageDirection {
	return r.direction
}

// FontFamilies returns families the publication declares, first preferred.
func (r *Rendition) FontFamilies() []string {
	return r.families
}

// Options returns the display options currently in effect.
func (r *Rendition) Options() DisplayOptions {
	return r.opts
}

// SetDisplayOptions re-flows the book under new geometry or theming and
// keeps the reading position: the page containing the old location's start
// becomes current. Re-theming never fails, bad geometry falls back to
// minimums.
func (r *Rendition) SetDisplayOptions(opts DisplayOptions) {
	if r.destroyed {
		return
	}
	keep := r.pages[r.current].start
	r.opts = opts
	if err := r.reflow(); err != nil {
		// content parsed once already, a re-parse failure means a bug;
		// keep the old layout rather than lose the session
		r.log.Warn("Re-flow failed, keeping previous layout", zap.Error(err))
		return
	}
	if idx, err := r.findPage(keep); err == nil {
		r.current = idx
	} else {
		r.current = 0
	}
	r.relocated()
}

// OnRelocated registers the location listener. Only one listener is held,
// duplicated locations are not re-emitted.
func (r *Rendition) OnRelocated(fn func(Location)) {
	r.onRelocated = fn
}

func (r *Rendition) relocated() {
	loc := r.CurrentLocation()
	if loc.CFI == r.lastCFI {
		return
	}
	r.lastCFI = loc.CFI
	if r.onRelocated != nil {
		r.onRelocated(loc)
	}
}

// Destroy releases the rendition. Subsequent navigation is a no-op.
func (r *Rendition) Destroy() {
	if r == nil || r.destroyed {
		return
	}
	r.destroyed = true
	r.onRelocated = nil
}
