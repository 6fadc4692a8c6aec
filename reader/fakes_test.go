package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"epr/catalog"
	"epr/common"
	"epr/epub"
)

// fakeViewer is a scriptable Viewer with a flat run of pages addressed by
// the same CFI shape the real engine generates.
type fakeViewer struct {
	pages        int
	current      int
	failDisplays int
	displayCalls int
	destroyed    bool
	opts         epub.DisplayOptions
	onRelocated  func(epub.Location)
}

func newFakeViewer(pages int) *fakeViewer {
	if pages < 1 {
		pages = 1
	}
	return &fakeViewer{pages: pages}
}

func (v *fakeViewer) cfiFor(page int) string {
	return fmt.Sprintf("epubcfi(/6/2!/%d:0)", page+1)
}

func (v *fakeViewer) Display(cfi string) error {
	v.displayCalls++
	if v.failDisplays > 0 {
		v.failDisplays--
		return fmt.Errorf("display rejected")
	}
	if cfi == "" {
		v.current = 0
		v.relocate()
		return nil
	}
	var page int
	if _, err := fmt.Sscanf(cfi, "epubcfi(/6/2!/%d:0)", &page); err != nil || page < 1 || page > v.pages {
		return fmt.Errorf("unreachable location %q", cfi)
	}
	v.current = page - 1
	v.relocate()
	return nil
}

func (v *fakeViewer) Next() {
	if v.current < v.pages-1 {
		v.current++
		v.relocate()
	}
}

func (v *fakeViewer) Prev() {
	if v.current > 0 {
		v.current--
		v.relocate()
	}
}

// echo re-reports the current location, the way engines echo back manual
// navigation.
func (v *fakeViewer) echo() { v.relocate() }

func (v *fakeViewer) relocate() {
	if v.onRelocated != nil {
		v.onRelocated(v.CurrentLocation())
	}
}

func (v *fakeViewer) CurrentLocation() epub.Location {
	return epub.Location{
		CFI:     v.cfiFor(v.current),
		AtStart: v.current == 0,
		AtEnd:   v.current == v.pages-1,
	}
}

func (v *fakeViewer) Progress() float64 {
	if v.pages <= 1 {
		return 0
	}
	return float64(v.current) / float64(v.pages-1)
}

func (v *fakeViewer) PageText() []string { return []string{fmt.Sprintf("page %d", v.current+1)} }

func (v *fakeViewer) SetDisplayOptions(opts epub.DisplayOptions) { v.opts = opts }

func (v *fakeViewer) Options() epub.DisplayOptions { return v.opts }

func (v *fakeViewer) OnRelocated(fn func(epub.Location)) { v.onRelocated = fn }

func (v *fakeViewer) Destroy() { v.destroyed = true; v.onRelocated = nil }

type fakeBook struct {
	title     string
	direction common.PageDirection
	viewer    *fakeViewer
	renderErr error
	closed    bool
}

func (b *fakeBook) Title() string { return b.title }
func (b *fakeBook) Direction() common.PageDirection { return b.direction }
func (b *fakeBook) Render(opts epub.DisplayOptions) (Viewer, error) {
	if b.renderErr != nil {
		return nil, b.renderErr
	}
	b.viewer.opts = opts
	return b.viewer, nil
}
func (b *fakeBook) Close() error { b.closed = true; return nil }

// fakeEngine scripts open outcomes: errs are consumed first, then books.
type fakeEngine struct {
	errs      []error
	book      *fakeBook
	byteOpens int
	fileOpens int
}

func (e *fakeEngine) open() (BookHandle, error) {
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return nil, err
	}
	return e.book, nil
}

func (e *fakeEngine) OpenBytes(data []byte) (BookHandle, error) {
	e.byteOpens++
	return e.open()
}

func (e *fakeEngine) OpenFile(path string) (BookHandle, error) {
	e.fileOpens++
	return e.open()
}

// fakeEndpoint scripts archive fetches.
type fakeEndpoint struct {
	mu      sync.Mutex
	payload []byte
	errs    []error
	calls   int
	stamps  []time.Time
	block   bool // honor context cancellation instead of answering
}

func (e *fakeEndpoint) ArchiveURL(bookID string) string {
	return "http://backend/api/books/" + bookID + "/file"
}

func (e *fakeEndpoint) FetchArchive(ctx context.Context, bookID string) ([]byte, error) {
	e.mu.Lock()
	e.calls++
	e.stamps = append(e.stamps, time.Now())
	var err error
	if len(e.errs) > 0 {
		err = e.errs[0]
		e.errs = e.errs[1:]
	}
	block := e.block
	payload := e.payload
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (e *fakeEndpoint) fetchCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeBackend records position traffic. Saves arrive from goroutines.
type fakeBackend struct {
	mu       sync.Mutex
	puts     []string
	posts    []string
	putErr   error
	postErr  error
	position *catalog.Position
	getErr   error
	saved    chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{saved: make(chan struct{}, 16)}
}

func (b *fakeBackend) GetPosition(ctx context.Context, bookID string, id catalog.Identity) (*catalog.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position, b.getErr
}

func (b *fakeBackend) PutPosition(ctx context.Context, bookID, location string, id catalog.Identity) error {
	b.mu.Lock()
	b.puts = append(b.puts, bookID+"|"+location)
	err := b.putErr
	if err == nil {
		b.position = &catalog.Position{CFI: location, Device: id.Device}
	}
	b.mu.Unlock()
	if err == nil {
		b.saved <- struct{}{}
	}
	return err
}

func (b *fakeBackend) PostPosition(ctx context.Context, bookID, location string, id catalog.Identity) error {
	b.mu.Lock()
	b.posts = append(b.posts, bookID+"|"+location)
	err := b.postErr
	if err == nil {
		b.position = &catalog.Position{CFI: location, Device: id.Device}
	}
	b.mu.Unlock()
	b.saved <- struct{}{}
	return err
}

func (b *fakeBackend) counts() (puts, posts int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.puts), len(b.posts)
}

func (b *fakeBackend) lastPut() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.puts) == 0 {
		return ""
	}
	return b.puts[len(b.puts)-1]
}

// fakeSurface is an always or never ready host surface.
type fakeSurface struct {
	ready bool
	shown [][]string
}

func (s *fakeSurface) Ready() bool { return s.ready }
func (s *fakeSurface) Size() (int, int) { return 40, 10 }
func (s *fakeSurface) Show(l []string) error {
	s.shown = append(s.shown, l)
	return nil
}

// fakeProvider hands out surfaces per acquire attempt: failures first, then
// the surface.
type fakeProvider struct {
	failures int
	surface  Surface
	acquires int
}

func (p *fakeProvider) Acquire() (Surface, error) {
	p.acquires++
	if p.acquires <= p.failures {
		return nil, ErrSurfaceUnavailable
	}
	if p.surface == nil {
		return nil, ErrSurfaceUnavailable
	}
	return p.surface, nil
}
