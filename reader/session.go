package reader

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"epr/common"
	"epr/epub"
)

const (
	navRetries    = 3
	navRetryDelay = 500 * time.Millisecond
)

// RenderSession owns one live viewer mounted to a host surface. Every
// operation is a no-op while nothing is mounted. One session, one surface -
// opening another book means tearing this session down first.
type RenderSession struct {
	book    BookHandle
	viewer  Viewer
	surface Surface

	direction   common.PageDirection
	current     epub.Location
	lastEmitted string
	onLocation  func(string)

	navDelay time.Duration
	log      *zap.Logger
}

func NewRenderSession(book BookHandle, log *zap.Logger) *RenderSession {
	if log == nil {
		log = zap.NewNop()
	}
	return &RenderSession{
		book:      book,
		direction: book.Direction(),
		navDelay:  navRetryDelay,
		log:       log.Named("session"),
	}
}

// Mount attaches a viewer to the host surface under the given display
// options. The surface must be ready, the readiness poll happens upstream.
func (s *RenderSession) Mount(surface Surface, opts epub.DisplayOptions) error {
	if surface == nil || !surface.Ready() {
		return ErrSurfaceUnavailable
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = surface.Size()
	}
	viewer, err := s.book.Render(opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveOpenFailed, err)
	}
	s.surface = surface
	s.viewer = viewer
	viewer.OnRelocated(s.relocated)
	return nil
}

// Mounted reports whether a viewer is attached.
func (s *RenderSession) Mounted() bool { return s.viewer != nil }

// DisplayInitialLocation shows the session's first page: loc when it is a
// valid location the viewer can reach, the first page otherwise. Navigation
// failure here falls back rather than propagating - a session that opens at
// page one beats a session that does not open.
func (s *RenderSession) DisplayInitialLocation(loc string) {
	if s.viewer == nil {
		return
	}
	if loc != "" && epub.IsValidLocation(loc) {
		if err := s.viewer.Display(loc); err == nil {
			return
		}
		s.log.Warn("Unable to display saved location, falling back to first page",
			zap.String("location", loc))
	} else if loc != "" {
		s.log.Warn("Ignoring invalid saved location", zap.String("location", loc))
	}
	if err := s.viewer.Display(""); err != nil {
		s.log.Warn("Unable to display first page", zap.Error(err))
	}
}

// NextPage turns one viewport forward in reading order. For right-to-left
// archives "forward" is the engine's prev direction.
func (s *RenderSession) NextPage() {
	if s.viewer == nil {
		return
	}
	if s.direction == common.PageDirectionRTL {
		s.viewer.Prev()
	} else {
		s.viewer.Next()
	}
}

// PrevPage turns one viewport back.
func (s *RenderSession) PrevPage() {
	if s.viewer == nil {
		return
	}
	if s.direction == common.PageDirectionRTL {
		s.viewer.Next()
	} else {
		s.viewer.Prev()
	}
}

// CanGoForward reports whether NextPage would move. RTL swaps which edge
// flag answers the question.
func (s *RenderSession) CanGoForward() bool {
	if s.viewer == nil {
		return false
	}
	if s.direction == common.PageDirectionRTL {
		return !s.current.AtStart
	}
	return !s.current.AtEnd
}

// CanGoBack reports whether PrevPage would move.
func (s *RenderSession) CanGoBack() bool {
	if s.viewer == nil {
		return false
	}
	if s.direction == common.PageDirectionRTL {
		return !s.current.AtEnd
	}
	return !s.current.AtStart
}

// GoTo jumps to a validated location. Engine failures are retried a few
// times, then reported as a non-fatal NavigationError - the session stays at
// its last good location.
func (s *RenderSession) GoTo(loc string) error {
	if s.viewer == nil {
		return nil
	}
	if !epub.IsValidLocation(loc) {
		s.log.Warn("Rejecting invalid location", zap.String("location", loc))
		return nil
	}
	var err error
	for attempt := 1; attempt <= navRetries; attempt++ {
		if err = s.viewer.Display(loc); err == nil {
			return nil
		}
		if attempt < navRetries {
			time.Sleep(s.navDelay)
		}
	}
	s.log.Warn("Navigation failed, staying at current location",
		zap.String("location", loc), zap.Error(err))
	return &NavigationError{Location: loc, Cause: err}
}

// SetTheme switches the color theme. Theming is cosmetic, it cannot fail.
func (s *RenderSession) SetTheme(theme common.ThemeMode) {
	s.retheme(func(o *epub.DisplayOptions) { o.Theme = theme })
}

// SetFontScale re-flows the book under a new font scale, keeping the
// reading position.
func (s *RenderSession) SetFontScale(scale float64) {
	if scale <= 0 {
		return
	}
	s.retheme(func(o *epub.DisplayOptions) { o.FontScale = scale })
}

// SetFontFamily records the preferred font family.
func (s *RenderSession) SetFontFamily(name string) {
	s.retheme(func(o *epub.DisplayOptions) { o.FontFamily = name })
}

func (s *RenderSession) retheme(change func(*epub.DisplayOptions)) {
	if s.viewer == nil {
		return
	}
	opts := s.viewer.Options()
	change(&opts)
	s.viewer.SetDisplayOptions(opts)
}

// CurrentLocation is the canonical position of the session.
func (s *RenderSession) CurrentLocation() epub.Location { return s.current }

// Progress is the read fraction for position records and the status line.
func (s *RenderSession) Progress() float64 {
	if s.viewer == nil {
		return 0
	}
	return s.viewer.Progress()
}

// OnLocationChange registers the canonical location listener. It fires at
// most once per distinct location - engine echo loops between manual
// navigation and auto-reported relocations collapse here.
func (s *RenderSession) OnLocationChange(fn func(string)) {
	s.onLocation = fn
}

func (s *RenderSession) relocated(loc epub.Location) {
	s.current = loc
	s.refresh()
	if loc.CFI == "" || loc.CFI == s.lastEmitted {
		return
	}
	s.lastEmitted = loc.CFI
	if s.onLocation != nil {
		s.onLocation(loc.CFI)
	}
}

// refresh repaints the current page onto the surface.
func (s *RenderSession) refresh() {
	if s.surface == nil || s.viewer == nil {
		return
	}
	if err := s.surface.Show(s.viewer.PageText()); err != nil {
		s.log.Warn("Unable to paint surface", zap.Error(err))
	}
}

// Destroy releases the viewer and the book. Late engine callbacks after
// Destroy are dropped - the location listener is disconnected first.
func (s *RenderSession) Destroy() {
	if s == nil {
		return
	}
	s.onLocation = nil
	if s.viewer != nil {
		s.viewer.OnRelocated(nil)
		s.viewer.Destroy()
		s.viewer = nil
	}
	if s.book != nil {
		s.book.Close()
		s.book = nil
	}
	s.surface = nil
}
