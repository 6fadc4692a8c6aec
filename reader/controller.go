package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"epr/common"
	"epr/epub"
)

// SessionState is the reading session lifecycle exposed to callers.
type SessionState int

const (
	StateIdle SessionState = iota
	StateResolving
	StateLoading
	StateRendering
	StateRetrying
	StateReady
	StateError
	StateClosed
)

var sessionStateNames = []string{"idle", "resolving", "loading", "rendering", "retrying", "ready", "error", "closed"}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(sessionStateNames) {
		// this should never happen
		panic("unsupported session state requested")
	}
	return sessionStateNames[s]
}

// ControllerOptions tune the session controller's recovery policy.
type ControllerOptions struct {
	Display          epub.DisplayOptions
	LoadRetries      int           // automatic load retries before Error
	RetryDelay       time.Duration // between automatic load retries
	SurfacePolls     int           // host surface readiness polls
	SurfacePollDelay time.Duration
	FallbackSurface  Surface // synthesized when polling exhausts, may be nil
}

func (o *ControllerOptions) fill() {
	if o.LoadRetries <= 0 {
		o.LoadRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.SurfacePolls <= 0 {
		o.SurfacePolls = 5
	}
	if o.SurfacePollDelay <= 0 {
		o.SurfacePollDelay = 500 * time.Millisecond
	}
}

// SessionController coordinates resolving, loading, rendering and position
// sync for one open book at a time. It owns the render session and the host
// surface exclusively - opening a new book tears the previous one down
// first.
type SessionController struct {
	loader   *Loader
	possync  *PositionSync
	surfaces SurfaceProvider
	opts     ControllerOptions

	mu      sync.Mutex
	state   SessionState
	loading bool
	ref     string
	initial string
	bookID  string
	archive *Archive
	session *RenderSession
	lastErr error

	onState    func(SessionState)
	onLocation func(string)

	log *zap.Logger
}

func NewSessionController(loader *Loader, possync *PositionSync, surfaces SurfaceProvider, opts ControllerOptions, log *zap.Logger) *SessionController {
	if log == nil {
		log = zap.NewNop()
	}
	opts.fill()
	return &SessionController{
		loader:   loader,
		possync:  possync,
		surfaces: surfaces,
		opts:     opts,
		state:    StateIdle,
		log:      log.Named("controller"),
	}
}

// OnStateChange registers the state listener. Fired on every transition.
func (c *SessionController) OnStateChange(fn func(SessionState)) { c.onState = fn }

// OnLocationChange registers the canonical location listener, fired at most
// once per distinct location.
func (c *SessionController) OnLocationChange(fn func(string)) { c.onLocation = fn }

func (c *SessionController) setState(s SessionState) {
	c.mu.Lock()
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	c.log.Debug("Session state", zap.Stringer("state", s))
	if fn != nil {
		fn(s)
	}
}

// State is the current lifecycle state.
func (c *SessionController) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the error that put the controller into StateError, nil otherwise.
func (c *SessionController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Open runs the full session bring-up for a book reference: resolve, load
// with automatic retries, mount, seed the initial location, go Ready.
// Re-entrant calls while a load is in flight are rejected without touching
// the in-flight session.
func (c *SessionController) Open(ctx context.Context, ref, initialLocation string) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		c.log.Warn("Ignoring re-entrant open", zap.String("ref", ref))
		return fmt.Errorf("session load already in progress")
	}
	if c.state == StateClosed {
		c.mu.Unlock()
		return fmt.Errorf("session controller is closed")
	}
	c.loading = true
	c.ref = ref
	c.initial = initialLocation
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	c.teardown()
	return c.bringUp(ctx, ref, initialLocation)
}

func (c *SessionController) bringUp(ctx context.Context, ref, initialLocation string) error {
	c.setState(StateResolving)
	bref, err := c.resolve(ref)
	if err != nil {
		return c.fail(err)
	}
	bookID := bref.ID
	c.mu.Lock()
	c.bookID = bookID
	c.mu.Unlock()

	archive, err := c.loadWithRetries(ctx, bref)
	if err != nil {
		return c.fail(err)
	}

	c.setState(StateRendering)
	surface, err := c.acquireSurface(ctx)
	if err != nil {
		archive.Teardown()
		return c.fail(err)
	}

	session := NewRenderSession(archive.Book, c.log)
	if err := session.Mount(surface, c.opts.Display); err != nil {
		session.Destroy()
		archive.Teardown()
		return c.fail(err)
	}

	if initialLocation == "" && bookID != "" && c.possync != nil {
		initialLocation = c.possync.LoadLastPosition(ctx, bookID)
	}
	session.DisplayInitialLocation(initialLocation)

	// hook persistence up only after the initial location is shown - the
	// seed display must not count as user movement
	session.OnLocationChange(func(loc string) {
		if bookID != "" && c.possync != nil {
			c.possync.OnLocationChanged(bookID, loc)
		}
		if c.onLocation != nil {
			c.onLocation(loc)
		}
	})

	c.mu.Lock()
	c.archive = archive
	c.session = session
	c.lastErr = nil
	c.mu.Unlock()
	c.setState(StateReady)
	c.log.Info("Session ready",
		zap.String("book", bookID),
		zap.String("title", archive.Book.Title()),
		zap.String("location", session.CurrentLocation().CFI))
	return nil
}

// resolve turns the caller's reference into a loadable one. Catalog shapes
// go through the pure resolver, anything that names an existing local file
// is read from disk without touching the backend (and without position sync,
// there is no catalog id to key it on).
func (c *SessionController) resolve(ref string) (BookReference, error) {
	bookID, err := ResolveBookID(ref)
	if err == nil {
		return BookReference{ID: bookID}, nil
	}
	if fi, serr := os.Stat(ref); serr == nil && !fi.IsDir() {
		c.log.Debug("Reference names a local file", zap.String("path", ref))
		return BookReference{Path: ref}, nil
	}
	return BookReference{}, err
}

// loadWithRetries drives Loading/Retrying: transient load failures cycle
// back through Resolving up to the retry budget, DRM fails immediately.
func (c *SessionController) loadWithRetries(ctx context.Context, bref BookReference) (*Archive, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.LoadRetries; attempt++ {
		if attempt > 0 {
			c.setState(StateRetrying)
			select {
			case <-time.After(c.opts.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.setState(StateResolving)
		}
		c.setState(StateLoading)
		archive, err := c.loader.Load(ctx, bref)
		if err == nil {
			return archive, nil
		}
		if IsFatal(err) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		c.log.Warn("Archive load failed",
			zap.String("book", bref.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// acquireSurface polls for the host surface, synthesizes the fallback when
// polling exhausts, and gives up with ErrSurfaceUnavailable only when even
// the fallback is unusable.
func (c *SessionController) acquireSurface(ctx context.Context) (Surface, error) {
	for poll := 1; poll <= c.opts.SurfacePolls; poll++ {
		surface, err := c.surfaces.Acquire()
		if err == nil && surface != nil && surface.Ready() {
			return surface, nil
		}
		if poll < c.opts.SurfacePolls {
			c.setState(StateRetrying)
			select {
			case <-time.After(c.opts.SurfacePollDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.setState(StateRendering)
		}
	}
	if c.opts.FallbackSurface != nil && c.opts.FallbackSurface.Ready() {
		c.log.Warn("Host surface never became ready, using synthesized fallback")
		return c.opts.FallbackSurface, nil
	}
	return nil, ErrSurfaceUnavailable
}

func (c *SessionController) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateError)
	c.log.Error("Session failed", zap.Error(err))
	return err
}

// Retry tears the failed session down and brings it up again from scratch.
// Fatal errors have no retry affordance.
func (c *SessionController) Retry(ctx context.Context) error {
	c.mu.Lock()
	if IsFatal(c.lastErr) {
		err := c.lastErr
		c.mu.Unlock()
		return err
	}
	if c.loading {
		c.mu.Unlock()
		return fmt.Errorf("session load already in progress")
	}
	ref, initial := c.ref, c.initial
	c.mu.Unlock()
	if ref == "" {
		return fmt.Errorf("nothing to retry")
	}
	return c.Open(ctx, ref, initial)
}

// Imperative operations below are safe no-ops unless the session is Ready.

func (c *SessionController) NextPage() {
	if s := c.readySession(); s != nil {
		s.NextPage()
	}
}

func (c *SessionController) PrevPage() {
	if s := c.readySession(); s != nil {
		s.PrevPage()
	}
}

func (c *SessionController) GoTo(location string) error {
	if s := c.readySession(); s != nil {
		return s.GoTo(location)
	}
	return nil
}

func (c *SessionController) SetTheme(theme common.ThemeMode) {
	if s := c.readySession(); s != nil {
		s.SetTheme(theme)
	}
}

func (c *SessionController) SetFontScale(scale float64) {
	if s := c.readySession(); s != nil {
		s.SetFontScale(scale)
	}
}

func (c *SessionController) SetFontFamily(name string) {
	if s := c.readySession(); s != nil {
		s.SetFontFamily(name)
	}
}

// Location is the current canonical reading position, empty until Ready.
func (c *SessionController) Location() string {
	if s := c.readySession(); s != nil {
		return s.CurrentLocation().CFI
	}
	return ""
}

func (c *SessionController) Progress() float64 {
	if s := c.readySession(); s != nil {
		return s.Progress()
	}
	return 0
}

func (c *SessionController) CanGoForward() bool {
	if s := c.readySession(); s != nil {
		return s.CanGoForward()
	}
	return false
}

func (c *SessionController) CanGoBack() bool {
	if s := c.readySession(); s != nil {
		return s.CanGoBack()
	}
	return false
}

func (c *SessionController) readySession() *RenderSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	return c.session
}

// teardown releases everything the current session holds: viewer, book,
// spill files, pending debounce timers. Skipping any of these leaks.
func (c *SessionController) teardown() {
	c.mu.Lock()
	session := c.session
	archive := c.archive
	bookID := c.bookID
	c.session = nil
	c.archive = nil
	c.mu.Unlock()

	session.Destroy()
	archive.Teardown()
	if bookID != "" && c.possync != nil {
		c.possync.Cancel(bookID)
	}
}

// Close flushes the freshest pending position and tears the session down.
// The controller is terminal afterwards.
func (c *SessionController) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	bookID := c.bookID
	c.mu.Unlock()

	if bookID != "" && c.possync != nil {
		c.possync.FlushNow(bookID)
	}
	c.teardown()
	c.setState(StateClosed)
}
