package reader

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"epr/cache"
	"epr/catalog"
	"epr/epub"
)

// PositionBackend is the part of the catalog client the synchronizer needs.
type PositionBackend interface {
	GetPosition(ctx context.Context, bookID string, id catalog.Identity) (*catalog.Position, error)
	PutPosition(ctx context.Context, bookID, location string, id catalog.Identity) error
	PostPosition(ctx context.Context, bookID, location string, id catalog.Identity) error
}

// PositionSync persists reading locations: debounced, best effort, never in
// the way of reading. Saves go to the backend with an update verb first and
// a create verb as fallback, and are mirrored into the local cache either
// way so the position survives offline stretches.
type PositionSync struct {
	backend  PositionBackend
	store    *cache.Positions
	identity catalog.Identity
	debounce time.Duration

	mu       sync.Mutex
	timers   map[string]*time.Timer
	pending  map[string]string
	gens     map[string]uint64
	closed   bool
	inFlight sync.WaitGroup

	log *zap.Logger
}

func NewPositionSync(backend PositionBackend, store *cache.Positions, identity catalog.Identity, debounce time.Duration, log *zap.Logger) *PositionSync {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &PositionSync{
		backend:  backend,
		store:    store,
		identity: identity,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]string),
		gens:     make(map[string]uint64),
		log:      log.Named("possync"),
	}
}

// OnLocationChanged schedules a persistence of loc for bookID. Calls within
// the quiet window replace the pending location and restart the timer -
// exactly one timer per book, only the last location of a burst is saved.
// Invalid locations are dropped at this boundary.
func (p *PositionSync) OnLocationChanged(bookID, loc string) {
	if !epub.IsValidLocation(loc) {
		p.log.Warn("Dropping invalid location", zap.String("book", bookID), zap.String("location", loc))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending[bookID] = loc
	if t, ok := p.timers[bookID]; ok {
		t.Stop()
	}
	// Stop does not guarantee the old timer is not already past the trigger
	// and blocked on p.mu. The generation lets flush tell a live timer from
	// a superseded one.
	p.gens[bookID]++
	gen := p.gens[bookID]
	p.timers[bookID] = time.AfterFunc(p.debounce, func() { p.flush(bookID, gen) })
}

// flush runs on timer expiry: takes the pending location and saves it in the
// background, fire and forget. A flush carrying a stale generation lost its
// slot to a newer schedule and must leave the pending entry alone.
func (p *PositionSync) flush(bookID string, gen uint64) {
	p.mu.Lock()
	if p.gens[bookID] != gen {
		p.mu.Unlock()
		return
	}
	loc, ok := p.pending[bookID]
	delete(p.pending, bookID)
	delete(p.timers, bookID)
	if !ok || p.closed {
		p.mu.Unlock()
		return
	}
	p.inFlight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.inFlight.Done()
		p.save(bookID, loc)
	}()
}

// save pushes one position record. Failures are logged and swallowed, the
// reading session never hears about them.
func (p *PositionSync) save(bookID, loc string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.store.Save(bookID, loc, p.identity); err != nil {
		p.log.Warn("Unable to cache position", zap.String("book", bookID), zap.Error(err))
	}

	err := p.backend.PutPosition(ctx, bookID, loc, p.identity)
	if err == nil {
		p.log.Debug("Position saved", zap.String("book", bookID), zap.String("location", loc))
		return
	}
	p.log.Debug("Position update rejected, retrying as create",
		zap.String("book", bookID), zap.Error(err))

	if err := p.backend.PostPosition(ctx, bookID, loc, p.identity); err != nil {
		p.log.Warn("Unable to persist position",
			zap.String("book", bookID),
			zap.String("location", loc),
			zap.Error(err))
	}
}

// LoadLastPosition returns the last saved location for the book, or empty
// when none is known. It never fails: backend errors fall through to the
// local cache, cache errors resolve to empty.
func (p *PositionSync) LoadLastPosition(ctx context.Context, bookID string) string {
	pos, err := p.backend.GetPosition(ctx, bookID, p.identity)
	if err == nil && pos != nil && epub.IsValidLocation(pos.CFI) {
		return pos.CFI
	}
	if err != nil {
		p.log.Debug("Unable to load position from backend, trying cache",
			zap.String("book", bookID), zap.Error(err))
	}

	loc, cerr := p.store.Load(bookID, p.identity)
	if cerr != nil || !epub.IsValidLocation(loc) {
		return ""
	}
	return loc
}

// Cancel drops any pending save for the book without persisting it.
func (p *PositionSync) Cancel(bookID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[bookID]; ok {
		t.Stop()
		delete(p.timers, bookID)
	}
	p.gens[bookID]++
	delete(p.pending, bookID)
}

// FlushNow persists the pending location for the book immediately,
// synchronously. Used on session teardown so the freshest position is not
// lost to a cancelled timer.
func (p *PositionSync) FlushNow(bookID string) {
	p.mu.Lock()
	loc, ok := p.pending[bookID]
	delete(p.pending, bookID)
	if t, tok := p.timers[bookID]; tok {
		t.Stop()
		delete(p.timers, bookID)
	}
	p.gens[bookID]++
	p.mu.Unlock()
	if ok {
		p.save(bookID, loc)
	}
}

// Close cancels every pending timer and waits for in flight saves.
func (p *PositionSync) Close() {
	p.mu.Lock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.pending = make(map[string]string)
	p.mu.Unlock()
	p.inFlight.Wait()
}
