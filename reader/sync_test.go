package reader

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"epr/cache"
	"epr/catalog"
)

var testIdentity = catalog.Identity{User: "usuario1", Device: "cli", Format: "EPUB"}

func waitSaved(t *testing.T, backend *fakeBackend, within time.Duration) {
	t.Helper()
	select {
	case <-backend.saved:
	case <-time.After(within):
		t.Fatal("no save arrived in time")
	}
}

func TestSync_DebounceCoalescing(t *testing.T) {
	backend := newFakeBackend()
	p := NewPositionSync(backend, nil, testIdentity, 50*time.Millisecond, nil)
	defer p.Close()

	// a burst of moves within the quiet window
	p.OnLocationChanged("1", "epubcfi(/6/2!/1:0)")
	time.Sleep(10 * time.Millisecond)
	p.OnLocationChanged("1", "epubcfi(/6/2!/2:0)")
	time.Sleep(10 * time.Millisecond)
	p.OnLocationChanged("1", "epubcfi(/6/2!/3:0)")

	waitSaved(t, backend, time.Second)
	p.Close() // wait for in flight saves

	puts, posts := backend.counts()
	if puts != 1 || posts != 0 {
		t.Fatalf("saves = %d PUT / %d POST, want exactly one PUT", puts, posts)
	}
	if got := backend.lastPut(); got != "1|epubcfi(/6/2!/3:0)" {
		t.Errorf("saved %q, want the last location of the burst", got)
	}
}

func TestSync_SupersededTimerLeavesPendingAlone(t *testing.T) {
	backend := newFakeBackend()
	p := NewPositionSync(backend, nil, testIdentity, time.Hour, nil)
	defer p.Close()

	p.OnLocationChanged("1", "epubcfi(/6/2!/1:0)")
	p.mu.Lock()
	stale := p.gens["1"]
	p.mu.Unlock()
	p.OnLocationChanged("1", "epubcfi(/6/2!/2:0)")

	// a timer from the first window that fired but lost the race for the
	// lock carries an outdated generation and must not cut the replacement
	// window short
	p.flush("1", stale)

	if puts, posts := backend.counts(); puts != 0 || posts != 0 {
		t.Fatalf("superseded timer persisted early: %d PUT / %d POST", puts, posts)
	}

	p.FlushNow("1")
	if got := backend.lastPut(); got != "1|epubcfi(/6/2!/2:0)" {
		t.Errorf("saved %q, want the replacement location", got)
	}
}

func TestSync_SeparateBooksSeparateTimers(t *testing.T) {
	backend := newFakeBackend()
	p := NewPositionSync(backend, nil, testIdentity, 20*time.Millisecond, nil)
	defer p.Close()

	p.OnLocationChanged("1", "epubcfi(/6/2!/1:0)")
	p.OnLocationChanged("2", "epubcfi(/6/2!/5:0)")

	waitSaved(t, backend, time.Second)
	waitSaved(t, backend, time.Second)
	p.Close()

	puts, _ := backend.counts()
	if puts != 2 {
		t.Fatalf("saves = %d, want one per book", puts)
	}
}

func TestSync_InvalidLocationDropped(t *testing.T) {
	backend := newFakeBackend()
	p := NewPositionSync(backend, nil, testIdentity, 10*time.Millisecond, nil)
	defer p.Close()

	p.OnLocationChanged("1", "")
	p.OnLocationChanged("1", "not-a-cfi")
	time.Sleep(50 * time.Millisecond)

	puts, posts := backend.counts()
	if puts != 0 || posts != 0 {
		t.Fatalf("invalid locations persisted: %d PUT / %d POST", puts, posts)
	}
}

func TestSync_PutPostFallback(t *testing.T) {
	backend := newFakeBackend()
	backend.putErr = &catalog.APIError{Status: 200, Message: "success false envelope"}
	p := NewPositionSync(backend, nil, testIdentity, 10*time.Millisecond, nil)

	p.OnLocationChanged("1", "epubcfi(/6/2!/4:0)")
	waitSaved(t, backend, time.Second)
	p.Close()

	puts, posts := backend.counts()
	if puts != 1 || posts != 1 {
		t.Fatalf("saves = %d PUT / %d POST, want fallback POST after failed PUT", puts, posts)
	}
}

func TestSync_BothVerbsFailSwallowed(t *testing.T) {
	backend := newFakeBackend()
	backend.putErr = &catalog.APIError{Status: 500}
	backend.postErr = &catalog.APIError{Status: 500}
	p := NewPositionSync(backend, nil, testIdentity, 10*time.Millisecond, nil)

	// must not panic or surface anywhere
	p.OnLocationChanged("1", "epubcfi(/6/2!/4:0)")
	waitSaved(t, backend, time.Second)
	p.Close()
}

func TestSync_CancelDropsPending(t *testing.T) {
	backend := newFakeBackend()
	p := NewPositionSync(backend, nil, testIdentity, 30*time.Millisecond, nil)
	defer p.Close()

	p.OnLocationChanged("1", "epubcfi(/6/2!/4:0)")
	p.Cancel("1")
	time.Sleep(80 * time.Millisecond)

	if puts, posts := backend.counts(); puts != 0 || posts != 0 {
		t.Fatalf("cancelled position persisted: %d PUT / %d POST", puts, posts)
	}
}

func TestSync_FlushNow(t *testing.T) {
	backend := newFakeBackend()
	p := NewPositionSync(backend, nil, testIdentity, time.Hour, nil)
	defer p.Close()

	p.OnLocationChanged("1", "epubcfi(/6/2!/4:0)")
	p.FlushNow("1")

	puts, _ := backend.counts()
	if puts != 1 {
		t.Fatalf("FlushNow saves = %d, want 1 without waiting for the window", puts)
	}
	p.FlushNow("1") // nothing pending, no duplicate
	if puts, _ := backend.counts(); puts != 1 {
		t.Fatalf("second FlushNow duplicated the save: %d", puts)
	}
}

func TestSync_LoadLastPosition(t *testing.T) {
	backend := newFakeBackend()
	backend.position = &catalog.Position{CFI: "epubcfi(/6/4!/2:10)"}
	p := NewPositionSync(backend, nil, testIdentity, time.Second, nil)
	defer p.Close()

	if got := p.LoadLastPosition(context.Background(), "1"); got != "epubcfi(/6/4!/2:10)" {
		t.Errorf("LoadLastPosition = %q", got)
	}
}

func TestSync_LoadLastPositionSoftFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeBackend)
	}{
		{"nothing saved", func(b *fakeBackend) {}},
		{"backend error", func(b *fakeBackend) { b.getErr = &catalog.APIError{Status: 500} }},
		{"invalid stored location", func(b *fakeBackend) { b.position = &catalog.Position{CFI: "junk"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			tt.setup(backend)
			p := NewPositionSync(backend, nil, testIdentity, time.Second, nil)
			defer p.Close()
			if got := p.LoadLastPosition(context.Background(), "1"); got != "" {
				t.Errorf("LoadLastPosition = %q, want empty", got)
			}
		})
	}
}

func TestSync_CacheWriteThroughAndFallback(t *testing.T) {
	store, err := cache.OpenPositions(filepath.Join(t.TempDir(), "positions.db"), nil)
	if err != nil {
		t.Fatalf("OpenPositions() failed: %v", err)
	}
	defer store.Close()

	backend := newFakeBackend()
	p := NewPositionSync(backend, store, testIdentity, time.Hour, nil)
	p.OnLocationChanged("7", "epubcfi(/6/2!/9:0)")
	p.FlushNow("7")
	p.Close()

	// backend went away, the cached copy answers
	dead := newFakeBackend()
	dead.getErr = &catalog.APIError{Status: 503}
	p2 := NewPositionSync(dead, store, testIdentity, time.Hour, nil)
	defer p2.Close()

	got := p2.LoadLastPosition(context.Background(), "7")
	if !strings.HasPrefix(got, "epubcfi(") || got != "epubcfi(/6/2!/9:0)" {
		t.Errorf("cache fallback returned %q", got)
	}
}

func TestSync_ClosedIgnoresEvents(t *testing.T) {
	backend := newFakeBackend()
	p := NewPositionSync(backend, nil, testIdentity, 10*time.Millisecond, nil)
	p.Close()

	p.OnLocationChanged("1", "epubcfi(/6/2!/4:0)")
	time.Sleep(50 * time.Millisecond)
	if puts, posts := backend.counts(); puts != 0 || posts != 0 {
		t.Fatalf("closed synchronizer persisted: %d PUT / %d POST", puts, posts)
	}
}
