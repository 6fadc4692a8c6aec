package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"epr/catalog"
	"epr/epub"
)

// smallArchiveBytes is the soft lower bound below which a payload is
// suspicious but still gets a chance to open.
const smallArchiveBytes = 1000

// BookReference is a resolved, loadable book. Exactly one source is used:
// raw bytes win over a local path, which wins over a catalog fetch by ID.
type BookReference struct {
	ID    string
	Bytes []byte
	Path  string
}

// ContentEndpoint is the part of the catalog client the loader needs.
type ContentEndpoint interface {
	ArchiveURL(bookID string) string
	FetchArchive(ctx context.Context, bookID string) ([]byte, error)
}

// LoaderOptions hold timing policy for archive fetching.
type LoaderOptions struct {
	FetchTimeout time.Duration // per attempt, not per chain
	Retries      int           // total fetch attempts
	RetryDelay   time.Duration
}

// Archive is a loaded, engine-opened book plus the transient resources that
// got it open. Teardown is mandatory.
type Archive struct {
	Book     BookHandle
	tempPath string
}

// Teardown closes the book and removes the spill file, if one was created.
// Safe to call twice and on nil.
func (a *Archive) Teardown() {
	if a == nil {
		return
	}
	if a.Book != nil {
		a.Book.Close()
		a.Book = nil
	}
	if a.tempPath != "" {
		os.Remove(a.tempPath)
		a.tempPath = ""
	}
}

// Loader turns a BookReference into an opened archive, falling back across
// representations until one works or all fail.
type Loader struct {
	endpoint ContentEndpoint
	engine   Engine
	opts     LoaderOptions
	log      *zap.Logger
}

func NewLoader(endpoint ContentEndpoint, engine Engine, opts LoaderOptions, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 60 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	return &Loader{endpoint: endpoint, engine: engine, opts: opts, log: log.Named("loader")}
}

// Load runs the fallback chain: raw bytes if the reference carries them, a
// local file if it names one, otherwise a catalog fetch. Fetched payloads are
// validated and normalized before the engine sees them. DRM protection is
// fatal at any step, nothing downstream retries it.
func (l *Loader) Load(ctx context.Context, ref BookReference) (*Archive, error) {
	switch {
	case len(ref.Bytes) > 0:
		l.log.Debug("Opening archive from provided bytes", zap.Int("size", len(ref.Bytes)))
		return l.openBytes(ref.Bytes)

	case ref.Path != "":
		l.log.Debug("Opening archive from local file", zap.String("path", ref.Path))
		book, err := l.engine.OpenFile(ref.Path)
		if err != nil {
			if errors.Is(err, ErrDrmProtected) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrArchiveOpenFailed, err)
		}
		return &Archive{Book: book}, nil
	}

	data, err := l.fetch(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyArchive
	}
	if len(data) < smallArchiveBytes {
		l.log.Warn("Archive payload is suspiciously small",
			zap.String("book", ref.ID), zap.Int("bytes", len(data)))
	}
	l.normalize(ref.ID, data)
	return l.openBytes(data)
}

// fetch downloads the archive with a per-attempt timeout, retrying transient
// failures with a fixed delay. Parent context cancellation stops the chain
// immediately.
func (l *Loader) fetch(ctx context.Context, bookID string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= l.opts.Retries; attempt++ {
		actx, cancel := context.WithTimeout(ctx, l.opts.FetchTimeout)
		data, err := l.endpoint.FetchArchive(actx, bookID)
		cancel()
		if err == nil {
			return data, nil
		}

		lastErr = l.classifyFetchError(ctx, err)
		if errors.Is(lastErr, context.Canceled) {
			return nil, lastErr
		}
		l.log.Warn("Archive fetch attempt failed",
			zap.String("book", bookID),
			zap.Int("attempt", attempt),
			zap.Int("of", l.opts.Retries),
			zap.Error(lastErr))

		if attempt < l.opts.Retries {
			select {
			case <-time.After(l.opts.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (l *Loader) classifyFetchError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrFetchTimeout
	}
	var ae *catalog.APIError
	if errors.As(err, &ae) {
		return &FetchError{Status: ae.Status}
	}
	return err
}

// normalize inspects payload magic and logs when the server handed over
// something that does not look like a zip container. Whatever the server
// reported as content type is already ignored, the engine always treats the
// payload as application/epub+zip.
func (l *Loader) normalize(bookID string, data []byte) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		l.log.Warn("Archive payload type is not recognizable, passing through",
			zap.String("book", bookID))
		return
	}
	if kind != matchers.TypeZip && kind != matchers.TypeEpub {
		l.log.Warn("Archive payload mislabeled by server, normalizing",
			zap.String("book", bookID),
			zap.String("detected", kind.MIME.Value),
			zap.String("normalized", epub.ContentType))
	}
}

// openBytes instantiates the engine from memory, retrying once through a
// spilled temporary file. DRM short-circuits, everything else aggregates into
// ErrArchiveOpenFailed.
func (l *Loader) openBytes(data []byte) (*Archive, error) {
	book, direct := l.engine.OpenBytes(data)
	if direct == nil {
		return &Archive{Book: book}, nil
	}
	if errors.Is(direct, ErrDrmProtected) {
		return nil, direct
	}
	l.log.Warn("Direct open failed, retrying through spill file", zap.Error(direct))

	path, err := epub.SpillToFile(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveOpenFailed, multierr.Append(direct, err))
	}
	book, err = l.engine.OpenFile(path)
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrDrmProtected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrArchiveOpenFailed, multierr.Append(direct, err))
	}
	return &Archive{Book: book, tempPath: path}, nil
}
