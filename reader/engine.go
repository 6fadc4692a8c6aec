package reader

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"epr/common"
	"epr/epub"
)

// Engine is the archive rendering capability the session layer drives. The
// concrete implementation wraps the epub package, tests substitute fakes.
type Engine interface {
	OpenBytes(data []byte) (BookHandle, error)
	OpenFile(path string) (BookHandle, error)
}

// BookHandle is one opened archive.
type BookHandle interface {
	// Title is the publication title for status display.
	Title() string
	// Direction is the archive's reading progression.
	Direction() common.PageDirection
	// Render lays the book out for the given display options.
	Render(opts epub.DisplayOptions) (Viewer, error)
	// Close releases the archive. Renditions must be destroyed first.
	Close() error
}

// Viewer is a live paginated view of a mounted archive.
type Viewer interface {
	Display(cfi string) error
	Next()
	Prev()
	CurrentLocation() epub.Location
	Progress() float64
	PageText() []string
	SetDisplayOptions(opts epub.DisplayOptions)
	Options() epub.DisplayOptions
	OnRelocated(fn func(epub.Location))
	Destroy()
}

type epubEngine struct {
	log *zap.Logger
	enc encoding.Encoding
}

// NewEngine returns the production engine backed by the epub package. A non
// nil enc forces decoding of non UTF-8 file names inside archives.
func NewEngine(log *zap.Logger, enc encoding.Encoding) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &epubEngine{log: log, enc: enc}
}

func (e *epubEngine) OpenBytes(data []byte) (BookHandle, error) {
	book, err := epub.OpenBytes(data, epub.WithLogger(e.log), epub.WithFilenameEncoding(e.enc))
	if err != nil {
		return nil, mapEngineError(err)
	}
	return &epubBook{book: book, log: e.log}, nil
}

func (e *epubEngine) OpenFile(path string) (BookHandle, error) {
	book, err := epub.OpenFile(path, epub.WithLogger(e.log), epub.WithFilenameEncoding(e.enc))
	if err != nil {
		return nil, mapEngineError(err)
	}
	return &epubBook{book: book, log: e.log}, nil
}

func mapEngineError(err error) error {
	if errors.Is(err, epub.ErrEncrypted) {
		return ErrDrmProtected
	}
	return err
}

type epubBook struct {
	book *epub.Book
	log  *zap.Logger
}

func (b *epubBook) Title() string { return b.book.Meta.Title }

func (b *epubBook) Direction() common.PageDirection { return b.book.Direction }

func (b *epubBook) Render(opts epub.DisplayOptions) (Viewer, error) {
	return epub.NewRendition(b.book, opts, b.log)
}

func (b *epubBook) Close() error { return b.book.Close() }
