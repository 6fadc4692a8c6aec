// Package epub implements the archive side of the reading engine: opening
// OCF containers, parsing the package document and exposing a paginated
// rendition with CFI based locations. DRM protected containers are rejected
// at open time.
package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	fixzip "github.com/hidez8891/zip"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"epr/archive"
	"epr/common"
)

const (
	// ContentType is the only media type this engine renders. Servers lie
	// about it often enough that callers normalize payloads to this value
	// before handing them over.
	ContentType = "application/epub+zip"

	containerPath  = "META-INF/container.xml"
	encryptionPath = "META-INF/encryption.xml"
)

// ErrEncrypted is returned when the container carries encryption.xml - DRM
// protected content this engine cannot and will not open.
var ErrEncrypted = errors.New("container is encrypted (DRM protected)")

// Metadata is the part of the package document the reader cares about.
type Metadata struct {
	Title      string
	Creators   []string
	Language   string
	Identifier string
}

// ManifestItem is a single publication resource.
type ManifestItem struct {
	ID         string
	Href       string // resolved against the package document directory
	MediaType  string
	Properties string
}

// SpineItem is one entry of the reading order.
type SpineItem struct {
	ID   string
	Href string
}

// TOCEntry is a node of the navigation tree.
type TOCEntry struct {
	Title    string
	Href     string
	Children []TOCEntry
}

// Book is an opened, parsed, decrypted-or-rejected OCF container. All entry
// contents are pulled into memory at open time so the source - bytes, file or
// temp spill - can be released immediately after Open returns.
type Book struct {
	Meta      Metadata
	Manifest  map[string]ManifestItem
	Spine     []SpineItem
	Direction common.PageDirection
	TOC       []TOCEntry

	coverID string
	rootDir string
	entries map[string][]byte
	closed  bool
	log     *zap.Logger
}

type openOptions struct {
	codePage encoding.Encoding
	log      *zap.Logger
}

// Option adjusts container opening behavior.
type Option func(*openOptions)

// WithFilenameEncoding forces a code page for entry names not marked as
// UTF-8. Some ancient archivers never set the flag correctly.
func WithFilenameEncoding(enc encoding.Encoding) Option {
	return func(o *openOptions) { o.codePage = enc }
}

func WithLogger(log *zap.Logger) Option {
	return func(o *openOptions) { o.log = log }
}

func applyOptions(opts []Option) openOptions {
	o := openOptions{log: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// OpenBytes opens a container held in memory. If the standard zip reader
// rejects the payload a second attempt is made with the tolerant reader which
// accepts several classes of malformed central directories.
func OpenBytes(data []byte, opts ...Option) (*Book, error) {
	o := applyOptions(opts)

	entries, err := collectBytes(data, &o)
	if err != nil {
		return nil, err
	}
	return assemble(entries, &o)
}

// OpenFile opens a container from disk, with the same tolerant-reader retry
// as OpenBytes. It exists as a separate path because on-disk opening gives
// the tolerant reader better recovery odds with truncated archives.
func OpenFile(path string, opts ...Option) (*Book, error) {
	o := applyOptions(opts)

	entries := make(map[string][]byte)
	err := archive.Walk(path, "", func(_ string, f *zip.File) error {
		return storeEntry(entries, f.Name, f.NonUTF8, &o, func() (io.ReadCloser, error) { return f.Open() })
	})
	if err != nil {
		fr, ferr := fixzip.OpenReader(path)
		if ferr != nil {
			return nil, fmt.Errorf("unable to open container %q: %w", path, err)
		}
		defer fr.Close()
		entries = make(map[string][]byte)
		for _, f := range fr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			if err := storeEntry(entries, f.Name, f.NonUTF8, &o, func() (io.ReadCloser, error) { return f.Open() }); err != nil {
				return nil, err
			}
		}
	}
	return assemble(entries, &o)
}

// SpillToFile writes container bytes to a temporary file for a file based
// open attempt. The caller owns removal of the returned path.
func SpillToFile(data []byte) (string, error) {
	f, err := os.CreateTemp("", "epr-archive-*.epub")
	if err != nil {
		return "", fmt.Errorf("unable to create archive spill file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("unable to write archive spill file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func collectBytes(data []byte, o *openOptions) (map[string][]byte, error) {
	entries := make(map[string][]byte)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err == nil {
		werr := archive.WalkReader("in-memory", zr, "", func(_ string, f *zip.File) error {
			return storeEntry(entries, f.Name, f.NonUTF8, o, func() (io.ReadCloser, error) { return f.Open() })
		})
		if werr != nil {
			return nil, werr
		}
		return entries, nil
	}

	fr, ferr := fixzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if ferr != nil {
		return nil, fmt.Errorf("payload is not a readable container: %w", err)
	}
	o.log.Debug("Standard zip reader rejected container, tolerant reader succeeded", zap.Error(err))
	for _, f := range fr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := storeEntry(entries, f.Name, f.NonUTF8, o, func() (io.ReadCloser, error) { return f.Open() }); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func storeEntry(entries map[string][]byte, name string, nonUTF8 bool, o *openOptions, open func() (io.ReadCloser, error)) error {
	if nonUTF8 && o.codePage != nil {
		if decoded, err := o.codePage.NewDecoder().String(name); err == nil {
			name = decoded
		}
	}
	rc, err := open()
	if err != nil {
		return fmt.Errorf("unable to open container entry %q: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("unable to read container entry %q: %w", name, err)
	}
	entries[name] = data
	return nil
}

func assemble(entries map[string][]byte, o *openOptions) (*Book, error) {
	if _, drm := entries[encryptionPath]; drm {
		return nil, ErrEncrypted
	}

	b := &Book{
		Manifest: make(map[string]ManifestItem),
		entries:  entries,
		log:      o.log.Named("epub"),
	}
	if err := b.parsePackage(); err != nil {
		return nil, err
	}
	b.parseTOC()
	b.log.Debug("Container opened",
		zap.String("title", b.Meta.Title),
		zap.Int("spine", len(b.Spine)),
		zap.Stringer("direction", b.Direction))
	return b, nil
}

// Entry returns raw bytes of a publication resource by its container path.
func (b *Book) Entry(name string) ([]byte, bool) {
	data, ok := b.entries[name]
	return data, ok
}

// Stylesheets returns contents of every CSS resource listed in the manifest,
// in manifest order as far as map iteration allows.
func (b *Book) Stylesheets() [][]byte {
	var sheets [][]byte
	for _, item := range b.Manifest {
		if !strings.EqualFold(item.MediaType, "text/css") {
			continue
		}
		if data, ok := b.entries[item.Href]; ok {
			sheets = append(sheets, data)
		}
	}
	return sheets
}

// Close releases the container. The book is unusable afterwards, any
// rendition created from it must have been destroyed already.
func (b *Book) Close() error {
	if b == nil || b.closed {
		return nil
	}
	b.closed = true
	b.entries = nil
	return nil
}
