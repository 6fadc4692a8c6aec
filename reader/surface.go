package reader

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"
)

// Surface is the host viewport a render session mounts to.
type Surface interface {
	// Ready reports whether the surface can accept output right now.
	Ready() bool
	// Size returns the viewport geometry in columns and lines.
	Size() (width, height int)
	// Show replaces the surface content with the given page lines.
	Show(lines []string) error
}

// SurfaceProvider hands out the host surface once it becomes available.
// Acquire may legitimately fail early in the process lifetime, the session
// controller polls before giving up.
type SurfaceProvider interface {
	Acquire() (Surface, error)
}

// TermSurface renders pages to an interactive terminal.
type TermSurface struct {
	out *os.File
	log *zap.Logger
}

func NewTermSurface(out *os.File, log *zap.Logger) *TermSurface {
	if log == nil {
		log = zap.NewNop()
	}
	return &TermSurface{out: out, log: log}
}

func (s *TermSurface) Ready() bool {
	return term.IsTerminal(int(s.out.Fd()))
}

func (s *TermSurface) Size() (int, int) {
	w, h, err := term.GetSize(int(s.out.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		s.log.Debug("Unable to read terminal size, using defaults", zap.Error(err))
		return fallbackWidth, fallbackHeight
	}
	// last line is reserved for the status bar
	if h > 1 {
		h--
	}
	return w, h
}

func (s *TermSurface) Show(lines []string) error {
	// clear screen, home cursor
	if _, err := fmt.Fprint(s.out, "\x1b[2J\x1b[H"); err != nil {
		return err
	}
	_, err := fmt.Fprint(s.out, strings.Join(lines, "\r\n"), "\r\n")
	return err
}

const (
	fallbackWidth  = 80
	fallbackHeight = 24
)

// BufferSurface is the synthesized fallback surface used when no real host
// surface shows up: fixed geometry, plain line output.
type BufferSurface struct {
	w io.Writer
}

func NewBufferSurface(w io.Writer) *BufferSurface {
	return &BufferSurface{w: w}
}

func (s *BufferSurface) Ready() bool { return s.w != nil }

func (s *BufferSurface) Size() (int, int) { return fallbackWidth, fallbackHeight }

func (s *BufferSurface) Show(lines []string) error {
	_, err := fmt.Fprintln(s.w, strings.Join(lines, "\n"))
	return err
}

// terminalProvider acquires the process terminal, failing while it is not
// ready so the controller's readiness poll has something to wait on.
type terminalProvider struct {
	surface *TermSurface
}

// NewTerminalProvider wraps stdout as the surface source for interactive use.
func NewTerminalProvider(log *zap.Logger) SurfaceProvider {
	return &terminalProvider{surface: NewTermSurface(os.Stdout, log)}
}

func (p *terminalProvider) Acquire() (Surface, error) {
	if !p.surface.Ready() {
		return nil, ErrSurfaceUnavailable
	}
	return p.surface, nil
}
