package epub

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Locations are exchanged as EPUB Canonical Fragment Identifiers. We generate
// and resolve the subset this engine produces itself: a spine step, a
// paragraph step and a character offset, e.g. epubcfi(/6/4!/8:120). Fragments
// produced by other engines resolve as long as they carry the same shape.

var cfiRe = regexp.MustCompile(`^epubcfi\(/6/(\d+)(?:\[[^\]]*\])?!/(\d+)(?::(\d+))?\)$`)

// IsValidLocation reports whether s looks like a CFI this program is willing
// to navigate to or persist: epubcfi prefix, at least one path step, balanced
// closing paren.
func IsValidLocation(s string) bool {
	if !strings.HasPrefix(s, "epubcfi(") || !strings.HasSuffix(s, ")") {
		return false
	}
	inner := s[len("epubcfi(") : len(s)-1]
	return strings.HasPrefix(inner, "/") && len(inner) > 1
}

// Location is an engine-reported reading position.
type Location struct {
	CFI     string
	AtStart bool
	AtEnd   bool
}

// point is the parsed form of a generated CFI.
type point struct {
	spine  int // zero based spine index
	para   int // zero based paragraph index within the spine item
	offset int // character offset within the paragraph
}

func makeCFI(p point) string {
	// Spine children sit at even CFI steps, /6 is the spine element itself.
	return fmt.Sprintf("epubcfi(/6/%d!/%d:%d)", 2*(p.spine+1), p.para+1, p.offset)
}

func parseCFI(s string) (point, error) {
	m := cfiRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return point{}, fmt.Errorf("unsupported CFI shape: %q", s)
	}
	step, err := strconv.Atoi(m[1])
	if err != nil || step < 2 || step%2 != 0 {
		return point{}, fmt.Errorf("bad spine step in CFI %q", s)
	}
	para, err := strconv.Atoi(m[2])
	if err != nil || para < 1 {
		return point{}, fmt.Errorf("bad element step in CFI %q", s)
	}
	var offset int
	if m[3] != "" {
		if offset, err = strconv.Atoi(m[3]); err != nil {
			return point{}, fmt.Errorf("bad character offset in CFI %q", s)
		}
	}
	return point{spine: step/2 - 1, para: para - 1, offset: offset}, nil
}

// compareCFI orders two generated CFIs within the same book. Returns a
// negative value when a precedes b.
func compareCFI(a, b point) int {
	if a.spine != b.spine {
		return a.spine - b.spine
	}
	if a.para != b.para {
		return a.para - b.para
	}
	return a.offset - b.offset
}
