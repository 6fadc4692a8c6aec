package reader

import (
	"fmt"
	"regexp"
)

// Reference shapes, checked in priority order. A bare numeric id wins over
// path patterns so "123" never depends on what surrounds it elsewhere.
var (
	reNumericID = regexp.MustCompile(`^\d+$`)
	reBooksPath = regexp.MustCompile(`/books/(\d+)(?:/|$)`)
	reAPIPath   = regexp.MustCompile(`/api/books/(\d+)`)
	reEpubFile  = regexp.MustCompile(`(?:^|/)(\d+)\.epub$`)
)

// ResolveBookID normalizes a book reference into its catalog id. Accepted
// shapes: a bare numeric id, a path containing /books/<id>/, an API path
// containing /api/books/<id>, or a filename ending <id>.epub. Pure and
// synchronous, no I/O.
func ResolveBookID(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrUnresolvableReference)
	}
	if reNumericID.MatchString(ref) {
		return ref, nil
	}
	for _, re := range []*regexp.Regexp{reBooksPath, reAPIPath, reEpubFile} {
		if m := re.FindStringSubmatch(ref); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnresolvableReference, ref)
}
