package reader

import (
	"errors"
	"testing"
)

func TestResolveBookID(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"123", "123"},
		{"/library/books/123/read", "123"},
		{"https://backend.example.com/api/books/123", "123"},
		{"/downloads/123.epub", "123"},
		{"123.epub", "123"},
		{"http://host/books/42/", "42"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ResolveBookID(tt.ref)
			if err != nil {
				t.Fatalf("ResolveBookID(%q) failed: %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("ResolveBookID(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolveBookID_Unresolvable(t *testing.T) {
	for _, ref := range []string{"", "not-a-book", "/books/abc/", "book.epub", "/api/books/"} {
		t.Run(ref, func(t *testing.T) {
			_, err := ResolveBookID(ref)
			if !errors.Is(err, ErrUnresolvableReference) {
				t.Errorf("ResolveBookID(%q) = %v, want ErrUnresolvableReference", ref, err)
			}
		})
	}
}

func TestResolveBookID_PriorityOrder(t *testing.T) {
	// the numeric check wins before any path pattern gets a chance
	got, err := ResolveBookID("12345")
	if err != nil || got != "12345" {
		t.Fatalf("ResolveBookID = %q, %v", got, err)
	}
	// a path carrying both shapes resolves by the books-path rule
	got, err = ResolveBookID("/books/7/99.epub")
	if err != nil || got != "7" {
		t.Fatalf("ResolveBookID = %q, %v, want books-path id to win", got, err)
	}
}
