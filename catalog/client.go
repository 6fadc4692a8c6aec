// Package catalog talks to the backend content/catalog REST API: book
// listings, archive downloads and reading position persistence. All responses
// share the same {success, data, message} envelope.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const archiveMimeType = "application/epub+zip"

// APIError represents a catalog service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if len(e.Message) == 0 {
		return fmt.Sprintf("catalog request failed with status %d", e.Status)
	}
	return fmt.Sprintf("catalog request failed with status %d: %s", e.Status, e.Message)
}

// Envelope is the standard response wrapper used by every catalog endpoint.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// Book is a single catalog entry. Only fields the reader depends on are
// mapped, the backend sends more.
type Book struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Author   string   `json:"author,omitempty"`
	Language string   `json:"language,omitempty"`
	Format   string   `json:"format,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	CoverURL string   `json:"cover_url,omitempty"`
}

// Author is an aggregated catalog author entry.
type Author struct {
	Name  string `json:"name"`
	Books int    `json:"books,omitempty"`
}

// Client calls the catalog service over HTTP.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	log     *zap.Logger
}

// NewClient constructs a catalog client. Token may be empty for anonymous
// backends.
func NewClient(baseURL, token string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
		log:     log.Named("catalog"),
	}
}

// ArchiveURL returns the download location of the book archive.
func (c *Client) ArchiveURL(bookID string) string {
	return fmt.Sprintf("%s/books/%s/file", c.baseURL, url.PathEscape(bookID))
}

// PositionURL returns the logical reading position resource for the book.
func (c *Client) PositionURL(bookID string) string {
	return fmt.Sprintf("%s/books/%s/position", c.baseURL, url.PathEscape(bookID))
}

func (c *Client) ListBooks(ctx context.Context) ([]Book, error) {
	var books []Book
	if err := c.getJSON(ctx, c.baseURL+"/books", &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *Client) GetBook(ctx context.Context, bookID string) (Book, error) {
	var book Book
	if err := c.getJSON(ctx, c.baseURL+"/books/"+url.PathEscape(bookID), &book); err != nil {
		return Book{}, err
	}
	return book, nil
}

func (c *Client) ListAuthors(ctx context.Context) ([]Author, error) {
	var authors []Author
	if err := c.getJSON(ctx, c.baseURL+"/authors", &authors); err != nil {
		return nil, err
	}
	return authors, nil
}

func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	var tags []string
	if err := c.getJSON(ctx, c.baseURL+"/tags", &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// Health pings the backend health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.addAuthHeader(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}
	return nil
}

// FetchArchive downloads the book archive as a single binary payload. The
// caller owns timeout and retry policy through ctx, servers are known to
// mislabel Content-Type so it is not checked here.
func (c *Client) FetchArchive(ctx context.Context, bookID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ArchiveURL(bookID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", archiveMimeType)
	c.addAuthHeader(req)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read archive payload: %w", err)
	}
	c.log.Debug("Archive fetched",
		zap.String("book", bookID),
		zap.Int("bytes", len(data)),
		zap.String("content-type", resp.Header.Get("Content-Type")),
		zap.Duration("elapsed", time.Since(start)))
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	c.addAuthHeader(req)
	return c.do(req, out)
}

// do executes the request and unpacks the standard response envelope into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unable to read response: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("unable to decode response envelope: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("unable to decode response data: %w", err)
	}
	return nil
}

func (c *Client) addAuthHeader(req *http.Request) {
	if strings.TrimSpace(c.token) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
}
