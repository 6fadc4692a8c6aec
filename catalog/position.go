package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Identity qualifies a reading position record. The backend upserts per
// (book, user, device, format) key.
type Identity struct {
	User   string `json:"user"`
	Device string `json:"device"`
	Format string `json:"format"`
}

func (id Identity) query() url.Values {
	v := url.Values{}
	v.Set("user", id.User)
	v.Set("device", id.Device)
	v.Set("format", id.Format)
	return v
}

// Position is the persisted reading location of a book.
type Position struct {
	CFI     string  `json:"cfi"`
	PosFrac float64 `json:"pos_frac,omitempty"`
	Device  string  `json:"device,omitempty"`
}

type positionBody struct {
	Location  string `json:"location"`
	Format    string `json:"format"`
	User      string `json:"user"`
	Device    string `json:"device"`
	Timestamp int64  `json:"timestamp"`
}

// GetPosition loads the last saved position. A missing record comes back as
// (nil, nil), anything else the caller decides how soft to treat.
func (c *Client) GetPosition(ctx context.Context, bookID string, id Identity) (*Position, error) {
	u := c.PositionURL(bookID) + "?" + id.query().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.addAuthHeader(req)

	var pos Position
	if err := c.do(req, &pos); err != nil {
		if ae, ok := err.(*APIError); ok && ae.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(pos.CFI) == 0 {
		// success envelope with null data - nothing saved yet
		return nil, nil
	}
	return &pos, nil
}

// PutPosition updates the saved position with an update-style verb.
func (c *Client) PutPosition(ctx context.Context, bookID, location string, id Identity) error {
	return c.writePosition(ctx, http.MethodPut, bookID, location, id)
}

// PostPosition saves the position with a create-style verb. Exists because the
// backend upsert endpoint has been inconsistent about accepting updates vs
// first-time creates.
func (c *Client) PostPosition(ctx context.Context, bookID, location string, id Identity) error {
	return c.writePosition(ctx, http.MethodPost, bookID, location, id)
}

func (c *Client) writePosition(ctx context.Context, verb, bookID, location string, id Identity) error {
	body, err := json.Marshal(positionBody{
		Location:  location,
		Format:    id.Format,
		User:      id.User,
		Device:    id.Device,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, verb, c.PositionURL(bookID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuthHeader(req)

	if err := c.do(req, nil); err != nil {
		return err
	}
	c.log.Debug("Position saved", zap.String("book", bookID), zap.String("verb", verb), zap.String("location", location))
	return nil
}
