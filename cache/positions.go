// Package cache keeps the last known reading positions in a local sqlite
// database. It backs the position synchronizer when the catalog backend is
// unreachable, so reopening a book offline still lands on the right page.
package cache

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"epr/catalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	book_id  TEXT NOT NULL,
	user     TEXT NOT NULL,
	device   TEXT NOT NULL,
	format   TEXT NOT NULL,
	cfi      TEXT NOT NULL,
	saved_at INTEGER NOT NULL,
	PRIMARY KEY (book_id, user, device, format)
);`

// Positions is a small single-connection store. Connection access is
// serialized, reader never produces enough traffic to warrant a pool.
type Positions struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	log  *zap.Logger
}

// OpenPositions opens (creating when necessary) the position cache at path.
// Use ":memory:" for a throwaway store.
func OpenPositions(path string, log *zap.Logger) (*Positions, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("unable to open position cache %q: %w", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, schema, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("unable to prepare position cache schema: %w", err)
	}
	return &Positions{conn: conn, log: log.Named("cache")}, nil
}

func (p *Positions) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Save upserts the location for the identity key. Nil receiver is a no-op so
// callers do not have to care whether caching was configured.
func (p *Positions) Save(bookID, location string, id catalog.Identity) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("position cache is closed")
	}
	err := sqlitex.Execute(p.conn,
		`INSERT INTO positions (book_id, user, device, format, cfi, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (book_id, user, device, format)
		 DO UPDATE SET cfi = excluded.cfi, saved_at = excluded.saved_at;`,
		&sqlitex.ExecOptions{
			Args: []any{bookID, id.User, id.Device, id.Format, location, time.Now().UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("unable to cache position: %w", err)
	}
	p.log.Debug("Position cached", zap.String("book", bookID), zap.String("location", location))
	return nil
}

// Load returns the cached location or empty string when nothing was saved.
func (p *Positions) Load(bookID string, id catalog.Identity) (string, error) {
	if p == nil {
		return "", nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return "", fmt.Errorf("position cache is closed")
	}
	var cfi string
	err := sqlitex.Execute(p.conn,
		`SELECT cfi FROM positions WHERE book_id = ? AND user = ? AND device = ? AND format = ?;`,
		&sqlitex.ExecOptions{
			Args: []any{bookID, id.User, id.Device, id.Format},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				cfi = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("unable to read cached position: %w", err)
	}
	return cfi, nil
}
