// Package identity caches the signed-in user on the local machine.
package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/koinonia/teamchat/internal/models"
)

// ErrNoIdentity is returned by Load when nobody is signed in.
var ErrNoIdentity = errors.New("no identity cached")

const identityKey = "identity"

// Cache is a small key-value store in a sqlite file.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize identity cache: %w", err)
		}
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// Save replaces the cached identity.
func (c *Cache) Save(ctx context.Context, id models.Identity) error {
	id.UserID = models.NormalizeUserID(id.UserID)
	if id.UserID == "" {
		return errors.New("identity needs a user id")
	}
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		identityKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// Load returns the cached identity or ErrNoIdentity.
func (c *Cache) Load(ctx context.Context) (models.Identity, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, identityKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Identity{}, ErrNoIdentity
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to read identity: %w", err)
	}

	var id models.Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return models.Identity{}, fmt.Errorf("corrupt identity record: %w", err)
	}
	return id, nil
}

// Clear signs the local user out.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, identityKey); err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	return nil
}
