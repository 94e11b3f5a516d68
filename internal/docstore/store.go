// Package docstore is the document datastore behind the chat server. It
// keeps conversations, members, messages, push tokens, unread counters and
// presence records in pebble, and streams full ordered message snapshots to
// subscribers whenever a conversation's messages change.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"github.com/koinonia/teamchat/internal/logging"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrBatchTooLarge is returned when a lookup exceeds the batch limit.
	ErrBatchTooLarge = errors.New("lookup batch exceeds limit")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("datastore closed")
)

// DefaultBatchLimit is the maximum number of ids accepted by a batched lookup.
const DefaultBatchLimit = 10

// Options configures Open.
type Options struct {
	// Path is the pebble directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in a memory filesystem (tests, demos)
	InMemory bool

	// BatchLimit caps PushTokens lookups; zero selects DefaultBatchLimit
	BatchLimit int
}

// Store is the pebble-backed document datastore.
type Store struct {
	db         *pebble.DB
	batchLimit int
	logger     zerolog.Logger
	now        func() time.Time

	// mu serializes read-modify-write operations and timestamp issuance
	mu     sync.Mutex
	lastTS time.Time

	watchMu  sync.Mutex
	watchers map[string]map[*subscription]struct{}
	closed   bool
}

// Open opens (or creates) a datastore.
func Open(opts Options) (*Store, error) {
	pebbleOpts := &pebble.Options{}
	path := opts.Path
	if opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
		path = ""
	} else {
		if path == "" {
			return nil, errors.New("datastore path is required")
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}

	limit := opts.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	return &Store{
		db:         db,
		batchLimit: limit,
		logger:     logging.Component("docstore"),
		now:        time.Now,
		watchers:   make(map[string]map[*subscription]struct{}),
	}, nil
}

// OpenInMemory is Open with an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// BatchLimit is the maximum size of a batched lookup.
func (s *Store) BatchLimit() int { return s.batchLimit }

// Close stops all subscriptions and closes the database.
func (s *Store) Close() error {
	s.watchMu.Lock()
	if s.closed {
		s.watchMu.Unlock()
		return nil
	}
	s.closed = true
	var subs []*subscription
	for _, set := range s.watchers {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	s.watchers = nil
	s.watchMu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return s.db.Close()
}

// Ping reports ErrClosed once the store has been closed.
func (s *Store) Ping(ctx context.Context) error { return s.check(ctx) }

func (s *Store) isClosed() bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return s.closed
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	return nil
}

func (s *Store) putJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return s.db.Set(key, data, pebble.Sync)
}

func (s *Store) getJSON(key []byte, v interface{}) error {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse document %q: %w", key, err)
	}
	return nil
}

func (s *Store) exists(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// scan calls fn for every key under prefix in key order. Key and value are
// only valid during the call.
func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			break
		}
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func scanJSON[T any](s *Store, prefix []byte) ([]T, error) {
	var out []T
	err := s.scan(prefix, func(key, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("failed to parse document %q: %w", key, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// nextTimestamp returns a strictly increasing server timestamp.
// Callers hold s.mu.
func (s *Store) nextTimestamp() time.Time {
	ts := s.now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = ts
	return ts
}
