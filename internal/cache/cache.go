// Package cache keeps the last computed snapshot in a single file and decides
// when it has to be recomputed.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"migration_dash/internal/domain"
)

// DefaultTTL is how long a stored snapshot is served before it is recomputed.
const DefaultTTL = 300 * time.Second

// ErrNotFresh is returned by Load when the file cannot be served.
var ErrNotFresh = errors.New("cached snapshot is not fresh")

// Status is the outcome of inspecting the cache file.
type Status int

const (
	StatusFresh Status = iota
	StatusMissing
	StatusCorrupt
	StatusNoTimestamp
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusMissing:
		return "missing"
	case StatusCorrupt:
		return "corrupt"
	case StatusNoTimestamp:
		return "no_timestamp"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Lookup is the result of reading the cache file.
// Snapshot is only set when Status is StatusFresh.
type Lookup struct {
	Status   Status
	Snapshot *domain.Snapshot
	Age      time.Duration
}

func (l Lookup) Stale() bool {
	return l.Status != StatusFresh
}

// ComputeFunc produces a new snapshot on a cache miss.
type ComputeFunc func(ctx context.Context) (*domain.Snapshot, error)

type FileCache struct {
	path       string
	ttl        time.Duration
	clock      clockwork.Clock
	compressor Compressor
	logger     *slog.Logger
}

type Option func(*FileCache)

// WithClock replaces the wall clock used for age checks.
func WithClock(clock clockwork.Clock) Option {
	return func(c *FileCache) {
		c.clock = clock
	}
}

// WithCompressor stores the file compressed. Plain files remain readable.
func WithCompressor(compressor Compressor) Option {
	return func(c *FileCache) {
		c.compressor = compressor
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *FileCache) {
		c.logger = logger
	}
}

func NewFileCache(path string, ttl time.Duration, opts ...Option) *FileCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &FileCache{
		path:   path,
		ttl:    ttl,
		clock:  clockwork.NewRealClock(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("cache_file", path)

	return c
}

func (c *FileCache) Path() string {
	return c.path
}

func (c *FileCache) TTL() time.Duration {
	return c.ttl
}

// Lookup reads the cache file and classifies it. A snapshot older than the TTL is expired;
// one exactly at the TTL is still fresh.
func (c *FileCache) Lookup() Lookup {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("cache file unreadable", "error", err)
		}
		return Lookup{Status: StatusMissing}
	}

	snapshot, status := decodeSnapshot(data, c.compressor)
	if status != StatusFresh {
		return Lookup{Status: status}
	}

	age := c.clock.Since(snapshot.GeneratedAt)
	if age > c.ttl {
		return Lookup{Status: StatusExpired, Age: age}
	}

	return Lookup{Status: StatusFresh, Snapshot: snapshot, Age: age}
}

func (c *FileCache) IsStale() bool {
	return c.Lookup().Stale()
}

// Load returns the cached snapshot. Callers are expected to have checked IsStale.
func (c *FileCache) Load() (*domain.Snapshot, error) {
	l := c.Lookup()
	if l.Stale() {
		return nil, fmt.Errorf("load %s (%s): %w", c.path, l.Status, ErrNotFresh)
	}
	return l.Snapshot, nil
}

// Store replaces the cache file with the given snapshot. The file is written to a
// temporary sibling and renamed so readers never see a partial file.
func (c *FileCache) Store(snapshot *domain.Snapshot) error {
	data, err := encodeSnapshot(snapshot, c.compressor)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(c.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}

	// Each writer gets its own temp file so concurrent stores never share one.
	file, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpFile := file.Name()

	if _, err = file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile, c.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Invalidate removes the cache file so the next access recomputes.
func (c *FileCache) Invalidate() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// GetOrRefresh returns the cached snapshot while it is fresh. Otherwise it calls compute,
// stores the result and returns it. found is the state the file was in before the call;
// StatusFresh means the file was served.
//
// A compute error is returned unchanged and leaves the existing file in place.
// A store error is logged; the computed snapshot is still returned.
func (c *FileCache) GetOrRefresh(ctx context.Context, compute ComputeFunc) (snapshot *domain.Snapshot, found Status, err error) {
	l := c.Lookup()
	if !l.Stale() {
		return l.Snapshot, l.Status, nil
	}

	c.logger.Debug("cache stale, recomputing", "status", l.Status.String(), "age", l.Age)

	snapshot, err = compute(ctx)
	if err != nil {
		return nil, l.Status, err
	}

	if err := c.Store(snapshot); err != nil {
		c.logger.Error("failed to store snapshot", "error", err)
	}

	return snapshot, l.Status, nil
}
