// Package store provides the durable keyed datasets that back the tally
// aggregates: JSON documents on local disk fronted by a TTL read-through
// cache. Each dataset is exclusively owned by one Store instance; no other
// component touches the backing files directly.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ReadError wraps a failure to read or parse a dataset's backing document.
// Get swallows it (degrading to the dataset default); Refresh surfaces it so
// the rollover can refuse to reset counters it could not archive.
type ReadError struct {
	Dataset string
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("store: read %s: %v", e.Dataset, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failure to persist a dataset. It is logged and swallowed
// at the store boundary: the in-memory value stays authoritative until the
// process restarts.
type WriteError struct {
	Dataset string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store: write %s: %v", e.Dataset, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store is a single named dataset: an in-memory value of type T mirrored to a
// JSON document. Reads go through a TTL; writes go to memory first and then to
// disk. All mutation of the dataset must go through Set or Mutate - Mutate
// holds the dataset lock across the whole read-modify-write cycle, so two
// concurrent increments can never clobber each other. Values handed out by Get,
// Refresh, and Mutate are isolated snapshots: they never share map storage with
// the cache, so a reader iterating a snapshot cannot race the next mutation.
type Store[T any] struct {
	name      string
	path      string
	ttl       time.Duration
	defaultFn func() T

	mu          sync.Mutex
	cache       *T
	lastRefresh time.Time
	gen         uint64

	reload singleflight.Group
	now    func() time.Time
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithClock overrides the store's time source. Tests use this to drive TTL
// expiry without sleeping.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(s *Store[T]) { s.now = now }
}

// New creates a dataset store. defaultFn synthesizes the value used when the
// backing document is missing or unparsable; it must return a fully shaped
// zero value for the dataset (never nil maps the callers would write into).
func New[T any](name, path string, ttl time.Duration, defaultFn func() T, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		name:      name,
		path:      path,
		ttl:       ttl,
		defaultFn: defaultFn,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the dataset name.
func (s *Store[T]) Name() string { return s.name }

// Get returns a snapshot of the current value, re-reading the backing document
// when the cached value is older than the TTL. A missing or corrupt document
// degrades to the synthesized default, which is persisted so the next reader
// finds a valid file. Get never fails.
func (s *Store[T]) Get(ctx context.Context) T {
	s.mu.Lock()
	if s.cache != nil && s.now().Sub(s.lastRefresh) <= s.ttl {
		v := cloneValue(*s.cache)
		s.mu.Unlock()
		return v
	}
	gen := s.gen
	s.mu.Unlock()

	// Collapse concurrent stale reads into one disk access.
	v, _, _ := s.reload.Do(s.name, func() (interface{}, error) {
		val, err := s.readFromDisk()
		if err != nil {
			slog.Warn("[Store] Read failed, synthesizing default",
				"dataset", s.name, "error", err)
			val = s.defaultFn()
			s.persist(val)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			// A Set or Mutate landed while we were on disk; what it
			// installed is newer than what we read.
			if s.cache != nil {
				return cloneValue(*s.cache), nil
			}
			return val, nil
		}
		s.install(val)
		return val, nil
	})
	return cloneValue(v.(T))
}

// Refresh bypasses the TTL and re-reads the backing document, returning a
// *ReadError if an existing document cannot be read or parsed. A missing
// document is not an error: it refreshes to the synthesized default. The
// rollover uses Refresh for its pre-archive reads.
func (s *Store[T]) Refresh(ctx context.Context) (T, error) {
	val, err := s.readFromDisk()
	if err != nil {
		if os.IsNotExist(err) {
			val = s.defaultFn()
		} else {
			var zero T
			return zero, &ReadError{Dataset: s.name, Err: err}
		}
	}
	s.mu.Lock()
	s.install(val)
	s.mu.Unlock()
	return val, nil
}

// Set replaces the dataset value. The in-memory cache is updated first and is
// authoritative immediately; the disk mirror is written synchronously after.
// A write failure is logged and swallowed (the process is the sole writer, so
// memory stays correct until restart).
func (s *Store[T]) Set(ctx context.Context, v T) {
	s.mu.Lock()
	s.install(v)
	s.mu.Unlock()

	s.persist(v)
}

// Mutate applies fn to the current value and persists the result, holding the
// dataset lock for the whole read-modify-write cycle. fn receives its own copy
// of the freshest available value (disk is consulted if the cache is stale),
// so in-place mutation never touches the cache; returning an error abandons
// the mutation with nothing written.
func (s *Store[T]) Mutate(ctx context.Context, fn func(T) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur T
	if s.cache != nil && s.now().Sub(s.lastRefresh) <= s.ttl {
		cur = cloneValue(*s.cache)
	} else {
		v, err := s.readFromDisk()
		if err != nil {
			slog.Warn("[Store] Read failed during mutate, synthesizing default",
				"dataset", s.name, "error", err)
			v = s.defaultFn()
		}
		cur = v
	}

	next, err := fn(cur)
	if err != nil {
		var zero T
		return zero, err
	}

	s.install(next)
	s.persist(next)
	return next, nil
}

// Invalidate forces the next Get to bypass the TTL and re-read from disk.
func (s *Store[T]) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.lastRefresh = time.Time{}
	s.gen++
	s.mu.Unlock()
}

// install records v as the cache value. The caller must hold s.mu. The cache
// keeps its own copy: map-typed datasets would otherwise share storage with
// the value the caller hands out or got from fn.
func (s *Store[T]) install(v T) {
	cached := cloneValue(v)
	s.cache = &cached
	s.lastRefresh = s.now()
	s.gen++
}

// cloneValue deep-copies v through its JSON form, the same representation the
// backing document uses. A marshal failure returns v unchanged; dataset types
// are JSON documents by contract, so that path only exists for safety.
func cloneValue[T any](v T) T {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func (s *Store[T]) readFromDisk() (T, error) {
	var v T
	content, err := os.ReadFile(s.path)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(content, &v); err != nil {
		return v, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return v, nil
}

// persist mirrors v to the backing document. Writes are atomic: a temp file
// in the same directory is renamed over the target, so a crash mid-write
// never leaves a truncated document behind.
func (s *Store[T]) persist(v T) {
	if err := s.writeFile(v); err != nil {
		werr := &WriteError{Dataset: s.name, Err: err}
		slog.Error("[Store] Persist failed, in-memory value remains authoritative",
			"dataset", s.name, "path", s.path, "error", werr)
	}
}

func (s *Store[T]) writeFile(v T) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
