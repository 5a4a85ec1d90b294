// Package cache keeps metadata lookups keyed by normalized URL, bounded by
// age and by total serialized size, and persisted after every change.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mediaqueue/internal/storage"
)

const (
	documentName   = "cache"
	DefaultTTL     = time.Hour
	DefaultMaxSize = 10 << 20
)

// Options bound the cache. Zero values select the defaults.
type Options struct {
	TTL     time.Duration
	MaxSize int64
}

type entry struct {
	Key      string    `json:"key"`
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
	size     int64
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	backend storage.Store
	ttl     time.Duration
	maxSize int64
	entries map[string]*entry
	size    int64
	now     func() time.Time
}

// Open loads the persisted cache. A missing or unreadable document starts empty.
func Open(ctx context.Context, backend storage.Store, opts Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("cache: nil backend")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	s := &Store{
		backend: backend,
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		entries: make(map[string]*entry),
		now:     time.Now,
	}

	var persisted []*entry
	err := backend.Load(ctx, documentName, &persisted)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		log.Warn().Err(err).Msg("cache document unreadable, starting empty")
	default:
		for _, e := range persisted {
			if e == nil || e.Key == "" {
				continue
			}
			e.size = entrySize(e)
			s.entries[e.Key] = e
			s.size += e.size
		}
		s.cleanup()
	}
	return s, nil
}

// Get returns the value stored for url if it is younger than the TTL.
// An expired entry is dropped and the removal persisted.
func (s *Store) Get(url string) ([]byte, bool) {
	key := Key(url)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.expired(e) {
		s.remove(key)
		if err := s.flush(); err != nil {
			log.Warn().Err(err).Msg("persist cache after expiry failed")
		}
		return nil, false
	}
	out := make([]byte, len(e.Value))
	copy(out, e.Value)
	return out, true
}

// Set stores value for url and enforces the TTL and size bound before
// persisting. The in-memory state is updated even if persisting fails.
func (s *Store) Set(url string, value []byte) error {
	key := Key(url)
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key)
	e := &entry{Key: key, Value: v, StoredAt: s.now()}
	e.size = entrySize(e)
	s.entries[key] = e
	s.size += e.size

	s.cleanup()
	return s.flush()
}

// Clear drops every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.size = 0
	return s.flush()
}

// Len returns the number of entries, expired ones included until cleaned.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Size returns the summed serialized size of all entries.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Store) expired(e *entry) bool {
	return s.now().Sub(e.StoredAt) > s.ttl
}

func (s *Store) remove(key string) {
	if e, ok := s.entries[key]; ok {
		s.size -= e.size
		delete(s.entries, key)
	}
}

// cleanup drops expired entries, then the oldest until size fits.
func (s *Store) cleanup() {
	for key, e := range s.entries {
		if s.expired(e) {
			s.remove(key)
		}
	}
	if s.size <= s.maxSize {
		return
	}
	byAge := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		byAge = append(byAge, e)
	}
	sort.Slice(byAge, func(i, j int) bool {
		if byAge[i].StoredAt.Equal(byAge[j].StoredAt) {
			return byAge[i].Key < byAge[j].Key
		}
		return byAge[i].StoredAt.Before(byAge[j].StoredAt)
	})
	for _, e := range byAge {
		if s.size <= s.maxSize {
			break
		}
		s.remove(e.Key)
	}
}

func (s *Store) flush() error {
	snapshot := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].StoredAt.Before(snapshot[j].StoredAt) })
	// persistence runs under mu so the document always matches memory
	if err := s.backend.Save(context.Background(), documentName, snapshot); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

// Key returns the cache key for url: hex SHA-256 of its normalized form.
func Key(url string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(url)))
	return hex.EncodeToString(sum[:])
}

func entrySize(e *entry) int64 {
	b, err := json.Marshal(e)
	if err != nil {
		return int64(len(e.Key) + len(e.Value))
	}
	return int64(len(b))
}
