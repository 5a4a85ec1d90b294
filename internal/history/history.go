// Package history records finished download attempts, newest first.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mediaqueue/internal/storage"
)

const (
	documentName      = "history"
	DefaultMaxEntries = 1000
)

type Entry struct {
	TaskID        string            `json:"task_id"`
	URL           string            `json:"url"`
	Title         string            `json:"title,omitempty"`
	FormatOptions map[string]string `json:"format_options,omitempty"`
	OutputPath    string            `json:"output_path,omitempty"`
	Status        string            `json:"status"`
	Error         string            `json:"error,omitempty"`
	Attempts      int               `json:"attempts"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Store keeps at most maxEntries entries and persists after each change.
type Store struct {
	mu         sync.RWMutex
	backend    storage.Store
	maxEntries int
	entries    []Entry
}

// Open loads persisted history. maxEntries <= 0 selects the default.
func Open(ctx context.Context, backend storage.Store, maxEntries int) (*Store, error) {
	if backend == nil {
		return nil, errors.New("history: nil backend")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &Store{backend: backend, maxEntries: maxEntries}

	var persisted []Entry
	err := backend.Load(ctx, documentName, &persisted)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		log.Warn().Err(err).Msg("history document unreadable, starting empty")
	default:
		if len(persisted) > maxEntries {
			persisted = persisted[:maxEntries]
		}
		s.entries = persisted
	}
	return s, nil
}

// Append inserts e at the head, drops the overflow and persists.
func (s *Store) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.FormatOptions = cloneMap(e.FormatOptions)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Entry, 0, min(len(s.entries)+1, s.maxEntries))
	next = append(next, e)
	next = append(next, s.entries[:min(len(s.entries), s.maxEntries-1)]...)
	s.entries = next
	return s.flush()
}

// Recent returns up to limit newest entries; limit <= 0 returns all.
func (s *Store) Recent(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	for i := range out {
		out[i] = s.entries[i]
		out[i].FormatOptions = cloneMap(out[i].FormatOptions)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return s.flush()
}

func (s *Store) flush() error {
	doc := s.entries
	if doc == nil {
		doc = []Entry{}
	}
	if err := s.backend.Save(context.Background(), documentName, doc); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
