// Package storage persists whole JSON documents (the cache and the history)
// under a short name. Backends are interchangeable; callers only see Store.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no document with that name was saved.
var ErrNotFound = errors.New("document not found")

// Store abstracts persistence of named documents.
type Store interface {
	Load(ctx context.Context, name string, v any) error
	Save(ctx context.Context, name string, v any) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	DataDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds the backend named in opts. An empty backend means file.
func Open(ctx context.Context, opts Options) (Store, error) { //nolint:ireturn
	var (
		s   Store
		err error
	)
	switch opts.Backend {
	case "", BackendFile:
		s, err = NewFileStore(opts.DataDir)
	case BackendSQLite:
		s, err = OpenSQLite(ctx, opts.DataDir)
	case BackendRedis:
		s, err = OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
