// Package storage provides a uniform byte-oriented key/value facade
// over pluggable blob backends. Backends are selected by configuration;
// the execution engine only ever sees the Mapping interface.
package storage

import (
	"context"
	"errors"
	"io"
)

type (
	// Mapping is the abstract key→bytes store consumed by the engine.
	// Keys are unique strings; iteration order is unspecified. All
	// methods are safe for concurrent use on disjoint keys.
	Mapping interface {
		// Save writes the full contents of r under key, overwriting any
		// existing value, and returns a backend-specific reference URL
		Save(ctx context.Context, key string, r io.Reader) (string, error)

		// Load reads the full value stored under key
		Load(ctx context.Context, key string) ([]byte, error)

		// NewReader opens a streaming reader for key, for payloads too
		// large to buffer
		NewReader(ctx context.Context, key string) (io.ReadCloser, error)

		// Delete removes key; a missing key yields ErrNotFound
		Delete(ctx context.Context, key string) error

		// Exists reports whether key is present
		Exists(ctx context.Context, key string) (bool, error)

		// Size returns the byte length stored under key
		Size(ctx context.Context, key string) (int64, error)

		// List returns a lazy iterator over keys with the given prefix.
		// Each call starts a fresh iteration.
		List(prefix string) ListIterator

		// URL returns the backend-specific reference for key
		URL(key string) string

		Close() error
	}

	// ListIterator yields keys one at a time; Next returns io.EOF once
	// the listing is exhausted
	ListIterator interface {
		Next(ctx context.Context) (string, error)
	}
)

var (
	ErrNotFound         = errors.New("key not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrIO               = errors.New("storage i/o failure")
)

// Keys lists every key under prefix eagerly. Intended for small
// namespaces and tests; large listings should drive the iterator.
func Keys(ctx context.Context, m Mapping, prefix string) ([]string, error) {
	var keys []string
	it := m.List(prefix)
	for {
		key, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
}
