// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tracestore persists the append-only interaction record on BadgerDB.
//
// BadgerDB gives local embedded storage with low-latency access (~100µs),
// which keeps trace reads inside the frame builder's timebox. Entries are
// keyed so that a per-user prefix scan in reverse yields newest-first:
//
//	trace/{user_id}/{unix_nano:020d}/{entry_id}
//
// Appends are atomic per entry (one badger transaction each). No ordering is
// guaranteed across users, and entries are never updated or deleted here;
// retention and compaction are external concerns.
package tracestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

// keyPrefix namespaces all trace entries within the database.
const keyPrefix = "trace/"

// ErrEmptyUserID is returned when a caller passes an empty user id.
var ErrEmptyUserID = errors.New("user id must not be empty")

// Config holds configuration for the trace store's BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: synchronous writes, on-disk.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: in-memory, async writes.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the append-only trace record.
//
// # Thread Safety
//
// Store is safe for concurrent use; BadgerDB serializes conflicting writes
// and each append is its own transaction.
type Store struct {
	db *badger.DB
}

// Open opens a trace store with the given configuration.
//
// The caller must Close() the returned store. The directory is created if it
// does not exist.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent trace store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create trace store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store for testing.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes one trace entry atomically.
//
// The entry's UserID and Timestamp must be set; the key is derived from them
// so per-user timestamp order is the storage order.
func (s *Store) Append(ctx context.Context, entry datatypes.TraceEntry) error {
	if entry.UserID == "" {
		return ErrEmptyUserID
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal trace entry: %w", err)
	}
	key := entryKey(entry)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("append trace entry: %w", err)
	}
	return nil
}

// Recent returns up to k entries for a user, newest first.
//
// A stale read is preferable to a blocked frame, so callers are expected to
// bound ctx with the frame builder's per-source timebox.
func (s *Store) Recent(ctx context.Context, userID string, k int) ([]datatypes.TraceEntry, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	prefix := userPrefix(userID)
	entries := make([]datatypes.TraceEntry, 0, k)

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// Reverse iteration starts past the end of the prefix range.
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(entries) < k; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var entry datatypes.TraceEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return fmt.Errorf("decode trace entry %s: %w", it.Item().Key(), err)
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read recent trace entries: %w", err)
	}
	return entries, nil
}

// entryKey builds the storage key for an entry.
func entryKey(entry datatypes.TraceEntry) []byte {
	return fmt.Appendf(nil, "%s%s/%020d/%s",
		keyPrefix, entry.UserID, entry.Timestamp.UnixNano(), entry.ID)
}

// userPrefix builds the prefix covering all of one user's entries.
func userPrefix(userID string) []byte {
	return fmt.Appendf(nil, "%s%s/", keyPrefix, userID)
}

// Summaries converts trace entries to the bounded frame representation.
func Summaries(entries []datatypes.TraceEntry) []datatypes.TraceSummary {
	if len(entries) == 0 {
		return nil
	}
	out := make([]datatypes.TraceSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, datatypes.TraceSummary{
			Backend:    e.BackendUsed,
			Outcome:    e.Outcome,
			Confidence: e.Confidence,
		})
	}
	return out
}
