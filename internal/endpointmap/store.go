// Package endpointmap is the host-local endpoint-map database: it maps
// (interface UUID, protocol sequence) pairs to the live endpoint (address)
// a server is currently listening on, so clients holding a partially-bound
// handle can re-resolve on their next call. Generalized from a
// program/version/protocol portmapper registry to an interface-UUID-keyed
// one, and persisted via an embedded KV store instead of an in-memory map so
// the mapping survives a server restart on the same host.
package endpointmap

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key identifies one registration: an interface UUID bound over one
// protocol sequence. Protocol is an int mirroring rpcrt.ProtocolSequence
// without importing the pkg/rpcrt package (this package sits below it).
type Key struct {
	InterfaceUUID uuid.UUID
	Protocol      int
}

func (k Key) encode() []byte {
	return []byte(fmt.Sprintf("%s|%d", k.InterfaceUUID.String(), k.Protocol))
}

// Entry is one registered mapping: the endpoint address plus the
// service-name annotation (truncated to 63 bytes by the caller per the
// original's exact endpoint-map annotation limit).
type Entry struct {
	Address    string
	Annotation string
}

// Store is a thread-safe, badger-backed endpoint-map database.
type Store struct {
	db *badger.DB
	mu sync.Mutex
}

// Open opens (creating if absent) a badger store at dir. Pass "" for dir to
// use an in-memory store, appropriate for tests and for a process that does
// not need its endpoint map to survive a restart.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("endpointmap: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Set registers or replaces a mapping.
func (s *Store) Set(key Key, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("endpointmap: encode entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key.encode(), raw)
	})
}

// Unset removes a mapping. Returns nil whether or not it existed.
func (s *Store) Unset(key Key) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key.encode())
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Get resolves a mapping. The second return is false if no mapping exists,
// the idiomatic ok-boolean in place of a sentinel "0 means not registered"
// value.
func (s *Store) Get(key Key) (Entry, bool, error) {
	var entry Entry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.encode())
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("endpointmap: get: %w", err)
	}
	return entry, found, nil
}

// Clear removes all mappings. Used during full server teardown.
func (s *Store) Clear() error {
	return s.db.DropAll()
}
