// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store persists component state as versioned JSON documents in a
// key-value backend.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/swapbridge/bridge"
	"github.com/luxfi/swapbridge/fault"
	"github.com/luxfi/swapbridge/ledger"
	"github.com/luxfi/swapbridge/oracle"
	"github.com/luxfi/swapbridge/stableswap"
)

// SchemaVersion is the document layout written by this package.
const SchemaVersion = 1

// Component names
const (
	ComponentLedger = "ledger"
	ComponentOracle = "oracle"
	ComponentPool   = "pool"
	ComponentBridge = "bridge"
)

// Store errors
var (
	ErrNotFound      = fault.State("state not found")
	ErrSchemaVersion = fault.State("unsupported schema version")
	ErrClosed        = fault.State("store closed")
)

// KV is the subset of a key-value database the store needs. PutBatch
// writes every entry or none of them.
type KV interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	PutBatch(entries []Entry) error
	Delete(key []byte) error
	Close() error
}

// Entry is one key-value pair of a batch.
type Entry struct {
	Key   []byte
	Value []byte
}

// DatabaseKV adapts a database.Database to KV.
type DatabaseKV struct {
	database.Database
}

// PutBatch writes entries in one database batch.
func (d DatabaseKV) PutBatch(entries []Entry) error {
	batch := d.NewBatch()
	for _, e := range entries {
		if err := batch.Put(e.Key, e.Value); err != nil {
			return err
		}
	}
	return batch.Write()
}

// Bundle holds one snapshot of every component.
type Bundle struct {
	Ledger ledger.State
	Oracle oracle.State
	Pool   stableswap.State
	Bridge bridge.State
}

// document wraps every persisted component.
type document struct {
	Version   int             `json:"version"`
	Component string          `json:"component"`
	SavedAt   uint64          `json:"savedAt"`
	Data      json.RawMessage `json:"data"`
}

// Store reads and writes component snapshots.
type Store struct {
	kv     KV
	log    log.Logger
	closed bool

	mu sync.Mutex
}

// New wraps kv. A nil logger gets the default.
func New(kv KV, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Store{kv: kv, log: logger}
}

// NewMemory returns a store on an in-memory database.
func NewMemory(logger log.Logger) *Store {
	return New(DatabaseKV{memdb.New()}, logger)
}

// Key derives the storage key of a component.
func Key(component string) []byte {
	h := blake3.New()
	h.Write([]byte("swapbridge/state/"))
	h.Write([]byte(component))
	var key common.Hash
	copy(key[:], h.Sum(nil))
	return key.Bytes()
}

func encode(component string, savedAt uint64, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", component, err)
	}
	raw, err := json.Marshal(document{
		Version:   SchemaVersion,
		Component: component,
		SavedAt:   savedAt,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", component, err)
	}
	return raw, nil
}

func (s *Store) put(component string, savedAt uint64, v any) error {
	raw, err := encode(component, savedAt, v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.kv.Put(Key(component), raw); err != nil {
		return fmt.Errorf("put %s: %w", component, err)
	}
	s.log.Debug("state saved", "component", component, "bytes", len(raw))
	return nil
}

func (s *Store) get(component string, v any) (uint64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	raw, err := s.kv.Get(Key(component))
	s.mu.Unlock()
	if errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, component)
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", component, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("decode %s: %w", component, err)
	}
	if doc.Version != SchemaVersion {
		return 0, fmt.Errorf("%w: %s has version %d, want %d", ErrSchemaVersion, component, doc.Version, SchemaVersion)
	}
	if doc.Component != component {
		return 0, fmt.Errorf("%w: document is %q, want %q", ErrSchemaVersion, doc.Component, component)
	}
	if err := json.Unmarshal(doc.Data, v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", component, err)
	}
	return doc.SavedAt, nil
}

// Has reports whether a snapshot of component exists.
func (s *Store) Has(component string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.kv.Has(Key(component))
}

// Delete removes the snapshot of component.
func (s *Store) Delete(component string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.kv.Delete(Key(component))
}

// SaveLedger writes the ledger snapshot.
func (s *Store) SaveLedger(st ledger.State, savedAt uint64) error {
	return s.put(ComponentLedger, savedAt, st)
}

// LoadLedger reads the ledger snapshot.
func (s *Store) LoadLedger() (ledger.State, error) {
	var st ledger.State
	_, err := s.get(ComponentLedger, &st)
	return st, err
}

// SaveOracle writes the oracle snapshot.
func (s *Store) SaveOracle(st oracle.State, savedAt uint64) error {
	return s.put(ComponentOracle, savedAt, st)
}

// LoadOracle reads the oracle snapshot.
func (s *Store) LoadOracle() (oracle.State, error) {
	var st oracle.State
	_, err := s.get(ComponentOracle, &st)
	return st, err
}

// SavePool writes the pool snapshot.
func (s *Store) SavePool(st stableswap.State, savedAt uint64) error {
	return s.put(ComponentPool, savedAt, st)
}

// LoadPool reads the pool snapshot.
func (s *Store) LoadPool() (stableswap.State, error) {
	var st stableswap.State
	_, err := s.get(ComponentPool, &st)
	return st, err
}

// SaveBridge writes the bridge snapshot.
func (s *Store) SaveBridge(st bridge.State, savedAt uint64) error {
	return s.put(ComponentBridge, savedAt, st)
}

// LoadBridge reads the bridge snapshot.
func (s *Store) LoadBridge() (bridge.State, error) {
	var st bridge.State
	_, err := s.get(ComponentBridge, &st)
	return st, err
}

// SaveAll writes every component of b in one batch. On error the previous
// snapshots are left as they were.
func (s *Store) SaveAll(b Bundle, savedAt uint64) error {
	parts := []struct {
		component string
		v         any
	}{
		{ComponentLedger, b.Ledger},
		{ComponentOracle, b.Oracle},
		{ComponentPool, b.Pool},
		{ComponentBridge, b.Bridge},
	}
	entries := make([]Entry, 0, len(parts))
	size := 0
	for _, p := range parts {
		raw, err := encode(p.component, savedAt, p.v)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Key: Key(p.component), Value: raw})
		size += len(raw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.kv.PutBatch(entries); err != nil {
		return fmt.Errorf("put batch: %w", err)
	}
	s.log.Debug("state saved", "components", len(entries), "bytes", size)
	return nil
}

// SavedAt returns the time component was last saved.
func (s *Store) SavedAt(component string) (uint64, error) {
	var skip json.RawMessage
	return s.get(component, &skip)
}

// Close closes the backend. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.kv.Close()
}
