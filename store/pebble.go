// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/luxfi/database"
	log "github.com/luxfi/log"
)

// PebbleKV adapts a pebble database to KV.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebble opens or creates a pebble database in dir.
func OpenPebble(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &PebbleKV{db: db}, nil
}

// NewPebble returns a store backed by a pebble database in dir.
func NewPebble(dir string, logger log.Logger) (*Store, error) {
	kv, err := OpenPebble(dir)
	if err != nil {
		return nil, err
	}
	return New(kv, logger), nil
}

// Has reports whether key exists.
func (p *PebbleKV) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

// Get returns a copy of the value at key.
func (p *PebbleKV) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Put writes value at key and syncs.
func (p *PebbleKV) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

// PutBatch commits entries in one synced pebble batch.
func (p *PebbleKV) PutBatch(entries []Entry) error {
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, e := range entries {
		if err := batch.Set(e.Key, e.Value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Delete removes key.
func (p *PebbleKV) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

// Close closes the database.
func (p *PebbleKV) Close() error {
	return p.db.Close()
}
