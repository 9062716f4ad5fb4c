// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store implements the durable key/value BalanceStore: address ->
// balance, plus a persisted tip height, backed by a single bbolt file.
package store

import (
	"encoding/binary"

	"github.com/pkt-cash/pktd/btcutil/er"
	"go.etcd.io/bbolt"
)

// Err is the error type for this package.
var Err = er.NewErrorType("store.Err")

// StoreError wraps a transactional failure in the durable store. It is
// fatal - the single-transaction contract guarantees a failed commit never
// leaves balances and tip height out of sync, but the operation itself must
// be aborted and surfaced.
var StoreError = Err.CodeWithDefault("StoreError", nil)

// NotFound is returned by Get when the address has no stored balance and the
// caller did not supply a default.
var NotFound = Err.CodeWithDefault("NotFound", nil)

var (
	bucketBalances = []byte("address_balance")
	bucketMeta     = []byte("meta")
	keyTipHeight   = []byte("tip_height")
)

// Store is the durable address -> balance map with a persisted tip height.
// Only rows with balance > 0 exist at rest, matching the table contract
// "address_balance(address PRIMARY KEY, balance INTEGER)" / "block_height
// (height INTEGER)" with exactly one row.
type Store struct {
	db *bbolt.DB
}

// Options configures the underlying bbolt file. NoSync trades crash
// durability for throughput during initial sync, mirroring the original
// SQLite PRAGMA journal_mode=MEMORY tuning this program replaces.
type Options struct {
	NoSync bool
}

// Open opens (creating if necessary) the balance store at path.
func Open(path string, opts Options) (*Store, er.R) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{NoSync: opts.NoSync})
	if err != nil {
		return nil, StoreError.New("opening balance store", er.E(err))
	}
	db.NoSync = opts.NoSync

	errr := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBalances); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if errr != nil {
		db.Close()
		return nil, StoreError.New("initializing balance store buckets", er.E(errr))
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() er.R {
	if err := s.db.Close(); err != nil {
		return StoreError.New("closing balance store", er.E(err))
	}
	return nil
}

// Height returns the persisted tip height, or -1 if none has been committed.
func (s *Store) Height() (int32, er.R) {
	var h int32 = -1
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyTipHeight)
		if v == nil {
			return nil
		}
		h = int32(binary.BigEndian.Uint32(v))
		return nil
	})
	if err != nil {
		return 0, StoreError.New("reading tip height", er.E(err))
	}
	return h, nil
}

// Get returns the stored balance for address, or def if absent. If def is
// negative, an absent address raises NotFound.
func (s *Store) Get(address string, def int64) (int64, er.R) {
	var value int64
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBalances).Get([]byte(address))
		if v != nil {
			value = int64(binary.BigEndian.Uint64(v))
			found = true
		}
		return nil
	})
	if err != nil {
		return 0, StoreError.New("reading balance", er.E(err))
	}
	if found {
		return value, nil
	}
	if def < 0 {
		return 0, NotFound.New(address, nil)
	}
	return def, nil
}

// GetBulk returns the stored balance for every address present in addrs,
// omitting absent addresses entirely.
func (s *Store) GetBulk(addrs []string) (map[string]int64, er.R) {
	out := make(map[string]int64, len(addrs))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBalances)
		for _, a := range addrs {
			v := b.Get([]byte(a))
			if v != nil {
				out[a] = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	if err != nil {
		return nil, StoreError.New("reading balances in bulk", er.E(err))
	}
	return out, nil
}

// Update performs a bulk insert/update/delete of balances and advances the
// persisted tip height, all within a single atomic bbolt transaction.
// Addresses in insert must not already exist; addresses in update/delete
// must exist - a violation is a programming bug in the caller and fails the
// whole transaction rather than silently diverging.
func (s *Store) Update(insert, update map[string]int64, del map[string]struct{}, height int32) er.R {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBalances)

		for a, v := range insert {
			if v <= 0 {
				return er.Errorf("insert balance for %q must be positive, got %d", a, v).Native()
			}
			if b.Get([]byte(a)) != nil {
				return er.Errorf("insert address %q already exists in store", a).Native()
			}
			if err := putBalance(b, a, v); err != nil {
				return err
			}
		}

		for a, v := range update {
			if v <= 0 {
				return er.Errorf("update balance for %q must be positive, got %d", a, v).Native()
			}
			if b.Get([]byte(a)) == nil {
				return er.Errorf("update address %q does not exist in store", a).Native()
			}
			if err := putBalance(b, a, v); err != nil {
				return err
			}
		}

		for a := range del {
			if b.Get([]byte(a)) == nil {
				return er.Errorf("delete address %q does not exist in store", a).Native()
			}
			if err := b.Delete([]byte(a)); err != nil {
				return err
			}
		}

		var h [4]byte
		binary.BigEndian.PutUint32(h[:], uint32(height))
		return tx.Bucket(bucketMeta).Put(keyTipHeight, h[:])
	})
	if err != nil {
		return StoreError.New("committing balance update", er.E(err))
	}
	return nil
}

func putBalance(b *bbolt.Bucket, address string, value int64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(value))
	return b.Put([]byte(address), v[:])
}
