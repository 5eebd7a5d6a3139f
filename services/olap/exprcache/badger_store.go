// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exprcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/storage/badger"
)

// valueKind tags the scalar types a BadgerStore can encode.
type valueKind uint8

const (
	kindNull valueKind = iota + 1
	kindFloat
	kindInt
	kindString
	kindBool
	kindFloat32
	kindInt64
)

// storedValue is the gob envelope for one cached scalar.
type storedValue struct {
	Kind valueKind
	F    float64
	I    int64
	S    string
	B    bool
}

// BadgerStore is a Store backed by BadgerDB.
//
// Description:
//
//	Member ids are only unique within a process, so every key is prefixed
//	with the namespace and a random instance id chosen when the store is
//	created. Opening a store drops every earlier instance of its namespace,
//	so entries from previous runs neither leak into this one nor accumulate
//	on disk. Scalars keep their Go type across a round trip; other values
//	are not stored.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	ttl    time.Duration
}

// NewBadgerStore creates a store over db.
//
// Inputs:
//
//	db - Open database. The caller keeps ownership.
//	namespace - Key prefix, typically the cube name. Must not contain "/".
//	ttl - Entry lifetime. Zero keeps entries until the namespace is
//	      reopened.
//
// Outputs:
//
//	*BadgerStore - The store.
//	error - Non-nil if db is nil, the namespace is invalid, or dropping
//	        earlier entries fails.
//
// Thread Safety: Must not run concurrently with another store using the
// same namespace on db.
func NewBadgerStore(db *badger.DB, namespace string, ttl time.Duration) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if strings.Contains(namespace, "/") {
		return nil, fmt.Errorf("namespace %q must not contain '/'", namespace)
	}
	ns := []byte(namespace + "/")
	if err := db.DropPrefix(ns); err != nil {
		return nil, fmt.Errorf("drop stale cache entries: %w", err)
	}
	prefix := append(ns, uuid.NewString()+"/"...)
	return &BadgerStore{db: db, prefix: prefix, ttl: ttl}, nil
}

func (s *BadgerStore) key(k Key) []byte {
	return append(append([]byte(nil), s.prefix...), k.Bytes()...)
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, k Key) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := s.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(s.key(k))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cache entry: %w", err)
	}

	var sv storedValue
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&sv); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return decodeValue(sv), true, nil
}

// Save implements Store. Values of unsupported types are skipped.
func (s *BadgerStore) Save(ctx context.Context, k Key, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sv, ok := encodeValue(value)
	if !ok {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sv); err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.db.Update(func(txn *dgbadger.Txn) error {
		e := dgbadger.NewEntry(s.key(k), buf.Bytes())
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

func encodeValue(v any) (storedValue, bool) {
	if dim.IsNull(v) {
		return storedValue{Kind: kindNull}, true
	}
	switch x := v.(type) {
	case float64:
		return storedValue{Kind: kindFloat, F: x}, true
	case float32:
		return storedValue{Kind: kindFloat32, F: float64(x)}, true
	case int:
		return storedValue{Kind: kindInt, I: int64(x)}, true
	case int64:
		return storedValue{Kind: kindInt64, I: x}, true
	case string:
		return storedValue{Kind: kindString, S: x}, true
	case bool:
		return storedValue{Kind: kindBool, B: x}, true
	default:
		return storedValue{}, false
	}
}

func decodeValue(sv storedValue) any {
	switch sv.Kind {
	case kindFloat:
		return sv.F
	case kindFloat32:
		return float32(sv.F)
	case kindInt:
		return int(sv.I)
	case kindInt64:
		return sv.I
	case kindString:
		return sv.S
	case kindBool:
		return sv.B
	default:
		return dim.Null
	}
}
