// Package storage provides the in-memory key-value stores backing the devnet
// ledger world state and the devnet cluster.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

type Copyable interface {
	Copy() Copyable
}

type Hashable interface {
	Hash() string
}

// KVStore is a key-value store whose values may be deep-copied and hashed.
type KVStore interface {
	Get(key string) (interface{}, bool)
	Put(key string, value interface{}) error
	Del(key string) error
	For(func(key string, value interface{}) error) error
	// Prefix calls action on every key starting with prefix, in key order.
	Prefix(prefix string, action func(key string, value interface{}) error) error
	Len() int
	Copy() KVStore
	Hash() []byte
}

// BasicKV is a thread-safe map-backed KVStore.
type BasicKV struct {
	sync.RWMutex
	store map[string]interface{}
}

func NewBasicKV() *BasicKV {
	return &BasicKV{
		store: make(map[string]interface{}),
	}
}

func (kv *BasicKV) Get(key string) (interface{}, bool) {
	kv.RLock()
	defer kv.RUnlock()

	value, ok := kv.store[key]
	return value, ok
}

func (kv *BasicKV) Put(key string, value interface{}) error {
	kv.Lock()
	defer kv.Unlock()

	kv.store[key] = value
	return nil
}

func (kv *BasicKV) Del(key string) error {
	kv.Lock()
	defer kv.Unlock()

	delete(kv.store, key)
	return nil
}

// For iterates over a snapshot, so action may modify the store.
func (kv *BasicKV) For(action func(key string, value interface{}) error) error {
	for _, k := range kv.sortedKeys("") {
		v, ok := kv.Get(k)
		if !ok {
			continue
		}
		err := action(k, v)
		if err != nil {
			return err
		}
	}
	return nil
}

func (kv *BasicKV) Prefix(prefix string, action func(key string, value interface{}) error) error {
	for _, k := range kv.sortedKeys(prefix) {
		v, ok := kv.Get(k)
		if !ok {
			continue
		}
		err := action(k, v)
		if err != nil {
			return err
		}
	}
	return nil
}

func (kv *BasicKV) Len() int {
	kv.RLock()
	defer kv.RUnlock()

	return len(kv.store)
}

func (kv *BasicKV) Copy() KVStore {
	kv.RLock()
	defer kv.RUnlock()

	cp := NewBasicKV()
	for k, v := range kv.store {
		switch vv := v.(type) {
		case Copyable:
			cp.store[k] = vv.Copy()
		default:
			cp.store[k] = v
		}
	}
	return cp
}

func (kv *BasicKV) Hash() []byte {
	sorted := kv.sortedKeys("")

	kv.RLock()
	defer kv.RUnlock()

	h := sha256.New()
	for _, key := range sorted {
		v, ok := kv.store[key]
		if !ok {
			continue
		}
		h.Write([]byte(key))

		switch vv := v.(type) {
		case Hashable:
			h.Write([]byte(vv.Hash()))
		default:
			h.Write([]byte(Hash(vv)))
		}
	}

	return h.Sum(nil)
}

func (kv *BasicKV) sortedKeys(prefix string) []string {
	kv.RLock()
	defer kv.RUnlock()

	keys := make([]string, 0, len(kv.store))
	for k := range kv.store {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Hash hashes the JSON encoding of value.
func Hash(value interface{}) string {
	h := sha256.New()
	bytes, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	h.Write(bytes)

	return hex.EncodeToString(h.Sum(nil))
}
