package core

import "errors"

// ErrKeyNotFound is returned by KVStore.Get when no value exists for a key.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is a durable key/value store. Callers treat writes as best-effort:
// a store that is unavailable must fail with an error, never panic, and
// consumers are expected to degrade silently.
type KVStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}
