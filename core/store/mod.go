// Package store defines the primitives of the key/value storage that holds
// the accounts of the ledger.
//
// A missing key is not an error: Get returns a nil value.
package store

// Readable is the interface for a readable store.
type Readable interface {
	Get(key []byte) ([]byte, error)
}

// Writable is the interface for a writable store.
type Writable interface {
	Set(key []byte, value []byte) error

	Delete(key []byte) error
}

// Iterable is the interface for a store that can enumerate its keys.
type Iterable interface {
	// Scan calls the callback for every key that starts with the prefix, in
	// lexicographic order. The iteration stops at the first error.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// Snapshot is a state of the store that can be read and written
// independently. A write is applied only to the snapshot reference.
type Snapshot interface {
	Readable
	Writable
}

// IterableSnapshot is a snapshot that can also be scanned.
type IterableSnapshot interface {
	Snapshot
	Iterable
}
