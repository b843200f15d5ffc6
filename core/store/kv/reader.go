package kv

import (
	"github.com/privdao/privdao/core/store"
)

// BucketStore exposes a single bucket of the database as a store. Every read
// opens its own transaction and returns a copy of the value, so that the
// bytes outlive the transaction.
//
// - implements store.Readable
// - implements store.Iterable
type BucketStore struct {
	db     DB
	bucket []byte
}

// NewBucketStore returns the store of the bucket. The bucket is created when
// it does not exist yet.
func NewBucketStore(db DB, bucket []byte) (BucketStore, error) {
	err := db.Update(bucket, func(Bucket) error { return nil })
	if err != nil {
		return BucketStore{}, err
	}

	return BucketStore{db: db, bucket: bucket}, nil
}

// Get implements store.Readable.
func (s BucketStore) Get(key []byte) ([]byte, error) {
	var value []byte

	err := s.db.View(s.bucket, func(b Bucket) error {
		value = copyBytes(b.Get(key))
		return nil
	})

	return value, err
}

// Scan implements store.Iterable.
func (s BucketStore) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(s.bucket, func(b Bucket) error {
		return b.Scan(prefix, func(k, v []byte) error {
			return fn(copyBytes(k), copyBytes(v))
		})
	})
}

// Apply runs the callback in a single writable transaction of the bucket.
// Either every write of the callback is persisted or none.
func (s BucketStore) Apply(fn func(store.Writable) error) error {
	return s.db.Update(s.bucket, func(b Bucket) error {
		return fn(b)
	})
}

func copyBytes(src []byte) []byte {
	if src == nil {
		return nil
	}

	dst := make([]byte, len(src))
	copy(dst, src)

	return dst
}
