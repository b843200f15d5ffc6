// Package mem implements in-memory stores.
//
// Store is a plain map guarded by a lock. Overlay stages the writes of a
// transaction on top of a parent store so that they can be committed in one
// step, or dropped.
package mem

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/privdao/privdao/core/store"
)

// Store is an in-memory key/value store.
//
// - implements store.IterableSnapshot
type Store struct {
	sync.RWMutex
	values map[string][]byte
}

// NewStore returns a new empty store.
func NewStore() *Store {
	return &Store{
		values: make(map[string][]byte),
	}
}

// Get implements store.Readable.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	return clone(s.values[string(key)]), nil
}

// Set implements store.Writable.
func (s *Store) Set(key, value []byte) error {
	s.Lock()
	s.values[string(key)] = clone(value)
	s.Unlock()

	return nil
}

// Delete implements store.Writable.
func (s *Store) Delete(key []byte) error {
	s.Lock()
	delete(s.values, string(key))
	s.Unlock()

	return nil
}

// Scan implements store.Iterable. The callback is called on a copy of the
// matching entries so it may write to the store.
func (s *Store) Scan(prefix []byte, fn func(key, value []byte) error) error {
	s.RLock()
	keys := make([]string, 0, len(s.values))
	values := make(map[string][]byte)
	for k, v := range s.values {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
			values[k] = clone(v)
		}
	}
	s.RUnlock()

	sort.Strings(keys)

	for _, k := range keys {
		err := fn([]byte(k), values[k])
		if err != nil {
			return err
		}
	}

	return nil
}

// Apply runs the callback with the store as the destination of the writes.
func (s *Store) Apply(fn func(store.Writable) error) error {
	return fn(s)
}

// Parent is the interface of the store an overlay reads through.
type Parent interface {
	store.Readable
	store.Iterable
}

// Overlay records the writes on top of a parent store. Reads first look at
// the staged writes and then fall back to the parent. The parent is never
// modified until Commit.
//
// - implements store.IterableSnapshot
type Overlay struct {
	parent  Parent
	writes  map[string][]byte
	deleted map[string]struct{}
}

// NewOverlay returns an overlay without any staged write.
func NewOverlay(parent Parent) *Overlay {
	return &Overlay{
		parent:  parent,
		writes:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Get implements store.Readable.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)

	_, found := o.deleted[k]
	if found {
		return nil, nil
	}

	value, found := o.writes[k]
	if found {
		return clone(value), nil
	}

	return o.parent.Get(key)
}

// Set implements store.Writable.
func (o *Overlay) Set(key, value []byte) error {
	k := string(key)

	o.writes[k] = clone(value)
	delete(o.deleted, k)

	return nil
}

// Delete implements store.Writable.
func (o *Overlay) Delete(key []byte) error {
	k := string(key)

	delete(o.writes, k)
	o.deleted[k] = struct{}{}

	return nil
}

// Scan implements store.Iterable. The staged writes take precedence over the
// entries of the parent.
func (o *Overlay) Scan(prefix []byte, fn func(key, value []byte) error) error {
	entries := make(map[string][]byte)

	err := o.parent.Scan(prefix, func(k, v []byte) error {
		entries[string(k)] = clone(v)
		return nil
	})
	if err != nil {
		return err
	}

	for k, v := range o.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			entries[k] = v
		}
	}

	for k := range o.deleted {
		delete(entries, k)
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		err := fn([]byte(k), clone(entries[k]))
		if err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of staged writes and deletions.
func (o *Overlay) Len() int {
	return len(o.writes) + len(o.deleted)
}

// Commit applies the staged writes to the destination in key order.
func (o *Overlay) Commit(dst store.Writable) error {
	keys := make([]string, 0, o.Len())
	for k := range o.writes {
		keys = append(keys, k)
	}
	for k := range o.deleted {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		value, found := o.writes[k]

		var err error
		if found {
			err = dst.Set([]byte(k), value)
		} else {
			err = dst.Delete([]byte(k))
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func clone(src []byte) []byte {
	if src == nil {
		return nil
	}

	dst := make([]byte, len(src))
	copy(dst, src)

	return dst
}
