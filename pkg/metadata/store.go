// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metadata

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// CheckResult is the outcome of comparing a candidate against the stored value.
type CheckResult int

const (
	// CheckAbsent means the key is not stored.
	CheckAbsent CheckResult = iota
	// CheckSameValue means spec and status are equal to the stored ones.
	CheckSameValue
	// CheckDifferentValue means the key is stored with a different spec or status.
	CheckDifferentValue
)

func (r CheckResult) String() string {
	switch r {
	case CheckSameValue:
		return "same"
	case CheckDifferentValue:
		return "different"
	default:
		return "absent"
	}
}

var equateEmpty = cmpopts.EquateEmpty()

// Equal compares spec and status by value. Context (uid, revision) is ignored.
func Equal[K comparable, S any, T any](a, b Object[K, S, T]) bool {
	return cmp.Equal(a.Spec, b.Spec, equateEmpty) && cmp.Equal(a.Status, b.Status, equateEmpty)
}

// Store is the in-memory table of one resource kind. Readers share the lock, every
// mutation takes it exclusively. Values handed out are deep copies.
type Store[K comparable, S Cloner[S], T Cloner[T]] struct {
	desc    Descriptor[K, S, T]
	mu      sync.RWMutex
	entries *treemap.Map
}

// NewStore builds an empty store for the kind described by desc.
func NewStore[K comparable, S Cloner[S], T Cloner[T]](desc Descriptor[K, S, T]) *Store[K, S, T] {
	s := &Store[K, S, T]{desc: desc}
	s.entries = s.newEntries()
	return s
}

func (s *Store[K, S, T]) newEntries() *treemap.Map {
	compare := s.desc.Compare
	return treemap.NewWith(func(a, b interface{}) int {
		return compare(a.(K), b.(K))
	})
}

// Descriptor returns the kind descriptor of the store.
func (s *Store[K, S, T]) Descriptor() Descriptor[K, S, T] { return s.desc }

// Label is the human readable kind name ("Topic").
func (s *Store[K, S, T]) Label() string { return s.desc.Label }

func (s *Store[K, S, T]) lookup(key K) (Object[K, S, T], bool) {
	raw, ok := s.entries.Get(key)
	if !ok {
		return Object[K, S, T]{}, false
	}
	return raw.(Object[K, S, T]), true
}

// Insert stores obj and returns the value it replaced, if any.
func (s *Store[K, S, T]) Insert(obj Object[K, S, T]) (Object[K, S, T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.lookup(obj.Key)
	s.entries.Put(obj.Key, cloneObject(obj))
	return old, ok
}

// Value returns a copy of the object stored under key.
func (s *Store[K, S, T]) Value(key K) (Object[K, S, T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.lookup(key)
	if !ok {
		return Object[K, S, T]{}, false
	}
	return cloneObject(obj), true
}

// Spec returns a copy of the spec stored under key.
func (s *Store[K, S, T]) Spec(key K) (S, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.lookup(key)
	if !ok {
		var zero S
		return zero, false
	}
	return obj.Spec.Clone(), true
}

// ContainsKey reports whether key is stored.
func (s *Store[K, S, T]) ContainsKey(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries.Get(key)
	return ok
}

// Remove deletes key and returns the removed value.
func (s *Store[K, S, T]) Remove(key K) (Object[K, S, T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.lookup(key)
	if ok {
		s.entries.Remove(key)
	}
	return old, ok
}

// UpdateStatus replaces the status of an existing object.
func (s *Store[K, S, T]) UpdateStatus(key K, status T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.lookup(key)
	if !ok {
		return &NotFoundError{Label: s.desc.Label, Key: s.desc.FormatKey(key)}
	}
	obj.Status = status.Clone()
	s.entries.Put(key, obj)
	return nil
}

// Count returns the number of stored objects.
func (s *Store[K, S, T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Size()
}

// Keys returns the stored keys in key order.
func (s *Store[K, S, T]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]K, 0, s.entries.Size())
	for _, key := range s.entries.Keys() {
		out = append(out, key.(K))
	}
	return out
}

// Values returns copies of every stored object in key order. It is the consistent
// snapshot callers take before reasoning across several objects.
func (s *Store[K, S, T]) Values() []Object[K, S, T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object[K, S, T], 0, s.entries.Size())
	it := s.entries.Iterator()
	for it.Next() {
		out = append(out, cloneObject(it.Value().(Object[K, S, T])))
	}
	return out
}

// Specs returns copies of every stored spec in key order.
func (s *Store[K, S, T]) Specs() []S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]S, 0, s.entries.Size())
	it := s.entries.Iterator()
	for it.Next() {
		out = append(out, it.Value().(Object[K, S, T]).Spec.Clone())
	}
	return out
}

// Filter returns copies of the objects matching fn, in key order.
func (s *Store[K, S, T]) Filter(fn func(Object[K, S, T]) bool) []Object[K, S, T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object[K, S, T], 0)
	it := s.entries.Iterator()
	for it.Next() {
		obj := it.Value().(Object[K, S, T])
		if fn(obj) {
			out = append(out, cloneObject(obj))
		}
	}
	return out
}

// SyncAll replaces the whole table.
func (s *Store[K, S, T]) SyncAll(objs []Object[K, S, T]) {
	entries := s.newEntries()
	for _, obj := range objs {
		entries.Put(obj.Key, cloneObject(obj))
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

// Check compares candidate with the stored value without copying it.
func (s *Store[K, S, T]) Check(candidate Object[K, S, T]) CheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.lookup(candidate.Key)
	if !ok {
		return CheckAbsent
	}
	if Equal(obj, candidate) {
		return CheckSameValue
	}
	return CheckDifferentValue
}
