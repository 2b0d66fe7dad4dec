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
	"context"
	"encoding/json"
	"fmt"
)

// EventType tags an incremental watch event.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// WatchEvent is one change of one object. Deleted events only carry the key.
type WatchEvent struct {
	Type   EventType
	Object RawObject
}

// WatchResult is a batch of events delivered in revision order. A non-nil Err ends
// the stream; the consumer is expected to list again and restart the watch.
type WatchResult struct {
	Events   []WatchEvent
	Revision int64
	Err      error
}

// ListResult is a full listing of one kind at Revision.
type ListResult struct {
	Items    []RawObject
	Revision int64
}

// Client is the backing metadata store: the source of truth the controller lists,
// watches and writes back to.
type Client interface {
	// List returns every object of kind.
	List(ctx context.Context, kind Kind) (ListResult, error)
	// Watch streams changes of kind starting at fromRevision. The channel is closed
	// when ctx is done or after a result carrying Err.
	Watch(ctx context.Context, kind Kind, fromRevision int64) <-chan WatchResult
	// Create stores a new object and fails with ErrAlreadyExists if the key is taken.
	Create(ctx context.Context, kind Kind, obj RawObject) error
	// Apply creates or replaces spec and parent. The stored status is kept unless obj
	// carries one.
	Apply(ctx context.Context, kind Kind, obj RawObject) error
	// UpdateStatus replaces the status of an existing object.
	UpdateStatus(ctx context.Context, kind Kind, key string, status json.RawMessage) error
	// Delete removes an object and fails with ErrNotFound if it is absent.
	Delete(ctx context.Context, kind Kind, key string) error
	Close() error
}

func notFound(kind Kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
}

func alreadyExists(kind Kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, ErrAlreadyExists)
}

// Typed writes objects of one kind through a Client.
type Typed[K comparable, S Cloner[S], T Cloner[T]] struct {
	client Client
	desc   Descriptor[K, S, T]
}

// NewTyped binds a client to a kind.
func NewTyped[K comparable, S Cloner[S], T Cloner[T]](client Client, desc Descriptor[K, S, T]) *Typed[K, S, T] {
	return &Typed[K, S, T]{client: client, desc: desc}
}

// Create stores a new object.
func (t *Typed[K, S, T]) Create(ctx context.Context, obj Object[K, S, T]) error {
	raw, err := Encode(t.desc, obj)
	if err != nil {
		return err
	}
	return t.client.Create(ctx, t.desc.Kind, raw)
}

// Apply creates or replaces an object, status included.
func (t *Typed[K, S, T]) Apply(ctx context.Context, obj Object[K, S, T]) error {
	raw, err := Encode(t.desc, obj)
	if err != nil {
		return err
	}
	return t.client.Apply(ctx, t.desc.Kind, raw)
}

// ApplySpec creates or replaces the spec of key and keeps any stored status.
func (t *Typed[K, S, T]) ApplySpec(ctx context.Context, key K, spec S) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal %s %q spec: %w", t.desc.Label, t.desc.FormatKey(key), err)
	}
	return t.client.Apply(ctx, t.desc.Kind, RawObject{Key: t.desc.FormatKey(key), Spec: data})
}

// UpdateStatus replaces the status of key.
func (t *Typed[K, S, T]) UpdateStatus(ctx context.Context, key K, status T) error {
	data, err := EncodeStatus(status)
	if err != nil {
		return err
	}
	return t.client.UpdateStatus(ctx, t.desc.Kind, t.desc.FormatKey(key), data)
}

// Delete removes key.
func (t *Typed[K, S, T]) Delete(ctx context.Context, key K) error {
	return t.client.Delete(ctx, t.desc.Kind, t.desc.FormatKey(key))
}

// Get finds key by listing the kind.
func (t *Typed[K, S, T]) Get(ctx context.Context, key K) (Object[K, S, T], error) {
	res, err := t.client.List(ctx, t.desc.Kind)
	if err != nil {
		return Object[K, S, T]{}, err
	}
	want := t.desc.FormatKey(key)
	for _, raw := range res.Items {
		if raw.Key == want {
			return Decode(t.desc, raw)
		}
	}
	return Object[K, S, T]{}, notFound(t.desc.Kind, want)
}

// List decodes every object of the kind. Objects that fail to decode are skipped and
// reported in the second return value.
func (t *Typed[K, S, T]) List(ctx context.Context) ([]Object[K, S, T], []error, error) {
	res, err := t.client.List(ctx, t.desc.Kind)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Object[K, S, T], 0, len(res.Items))
	var bad []error
	for _, raw := range res.Items {
		obj, err := Decode(t.desc, raw)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		out = append(out, obj)
	}
	return out, bad, nil
}
