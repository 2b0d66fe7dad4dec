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
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrClientClosed is returned by a closed MemoryClient.
var ErrClientClosed = errors.New("metadata client closed")

type memoryEvent struct {
	revision int64
	event    WatchEvent
}

// MemoryClient is an in-process Client. Useful for development and tests.
type MemoryClient struct {
	mu       sync.Mutex
	revision int64
	objects  map[Kind]map[string]RawObject
	history  map[Kind][]memoryEvent
	changed  chan struct{}
	closed   bool
}

// NewMemoryClient builds an empty client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		objects: make(map[Kind]map[string]RawObject),
		history: make(map[Kind][]memoryEvent),
		changed: make(chan struct{}),
	}
}

func cloneRaw(raw RawObject) RawObject {
	out := raw
	out.Spec = append(json.RawMessage(nil), raw.Spec...)
	out.Status = append(json.RawMessage(nil), raw.Status...)
	if raw.Parent != nil {
		parent := *raw.Parent
		out.Parent = &parent
	}
	return out
}

// List implements Client.
func (c *MemoryClient) List(ctx context.Context, kind Kind) (ListResult, error) {
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ListResult{}, ErrClientClosed
	}
	items := make([]RawObject, 0, len(c.objects[kind]))
	for _, raw := range c.objects[kind] {
		items = append(items, cloneRaw(raw))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return ListResult{Items: items, Revision: c.revision}, nil
}

// Watch implements Client.
func (c *MemoryClient) Watch(ctx context.Context, kind Kind, fromRevision int64) <-chan WatchResult {
	out := make(chan WatchResult, 16)
	go func() {
		defer close(out)
		next := fromRevision
		for {
			c.mu.Lock()
			var batch []WatchEvent
			last := next - 1
			for _, ev := range c.history[kind] {
				if ev.revision >= next {
					batch = append(batch, ev.event)
					last = ev.revision
				}
			}
			wait := c.changed
			closed := c.closed
			c.mu.Unlock()

			if len(batch) > 0 {
				select {
				case out <- WatchResult{Events: batch, Revision: last}:
				case <-ctx.Done():
					return
				}
				next = last + 1
				continue
			}
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
		}
	}()
	return out
}

func (c *MemoryClient) recordLocked(kind Kind, typ EventType, raw RawObject) {
	c.revision++
	raw.Revision = c.revision
	if typ == EventDeleted {
		delete(c.objects[kind], raw.Key)
	} else {
		if c.objects[kind] == nil {
			c.objects[kind] = make(map[string]RawObject)
		}
		c.objects[kind][raw.Key] = raw
	}
	c.history[kind] = append(c.history[kind], memoryEvent{revision: c.revision, event: WatchEvent{Type: typ, Object: cloneRaw(raw)}})
	close(c.changed)
	c.changed = make(chan struct{})
}

// Create implements Client.
func (c *MemoryClient) Create(ctx context.Context, kind Kind, obj RawObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if _, ok := c.objects[kind][obj.Key]; ok {
		return alreadyExists(kind, obj.Key)
	}
	raw := cloneRaw(obj)
	if raw.UID == "" {
		raw.UID = uuid.NewString()
	}
	c.recordLocked(kind, EventAdded, raw)
	return nil
}

// Apply implements Client.
func (c *MemoryClient) Apply(ctx context.Context, kind Kind, obj RawObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	raw := cloneRaw(obj)
	existing, ok := c.objects[kind][obj.Key]
	if !ok {
		if raw.UID == "" {
			raw.UID = uuid.NewString()
		}
		c.recordLocked(kind, EventAdded, raw)
		return nil
	}
	raw.UID = existing.UID
	if len(raw.Status) == 0 {
		raw.Status = existing.Status
	}
	c.recordLocked(kind, EventModified, raw)
	return nil
}

// UpdateStatus implements Client.
func (c *MemoryClient) UpdateStatus(ctx context.Context, kind Kind, key string, status json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	existing, ok := c.objects[kind][key]
	if !ok {
		return notFound(kind, key)
	}
	raw := cloneRaw(existing)
	raw.Status = append(json.RawMessage(nil), status...)
	c.recordLocked(kind, EventModified, raw)
	return nil
}

// Delete implements Client.
func (c *MemoryClient) Delete(ctx context.Context, kind Kind, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if _, ok := c.objects[kind][key]; !ok {
		return notFound(kind, key)
	}
	c.recordLocked(kind, EventDeleted, RawObject{Key: key})
	return nil
}

// Revision returns the last assigned revision.
func (c *MemoryClient) Revision() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Close ends every watch.
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.changed)
		c.changed = make(chan struct{})
	}
	return nil
}
