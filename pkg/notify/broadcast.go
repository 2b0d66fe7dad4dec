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

// Package notify is a bounded multi-subscriber broadcast. A subscriber that falls
// behind loses the oldest messages and is told so on its next receive.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is the per-subscriber buffer used when none is given.
const DefaultCapacity = 100

// ErrClosed is returned by Recv once the subscription or the broadcaster is closed
// and every buffered message was delivered.
var ErrClosed = errors.New("broadcast closed")

// LaggedError reports that messages were dropped because the subscriber did not keep
// up. The subscriber should ask for a full resync instead of replaying.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged, missed %d messages", e.Missed)
}

// Broadcaster fans every sent value out to all live subscriptions.
type Broadcaster[T any] struct {
	capacity int

	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewBroadcaster builds a broadcaster whose subscriptions buffer up to capacity values.
func NewBroadcaster[T any](capacity int) *Broadcaster[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster[T]{capacity: capacity, subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe returns a subscription that sees every value sent from now on.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		parent: b,
		buf:    make([]T, 0, b.capacity),
		cap:    b.capacity,
		ready:  make(chan struct{}, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Send delivers v to every subscription and returns how many received it.
func (b *Broadcaster[T]) Send(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		sub.push(v)
	}
	return len(b.subs)
}

// ReceiverCount returns the number of live subscriptions.
func (b *Broadcaster[T]) ReceiverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Buffered values can still be received.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
	}
	b.subs = make(map[*Subscription[T]]struct{})
}

func (b *Broadcaster[T]) remove(sub *Subscription[T]) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one receiver of a Broadcaster.
type Subscription[T any] struct {
	parent *Broadcaster[T]
	cap    int

	mu     sync.Mutex
	buf    []T
	missed uint64
	closed bool
	ready  chan struct{}
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) == s.cap {
		s.buf = append(s.buf[:0], s.buf[1:]...)
		s.missed++
	}
	s.buf = append(s.buf, v)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Recv blocks until a value is available. After messages were dropped it returns a
// *LaggedError once, then continues with the oldest value still buffered.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if s.missed > 0 {
			missed := s.missed
			s.missed = 0
			s.mu.Unlock()
			return zero, &LaggedError{Missed: missed}
		}
		if len(s.buf) > 0 {
			v := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return v, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-s.ready:
		}
	}
}

// Close detaches the subscription from its broadcaster.
func (s *Subscription[T]) Close() {
	s.parent.remove(s)
	s.close()
}
