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

package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription[int]) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sub.Recv(ctx)
}

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	b := NewBroadcaster[int](4)
	a, c := b.Subscribe(), b.Subscribe()
	if n := b.Send(7); n != 2 {
		t.Fatalf("Send reached %d receivers, want 2", n)
	}
	for _, sub := range []*Subscription[int]{a, c} {
		v, err := recv(t, sub)
		if err != nil || v != 7 {
			t.Fatalf("Recv: %d %v", v, err)
		}
	}
}

func TestSendWithoutReceivers(t *testing.T) {
	b := NewBroadcaster[int](1)
	if n := b.Send(1); n != 0 {
		t.Fatalf("expected no receivers, got %d", n)
	}
	sub := b.Subscribe()
	sub.Close()
	if b.ReceiverCount() != 0 {
		t.Fatalf("closed subscription still counted")
	}
}

func TestSlowSubscriberLags(t *testing.T) {
	b := NewBroadcaster[int](2)
	sub := b.Subscribe()
	for i := 1; i <= 5; i++ {
		b.Send(i)
	}
	_, err := recv(t, sub)
	var lagged *LaggedError
	if !errors.As(err, &lagged) || lagged.Missed != 3 {
		t.Fatalf("expected lag of 3, got %v", err)
	}
	for _, want := range []int{4, 5} {
		v, err := recv(t, sub)
		if err != nil || v != want {
			t.Fatalf("after lag: got %d %v want %d", v, err, want)
		}
	}
}

func TestRecvWaitsForSend(t *testing.T) {
	b := NewBroadcaster[int](1)
	sub := b.Subscribe()
	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Send(42)
	}()
	v, err := recv(t, sub)
	if err != nil || v != 42 {
		t.Fatalf("Recv: %d %v", v, err)
	}
}

func TestCloseDrainsThenEnds(t *testing.T) {
	b := NewBroadcaster[int](2)
	sub := b.Subscribe()
	b.Send(1)
	b.Close()
	if v, err := recv(t, sub); err != nil || v != 1 {
		t.Fatalf("buffered value lost: %d %v", v, err)
	}
	if _, err := recv(t, sub); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := recv(t, b.Subscribe()); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close: expected ErrClosed, got %v", err)
	}
}

func TestRecvHonoursContext(t *testing.T) {
	b := NewBroadcaster[int](1)
	sub := b.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sub.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
