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

package connmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/notify"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

type testSink struct {
	mu     sync.Mutex
	msgs   []protocol.Message
	fail   bool
	closed bool
}

func (s *testSink) Send(_ context.Context, msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *testSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *testSink) received() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.msgs...)
}

func (s *testSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fixture struct {
	spus       *metadata.SpuStore
	partitions *metadata.PartitionStore
	clients    *notify.Broadcaster[Notification]
	mgr        *Manager
	sinks      map[int32]*testSink
}

func newFixture(t *testing.T, online []int32, offline []int32) *fixture {
	t.Helper()
	f := &fixture{
		spus:       metadata.NewSpuStore(),
		partitions: metadata.NewPartitionStore(),
		clients:    notify.NewBroadcaster[Notification](8),
		sinks:      make(map[int32]*testSink),
	}
	f.mgr = New(f.spus, f.partitions, f.clients, Config{PushTimeout: time.Second})
	for _, id := range online {
		f.addSpu(id, metadata.SpuOnline)
		sink := &testSink{}
		f.sinks[id] = sink
		f.mgr.RegisterSink(id, sink)
	}
	for _, id := range offline {
		f.addSpu(id, metadata.SpuOffline)
	}
	return f
}

func (f *fixture) addSpu(id int32, resolution metadata.SpuResolution) {
	spec := metadata.SpuSpec{ID: id, Type: metadata.SpuTypeCustom, PrivateEndpoint: metadata.Endpoint{Host: "127.0.0.1", Port: 1}}
	f.spus.Insert(metadata.NewObject(fmt.Sprintf("spu-%d", id), spec, metadata.SpuStatus{Resolution: resolution}))
}

func TestSpuAddedReachesOnlineSpus(t *testing.T) {
	f := newFixture(t, []int32{1, 2}, []int32{3})
	stale := &testSink{}
	f.mgr.RegisterSink(9, stale)

	f.mgr.SpuAdded(context.Background(), "spu-9", metadata.SpuSpec{ID: 9})

	if !stale.isClosed() || f.mgr.HasSink(9) {
		t.Fatalf("stale sink for the new spu was not cleared")
	}
	for _, id := range []int32{1, 2} {
		msgs := f.sinks[id].received()
		if len(msgs) != 1 {
			t.Fatalf("spu %d: got %d messages", id, len(msgs))
		}
		update, ok := msgs[0].(*protocol.UpdateSpu)
		if !ok || update.Spus[0].Op != protocol.OpUpdate || update.Spus[0].Spec.ID != 9 {
			t.Fatalf("spu %d: unexpected message %#v", id, msgs[0])
		}
	}
}

func TestSpuRemovedSendsDelete(t *testing.T) {
	f := newFixture(t, []int32{1, 2}, nil)
	f.mgr.SpuRemoved(context.Background(), "spu-2", metadata.SpuSpec{ID: 2})
	if f.mgr.HasSink(2) || !f.sinks[2].isClosed() {
		t.Fatalf("removed spu still has a sink")
	}
	msgs := f.sinks[1].received()
	if len(msgs) != 1 || msgs[0].(*protocol.UpdateSpu).Spus[0].Op != protocol.OpDelete {
		t.Fatalf("unexpected messages %#v", msgs)
	}
}

func TestPartitionChangedTargetsReplicas(t *testing.T) {
	f := newFixture(t, []int32{1, 2, 3}, []int32{4})
	key := metadata.NewReplicaKey("orders", 0)
	f.mgr.PartitionChanged(context.Background(), key, metadata.NewPartitionSpec([]int32{2, 3, 4}))

	if got := len(f.sinks[1].received()); got != 0 {
		t.Fatalf("spu 1 is not a replica but got %d messages", got)
	}
	for _, id := range []int32{2, 3} {
		msgs := f.sinks[id].received()
		if len(msgs) != 1 {
			t.Fatalf("spu %d: got %d messages", id, len(msgs))
		}
		update := msgs[0].(*protocol.UpdateReplica)
		if update.Replicas[0].Replica.Key != key || update.Replicas[0].Replica.Leader != 2 {
			t.Fatalf("spu %d: unexpected replica %#v", id, update.Replicas[0])
		}
	}
}

func TestRefreshSpu(t *testing.T) {
	f := newFixture(t, []int32{1, 2}, nil)
	f.partitions.Insert(metadata.NewObject(metadata.NewReplicaKey("a", 0), metadata.NewPartitionSpec([]int32{1, 2}), metadata.NewPartitionStatus()))
	f.partitions.Insert(metadata.NewObject(metadata.NewReplicaKey("b", 0), metadata.NewPartitionSpec([]int32{2}), metadata.NewPartitionStatus()))

	if err := f.mgr.RefreshSpu(context.Background(), 1); err != nil {
		t.Fatalf("RefreshSpu: %v", err)
	}
	msgs := f.sinks[1].received()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	all := msgs[0].(*protocol.UpdateAll)
	if len(all.Spus) != 2 || len(all.Replicas) != 1 || all.Replicas[0].Key.Topic != "a" {
		t.Fatalf("unexpected snapshot %#v", all)
	}

	if err := f.mgr.RefreshSpu(context.Background(), 77); !errors.Is(err, ErrUnknownSpu) {
		t.Fatalf("expected ErrUnknownSpu, got %v", err)
	}
}

func TestFailedPushIsIsolated(t *testing.T) {
	f := newFixture(t, []int32{1, 2, 3}, nil)
	f.sinks[2].fail = true

	f.mgr.SpuAdded(context.Background(), "spu-9", metadata.SpuSpec{ID: 9})

	if len(f.sinks[1].received()) != 1 || len(f.sinks[3].received()) != 1 {
		t.Fatalf("healthy spus missed the push")
	}
	if f.mgr.HasSink(2) {
		t.Fatalf("failing sink should be dropped")
	}
}

func TestLazyDialIsShared(t *testing.T) {
	spus := metadata.NewSpuStore()
	spus.Insert(metadata.NewObject("spu-1", metadata.SpuSpec{ID: 1}, metadata.SpuStatus{Resolution: metadata.SpuOnline}))
	var dials atomic.Int32
	sink := &testSink{}
	dialer := DialerFunc(func(ctx context.Context, spu metadata.SpuSpec) (Sink, error) {
		dials.Add(1)
		time.Sleep(50 * time.Millisecond)
		return sink, nil
	})
	mgr := New(spus, metadata.NewPartitionStore(), nil, Config{Dialer: dialer})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.PartitionChanged(context.Background(), metadata.NewReplicaKey("t", 0), metadata.NewPartitionSpec([]int32{1}))
		}()
	}
	wg.Wait()

	if got := dials.Load(); got != 1 {
		t.Fatalf("expected a single dial, got %d", got)
	}
	if got := len(sink.received()); got != 8 {
		t.Fatalf("expected 8 pushes, got %d", got)
	}
}

func TestProcessPublishesNotification(t *testing.T) {
	f := newFixture(t, []int32{1}, nil)
	sub := f.clients.Subscribe()
	defer sub.Close()

	obj := metadata.NewObject(metadata.NewReplicaKey("orders", 0), metadata.NewPartitionSpec([]int32{1}), metadata.NewPartitionStatus())
	f.mgr.ProcessPartitionChanges(context.Background(), []reconcile.PartitionChange{reconcile.Add(obj)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if len(n.Partitions) != 1 || n.Partitions[0].Key() != obj.Key {
		t.Fatalf("unexpected notification %+v", n)
	}
	if len(f.sinks[1].received()) != 1 {
		t.Fatalf("replica was not pushed")
	}
}

func TestStatusOnlyModDoesNotPush(t *testing.T) {
	f := newFixture(t, []int32{1}, nil)
	old := metadata.NewObject(metadata.NewReplicaKey("orders", 0), metadata.NewPartitionSpec([]int32{1}), metadata.NewPartitionStatus())
	updated := old
	updated.Status.Resolution = metadata.PartitionOnline
	f.mgr.ProcessPartitionChanges(context.Background(), []reconcile.PartitionChange{reconcile.Mod(updated, old)})
	if got := len(f.sinks[1].received()); got != 0 {
		t.Fatalf("status change pushed %d messages", got)
	}
}

func TestConnSinkWritesFrames(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	sink := NewConnSink(client)
	defer sink.Close()

	done := make(chan protocol.Message, 1)
	go func() {
		msg, err := protocol.ReadMessage(server)
		if err != nil {
			close(done)
			return
		}
		done <- msg
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Send(ctx, &protocol.RegisterSpuResponse{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg, ok := <-done:
		if !ok || msg.MessageType() != protocol.TypeRegisterSpuResponse {
			t.Fatalf("unexpected message %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("frame never arrived")
	}
}
