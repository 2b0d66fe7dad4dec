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

package privateapi

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
)

type fakeLiveness struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeLiveness) SetOnline(_ context.Context, _ int32) error {
	f.record("online")
	return nil
}

func (f *fakeLiveness) SetOffline(_ context.Context, _ int32) error {
	f.record("offline")
	return nil
}

func (f *fakeLiveness) record(what string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, what)
}

func (f *fakeLiveness) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []metadata.ReplicaKey
}

func (f *fakeReporter) Report(_ context.Context, key metadata.ReplicaKey, _ metadata.PartitionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, key)
	return nil
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func newServer(t *testing.T) (*Server, *fakeLiveness, *fakeReporter) {
	t.Helper()
	spus := metadata.NewSpuStore()
	spus.Insert(metadata.NewObject("spu-1", metadata.SpuSpec{ID: 1}, metadata.SpuStatus{Resolution: metadata.SpuOnline}))
	partitions := metadata.NewPartitionStore()
	partitions.Insert(metadata.NewObject(metadata.NewReplicaKey("orders", 0), metadata.NewPartitionSpec([]int32{1}), metadata.NewPartitionStatus()))
	live := &fakeLiveness{}
	rep := &fakeReporter{}
	s := &Server{
		Spus:     spus,
		Conns:    connmgr.New(spus, partitions, nil, connmgr.Config{PushTimeout: time.Second}),
		Liveness: live,
		Reporter: rep,
	}
	s.defaults()
	return s, live, rep
}

func serve(s *Server, conn net.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleConnection(context.Background(), conn, zap.NewNop())
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("server handleConnection did not exit")
	}
}

func TestRegisterRefreshReportDisconnect(t *testing.T) {
	s, live, rep := newServer(t)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := serve(s, serverConn)

	if err := protocol.WriteMessage(clientConn, &protocol.RegisterSpu{ID: 1}); err != nil {
		t.Fatalf("write register: %v", err)
	}
	msg, err := protocol.ReadMessage(clientConn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp, ok := msg.(*protocol.RegisterSpuResponse); !ok || resp.ErrorCode != protocol.ErrorNone {
		t.Fatalf("unexpected response %#v", msg)
	}
	msg, err = protocol.ReadMessage(clientConn)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	all, ok := msg.(*protocol.UpdateAll)
	if !ok || len(all.Spus) != 1 || len(all.Replicas) != 1 {
		t.Fatalf("unexpected snapshot %#v", msg)
	}
	if !s.Conns.HasSink(1) {
		t.Fatalf("sink was not registered")
	}

	report := &protocol.ReplicaStatusReport{Key: metadata.NewReplicaKey("orders", 0), Status: metadata.PartitionStatus{Resolution: metadata.PartitionOnline}}
	if err := protocol.WriteMessage(clientConn, report); err != nil {
		t.Fatalf("write report: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for rep.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rep.count() != 1 {
		t.Fatalf("report not delivered")
	}

	clientConn.Close()
	waitDone(t, done)

	if got := live.snapshot(); len(got) != 2 || got[0] != "online" || got[1] != "offline" {
		t.Fatalf("unexpected liveness events %v", got)
	}
	if s.Conns.HasSink(1) {
		t.Fatalf("sink survived the disconnect")
	}
}

func TestRegisterUnknownSpuIsRejected(t *testing.T) {
	s, live, _ := newServer(t)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := serve(s, serverConn)

	if err := protocol.WriteMessage(clientConn, &protocol.RegisterSpu{ID: 42}); err != nil {
		t.Fatalf("write register: %v", err)
	}
	msg, err := protocol.ReadMessage(clientConn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp, ok := msg.(*protocol.RegisterSpuResponse)
	if !ok || resp.ErrorCode != protocol.ErrorUnknownSpu || resp.Error != "unknown spu id: 42" {
		t.Fatalf("unexpected response %#v", msg)
	}
	waitDone(t, done)
	if _, err := protocol.ReadMessage(clientConn); !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected closed connection, got %v", err)
	}
	if len(live.snapshot()) != 0 {
		t.Fatalf("rejected spu changed liveness")
	}
}

func TestFirstMessageMustRegister(t *testing.T) {
	s, _, _ := newServer(t)
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	done := serve(s, serverConn)

	if err := protocol.WriteMessage(clientConn, &protocol.ReplicaStatusReport{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg, err := protocol.ReadMessage(clientConn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp, ok := msg.(*protocol.RegisterSpuResponse); !ok || resp.ErrorCode != protocol.ErrorInvalidRequest {
		t.Fatalf("unexpected response %#v", msg)
	}
	waitDone(t, done)
}

func TestServerListenAndServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, _ := newServer(t)
	s.Addr = "127.0.0.1:0"

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			if errors.Is(err, syscall.EPERM) {
				t.Skip("binding sockets not permitted in sandbox")
			}
			t.Fatalf("ListenAndServe returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("server did not shut down")
	}
	s.Wait()
}
