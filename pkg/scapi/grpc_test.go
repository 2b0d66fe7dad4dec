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

package scapi

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/notify"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

func startServer(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()
	ln := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{Service: svc}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return ln.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return conn
}

func TestGRPCRoundTrip(t *testing.T) {
	f := newFixture(t)
	conn := startServer(t, f.svc)
	client := NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := client.Create(ctx, topicRequest("orders", 2, 1))
	if err != nil || !st.OK() {
		t.Fatalf("Create: %+v %v", st, err)
	}
	f.sync(t)

	resp, err := client.List(ctx, ListRequest{Kind: KindTopic})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Name != "orders" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}

	st, err = client.Delete(ctx, DeleteRequest{Kind: KindTopic, Key: "missing"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectStatus(t, st, protocol.ErrorNotFound, "topic 'missing' not found")

	_, err = client.List(ctx, ListRequest{Kind: "widgets"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("service not serving: %v", health.GetStatus())
	}
}

func TestGRPCWatchMetadata(t *testing.T) {
	f := newFixture(t)
	f.addSpu(t, "spu-1", 1, metadata.SpuTypeCustom, true)
	f.sync(t)
	clients := notify.NewBroadcaster[connmgr.Notification](4)
	f.svc = NewService(f.client, f.stores, clients, nil)
	client := NewClient(startServer(t, f.svc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	watch, err := client.WatchMetadata(ctx, WatchMetadataRequest{ResyncPeriodMs: 60000})
	if err != nil {
		t.Fatalf("WatchMetadata: %v", err)
	}
	first, err := watch.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if first.All == nil || len(first.All.Spus) != 1 {
		t.Fatalf("expected full snapshot first, got %+v", first)
	}

	for clients.ReceiverCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	spu := metadata.NewObject("spu-2", metadata.SpuSpec{ID: 2, Type: metadata.SpuTypeCustom}, metadata.NewSpuStatus())
	clients.Send(connmgr.Notification{Spus: []reconcile.SpuChange{reconcile.Add(spu)}})

	next, err := watch.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if next.Spus == nil || len(next.Spus.Spus) != 1 || next.Spus.Spus[0].Spec.ID != 2 {
		t.Fatalf("expected spu delta, got %+v", next)
	}
}
