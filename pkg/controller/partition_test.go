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

package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

func TestValidTransition(t *testing.T) {
	const (
		off   = metadata.PartitionOffline
		on    = metadata.PartitionOnline
		lost  = metadata.PartitionLeaderOffline
		found = metadata.PartitionElectionLeaderFound
	)
	tests := []struct {
		from, to metadata.PartitionResolution
		want     bool
	}{
		{off, on, true},
		{on, off, true},
		{on, lost, true},
		{lost, found, true},
		{found, on, true},
		{lost, on, true},
		{found, off, true},
		{on, on, true},
		{off, lost, false},
		{off, found, false},
		{on, found, false},
		{found, lost, false},
	}
	for _, tc := range tests {
		if got := ValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

type partitionFixture struct {
	client     *metadata.MemoryClient
	partitions *metadata.PartitionStore
	ctrl       *PartitionController
}

func newPartitionFixture(t *testing.T, objs ...metadata.PartitionObject) *partitionFixture {
	t.Helper()
	f := &partitionFixture{client: metadata.NewMemoryClient(), partitions: metadata.NewPartitionStore()}
	t.Cleanup(func() { f.client.Close() })
	api := metadata.NewTyped(f.client, metadata.PartitionDescriptor)
	for _, obj := range objs {
		if err := api.Create(context.Background(), obj); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	pull(t, f.client, f.partitions)
	f.ctrl = NewPartitionController(f.client, f.partitions, nil, nil)
	return f
}

func TestPartitionReport(t *testing.T) {
	key := metadata.NewReplicaKey("orders", 0)
	f := newPartitionFixture(t, partition("orders", 0, 1, 2))
	ctx := context.Background()

	online := metadata.PartitionStatus{Resolution: metadata.PartitionOnline, Leader: metadata.ReplicaStatus{Spu: 1, HW: 10, LEO: 12}}
	if err := f.ctrl.Report(ctx, key, online); err != nil {
		t.Fatalf("Report online: %v", err)
	}
	pull(t, f.client, f.partitions)
	got, _ := f.partitions.Value(key)
	if got.Status.Resolution != metadata.PartitionOnline || got.Status.Leader.HW != 10 {
		t.Fatalf("status not recorded: %+v", got.Status)
	}

	revision := f.client.Revision()
	if err := f.ctrl.Report(ctx, key, online); err != nil {
		t.Fatalf("repeat report: %v", err)
	}
	if f.client.Revision() != revision {
		t.Fatalf("identical report was written")
	}

	found := metadata.PartitionStatus{Resolution: metadata.PartitionElectionLeaderFound}
	if err := f.ctrl.Report(ctx, key, found); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := f.ctrl.Report(ctx, metadata.NewReplicaKey("missing", 0), online); !errors.Is(err, metadata.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLeaderOfflineOnSpuLoss(t *testing.T) {
	led := partition("orders", 0, 1, 2)
	led.Status.Resolution = metadata.PartitionOnline
	followed := partition("orders", 1, 2, 1)
	followed.Status.Resolution = metadata.PartitionOnline
	f := newPartitionFixture(t, led, followed)

	spus := metadata.NewSpuStore()
	spuClient := metadata.NewMemoryClient()
	defer spuClient.Close()
	spuAPI := metadata.NewTyped(spuClient, metadata.SpuDescriptor)
	ctx := context.Background()
	if err := spuAPI.Create(ctx, spu(1, metadata.SpuOnline)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	pull(t, spuClient, spus)
	if err := spuAPI.UpdateStatus(ctx, "spu-1", metadata.SpuStatus{Resolution: metadata.SpuOffline}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	f.ctrl.OnSpuChanges(ctx, pull(t, spuClient, spus))
	pull(t, f.client, f.partitions)

	got, _ := f.partitions.Value(led.Key)
	if got.Status.Resolution != metadata.PartitionLeaderOffline {
		t.Fatalf("led partition is %s", got.Status.Resolution)
	}
	got, _ = f.partitions.Value(followed.Key)
	if got.Status.Resolution != metadata.PartitionOnline {
		t.Fatalf("followed partition changed to %s", got.Status.Resolution)
	}
}

func TestSpuControllerLiveness(t *testing.T) {
	client := metadata.NewMemoryClient()
	defer client.Close()
	spus := metadata.NewSpuStore()
	ctx := context.Background()
	if err := metadata.NewTyped(client, metadata.SpuDescriptor).Create(ctx, spu(7, metadata.SpuInit)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	pull(t, client, spus)
	ctrl := NewSpuController(client, spus, nil, nil)

	if err := ctrl.SetOnline(ctx, 7); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	pull(t, client, spus)
	if got, _ := spus.Value("spu-7"); !got.Status.IsOnline() {
		t.Fatalf("spu not online: %+v", got.Status)
	}

	revision := client.Revision()
	if err := ctrl.SetOnline(ctx, 7); err != nil {
		t.Fatalf("SetOnline again: %v", err)
	}
	if client.Revision() != revision {
		t.Fatalf("unchanged liveness was written")
	}

	if err := ctrl.SetOffline(ctx, 7); err != nil {
		t.Fatalf("SetOffline: %v", err)
	}
	pull(t, client, spus)
	if got, _ := spus.Value("spu-7"); got.Status.Resolution != metadata.SpuOffline {
		t.Fatalf("spu not offline: %+v", got.Status)
	}

	if err := ctrl.SetOnline(ctx, 99); !errors.Is(err, connmgr.ErrUnknownSpu) {
		t.Fatalf("expected ErrUnknownSpu, got %v", err)
	}
}
