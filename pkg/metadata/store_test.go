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
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testTopic(name string, partitions, rf int32) TopicObject {
	return NewObject(name, NewComputedTopicSpec(partitions, rf, false), NewTopicStatus())
}

func TestStoreInsertThenValue(t *testing.T) {
	store := NewTopicStore()
	topic := testTopic("orders", 3, 2)

	if _, existed := store.Insert(topic); existed {
		t.Fatalf("Insert on empty store reported an existing value")
	}
	got, ok := store.Value("orders")
	if !ok {
		t.Fatalf("Value: orders missing after insert")
	}
	if diff := cmp.Diff(topic, got); diff != "" {
		t.Fatalf("Value mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreInsertReplacesAndReturnsOld(t *testing.T) {
	store := NewTopicStore()
	first := testTopic("orders", 3, 2)
	second := testTopic("orders", 6, 2)
	store.Insert(first)

	old, existed := store.Insert(second)
	if !existed {
		t.Fatalf("expected previous value")
	}
	if old.Spec.Computed.Partitions != 3 {
		t.Fatalf("old value: got %d partitions want 3", old.Spec.Computed.Partitions)
	}
	if spec, _ := store.Spec("orders"); spec.Computed.Partitions != 6 {
		t.Fatalf("stored spec: got %d partitions want 6", spec.Computed.Partitions)
	}
	if store.Count() != 1 {
		t.Fatalf("count: got %d want 1", store.Count())
	}
}

func TestStoreValueIsACopy(t *testing.T) {
	store := NewTopicStore()
	topic := testTopic("orders", 1, 1)
	topic.Status.ReplicaMap = ReplicaMap{0: {1}}
	store.Insert(topic)

	got, _ := store.Value("orders")
	got.Status.ReplicaMap[0][0] = 99
	got.Spec.Computed.Partitions = 42

	again, _ := store.Value("orders")
	if again.Status.ReplicaMap[0][0] != 1 || again.Spec.Computed.Partitions != 1 {
		t.Fatalf("store mutated through returned value: %+v", again)
	}
}

func TestStoreUpdateStatusMissingKey(t *testing.T) {
	store := NewTopicStore()
	store.Insert(testTopic("Topic-1", 1, 1))

	err := store.UpdateStatus("Topic-2", TopicStatus{Resolution: TopicProvisioned})
	if err == nil {
		t.Fatalf("expected error updating missing key")
	}
	if err.Error() != "Topic 'Topic-2': not found, cannot update" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreUpdateStatus(t *testing.T) {
	store := NewTopicStore()
	store.Insert(testTopic("orders", 1, 1))
	status := TopicStatus{Resolution: TopicProvisioned, ReplicaMap: ReplicaMap{0: {5001}}}
	if err := store.UpdateStatus("orders", status); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := store.Value("orders")
	if diff := cmp.Diff(status, got.Status); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreRemove(t *testing.T) {
	store := NewTopicStore()
	store.Insert(testTopic("orders", 1, 1))
	if _, ok := store.Remove("orders"); !ok {
		t.Fatalf("Remove: expected existing value")
	}
	if _, ok := store.Remove("orders"); ok {
		t.Fatalf("Remove twice: expected absent")
	}
	if store.ContainsKey("orders") {
		t.Fatalf("orders still present")
	}
}

func TestStoreKeysAreOrdered(t *testing.T) {
	store := NewPartitionStore()
	for _, key := range []ReplicaKey{
		NewReplicaKey("b", 0),
		NewReplicaKey("a", 10),
		NewReplicaKey("a", 2),
	} {
		store.Insert(NewObject(key, NewPartitionSpec([]int32{1}), NewPartitionStatus()))
	}
	want := []ReplicaKey{NewReplicaKey("a", 2), NewReplicaKey("a", 10), NewReplicaKey("b", 0)}
	if diff := cmp.Diff(want, store.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreCheck(t *testing.T) {
	store := NewTopicStore()
	topic := testTopic("orders", 1, 1)
	if got := store.Check(topic); got != CheckAbsent {
		t.Fatalf("Check on empty store: got %s", got)
	}
	store.Insert(topic)

	same := topic
	same.Ctx.Revision = 77
	if got := store.Check(same); got != CheckSameValue {
		t.Fatalf("Check same value: got %s", got)
	}

	changed := testTopic("orders", 1, 1)
	changed.Status.Resolution = TopicProvisioned
	if got := store.Check(changed); got != CheckDifferentValue {
		t.Fatalf("Check different status: got %s", got)
	}
}

func TestStoreCheckTreatsNilAndEmptyAlike(t *testing.T) {
	store := NewTopicStore()
	topic := testTopic("orders", 1, 1)
	topic.Status.ReplicaMap = ReplicaMap{}
	store.Insert(topic)

	if got := store.Check(testTopic("orders", 1, 1)); got != CheckSameValue {
		t.Fatalf("nil vs empty replica map: got %s", got)
	}
}

func TestStoreSyncAllReplacesTable(t *testing.T) {
	store := NewSpuStore()
	store.Insert(NewObject("spu-old", NewSpuSpec(), NewSpuStatus()))
	store.SyncAll([]SpuObject{
		NewObject("spu-1", SpuSpec{ID: 1}, NewSpuStatus()),
		NewObject("spu-2", SpuSpec{ID: 2}, NewSpuStatus()),
	})
	if diff := cmp.Diff([]string{"spu-1", "spu-2"}, store.Keys()); diff != "" {
		t.Fatalf("keys after SyncAll (-want +got):\n%s", diff)
	}
}

func TestStoreConcurrentReadersAndWriter(t *testing.T) {
	store := NewSpuStore()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = store.Values()
				_ = store.Count()
			}
		}()
	}
	for i := 0; i < 200; i++ {
		store.Insert(NewObject(SpuName("spu", i), SpuSpec{ID: int32(i)}, NewSpuStatus()))
	}
	wg.Wait()
	if store.Count() != 200 {
		t.Fatalf("count: got %d want 200", store.Count())
	}
}

func TestTopicSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    TopicSpec
		wantErr bool
	}{
		{"computed ok", NewComputedTopicSpec(3, 2, false), false},
		{"zero partitions", NewComputedTopicSpec(0, 1, false), true},
		{"negative replication", NewComputedTopicSpec(1, -1, false), true},
		{"assigned ok", NewAssignedTopicSpec([]PartitionMap{{ID: 0, Replicas: []int32{1, 2}}}), false},
		{"assigned duplicate partition", NewAssignedTopicSpec([]PartitionMap{{ID: 0, Replicas: []int32{1}}, {ID: 0, Replicas: []int32{2}}}), true},
		{"assigned duplicate replica", NewAssignedTopicSpec([]PartitionMap{{ID: 0, Replicas: []int32{1, 1}}}), true},
		{"assigned empty replicas", NewAssignedTopicSpec([]PartitionMap{{ID: 0}}), true},
		{"empty", TopicSpec{}, true},
	}
	for _, tc := range cases {
		err := tc.spec.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: got err %v, wantErr %v", tc.name, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestParseReplicaKey(t *testing.T) {
	key, err := ParseReplicaKey("my-topic-12")
	if err != nil {
		t.Fatalf("ParseReplicaKey: %v", err)
	}
	if key != NewReplicaKey("my-topic", 12) {
		t.Fatalf("got %+v", key)
	}
	for _, bad := range []string{"topic", "-1", "topic-", "topic-x"} {
		if _, err := ParseReplicaKey(bad); err == nil {
			t.Errorf("ParseReplicaKey(%q): expected error", bad)
		}
	}
}

func TestSpuGroupSpecRange(t *testing.T) {
	spec := SpuGroupSpec{Replicas: 3, MinID: 100}
	if diff := cmp.Diff([]int32{100, 101, 102}, spec.SpuIDs()); diff != "" {
		t.Fatalf("SpuIDs (-want +got):\n%s", diff)
	}
	if !spec.Contains(102) || spec.Contains(103) || spec.Contains(99) {
		t.Fatalf("Contains boundaries wrong")
	}
	managed := spec.ManagedSpuSpec("main", 1)
	if managed.ID != 101 || managed.PrivateEndpoint.Host != "main-1.main" || managed.Type != SpuTypeManaged {
		t.Fatalf("ManagedSpuSpec: %+v", managed)
	}
	withDefaults := spec.WithDefaults()
	if withDefaults.SpuConfig.Storage.LogDir != "/tmp/fluvio" || withDefaults.SpuConfig.Storage.Size != "1Gi" {
		t.Fatalf("defaults not applied: %+v", withDefaults.SpuConfig.Storage)
	}
}
