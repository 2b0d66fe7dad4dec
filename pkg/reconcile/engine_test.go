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

package reconcile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

func topicObj(name string, resolution metadata.TopicResolution) metadata.TopicObject {
	return metadata.NewObject(name, metadata.NewComputedTopicSpec(1, 1, false), metadata.TopicStatus{Resolution: resolution})
}

func rawTopic(t *testing.T, obj metadata.TopicObject) metadata.RawObject {
	t.Helper()
	raw, err := metadata.Encode(metadata.TopicDescriptor, obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return raw
}

func newTopicEngine() *Engine[string, metadata.TopicSpec, metadata.TopicStatus] {
	return NewEngine(metadata.NewTopicStore(), nil)
}

func TestListAgainstEmptyStoreAdds(t *testing.T) {
	engine := newTopicEngine()
	changes, stats := engine.applyList([]metadata.RawObject{rawTopic(t, topicObj("topic1", metadata.TopicInit))})
	if len(changes) != 1 || changes[0].Action != ActionAdd || changes[0].Key() != "topic1" {
		t.Fatalf("expected one add of topic1, got %+v", changes)
	}
	if stats.Add != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if !engine.Store().ContainsKey("topic1") {
		t.Fatalf("topic1 not stored")
	}
}

func TestListAgainstSameValueSkips(t *testing.T) {
	engine := newTopicEngine()
	engine.Store().Insert(topicObj("topic1", metadata.TopicInit))
	changes, stats := engine.applyList([]metadata.RawObject{rawTopic(t, topicObj("topic1", metadata.TopicInit))})
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
	if stats.Skip != 1 {
		t.Fatalf("expected skip counted, got %+v", stats)
	}
}

func TestListGeneratesModify(t *testing.T) {
	engine := newTopicEngine()
	old := topicObj("topic1", metadata.TopicInit)
	engine.Store().Insert(old)
	updated := topicObj("topic1", metadata.TopicProvisioned)

	changes := engine.ApplyList([]metadata.RawObject{rawTopic(t, updated)})
	if len(changes) != 1 || changes[0].Action != ActionMod {
		t.Fatalf("expected one mod, got %+v", changes)
	}
	if changes[0].New.Status.Resolution != metadata.TopicProvisioned || changes[0].Old.Status.Resolution != metadata.TopicInit {
		t.Fatalf("mod carries wrong values: %+v", changes[0])
	}
	stored, _ := engine.Store().Value("topic1")
	if stored.Status.Resolution != metadata.TopicProvisioned {
		t.Fatalf("store not updated: %+v", stored)
	}
}

func TestListDeletesMissingKeys(t *testing.T) {
	engine := newTopicEngine()
	engine.Store().Insert(topicObj("topic1", metadata.TopicInit))
	engine.Store().Insert(topicObj("topic2", metadata.TopicInit))

	changes := engine.ApplyList([]metadata.RawObject{rawTopic(t, topicObj("topic2", metadata.TopicInit))})
	if len(changes) != 1 || changes[0].Action != ActionDelete || changes[0].Key() != "topic1" {
		t.Fatalf("expected delete of topic1, got %+v", changes)
	}
	if engine.Store().ContainsKey("topic1") {
		t.Fatalf("topic1 still stored")
	}
}

func TestListSkipsUnreadableItems(t *testing.T) {
	engine := newTopicEngine()
	items := []metadata.RawObject{
		{Key: "broken", Spec: json.RawMessage(`{"computed":"x"}`)},
		{Key: "bad/key", Spec: json.RawMessage(`{}`)},
		rawTopic(t, topicObj("good", metadata.TopicInit)),
	}
	changes, stats := engine.applyList(items)
	if len(changes) != 1 || changes[0].Key() != "good" {
		t.Fatalf("expected only good to be added, got %+v", changes)
	}
	if stats.Errors != 2 {
		t.Fatalf("expected two conversion errors, got %+v", stats)
	}
}

func TestConvertReturnsConversionError(t *testing.T) {
	engine := newTopicEngine()
	_, err := engine.convert(metadata.RawObject{Key: "x"})
	var convErr *ConversionError
	if !errors.As(err, &convErr) || convErr.Kind != metadata.KindTopic || convErr.Key != "x" {
		t.Fatalf("expected ConversionError, got %v", err)
	}
}

func TestWatchEvents(t *testing.T) {
	engine := newTopicEngine()
	added := topicObj("topic1", metadata.TopicInit)
	modified := topicObj("topic1", metadata.TopicPending)

	tests := []struct {
		name    string
		events  []metadata.WatchEvent
		actions []Action
		stored  bool
	}{
		{
			name:    "add on empty store",
			events:  []metadata.WatchEvent{{Type: metadata.EventAdded, Object: rawTopic(t, added)}},
			actions: []Action{ActionAdd},
			stored:  true,
		},
		{
			name:   "replayed add is ignored",
			events: []metadata.WatchEvent{{Type: metadata.EventAdded, Object: rawTopic(t, added)}},
			stored: true,
		},
		{
			name:    "modify with a new status",
			events:  []metadata.WatchEvent{{Type: metadata.EventModified, Object: rawTopic(t, modified)}},
			actions: []Action{ActionMod},
			stored:  true,
		},
		{
			name:   "modify with the stored value is ignored",
			events: []metadata.WatchEvent{{Type: metadata.EventModified, Object: rawTopic(t, modified)}},
			stored: true,
		},
		{
			name:    "add on existing key with a different value",
			events:  []metadata.WatchEvent{{Type: metadata.EventAdded, Object: rawTopic(t, added)}},
			actions: []Action{ActionMod},
			stored:  true,
		},
		{
			name:    "delete",
			events:  []metadata.WatchEvent{{Type: metadata.EventDeleted, Object: metadata.RawObject{Key: "topic1"}}},
			actions: []Action{ActionDelete},
		},
		{
			name:   "delete of absent key is skipped",
			events: []metadata.WatchEvent{{Type: metadata.EventDeleted, Object: metadata.RawObject{Key: "topic1"}}},
		},
		{
			name:    "modify of absent key becomes add",
			events:  []metadata.WatchEvent{{Type: metadata.EventModified, Object: rawTopic(t, modified)}},
			actions: []Action{ActionAdd},
			stored:  true,
		},
	}
	// The cases share one store and run in order.
	for _, tc := range tests {
		changes := engine.ApplyWatch(tc.events)
		if len(changes) != len(tc.actions) {
			t.Fatalf("%s: got %d changes want %d (%+v)", tc.name, len(changes), len(tc.actions), changes)
		}
		for i, want := range tc.actions {
			if changes[i].Action != want {
				t.Fatalf("%s: change %d is %s want %s", tc.name, i, changes[i].Action, want)
			}
		}
		if got := engine.Store().ContainsKey("topic1"); got != tc.stored {
			t.Fatalf("%s: stored=%v want %v", tc.name, got, tc.stored)
		}
	}
}

func TestWatchKeepsArrivalOrder(t *testing.T) {
	engine := newTopicEngine()
	events := []metadata.WatchEvent{
		{Type: metadata.EventAdded, Object: rawTopic(t, topicObj("a", metadata.TopicInit))},
		{Type: metadata.EventModified, Object: rawTopic(t, topicObj("a", metadata.TopicPending))},
		{Type: metadata.EventDeleted, Object: metadata.RawObject{Key: "a"}},
		{Type: metadata.EventAdded, Object: rawTopic(t, topicObj("a", metadata.TopicProvisioned))},
	}
	changes := engine.ApplyWatch(events)
	want := []Action{ActionAdd, ActionMod, ActionDelete, ActionAdd}
	if len(changes) != len(want) {
		t.Fatalf("got %d changes", len(changes))
	}
	for i := range want {
		if changes[i].Action != want[i] {
			t.Fatalf("change %d: got %s want %s", i, changes[i].Action, want[i])
		}
	}
	stored, _ := engine.Store().Value("a")
	if stored.Status.Resolution != metadata.TopicProvisioned {
		t.Fatalf("final value: %+v", stored.Status)
	}
}

func TestWatchPartitionKeys(t *testing.T) {
	engine := NewEngine(metadata.NewPartitionStore(), nil)
	obj := metadata.NewObject(metadata.NewReplicaKey("orders-eu", 2), metadata.NewPartitionSpec([]int32{1, 2}), metadata.NewPartitionStatus())
	raw, err := metadata.Encode(metadata.PartitionDescriptor, obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	changes := engine.ApplyWatch([]metadata.WatchEvent{
		{Type: metadata.EventAdded, Object: raw},
		{Type: metadata.EventDeleted, Object: metadata.RawObject{Key: "no-index-"}},
	})
	if len(changes) != 1 || changes[0].Key() != metadata.NewReplicaKey("orders-eu", 2) {
		t.Fatalf("unexpected changes %+v", changes)
	}
}
