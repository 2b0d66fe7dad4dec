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
	"fmt"
	"strconv"
	"strings"
)

// ReplicaKey identifies a partition of a topic.
type ReplicaKey struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
}

// NewReplicaKey builds a key.
func NewReplicaKey(topic string, partition int32) ReplicaKey {
	return ReplicaKey{Topic: topic, Partition: partition}
}

func (k ReplicaKey) String() string {
	return fmt.Sprintf("%s-%d", k.Topic, k.Partition)
}

// ParseReplicaKey parses "{topic}-{partition}". Topic names may contain dashes, the
// partition index is everything after the last one.
func ParseReplicaKey(raw string) (ReplicaKey, error) {
	idx := strings.LastIndexByte(raw, '-')
	if idx <= 0 || idx == len(raw)-1 {
		return ReplicaKey{}, fmt.Errorf("invalid replica key %q", raw)
	}
	partition, err := strconv.ParseInt(raw[idx+1:], 10, 32)
	if err != nil || partition < 0 {
		return ReplicaKey{}, fmt.Errorf("invalid replica key %q: bad partition", raw)
	}
	return ReplicaKey{Topic: raw[:idx], Partition: int32(partition)}, nil
}

func compareReplicaKeys(a, b ReplicaKey) int {
	if c := strings.Compare(a.Topic, b.Topic); c != 0 {
		return c
	}
	switch {
	case a.Partition < b.Partition:
		return -1
	case a.Partition > b.Partition:
		return 1
	default:
		return 0
	}
}

// PartitionSpec is the replica assignment of a partition.
type PartitionSpec struct {
	Leader   int32   `json:"leader"`
	Replicas []int32 `json:"replicas"`
}

// NewPartitionSpec builds a spec from an ordered replica list; the first replica leads.
func NewPartitionSpec(replicas []int32) PartitionSpec {
	spec := PartitionSpec{Leader: -1, Replicas: append([]int32(nil), replicas...)}
	if len(replicas) > 0 {
		spec.Leader = replicas[0]
	}
	return spec
}

// HasSpu reports whether the SPU holds a replica of the partition.
func (s PartitionSpec) HasSpu(id int32) bool {
	for _, replica := range s.Replicas {
		if replica == id {
			return true
		}
	}
	return false
}

// Followers returns the replicas other than the leader.
func (s PartitionSpec) Followers() []int32 {
	out := make([]int32, 0, len(s.Replicas))
	for _, replica := range s.Replicas {
		if replica != s.Leader {
			out = append(out, replica)
		}
	}
	return out
}

func (s PartitionSpec) Clone() PartitionSpec {
	out := s
	out.Replicas = append([]int32(nil), s.Replicas...)
	return out
}

// PartitionResolution is the health of a partition as reported by the data plane.
type PartitionResolution string

const (
	PartitionOffline             PartitionResolution = "Offline"
	PartitionOnline              PartitionResolution = "Online"
	PartitionLeaderOffline       PartitionResolution = "LeaderOffline"
	PartitionElectionLeaderFound PartitionResolution = "ElectionLeaderFound"
)

// ReplicaStatus is the progress of one replica.
type ReplicaStatus struct {
	Spu int32 `json:"spu"`
	HW  int64 `json:"hw"`
	LEO int64 `json:"leo"`
}

// PartitionStatus is the observed state of a partition.
type PartitionStatus struct {
	Resolution PartitionResolution `json:"resolution"`
	Leader     ReplicaStatus       `json:"leader"`
	Replicas   []ReplicaStatus     `json:"replicas,omitempty"`
	LSR        uint32              `json:"lsr,omitempty"`
}

// NewPartitionStatus returns the initial status.
func NewPartitionStatus() PartitionStatus {
	return PartitionStatus{Resolution: PartitionOffline, Leader: ReplicaStatus{Spu: -1, HW: -1, LEO: -1}}
}

func (s PartitionStatus) Clone() PartitionStatus {
	out := s
	if s.Replicas != nil {
		out.Replicas = append([]ReplicaStatus(nil), s.Replicas...)
	}
	return out
}

// PartitionObject is a partition as held in the store.
type PartitionObject = Object[ReplicaKey, PartitionSpec, PartitionStatus]

// PartitionStore holds partitions keyed by ReplicaKey.
type PartitionStore = Store[ReplicaKey, PartitionSpec, PartitionStatus]

// NewPartitionStore builds an empty partition store.
func NewPartitionStore() *PartitionStore {
	return NewStore(PartitionDescriptor)
}

// PartitionsForSpu returns the partitions the SPU holds a replica of, in key order.
func PartitionsForSpu(store *PartitionStore, id int32) []PartitionObject {
	return store.Filter(func(o PartitionObject) bool { return o.Spec.HasSpu(id) })
}

// PartitionsOfTopic returns the partitions whose key names topic, in index order.
func PartitionsOfTopic(store *PartitionStore, topic string) []PartitionObject {
	return store.Filter(func(o PartitionObject) bool { return o.Key.Topic == topic })
}
